package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpimash/core-go/internal/clock"
	"rpimash/core-go/internal/config"
	"rpimash/core-go/internal/inventory"
	"rpimash/core-go/internal/recovery"
	"rpimash/core-go/internal/schedule"
)

type fakeScheduler struct {
	tickFn  func(n int) (schedule.Action, error)
	ticks   int
	resets  int
	notices int
	applied []config.Settings
	state   schedule.State
	last    schedule.LastAction
}

func (f *fakeScheduler) Tick(ctx context.Context) (schedule.Action, error) {
	f.ticks++
	if f.tickFn != nil {
		return f.tickFn(f.ticks)
	}
	return schedule.Action{}, nil
}
func (f *fakeScheduler) State() schedule.State     { return f.state }
func (f *fakeScheduler) Last() schedule.LastAction { return f.last }
func (f *fakeScheduler) ResetReport()              { f.resets++ }
func (f *fakeScheduler) SendCredentialNotice(context.Context) bool {
	f.notices++
	return true
}
func (f *fakeScheduler) ApplySettings(ctx context.Context, cfg config.Settings) error {
	f.applied = append(f.applied, cfg)
	return nil
}

type fakeFaults struct {
	handled   []recovery.Fault
	recipient string
}

func (f *fakeFaults) Handle(ctx context.Context, fault recovery.Fault) (recovery.Outcome, error) {
	f.handled = append(f.handled, fault)
	return recovery.Outcome{}, nil
}
func (f *fakeFaults) SetRecipient(to string) { f.recipient = to }

type fakeInventory struct {
	refreshes int
	devices   []inventory.DeviceRecord
}

func (f *fakeInventory) Refresh(ctx context.Context) error {
	f.refreshes++
	return nil
}
func (f *fakeInventory) Devices() []inventory.DeviceRecord { return f.devices }

type onlineFunc func(ctx context.Context) bool

func (f onlineFunc) Online(ctx context.Context) bool { return f(ctx) }

var alwaysOnline = onlineFunc(func(context.Context) bool { return true })

type harness struct {
	w      *Worker
	clock  *clock.FakeClock
	sched  *fakeScheduler
	faults *fakeFaults
	inv    *fakeInventory
}

// runFor runs the worker until it has slept n times.
func runFor(t *testing.T, online OnlineChecker, n int, mutate func(*harness, *Options)) *harness {
	t.Helper()
	h := &harness{
		clock:  clock.Fake(time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)),
		sched:  &fakeScheduler{},
		faults: &fakeFaults{},
		inv:    &fakeInventory{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.OnSleep = func(time.Time) {
		if len(h.clock.Sleeps()) >= n {
			cancel()
		}
	}
	opts := Options{
		TickInterval:  time.Minute,
		FaultCooldown: 2 * time.Minute,
		OnlinePoll:    time.Minute,
		Clock:         h.clock,
	}
	if mutate != nil {
		mutate(h, &opts)
	}
	h.w = New(zerolog.Nop(), h.sched, h.faults, h.inv, online, opts)
	require.NoError(t, h.w.Run(ctx))
	return h
}

func TestRun_TicksOnInterval(t *testing.T) {
	h := runFor(t, alwaysOnline, 3, nil)
	assert.Equal(t, 3, h.sched.ticks)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, h.clock.Sleeps())
	assert.Zero(t, h.sched.resets)
	assert.Zero(t, h.sched.notices)
	assert.True(t, h.w.Ready())
}

func TestRun_WaitsForNetworkAtStart(t *testing.T) {
	checks := 0
	online := onlineFunc(func(context.Context) bool {
		checks++
		return checks > 2
	})
	h := runFor(t, online, 3, nil)
	assert.Equal(t, 1, h.sched.ticks)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, h.clock.Sleeps())
}

func TestRun_NeverOnlineNeverTicks(t *testing.T) {
	h := runFor(t, onlineFunc(func(context.Context) bool { return false }), 2, nil)
	assert.Zero(t, h.sched.ticks)
	assert.False(t, h.w.Ready())
	require.NotNil(t, h.w.Snapshot())
	assert.False(t, h.w.Snapshot().Online)
}

func TestRun_SkipsTickWhileOffline(t *testing.T) {
	checks := 0
	online := onlineFunc(func(context.Context) bool {
		checks++
		// Up for the start-up check and first tick, then down.
		return checks <= 2
	})
	h := runFor(t, online, 3, nil)
	assert.Equal(t, 1, h.sched.ticks)
	assert.False(t, h.w.Snapshot().Online)
}

func TestRun_BootResetsReportAndSendsNoticeOnce(t *testing.T) {
	h := runFor(t, alwaysOnline, 3, func(h *harness, o *Options) { o.Boot = true })
	assert.Equal(t, 1, h.sched.resets)
	assert.Equal(t, 1, h.sched.notices)
	assert.Equal(t, 3, h.sched.ticks)
}

func TestRun_BootNoticeWaitsForSuccessfulTick(t *testing.T) {
	h := runFor(t, alwaysOnline, 3, func(h *harness, o *Options) {
		o.Boot = true
		h.sched.tickFn = func(n int) (schedule.Action, error) {
			if n == 1 {
				return schedule.Action{}, errors.New("first report: refresh devices: no such file")
			}
			return schedule.Action{}, nil
		}
	})
	assert.Equal(t, 1, h.sched.notices)
	assert.Len(t, h.faults.handled, 1)
}

func TestRun_FaultIsReportedThenCoolsDown(t *testing.T) {
	h := runFor(t, alwaysOnline, 2, func(h *harness, o *Options) {
		h.sched.tickFn = func(n int) (schedule.Action, error) {
			if n == 1 {
				return schedule.Action{Kind: schedule.ActionChange}, errors.New("change: persist state: disk full")
			}
			return schedule.Action{}, nil
		}
	})
	require.Len(t, h.faults.handled, 1)
	assert.Equal(t, "tick", h.faults.handled[0].Origin)
	assert.Contains(t, h.faults.handled[0].Description, "disk full")
	assert.Equal(t, 1, h.inv.refreshes)
	assert.Equal(t, []time.Duration{2 * time.Minute, time.Minute}, h.clock.Sleeps())
	assert.Equal(t, 1, h.w.Snapshot().Faults)
}

func TestRun_PanicDoesNotStopLoop(t *testing.T) {
	h := runFor(t, alwaysOnline, 3, func(h *harness, o *Options) {
		h.sched.tickFn = func(n int) (schedule.Action, error) {
			if n == 1 {
				panic("index out of range")
			}
			return schedule.Action{}, nil
		}
	})
	assert.Equal(t, 3, h.sched.ticks)
	require.Len(t, h.faults.handled, 1)
	assert.True(t, h.faults.handled[0].Panic)
}

func TestRun_AppliesReload(t *testing.T) {
	reload := make(chan struct{}, 1)
	reload <- struct{}{}
	cfg := config.Defaults()
	cfg.MailToPassword = "staff@example.com"
	cfg.MailToError = "errors@example.com"
	cfg.TickInterval = 30 * time.Second

	h := runFor(t, alwaysOnline, 2, func(h *harness, o *Options) {
		o.Reload = reload
		o.LoadConfig = func() (config.Settings, error) { return cfg, nil }
	})
	require.Len(t, h.sched.applied, 1)
	assert.Equal(t, "errors@example.com", h.faults.recipient)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, h.clock.Sleeps())
}

func TestRun_RejectedReloadKeepsSettings(t *testing.T) {
	reload := make(chan struct{}, 1)
	reload <- struct{}{}
	h := runFor(t, alwaysOnline, 1, func(h *harness, o *Options) {
		o.Reload = reload
		o.LoadConfig = func() (config.Settings, error) { return config.Settings{}, errors.New("rksport: out of range") }
	})
	assert.Empty(t, h.sched.applied)
	assert.Equal(t, []time.Duration{time.Minute}, h.clock.Sleeps())
}

func TestSnapshot_OmitsCredentials(t *testing.T) {
	h := runFor(t, alwaysOnline, 1, func(h *harness, o *Options) {
		h.sched.state = schedule.State{
			ReportEpoch:         1_772_701_200,
			PasswordChangeEpoch: 1_773_219_600,
			CurrentCredential:   "Zq7Lp2Rk9W",
			NextCredential:      "b8Tn4Xc1Vd",
			HasWarned:           true,
		}
		h.sched.last = schedule.LastAction{Kind: schedule.ActionPrewarn, At: time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)}
		h.inv.devices = []inventory.DeviceRecord{{Address: "192.168.0.20", DisplayName: "Ruckus", Reachable: true}}
	})

	s := h.w.Snapshot()
	require.NotNil(t, s)
	assert.True(t, s.CredentialSet)
	assert.True(t, s.HasWarned)
	assert.Equal(t, "prewarn", s.LastAction)
	assert.Nil(t, s.NextPrewarn)
	require.NotNil(t, s.NextChange)
	assert.Equal(t, int64(1_773_219_600), s.NextChange.Unix())

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "Zq7Lp2Rk9W")
	assert.NotContains(t, string(b), "b8Tn4Xc1Vd")
}

// Package worker runs the scheduler on a fixed tick and keeps the loop
// alive through faults.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"rpimash/core-go/internal/clock"
	"rpimash/core-go/internal/config"
	"rpimash/core-go/internal/inventory"
	"rpimash/core-go/internal/recovery"
	"rpimash/core-go/internal/schedule"
)

// Scheduler is the part of *schedule.Scheduler the loop drives.
type Scheduler interface {
	Tick(ctx context.Context) (schedule.Action, error)
	State() schedule.State
	Last() schedule.LastAction
	ResetReport()
	SendCredentialNotice(ctx context.Context) bool
	ApplySettings(ctx context.Context, cfg config.Settings) error
}

type FaultHandler interface {
	Handle(ctx context.Context, f recovery.Fault) (recovery.Outcome, error)
	SetRecipient(to string)
}

type Inventory interface {
	Refresh(ctx context.Context) error
	Devices() []inventory.DeviceRecord
}

type OnlineChecker interface {
	Online(ctx context.Context) bool
}

type Options struct {
	TickInterval  time.Duration
	FaultCooldown time.Duration
	// OnlinePoll is the wait between checks while the network is down at
	// start-up.
	OnlinePoll time.Duration
	Boot       bool

	// Reload signals that the configuration file changed; LoadConfig
	// re-reads it.
	Reload     <-chan struct{}
	LoadConfig func() (config.Settings, error)

	Clock clock.Clock
}

type Worker struct {
	log       zerolog.Logger
	sched     Scheduler
	faults    FaultHandler
	inventory Inventory
	online    OnlineChecker

	tickInterval  time.Duration
	faultCooldown time.Duration
	onlinePoll    time.Duration
	boot          bool
	reload        <-chan struct{}
	loadConfig    func() (config.Settings, error)
	clock         clock.Clock

	faultCount int
	ready      atomic.Bool
	snapshot   atomic.Pointer[Snapshot]
}

func New(log zerolog.Logger, sched Scheduler, faults FaultHandler, inv Inventory, online OnlineChecker, opts Options) *Worker {
	ti := opts.TickInterval
	if ti <= 0 {
		ti = time.Minute
	}
	fc := opts.FaultCooldown
	if fc <= 0 {
		fc = 2 * time.Minute
	}
	op := opts.OnlinePoll
	if op <= 0 {
		op = time.Minute
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Worker{
		log:           log,
		sched:         sched,
		faults:        faults,
		inventory:     inv,
		online:        online,
		tickInterval:  ti,
		faultCooldown: fc,
		onlinePoll:    op,
		boot:          opts.Boot,
		reload:        opts.Reload,
		loadConfig:    opts.LoadConfig,
		clock:         c,
	}
}

// Ready reports whether the loop has passed its start-up online wait.
func (w *Worker) Ready() bool { return w.ready.Load() }

// Run blocks until ctx is done. Faults inside a tick are reported and the
// loop carries on after the cooldown.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.waitOnline(ctx); err != nil {
		return nil
	}
	w.ready.Store(true)

	if w.boot {
		w.log.Info().Msg("boot run, status report forced")
		w.sched.ResetReport()
	}
	noticePending := w.boot

	for {
		w.applyReload(ctx)

		delay := w.tickInterval
		online := w.online.Online(ctx)
		if online {
			if f := recovery.Run(w.clock.Now, "tick", func() error {
				_, err := w.sched.Tick(ctx)
				return err
			}); f != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.handleFault(ctx, *f)
				delay = w.faultCooldown
			} else if noticePending {
				noticePending = false
				w.sched.SendCredentialNotice(ctx)
			}
		} else {
			w.log.Warn().Msg("network offline, tick skipped")
		}

		w.publish(online)

		if err := w.clock.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (w *Worker) waitOnline(ctx context.Context) error {
	for !w.online.Online(ctx) {
		w.log.Warn().Dur("retry_in", w.onlinePoll).Msg("waiting for network")
		w.publish(false)
		if err := w.clock.Sleep(ctx, w.onlinePoll); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) handleFault(ctx context.Context, f recovery.Fault) {
	w.faultCount++
	if _, err := w.faults.Handle(ctx, f); err != nil {
		w.log.Error().Err(err).Msg("fault report lost")
	}
	// Stale device data is a common cause; refresh before resuming.
	if err := w.inventory.Refresh(ctx); err != nil {
		w.log.Warn().Err(err).Msg("device refresh after fault failed")
	}
	w.log.Info().Dur("cooldown", w.faultCooldown).Msg("resuming after cooldown")
}

func (w *Worker) applyReload(ctx context.Context) {
	if w.reload == nil || w.loadConfig == nil {
		return
	}
	select {
	case <-w.reload:
	default:
		return
	}

	cfg, err := w.loadConfig()
	if err != nil {
		w.log.Warn().Err(err).Msg("configuration reload rejected, keeping previous settings")
		return
	}
	if err := w.sched.ApplySettings(ctx, cfg); err != nil {
		w.log.Warn().Err(err).Msg("reloaded settings not persisted")
	}
	w.faults.SetRecipient(cfg.ErrorRecipient())
	w.tickInterval = cfg.TickInterval
	w.faultCooldown = cfg.FaultCooldown
	w.log.Info().Msg("configuration reloaded")
}

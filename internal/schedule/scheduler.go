package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rpimash/core-go/internal/clock"
	"rpimash/core-go/internal/config"
	"rpimash/core-go/internal/inventory"
	"rpimash/core-go/internal/metrics"
	"rpimash/core-go/internal/notify"
	"rpimash/core-go/internal/retry"
)

// CredentialSetter installs a credential on the managed wireless unit.
type CredentialSetter interface {
	SetCredential(ctx context.Context, credential string) error
}

type StateSaver interface {
	Save(ctx context.Context, s State) error
}

type Inventory interface {
	Refresh(ctx context.Context) error
	Devices() []inventory.DeviceRecord
}

type BootMarker interface {
	WriteBootMarker(t time.Time) error
}

// ActionRecord describes one executed action for the history log.
type ActionRecord struct {
	ID        uuid.UUID
	Action    string
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}

type History interface {
	RecordAction(ctx context.Context, rec ActionRecord) error
}

type Options struct {
	Setter    CredentialSetter
	Notifier  notify.Notifier
	Store     StateSaver
	Inventory Inventory

	// Optional.
	History    History
	BootMarker BootMarker
	Metrics    *metrics.Metrics
	Clock      clock.Clock
	Retry      retry.Policy
	Generate   func() (string, error)

	// Boot marks this run as a fresh boot; LastBoot is the previous boot
	// marker content.
	Boot     bool
	LastBoot string
}

// Scheduler is the single writer of State.
type Scheduler struct {
	log   zerolog.Logger
	cfg   config.Settings
	state State

	setter    CredentialSetter
	notifier  notify.Notifier
	store     StateSaver
	inventory Inventory
	history   History
	marker    BootMarker
	metrics   *metrics.Metrics
	clock     clock.Clock
	policy    retry.Policy
	generate  func() (string, error)

	boot     bool
	lastBoot string
	last     LastAction
}

// LastAction is the outcome of the most recent non-empty tick.
type LastAction struct {
	Kind  ActionKind
	At    time.Time
	Error string
}

func New(log zerolog.Logger, cfg config.Settings, state State, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Retry.Clock == nil {
		opts.Retry.Clock = opts.Clock
	}
	if opts.Retry.Interval <= 0 {
		opts.Retry.Interval = cfg.RetryInterval
	}
	if opts.Generate == nil {
		opts.Generate = GenerateCredential
	}
	return &Scheduler{
		log:       log,
		cfg:       cfg,
		state:     state,
		setter:    opts.Setter,
		notifier:  opts.Notifier,
		store:     opts.Store,
		inventory: opts.Inventory,
		history:   opts.History,
		marker:    opts.BootMarker,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		policy:    opts.Retry,
		generate:  opts.Generate,
		boot:      opts.Boot,
		lastBoot:  opts.LastBoot,
	}
}

func (s *Scheduler) State() State { return s.state }

func (s *Scheduler) Last() LastAction { return s.last }

func (s *Scheduler) Settings() config.Settings { return s.cfg }

// ResetReport forces a status report on the next tick.
func (s *Scheduler) ResetReport() {
	s.state.ReportEpoch = 0
}

// ApplySettings swaps in a reloaded configuration. Changed frequencies are
// written to the stored state; epochs already scheduled are kept.
func (s *Scheduler) ApplySettings(ctx context.Context, cfg config.Settings) error {
	s.cfg = cfg
	s.policy.Interval = cfg.RetryInterval
	next := s.state
	if !next.ApplyFrequencies(cfg) {
		return nil
	}
	s.log.Info().
		Int("report_frequency", cfg.ReportFrequency).
		Int("change_frequency", cfg.ChangeFrequency).
		Int("prewarn_frequency", cfg.PrewarnFrequency).
		Str("multiplier", cfg.Multiplier.String()).
		Msg("frequencies updated")
	return s.commit(ctx, next)
}

// Tick runs the highest priority due action, if any. A tick with nothing
// due neither mutates nor persists the state.
func (s *Scheduler) Tick(ctx context.Context) (Action, error) {
	now := s.clock.Now()
	a := NextAction(s.state, now.Unix())
	s.metrics.IncTick()
	if a.Kind == ActionNone {
		return a, nil
	}

	runID := uuid.New()
	log := s.log.With().Str("action", a.Kind.String()).Str("run_id", runID.String()).Logger()
	log.Info().Msg("action due")

	var err error
	switch a.Kind {
	case ActionFirstReport, ActionReport:
		err = s.report(ctx, log, now)
	case ActionFirstCredential, ActionChange:
		err = s.change(ctx, log, a)
	case ActionPrewarn:
		err = s.prewarn(ctx, log)
	}

	dur := s.clock.Now().Sub(now)
	s.metrics.ObserveAction(a.Kind.String(), dur)
	s.last = LastAction{Kind: a.Kind, At: now}
	if err != nil {
		s.last.Error = err.Error()
		log.Error().Err(err).Dur("duration", dur).Msg("action failed")
	} else {
		log.Info().Dur("duration", dur).Msg("action complete")
	}
	s.record(ctx, log, ActionRecord{ID: runID, Action: a.Kind.String(), StartedAt: now, Duration: dur, Error: s.last.Error})

	if err != nil {
		return a, fmt.Errorf("%s: %w", a.Kind, err)
	}
	return a, nil
}

func (s *Scheduler) report(ctx context.Context, log zerolog.Logger, now time.Time) error {
	if err := s.inventory.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh devices: %w", err)
	}
	msg := notify.StatusReportMessage(s.cfg.MailToStatus, notify.StatusReport{
		DeviceName:        s.cfg.DeviceName,
		Now:               now,
		LastBoot:          s.lastBoot,
		Boot:              s.boot,
		Devices:           s.inventory.Devices(),
		CurrentCredential: s.state.CurrentCredential,
	})
	if !s.notifier.Send(ctx, msg) {
		log.Warn().Str("to", msg.To).Msg("status report not delivered")
	}

	next := s.state
	next.ReportEpoch = CalculateReportEpoch(now.Unix(), next.ReportFrequency, next.Multiplier)

	if s.boot {
		s.boot = false
		if s.marker != nil {
			if err := s.marker.WriteBootMarker(now); err != nil {
				log.Warn().Err(err).Msg("boot marker not written")
			}
		}
		s.lastBoot = notify.Timestamp(now)
	}
	return s.commit(ctx, next)
}

// change installs the staged credential (or a fresh one when none is
// staged), confirms it by message and only then advances the epochs.
// Session and delivery failures are retried on the configured interval.
func (s *Scheduler) change(ctx context.Context, log zerolog.Logger, a Action) error {
	cred := s.state.NextCredential
	if a.Kind == ActionFirstCredential || cred == "" {
		var err error
		if cred, err = s.generate(); err != nil {
			return fmt.Errorf("generate credential: %w", err)
		}
	}
	log.Debug().Str("credential", cred).Msg("applying credential")

	if err := s.retry(ctx, log, "session", func(ctx context.Context) error {
		return s.setter.SetCredential(ctx, cred)
	}); err != nil {
		return err
	}

	changedAt := s.clock.Now()
	next := s.state
	next.PasswordChangeEpoch = CalculateChangeEpoch(changedAt.Unix(), next.ChangeFrequency, next.Multiplier)
	next.PasswordPrewarnEpoch = CalculatePrewarnEpoch(next.PasswordChangeEpoch, next.PrewarnFrequency, next.Multiplier)

	msg := notify.ChangeConfirmationMessage(s.cfg.MailToPassword, cred, changedAt, time.Unix(next.PasswordChangeEpoch, 0))
	if err := s.retry(ctx, log, "notify", func(ctx context.Context) error {
		return notify.Deliver(ctx, s.notifier, msg)
	}); err != nil {
		return err
	}

	next.CurrentCredential = cred
	next.NextCredential = ""
	next.HasWarned = false
	return s.commit(ctx, next)
}

func (s *Scheduler) prewarn(ctx context.Context, log zerolog.Logger) error {
	cred, err := s.generate()
	if err != nil {
		return fmt.Errorf("generate credential: %w", err)
	}
	log.Debug().Str("credential", cred).Msg("staged next credential")

	msg := notify.PreWarningMessage(s.cfg.MailToPassword, cred, time.Unix(s.state.PasswordChangeEpoch, 0))
	if err := s.retry(ctx, log, "notify", func(ctx context.Context) error {
		return notify.Deliver(ctx, s.notifier, msg)
	}); err != nil {
		return err
	}

	next := s.state
	next.NextCredential = cred
	next.HasWarned = true
	return s.commit(ctx, next)
}

// SendCredentialNotice tells the credential recipients the current
// credential after a boot, when one is set and its change is not yet due.
// Delivery is attempted once.
func (s *Scheduler) SendCredentialNotice(ctx context.Context) bool {
	now := s.clock.Now()
	st := s.state
	if st.CurrentCredential == "" || st.PasswordChangeEpoch == 0 || now.Unix() >= st.PasswordChangeEpoch {
		return false
	}
	msg := notify.CredentialNoticeMessage(s.cfg.MailToPassword, st.CurrentCredential, now, time.Unix(st.PasswordChangeEpoch, 0))
	ok := s.notifier.Send(ctx, msg)
	if !ok {
		s.log.Warn().Msg("credential notice not delivered")
	}
	return ok
}

func (s *Scheduler) retry(ctx context.Context, log zerolog.Logger, operation string, op func(ctx context.Context) error) error {
	p := s.policy
	p.OnRetry = func(attempt int, err error) {
		s.metrics.IncRetry(operation)
		log.Warn().Err(err).Str("operation", operation).Int("attempt", attempt).Dur("retry_in", p.Interval).Msg("retrying")
	}
	return p.Do(ctx, op)
}

// commit makes next the current state and persists it. The in-memory
// state advances even when the write fails so a completed action is not
// repeated.
func (s *Scheduler) commit(ctx context.Context, next State) error {
	s.state = next
	if err := s.store.Save(ctx, next); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

func (s *Scheduler) record(ctx context.Context, log zerolog.Logger, rec ActionRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordAction(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("history not recorded")
	}
}

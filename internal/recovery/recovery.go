// Package recovery turns failures inside the control loop into diagnostic
// reports. Reports are mailed when the network is up and written under
// the error directory otherwise.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rpimash/core-go/internal/clock"
	"rpimash/core-go/internal/metrics"
	"rpimash/core-go/internal/notify"
)

const (
	DefaultDir = "Errors"

	fileLayout = "2006-01-02_15-04-05"
)

// Fault is one captured failure.
type Fault struct {
	ID          uuid.UUID
	At          time.Time
	Origin      string
	Description string
	Cause       string
	Stack       string
	Panic       bool
}

func NewFault(at time.Time, origin string, err error) Fault {
	f := Fault{ID: uuid.New(), At: at, Origin: origin, Description: err.Error()}
	if inner := errors.Unwrap(err); inner != nil {
		f.Cause = innermost(inner).Error()
	}
	return f
}

func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// Run calls fn and converts a returned error or a panic into a Fault.
// It returns nil when fn succeeds.
func Run(now func() time.Time, origin string, fn func() error) (f *Fault) {
	defer func() {
		if v := recover(); v != nil {
			f = &Fault{
				ID:          uuid.New(),
				At:          now(),
				Origin:      origin,
				Description: fmt.Sprintf("panic: %v", v),
				Stack:       string(debug.Stack()),
				Panic:       true,
			}
		}
	}()
	if err := fn(); err != nil {
		fault := NewFault(now(), origin, err)
		return &fault
	}
	return nil
}

// Report renders the diagnostic text sent or stored for f.
func (f Fault) Report(deviceName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "An exception occurred at %s\n\n", notify.Timestamp(f.At))
	if deviceName != "" {
		fmt.Fprintf(&b, "Unit:\n%s\n\n", deviceName)
	}
	fmt.Fprintf(&b, "%s\n\n", f.Description)
	fmt.Fprintf(&b, "Origin:\n%s\n\n", f.Origin)
	if f.Cause != "" {
		fmt.Fprintf(&b, "Cause:\n%s\n\n", f.Cause)
	}
	if f.Stack != "" {
		fmt.Fprintf(&b, "Stack:\n%s\n\n", f.Stack)
	}
	fmt.Fprintf(&b, "Reference: %s\n", f.ID)
	return b.String()
}

type OnlineChecker interface {
	Online(ctx context.Context) bool
}

type Options struct {
	Notifier   notify.Notifier
	Online     OnlineChecker
	Recipient  string
	DeviceName string
	// Dir receives report files. Defaults to DefaultDir.
	Dir string
	// Limiter caps how many reports are mailed. Reports over the limit
	// are written to Dir. Defaults to one per minute with a burst of 5.
	Limiter *rate.Limiter
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

type Handler struct {
	log        zerolog.Logger
	notifier   notify.Notifier
	online     OnlineChecker
	recipient  string
	deviceName string
	dir        string
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	clock      clock.Clock
}

func NewHandler(log zerolog.Logger, opts Options) *Handler {
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Every(time.Minute), 5)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Handler{
		log:        log,
		notifier:   opts.Notifier,
		online:     opts.Online,
		recipient:  opts.Recipient,
		deviceName: opts.DeviceName,
		dir:        opts.Dir,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
	}
}

// SetRecipient updates the diagnostics recipient after a config reload.
func (h *Handler) SetRecipient(to string) { h.recipient = to }

// Outcome says where a report went.
type Outcome struct {
	Mailed bool
	Path   string
}

// Handle delivers the report for f. Mail is tried only when the network
// is online and the rate limit allows; every other case, including a
// failed send, writes the report to a file.
func (h *Handler) Handle(ctx context.Context, f Fault) (Outcome, error) {
	h.metrics.IncFault()
	ev := h.log.Error().Str("fault_id", f.ID.String()).Str("origin", f.Origin).Str("error", f.Description)
	if f.Panic {
		ev = ev.Bool("panic", true)
	}
	ev.Msg("fault captured")

	report := f.Report(h.deviceName)

	if h.recipient != "" && h.notifier != nil && h.isOnline(ctx) {
		if h.limiter.AllowN(h.clock.Now(), 1) {
			if h.notifier.Send(ctx, notify.ErrorDiagnosticsMessage(h.recipient, report)) {
				h.log.Debug().Str("fault_id", f.ID.String()).Msg("diagnostics mailed")
				return Outcome{Mailed: true}, nil
			}
			h.log.Warn().Str("fault_id", f.ID.String()).Msg("diagnostics mail failed, writing to disk")
		} else {
			h.log.Warn().Str("fault_id", f.ID.String()).Msg("diagnostics mail rate limited, writing to disk")
		}
	}

	path, err := h.writeFile(f, report)
	if err != nil {
		h.log.Error().Err(err).Str("fault_id", f.ID.String()).Msg("diagnostics could not be saved")
		return Outcome{}, err
	}
	h.log.Info().Str("path", path).Msg("diagnostics saved")
	return Outcome{Path: path}, nil
}

func (h *Handler) isOnline(ctx context.Context) bool {
	if h.online == nil {
		return true
	}
	return h.online.Online(ctx)
}

func (h *Handler) writeFile(f Fault, report string) (string, error) {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return "", err
	}
	name := f.At.Local().Format(fileLayout) + ".log"
	path := filepath.Join(h.dir, name)
	if _, err := os.Stat(path); err == nil {
		// Same second as an earlier fault.
		path = filepath.Join(h.dir, f.At.Local().Format(fileLayout)+"_"+f.ID.String()[:8]+".log")
	}
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"rpimash/core-go/internal/clock"
)

const (
	MinCredentialLength = 8
	MaxCredentialLength = 63

	defaultSettle          = time.Second
	defaultResponseTimeout = 30 * time.Second
)

var (
	ErrInvalidCredential = fmt.Errorf("credential must be %d-%d characters", MinCredentialLength, MaxCredentialLength)
	ErrDisconnected      = errors.New("session disconnected")
	ErrTimeout           = errors.New("device stopped responding")
	ErrAuthFailed        = errors.New("device rejected login")
	ErrNoInterfaces      = errors.New("no interfaces configured")
	ErrMenuUnavailable   = errors.New("encryption menu not reached")
)

// Conn is an authenticated, line-oriented device session.
//
// ReadLine returns the next chunk of output. An empty chunk with a nil error
// means the device is quiet and waiting for input.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

// Target identifies the device session to open.
type Target struct {
	Address  string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Address, t.Port)
}

type Dialer interface {
	Dial(ctx context.Context, target Target) (Conn, error)
}

type DialerFunc func(ctx context.Context, target Target) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, target Target) (Conn, error) { return f(ctx, target) }

type Options struct {
	// Interfaces are the wireless sub-interface ids, updated in order.
	Interfaces []int
	// Settle is the pause after one interface completes before the next starts.
	Settle time.Duration
	Clock  clock.Clock
}

// Engine drives the encryption menu of every configured interface in a
// single session. A session either updates every interface or fails.
type Engine struct {
	log        zerolog.Logger
	dialer     Dialer
	interfaces []int
	settle     time.Duration
	clock      clock.Clock
}

func NewEngine(log zerolog.Logger, dialer Dialer, opts Options) *Engine {
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Engine{
		log:        log,
		dialer:     dialer,
		interfaces: slices.Clone(opts.Interfaces),
		settle:     opts.Settle,
		clock:      opts.Clock,
	}
}

func ValidateCredential(credential string) error {
	if n := len(credential); n < MinCredentialLength || n > MaxCredentialLength {
		return ErrInvalidCredential
	}
	return nil
}

// ChangeCredential sets credential as the WPA passphrase on every interface.
// The credential is validated before any connection is made.
func (e *Engine) ChangeCredential(ctx context.Context, target Target, credential string) error {
	if err := ValidateCredential(credential); err != nil {
		return err
	}
	if len(e.interfaces) == 0 {
		return ErrNoInterfaces
	}

	conn, err := e.dialer.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.Close()

	timeout := target.Timeout
	if timeout <= 0 {
		timeout = defaultResponseTimeout
	}

	e.log.Info().Str("device", target.String()).Ints("interfaces", e.interfaces).Msg("session opened")
	if err := e.run(ctx, conn, newDialogue(e.interfaces, credential), timeout); err != nil {
		return fmt.Errorf("session %s: %w", target, err)
	}
	e.log.Info().Str("device", target.String()).Msg("credential applied to all interfaces")
	return nil
}

func (e *Engine) run(ctx context.Context, conn Conn, d *dialogue, timeout time.Duration) error {
	lastOutput := e.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := conn.ReadLine()
		if err != nil {
			if errors.Is(err, ErrDisconnected) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		if out != "" {
			lastOutput = e.clock.Now()
		} else if e.clock.Now().Sub(lastOutput) > timeout {
			return fmt.Errorf("interface %d: %w", d.current(), ErrTimeout)
		}

		r := d.feed(out)
		if r.err != nil {
			return fmt.Errorf("interface %d: %w", d.current(), r.err)
		}
		if r.send {
			if err := conn.WriteLine(r.text); err != nil {
				return fmt.Errorf("%w: %v", ErrDisconnected, err)
			}
		}
		if r.completed >= 0 {
			e.log.Debug().Int("interface", r.completed).Msg("interface updated")
		}
		if r.done {
			return nil
		}
		if r.completed >= 0 {
			if err := e.clock.Sleep(ctx, e.settle); err != nil {
				return err
			}
		}
	}
}

// Rotator applies credentials to the device found by Resolve at call time,
// so an address change between attempts is picked up.
type Rotator struct {
	Engine  *Engine
	Resolve func(ctx context.Context) (Target, error)
}

func (r *Rotator) SetCredential(ctx context.Context, credential string) error {
	if err := ValidateCredential(credential); err != nil {
		return err
	}
	target, err := r.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve device: %w", err)
	}
	return r.Engine.ChangeCredential(ctx, target, credential)
}

// Package notify delivers operator messages: status reports, credential
// pre-warnings, change confirmations and error diagnostics.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/rs/zerolog"
)

var ErrSendFailed = errors.New("notification not delivered")

type Kind string

const (
	KindStatusReport       Kind = "status_report"
	KindPreWarning         Kind = "pre_warning"
	KindChangeConfirmation Kind = "change_confirmation"
	KindCredentialNotice   Kind = "credential_notice"
	KindErrorDiagnostics   Kind = "error_diagnostics"
)

type Message struct {
	Kind    Kind
	To      string
	Subject string
	Body    string
}

// Notifier delivers one message. It never returns an error: callers get
// a delivered/not-delivered answer and apply their own retry policy.
type Notifier interface {
	Send(ctx context.Context, msg Message) bool
}

// Sender abstracts message dispatch so the notifier can be tested
// without hitting real services.
type Sender interface {
	Send(shoutrrrURL, message string) error
}

// ShoutrrrSender dispatches via the Shoutrrr library.
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// ShoutrrrNotifier routes messages through a single Shoutrrr service URL.
// For smtp:// URLs the recipient and subject are set per message; other
// services get the subject as the first line of the body.
type ShoutrrrNotifier struct {
	log     zerolog.Logger
	baseURL string
	sender  Sender
}

func NewShoutrrrNotifier(log zerolog.Logger, serviceURL string, sender Sender) *ShoutrrrNotifier {
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	return &ShoutrrrNotifier{log: log, baseURL: serviceURL, sender: sender}
}

func (n *ShoutrrrNotifier) Send(ctx context.Context, msg Message) bool {
	if ctx.Err() != nil {
		return false
	}
	target, body, err := n.route(msg)
	if err != nil {
		n.log.Error().Err(err).Str("kind", string(msg.Kind)).Msg("bad notification url")
		return false
	}

	n.log.Debug().Str("kind", string(msg.Kind)).Str("to", msg.To).Str("subject", msg.Subject).Msg("sending notification")
	if err := n.sender.Send(target, body); err != nil {
		n.log.Warn().Err(err).Str("kind", string(msg.Kind)).Str("to", msg.To).Msg("notification send failed")
		return false
	}
	return true
}

func (n *ShoutrrrNotifier) route(msg Message) (string, string, error) {
	u, err := url.Parse(n.baseURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" {
		return "", "", fmt.Errorf("notification url %q has no scheme", redact(u))
	}
	if !strings.EqualFold(u.Scheme, "smtp") {
		return n.baseURL, msg.Subject + "\n\n" + msg.Body, nil
	}

	q := u.Query()
	if msg.To != "" {
		q.Set("toaddresses", msg.To)
	}
	if msg.Subject != "" {
		q.Set("subject", msg.Subject)
	}
	u.RawQuery = q.Encode()
	return u.String(), msg.Body, nil
}

func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	c := *u
	c.User = url.User(u.User.Username())
	return c.String()
}

// Deliver adapts a Notifier to the error-returning form used by retry
// policies.
func Deliver(ctx context.Context, n Notifier, msg Message) error {
	if n.Send(ctx, msg) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s to %s", ErrSendFailed, msg.Kind, msg.To)
}

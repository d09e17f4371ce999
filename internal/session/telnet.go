package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ziutek/telnet"
)

const (
	defaultPort        = 23
	defaultIdle        = 500 * time.Millisecond
	defaultDialLimit   = 10 * time.Second
	defaultShellPrompt = "rkscli:"
	maxChunk           = 64 << 10
)

var (
	loginPrompts    = []string{"ogin:", "sername:", "ser name:"}
	passwordPrompts = []string{"assword:", "assword :"}
	loginRejections = []string{"incorrect", "failed", "denied", "Please login"}
)

// TelnetDialer opens telnet sessions and logs in with the target's
// credentials.
type TelnetDialer struct {
	// Idle is how long the device must be silent before a chunk of
	// output is returned.
	Idle time.Duration
	// ShellPrompt marks a successful login. Defaults to "rkscli:".
	ShellPrompt string
}

func (d TelnetDialer) Dial(ctx context.Context, target Target) (Conn, error) {
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = defaultDialLimit
	}
	idle := d.Idle
	if idle <= 0 {
		idle = defaultIdle
	}
	prompt := d.ShellPrompt
	if prompt == "" {
		prompt = defaultShellPrompt
	}
	port := target.Port
	if port <= 0 {
		port = defaultPort
	}

	nd := net.Dialer{Timeout: timeout}
	raw, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(target.Address, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	tc, err := telnet.NewConn(raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	c := &telnetConn{conn: tc, idle: idle, timeout: timeout}
	if target.Username != "" {
		if err := c.login(ctx, target.Username, target.Password, prompt); err != nil {
			_ = tc.Close()
			return nil, err
		}
	}
	return c, nil
}

type telnetConn struct {
	conn    *telnet.Conn
	idle    time.Duration
	timeout time.Duration
}

// ReadLine collects output until the device has been silent for the idle
// window. Nothing arriving within the window yields an empty chunk.
func (c *telnetConn) ReadLine() (string, error) {
	var out []byte
	buf := make([]byte, 4096)
	for len(out) < maxChunk {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		n, err := c.conn.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if isTimeout(err) {
				break
			}
			if len(out) > 0 {
				return normalize(out), nil
			}
			return "", fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
	}
	return normalize(out), nil
}

func (c *telnetConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *telnetConn) Close() error {
	return c.conn.Close()
}

func (c *telnetConn) login(ctx context.Context, user, pass, shellPrompt string) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.SkipUntil(loginPrompts...); err != nil {
		return c.loginError(ctx, "await login prompt", err)
	}
	if err := c.WriteLine(user); err != nil {
		return err
	}
	if err := c.conn.SkipUntil(passwordPrompts...); err != nil {
		return c.loginError(ctx, "await password prompt", err)
	}
	if err := c.WriteLine(pass); err != nil {
		return err
	}

	// The shell prompt is the only proof of success; anything before it
	// (blank lines, banners) is skipped unless it carries a rejection.
	_, idx, err := c.conn.ReadUntilIndex(append([]string{shellPrompt}, loginRejections...)...)
	if err != nil {
		return c.loginError(ctx, "await shell", err)
	}
	if idx > 0 {
		return ErrAuthFailed
	}
	return nil
}

func (c *telnetConn) loginError(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", stage, ctxErr)
	}
	if isTimeout(err) {
		return fmt.Errorf("%s: %w", stage, ErrTimeout)
	}
	return fmt.Errorf("%s: %w: %v", stage, ErrDisconnected, err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func normalize(b []byte) string {
	s := strings.ReplaceAll(string(b), "\x00", "")
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// Package netprobe answers "is this address reachable" and "is the
// network up" questions.
package netprobe

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// Prober reports whether an address currently answers.
type Prober interface {
	Reachable(ctx context.Context, address string) bool
}

// Pinger sends a single ICMP echo through the system ping binary. When
// ping is not installed it falls back to TCP connects on a few common
// management ports; a refused connection still proves the host is up.
type Pinger struct {
	pingPath string
	timeout  time.Duration
	ports    []int
}

type PingerOptions struct {
	Timeout time.Duration
	// FallbackPorts are tried when ping is unavailable.
	FallbackPorts []int
	// DisableICMP skips the ping binary entirely.
	DisableICMP bool
}

func NewPinger(opts PingerOptions) *Pinger {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ports := opts.FallbackPorts
	if len(ports) == 0 {
		ports = []int{23, 80, 443}
	}
	p := &Pinger{timeout: timeout, ports: ports}
	if !opts.DisableICMP {
		if path, err := exec.LookPath("ping"); err == nil {
			p.pingPath = path
		}
	}
	return p
}

func (p *Pinger) Reachable(ctx context.Context, address string) bool {
	if p == nil || address == "" {
		return false
	}
	if p.pingPath != "" {
		return p.ping(ctx, address)
	}
	return p.dial(ctx, address)
}

func (p *Pinger) ping(ctx context.Context, address string) bool {
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout+time.Second)
	defer cancel()

	wait := int(p.timeout / time.Second)
	if wait < 1 {
		wait = 1
	}
	cmd := exec.CommandContext(pingCtx, p.pingPath, "-c", "1", "-W", strconv.Itoa(wait), address)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

func (p *Pinger) dial(ctx context.Context, address string) bool {
	d := net.Dialer{Timeout: p.timeout}
	for _, port := range p.ports {
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
		if err == nil {
			_ = conn.Close()
			return true
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, address string) bool

func (f ProberFunc) Reachable(ctx context.Context, address string) bool { return f(ctx, address) }

package netprobe

import (
	"context"
	"time"

	"github.com/miekg/dns"
)

// OnlineChecker decides whether the unit has upstream connectivity by
// asking a public resolver for a well-known name. Any answer, including
// NXDOMAIN, counts as online.
type OnlineChecker struct {
	server  string
	name    string
	timeout time.Duration
	client  *dns.Client
}

func NewOnlineChecker(server string, timeout time.Duration) *OnlineChecker {
	if server == "" {
		server = "8.8.8.8:53"
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &OnlineChecker{
		server:  server,
		name:    dns.Fqdn("google.com"),
		timeout: timeout,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

func (c *OnlineChecker) Online(ctx context.Context) bool {
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(c.name, dns.TypeA)
	m.RecursionDesired = true

	resp, _, err := c.client.ExchangeContext(ctx, m, c.server)
	return err == nil && resp != nil
}

package snmp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Config describes how devices are queried for system information.
type Config struct {
	Community string
	Version   string // "2c" (default) | "1"
	Port      uint16
	Timeout   time.Duration
	Retries   int
}

// Target is a device that can be queried via SNMP.
type Target struct {
	Name    string
	Address string
}

type SystemInfo struct {
	SysName     *string
	SysDescr    *string
	SysLocation *string
	Uptime      *time.Duration
}

// Summary is the one-line description used in status reports.
func (s SystemInfo) Summary() string {
	var parts []string
	if s.SysDescr != nil {
		parts = append(parts, firstLine(*s.SysDescr))
	}
	if s.Uptime != nil {
		parts = append(parts, "up "+s.Uptime.Truncate(time.Minute).String())
	}
	return strings.Join(parts, ", ")
}

// Client is a minimal SNMPv2c reader for device status enrichment.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 900 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Client{cfg: cfg}
}

func (c *Client) connect(ctx context.Context, target Target) (*gosnmp.GoSNMP, error) {
	version := strings.ToLower(strings.TrimSpace(c.cfg.Version))
	var snmpVersion gosnmp.SnmpVersion
	switch version {
	case "2c", "v2c", "":
		snmpVersion = gosnmp.Version2c
	case "1", "v1":
		snmpVersion = gosnmp.Version1
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", c.cfg.Version)
	}

	s := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    target.Address,
		Port:      c.cfg.Port,
		Community: c.cfg.Community,
		Version:   snmpVersion,
		Timeout:   c.cfg.Timeout,
		Retries:   c.cfg.Retries,
	}
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	oidSysDescr0    = "1.3.6.1.2.1.1.1.0"
	oidSysUpTime0   = "1.3.6.1.2.1.1.3.0"
	oidSysName0     = "1.3.6.1.2.1.1.5.0"
	oidSysLocation0 = "1.3.6.1.2.1.1.6.0"
)

func (c *Client) GetSystem(ctx context.Context, target Target) (SystemInfo, error) {
	if c == nil {
		return SystemInfo{}, errors.New("snmp client is nil")
	}

	s, err := c.connect(ctx, target)
	if err != nil {
		return SystemInfo{}, err
	}
	defer s.Conn.Close()

	pkt, err := s.Get([]string{oidSysName0, oidSysDescr0, oidSysUpTime0, oidSysLocation0})
	if err != nil {
		return SystemInfo{}, err
	}
	return systemFromPDUs(pkt.Variables), nil
}

func systemFromPDUs(vars []gosnmp.SnmpPDU) SystemInfo {
	var out SystemInfo
	for _, v := range vars {
		switch strings.TrimPrefix(v.Name, ".") {
		case oidSysName0:
			out.SysName, _ = pduString(v)
		case oidSysDescr0:
			out.SysDescr, _ = pduString(v)
		case oidSysLocation0:
			out.SysLocation, _ = pduString(v)
		case oidSysUpTime0:
			if ticks, ok := pduTicks(v); ok {
				// TimeTicks are hundredths of a second.
				d := time.Duration(ticks) * 10 * time.Millisecond
				out.Uptime = &d
			}
		}
	}
	return out
}

func pduString(pdu gosnmp.SnmpPDU) (*string, bool) {
	switch v := pdu.Value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, true
		}
		return &s, true
	case []byte:
		s := strings.TrimSpace(string(v))
		if s == "" {
			return nil, true
		}
		return &s, true
	default:
		return nil, false
	}
}

func pduTicks(pdu gosnmp.SnmpPDU) (uint64, bool) {
	switch v := pdu.Value.(type) {
	case uint32:
		return uint64(v), true
	case uint:
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

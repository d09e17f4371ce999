// Package inventory tracks the devices listed in devices.cfg and whether
// each one currently answers on the network.
package inventory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rpimash/core-go/internal/config"
	"rpimash/core-go/internal/enrichment/snmp"
	"rpimash/core-go/internal/metrics"
	"rpimash/core-go/internal/netprobe"
)

var ErrUnknownDevice = errors.New("device not listed in inventory")

// Entry is one address,displayName line of the device list.
type Entry struct {
	Address string
	Name    string
}

// DeviceRecord is the result of probing one entry. It is rebuilt on every
// refresh and never persisted.
type DeviceRecord struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name"`
	Reachable   bool   `json:"reachable"`
	// Description is filled from SNMP when enrichment is enabled.
	Description string `json:"description,omitempty"`
}

// SystemReader is the subset of the SNMP client used for enrichment.
type SystemReader interface {
	GetSystem(ctx context.Context, target snmp.Target) (snmp.SystemInfo, error)
}

type Inventory struct {
	log     zerolog.Logger
	path    string
	prober  netprobe.Prober
	snmp    SystemReader
	metrics *metrics.Metrics
	devices []DeviceRecord
	updated time.Time
}

type Options struct {
	// SNMP enables status enrichment for reachable devices when non-nil.
	SNMP    SystemReader
	Metrics *metrics.Metrics
}

func New(log zerolog.Logger, path string, prober netprobe.Prober, opts Options) *Inventory {
	return &Inventory{
		log:     log,
		path:    path,
		prober:  prober,
		snmp:    opts.SNMP,
		metrics: opts.Metrics,
	}
}

// LoadDeviceList reads the device list at path.
func LoadDeviceList(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", config.ErrMissingFile, path)
		}
		return nil, err
	}
	defer f.Close()

	entries, err := ParseDeviceList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseDeviceList reads comma separated address,displayName lines.
// Blank lines and lines starting with '#' are skipped.
func ParseDeviceList(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, name, ok := strings.Cut(line, ",")
		addr = strings.TrimSpace(addr)
		name = strings.TrimSpace(name)
		if !ok || addr == "" || name == "" {
			return nil, fmt.Errorf("line %d: expected address,displayName", lineNo)
		}
		out = append(out, Entry{Address: addr, Name: name})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Refresh re-reads the device list and probes every device. Devices are
// probed one at a time.
func (inv *Inventory) Refresh(ctx context.Context) error {
	entries, err := LoadDeviceList(inv.path)
	if err != nil {
		return err
	}

	inv.log.Debug().Int("devices", len(entries)).Msg("updating device status list")

	records := make([]DeviceRecord, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := DeviceRecord{
			Address:     e.Address,
			DisplayName: e.Name,
			Reachable:   inv.prober.Reachable(ctx, e.Address),
		}
		if rec.Reachable && inv.snmp != nil {
			info, err := inv.snmp.GetSystem(ctx, snmp.Target{Name: e.Name, Address: e.Address})
			if err != nil {
				inv.log.Debug().Err(err).Str("address", e.Address).Msg("snmp enrichment failed")
			} else {
				rec.Description = info.Summary()
			}
		}
		inv.metrics.SetDeviceReachable(e.Name, rec.Reachable)
		records = append(records, rec)
	}

	inv.devices = records
	inv.updated = time.Now()
	return nil
}

// Devices returns a copy of the last refresh result.
func (inv *Inventory) Devices() []DeviceRecord {
	out := make([]DeviceRecord, len(inv.devices))
	copy(out, inv.devices)
	return out
}

func (inv *Inventory) UpdatedAt() time.Time { return inv.updated }

// AddressOf resolves a display name to its address. The device list is
// re-read on every call so an edited address is picked up without a
// full probe.
func (inv *Inventory) AddressOf(name string) (string, error) {
	entries, err := LoadDeviceList(inv.path)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name, name) {
			return e.Address, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDevice, name)
}

package inventory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpimash/core-go/internal/config"
	"rpimash/core-go/internal/enrichment/snmp"
	"rpimash/core-go/internal/netprobe"
)

const deviceList = `# address,name
192.168.0.20,Ruckus

192.168.0.30, DVR
`

type fakeSystemReader struct {
	fn func(ctx context.Context, target snmp.Target) (snmp.SystemInfo, error)
}

func (f *fakeSystemReader) GetSystem(ctx context.Context, target snmp.Target) (snmp.SystemInfo, error) {
	return f.fn(ctx, target)
}

func writeDeviceList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.cfg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseDeviceList(t *testing.T) {
	entries, err := ParseDeviceList(strings.NewReader(deviceList))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Address: "192.168.0.20", Name: "Ruckus"},
		{Address: "192.168.0.30", Name: "DVR"},
	}, entries)

	_, err = ParseDeviceList(strings.NewReader("192.168.0.20\n"))
	require.Error(t, err)
}

func TestRefresh_ProbesEachDevice(t *testing.T) {
	path := writeDeviceList(t, deviceList)
	var probed []string
	prober := netprobe.ProberFunc(func(_ context.Context, addr string) bool {
		probed = append(probed, addr)
		return addr == "192.168.0.20"
	})
	sys := &fakeSystemReader{fn: func(_ context.Context, target snmp.Target) (snmp.SystemInfo, error) {
		if target.Name != "Ruckus" {
			return snmp.SystemInfo{}, errors.New("unexpected target")
		}
		descr := "Ruckus ZF7962"
		return snmp.SystemInfo{SysDescr: &descr}, nil
	}}

	inv := New(zerolog.Nop(), path, prober, Options{SNMP: sys})
	require.NoError(t, inv.Refresh(context.Background()))

	assert.Equal(t, []string{"192.168.0.20", "192.168.0.30"}, probed)
	assert.Equal(t, []DeviceRecord{
		{Address: "192.168.0.20", DisplayName: "Ruckus", Reachable: true, Description: "Ruckus ZF7962"},
		{Address: "192.168.0.30", DisplayName: "DVR", Reachable: false},
	}, inv.Devices())
	assert.False(t, inv.UpdatedAt().IsZero())
}

func TestRefresh_MissingFile(t *testing.T) {
	inv := New(zerolog.Nop(), filepath.Join(t.TempDir(), "devices.cfg"), netprobe.ProberFunc(func(context.Context, string) bool { return true }), Options{})
	err := inv.Refresh(context.Background())
	require.ErrorIs(t, err, config.ErrMissingFile)
}

func TestAddressOf_FollowsEdits(t *testing.T) {
	path := writeDeviceList(t, deviceList)
	inv := New(zerolog.Nop(), path, nil, Options{})

	addr, err := inv.AddressOf("ruckus")
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.20", addr)

	require.NoError(t, os.WriteFile(path, []byte("10.0.0.5,Ruckus\n"), 0o644))
	addr, err = inv.AddressOf("Ruckus")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", addr)

	_, err = inv.AddressOf("Camera")
	require.ErrorIs(t, err, ErrUnknownDevice)
}

package main

import (
	"errors"
	"testing"
	"time"

	"rpimash/core-go/internal/config"
	"rpimash/core-go/internal/inventory"
)

type addressFunc func(name string) (string, error)

func (f addressFunc) AddressOf(name string) (string, error) { return f(name) }

func TestApplyPositional(t *testing.T) {
	var f flags
	if err := applyPositional(&f, []string{"BOOT", "background"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.boot || !f.background || f.debug {
		t.Fatalf("unexpected flags: %+v", f)
	}
	if err := applyPositional(&f, []string{"reboot"}); err == nil {
		t.Fatalf("expected unknown argument error")
	}
}

func TestResolveTarget_PrefersDeviceList(t *testing.T) {
	cfg := config.Defaults()
	cfg.RuckusHost = "192.168.0.20"
	cfg.RuckusDevice = "Ruckus"
	cfg.RuckusUser = "super"
	cfg.RuckusTimeout = 15 * time.Second

	got, err := resolveTarget(cfg, addressFunc(func(name string) (string, error) {
		if name != "Ruckus" {
			t.Fatalf("unexpected lookup %q", name)
		}
		return "192.168.0.44", nil
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Address != "192.168.0.44" || got.Port != 23 || got.Username != "super" || got.Timeout != 15*time.Second {
		t.Fatalf("unexpected target: %+v", got)
	}
}

func TestResolveTarget_FallsBackToHost(t *testing.T) {
	cfg := config.Defaults()
	cfg.RuckusHost = "192.168.0.20"
	cfg.RuckusDevice = "Ruckus"

	missing := addressFunc(func(string) (string, error) { return "", inventory.ErrUnknownDevice })
	got, err := resolveTarget(cfg, missing)
	if err != nil || got.Address != "192.168.0.20" {
		t.Fatalf("expected fallback to rkshost, got %+v, %v", got, err)
	}

	cfg.RuckusHost = ""
	if _, err := resolveTarget(cfg, missing); !errors.Is(err, inventory.ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
}

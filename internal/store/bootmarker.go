package store

import (
	"errors"
	"os"
	"strings"
	"time"

	"rpimash/core-go/internal/notify"
)

const BootMarkerFile = "lastboot.dat"

// BootMarker is the plain-text file holding the time of the last boot
// report.
type BootMarker struct {
	path string
}

func NewBootMarker(path string) *BootMarker {
	return &BootMarker{path: path}
}

// Read returns the recorded boot time, or "" when there is none.
func (b *BootMarker) Read() (string, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (b *BootMarker) WriteBootMarker(t time.Time) error {
	return os.WriteFile(b.path, []byte(notify.Timestamp(t)), 0o644)
}

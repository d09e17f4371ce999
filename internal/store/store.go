// Package store persists the scheduler state between process runs.
package store

import (
	"context"
	"errors"
	"fmt"

	"rpimash/core-go/internal/schedule"
)

// ErrNotFound means no state has been saved yet; callers treat it as a
// first run.
var ErrNotFound = errors.New("no saved schedule state")

type StateStore interface {
	Load(ctx context.Context) (schedule.State, error)
	Save(ctx context.Context, s schedule.State) error
	Close() error
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend rooted at path.
func Open(ctx context.Context, backend, path string) (StateStore, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(path), nil
	case BackendSQLite:
		return OpenSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// LoadOrInit loads the saved state, or returns fresh when nothing was
// saved yet. The boolean reports whether fresh was used.
func LoadOrInit(ctx context.Context, st StateStore, fresh schedule.State) (schedule.State, bool, error) {
	s, err := st.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return fresh, true, nil
	}
	if err != nil {
		return schedule.State{}, false, err
	}
	return s, false, nil
}

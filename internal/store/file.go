package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"rpimash/core-go/internal/schedule"
)

// FileStore keeps the state as a YAML document. Writes go to a temporary
// file that is renamed over the old one.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(ctx context.Context) (schedule.State, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schedule.State{}, ErrNotFound
		}
		return schedule.State{}, err
	}

	var s schedule.State
	if err := yaml.Unmarshal(b, &s); err != nil {
		return schedule.State{}, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if err := s.Validate(); err != nil {
		return schedule.State{}, fmt.Errorf("%s: %w", f.path, err)
	}
	return s, nil
}

func (f *FileStore) Save(ctx context.Context, s schedule.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

func (f *FileStore) Close() error { return nil }

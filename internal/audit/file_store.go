package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/phaselock/escrowd/internal/signer"
)

// FileStore is a file-backed audit store for dev and DB-less deployments.
// Events land as JSON files; head.hash tracks the chain head.
type FileStore struct {
	dir string
}

// NewFileStore ensures the archive directory exists and returns the store.
func NewFileStore(dir string) *FileStore {
	_ = os.MkdirAll(dir, 0o755)
	return &FileStore{dir: dir}
}

func (f *FileStore) Ping(ctx context.Context) error { return nil }

func (f *FileStore) Append(ctx context.Context, ev *Event, s signer.Signer) error {
	if err := seal(ev, f.readHead(), s); err != nil {
		return err
	}

	b, _ := json.MarshalIndent(ev, "", "  ")
	path := filepath.Join(f.dir, fmt.Sprintf("event_%s.json", ev.ID))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write event file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(f.dir, "head.hash"), []byte(ev.Hash), 0o644); err != nil {
		return fmt.Errorf("write head.hash: %w", err)
	}
	return nil
}

func (f *FileStore) readHead() string {
	b, err := os.ReadFile(filepath.Join(f.dir, "head.hash"))
	if err != nil {
		return ""
	}
	return string(b)
}

func (f *FileStore) Get(ctx context.Context, id string) (*Event, error) {
	path := filepath.Join(f.dir, fmt.Sprintf("event_%s.json", id))
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

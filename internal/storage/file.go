package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"routined/internal/routine"
	logx "routined/pkg/logx"
)

// fileStore is a dependency-free persistence backend: one JSON snapshot
// holding the full routine collection. Writes go to a temp file that is
// renamed into place, so a crash mid-write never corrupts the snapshot.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadRoutines(ctx context.Context) ([]routine.Routine, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		// First run: no snapshot yet.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var routines []routine.Routine
	if err := json.NewDecoder(f).Decode(&routines); err != nil {
		return nil, err
	}
	return routines, nil
}

func (s *fileStore) SaveRoutines(ctx context.Context, routines []routine.Routine) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if routines == nil {
		routines = []routine.Routine{}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(routines); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

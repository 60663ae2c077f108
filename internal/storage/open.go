package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"routined/internal/routine"
	logx "routined/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON snapshot file
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the durable routine collection.
//
// SaveRoutines replaces the whole collection; partial writes are never
// observable (file driver renames a temp file into place, sqlite wraps the
// replacement in one transaction).
type Store interface {
	LoadRoutines(ctx context.Context) ([]routine.Routine, error)
	SaveRoutines(ctx context.Context, routines []routine.Routine) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

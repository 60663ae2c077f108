//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"routined/internal/routine"
	logx "routined/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadRoutines(ctx context.Context) ([]routine.Routine, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, time, days, actions, action_delay, active FROM routines ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []routine.Routine
	for rows.Next() {
		var (
			r        routine.Routine
			days     string
			actions  string
			delayNS  int64
			activeIn int
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Time, &days, &actions, &delayNS, &activeIn); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(days), &r.Days); err != nil {
			return nil, fmt.Errorf("routine %s: days column: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
			return nil, fmt.Errorf("routine %s: actions column: %w", r.ID, err)
		}
		r.ActionDelay = time.Duration(delayNS)
		r.Active = activeIn != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveRoutines(ctx context.Context, routines []routine.Routine) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM routines`); err != nil {
		return err
	}
	for _, r := range routines {
		days, err := json.Marshal(r.Days)
		if err != nil {
			return err
		}
		actions, err := json.Marshal(r.Actions)
		if err != nil {
			return err
		}
		active := 0
		if r.Active {
			active = 1
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO routines(id, name, time, days, actions, action_delay, active)
			 VALUES(?,?,?,?,?,?,?)`,
			r.ID, r.Name, r.Time, string(days), string(actions), int64(r.ActionDelay), active,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

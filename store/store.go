// Package store persists harness runs to a SQLite database so results from
// many runs can be queried together.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yuuki/netstimtest/harness"
)

//go:embed schema.sql
var schemaSQL string

const timeLayout = time.RFC3339Nano

// Store writes harness events into runs, tests and commands tables. It
// implements harness.Sink.
type Store struct {
	db *sql.DB

	mu  sync.Mutex
	err error
}

// Open creates or opens the SQLite database at path and applies the schema.
// It is safe to open an existing results database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Err returns the first write error seen by Emit.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit persists ev. Write failures are logged and remembered in Err so a
// broken database never stops a run.
func (s *Store) Emit(ev harness.Event) {
	ctx := context.Background()

	var err error
	switch ev.Kind {
	case harness.EventRunStart:
		err = s.WriteRunStart(ctx, ev.RunID, ev.Time, ev.Tests)
	case harness.EventTestStart:
		err = s.WriteTestStart(ctx, ev)
	case harness.EventCommand:
		err = s.WriteCommand(ctx, ev)
	case harness.EventTestEnd:
		err = s.WriteTestEnd(ctx, ev)
	case harness.EventRunEnd:
		err = s.WriteRunEnd(ctx, ev)
	}
	if err != nil {
		slog.Warn("persisting harness event", "kind", ev.Kind, "run_id", ev.RunID, "error", err)
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
}

var _ harness.Sink = (*Store)(nil)

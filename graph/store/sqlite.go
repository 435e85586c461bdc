package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It keeps every step in a single file, which makes it a zero-setup option
// for a single server process. The pure-Go modernc.org/sqlite driver is used,
// so no cgo toolchain is required.
//
// The database runs in WAL mode with a single writer connection.
type SQLiteStore[S any] struct {
	db     *sql.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// a throwaway database.
//
// Example:
//
//	st, err := store.NewSQLiteStore[workflow.State]("./codecraft.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, step)
		)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create workflow_steps table: %w", err)
	}

	return &SQLiteStore[S]{db: db, path: path}, nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep implements Store.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (run_id, step, node_id, state)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state`,
		runID, step, nodeID, string(stateJSON))
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (state S, step int, err error) {
	if err := s.checkOpen(); err != nil {
		var zero S
		return zero, 0, err
	}
	return loadLatest[S](ctx, s.db, runID)
}

// ListSteps implements Store.
func (s *SQLiteStore[S]) ListSteps(ctx context.Context, runID string) ([]StepRecord[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return listSteps[S](ctx, s.db, runID)
}

// DeleteRun implements Store.
func (s *SQLiteStore[S]) DeleteRun(ctx context.Context, runID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return deleteRun(ctx, s.db, runID)
}

// Path returns the database file path.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

// Close closes the database. Calling Close more than once is a no-op.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

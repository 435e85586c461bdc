package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Use it when several server replicas should share run history.
//
// Security Warning: never hardcode credentials. Pass the DSN through
// configuration (store.dsn or CODECRAFT_STORE_DSN).
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects using dsn and creates the schema if needed.
//
// The DSN format is:
//
//	user:password@tcp(localhost:3306)/codecraft?parseTime=true
func NewMySQLStore[S any](ctx context.Context, dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY unique_run_step (run_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create workflow_steps table: %w", err)
	}

	return &MySQLStore[S]{db: db}, nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep implements Store.
func (m *MySQLStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (run_id, step, node_id, state)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state)`,
		runID, step, nodeID, stateJSON)
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (state S, step int, err error) {
	if err := m.checkOpen(); err != nil {
		var zero S
		return zero, 0, err
	}
	return loadLatest[S](ctx, m.db, runID)
}

// ListSteps implements Store.
func (m *MySQLStore[S]) ListSteps(ctx context.Context, runID string) ([]StepRecord[S], error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	return listSteps[S](ctx, m.db, runID)
}

// DeleteRun implements Store.
func (m *MySQLStore[S]) DeleteRun(ctx context.Context, runID string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return deleteRun(ctx, m.db, runID)
}

// Ping verifies the connection is alive.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Close closes the connection pool. Calling Close more than once is a no-op.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

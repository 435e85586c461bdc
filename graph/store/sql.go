package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// loadLatest, listSteps and deleteRun share the read path of the SQL stores. Both
// dialects accept '?' placeholders.
func loadLatest[S any](ctx context.Context, db *sql.DB, runID string) (state S, step int, err error) {
	var stateJSON []byte
	row := db.QueryRowContext(ctx,
		`SELECT step, state FROM workflow_steps WHERE run_id = ? ORDER BY step DESC LIMIT 1`, runID)
	if err = row.Scan(&step, &stateJSON); err != nil {
		var zero S
		if errors.Is(err, sql.ErrNoRows) {
			return zero, 0, ErrNotFound
		}
		return zero, 0, fmt.Errorf("failed to load latest step: %w", err)
	}
	if err = json.Unmarshal(stateJSON, &state); err != nil {
		var zero S
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, step, nil
}

func listSteps[S any](ctx context.Context, db *sql.DB, runID string) ([]StepRecord[S], error) {
	rows, err := db.QueryContext(ctx,
		`SELECT step, node_id, state FROM workflow_steps WHERE run_id = ? ORDER BY step ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var out []StepRecord[S]
	for rows.Next() {
		var (
			rec       StepRecord[S]
			stateJSON []byte
		)
		if err := rows.Scan(&rec.Step, &rec.NodeID, &stateJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal(stateJSON, &rec.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func deleteRun(ctx context.Context, db *sql.DB, runID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM workflow_steps WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Package store provides persistence for workflow state.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested run ID does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// StepRecord is one persisted execution step.
type StepRecord[S any] struct {
	Step   int    `json:"step"`
	NodeID string `json:"node_id"`
	State  S      `json:"state"`
}

// Store persists the state after every executed step.
//
// Type parameter S is the state type to persist. SQL implementations require
// S to be JSON-serializable.
//
// Implementations must be safe for concurrent use; runs that share a store
// are distinguished only by run ID.
type Store[S any] interface {
	// SaveStep persists the merged state after nodeID ran as step number step.
	// Saving the same (runID, step) twice replaces the earlier record.
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest returns the state of the highest step recorded for runID.
	// Returns ErrNotFound if the run has no steps.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)

	// ListSteps returns every step recorded for runID in ascending order.
	// Returns ErrNotFound if the run has no steps.
	ListSteps(ctx context.Context, runID string) ([]StepRecord[S], error)

	// DeleteRun removes every step recorded for runID. Deleting an unknown
	// run is not an error.
	DeleteRun(ctx context.Context, runID string) error
}

package store

import (
	"context"
	"sort"
	"sync"
)

// DefaultMaxRuns is the number of runs a MemStore keeps when created with a
// non-positive limit.
const DefaultMaxRuns = 256

// MemStore is an in-memory implementation of Store[S].
//
// State is lost when the process exits. Suitable for tests and for servers
// that only need recent run history for their own lifetime.
//
// The store holds at most maxRuns runs; saving the first step of a new run
// beyond that evicts the oldest run.
type MemStore[S any] struct {
	mu      sync.RWMutex
	steps   map[string][]StepRecord[S] // runID -> steps, ascending
	order   []string                   // runIDs, oldest first
	maxRuns int
}

// NewMemStore creates a new empty in-memory store retaining up to maxRuns
// runs.
func NewMemStore[S any](maxRuns int) *MemStore[S] {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &MemStore[S]{
		steps:   make(map[string][]StepRecord[S]),
		maxRuns: maxRuns,
	}
}

// SaveStep implements Store.
func (m *MemStore[S]) SaveStep(_ context.Context, runID string, step int, nodeID string, state S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := StepRecord[S]{Step: step, NodeID: nodeID, State: state}
	steps, known := m.steps[runID]
	if !known {
		for len(m.order) >= m.maxRuns {
			delete(m.steps, m.order[0])
			m.order = m.order[1:]
		}
		m.order = append(m.order, runID)
	}

	i := sort.Search(len(steps), func(i int) bool { return steps[i].Step >= step })
	if i < len(steps) && steps[i].Step == step {
		steps[i] = rec
		return nil
	}
	steps = append(steps, StepRecord[S]{})
	copy(steps[i+1:], steps[i:])
	steps[i] = rec
	m.steps[runID] = steps
	return nil
}

// LoadLatest implements Store.
func (m *MemStore[S]) LoadLatest(_ context.Context, runID string) (state S, step int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps := m.steps[runID]
	if len(steps) == 0 {
		var zero S
		return zero, 0, ErrNotFound
	}
	last := steps[len(steps)-1]
	return last.State, last.Step, nil
}

// ListSteps implements Store.
func (m *MemStore[S]) ListSteps(_ context.Context, runID string) ([]StepRecord[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps := m.steps[runID]
	if len(steps) == 0 {
		return nil, ErrNotFound
	}
	out := make([]StepRecord[S], len(steps))
	copy(out, steps)
	return out, nil
}

// DeleteRun implements Store.
func (m *MemStore[S]) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.steps[runID]; !ok {
		return nil
	}
	delete(m.steps, runID)
	for i, id := range m.order {
		if id == runID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of runs currently held.
func (m *MemStore[S]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.steps)
}

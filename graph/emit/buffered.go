package emit

import "sync"

// DefaultMaxRuns is the number of runs a BufferedEmitter keeps when created
// with a non-positive limit.
const DefaultMaxRuns = 256

// BufferedEmitter implements Emitter by storing events in memory, grouped by
// run ID, so that a run's execution history can be queried after the fact.
//
// The buffer holds at most maxRuns runs; when a new run arrives beyond that,
// the oldest run's events are evicted.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter(100)
//	engine.Run(ctx, "run-001", initialState)
//	errs := emitter.GetHistoryWithFilter("run-001", emit.HistoryFilter{Msg: "node_error"})
type BufferedEmitter struct {
	mu      sync.RWMutex
	events  map[string][]Event // runID -> events
	order   []string           // runIDs, oldest first
	maxRuns int
}

// HistoryFilter specifies criteria for filtering execution history.
//
// All fields are optional and combined with AND logic.
type HistoryFilter struct {
	NodeID  string // Filter by node ID (empty = no filter)
	Msg     string // Filter by message (empty = no filter)
	MinStep *int   // Minimum step number (nil = no filter)
	MaxStep *int   // Maximum step number (nil = no filter)
}

// NewBufferedEmitter creates a BufferedEmitter retaining up to maxRuns runs.
func NewBufferedEmitter(maxRuns int) *BufferedEmitter {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &BufferedEmitter{
		events:  make(map[string][]Event),
		maxRuns: maxRuns,
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.events[event.RunID]; !ok {
		b.order = append(b.order, event.RunID)
		for len(b.order) > b.maxRuns {
			oldest := b.order[0]
			b.order = b.order[1:]
			delete(b.events, oldest)
		}
	}
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// HasRun reports whether any events are buffered for runID.
func (b *BufferedEmitter) HasRun(runID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.events[runID]
	return ok
}

// GetHistory returns a copy of all events for runID in emission order.
// Returns an empty slice if no events exist.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns a copy of the events for runID that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear removes stored events for runID, or all events if runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		b.order = nil
		return
	}

	delete(b.events, runID)
	for i, id := range b.order {
		if id == runID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Package emit provides event emission and observability for graph execution.
package emit

// Emitter receives and processes observability events from workflow execution.
//
// Implementations should be:
//   - Non-blocking: avoid slowing down workflow execution
//   - Thread-safe: concurrent runs share one emitter
//   - Resilient: never panic, never fail the workflow
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
//
// Example:
//
//	emitter := emit.NewMultiEmitter(emit.NewLogEmitter(logger), buffered)
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates a MultiEmitter. Nil emitters are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{emitters: make([]Emitter, 0, len(emitters))}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards the event to every wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

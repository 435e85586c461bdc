package emit

// Event represents an observability event emitted during workflow execution.
//
// The engine emits:
//   - node_start: before a node runs
//   - node_end: after a node's delta is merged and persisted
//   - node_error: when a node fails (Meta["error"] holds the message)
//   - routing_decision: the chosen next node (Meta["next"])
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string `json:"run_id"`

	// Step is the sequential step number in the workflow (1-indexed).
	Step int `json:"step"`

	// NodeID identifies which node emitted this event.
	NodeID string `json:"node_id"`

	// Msg is the event type.
	Msg string `json:"msg"`

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Error details
	//   - "next": Routing destination
	Meta map[string]interface{} `json:"meta,omitempty"`
}

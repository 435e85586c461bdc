package graph

import "context"

// Node represents a processing unit in the workflow graph.
// It receives state of type S, performs computation, and returns a NodeResult.
//
// Each node can:
//   - Read the current state
//   - Perform computation (typically one LLM call)
//   - Return state modifications via Delta
//   - Report failure via Err
//
// Routing is decided by the node's outgoing edges.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult represents the output of a node execution.
type NodeResult[S any] struct {
	// Delta is the partial state update produced by this node.
	// It is merged with the current state using the configured reducer.
	Delta S

	// Err contains any error that occurred during node execution.
	// A non-nil error aborts the run; no partial state is returned.
	Err error
}

// NodeFunc is a function adapter that implements the Node interface.
//
// Example:
//
//	processNode := NodeFunc[MyState](func(ctx context.Context, s MyState) NodeResult[MyState] {
//	    return NodeResult[MyState]{Delta: MyState{Result: "processed"}}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError represents an error that occurred during node execution.
// The engine wraps every node failure in a NodeError so callers can see
// which node failed while errors.As still reaches the cause.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Package graph provides the workflow graph execution engine for codecraft.
package graph

// End is the terminal pseudo-node. An edge whose To is End finishes the run
// and returns the accumulated state.
const End = "__end__"

// Edge represents a connection between two nodes in the workflow graph.
//
// Edges can be:
//   - Unconditional: always traverse (When = nil)
//   - Conditional: only traverse if the predicate returns true
//
// Outgoing edges of a node are evaluated in the order they were connected and
// the first match wins.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID, or End.
	To string

	// When is an optional predicate that determines if this edge should be traversed.
	When Predicate[S]
}

// Predicate is a function that evaluates state to determine if an edge should be traversed.
//
// Predicates should be pure functions: deterministic and free of side effects.
type Predicate[S any] func(state S) bool

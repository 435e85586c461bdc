package graph

// Reducer merges a node's partial state update into the accumulated state.
//
// Reducers must be deterministic: the same prev and delta always produce the
// same result. They decide which fields a delta may overwrite, so write-once
// fields are enforced here rather than in the nodes.
type Reducer[S any] func(prev, delta S) S

package graph

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/codecraft/graph/emit"
	"github.com/dshills/codecraft/graph/store"
)

// Engine orchestrates stateful workflow execution.
//
// The Engine:
//   - Manages workflow graph topology (nodes and edges)
//   - Executes nodes one at a time, in the order routing dictates
//   - Merges state updates via the reducer
//   - Persists state after every step via the store
//   - Emits observability events via the emitter
//   - Enforces the MaxSteps limit and context cancellation
//
// An Engine is immutable once built and is safe to Run concurrently; each Run
// owns its own state value.
//
// Type parameter S is the state type shared across the workflow.
//
// Example:
//
//	engine := graph.New(reducer, store.NewMemStore[MyState](0), emitter, graph.WithMaxSteps(100))
//	engine.Add("process", processNode)
//	engine.StartAt("process")
//	engine.Connect("process", graph.End, nil)
//
//	final, err := engine.Run(ctx, "run-001", MyState{Query: "hello"})
type Engine[S any] struct {
	mu sync.RWMutex

	reducer   Reducer[S]
	nodes     map[string]Node[S]
	edges     []Edge[S]
	startNode string
	store     store.Store[S]
	emitter   emit.Emitter
	opts      Options
	optErr    error
}

// New creates a new Engine with the given configuration.
//
// Parameters:
//   - reducer: Function to merge partial state updates (required for Run)
//   - st: Persistence backend for per-step state (required for Run)
//   - emitter: Observability event receiver (optional, can be nil)
//   - options: Functional options (WithMaxSteps, WithMetrics)
//
// Validation occurs when Run is called, so construction never fails. An
// invalid option is reported by the first Run.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, options ...Option) *Engine[S] {
	cfg := &engineConfig{}
	var optErr error
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil && optErr == nil {
			optErr = err
		}
	}

	return &Engine[S]{
		reducer: reducer,
		nodes:   make(map[string]Node[S]),
		edges:   make([]Edge[S], 0),
		store:   st,
		emitter: emitter,
		opts:    cfg.opts,
		optErr:  optErr,
	}
}

// Add registers a node in the workflow graph.
//
// Returns error if nodeID is empty, is the reserved End ID, node is nil, or a
// node with this ID already exists.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if nodeID == End {
		return &EngineError{Message: "node ID is reserved: " + End, Code: "RESERVED_NODE"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    "DUPLICATE_NODE",
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry point for workflow execution.
// The node must have been registered via Add.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    "NODE_NOT_FOUND",
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect creates an edge between two nodes.
//
// A nil predicate makes the edge unconditional. Use End as the destination to
// terminate the run. Node existence is validated when the edge is taken, so
// edges may be declared before their nodes.
//
// Example:
//
//	engine.Connect("review", "fix", func(s MyState) bool { return s.NeedsFix })
//	engine.Connect("review", graph.End, nil)
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}
	if from == End {
		return &EngineError{Message: "edges cannot leave " + End, Code: "RESERVED_NODE"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Run executes the workflow from the start node to completion or error.
//
// Workflow execution:
//  1. Validates engine configuration (options, reducer, store, start node)
//  2. Executes nodes starting from the start node
//  3. Applies the reducer to merge each node's delta
//  4. Persists state after each node
//  5. Follows the first matching outgoing edge
//  6. Stops on an edge to End, on error, or when MaxSteps is exceeded
//
// On any failure the zero state is returned together with the error; state
// produced by earlier nodes is never returned as a partial result. Node
// failures are wrapped in *NodeError.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	if err := e.validate(); err != nil {
		return zero, err
	}

	e.mu.RLock()
	currentNode := e.startNode
	e.mu.RUnlock()

	currentState := initial
	step := 0

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, &EngineError{
				Message: "workflow exceeded MaxSteps limit",
				Code:    "MAX_STEPS_EXCEEDED",
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		e.mu.RUnlock()

		if !exists {
			return zero, &EngineError{
				Message: "node not found during execution: " + currentNode,
				Code:    "NODE_NOT_FOUND",
			}
		}

		e.emit(runID, step, currentNode, "node_start", nil)

		start := time.Now()
		result := nodeImpl.Run(ctx, currentState)
		latency := time.Since(start)

		if result.Err != nil {
			e.recordStep(currentNode, latency, "error")
			e.emit(runID, step, currentNode, "node_error", map[string]interface{}{
				"error":       result.Err.Error(),
				"duration_ms": latency.Milliseconds(),
			})
			return zero, &NodeError{
				Message: result.Err.Error(),
				Code:    "NODE_FAILED",
				NodeID:  currentNode,
				Cause:   result.Err,
			}
		}
		e.recordStep(currentNode, latency, "success")

		currentState = e.reducer(currentState, result.Delta)

		if err := e.store.SaveStep(ctx, runID, step, currentNode, currentState); err != nil {
			return zero, &EngineError{
				Message: "failed to save step: " + err.Error(),
				Code:    "STORE_ERROR",
			}
		}

		e.emit(runID, step, currentNode, "node_end", map[string]interface{}{
			"duration_ms": latency.Milliseconds(),
		})

		nextNode := e.evaluateEdges(currentNode, currentState)
		if nextNode == "" {
			return zero, &EngineError{
				Message: "no valid route from node: " + currentNode,
				Code:    "NO_ROUTE",
			}
		}

		e.emit(runID, step, currentNode, "routing_decision", map[string]interface{}{"next": nextNode})

		if nextNode == End {
			return currentState, nil
		}
		currentNode = nextNode
	}
}

// validate checks that the engine is ready to run.
func (e *Engine[S]) validate() error {
	if e.optErr != nil {
		return e.optErr
	}
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startNode == "" {
		return &EngineError{
			Message: "start node not set (call StartAt before Run)",
			Code:    "NO_START_NODE",
		}
	}
	if _, exists := e.nodes[e.startNode]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + e.startNode,
			Code:    "NODE_NOT_FOUND",
		}
	}
	return nil
}

// evaluateEdges finds the first matching edge from the given node.
//
// Unconditional edges always match; conditional edges match when their
// predicate returns true. Returns empty string if no edge matches.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S]) emit(runID string, step int, nodeID, msg string, meta map[string]interface{}) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (e *Engine[S]) recordStep(nodeID string, latency time.Duration, status string) {
	if e.opts.Metrics == nil {
		return
	}
	e.opts.Metrics.RecordStepLatency(nodeID, latency, status)
}

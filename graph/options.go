package graph

// Options configures Engine execution behavior.
//
// Zero values are valid; the Engine uses sensible defaults.
type Options struct {
	// MaxSteps limits workflow execution to prevent infinite loops.
	// If 0, no limit is enforced.
	MaxSteps int

	// Metrics receives per-node latency and execution counts.
	// If nil, no metrics are recorded.
	Metrics *PrometheusMetrics
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(
//	    reducer,
//	    store,
//	    emitter,
//	    graph.WithMaxSteps(50),
//	    graph.WithMetrics(metrics),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before applying them to an Engine.
type engineConfig struct {
	opts Options
}

// WithMaxSteps limits workflow execution to prevent infinite loops.
//
// Default: 0 (no limit).
//
// Loops (A → B → A) are fully supported. For a loop with depth d and at most
// k iterations, MaxSteps = d × k bounds the run. When MaxSteps is exceeded,
// Run returns an EngineError with code "MAX_STEPS_EXCEEDED".
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "MaxSteps cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection for the engine.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(reducer, store, emitter, graph.WithMetrics(metrics))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}

package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/codecraft/graph"
	"github.com/dshills/codecraft/graph/emit"
	"github.com/dshills/codecraft/graph/model"
	"github.com/dshills/codecraft/graph/store"
	"github.com/dshills/codecraft/internal/agents"
)

// ErrEmptyTask is returned when Run is called with a blank task.
var ErrEmptyTask = errors.New("task must not be empty")

// Outcome describes how a run terminated.
type Outcome string

const (
	// OutcomeApproved means the manager approved the last cycle.
	OutcomeApproved Outcome = "approved"

	// OutcomeExhausted means the manager still asked for a rewrite when the
	// cycle limit was reached.
	OutcomeExhausted Outcome = "exhausted"
)

// Usage is the token and cost total of one run. CostByNode splits CostUSD
// by the agent that made the calls.
type Usage struct {
	InputTokens  int64              `json:"input_tokens"`
	OutputTokens int64              `json:"output_tokens"`
	CostUSD      float64            `json:"cost_usd"`
	CostByNode   map[string]float64 `json:"cost_by_node,omitempty"`
}

// Result is the outcome of a successful run.
type Result struct {
	RunID         string  `json:"run_id"`
	Architecture  string  `json:"architecture"`
	Code          string  `json:"code"`
	Tests         string  `json:"tests"`
	Review        string  `json:"review"`
	FinalDecision string  `json:"final_decision"`
	Outcome       Outcome `json:"outcome"`
	Cycles        int     `json:"cycles"`
	Usage         Usage   `json:"usage"`
}

// RunError reports a failed run. Steps persisted before the failure are
// deleted, so Latest reports store.ErrNotFound for RunID.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return "run " + e.RunID + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Option configures a Runner.
type Option func(*runnerConfig)

type runnerConfig struct {
	maxCycles int
	metrics   *graph.PrometheusMetrics
	logger    *zap.Logger
}

// WithMaxCycles bounds coder executions per run. 0 means unbounded;
// negative values are ignored.
func WithMaxCycles(n int) Option {
	return func(c *runnerConfig) {
		if n >= 0 {
			c.maxCycles = n
		}
	}
}

// WithMetrics records engine and run metrics.
func WithMetrics(m *graph.PrometheusMetrics) Option {
	return func(c *runnerConfig) { c.metrics = m }
}

// WithLogger sets the logger used by the runner and its agents.
func WithLogger(l *zap.Logger) Option {
	return func(c *runnerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Runner executes the workflow. It is safe for concurrent use; each Run gets
// its own state, run ID and cost tracker while sharing the chat model.
type Runner struct {
	engine *graph.Engine[State]
	store  store.Store[State]
	chat   model.ChatModel
	cfg    runnerConfig
}

// NewRunner builds the workflow graph around chat. chat may be nil when no
// API key is configured; every Run then fails with model.ErrMissingAPIKey.
func NewRunner(chat model.ChatModel, st store.Store[State], emitter emit.Emitter, opts ...Option) (*Runner, error) {
	cfg := runnerConfig{maxCycles: DefaultMaxCycles, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if st == nil {
		st = store.NewMemStore[State](0)
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	engine, err := buildEngine(chat, st, emitter, cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{engine: engine, store: st, chat: chat, cfg: cfg}, nil
}

// MaxCycles returns the configured cycle limit (0 = unbounded).
func (r *Runner) MaxCycles() int {
	return r.cfg.maxCycles
}

// Run executes the workflow for task and blocks until it terminates.
func (r *Runner) Run(ctx context.Context, task string) (*Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, ErrEmptyTask
	}
	if r.chat == nil {
		r.recordFailure(model.ErrMissingAPIKey)
		return nil, model.ErrMissingAPIKey
	}

	runID := uuid.NewString()
	logger := r.cfg.logger.With(zap.String("run_id", runID))
	tracker := graph.NewCostTracker(runID, "USD")

	if r.cfg.metrics != nil {
		r.cfg.metrics.RunStarted()
		defer r.cfg.metrics.RunFinished()
	}

	logger.Info("workflow started", zap.Int("max_cycles", r.cfg.maxCycles))

	final, err := r.engine.Run(agents.WithRecorder(ctx, tracker), runID, State{Task: task})
	if err != nil {
		r.recordFailure(err)
		logger.Warn("workflow failed", zap.Error(err))
		// Steps saved before the failure are discarded; the run must not be
		// readable through Latest. The run's ctx may already be done.
		if derr := r.store.DeleteRun(context.WithoutCancel(ctx), runID); derr != nil {
			logger.Error("failed to discard steps of failed run", zap.Error(derr))
		}
		return nil, &RunError{RunID: runID, Err: err}
	}

	outcome := OutcomeApproved
	if final.Decision == string(agents.DecisionRewrite) {
		outcome = OutcomeExhausted
	}
	if r.cfg.metrics != nil {
		r.cfg.metrics.RecordRun(string(outcome))
	}

	in, out := tracker.GetTokenUsage()
	res := &Result{
		RunID:         runID,
		Architecture:  final.Architecture,
		Code:          final.Code,
		Tests:         final.Tests,
		Review:        final.Review,
		FinalDecision: final.Decision,
		Outcome:       outcome,
		Cycles:        final.Cycles,
		Usage: Usage{
			InputTokens:  in,
			OutputTokens: out,
			CostUSD:      tracker.GetTotalCost(),
			CostByNode:   tracker.GetCostByNode(),
		},
	}

	logger.Info("workflow finished",
		zap.String("outcome", string(outcome)),
		zap.Int("cycles", final.Cycles),
		zap.Float64("cost_usd", res.Usage.CostUSD),
	)
	return res, nil
}

// Latest returns the last persisted state of a run and its step number.
// Returns store.ErrNotFound for unknown and failed runs. A run still in
// progress reports its most recent step.
func (r *Runner) Latest(ctx context.Context, runID string) (State, int, error) {
	return r.store.LoadLatest(ctx, runID)
}

// Steps returns every persisted step of a run in step order.
func (r *Runner) Steps(ctx context.Context, runID string) ([]store.StepRecord[State], error) {
	return r.store.ListSteps(ctx, runID)
}

// Delete removes the persisted steps of a run. Returns store.ErrNotFound
// when the run has no steps.
func (r *Runner) Delete(ctx context.Context, runID string) error {
	if _, _, err := r.store.LoadLatest(ctx, runID); err != nil {
		return err
	}
	return r.store.DeleteRun(ctx, runID)
}

func (r *Runner) recordFailure(err error) {
	if r.cfg.metrics == nil {
		return
	}
	r.cfg.metrics.RecordRun("error")
	if kind, ok := model.KindOf(err); ok {
		r.cfg.metrics.RecordLLMError(string(kind))
	} else if errors.Is(err, model.ErrMissingAPIKey) {
		r.cfg.metrics.RecordLLMError("config")
	}
}

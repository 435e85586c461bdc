// Package agents implements the LLM-backed workflow nodes.
//
// All five roles share one Agent type; they differ only in how the prompt is
// built from state and how the reply is turned into a state delta.
package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/codecraft/graph"
	"github.com/dshills/codecraft/graph/model"
)

// UsageRecorder receives token usage of every successful LLM call.
// *graph.CostTracker implements it.
type UsageRecorder interface {
	RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) float64
}

type recorderKey struct{}

// WithRecorder returns a context whose agent calls report usage to rec.
func WithRecorder(ctx context.Context, rec UsageRecorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

func recorderFrom(ctx context.Context) UsageRecorder {
	rec, _ := ctx.Value(recorderKey{}).(UsageRecorder)
	return rec
}

// Agent is a graph node that makes exactly one LLM call per execution.
type Agent[S any] struct {
	name   string
	chat   model.ChatModel
	prompt func(S) string
	apply  func(state S, reply string) S
	logger *zap.Logger
}

// New creates an Agent named name. prompt builds the user message from the
// current state; apply turns the reply into the delta merged by the reducer.
func New[S any](name string, chat model.ChatModel, prompt func(S) string, apply func(S, string) S, logger *zap.Logger) *Agent[S] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent[S]{
		name:   name,
		chat:   chat,
		prompt: prompt,
		apply:  apply,
		logger: logger.With(zap.String("agent", name)),
	}
}

// Name returns the agent's node name.
func (a *Agent[S]) Name() string {
	return a.name
}

// Run implements graph.Node.
func (a *Agent[S]) Run(ctx context.Context, state S) graph.NodeResult[S] {
	if a.chat == nil {
		return graph.NodeResult[S]{Err: model.ErrMissingAPIKey}
	}

	start := time.Now()
	out, err := a.chat.Chat(ctx, []model.Message{
		{Role: model.RoleUser, Content: a.prompt(state)},
	})
	if err != nil {
		a.logger.Debug("llm call failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return graph.NodeResult[S]{Err: err}
	}

	a.logger.Debug("llm call complete",
		zap.String("model", out.Model),
		zap.Int("input_tokens", out.Usage.InputTokens),
		zap.Int("output_tokens", out.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	if rec := recorderFrom(ctx); rec != nil {
		rec.RecordLLMCall(out.Model, out.Usage.InputTokens, out.Usage.OutputTokens, a.name)
	}

	return graph.NodeResult[S]{Delta: a.apply(state, out.Text)}
}

package workflow

import (
	"go.uber.org/zap"

	"github.com/dshills/codecraft/graph"
	"github.com/dshills/codecraft/graph/emit"
	"github.com/dshills/codecraft/graph/model"
	"github.com/dshills/codecraft/graph/store"
	"github.com/dshills/codecraft/internal/agents"
)

// DefaultMaxCycles bounds coder executions per run.
const DefaultMaxCycles = 3

// shouldRewrite reports whether the manager edge loops back to the coder.
// maxCycles of 0 leaves the loop unbounded.
func shouldRewrite(maxCycles int) graph.Predicate[State] {
	return func(s State) bool {
		if s.Decision != string(agents.DecisionRewrite) {
			return false
		}
		return maxCycles == 0 || s.Cycles < maxCycles
	}
}

// maxSteps is the engine step ceiling implied by maxCycles: one architect
// step plus four steps per cycle.
func maxSteps(maxCycles int) int {
	if maxCycles <= 0 {
		return 0
	}
	return 1 + 4*maxCycles
}

// newNodes builds the five agents sharing one chat model.
func newNodes(chat model.ChatModel, logger *zap.Logger) map[string]graph.Node[State] {
	return map[string]graph.Node[State]{
		agents.Architect: agents.New(agents.Architect, chat,
			func(s State) string { return agents.ArchitectPrompt(s.Task) },
			func(_ State, reply string) State { return State{Architecture: reply} },
			logger),

		agents.Coder: agents.New(agents.Coder, chat,
			func(s State) string {
				feedback := ""
				if s.Decision == string(agents.DecisionRewrite) {
					feedback = s.Review
				}
				return agents.CoderPrompt(s.Architecture, feedback)
			},
			func(s State, reply string) State { return State{Code: reply, Cycles: s.Cycles + 1, Set: FieldCode} },
			logger),

		agents.Tester: agents.New(agents.Tester, chat,
			func(s State) string { return agents.TesterPrompt(s.Code) },
			func(_ State, reply string) State { return State{Tests: reply, Set: FieldTests} },
			logger),

		agents.Reviewer: agents.New(agents.Reviewer, chat,
			func(s State) string { return agents.ReviewerPrompt(s.Code, s.Tests) },
			func(_ State, reply string) State { return State{Review: reply, Set: FieldReview} },
			logger),

		agents.Manager: agents.New(agents.Manager, chat,
			func(s State) string { return agents.ManagerPrompt(s.Review) },
			func(_ State, reply string) State {
				return State{Decision: string(agents.ParseDecision(reply)), Set: FieldDecision}
			},
			logger),
	}
}

// buildEngine wires architect → coder → tester → reviewer → manager with the
// conditional manager edge back to coder.
func buildEngine(chat model.ChatModel, st store.Store[State], emitter emit.Emitter, cfg runnerConfig) (*graph.Engine[State], error) {
	opts := []graph.Option{graph.WithMaxSteps(maxSteps(cfg.maxCycles))}
	if cfg.metrics != nil {
		opts = append(opts, graph.WithMetrics(cfg.metrics))
	}
	engine := graph.New[State](Reduce, st, emitter, opts...)

	for id, node := range newNodes(chat, cfg.logger) {
		if err := engine.Add(id, node); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt(agents.Architect); err != nil {
		return nil, err
	}

	edges := []struct {
		from, to string
		when     graph.Predicate[State]
	}{
		{agents.Architect, agents.Coder, nil},
		{agents.Coder, agents.Tester, nil},
		{agents.Tester, agents.Reviewer, nil},
		{agents.Reviewer, agents.Manager, nil},
		{agents.Manager, agents.Coder, shouldRewrite(cfg.maxCycles)},
		{agents.Manager, graph.End, nil},
	}
	for _, e := range edges {
		if err := engine.Connect(e.from, e.to, e.when); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

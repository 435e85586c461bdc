package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codecraft/graph"
	"github.com/dshills/codecraft/graph/emit"
	"github.com/dshills/codecraft/graph/model"
	"github.com/dshills/codecraft/graph/store"
	"github.com/dshills/codecraft/internal/agents"
)

const testTask = "write a function that adds two numbers"

// roleOf identifies which agent issued a prompt.
func roleOf(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Design a high-level architecture"):
		return agents.Architect
	case strings.HasPrefix(prompt, "Write Python code"):
		return agents.Coder
	case strings.HasPrefix(prompt, "Write pytest"):
		return agents.Tester
	case strings.HasPrefix(prompt, "Review this code"):
		return agents.Reviewer
	case strings.HasPrefix(prompt, "You are a software manager"):
		return agents.Manager
	}
	return ""
}

// scriptedLLM answers each role from a list of replies, repeating the last
// one when the list runs out.
type scriptedLLM struct {
	mu      sync.Mutex
	replies map[string][]string
	fail    map[string]error
	calls   map[string]int
	prompts map[string][]string
}

func newScriptedLLM(replies map[string][]string) *scriptedLLM {
	return &scriptedLLM{
		replies: replies,
		fail:    map[string]error{},
		calls:   map[string]int{},
		prompts: map[string][]string{},
	}
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	prompt := messages[len(messages)-1].Content
	role := roleOf(prompt)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[role]++
	s.prompts[role] = append(s.prompts[role], prompt)
	if err := s.fail[role]; err != nil {
		return model.ChatOut{}, err
	}

	replies := s.replies[role]
	if len(replies) == 0 {
		return model.ChatOut{Model: "gpt-4o-mini"}, nil
	}
	i := s.calls[role] - 1
	if i >= len(replies) {
		i = len(replies) - 1
	}
	return model.ChatOut{
		Text:  replies[i],
		Model: "gpt-4o-mini",
		Usage: model.Usage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func (s *scriptedLLM) count(role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[role]
}

func approvingReplies() map[string][]string {
	return map[string][]string{
		agents.Architect: {"<arch text>"},
		agents.Coder:     {"<code text>"},
		agents.Tester:    {"<tests text>"},
		agents.Reviewer:  {"looks good, no changes needed"},
		agents.Manager:   {"Approve"},
	}
}

func TestRunner_ApproveSinglePass(t *testing.T) {
	llm := newScriptedLLM(approvingReplies())
	st := store.NewMemStore[State](0)
	em := emit.NewBufferedEmitter(10)

	r, err := NewRunner(llm, st, em)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), testTask)
	require.NoError(t, err)

	assert.Equal(t, "approve", res.FinalDecision)
	assert.Equal(t, OutcomeApproved, res.Outcome)
	assert.Equal(t, "<arch text>", res.Architecture)
	assert.Equal(t, "<code text>", res.Code)
	assert.Equal(t, "<tests text>", res.Tests)
	assert.Equal(t, "looks good, no changes needed", res.Review)
	assert.Equal(t, 1, res.Cycles)
	assert.NotEmpty(t, res.RunID)

	for _, role := range []string{agents.Architect, agents.Coder, agents.Tester, agents.Reviewer, agents.Manager} {
		assert.Equal(t, 1, llm.count(role), "calls to %s", role)
	}

	// One persisted step per node.
	steps, err := st.ListSteps(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 5)
	assert.Equal(t, agents.Architect, steps[0].NodeID)
	assert.Equal(t, agents.Manager, steps[4].NodeID)
	assert.Equal(t, testTask, steps[4].State.Task)

	latest, step, err := r.Latest(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 5, step)
	assert.Equal(t, "approve", latest.Decision)

	assert.NotEmpty(t, em.GetHistory(res.RunID))

	// 5 calls × (100 in, 50 out) tokens priced as gpt-4o-mini.
	assert.EqualValues(t, 500, res.Usage.InputTokens)
	assert.EqualValues(t, 250, res.Usage.OutputTokens)
	assert.InDelta(t, 500*0.15/1e6+250*0.60/1e6, res.Usage.CostUSD, 1e-12)

	// Each agent made one call.
	require.Len(t, res.Usage.CostByNode, 5)
	for _, role := range []string{agents.Architect, agents.Coder, agents.Tester, agents.Reviewer, agents.Manager} {
		assert.InDelta(t, 100*0.15/1e6+50*0.60/1e6, res.Usage.CostByNode[role], 1e-12, role)
	}
}

func TestRunner_StepsAndDelete(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore[State](0)

	r, err := NewRunner(newScriptedLLM(approvingReplies()), st, nil)
	require.NoError(t, err)

	res, err := r.Run(ctx, testTask)
	require.NoError(t, err)

	steps, err := r.Steps(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, steps, 5)
	assert.Equal(t, agents.Coder, steps[1].NodeID)
	assert.Equal(t, "<code text>", steps[1].State.Code)
	assert.Empty(t, steps[1].State.Tests)

	require.NoError(t, r.Delete(ctx, res.RunID))
	assert.Equal(t, 0, st.Len())

	_, err = r.Steps(ctx, res.RunID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, r.Delete(ctx, res.RunID), store.ErrNotFound)
}

func TestRunner_RewriteThenApprove(t *testing.T) {
	replies := approvingReplies()
	replies[agents.Coder] = []string{"code v1", "code v2"}
	replies[agents.Tester] = []string{"tests v1", "tests v2"}
	replies[agents.Reviewer] = []string{"error handling is weak", "fine now"}
	replies[agents.Manager] = []string{"I recommend a rewrite of the error handling", "approve"}
	llm := newScriptedLLM(replies)

	r, err := NewRunner(llm, nil, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), testTask)
	require.NoError(t, err)

	assert.Equal(t, "approve", res.FinalDecision)
	assert.Equal(t, "code v2", res.Code)
	assert.Equal(t, "tests v2", res.Tests)
	assert.Equal(t, "fine now", res.Review)
	assert.Equal(t, "<arch text>", res.Architecture)
	assert.Equal(t, 2, res.Cycles)

	assert.Equal(t, 1, llm.count(agents.Architect))
	assert.Equal(t, 2, llm.count(agents.Coder))
	assert.Equal(t, 2, llm.count(agents.Manager))

	// The second coder prompt keeps the architecture and carries the review.
	second := llm.prompts[agents.Coder][1]
	assert.Contains(t, second, "<arch text>")
	assert.Contains(t, second, "error handling is weak")
	assert.NotContains(t, llm.prompts[agents.Coder][0], "reviewer asked")
}

func TestRunner_EmptyReplyReplacesPreviousCycle(t *testing.T) {
	replies := approvingReplies()
	replies[agents.Coder] = []string{"code v1", ""}
	replies[agents.Tester] = []string{"tests v1", ""}
	replies[agents.Reviewer] = []string{"needs work", ""}
	replies[agents.Manager] = []string{"rewrite", "approve"}
	llm := newScriptedLLM(replies)

	r, err := NewRunner(llm, nil, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), testTask)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Cycles)
	assert.Empty(t, res.Code)
	assert.Empty(t, res.Tests)
	assert.Empty(t, res.Review)
	assert.Equal(t, "approve", res.FinalDecision)

	// The second tester saw the second coder's (empty) output.
	require.Len(t, llm.prompts[agents.Tester], 2)
	assert.Equal(t, agents.TesterPrompt(""), llm.prompts[agents.Tester][1])
	assert.NotContains(t, llm.prompts[agents.Tester][1], "code v1")
}

func TestRunner_FailedRunLeavesNoState(t *testing.T) {
	llm := newScriptedLLM(approvingReplies())
	llm.fail[agents.Reviewer] = context.DeadlineExceeded
	st := store.NewMemStore[State](0)

	r, err := NewRunner(llm, st, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), testTask)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))

	_, _, err = r.Latest(context.Background(), runErr.RunID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.ListSteps(context.Background(), runErr.RunID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, st.Len())
}

func TestRunner_CycleLimit(t *testing.T) {
	replies := approvingReplies()
	replies[agents.Manager] = []string{"rewrite"}

	for _, max := range []int{1, 3} {
		llm := newScriptedLLM(replies)
		r, err := NewRunner(llm, nil, nil, WithMaxCycles(max))
		require.NoError(t, err)

		res, err := r.Run(context.Background(), testTask)
		require.NoError(t, err, "max=%d", max)
		assert.Equal(t, OutcomeExhausted, res.Outcome)
		assert.Equal(t, "rewrite", res.FinalDecision)
		assert.Equal(t, max, res.Cycles)
		assert.Equal(t, max, llm.count(agents.Coder))
	}
}

func TestRunner_UnboundedLoop(t *testing.T) {
	replies := approvingReplies()
	replies[agents.Manager] = []string{"rewrite"}
	llm := newScriptedLLM(replies)

	// The loop only stops when the caller gives up.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	counting := &model.MockChatModel{Handler: func(ctx context.Context, msgs []model.Message) (model.ChatOut, error) {
		out, err := llm.Chat(ctx, msgs)
		if llm.count(agents.Coder) >= 10 && roleOf(msgs[0].Content) == agents.Manager {
			cancel()
		}
		return out, err
	}}
	r, err := NewRunner(counting, nil, nil, WithMaxCycles(0))
	require.NoError(t, err)
	assert.Equal(t, 0, r.MaxCycles())

	res, err := r.Run(ctx, testTask)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, llm.count(agents.Coder), 10)
}

func TestRunner_FailureClassification(t *testing.T) {
	authErr := model.FromResponse("openai", 401, "invalid_api_key", "bad key", nil)
	quotaErr := model.FromResponse("openai", 402, "", "Insufficient credits", nil)

	for _, role := range []string{agents.Architect, agents.Coder, agents.Tester, agents.Reviewer, agents.Manager} {
		t.Run(role, func(t *testing.T) {
			kinds := map[model.Kind]bool{}
			for _, injected := range []error{authErr, quotaErr} {
				llm := newScriptedLLM(approvingReplies())
				llm.fail[role] = injected

				r, err := NewRunner(llm, nil, nil)
				require.NoError(t, err)

				res, err := r.Run(context.Background(), testTask)
				require.Error(t, err)
				assert.Nil(t, res, "no partial state on failure")

				var runErr *RunError
				require.True(t, errors.As(err, &runErr))
				assert.NotEmpty(t, runErr.RunID)

				var nodeErr *graph.NodeError
				require.True(t, errors.As(err, &nodeErr))
				assert.Equal(t, role, nodeErr.NodeID)

				kind, ok := model.KindOf(err)
				require.True(t, ok)
				kinds[kind] = true
			}
			assert.True(t, kinds[model.KindAuth])
			assert.True(t, kinds[model.KindQuota])
		})
	}
}

func TestRunner_InputErrors(t *testing.T) {
	t.Run("empty task", func(t *testing.T) {
		llm := newScriptedLLM(approvingReplies())
		r, err := NewRunner(llm, nil, nil)
		require.NoError(t, err)

		_, err = r.Run(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrEmptyTask)
		assert.Zero(t, llm.count(agents.Architect))
	})

	t.Run("missing model", func(t *testing.T) {
		pm := graph.NewPrometheusMetrics(prometheus.NewRegistry())
		r, err := NewRunner(nil, nil, nil, WithMetrics(pm))
		require.NoError(t, err)

		_, err = r.Run(context.Background(), testTask)
		assert.ErrorIs(t, err, model.ErrMissingAPIKey)
	})
}

func TestRunner_Concurrent(t *testing.T) {
	llm := newScriptedLLM(approvingReplies())
	r, err := NewRunner(llm, store.NewMemStore[State](0), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Run(context.Background(), testTask)
			if assert.NoError(t, err) {
				ids[i] = res.RunID
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate run id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 8, llm.count(agents.Manager))
}

func TestReduce(t *testing.T) {
	s := Reduce(State{}, State{Task: "t"})
	s = Reduce(s, State{Architecture: "a1"})
	s = Reduce(s, State{Code: "c1", Cycles: 1, Set: FieldCode})
	s = Reduce(s, State{Decision: "rewrite", Set: FieldDecision})

	// Write-once fields survive later deltas.
	s = Reduce(s, State{Task: "other", Architecture: "a2", Code: "c2", Cycles: 2, Set: FieldCode})
	assert.Equal(t, "t", s.Task)
	assert.Equal(t, "a1", s.Architecture)
	assert.Equal(t, "c2", s.Code)
	assert.Equal(t, "rewrite", s.Decision)
	assert.Equal(t, 2, s.Cycles)
	assert.Zero(t, s.Set)

	// Empty delta leaves state unchanged.
	assert.Equal(t, s, Reduce(s, State{}))

	// Unmarked fields are ignored, marked ones replace even when empty.
	assert.Equal(t, "c2", Reduce(s, State{Code: "c3"}).Code)
	cleared := Reduce(s, State{Set: FieldCode | FieldDecision})
	assert.Empty(t, cleared.Code)
	assert.Empty(t, cleared.Decision)
	assert.Equal(t, "a1", cleared.Architecture)
}

func TestShouldRewrite(t *testing.T) {
	bounded := shouldRewrite(2)
	assert.True(t, bounded(State{Decision: "rewrite", Cycles: 1}))
	assert.False(t, bounded(State{Decision: "rewrite", Cycles: 2}))
	assert.False(t, bounded(State{Decision: "approve", Cycles: 1}))
	assert.False(t, bounded(State{Cycles: 1}))

	unbounded := shouldRewrite(0)
	assert.True(t, unbounded(State{Decision: "rewrite", Cycles: 1000}))

	assert.Equal(t, 0, maxSteps(0))
	assert.Equal(t, 13, maxSteps(3))
}

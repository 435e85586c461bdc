package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/codecraft/graph/emit"
	"github.com/dshills/codecraft/graph/store"
)

// counterState is a small state type for engine tests.
type counterState struct {
	Trail []string
	Count int
	Flag  bool
}

func counterReducer(prev, delta counterState) counterState {
	prev.Trail = append(append([]string(nil), prev.Trail...), delta.Trail...)
	prev.Count += delta.Count
	if delta.Flag {
		prev.Flag = true
	}
	return prev
}

// visit returns a node that appends its name to the trail.
func visit(name string) Node[counterState] {
	return NodeFunc[counterState](func(_ context.Context, _ counterState) NodeResult[counterState] {
		return NodeResult[counterState]{Delta: counterState{Trail: []string{name}, Count: 1}}
	})
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine[counterState], *store.MemStore[counterState], *emit.BufferedEmitter) {
	t.Helper()
	st := store.NewMemStore[counterState](0)
	em := emit.NewBufferedEmitter(10)
	return New[counterState](counterReducer, st, em, opts...), st, em
}

func TestEngine_ConstructionErrors(t *testing.T) {
	t.Run("empty node id", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		if err := e.Add("", visit("a")); err == nil {
			t.Error("expected error for empty node ID")
		}
	})

	t.Run("reserved node id", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		err := e.Add(End, visit("a"))
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "RESERVED_NODE" {
			t.Errorf("err = %v, want RESERVED_NODE", err)
		}
	})

	t.Run("nil node", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		if err := e.Add("a", nil); err == nil {
			t.Error("expected error for nil node")
		}
	})

	t.Run("duplicate node", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		_ = e.Add("a", visit("a"))
		err := e.Add("a", visit("a"))
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "DUPLICATE_NODE" {
			t.Errorf("err = %v, want DUPLICATE_NODE", err)
		}
	})

	t.Run("start at unknown node", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		err := e.StartAt("ghost")
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "NODE_NOT_FOUND" {
			t.Errorf("err = %v, want NODE_NOT_FOUND", err)
		}
	})

	t.Run("edge out of End", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		if err := e.Connect(End, "a", nil); err == nil {
			t.Error("expected error for edge leaving End")
		}
	})

	t.Run("negative max steps", func(t *testing.T) {
		e, _, _ := newTestEngine(t, WithMaxSteps(-1))
		_ = e.Add("a", visit("a"))
		_ = e.StartAt("a")
		_, err := e.Run(context.Background(), "r", counterState{})
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "INVALID_OPTION" {
			t.Errorf("err = %v, want INVALID_OPTION", err)
		}
	})
}

func TestEngine_RunValidation(t *testing.T) {
	tests := []struct {
		name   string
		engine func() *Engine[counterState]
		code   string
	}{
		{
			name: "missing reducer",
			engine: func() *Engine[counterState] {
				return New[counterState](nil, store.NewMemStore[counterState](0), nil)
			},
			code: "MISSING_REDUCER",
		},
		{
			name: "missing store",
			engine: func() *Engine[counterState] {
				return New[counterState](counterReducer, nil, nil)
			},
			code: "MISSING_STORE",
		},
		{
			name: "no start node",
			engine: func() *Engine[counterState] {
				return New[counterState](counterReducer, store.NewMemStore[counterState](0), nil)
			},
			code: "NO_START_NODE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.engine().Run(context.Background(), "r", counterState{})
			var engErr *EngineError
			if !errors.As(err, &engErr) || engErr.Code != tt.code {
				t.Errorf("err = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestEngine_LinearRun(t *testing.T) {
	e, st, em := newTestEngine(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := e.Add(id, visit(id)); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	_ = e.StartAt("a")
	_ = e.Connect("a", "b", nil)
	_ = e.Connect("b", "c", nil)
	_ = e.Connect("c", End, nil)

	final, err := e.Run(context.Background(), "run-1", counterState{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := strings.Join(final.Trail, ","); got != "a,b,c" {
		t.Errorf("trail = %q, want a,b,c", got)
	}

	steps, err := st.ListSteps(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 3 || steps[2].State.Count != 3 {
		t.Errorf("persisted steps = %+v", steps)
	}

	events := em.GetHistory("run-1")
	wantMsgs := []string{
		"node_start", "node_end", "routing_decision",
		"node_start", "node_end", "routing_decision",
		"node_start", "node_end", "routing_decision",
	}
	if len(events) != len(wantMsgs) {
		t.Fatalf("got %d events, want %d", len(events), len(wantMsgs))
	}
	for i, ev := range events {
		if ev.Msg != wantMsgs[i] {
			t.Errorf("event %d msg = %q, want %q", i, ev.Msg, wantMsgs[i])
		}
	}
	if next := events[8].Meta["next"]; next != End {
		t.Errorf("final routing next = %v, want %s", next, End)
	}
}

func TestEngine_ConditionalRouting(t *testing.T) {
	t.Run("first matching edge wins", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		_ = e.Add("gate", visit("gate"))
		_ = e.Add("yes", visit("yes"))
		_ = e.Add("no", visit("no"))
		_ = e.StartAt("gate")
		_ = e.Connect("gate", "yes", func(s counterState) bool { return s.Count > 5 })
		_ = e.Connect("gate", "no", nil)
		_ = e.Connect("yes", End, nil)
		_ = e.Connect("no", End, nil)

		final, err := e.Run(context.Background(), "r", counterState{})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if final.Trail[1] != "no" {
			t.Errorf("trail = %v, want gate,no", final.Trail)
		}

		final, err = e.Run(context.Background(), "r2", counterState{Count: 10})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if final.Trail[1] != "yes" {
			t.Errorf("trail = %v, want gate,yes", final.Trail)
		}
	})

	t.Run("loop until predicate fails", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		_ = e.Add("work", visit("work"))
		_ = e.StartAt("work")
		_ = e.Connect("work", "work", func(s counterState) bool { return s.Count < 4 })
		_ = e.Connect("work", End, nil)

		final, err := e.Run(context.Background(), "r", counterState{})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if final.Count != 4 {
			t.Errorf("Count = %d, want 4", final.Count)
		}
	})

	t.Run("no route", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		_ = e.Add("a", visit("a"))
		_ = e.StartAt("a")
		_ = e.Connect("a", End, func(counterState) bool { return false })

		_, err := e.Run(context.Background(), "r", counterState{})
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "NO_ROUTE" {
			t.Errorf("err = %v, want NO_ROUTE", err)
		}
	})

	t.Run("route to unknown node", func(t *testing.T) {
		e, _, _ := newTestEngine(t)
		_ = e.Add("a", visit("a"))
		_ = e.StartAt("a")
		_ = e.Connect("a", "ghost", nil)

		_, err := e.Run(context.Background(), "r", counterState{})
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "NODE_NOT_FOUND" {
			t.Errorf("err = %v, want NODE_NOT_FOUND", err)
		}
	})
}

func TestEngine_NodeError(t *testing.T) {
	cause := errors.New("upstream exploded")

	e, _, em := newTestEngine(t)
	_ = e.Add("a", visit("a"))
	_ = e.Add("b", NodeFunc[counterState](func(context.Context, counterState) NodeResult[counterState] {
		return NodeResult[counterState]{Err: cause}
	}))
	_ = e.Add("c", visit("c"))
	_ = e.StartAt("a")
	_ = e.Connect("a", "b", nil)
	_ = e.Connect("b", "c", nil)
	_ = e.Connect("c", End, nil)

	final, err := e.Run(context.Background(), "run-err", counterState{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false; err = %v", err)
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != "b" {
		t.Errorf("err = %v, want NodeError for node b", err)
	}

	// No partial state is returned, even though node a succeeded.
	if len(final.Trail) != 0 || final.Count != 0 {
		t.Errorf("expected zero state, got %+v", final)
	}

	errEvents := em.GetHistoryWithFilter("run-err", emit.HistoryFilter{Msg: "node_error"})
	if len(errEvents) != 1 || errEvents[0].NodeID != "b" {
		t.Errorf("node_error events = %+v", errEvents)
	}
	if len(em.GetHistoryWithFilter("run-err", emit.HistoryFilter{NodeID: "c"})) != 0 {
		t.Error("node c should not have run")
	}
}

func TestEngine_MaxSteps(t *testing.T) {
	e, _, _ := newTestEngine(t, WithMaxSteps(5))
	_ = e.Add("spin", visit("spin"))
	_ = e.StartAt("spin")
	_ = e.Connect("spin", "spin", nil)

	_, err := e.Run(context.Background(), "r", counterState{})
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Errorf("err = %v, want ErrMaxStepsExceeded", err)
	}
}

func TestEngine_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	e, _, _ := newTestEngine(t)
	_ = e.Add("spin", NodeFunc[counterState](func(context.Context, counterState) NodeResult[counterState] {
		calls++
		if calls == 3 {
			cancel()
		}
		return NodeResult[counterState]{Delta: counterState{Count: 1}}
	}))
	_ = e.StartAt("spin")
	_ = e.Connect("spin", "spin", nil)

	_, err := e.Run(ctx, "r", counterState{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

type failingStore struct {
	store.MemStore[counterState]
}

func (f *failingStore) SaveStep(context.Context, string, int, string, counterState) error {
	return errors.New("disk full")
}

func TestEngine_StoreError(t *testing.T) {
	e := New[counterState](counterReducer, &failingStore{}, nil)
	_ = e.Add("a", visit("a"))
	_ = e.StartAt("a")
	_ = e.Connect("a", End, nil)

	_, err := e.Run(context.Background(), "r", counterState{})
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != "STORE_ERROR" {
		t.Errorf("err = %v, want STORE_ERROR", err)
	}
}

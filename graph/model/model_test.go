package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
)

func TestFromResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   Kind
	}{
		{"unauthorized", 401, "", KindAuth},
		{"forbidden", 403, "", KindAuth},
		{"openrouter credits", 402, "", KindQuota},
		{"rate limited", 429, "", KindQuota},
		{"quota code on 400", 400, "insufficient_quota", KindQuota},
		{"invalid key code", 400, "invalid_api_key", KindAuth},
		{"server error", 500, "", KindOther},
		{"bad request", 400, "invalid_request_error", KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromResponse("openai", tt.status, tt.code, "msg", nil)
			if err.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", err.Kind, tt.want)
			}
		})
	}
}

func TestFromTransport(t *testing.T) {
	t.Run("context cancellation passes through", func(t *testing.T) {
		err := FromTransport("openai", fmt.Errorf("post: %w", context.Canceled))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if _, ok := KindOf(err); ok {
			t.Error("cancellation should not be classified")
		}
	})

	t.Run("network error is transport", func(t *testing.T) {
		cause := &url.Error{Op: "Post", URL: "https://example.invalid", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}
		kind, ok := KindOf(FromTransport("openai", cause))
		if !ok || kind != KindTransport {
			t.Errorf("KindOf = (%q, %v), want transport", kind, ok)
		}
	})

	t.Run("anything else is other", func(t *testing.T) {
		kind, _ := KindOf(FromTransport("openai", errors.New("decode failed")))
		if kind != KindOther {
			t.Errorf("Kind = %q, want other", kind)
		}
	})

	t.Run("nil", func(t *testing.T) {
		if FromTransport("openai", nil) != nil {
			t.Error("expected nil")
		}
	})
}

func TestKindOfWrapped(t *testing.T) {
	inner := FromResponse("anthropic", 401, "", "bad key", nil)
	wrapped := fmt.Errorf("node coder: %w", inner)

	kind, ok := KindOf(wrapped)
	if !ok || kind != KindAuth {
		t.Errorf("KindOf = (%q, %v), want auth", kind, ok)
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain error should not classify")
	}
}

func TestErrorMessage(t *testing.T) {
	err := FromResponse("openai", 402, "", "Insufficient credits", nil)
	want := "openai quota error (status 402): Insufficient credits"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestMockChatModel(t *testing.T) {
	ctx := context.Background()

	t.Run("responses in order then repeat last", func(t *testing.T) {
		m := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
		var got []string
		for i := 0; i < 3; i++ {
			out, err := m.Chat(ctx, []Message{{Role: RoleUser, Content: "hi"}})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got = append(got, out.Text)
		}
		if fmt.Sprint(got) != "[a b b]" {
			t.Errorf("got %v, want [a b b]", got)
		}
		if m.CallCount() != 3 {
			t.Errorf("CallCount = %d, want 3", m.CallCount())
		}
		m.Reset()
		if m.CallCount() != 0 {
			t.Error("Reset did not clear calls")
		}
	})

	t.Run("error", func(t *testing.T) {
		m := &MockChatModel{Err: ErrMissingAPIKey}
		if _, err := m.Chat(ctx, nil); !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("err = %v, want ErrMissingAPIKey", err)
		}
	})

	t.Run("handler", func(t *testing.T) {
		m := &MockChatModel{Handler: func(_ context.Context, msgs []Message) (ChatOut, error) {
			return ChatOut{Text: "echo " + msgs[0].Content}, nil
		}}
		out, _ := m.Chat(ctx, []Message{{Role: RoleUser, Content: "x"}})
		if out.Text != "echo x" {
			t.Errorf("Text = %q", out.Text)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		m := &MockChatModel{Responses: []ChatOut{{Text: "a"}}}
		if _, err := m.Chat(cctx, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

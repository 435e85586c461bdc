package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests.
//
// Responses are returned in order; once exhausted the last one repeats.
// Handler, when set, takes precedence over Responses and Err.
type MockChatModel struct {
	Responses []ChatOut

	// Err is returned from every call when set.
	Err error

	// Handler computes the reply for each call.
	Handler func(ctx context.Context, messages []Message) (ChatOut, error)

	// Calls records the messages of every call.
	Calls [][]Message

	mu        sync.Mutex
	callIndex int
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, messages)
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, messages)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears recorded calls and rewinds Responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat calls made.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

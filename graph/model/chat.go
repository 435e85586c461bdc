// Package model provides the LLM client boundary used by workflow nodes.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// This interface abstracts the differences between providers (OpenAI and
// OpenRouter, Anthropic, Google) behind a single call.
//
// Implementations must:
//   - Return ErrMissingAPIKey before any network I/O when unconfigured
//   - Translate provider failures into *Error with a Kind
//   - Respect context cancellation and timeouts
//   - Not retry; a failed call is reported once
//
// Example usage:
//
//	m, err := openai.New(openai.Config{APIKey: key, Model: "openai/gpt-4o-mini"})
//	out, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: prompt}})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(out.Text)
type ChatModel interface {
	// Chat sends messages to the LLM and returns the text completion.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message represents a single message in a conversation.
type Message struct {
	// Role identifies the message sender: RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// Standard message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Usage reports token consumption of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatOut represents the response from an LLM chat call.
type ChatOut struct {
	// Text is the completion content.
	Text string

	// Model is the model that served the request, as reported by the
	// provider when available, otherwise the configured model.
	Model string

	// Usage holds token counts. Zero when the provider does not report them.
	Usage Usage
}

// Package openai adapts the official openai-go SDK to model.ChatModel.
//
// The default base URL is OpenRouter's OpenAI-compatible endpoint, so any
// OpenRouter model slug ("openai/gpt-4o-mini", "meta-llama/...") works.
package openai

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/codecraft/graph/model"
)

const providerName = "openai"

// Defaults used when Config fields are empty.
const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "openai/gpt-4o-mini"
)

// Config configures a ChatModel.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// Referer and Title are sent as HTTP-Referer and X-Title, which OpenRouter
	// uses for app attribution. Empty values are not sent.
	Referer string
	Title   string

	// Extra client options, mostly for tests (e.g. option.WithHTTPClient).
	Options []option.RequestOption
}

// ChatModel implements model.ChatModel over the Chat Completions API.
//
// Requests use temperature 0 and SDK retries are disabled.
type ChatModel struct {
	client    sdk.Client
	modelName string
}

// New creates a ChatModel. Returns model.ErrMissingAPIKey when cfg.APIKey is
// empty.
func New(cfg Config) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, model.ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/"),
		option.WithMaxRetries(0),
	}
	if cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.Title != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.Title))
	}
	opts = append(opts, cfg.Options...)

	return &ChatModel{
		client:    sdk.NewClient(opts...),
		modelName: cfg.Model,
	}, nil
}

// Name returns the configured model name.
func (m *ChatModel) Name() string {
	return m.modelName
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	completion, err := m.client.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(m.modelName),
		Messages:    convertMessages(messages),
		Temperature: sdk.Float(0),
	})
	if err != nil {
		return model.ChatOut{}, classify(err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, &model.Error{
			Kind:     model.KindOther,
			Provider: providerName,
			Message:  "response contained no choices",
		}
	}

	out := model.ChatOut{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	if out.Model == "" {
		out.Model = m.modelName
	}
	return out, nil
}

func convertMessages(messages []model.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, sdk.AssistantMessage(msg.Content))
		default:
			out = append(out, sdk.UserMessage(msg.Content))
		}
	}
	return out
}

// classify maps SDK errors onto the model error taxonomy.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = err.Error()
		}
		return model.FromResponse(providerName, apiErr.StatusCode, apiErr.Code, msg, err)
	}
	return model.FromTransport(providerName, err)
}

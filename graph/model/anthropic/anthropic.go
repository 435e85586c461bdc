// Package anthropic adapts the official anthropic-sdk-go SDK to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/codecraft/graph/model"
)

const providerName = "anthropic"

// Defaults used when Config fields are empty.
const (
	DefaultModel     = "claude-3-5-haiku-latest"
	DefaultMaxTokens = 4096
)

// Config configures a ChatModel.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string // empty uses the SDK default
	MaxTokens int64
	Options   []option.RequestOption
}

// ChatModel implements model.ChatModel over the Messages API.
//
// System messages are lifted into the request's system prompt. Requests use
// temperature 0 and SDK retries are disabled.
type ChatModel struct {
	client    sdk.Client
	modelName string
	maxTokens int64
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
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	opts = append(opts, cfg.Options...)

	return &ChatModel{
		client:    sdk.NewClient(opts...),
		modelName: cfg.Model,
		maxTokens: cfg.MaxTokens,
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

	params := sdk.MessageNewParams{
		Model:       sdk.Model(m.modelName),
		MaxTokens:   m.maxTokens,
		Temperature: sdk.Float(0),
	}
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			params.System = append(params.System, sdk.TextBlockParam{Text: msg.Content})
		case model.RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := model.ChatOut{
		Text:  text.String(),
		Model: string(resp.Model),
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	if out.Model == "" {
		out.Model = m.modelName
	}
	return out, nil
}

// errorBody is the JSON body of an Anthropic API error.
type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func classify(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return model.FromTransport(providerName, err)
	}

	var body errorBody
	_ = json.Unmarshal([]byte(apiErr.RawJSON()), &body)

	code, msg := body.Error.Type, body.Error.Message
	if msg == "" {
		msg = err.Error()
	}
	// Exhausted prepaid credit comes back as a 400 invalid_request_error.
	if code == "invalid_request_error" && strings.Contains(strings.ToLower(msg), "credit balance") {
		code = "billing_error"
	}
	return model.FromResponse(providerName, apiErr.StatusCode, code, msg, err)
}

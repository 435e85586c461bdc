// Package google adapts the generative-ai-go SDK (Gemini) to model.ChatModel.
package google

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dshills/codecraft/graph/model"
)

const providerName = "google"

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// Config configures a ChatModel.
type Config struct {
	APIKey  string
	Model   string
	Options []option.ClientOption
}

// ChatModel implements model.ChatModel over the Gemini API.
//
// System messages become the system instruction, earlier turns become chat
// history and the final user message is sent. Temperature is 0.
type ChatModel struct {
	client    generator
	modelName string
	closer    func() error
}

// generator is the subset of the SDK used by ChatModel; tests substitute it.
type generator interface {
	generate(ctx context.Context, system string, history []*genai.Content, prompt string) (*genai.GenerateContentResponse, error)
}

// New creates a ChatModel. Returns model.ErrMissingAPIKey when cfg.APIKey is
// empty. Call Close to release the underlying client.
func New(ctx context.Context, cfg Config) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, model.ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, cfg.Options...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, model.FromTransport(providerName, err)
	}

	return &ChatModel{
		client:    &sdkGenerator{client: client, modelName: cfg.Model},
		modelName: cfg.Model,
		closer:    client.Close,
	}, nil
}

// Name returns the configured model name.
func (m *ChatModel) Name() string {
	return m.modelName
}

// Close releases the SDK client.
func (m *ChatModel) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	system, history, prompt := splitMessages(messages)

	resp, err := m.client.generate(ctx, system, history, prompt)
	if err != nil {
		return model.ChatOut{}, classify(err)
	}

	out := model.ChatOut{Text: responseText(resp), Model: m.modelName}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// splitMessages converts the conversation to Gemini's shape: a system
// instruction, prior turns, and the prompt to send.
func splitMessages(messages []model.Message) (system string, history []*genai.Content, prompt string) {
	var sys []string
	var turns []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			sys = append(sys, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	system = strings.Join(sys, "\n\n")

	if n := len(turns); n > 0 && turns[n-1].Role != model.RoleAssistant {
		prompt = turns[n-1].Content
		turns = turns[:n-1]
	}
	for _, msg := range turns {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return system, history, prompt
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

// reasonCodes maps Google error reasons onto codes the taxonomy recognizes.
var reasonCodes = map[string]string{
	"API_KEY_INVALID":         "invalid_api_key",
	"API_KEY_SERVICE_BLOCKED": "PERMISSION_DENIED",
	"RATE_LIMIT_EXCEEDED":     "RESOURCE_EXHAUSTED",
	"RESOURCE_EXHAUSTED":      "RESOURCE_EXHAUSTED",
}

// apiError is satisfied by gax's *apierror.APIError, which wraps most SDK
// failures.
type apiError interface {
	error
	HTTPCode() int
	Reason() string
}

func classify(err error) error {
	var gaxErr apiError
	if errors.As(err, &gaxErr) && gaxErr.HTTPCode() > 0 {
		return model.FromResponse(providerName, gaxErr.HTTPCode(), reasonCodes[gaxErr.Reason()], gaxErr.Error(), err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		code := ""
		for _, item := range gerr.Errors {
			if c, ok := reasonCodes[item.Reason]; ok {
				code = c
				break
			}
		}
		msg := gerr.Message
		if msg == "" {
			msg = err.Error()
		}
		return model.FromResponse(providerName, gerr.Code, code, msg, err)
	}
	return model.FromTransport(providerName, err)
}

// sdkGenerator calls the real SDK.
type sdkGenerator struct {
	client    *genai.Client
	modelName string
}

func (g *sdkGenerator) generate(ctx context.Context, system string, history []*genai.Content, prompt string) (*genai.GenerateContentResponse, error) {
	gm := g.client.GenerativeModel(g.modelName)
	gm.SetTemperature(0)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := gm.StartChat()
	cs.History = history
	return cs.SendMessage(ctx, genai.Text(prompt))
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

var (
	ErrMissingToken  = errors.New("missing API token")
	ErrEmptyResponse = errors.New("no response")
)

// OpenAI is an llms.Model backed by an OpenAI-compatible chat completion API.
type OpenAI struct {
	client           *openai.Client
	model            string
	CallbacksHandler callbacks.Handler
}

var _ llms.Model = (*OpenAI)(nil)

// NewOpenAI creates a model client.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.token == "" {
		return nil, fmt.Errorf("%w: pass provider.WithToken or set OPENAI_API_KEY", ErrMissingToken)
	}

	cfg := openai.DefaultConfig(o.token)
	if o.baseURL != "" {
		cfg.BaseURL = strings.TrimRight(o.baseURL, "/")
	}
	if o.organization != "" {
		cfg.OrgID = o.organization
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	return &OpenAI{
		client:           openai.NewClientWithConfig(cfg),
		model:            o.model,
		CallbacksHandler: o.callbacksHandler,
	}, nil
}

// Call generates a response from the model for the given prompt.
func (m *OpenAI) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent implements the Model interface.
func (m *OpenAI) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.CallbacksHandler != nil {
		m.CallbacksHandler.HandleLLMGenerateContentStart(ctx, messages)
	}

	opts := &llms.CallOptions{}
	for _, opt := range options {
		opt(opts)
	}

	req := openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    chatMessages(messages),
		Temperature: float32(opts.Temperature),
		TopP:        float32(opts.TopP),
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.StopWords,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}

	result, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, m.fail(ctx, err)
	}
	if len(result.Choices) == 0 {
		return nil, m.fail(ctx, ErrEmptyResponse)
	}

	resp := &llms.ContentResponse{}
	for _, c := range result.Choices {
		resp.Choices = append(resp.Choices, &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"prompt_tokens":     result.Usage.PromptTokens,
				"completion_tokens": result.Usage.CompletionTokens,
				"total_tokens":      result.Usage.TotalTokens,
			},
		})
	}

	if m.CallbacksHandler != nil {
		m.CallbacksHandler.HandleLLMGenerateContentEnd(ctx, resp)
	}
	return resp, nil
}

func (m *OpenAI) fail(ctx context.Context, err error) error {
	if m.CallbacksHandler != nil {
		m.CallbacksHandler.HandleLLMError(ctx, err)
	}
	return err
}

func chatMessages(messages []llms.MessageContent) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case llms.ChatMessageTypeSystem:
			role = openai.ChatMessageRoleSystem
		case llms.ChatMessageTypeAI:
			role = openai.ChatMessageRoleAssistant
		default:
			role = openai.ChatMessageRoleUser
		}

		var content strings.Builder
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				content.WriteString(text.Text)
			}
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: content.String()})
	}
	return out
}

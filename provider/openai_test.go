package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

func newServer(t *testing.T, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okReply = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func TestGenerateContent(t *testing.T) {
	var got chatRequest
	srv := newServer(t, okReply, &got)
	m, err := NewOpenAI(WithToken("test-key"), WithBaseURL(srv.URL), WithModel("test-model"))
	require.NoError(t, err)

	resp, err := m.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "Be brief."),
		llms.TextParts(llms.ChatMessageTypeHuman, "hi"),
		llms.TextParts(llms.ChatMessageTypeAI, "hello"),
		llms.TextParts(llms.ChatMessageTypeHuman, "again"),
	}, llms.WithMaxTokens(50), llms.WithTemperature(0.5))
	require.NoError(t, err)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello!", resp.Choices[0].Content)
	assert.Equal(t, "stop", resp.Choices[0].StopReason)
	assert.Equal(t, 15, resp.Choices[0].GenerationInfo["total_tokens"])

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 50, got.MaxTokens)
	assert.InDelta(t, 0.5, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 4)
	var roles []string
	for _, msg := range got.Messages {
		roles = append(roles, msg.Role)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	assert.Equal(t, "again", got.Messages[3].Content)
}

func TestCallOverridesModel(t *testing.T) {
	var got chatRequest
	srv := newServer(t, okReply, &got)
	m, err := NewOpenAI(WithToken("test-key"), WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	out, err := m.Call(context.Background(), "hi", llms.WithModel("other"))
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)
	assert.Equal(t, "other", got.Model)
}

func TestEmptyChoices(t *testing.T) {
	srv := newServer(t, `{"choices": []}`, nil)
	m, err := NewOpenAI(WithToken("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = m.Call(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
	}))
	defer srv.Close()

	m, err := NewOpenAI(WithToken("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = m.Call(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestMissingToken(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAI()
	assert.ErrorIs(t, err, ErrMissingToken)
}

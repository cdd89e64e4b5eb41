package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/chatpipe/pipeline"
)

// MockModel replies with a fixed sequence of answers and records every call.
type MockModel struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	block   bool
	calls   [][]llms.MessageContent
}

func (m *MockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	i := len(m.calls)
	m.calls = append(m.calls, messages)
	block := m.block
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	reply := ""
	if len(m.replies) > 0 {
		reply = m.replies[min(i, len(m.replies)-1)]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *MockModel) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// transcript renders messages as "role: text" lines for assertions.
func transcript(msgs []llms.MessageContent) []string {
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		var parts []string
		for _, p := range msg.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				parts = append(parts, tc.Text)
			}
		}
		out = append(out, string(msg.Role)+": "+strings.Join(parts, ""))
	}
	return out
}

// MockTool echoes its input with a prefix.
type MockTool struct {
	name string
	err  error
}

func (t *MockTool) Name() string        { return t.name }
func (t *MockTool) Description() string { return "test tool" }
func (t *MockTool) Call(_ context.Context, input string) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	return "result for " + input, nil
}

var errProvider = errors.New("provider unavailable")

func compile(t testing.TB, src string) *pipeline.Graph {
	t.Helper()
	def, err := pipeline.Parse([]byte(src))
	require.NoError(t, err)
	g, err := pipeline.Compile(def)
	require.NoError(t, err)
	return g
}

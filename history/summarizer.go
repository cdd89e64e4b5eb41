package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Summarizer collapses a run of messages into one summary text.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []Message) (string, error)
}

// DefaultSummaryPrompt introduces the transcript sent to the summarizing model.
const DefaultSummaryPrompt = "Summarize the following conversation so it can replace the original messages. " +
	"Keep names, facts, decisions and open questions. Reply with the summary only.\n\n"

// ModelSummarizer summarizes with an llms.Model, retrying failed calls.
type ModelSummarizer struct {
	Model       llms.Model
	Prompt      string
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// NewModelSummarizer returns a summarizer with three attempts.
func NewModelSummarizer(model llms.Model) *ModelSummarizer {
	return &ModelSummarizer{
		Model:       model,
		Prompt:      DefaultSummaryPrompt,
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
	}
}

// Summarize implements Summarizer.
func (s *ModelSummarizer) Summarize(ctx context.Context, msgs []Message) (string, error) {
	if s.Model == nil {
		return "", errors.New("summarizer has no model")
	}
	var b strings.Builder
	b.WriteString(s.Prompt)
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	prompt := b.String()

	attempts := max(s.MaxAttempts, 1)
	delay := s.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := s.generate(ctx, prompt)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				return "", errors.New("summarizer returned empty text")
			}
			return text, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("summarization failed after %d attempts: %w", attempts, lastErr)
}

func (s *ModelSummarizer) generate(ctx context.Context, prompt string) (string, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return llms.GenerateFromSinglePrompt(ctx, s.Model, prompt)
}

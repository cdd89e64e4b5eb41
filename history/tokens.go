package history

import (
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
)

// messageOverhead approximates the per-message framing tokens of chat APIs.
const messageOverhead = 4

// TokenCounter counts tokens in a piece of text.
type TokenCounter interface {
	CountTokens(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

// CountTokens implements TokenCounter.
func (f TokenCounterFunc) CountTokens(text string) int { return f(text) }

// ApproxCounter estimates one token per four characters.
type ApproxCounter struct{}

// CountTokens implements TokenCounter.
func (ApproxCounter) CountTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// ModelCounter counts tokens with the tokenizer of a model family.
type ModelCounter struct {
	Model string
}

// CountTokens implements TokenCounter.
func (c ModelCounter) CountTokens(text string) int {
	return llms.CountTokens(c.Model, text)
}

// CountMessages returns the token count of msgs including framing overhead.
func CountMessages(counter TokenCounter, msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += counter.CountTokens(m.Content) + messageOverhead
	}
	return total
}

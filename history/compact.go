package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/store"
)

// ErrNoSummarizer is returned when the summarize policy runs without a summarizer.
var ErrNoSummarizer = errors.New("no summarizer configured")

// Compactor applies a ChannelConfig to a message list.
type Compactor struct {
	Counter    TokenCounter
	Summarizer Summarizer
	Logger     log.Logger
}

// Compact returns msgs compacted according to cfg. The input slice is never
// modified. A summarize failure falls back to truncate_tokens and is only
// logged.
func (c *Compactor) Compact(ctx context.Context, msgs []Message, cfg ChannelConfig) ([]Message, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	counter := c.Counter
	if counter == nil {
		counter = ApproxCounter{}
	}

	switch cfg.Policy {
	case PolicyMaxHistoryLength:
		return keepLast(msgs, cfg.MaxLength), nil
	case PolicyTruncateTokens:
		return truncateTokens(msgs, cfg.TokenLimit, counter), nil
	case PolicySummarize:
		if CountMessages(counter, msgs) <= cfg.TokenLimit {
			return store.CloneMessages(msgs), nil
		}
		out, err := c.summarize(ctx, msgs, cfg.KeepLast)
		if err != nil {
			c.logger().Warn("history summarization failed, truncating instead: %v", err)
			return truncateTokens(msgs, cfg.TokenLimit, counter), nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, cfg.Policy)
	}
}

func (c *Compactor) summarize(ctx context.Context, msgs []Message, keep int) ([]Message, error) {
	if len(msgs) <= keep {
		return store.CloneMessages(msgs), nil
	}
	older := msgs[:len(msgs)-keep]
	if len(older) == 1 && older[0].Summary {
		return store.CloneMessages(msgs), nil
	}
	if c.Summarizer == nil {
		return nil, ErrNoSummarizer
	}
	text, err := c.Summarizer.Summarize(ctx, older)
	if err != nil {
		return nil, err
	}
	summary := store.NewMessage(store.RoleSystem, text)
	summary.Summary = true
	out := make([]Message, 0, keep+1)
	out = append(out, summary)
	return append(out, store.CloneMessages(msgs[len(msgs)-keep:])...), nil
}

func (c *Compactor) logger() log.Logger {
	if c.Logger == nil {
		return log.GetDefaultLogger()
	}
	return c.Logger
}

func keepLast(msgs []Message, n int) []Message {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return store.CloneMessages(msgs)
}

// truncateTokens drops the oldest messages until the channel fits limit,
// skipping the most recent user message.
func truncateTokens(msgs []Message, limit int, counter TokenCounter) []Message {
	out := store.CloneMessages(msgs)
	protected := -1
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == store.RoleUser {
			protected = i
			break
		}
	}

	total := CountMessages(counter, out)
	for total > limit && len(out) > 0 {
		drop := 0
		if drop == protected {
			if len(out) == 1 {
				break
			}
			drop = 1
		}
		total -= counter.CountTokens(out[drop].Content) + messageOverhead
		out = append(out[:drop], out[drop+1:]...)
		if drop < protected {
			protected--
		}
	}
	return out
}

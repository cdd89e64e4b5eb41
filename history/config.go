package history

import (
	"errors"
	"fmt"

	"github.com/smallnest/chatpipe/store"
)

// Message is a single history entry.
type Message = store.Message

// DefaultChannel is used when a node does not name a channel.
const DefaultChannel = "default"

// Policy selects how an over-budget channel is compacted.
type Policy string

const (
	PolicySummarize        Policy = "summarize"
	PolicyTruncateTokens   Policy = "truncate_tokens"
	PolicyMaxHistoryLength Policy = "max_history_length"
)

// Defaults applied to zero-valued ChannelConfig fields.
const (
	DefaultTokenLimit = 4096
	DefaultKeepLast   = 10
	DefaultMaxLength  = 50
)

// ErrInvalidConfig is returned for channel configurations that cannot be applied.
var ErrInvalidConfig = errors.New("invalid history configuration")

// ChannelConfig selects a channel and its compaction budget.
type ChannelConfig struct {
	Channel    string `yaml:"channel" json:"channel,omitempty"`
	Disabled   bool   `yaml:"disabled" json:"disabled,omitempty"`
	Policy     Policy `yaml:"policy" json:"policy,omitempty"`
	TokenLimit int    `yaml:"token_limit" json:"token_limit,omitempty"`
	KeepLast   int    `yaml:"keep_last" json:"keep_last,omitempty"`
	MaxLength  int    `yaml:"max_length" json:"max_length,omitempty"`
}

// Name returns the channel name, falling back to DefaultChannel.
func (c ChannelConfig) Name() string {
	if c.Channel == "" {
		return DefaultChannel
	}
	return c.Channel
}

// WithDefaults fills zero-valued fields.
func (c ChannelConfig) WithDefaults() ChannelConfig {
	if c.Policy == "" {
		c.Policy = PolicyTruncateTokens
	}
	if c.TokenLimit <= 0 {
		c.TokenLimit = DefaultTokenLimit
	}
	if c.KeepLast <= 0 {
		c.KeepLast = DefaultKeepLast
	}
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	return c
}

// Validate reports unknown policies and negative budgets.
func (c ChannelConfig) Validate() error {
	switch c.Policy {
	case "", PolicySummarize, PolicyTruncateTokens, PolicyMaxHistoryLength:
	default:
		return fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, c.Policy)
	}
	if c.TokenLimit < 0 || c.KeepLast < 0 || c.MaxLength < 0 {
		return fmt.Errorf("%w: budgets must not be negative", ErrInvalidConfig)
	}
	return nil
}

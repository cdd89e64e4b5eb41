package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/chatpipe/store"
	"github.com/smallnest/chatpipe/store/memory"
)

func TestManagerLoadsAppendsAndFlushes(t *testing.T) {
	ctx := context.Background()
	st := memory.NewMemoryStore()
	require.NoError(t, st.SaveHistory(ctx, "s1", DefaultChannel, conversation(2)))

	m := NewManager("s1", st)
	msgs, err := m.Messages(ctx, "")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	require.NoError(t, m.Append(ctx, "", store.NewMessage(store.RoleUser, "hello")))
	require.NoError(t, m.Append(ctx, "billing", store.NewMessage(store.RoleUser, "invoice?")))
	assert.Equal(t, []string{"billing", DefaultChannel}, m.Channels())

	stored, err := st.LoadHistory(ctx, "s1", DefaultChannel)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "nothing is written before Flush")

	require.NoError(t, m.Flush(ctx))
	stored, err = st.LoadHistory(ctx, "s1", DefaultChannel)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	billing, err := st.LoadHistory(ctx, "s1", "billing")
	require.NoError(t, err)
	require.Len(t, billing, 1)
	assert.Equal(t, "invoice?", billing[0].Content)
}

func TestManagerPriorHistoryOverridesStore(t *testing.T) {
	ctx := context.Background()
	st := memory.NewMemoryStore()
	require.NoError(t, st.SaveHistory(ctx, "s1", DefaultChannel, conversation(8)))

	m := NewManager("s1", st, WithPriorHistory("", conversation(1)))
	msgs, err := m.Messages(ctx, DefaultChannel)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestManagerCompactMarksChannelDirty(t *testing.T) {
	ctx := context.Background()
	st := memory.NewMemoryStore()
	require.NoError(t, st.SaveHistory(ctx, "s1", "support", conversation(20)))

	m := NewManager("s1", st)
	out, err := m.Compact(ctx, ChannelConfig{Channel: "support", Policy: PolicyMaxHistoryLength, MaxLength: 4})
	require.NoError(t, err)
	assert.Len(t, out, 4)

	require.NoError(t, m.Flush(ctx))
	stored, err := st.LoadHistory(ctx, "s1", "support")
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestManagerWithoutStore(t *testing.T) {
	ctx := context.Background()
	m := NewManager("s1", nil)
	require.NoError(t, m.Append(ctx, "", store.NewMessage(store.RoleUser, "hi")))
	msgs, err := m.Messages(ctx, "")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.NoError(t, m.Flush(ctx))
}

func TestChannelConfigDefaults(t *testing.T) {
	cfg := ChannelConfig{}.WithDefaults()
	assert.Equal(t, DefaultChannel, cfg.Name())
	assert.Equal(t, PolicyTruncateTokens, cfg.Policy)
	assert.Equal(t, DefaultTokenLimit, cfg.TokenLimit)
	assert.Equal(t, DefaultKeepLast, cfg.KeepLast)
	assert.Equal(t, DefaultMaxLength, cfg.MaxLength)

	assert.ErrorIs(t, ChannelConfig{KeepLast: -1}.Validate(), ErrInvalidConfig)
}

func TestApproxCounter(t *testing.T) {
	assert.Equal(t, 0, ApproxCounter{}.CountTokens(""))
	assert.Equal(t, 1, ApproxCounter{}.CountTokens("abcd"))
	assert.Equal(t, 2, ApproxCounter{}.CountTokens("abcde"))
}

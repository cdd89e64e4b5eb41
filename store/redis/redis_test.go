package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/chatpipe/engine"
	"github.com/smallnest/chatpipe/store"
	"github.com/smallnest/chatpipe/task"
)

func newTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := NewRedisStore(RedisOptions{Addr: mr.Addr(), TTL: ttl})
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_ParticipantData(t *testing.T) {
	s, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	data, err := s.LoadParticipantData(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.NotNil(t, data)

	require.NoError(t, s.SaveParticipantData(ctx, "p1", map[string]any{"name": "Ada", "visits": 2}))
	data, err = s.LoadParticipantData(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", data["name"])
	// JSON numbers decode as float64
	assert.Equal(t, float64(2), data["visits"])

	assert.True(t, mr.Exists("chatpipe:participant:p1"))
	assert.Zero(t, mr.TTL("chatpipe:participant:p1"), "participant data does not expire")
}

func TestRedisStore_SessionStateAndTags(t *testing.T) {
	s, mr := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.SaveSessionState(ctx, "s1", map[string]any{"step": "billing"}))
	st, err := s.LoadSessionState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"step": "billing"}, st)
	assert.Equal(t, time.Hour, mr.TTL("chatpipe:session:s1:state"))

	require.NoError(t, s.AddSessionTags(ctx, "s1", []string{"vip", "escalated"}))
	require.NoError(t, s.AddSessionTags(ctx, "s1", []string{"vip"}))
	require.NoError(t, s.AddSessionTags(ctx, "s1", nil))
	tags, err := s.SessionTags(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"escalated", "vip"}, tags)

	tags, err = s.SessionTags(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestRedisStore_History(t *testing.T) {
	s, mr := newTestStore(t, 0)
	ctx := context.Background()

	msgs, err := s.LoadHistory(ctx, "s1", "default")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	want := []store.Message{
		{Role: store.RoleUser, Content: "hi", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Role: store.RoleSystem, Content: "summary", Summary: true, CreatedAt: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)},
	}
	require.NoError(t, s.SaveHistory(ctx, "s1", "default", want))
	msgs, err = s.LoadHistory(ctx, "s1", "default")
	require.NoError(t, err)
	assert.Equal(t, want, msgs)

	other, err := s.LoadHistory(ctx, "s1", "notes")
	require.NoError(t, err)
	assert.Empty(t, other)
	assert.Zero(t, mr.TTL("chatpipe:history:s1:default"))
}

func TestRedisStore_Tasks(t *testing.T) {
	s, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	_, err := s.LoadTask(ctx, "t1")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)

	ok := true
	st := &task.Status{
		ID:       "t1",
		State:    task.StateDone,
		Complete: true,
		Success:  &ok,
		Progress: map[string]string{"start": task.ProgressCompleted},
		Result:   &engine.Result{Status: engine.StatusSuccess, Outputs: []engine.Output{{NodeID: "out", Text: "hi"}}},
	}
	require.NoError(t, s.SaveTask(ctx, st))

	loaded, err := s.LoadTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, *loaded.Success)
	assert.Equal(t, "hi", loaded.Result.Text())
	assert.Equal(t, st.Progress, loaded.Progress)

	mr.FastForward(2 * time.Minute)
	_, err = s.LoadTask(ctx, "t1")
	assert.ErrorIs(t, err, task.ErrTaskNotFound, "tasks expire with the TTL")

	require.NoError(t, s.SaveTask(ctx, st))
	require.NoError(t, s.DeleteTask(ctx, "t1"))
	_, err = s.LoadTask(ctx, "t1")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestRedisStore_CustomPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRedisStore(RedisOptions{Addr: mr.Addr(), Prefix: "bot:"})
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.SaveSessionState(context.Background(), "s1", map[string]any{}))
	assert.True(t, mr.Exists("bot:session:s1:state"))
}

func TestRedisStore_ConnectionError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	s := NewRedisStore(RedisOptions{Addr: mr.Addr()})
	mr.Close()

	_, err = s.LoadParticipantData(context.Background(), "p1")
	assert.Error(t, err)
}

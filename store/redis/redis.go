package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/chatpipe/store"
	"github.com/smallnest/chatpipe/task"
)

// RedisStore implements store.Store and task.Store using Redis
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var (
	_ store.Store = (*RedisStore)(nil)
	_ task.Store  = (*RedisStore)(nil)
)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "chatpipe:"
	TTL      time.Duration // Expiration for session scoped keys, default 0 (no expiration)
}

// NewRedisStore creates a new Redis store
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreFromClient(client, opts.Prefix, opts.TTL)
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "chatpipe:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) participantKey(id string) string {
	return fmt.Sprintf("%sparticipant:%s", s.prefix, id)
}

func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%ssession:%s:state", s.prefix, id)
}

func (s *RedisStore) tagsKey(id string) string {
	return fmt.Sprintf("%ssession:%s:tags", s.prefix, id)
}

func (s *RedisStore) historyKey(sessionID, channel string) string {
	return fmt.Sprintf("%shistory:%s:%s", s.prefix, sessionID, channel)
}

func (s *RedisStore) taskKey(id string) string {
	return fmt.Sprintf("%stask:%s", s.prefix, id)
}

// loadJSON decodes the value at key into v. It reports false when the key
// does not exist.
func (s *RedisStore) loadJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load %s from redis: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) saveJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save %s to redis: %w", key, err)
	}
	return nil
}

func (s *RedisStore) loadMap(ctx context.Context, key string) (map[string]any, error) {
	data := map[string]any{}
	if _, err := s.loadJSON(ctx, key, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// LoadParticipantData returns the participant's data
func (s *RedisStore) LoadParticipantData(ctx context.Context, participantID string) (map[string]any, error) {
	return s.loadMap(ctx, s.participantKey(participantID))
}

// SaveParticipantData replaces the participant's data
func (s *RedisStore) SaveParticipantData(ctx context.Context, participantID string, data map[string]any) error {
	return s.saveJSON(ctx, s.participantKey(participantID), data, 0)
}

// LoadSessionState returns the session state
func (s *RedisStore) LoadSessionState(ctx context.Context, sessionID string) (map[string]any, error) {
	return s.loadMap(ctx, s.sessionKey(sessionID))
}

// SaveSessionState replaces the session state
func (s *RedisStore) SaveSessionState(ctx context.Context, sessionID string, state map[string]any) error {
	return s.saveJSON(ctx, s.sessionKey(sessionID), state, s.ttl)
}

// AddSessionTags adds tags to the session set
func (s *RedisStore) AddSessionTags(ctx context.Context, sessionID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	key := s.tagsKey(sessionID)
	members := make([]any, len(tags))
	for i, t := range tags {
		members[i] = t
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, members...)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session tags to redis: %w", err)
	}
	return nil
}

// SessionTags returns the session tags, sorted
func (s *RedisStore) SessionTags(ctx context.Context, sessionID string) ([]string, error) {
	tags, err := s.client.SMembers(ctx, s.tagsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session tags from redis: %w", err)
	}
	slices.Sort(tags)
	return tags, nil
}

// LoadHistory returns the channel's messages
func (s *RedisStore) LoadHistory(ctx context.Context, sessionID, channel string) ([]store.Message, error) {
	var msgs []store.Message
	if _, err := s.loadJSON(ctx, s.historyKey(sessionID, channel), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SaveHistory replaces the channel's messages
func (s *RedisStore) SaveHistory(ctx context.Context, sessionID, channel string, messages []store.Message) error {
	return s.saveJSON(ctx, s.historyKey(sessionID, channel), messages, s.ttl)
}

// SaveTask stores a task status
func (s *RedisStore) SaveTask(ctx context.Context, status *task.Status) error {
	return s.saveJSON(ctx, s.taskKey(status.ID), status, s.ttl)
}

// LoadTask retrieves a task status by id
func (s *RedisStore) LoadTask(ctx context.Context, id string) (*task.Status, error) {
	var st task.Status
	found, err := s.loadJSON(ctx, s.taskKey(id), &st)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, task.ErrTaskNotFound
	}
	if st.Progress == nil {
		st.Progress = map[string]string{}
	}
	return &st, nil
}

// DeleteTask removes a task status
func (s *RedisStore) DeleteTask(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.taskKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/chatpipe/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements store.Store using PostgreSQL
type PostgresStore struct {
	pool   DBPool
	prefix string
}

var _ store.Store = (*PostgresStore)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString  string
	TablePrefix string // Default "chatpipe_"
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresStoreWithPool(pool, opts.TablePrefix), nil
}

// NewPostgresStoreWithPool creates a new Postgres store with an existing pool
// Useful for testing with mocks
func NewPostgresStoreWithPool(pool DBPool, prefix string) *PostgresStore {
	if prefix == "" {
		prefix = "chatpipe_"
	}
	return &PostgresStore{
		pool:   pool,
		prefix: prefix,
	}
}

func (s *PostgresStore) table(name string) string { return s.prefix + name }

// InitSchema creates the necessary tables if they don't exist
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			participant_id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS %[2]s (
			session_id TEXT PRIMARY KEY,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS %[3]s (
			session_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (session_id, tag)
		);
		CREATE TABLE IF NOT EXISTS %[4]s (
			session_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			messages JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (session_id, channel)
		);
	`, s.table("participants"), s.table("sessions"), s.table("session_tags"), s.table("history"))

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) loadMap(ctx context.Context, query, id, what string) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", what, err)
	}
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func (s *PostgresStore) upsert(ctx context.Context, query, what string, args ...any) error {
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save %s: %w", what, err)
	}
	return nil
}

// LoadParticipantData returns the participant's data
func (s *PostgresStore) LoadParticipantData(ctx context.Context, participantID string) (map[string]any, error) {
	query := fmt.Sprintf("SELECT data FROM %s WHERE participant_id = $1", s.table("participants"))
	return s.loadMap(ctx, query, participantID, "participant data")
}

// SaveParticipantData replaces the participant's data
func (s *PostgresStore) SaveParticipantData(ctx context.Context, participantID string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal participant data: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (participant_id, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (participant_id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`, s.table("participants"))
	return s.upsert(ctx, query, "participant data", participantID, raw)
}

// LoadSessionState returns the session state
func (s *PostgresStore) LoadSessionState(ctx context.Context, sessionID string) (map[string]any, error) {
	query := fmt.Sprintf("SELECT state FROM %s WHERE session_id = $1", s.table("sessions"))
	return s.loadMap(ctx, query, sessionID, "session state")
}

// SaveSessionState replaces the session state
func (s *PostgresStore) SaveSessionState(ctx context.Context, sessionID string, state map[string]any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, s.table("sessions"))
	return s.upsert(ctx, query, "session state", sessionID, raw)
}

// AddSessionTags adds tags to the session, ignoring duplicates
func (s *PostgresStore) AddSessionTags(ctx context.Context, sessionID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, tag)
		SELECT $1, unnest($2::text[])
		ON CONFLICT (session_id, tag) DO NOTHING
	`, s.table("session_tags"))
	return s.upsert(ctx, query, "session tags", sessionID, tags)
}

// SessionTags returns the session tags, sorted
func (s *PostgresStore) SessionTags(ctx context.Context, sessionID string) ([]string, error) {
	query := fmt.Sprintf("SELECT tag FROM %s WHERE session_id = $1 ORDER BY tag", s.table("session_tags"))
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan session tag row: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session tag rows: %w", err)
	}
	return tags, nil
}

// LoadHistory returns the channel's messages
func (s *PostgresStore) LoadHistory(ctx context.Context, sessionID, channel string) ([]store.Message, error) {
	query := fmt.Sprintf("SELECT messages FROM %s WHERE session_id = $1 AND channel = $2", s.table("history"))
	var raw []byte
	err := s.pool.QueryRow(ctx, query, sessionID, channel).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	var msgs []store.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return msgs, nil
}

// SaveHistory replaces the channel's messages
func (s *PostgresStore) SaveHistory(ctx context.Context, sessionID, channel string, messages []store.Message) error {
	if messages == nil {
		messages = []store.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, channel, messages, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, channel) DO UPDATE SET
			messages = EXCLUDED.messages,
			updated_at = EXCLUDED.updated_at
	`, s.table("history"))
	return s.upsert(ctx, query, "history", sessionID, channel, raw)
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/chatpipe/store"
)

// SqliteStore implements store.Store using SQLite
type SqliteStore struct {
	db     *sql.DB
	prefix string
}

var _ store.Store = (*SqliteStore)(nil)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path        string
	TablePrefix string // Default "chatpipe_"
}

// NewSqliteStore opens the database and creates the schema
func NewSqliteStore(opts SqliteOptions) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	prefix := opts.TablePrefix
	if prefix == "" {
		prefix = "chatpipe_"
	}
	s := &SqliteStore{db: db, prefix: prefix}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqliteStore) table(name string) string { return s.prefix + name }

// InitSchema creates the necessary tables if they don't exist
func (s *SqliteStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			participant_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS %[2]s (
			session_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS %[3]s (
			session_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (session_id, tag)
		);
		CREATE TABLE IF NOT EXISTS %[4]s (
			session_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			messages TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, channel)
		);
	`, s.table("participants"), s.table("sessions"), s.table("session_tags"), s.table("history"))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) loadMap(ctx context.Context, query, id, what string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", what, err)
	}
	data := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func (s *SqliteStore) saveJSON(ctx context.Context, query, what string, v any, keys ...any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	if _, err := s.db.ExecContext(ctx, query, append(keys, string(raw))...); err != nil {
		return fmt.Errorf("failed to save %s: %w", what, err)
	}
	return nil
}

// LoadParticipantData returns the participant's data
func (s *SqliteStore) LoadParticipantData(ctx context.Context, participantID string) (map[string]any, error) {
	query := fmt.Sprintf("SELECT data FROM %s WHERE participant_id = ?", s.table("participants"))
	return s.loadMap(ctx, query, participantID, "participant data")
}

// SaveParticipantData replaces the participant's data
func (s *SqliteStore) SaveParticipantData(ctx context.Context, participantID string, data map[string]any) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (participant_id, data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (participant_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, s.table("participants"))
	return s.saveJSON(ctx, query, "participant data", data, participantID)
}

// LoadSessionState returns the session state
func (s *SqliteStore) LoadSessionState(ctx context.Context, sessionID string) (map[string]any, error) {
	query := fmt.Sprintf("SELECT state FROM %s WHERE session_id = ?", s.table("sessions"))
	return s.loadMap(ctx, query, sessionID, "session state")
}

// SaveSessionState replaces the session state
func (s *SqliteStore) SaveSessionState(ctx context.Context, sessionID string, state map[string]any) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (session_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, s.table("sessions"))
	return s.saveJSON(ctx, query, "session state", state, sessionID)
}

// AddSessionTags adds tags to the session, ignoring duplicates
func (s *SqliteStore) AddSessionTags(ctx context.Context, sessionID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (session_id, tag) VALUES (?, ?)", s.table("session_tags"))
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, query, sessionID, tag); err != nil {
			return fmt.Errorf("failed to save session tags: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to save session tags: %w", err)
	}
	return nil
}

// SessionTags returns the session tags, sorted
func (s *SqliteStore) SessionTags(ctx context.Context, sessionID string) ([]string, error) {
	query := fmt.Sprintf("SELECT tag FROM %s WHERE session_id = ? ORDER BY tag", s.table("session_tags"))
	rows, err := s.db.QueryContext(ctx, query, sessionID)
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
func (s *SqliteStore) LoadHistory(ctx context.Context, sessionID, channel string) ([]store.Message, error) {
	query := fmt.Sprintf("SELECT messages FROM %s WHERE session_id = ? AND channel = ?", s.table("history"))
	var raw string
	err := s.db.QueryRowContext(ctx, query, sessionID, channel).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	var msgs []store.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return msgs, nil
}

// SaveHistory replaces the channel's messages
func (s *SqliteStore) SaveHistory(ctx context.Context, sessionID, channel string, messages []store.Message) error {
	if messages == nil {
		messages = []store.Message{}
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, channel, messages, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (session_id, channel) DO UPDATE SET
			messages = excluded.messages,
			updated_at = excluded.updated_at
	`, s.table("history"))
	return s.saveJSON(ctx, query, "history", messages, sessionID, channel)
}

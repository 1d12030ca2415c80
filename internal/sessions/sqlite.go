package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentcore/engine/pkg/models"
)

// SQLiteStore persists sessions and their message logs in a local SQLite
// database, so chat and IPC sessions survive process restarts. Messages
// are stored as JSON payloads keyed by insertion order.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing database handle, applying the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT,
			channel TEXT,
			channel_id TEXT,
			session_key TEXT,
			metadata TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_key ON sessions(session_key);
	`)
	if err != nil {
		return fmt.Errorf("migrate session db: %w", err)
	}
	return nil
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// Create inserts a new session row.
func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, channel, channel_id, session_key, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.AgentID, string(session.Channel), session.ChannelID, session.Key,
		encodeMetadata(session.Metadata), session.CreatedAt, session.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*models.Session, error) {
	var session models.Session
	var channel, metadata string
	err := row.Scan(&session.ID, &session.AgentID, &channel, &session.ChannelID, &session.Key, &metadata, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	session.Channel = models.ChannelType(channel)
	session.Metadata = decodeMetadata(metadata)
	return &session, nil
}

// Get returns the session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, channel, channel_id, session_key, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id)
	return s.scanSession(row)
}

// Update rewrites the session's mutable fields.
func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET agent_id = ?, channel = ?, channel_id = ?, session_key = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		session.AgentID, string(session.Channel), session.ChannelID, session.Key,
		encodeMetadata(session.Metadata), session.UpdatedAt, session.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the session and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// GetByKey returns the session with the given lookup key.
func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, channel, channel_id, session_key, metadata, created_at, updated_at FROM sessions WHERE session_key = ?`, key)
	return s.scanSession(row)
}

// GetOrCreate fetches the keyed session or creates it.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	session, err := s.GetByKey(ctx, key)
	if err == nil {
		return session, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	session = &models.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
		Key:       key,
	}
	if err := s.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// List returns sessions for the agent, newest first.
func (s *SQLiteStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, agent_id, channel, channel_id, session_key, metadata, created_at, updated_at FROM sessions WHERE agent_id = ?`
	args := []any{agentID}
	if opts.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, string(opts.Channel))
	}
	query += ` ORDER BY updated_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var session models.Session
		var channel, metadata string
		if err := rows.Scan(&session.ID, &session.AgentID, &channel, &session.ChannelID, &session.Key, &metadata, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, err
		}
		session.Channel = models.ChannelType(channel)
		session.Metadata = decodeMetadata(metadata)
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// AppendMessage stores one message at the end of the session's log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.SessionID = sessionID
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		msg.ID, sessionID, string(payload), msg.CreatedAt,
	)
	return err
}

// GetHistory returns the most recent limit messages in chronological order.
func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM (
			SELECT rowid, payload FROM messages WHERE session_id = ? ORDER BY rowid DESC LIMIT ?
		) ORDER BY rowid ASC`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*models.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			continue
		}
		history = append(history, &msg)
	}
	return history, rows.Err()
}

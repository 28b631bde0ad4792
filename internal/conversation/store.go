// Package conversation persists the per-(user, platform, session) message
// history the agent orchestrator replays into every model call.
//
// Grounded on the teacher's memory/store.go conversation_history table
// (session_id/role/content), expanded to the full Conversation+Message shape:
// a Conversation row per (user_id, platform, session_id) scope, and an
// append-only Message table carrying tool_calls/tool_call_id/name so a
// resumed session can reconstruct a valid tool-call/tool-result pairing
// instead of the teacher's "drop tool messages on resume" workaround.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Conversation struct {
	ID        int64
	UserID    string
	SessionID string // empty means "the latest conversation for (user_id, platform)"
	Platform  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             int64
	ConversationID int64
	Role           Role
	Content        string
	ToolCalls      json.RawMessage // present only on assistant messages that call tools
	ToolCallID     string          // present only on tool-role messages
	Name           string          // tool name, present only on tool-role messages
	CreatedAt      time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (*Store, error) {
	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("initializing conversation schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_session
			ON conversations(user_id, platform, session_id);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			name TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, id);
	`)
	return err
}

// GetOrCreate returns the conversation for (user_id, platform, session_id),
// creating it lazily on first use. When session_id is empty, it resolves to
// the most recently updated conversation for (user_id, platform) — the
// "at most one latest conversation per (user_id, platform) when session_id
// is null" invariant — creating one if none exists yet.
func (s *Store) GetOrCreate(ctx context.Context, userID, sessionID, platform string) (Conversation, error) {
	if sessionID == "" {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, user_id, session_id, platform, created_at, updated_at
			FROM conversations
			WHERE user_id = ? AND platform = ? AND session_id = ''
			ORDER BY updated_at DESC LIMIT 1
		`, userID, platform)
		var c Conversation
		err := row.Scan(&c.ID, &c.UserID, &c.SessionID, &c.Platform, &c.CreatedAt, &c.UpdatedAt)
		if err == nil {
			return c, nil
		}
		if err != sql.ErrNoRows {
			return Conversation{}, err
		}
	} else {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, user_id, session_id, platform, created_at, updated_at
			FROM conversations
			WHERE user_id = ? AND platform = ? AND session_id = ?
		`, userID, platform, sessionID)
		var c Conversation
		err := row.Scan(&c.ID, &c.UserID, &c.SessionID, &c.Platform, &c.CreatedAt, &c.UpdatedAt)
		if err == nil {
			return c, nil
		}
		if err != sql.ErrNoRows {
			return Conversation{}, err
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, session_id, platform) VALUES (?, ?, ?)
	`, userID, sessionID, platform)
	if err != nil {
		return Conversation{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Conversation{}, err
	}
	now := time.Now()
	return Conversation{ID: id, UserID: userID, SessionID: sessionID, Platform: platform, CreatedAt: now, UpdatedAt: now}, nil
}

// Append appends a message to a conversation and bumps its updated_at.
func (s *Store) Append(ctx context.Context, conversationID int64, msg Message) (int64, error) {
	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		toolCalls = string(msg.ToolCalls)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, name)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conversationID, string(msg.Role), msg.Content, toolCalls, nullIfEmpty(msg.ToolCallID), nullIfEmpty(msg.Name))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, conversationID)
	return id, nil
}

// Messages returns the most recent `limit` messages for a conversation, in
// chronological order.
func (s *Store) Messages(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, tool_calls, tool_call_id, name, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id DESC LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var toolCalls, toolCallID, name sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &toolCalls, &toolCallID, &name, &m.CreatedAt); err != nil {
			continue
		}
		if toolCalls.Valid {
			m.ToolCalls = json.RawMessage(toolCalls.String)
		}
		m.ToolCallID = toolCallID.String
		m.Name = name.String
		out = append(out, m)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Clear deletes all messages in a conversation (the conversation row itself
// persists — purging is a user-initiated act, never an automatic one).
func (s *Store) Clear(ctx context.Context, conversationID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	return err
}

// RecentActivity returns the most recently updated conversations, optionally
// filtered to a set of platforms.
func (s *Store) RecentActivity(ctx context.Context, limit int, platforms []string) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, user_id, session_id, platform, created_at, updated_at FROM conversations`
	args := []any{}
	if len(platforms) > 0 {
		placeholders := ""
		for i, p := range platforms {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, p)
		}
		query += " WHERE platform IN (" + placeholders + ")"
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.SessionID, &c.Platform, &c.CreatedAt, &c.UpdatedAt); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

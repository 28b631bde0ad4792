package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MemType is the closed set of typed memory classes a user fact can belong
// to (distinct from the free-text Category entries above, which ground the
// model's own "notes to self" FTS recall; MemType records are the
// structured (user_id, type, key) -> value facts the orchestrator re-asserts
// on every turn).
type MemType string

const (
	TypeCore         MemType = "core"
	TypePreference   MemType = "preference"
	TypeFact         MemType = "fact"
	TypeContext      MemType = "context"
	TypeRelationship MemType = "relationship"
	TypeCustom       MemType = "custom"
)

type Fact struct {
	UserID     string
	Type       MemType
	Key        string
	Value      string
	Confidence float64
	Source     string
	UpdatedAt  time.Time
}

func initTypedSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS user_memories (
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1.0,
			source TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, type, key)
		);
	`)
	return err
}

// Set upserts a typed fact for a user. Memories are re-asserted, never
// versioned: a second Set for the same (user_id, type, key) replaces the
// value, confidence, source, and updated_at in place.
func (s *Store) Set(ctx context.Context, userID, key, value string, typ MemType, confidence float64, source string) error {
	if confidence <= 0 {
		confidence = 1.0
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_memories (user_id, type, key, value, confidence, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, type, key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source = excluded.source,
			updated_at = CURRENT_TIMESTAMP
	`, userID, string(typ), key, value, confidence, source)
	return err
}

func (s *Store) GetFact(ctx context.Context, userID string, typ MemType, key string) (Fact, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, type, key, value, confidence, source, updated_at
		FROM user_memories WHERE user_id = ? AND type = ? AND key = ?
	`, userID, string(typ), key)
	var f Fact
	var t string
	if err := row.Scan(&f.UserID, &t, &f.Key, &f.Value, &f.Confidence, &f.Source, &f.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Fact{}, false, nil
		}
		return Fact{}, false, err
	}
	f.Type = MemType(t)
	return f, true, nil
}

func (s *Store) ByType(ctx context.Context, userID string, typ MemType) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, type, key, value, confidence, source, updated_at
		FROM user_memories WHERE user_id = ? AND type = ? ORDER BY key
	`, userID, string(typ))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (s *Store) AllFacts(ctx context.Context, userID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, type, key, value, confidence, source, updated_at
		FROM user_memories WHERE user_id = ? ORDER BY type, key
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (s *Store) DeleteFact(ctx context.Context, userID string, typ MemType, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_memories WHERE user_id = ? AND type = ? AND key = ?`, userID, string(typ), key)
	return err
}

// FormatForPrompt renders all of a user's typed facts grouped by type, for
// injection into the system prompt as "## What I Know About You".
func (s *Store) FormatForPrompt(ctx context.Context, userID string) string {
	facts, err := s.AllFacts(ctx, userID)
	if err != nil || len(facts) == 0 {
		return ""
	}

	byType := map[MemType][]Fact{}
	order := []MemType{TypeCore, TypePreference, TypeFact, TypeRelationship, TypeContext, TypeCustom}
	for _, f := range facts {
		byType[f.Type] = append(byType[f.Type], f)
	}

	var b strings.Builder
	b.WriteString("## What I Know About You\n")
	for _, t := range order {
		group := byType[t]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n", strings.Title(string(t)))
		for _, f := range group {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
		}
	}
	return b.String()
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var out []Fact
	for rows.Next() {
		var f Fact
		var t string
		if err := rows.Scan(&f.UserID, &t, &f.Key, &f.Value, &f.Confidence, &f.Source, &f.UpdatedAt); err != nil {
			continue
		}
		f.Type = MemType(t)
		out = append(out, f)
	}
	return out, nil
}

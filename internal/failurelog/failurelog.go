// Package failurelog tracks tool execution failures so the agent can read
// its own operational history, spot recurring problems, and mark them
// resolved. Grounded on original_source's storage/failure_log.py: same
// coalescing rule (same tool_name + error_kind while unresolved collapses
// into one record with occurrence_count incremented), same summary shape.
package failurelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Record struct {
	ID               int64
	Timestamp        time.Time
	ToolName         string
	ErrorKind        string
	ErrorText        string
	Arguments        string // raw JSON
	UserID           string
	Platform         string
	Resolved         bool
	ResolutionNotes  string
	OccurrenceCount  int
}

type Summary struct {
	UnresolvedCount  int
	ResolvedCount    int
	TopFailingTools  []NameCount
	CommonErrorKinds []NameCount
}

type NameCount struct {
	Name  string
	Count int
}

type Log struct {
	db *sql.DB
}

func New(db *sql.DB) (*Log, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			tool_name TEXT NOT NULL,
			error_kind TEXT NOT NULL,
			error_text TEXT NOT NULL,
			arguments TEXT NOT NULL DEFAULT '{}',
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolution_notes TEXT,
			occurrence_count INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_failures_tool ON failures(tool_name);
		CREATE INDEX IF NOT EXISTS idx_failures_kind ON failures(error_kind);
		CREATE INDEX IF NOT EXISTS idx_failures_resolved ON failures(resolved);
	`); err != nil {
		return nil, fmt.Errorf("initializing failure log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Log records a tool failure, coalescing onto the most recent unresolved
// record for the same (tool_name, error_kind) pair if one exists.
func (l *Log) Log(ctx context.Context, toolName, errorKind, errorText string, arguments any, userID, platform string) (int64, error) {
	argsJSON := "{}"
	if arguments != nil {
		if b, err := json.Marshal(arguments); err == nil {
			argsJSON = string(b)
		}
	}
	if platform == "" {
		platform = "unknown"
	}

	var existingID int64
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT id, occurrence_count FROM failures
		WHERE tool_name = ? AND error_kind = ? AND resolved = 0
		ORDER BY timestamp DESC LIMIT 1
	`, toolName, errorKind).Scan(&existingID, &count)

	switch err {
	case nil:
		_, uerr := l.db.ExecContext(ctx, `
			UPDATE failures SET occurrence_count = ?, timestamp = ?, error_text = ? WHERE id = ?
		`, count+1, time.Now().UTC(), errorText, existingID)
		return existingID, uerr
	case sql.ErrNoRows:
		res, ierr := l.db.ExecContext(ctx, `
			INSERT INTO failures (timestamp, tool_name, error_kind, error_text, arguments, user_id, platform)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, time.Now().UTC(), toolName, errorKind, errorText, argsJSON, userID, platform)
		if ierr != nil {
			return 0, ierr
		}
		return res.LastInsertId()
	default:
		return 0, err
	}
}

func (l *Log) Recent(ctx context.Context, limit int, unresolvedOnly bool) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, timestamp, tool_name, error_kind, error_text, arguments, user_id, platform, resolved, resolution_notes, occurrence_count FROM failures`
	args := []any{}
	if unresolvedOnly {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (l *Log) ByTool(ctx context.Context, toolName string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, tool_name, error_kind, error_text, arguments, user_id, platform, resolved, resolution_notes, occurrence_count
		FROM failures WHERE tool_name = ? ORDER BY occurrence_count DESC, timestamp DESC
	`, toolName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (l *Log) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures WHERE resolved = 0`).Scan(&s.UnresolvedCount); err != nil {
		return s, err
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures WHERE resolved = 1`).Scan(&s.ResolvedCount); err != nil {
		return s, err
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT tool_name, SUM(occurrence_count) AS total FROM failures
		WHERE resolved = 0 GROUP BY tool_name ORDER BY total DESC LIMIT 5
	`)
	if err != nil {
		return s, err
	}
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err == nil {
			s.TopFailingTools = append(s.TopFailingTools, nc)
		}
	}
	rows.Close()

	rows, err = l.db.QueryContext(ctx, `
		SELECT error_kind, COUNT(*) AS n FROM failures
		WHERE resolved = 0 GROUP BY error_kind ORDER BY n DESC LIMIT 5
	`)
	if err != nil {
		return s, err
	}
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err == nil {
			s.CommonErrorKinds = append(s.CommonErrorKinds, nc)
		}
	}
	rows.Close()

	return s, nil
}

func (l *Log) MarkResolved(ctx context.Context, id int64, notes string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `UPDATE failures SET resolved = 1, resolution_notes = ? WHERE id = ?`, nullIfEmpty(notes), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FormatForLLM renders failure records as a markdown block for self-healing
// tools to hand back to the model.
func FormatForLLM(records []Record) string {
	if len(records) == 0 {
		return "No recent failures found."
	}
	var b strings.Builder
	b.WriteString("## Recent Failure Log\n\n")
	for _, r := range records {
		fmt.Fprintf(&b, "### Failure #%d: %s\n", r.ID, r.ToolName)
		fmt.Fprintf(&b, "- **Error Kind:** %s\n", r.ErrorKind)
		fmt.Fprintf(&b, "- **Message:** %s\n", r.ErrorText)
		fmt.Fprintf(&b, "- **Occurrences:** %d\n", r.OccurrenceCount)
		fmt.Fprintf(&b, "- **Last Seen:** %s\n", r.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "- **Arguments:** `%s`\n", r.Arguments)
		if r.Resolved {
			b.WriteString("- **Status:** resolved\n")
			if r.ResolutionNotes != "" {
				fmt.Fprintf(&b, "- **Resolution:** %s\n", r.ResolutionNotes)
			}
		} else {
			b.WriteString("- **Status:** unresolved\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var notes sql.NullString
		var resolved int
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.ToolName, &r.ErrorKind, &r.ErrorText, &r.Arguments,
			&r.UserID, &r.Platform, &resolved, &notes, &r.OccurrenceCount); err != nil {
			continue
		}
		r.Resolved = resolved != 0
		r.ResolutionNotes = notes.String
		out = append(out, r)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

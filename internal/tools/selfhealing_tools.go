package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/corvidrun/corvid/internal/failurelog"
)

// Grounded on original_source/tools/self_healing.py: three tools giving the
// model read/write access to its own failure log, in the same style as
// log_tools.go's log_read (plain-text rendering, Silent results).

// ---- failure_recent ----

type FailureRecentTool struct {
	log *failurelog.Log
}

func NewFailureRecent(log *failurelog.Log) *FailureRecentTool { return &FailureRecentTool{log: log} }

func (t *FailureRecentTool) Name() string { return "failure_recent" }
func (t *FailureRecentTool) Description() string {
	return "List recent tool failures. Use this to check whether a tool has been failing repeatedly before retrying it."
}
func (t *FailureRecentTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"limit": {
				"type": "integer",
				"description": "Maximum records to return (default: 10)"
			},
			"unresolved_only": {
				"type": "boolean",
				"description": "Only show failures that haven't been marked resolved (default: true)"
			}
		}
	}`)
}

type failureRecentParams struct {
	Limit          int  `json:"limit"`
	UnresolvedOnly bool `json:"unresolved_only"`
}

func (t *FailureRecentTool) Execute(ctx context.Context, params json.RawMessage) (ToolResult, error) {
	p := failureRecentParams{UnresolvedOnly: true}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return ToolResult{}, fmt.Errorf("parsing params: %w", err)
		}
	}

	records, err := t.log.Recent(ctx, p.Limit, p.UnresolvedOnly)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error reading failure log: %v", err)}, nil
	}

	return ToolResult{ForLLM: failurelog.FormatForLLM(records), Silent: true}, nil
}

// ---- failure_summary ----

type FailureSummaryTool struct {
	log *failurelog.Log
}

func NewFailureSummary(log *failurelog.Log) *FailureSummaryTool { return &FailureSummaryTool{log: log} }

func (t *FailureSummaryTool) Name() string { return "failure_summary" }
func (t *FailureSummaryTool) Description() string {
	return "Summarize failure patterns: which tools fail most, and the most common error kinds."
}
func (t *FailureSummaryTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *FailureSummaryTool) Execute(ctx context.Context, _ json.RawMessage) (ToolResult, error) {
	s, err := t.log.Summary(ctx)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error summarizing failures: %v", err)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Unresolved failures: %d\n", s.UnresolvedCount)
	fmt.Fprintf(&b, "Resolved failures: %d\n", s.ResolvedCount)

	if len(s.TopFailingTools) > 0 {
		b.WriteString("\nTop failing tools:\n")
		for _, nc := range s.TopFailingTools {
			fmt.Fprintf(&b, "- %s: %s\n", nc.Name, humanize.Comma(int64(nc.Count)))
		}
	}
	if len(s.CommonErrorKinds) > 0 {
		b.WriteString("\nCommon error kinds:\n")
		for _, nc := range s.CommonErrorKinds {
			fmt.Fprintf(&b, "- %s: %s\n", nc.Name, humanize.Comma(int64(nc.Count)))
		}
	}

	return ToolResult{ForLLM: b.String(), Silent: true}, nil
}

// ---- failure_resolve ----

type FailureResolveTool struct {
	log *failurelog.Log
}

func NewFailureResolve(log *failurelog.Log) *FailureResolveTool { return &FailureResolveTool{log: log} }

func (t *FailureResolveTool) Name() string { return "failure_resolve" }
func (t *FailureResolveTool) Description() string {
	return "Mark a failure record as resolved, with a note on what fixed it or why it no longer applies."
}
func (t *FailureResolveTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {
				"type": "integer",
				"description": "Failure record id, from failure_recent"
			},
			"notes": {
				"type": "string",
				"description": "What resolved it, or why it's no longer relevant"
			}
		},
		"required": ["id"]
	}`)
}

type failureResolveParams struct {
	ID    int64  `json:"id"`
	Notes string `json:"notes"`
}

func (t *FailureResolveTool) Execute(ctx context.Context, params json.RawMessage) (ToolResult, error) {
	var p failureResolveParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("parsing params: %w", err)
	}
	if p.ID <= 0 {
		return ToolResult{ForLLM: "Error: id is required"}, nil
	}

	found, err := t.log.MarkResolved(ctx, p.ID, p.Notes)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error resolving failure: %v", err)}, nil
	}
	if !found {
		return ToolResult{ForLLM: fmt.Sprintf("No failure record with id=%d", p.ID)}, nil
	}

	return ToolResult{ForLLM: fmt.Sprintf("Failure %d marked resolved.", p.ID)}, nil
}

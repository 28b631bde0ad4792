package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corvidrun/corvid/internal/memory"
)

// MemoryFactTool exposes the typed (user_id, type, key) -> value fact store
// (internal/memory/typed.go) alongside the free-text memory_store/
// memory_recall tools — the structured half the orchestrator re-asserts into
// every system prompt via Store.FormatForPrompt, versus the FTS-searchable
// notes the other two tools manage. Action-dispatched the way cron_manage
// dispatches on a single "action" field instead of five separate tools.
type MemoryFactTool struct {
	store *memory.Store
}

func NewMemoryFact(store *memory.Store) *MemoryFactTool {
	return &MemoryFactTool{store: store}
}

func (t *MemoryFactTool) Name() string { return "memory_fact" }
func (t *MemoryFactTool) Description() string {
	return "Set, get, list, or delete a structured fact about the user (preferences, relationships, stable context) — distinct from memory_store's free-text notes. Facts are re-asserted into every conversation automatically, so use this for things that should always be known rather than recalled on demand."
}
func (t *MemoryFactTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["set", "get", "list", "all", "delete"],
				"description": "The action to perform"
			},
			"type": {
				"type": "string",
				"enum": ["core", "preference", "fact", "context", "relationship", "custom"],
				"description": "Fact category (required for set, get, list)"
			},
			"key": {
				"type": "string",
				"description": "Short stable identifier for this fact (e.g. 'timezone', 'favorite_editor'). Required for set, get, delete."
			},
			"value": {
				"type": "string",
				"description": "The fact's value. Required for set."
			},
			"confidence": {
				"type": "number",
				"description": "How sure you are this fact is correct, 0.0-1.0 (default 1.0)"
			}
		},
		"required": ["action"]
	}`)
}

type memoryFactParams struct {
	Action     string  `json:"action"`
	Type       string  `json:"type"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

func (t *MemoryFactTool) Execute(ctx context.Context, params json.RawMessage) (ToolResult, error) {
	var p memoryFactParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("parsing params: %w", err)
	}

	caller := CallerFromContext(ctx)

	switch p.Action {
	case "set":
		return t.set(ctx, caller.UserID, p)
	case "get":
		return t.get(ctx, caller.UserID, p)
	case "list":
		return t.list(ctx, caller.UserID, p)
	case "all":
		return t.all(ctx, caller.UserID)
	case "delete":
		return t.delete(ctx, caller.UserID, p)
	default:
		return ToolResult{ForLLM: fmt.Sprintf("Unknown action: %s. Use: set, get, list, all, delete.", p.Action)}, nil
	}
}

func (t *MemoryFactTool) set(ctx context.Context, userID string, p memoryFactParams) (ToolResult, error) {
	if p.Type == "" || p.Key == "" || p.Value == "" {
		return ToolResult{ForLLM: "Error: type, key, and value are required for set"}, nil
	}
	if err := t.store.Set(ctx, userID, p.Key, p.Value, memory.MemType(p.Type), p.Confidence, "agent"); err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error setting fact: %v", err)}, nil
	}
	return ToolResult{
		ForLLM: fmt.Sprintf("Fact set: %s.%s = %q", p.Type, p.Key, p.Value),
		Silent: true,
	}, nil
}

func (t *MemoryFactTool) get(ctx context.Context, userID string, p memoryFactParams) (ToolResult, error) {
	if p.Type == "" || p.Key == "" {
		return ToolResult{ForLLM: "Error: type and key are required for get"}, nil
	}
	fact, ok, err := t.store.GetFact(ctx, userID, memory.MemType(p.Type), p.Key)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error getting fact: %v", err)}, nil
	}
	if !ok {
		return ToolResult{ForLLM: fmt.Sprintf("No fact found for %s.%s", p.Type, p.Key)}, nil
	}
	return ToolResult{ForLLM: fmt.Sprintf("%s.%s = %q (confidence %.2f, source %s)", fact.Type, fact.Key, fact.Value, fact.Confidence, fact.Source)}, nil
}

func (t *MemoryFactTool) list(ctx context.Context, userID string, p memoryFactParams) (ToolResult, error) {
	if p.Type == "" {
		return ToolResult{ForLLM: "Error: type is required for list"}, nil
	}
	facts, err := t.store.ByType(ctx, userID, memory.MemType(p.Type))
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error listing facts: %v", err)}, nil
	}
	return ToolResult{ForLLM: formatFacts(facts)}, nil
}

func (t *MemoryFactTool) all(ctx context.Context, userID string) (ToolResult, error) {
	facts, err := t.store.AllFacts(ctx, userID)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error listing facts: %v", err)}, nil
	}
	return ToolResult{ForLLM: formatFacts(facts)}, nil
}

func (t *MemoryFactTool) delete(ctx context.Context, userID string, p memoryFactParams) (ToolResult, error) {
	if p.Type == "" || p.Key == "" {
		return ToolResult{ForLLM: "Error: type and key are required for delete"}, nil
	}
	if err := t.store.DeleteFact(ctx, userID, memory.MemType(p.Type), p.Key); err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error deleting fact: %v", err)}, nil
	}
	return ToolResult{ForLLM: fmt.Sprintf("Deleted %s.%s", p.Type, p.Key)}, nil
}

func formatFacts(facts []memory.Fact) string {
	if len(facts) == 0 {
		return "No facts found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Facts (%d):\n", len(facts))
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%s] %s = %q\n", f.Type, f.Key, f.Value)
	}
	return b.String()
}

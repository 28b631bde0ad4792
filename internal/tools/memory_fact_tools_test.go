package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/corvidrun/corvid/internal/memory"
)

func newTestMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryFactSetAndGet(t *testing.T) {
	store := newTestMemoryStore(t)
	tool := NewMemoryFact(store)
	ctx := WithCaller(context.Background(), Caller{UserID: "u1", Platform: "cli"})

	setParams, _ := json.Marshal(map[string]any{
		"action": "set", "type": "preference", "key": "timezone", "value": "UTC",
	})
	if _, err := tool.Execute(ctx, setParams); err != nil {
		t.Fatalf("set error: %v", err)
	}

	getParams, _ := json.Marshal(map[string]any{
		"action": "get", "type": "preference", "key": "timezone",
	})
	result, err := tool.Execute(ctx, getParams)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if result.ForLLM == "" {
		t.Fatal("expected non-empty result")
	}
}

func TestMemoryFactScopedPerUser(t *testing.T) {
	store := newTestMemoryStore(t)
	tool := NewMemoryFact(store)

	ctxU1 := WithCaller(context.Background(), Caller{UserID: "u1", Platform: "cli"})
	ctxU2 := WithCaller(context.Background(), Caller{UserID: "u2", Platform: "cli"})

	setParams, _ := json.Marshal(map[string]any{
		"action": "set", "type": "preference", "key": "timezone", "value": "UTC",
	})
	tool.Execute(ctxU1, setParams)

	allParams, _ := json.Marshal(map[string]any{"action": "all"})
	result, err := tool.Execute(ctxU2, allParams)
	if err != nil {
		t.Fatalf("all error: %v", err)
	}
	if result.ForLLM != "No facts found." {
		t.Errorf("expected u2 to have no facts, got: %s", result.ForLLM)
	}
}

func TestMemoryFactDelete(t *testing.T) {
	store := newTestMemoryStore(t)
	tool := NewMemoryFact(store)
	ctx := WithCaller(context.Background(), Caller{UserID: "u1", Platform: "cli"})

	setParams, _ := json.Marshal(map[string]any{
		"action": "set", "type": "fact", "key": "x", "value": "y",
	})
	tool.Execute(ctx, setParams)

	delParams, _ := json.Marshal(map[string]any{"action": "delete", "type": "fact", "key": "x"})
	if _, err := tool.Execute(ctx, delParams); err != nil {
		t.Fatalf("delete error: %v", err)
	}

	getParams, _ := json.Marshal(map[string]any{"action": "get", "type": "fact", "key": "x"})
	result, _ := tool.Execute(ctx, getParams)
	if result.ForLLM != `No fact found for fact.x` {
		t.Errorf("expected no fact after delete, got: %s", result.ForLLM)
	}
}

func TestMemoryFactUnknownAction(t *testing.T) {
	store := newTestMemoryStore(t)
	tool := NewMemoryFact(store)
	ctx := context.Background()

	params, _ := json.Marshal(map[string]any{"action": "bogus"})
	result, err := tool.Execute(ctx, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ForLLM == "" {
		t.Fatal("expected an error message for an unknown action")
	}
}

package conversation

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/corvidrun/corvid/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return store
}

func TestGetOrCreateIsIdempotentForSameSession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a, err := store.GetOrCreate(ctx, "u1", "sess1", "cli")
	if err != nil {
		t.Fatalf("GetOrCreate error: %v", err)
	}
	b, err := store.GetOrCreate(ctx, "u1", "sess1", "cli")
	if err != nil {
		t.Fatalf("GetOrCreate error: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("expected same conversation ID, got %d and %d", a.ID, b.ID)
	}
}

func TestGetOrCreateEmptySessionResolvesToLatest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, _ := store.GetOrCreate(ctx, "u1", "", "cli")
	store.Append(ctx, first.ID, Message{Role: RoleUser, Content: "hi"})

	again, err := store.GetOrCreate(ctx, "u1", "", "cli")
	if err != nil {
		t.Fatalf("GetOrCreate error: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("expected the same latest conversation, got a new one: %d vs %d", first.ID, again.ID)
	}
}

func TestAppendAndMessagesRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conv, _ := store.GetOrCreate(ctx, "u1", "sess1", "cli")

	store.Append(ctx, conv.ID, Message{Role: RoleUser, Content: "what's the weather"})

	toolCalls, _ := json.Marshal([]map[string]any{{"id": "tc1", "name": "web_read"}})
	store.Append(ctx, conv.ID, Message{Role: RoleAssistant, Content: "", ToolCalls: toolCalls})
	store.Append(ctx, conv.ID, Message{Role: RoleTool, Content: "sunny", ToolCallID: "tc1", Name: "web_read"})
	store.Append(ctx, conv.ID, Message{Role: RoleAssistant, Content: "It's sunny."})

	messages, err := store.Messages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("Messages error: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[0].Content != "what's the weather" {
		t.Errorf("expected chronological order, first message was %q", messages[0].Content)
	}

	var toolMsg *Message
	for i := range messages {
		if messages[i].Role == RoleTool {
			toolMsg = &messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("expected a tool-role message")
	}
	if toolMsg.ToolCallID != "tc1" || toolMsg.Name != "web_read" {
		t.Errorf("tool call pairing not preserved: %+v", toolMsg)
	}
}

func TestMessagesRespectsLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	conv, _ := store.GetOrCreate(ctx, "u1", "sess1", "cli")

	for i := 0; i < 5; i++ {
		store.Append(ctx, conv.ID, Message{Role: RoleUser, Content: "msg"})
	}

	messages, err := store.Messages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("Messages error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
}

func TestClearRemovesMessagesNotConversation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	conv, _ := store.GetOrCreate(ctx, "u1", "sess1", "cli")
	store.Append(ctx, conv.ID, Message{Role: RoleUser, Content: "hi"})

	if err := store.Clear(ctx, conv.ID); err != nil {
		t.Fatalf("Clear error: %v", err)
	}

	messages, _ := store.Messages(ctx, conv.ID, 10)
	if len(messages) != 0 {
		t.Errorf("expected no messages after clear, got %d", len(messages))
	}

	again, err := store.GetOrCreate(ctx, "u1", "sess1", "cli")
	if err != nil {
		t.Fatalf("GetOrCreate error: %v", err)
	}
	if again.ID != conv.ID {
		t.Error("expected the conversation row to survive Clear")
	}
}

func TestRecentActivityFiltersByPlatform(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.GetOrCreate(ctx, "u1", "s1", "cli")
	store.GetOrCreate(ctx, "u2", "s1", "slack")

	all, err := store.RecentActivity(ctx, 10, nil)
	if err != nil {
		t.Fatalf("RecentActivity error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(all))
	}

	slackOnly, err := store.RecentActivity(ctx, 10, []string{"slack"})
	if err != nil {
		t.Fatalf("RecentActivity error: %v", err)
	}
	if len(slackOnly) != 1 || slackOnly[0].Platform != "slack" {
		t.Errorf("expected 1 slack conversation, got %v", slackOnly)
	}
}

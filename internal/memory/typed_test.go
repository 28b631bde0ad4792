package memory

import (
	"context"
	"testing"
)

func TestSetAndGetFact(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "u1", "timezone", "America/New_York", TypePreference, 0.9, "agent"); err != nil {
		t.Fatalf("set error: %v", err)
	}

	fact, ok, err := store.GetFact(ctx, "u1", TypePreference, "timezone")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if !ok {
		t.Fatal("expected fact to be found")
	}
	if fact.Value != "America/New_York" {
		t.Errorf("unexpected value: %s", fact.Value)
	}
	if fact.Confidence != 0.9 {
		t.Errorf("unexpected confidence: %f", fact.Confidence)
	}
}

func TestSetUpsertsInPlace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "u1", "favorite_editor", "vim", TypePreference, 1.0, "agent")
	store.Set(ctx, "u1", "favorite_editor", "emacs", TypePreference, 0.8, "user_feedback")

	fact, ok, _ := store.GetFact(ctx, "u1", TypePreference, "favorite_editor")
	if !ok {
		t.Fatal("expected fact to be found")
	}
	if fact.Value != "emacs" {
		t.Errorf("expected second Set to replace value, got %q", fact.Value)
	}
	if fact.Source != "user_feedback" {
		t.Errorf("expected source to be updated, got %q", fact.Source)
	}
}

func TestByTypeScopesToUserAndType(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "u1", "timezone", "UTC", TypePreference, 1.0, "agent")
	store.Set(ctx, "u1", "name", "Alex", TypeCore, 1.0, "agent")
	store.Set(ctx, "u2", "timezone", "PST", TypePreference, 1.0, "agent")

	facts, err := store.ByType(ctx, "u1", TypePreference)
	if err != nil {
		t.Fatalf("ByType error: %v", err)
	}
	if len(facts) != 1 || facts[0].Key != "timezone" || facts[0].Value != "UTC" {
		t.Errorf("unexpected facts: %v", facts)
	}
}

func TestAllFacts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "u1", "timezone", "UTC", TypePreference, 1.0, "agent")
	store.Set(ctx, "u1", "name", "Alex", TypeCore, 1.0, "agent")

	facts, err := store.AllFacts(ctx, "u1")
	if err != nil {
		t.Fatalf("AllFacts error: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
}

func TestDeleteFact(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "u1", "timezone", "UTC", TypePreference, 1.0, "agent")
	if err := store.DeleteFact(ctx, "u1", TypePreference, "timezone"); err != nil {
		t.Fatalf("delete error: %v", err)
	}

	_, ok, _ := store.GetFact(ctx, "u1", TypePreference, "timezone")
	if ok {
		t.Error("expected fact to be gone after delete")
	}
}

func TestFormatForPromptGroupsByType(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "u1", "timezone", "UTC", TypePreference, 1.0, "agent")
	store.Set(ctx, "u1", "name", "Alex", TypeCore, 1.0, "agent")

	out := store.FormatForPrompt(ctx, "u1")
	if out == "" {
		t.Fatal("expected non-empty prompt block")
	}
	if store.FormatForPrompt(ctx, "nobody") != "" {
		t.Error("expected empty block for a user with no facts")
	}
}

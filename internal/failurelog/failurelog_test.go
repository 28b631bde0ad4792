package failurelog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/corvidrun/corvid/internal/storage"
)

func setupTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	log, err := New(db)
	if err != nil {
		t.Fatalf("creating log: %v", err)
	}
	return log
}

func TestLogCreatesNewRecord(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	id, err := log.Log(ctx, "shell_exec", "timeout", "command timed out", nil, "u1", "cli")
	if err != nil {
		t.Fatalf("Log error: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive ID, got %d", id)
	}

	records, err := log.Recent(ctx, 10, false)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].OccurrenceCount != 1 {
		t.Errorf("expected occurrence count 1, got %d", records[0].OccurrenceCount)
	}
}

func TestLogCoalescesRepeatedFailures(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	id1, _ := log.Log(ctx, "shell_exec", "timeout", "first timeout", nil, "u1", "cli")
	id2, _ := log.Log(ctx, "shell_exec", "timeout", "second timeout", nil, "u1", "cli")

	if id1 != id2 {
		t.Fatalf("expected the same record to be reused, got %d and %d", id1, id2)
	}

	records, _ := log.Recent(ctx, 10, false)
	if len(records) != 1 {
		t.Fatalf("expected coalescing into 1 record, got %d", len(records))
	}
	if records[0].OccurrenceCount != 2 {
		t.Errorf("expected occurrence count 2, got %d", records[0].OccurrenceCount)
	}
	if records[0].ErrorText != "second timeout" {
		t.Errorf("expected error text to be updated to the latest, got %q", records[0].ErrorText)
	}
}

func TestLogDoesNotCoalesceAcrossDifferentErrorKinds(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	log.Log(ctx, "shell_exec", "timeout", "timed out", nil, "u1", "cli")
	log.Log(ctx, "shell_exec", "permission_denied", "denied", nil, "u1", "cli")

	records, _ := log.Recent(ctx, 10, false)
	if len(records) != 2 {
		t.Fatalf("expected 2 distinct records, got %d", len(records))
	}
}

func TestResolvedFailureStartsNewCoalescingGroup(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	id1, _ := log.Log(ctx, "shell_exec", "timeout", "first", nil, "u1", "cli")
	log.MarkResolved(ctx, id1, "fixed the flaky command")

	id2, _ := log.Log(ctx, "shell_exec", "timeout", "second", nil, "u1", "cli")
	if id1 == id2 {
		t.Fatal("expected a resolved record not to be coalesced onto")
	}

	records, _ := log.Recent(ctx, 10, true)
	if len(records) != 1 || records[0].ID != id2 {
		t.Errorf("expected only the new unresolved record, got %v", records)
	}
}

func TestSummaryCountsUnresolvedAndTopTools(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	log.Log(ctx, "shell_exec", "timeout", "x", nil, "u1", "cli")
	log.Log(ctx, "shell_exec", "timeout", "x", nil, "u1", "cli")
	log.Log(ctx, "web_read", "network_error", "x", nil, "u1", "cli")

	summary, err := log.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary error: %v", err)
	}
	if summary.UnresolvedCount != 2 {
		t.Errorf("expected 2 unresolved records, got %d", summary.UnresolvedCount)
	}
	if len(summary.TopFailingTools) == 0 || summary.TopFailingTools[0].Name != "shell_exec" {
		t.Errorf("expected shell_exec to be the top failing tool, got %v", summary.TopFailingTools)
	}
}

func TestMarkResolved(t *testing.T) {
	log := setupTestLog(t)
	ctx := context.Background()

	id, _ := log.Log(ctx, "shell_exec", "timeout", "x", nil, "u1", "cli")

	ok, err := log.MarkResolved(ctx, id, "retried with a longer timeout")
	if err != nil {
		t.Fatalf("MarkResolved error: %v", err)
	}
	if !ok {
		t.Fatal("expected MarkResolved to report success")
	}

	records, _ := log.Recent(ctx, 10, false)
	if len(records) != 1 || !records[0].Resolved {
		t.Errorf("expected the record to be marked resolved, got %v", records)
	}
}

func TestFormatForLLMEmptyAndNonEmpty(t *testing.T) {
	if got := FormatForLLM(nil); got != "No recent failures found." {
		t.Errorf("unexpected empty-case output: %q", got)
	}

	out := FormatForLLM([]Record{{ID: 1, ToolName: "shell_exec", ErrorKind: "timeout", ErrorText: "x", OccurrenceCount: 3}})
	if out == "" {
		t.Fatal("expected non-empty output")
	}
}

package bootstrap

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/corvidrun/corvid/internal/bus"
	"github.com/corvidrun/corvid/internal/scheduler"
	"github.com/corvidrun/corvid/internal/storage"
)

func setupTestDeps(t *testing.T) *Deps {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sched, err := scheduler.New(db, slog.Default())
	if err != nil {
		t.Fatalf("creating scheduler: %v", err)
	}

	return &Deps{
		Bus:       bus.New(4),
		Scheduler: sched,
		Logger:    slog.Default(),
	}
}

func TestDeliverScheduledResultSendsDirectlyWhenSubscribed(t *testing.T) {
	d := setupTestDeps(t)
	ctx := context.Background()
	sub := d.Bus.Subscribe()

	task := scheduler.Task{ID: 1, UserID: "u1", Platform: "cli", Name: "backup"}
	d.deliverScheduledResult(task, "done", true)

	select {
	case out := <-sub:
		if out.Channel != "cli" || out.ChatID != "u1" {
			t.Errorf("unexpected outbound message: %+v", out)
		}
	default:
		t.Fatal("expected a message to be sent directly over the bus")
	}

	pending, err := d.Scheduler.PendingNotifications(ctx, "cli")
	if err != nil {
		t.Fatalf("PendingNotifications error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no queued notification when delivered live, got %v", pending)
	}
}

func TestDeliverScheduledResultQueuesWhenNoSubscriber(t *testing.T) {
	d := setupTestDeps(t)
	ctx := context.Background()

	task := scheduler.Task{ID: 2, UserID: "u1", Platform: "cli", Name: "backup"}
	d.deliverScheduledResult(task, "done", true)

	pending, err := d.Scheduler.PendingNotifications(ctx, "cli")
	if err != nil {
		t.Fatalf("PendingNotifications error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 queued notification, got %d", len(pending))
	}

	d.drainNotificationsOnce(ctx)

	stillPending, err := d.Scheduler.PendingNotifications(ctx, "cli")
	if err != nil {
		t.Fatalf("PendingNotifications error: %v", err)
	}
	if len(stillPending) != 0 {
		t.Errorf("expected drain to mark the notification delivered, got %v", stillPending)
	}
}

func TestKnownPlatformsNonEmpty(t *testing.T) {
	d := setupTestDeps(t)
	if len(d.knownPlatforms()) == 0 {
		t.Error("expected a non-empty platform list")
	}
}

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvidrun/corvid/internal/storage"
)

func setupTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sched, err := New(db, slog.Default())
	if err != nil {
		t.Fatalf("creating scheduler: %v", err)
	}
	return sched
}

func TestScheduleAndList(t *testing.T) {
	sched := setupTestScheduler(t)
	ctx := context.Background()

	task, err := sched.Schedule(ctx, "u1", "backup", "back up the data", KindInterval, ScheduleData{"hours": 1}, "cli")
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if task.ID <= 0 {
		t.Fatalf("expected a positive task ID, got %d", task.ID)
	}
	if !task.Enabled {
		t.Error("expected a freshly scheduled task to be enabled")
	}

	tasks, err := sched.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("expected the scheduled task back, got %v", tasks)
	}
}

func TestListScopesToUser(t *testing.T) {
	sched := setupTestScheduler(t)
	ctx := context.Background()

	sched.Schedule(ctx, "u1", "a", "prompt a", KindInterval, ScheduleData{"hours": 1}, "cli")
	sched.Schedule(ctx, "u2", "b", "prompt b", KindInterval, ScheduleData{"hours": 1}, "cli")

	tasks, err := sched.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Name != "a" {
		t.Errorf("expected only u1's task, got %v", tasks)
	}
}

func TestPauseAndResume(t *testing.T) {
	sched := setupTestScheduler(t)
	ctx := context.Background()

	task, _ := sched.Schedule(ctx, "u1", "backup", "back up the data", KindInterval, ScheduleData{"hours": 1}, "cli")

	if err := sched.Pause(ctx, task.ID); err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	paused, err := sched.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if paused.Enabled {
		t.Error("expected task to be disabled after Pause")
	}

	if err := sched.Resume(ctx, task.ID); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	resumed, err := sched.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !resumed.Enabled {
		t.Error("expected task to be enabled after Resume")
	}
}

func TestCancelRemovesTask(t *testing.T) {
	sched := setupTestScheduler(t)
	ctx := context.Background()

	task, _ := sched.Schedule(ctx, "u1", "backup", "back up the data", KindInterval, ScheduleData{"hours": 1}, "cli")

	if err := sched.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	if _, err := sched.Get(ctx, task.ID); err == nil {
		t.Error("expected Get to fail for a cancelled task")
	}

	tasks, _ := sched.List(ctx, "u1")
	if len(tasks) != 0 {
		t.Errorf("expected no tasks after cancel, got %v", tasks)
	}
}

func TestRunTaskResetsFailCountOnSuccess(t *testing.T) {
	sched := setupTestScheduler(t)
	ctx := context.Background()

	task, _ := sched.Schedule(ctx, "u1", "job", "do the thing", KindInterval, ScheduleData{"seconds": 1}, "cli")

	sched.SetAgentInvoker(func(ctx context.Context, userID, platform, sessionID, prompt string) (string, error) {
		return "ok", nil
	})
	sched.runTask(ctx, task)

	after, err := sched.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if after.FailCount != 0 {
		t.Errorf("expected fail count to stay 0 after a success, got %d", after.FailCount)
	}
	if after.RunCount != 1 {
		t.Errorf("expected run count 1, got %d", after.RunCount)
	}
}

func TestRunTaskDisablesAfterMaxConsecutiveFailures(t *testing.T) {
	sched := setupTestScheduler(t)
	ctx := context.Background()

	task, _ := sched.Schedule(ctx, "u1", "job", "do the thing", KindInterval, ScheduleData{"seconds": 1}, "cli")

	sched.SetAgentInvoker(func(ctx context.Context, userID, platform, sessionID, prompt string) (string, error) {
		return "", errors.New("boom")
	})

	for i := 0; i < maxConsecutiveFailures; i++ {
		current, err := sched.Get(ctx, task.ID)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		sched.runTask(ctx, current)
	}

	after, err := sched.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if after.FailCount != maxConsecutiveFailures {
		t.Errorf("expected fail count %d, got %d", maxConsecutiveFailures, after.FailCount)
	}
	if after.Enabled {
		t.Error("expected task to be disabled after maxConsecutiveFailures consecutive failures")
	}
}

func TestRunTaskOnceDisablesAfterRunning(t *testing.T) {
	sched := setupTestScheduler(t)
	ctx := context.Background()

	task, _ := sched.Schedule(ctx, "u1", "reminder", "remind me", KindOnce, ScheduleData{"in_minutes": 5}, "cli")

	sched.SetAgentInvoker(func(ctx context.Context, userID, platform, sessionID, prompt string) (string, error) {
		return "done", nil
	})
	sched.runTask(ctx, task)

	after, err := sched.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if after.Enabled {
		t.Error("expected a once task to disable itself after running")
	}
}

func TestParseScheduleInterval(t *testing.T) {
	kind, data, err := ParseSchedule("every 2 hours")
	if err != nil {
		t.Fatalf("ParseSchedule error: %v", err)
	}
	if kind != KindInterval {
		t.Errorf("expected interval kind, got %v", kind)
	}
	if data["hours"] != 2 {
		t.Errorf("expected hours=2, got %v", data["hours"])
	}
}

func TestParseScheduleDaily(t *testing.T) {
	kind, data, err := ParseSchedule("daily at 9:00")
	if err != nil {
		t.Fatalf("ParseSchedule error: %v", err)
	}
	if kind != KindDaily {
		t.Errorf("expected daily kind, got %v", kind)
	}
	if data["hour"] != 9 || data["minute"] != 0 {
		t.Errorf("expected 9:00, got hour=%v minute=%v", data["hour"], data["minute"])
	}
}

func TestParseScheduleDailyPM(t *testing.T) {
	_, data, err := ParseSchedule("daily at 6:30pm")
	if err != nil {
		t.Fatalf("ParseSchedule error: %v", err)
	}
	if data["hour"] != 18 || data["minute"] != 30 {
		t.Errorf("expected 18:30, got hour=%v minute=%v", data["hour"], data["minute"])
	}
}

func TestParseScheduleIn(t *testing.T) {
	kind, data, err := ParseSchedule("in 10 minutes")
	if err != nil {
		t.Fatalf("ParseSchedule error: %v", err)
	}
	if kind != KindOnce {
		t.Errorf("expected once kind, got %v", kind)
	}
	if data["in_minutes"] != 10 {
		t.Errorf("expected in_minutes=10, got %v", data["in_minutes"])
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	if _, _, err := ParseSchedule("whenever you feel like it"); err == nil {
		t.Error("expected an error for an unparseable schedule")
	}
}

func TestComputeNextRunInterval(t *testing.T) {
	from := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	next, err := computeNextRun(KindInterval, ScheduleData{"hours": 2}, from)
	if err != nil {
		t.Fatalf("computeNextRun error: %v", err)
	}
	if !next.Equal(from.Add(2 * time.Hour)) {
		t.Errorf("expected %v, got %v", from.Add(2*time.Hour), next)
	}
}

func TestComputeNextRunDailyRollsToTomorrowIfPassed(t *testing.T) {
	from := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	next, err := computeNextRun(KindDaily, ScheduleData{"hour": 9, "minute": 0}, from)
	if err != nil {
		t.Fatalf("computeNextRun error: %v", err)
	}
	want := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestComputeNextRunInvalidKind(t *testing.T) {
	if _, err := computeNextRun(Kind("bogus"), ScheduleData{}, time.Now()); err == nil {
		t.Error("expected an error for an unknown schedule kind")
	}
}

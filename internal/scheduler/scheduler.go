// Package scheduler runs the heartbeat-driven background task system: a
// persistent store of scheduled_tasks, an append-only scheduled_executions
// history, and a scheduled_notifications delivery queue.
//
// Grounded on the teacher's internal/scheduler/scheduler.go for the
// ticker + max-concurrency + auto-pause-on-repeated-failure idiom, and on
// original_source/core/scheduler.py for the exact natural-language grammar
// and the heartbeat algorithm — with one deliberate divergence: the
// original's calculate_next_run silently defaults an unparseable interval
// to one hour; this implementation raises instead (see ParseSchedule).
package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
)

// ScheduleData is the kind-specific normalized payload produced by
// ParseSchedule: seconds/minutes/hours/days for interval, hour/minute for
// daily, in_minutes/in_hours/datetime for once.
type ScheduleData map[string]any

func (d ScheduleData) json() string {
	b, _ := json.Marshal(d)
	return string(b)
}

type Task struct {
	ID        int64
	UserID    string
	Platform  string
	Name      string
	Prompt    string
	Kind      Kind
	Data      ScheduleData
	CreatedAt time.Time
	NextRun   time.Time
	LastRun   *time.Time
	RunCount  int
	FailCount int
	Enabled   bool
}

type Execution struct {
	ID       int64
	TaskID   int64
	TaskName string
	UserID   string
	Platform string
	Result   string
	Success  bool
	RanAt    time.Time
}

type Notification struct {
	ID          int64
	TaskID      *int64
	UserID      string
	Platform    string
	Message     string
	CreatedAt   time.Time
	Delivered   bool
	DeliveredAt *time.Time
}

// AgentInvoker is how the scheduler runs a task's prompt through the agent,
// scoped to the task's user and a synthetic "scheduled_<id>" session. The
// scheduler knows nothing about the agent's concrete type, only this
// callback shape (spec §9: "the scheduler knows nothing about the agent
// type, only the callback signature").
type AgentInvoker func(ctx context.Context, userID, platform, sessionID, prompt string) (string, error)

// OnCompletion fires after every task run, successful or not. Panics/errors
// from it are logged and never interrupt the heartbeat.
type OnCompletion func(task Task, result string, success bool)

const (
	execResultTruncateLen  = 2000
	maxConsecutiveFailures = 5
)

type Scheduler struct {
	db      *sql.DB
	logger  *slog.Logger
	mu      sync.Mutex
	running map[int64]context.CancelFunc

	invoke       AgentInvoker
	onCompletion OnCompletion

	heartbeat time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func New(db *sql.DB, logger *slog.Logger) (*Scheduler, error) {
	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("initializing scheduler schema: %w", err)
	}
	return &Scheduler{
		db:        db,
		logger:    logger,
		running:   make(map[int64]context.CancelFunc),
		heartbeat: 30 * time.Second,
	}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			name TEXT NOT NULL,
			prompt TEXT NOT NULL,
			kind TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			next_run DATETIME NOT NULL,
			last_run DATETIME,
			run_count INTEGER NOT NULL DEFAULT 0,
			fail_count INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS scheduled_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL,
			task_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			result TEXT NOT NULL,
			success INTEGER NOT NULL,
			ran_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS scheduled_notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			delivered INTEGER NOT NULL DEFAULT 0,
			delivered_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_due ON scheduled_tasks(enabled, next_run);
		CREATE INDEX IF NOT EXISTS idx_notifications_pending ON scheduled_notifications(platform, delivered);
	`)
	return err
}

func (s *Scheduler) SetAgentInvoker(fn AgentInvoker) { s.invoke = fn }
func (s *Scheduler) SetOnCompletion(fn OnCompletion) { s.onCompletion = fn }
func (s *Scheduler) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		s.heartbeat = d
	}
}

// Schedule creates a task. Per the persistence invariant, the task must be
// readable from the store before the caller is told it succeeded; if the
// read-back fails, the caller receives an error and the schedule is
// considered not created.
func (s *Scheduler) Schedule(ctx context.Context, userID, name, prompt string, kind Kind, data ScheduleData, platform string) (Task, error) {
	nextRun, err := computeNextRun(kind, data, time.Now())
	if err != nil {
		return Task{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (user_id, platform, name, prompt, kind, data, next_run, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
	`, userID, platform, name, prompt, string(kind), data.json(), nextRun)
	if err != nil {
		return Task{}, fmt.Errorf("creating scheduled task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, fmt.Errorf("creating scheduled task: %w", err)
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, fmt.Errorf("schedule created but could not be read back, please retry: %w", err)
	}
	return task, nil
}

func (s *Scheduler) Get(ctx context.Context, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, platform, name, prompt, kind, data, created_at, next_run, last_run, run_count, fail_count, enabled
		FROM scheduled_tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

func (s *Scheduler) List(ctx context.Context, userID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform, name, prompt, kind, data, created_at, next_run, last_run, run_count, fail_count, enabled
		FROM scheduled_tasks WHERE user_id = ? ORDER BY next_run ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Scheduler) Cancel(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	return err
}

func (s *Scheduler) Pause(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET enabled = 0 WHERE id = ?`, id)
	return err
}

func (s *Scheduler) Resume(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET enabled = 1 WHERE id = ?`, id)
	return err
}

// Start launches the heartbeat loop in a goroutine; Stop cancels the sleep
// and waits for the in-flight tick to finish (spec §5 cancellation rule).
func (s *Scheduler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.heartbeatLoop(ctx)
}

func (s *Scheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fetches due tasks and runs each sequentially, per §4.7's heartbeat
// algorithm. A freshly-started scheduler whose tasks have next_run in the
// past picks them up on its very first tick (overdue recovery).
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.dueTasks(ctx)
	if err != nil {
		s.logger.Warn("scheduler: failed to fetch due tasks", "error", err)
		return
	}
	for _, task := range due {
		s.runTask(ctx, task)
	}
}

func (s *Scheduler) dueTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform, name, prompt, kind, data, created_at, next_run, last_run, run_count, fail_count, enabled
		FROM scheduled_tasks WHERE enabled = 1 AND next_run <= ?
	`, time.Now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// runTask invokes the agent, records the execution, reschedules or
// disables, and fires the completion callback. Any fault here is a
// SchedulerTaskFault: logged and isolated, never propagated to the
// heartbeat loop itself.
func (s *Scheduler) runTask(ctx context.Context, task Task) {
	sessionID := fmt.Sprintf("scheduled_%d", task.ID)

	var result string
	var success bool
	if s.invoke == nil {
		result, success = "scheduler has no agent invoker configured", false
	} else {
		text, err := s.invoke(ctx, task.UserID, task.Platform, sessionID, task.Prompt)
		if err != nil {
			result, success = err.Error(), false
			s.logger.Warn("scheduled task failed", "task_id", task.ID, "name", task.Name, "error", err)
		} else {
			result, success = text, true
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_executions (task_id, task_name, user_id, platform, result, success)
		VALUES (?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, task.UserID, task.Platform, truncate(result, execResultTruncateLen), success); err != nil {
		s.logger.Error("failed to record scheduled execution", "task_id", task.ID, "error", err)
	}

	now := time.Now()

	// A successful run resets the consecutive-failure count; a failed run
	// increments it and, after maxConsecutiveFailures in a row, disables the
	// task rather than continuing to retry indefinitely.
	failCount := task.FailCount
	if success {
		failCount = 0
	} else {
		failCount++
	}
	disableOnFailure := !success && failCount >= maxConsecutiveFailures
	if disableOnFailure {
		s.logger.Warn("disabling task after repeated failures", "task_id", task.ID, "name", task.Name, "fail_count", failCount)
	}

	if task.Kind == KindOnce {
		s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET enabled = 0, last_run = ?, run_count = run_count + 1, fail_count = ? WHERE id = ?`, now, failCount, task.ID)
	} else {
		next, err := computeNextRun(task.Kind, task.Data, now)
		if err != nil {
			s.logger.Error("failed to recompute next_run, disabling task", "task_id", task.ID, "error", err)
			s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET enabled = 0, last_run = ?, run_count = run_count + 1, fail_count = ? WHERE id = ?`, now, failCount, task.ID)
		} else if disableOnFailure {
			s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET enabled = 0, next_run = ?, last_run = ?, run_count = run_count + 1, fail_count = ? WHERE id = ?`, next, now, failCount, task.ID)
		} else {
			s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET next_run = ?, last_run = ?, run_count = run_count + 1, fail_count = ? WHERE id = ?`, next, now, failCount, task.ID)
		}
	}

	if s.onCompletion != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("on_completion callback panicked", "task_id", task.ID, "panic", r)
				}
			}()
			s.onCompletion(task, result, success)
		}()
	}
}

// QueueNotification persists a pending notification, e.g. when no sender is
// registered yet for the task's platform.
func (s *Scheduler) QueueNotification(ctx context.Context, taskID *int64, userID, platform, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_notifications (task_id, user_id, platform, message) VALUES (?, ?, ?, ?)
	`, taskID, userID, platform, message)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingNotifications returns undelivered notifications for a platform.
func (s *Scheduler) PendingNotifications(ctx context.Context, platform string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, user_id, platform, message, created_at, delivered, delivered_at
		FROM scheduled_notifications WHERE platform = ? AND delivered = 0 ORDER BY created_at ASC
	`, platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var taskID sql.NullInt64
		var deliveredAt sql.NullTime
		if err := rows.Scan(&n.ID, &taskID, &n.UserID, &n.Platform, &n.Message, &n.CreatedAt, &n.Delivered, &deliveredAt); err != nil {
			continue
		}
		if taskID.Valid {
			v := taskID.Int64
			n.TaskID = &v
		}
		if deliveredAt.Valid {
			v := deliveredAt.Time
			n.DeliveredAt = &v
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Scheduler) MarkDelivered(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_notifications SET delivered = 1, delivered_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func scanTask(row interface {
	Scan(dest ...any) error
}) (Task, error) {
	var t Task
	var dataJSON string
	var lastRun sql.NullTime
	var kind string
	var enabled int
	if err := row.Scan(&t.ID, &t.UserID, &t.Platform, &t.Name, &t.Prompt, &kind, &dataJSON, &t.CreatedAt, &t.NextRun, &lastRun, &t.RunCount, &t.FailCount, &enabled); err != nil {
		return Task{}, err
	}
	t.Kind = Kind(kind)
	t.Enabled = enabled != 0
	if lastRun.Valid {
		v := lastRun.Time
		t.LastRun = &v
	}
	var data ScheduleData
	if err := json.Unmarshal([]byte(dataJSON), &data); err == nil {
		t.Data = data
	}
	return t, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NewTaskUUID gives callers a stable correlation id distinct from the
// integer primary key, used by approval-adjacent tooling that needs to
// reference an in-flight schedule request before it is persisted.
func NewTaskUUID() string { return uuid.NewString() }

// ---- Schedule grammar -----------------------------------------------------
//
// Ported from original_source/core/scheduler.py::parse_schedule, with its
// silent "unparseable interval defaults to one hour" fallback removed:
// unrecognized input is always an error here.

var (
	reInterval       = regexp.MustCompile(`(?i)^every\s+(\d+)\s+(second|minute|hour|day)s?$`)
	reSimpleInterval = regexp.MustCompile(`(?i)^every\s+(second|minute|hour|day)s?$`)
	reDaily          = regexp.MustCompile(`(?i)^(?:daily|every\s*day|everyday)\s*(?:at\s*)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
	reIn             = regexp.MustCompile(`(?i)^in\s+(\d+)\s+(minute|minutes|min|hour|hours|hr|hrs)$`)
)

// ParseSchedule normalizes a natural-language schedule string into a
// (kind, data) pair, matching the exact grammar table in §4.7. It never
// silently defaults: unrecognized input is an error.
func ParseSchedule(input string) (Kind, ScheduleData, error) {
	s := strings.ToLower(strings.TrimSpace(input))

	switch s {
	case "every morning":
		return KindDaily, ScheduleData{"hour": 9, "minute": 0}, nil
	case "every evening":
		return KindDaily, ScheduleData{"hour": 18, "minute": 0}, nil
	case "every night":
		return KindDaily, ScheduleData{"hour": 21, "minute": 0}, nil
	}

	if m := reInterval.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return "", nil, fmt.Errorf("invalid interval count in %q", input)
		}
		return KindInterval, ScheduleData{unitKey(m[2]): n}, nil
	}

	if m := reSimpleInterval.FindStringSubmatch(s); m != nil {
		return KindInterval, ScheduleData{unitKey(m[1]): 1}, nil
	}

	if m := reDaily.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		meridiem := m[3]
		switch meridiem {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return "", nil, fmt.Errorf("invalid time of day in %q", input)
		}
		return KindDaily, ScheduleData{"hour": hour, "minute": minute}, nil
	}

	if m := reIn.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return "", nil, fmt.Errorf("invalid duration in %q", input)
		}
		switch m[2] {
		case "minute", "minutes", "min":
			return KindOnce, ScheduleData{"in_minutes": n}, nil
		default:
			return KindOnce, ScheduleData{"in_hours": n}, nil
		}
	}

	// ISO datetime, optionally prefixed with "once at ".
	iso := strings.TrimPrefix(s, "once at ")
	iso = strings.TrimSpace(iso)
	if t, err := time.Parse(time.RFC3339, iso); err == nil {
		return KindOnce, ScheduleData{"datetime": t.Format(time.RFC3339)}, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", iso); err == nil {
		return KindOnce, ScheduleData{"datetime": t.Format(time.RFC3339)}, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", iso); err == nil {
		return KindOnce, ScheduleData{"datetime": t.Format(time.RFC3339)}, nil
	}

	return "", nil, fmt.Errorf("couldn't parse schedule %q. Try formats like: 'in 10 minutes', 'every 2 hours', or 'daily at 9:00'", input)
}

func unitKey(unit string) string {
	switch unit {
	case "second":
		return "seconds"
	case "minute":
		return "minutes"
	case "hour":
		return "hours"
	case "day":
		return "days"
	}
	return "seconds"
}

// computeNextRun applies the kind's rule to produce the next run time from
// `from`. For DAILY, rolls forward to tomorrow if today's time has passed.
func computeNextRun(kind Kind, data ScheduleData, from time.Time) (time.Time, error) {
	switch kind {
	case KindOnce:
		if v, ok := data["datetime"]; ok {
			s, _ := v.(string)
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid once datetime %q: %w", s, err)
			}
			return t, nil
		}
		if n, ok := numberField(data, "in_minutes"); ok {
			return from.Add(time.Duration(n) * time.Minute), nil
		}
		if n, ok := numberField(data, "in_hours"); ok {
			return from.Add(time.Duration(n) * time.Hour), nil
		}
		return time.Time{}, fmt.Errorf("once schedule data missing datetime/in_minutes/in_hours")

	case KindInterval:
		var seconds float64
		switch {
		case hasField(data, "seconds"):
			n, _ := numberField(data, "seconds")
			seconds = n
		case hasField(data, "minutes"):
			n, _ := numberField(data, "minutes")
			seconds = n * 60
		case hasField(data, "hours"):
			n, _ := numberField(data, "hours")
			seconds = n * 3600
		case hasField(data, "days"):
			n, _ := numberField(data, "days")
			seconds = n * 86400
		default:
			return time.Time{}, fmt.Errorf("interval schedule data missing a unit field")
		}
		if seconds <= 0 {
			return time.Time{}, fmt.Errorf("interval schedule resolved to a non-positive duration")
		}
		return from.Add(time.Duration(seconds * float64(time.Second))), nil

	case KindDaily:
		hour, hok := numberField(data, "hour")
		minute, mok := numberField(data, "minute")
		if !hok || !mok {
			return time.Time{}, fmt.Errorf("daily schedule data missing hour/minute")
		}
		next := time.Date(from.Year(), from.Month(), from.Day(), int(hour), int(minute), 0, 0, from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", kind)
	}
}

func hasField(d ScheduleData, key string) bool {
	_, ok := d[key]
	return ok
}

func numberField(d ScheduleData, key string) (float64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

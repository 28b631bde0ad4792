package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/corvidrun/corvid/internal/scheduler"
)

// CronManageTool lets the model set reminders and recurring tasks. The
// free-text "schedule" argument is run through scheduler.ParseSchedule
// before being persisted — an unparseable schedule is reported back to the
// model as an error rather than silently defaulting to an hourly run.
type CronManageTool struct {
	sched *scheduler.Scheduler
}

func NewCronManage(sched *scheduler.Scheduler) *CronManageTool {
	return &CronManageTool{sched: sched}
}

func (t *CronManageTool) Name() string { return "cron_manage" }
func (t *CronManageTool) Description() string {
	return "Set reminders and schedule tasks. Use this when a user says 'remind me', 'in X minutes', 'daily at X', or wants something recurring."
}
func (t *CronManageTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["create", "list", "pause", "resume", "cancel", "get"],
				"description": "The action to perform"
			},
			"id": {
				"type": "integer",
				"description": "Task ID (for pause, resume, cancel, get)"
			},
			"name": {
				"type": "string",
				"description": "Short name for the reminder or task (e.g. 'iftar_party', 'standup_meeting')"
			},
			"schedule": {
				"type": "string",
				"description": "When to fire, in plain English. Examples: 'in 10 minutes', 'in 2 hours', 'every 2 hours', 'daily at 9:00', 'every morning'"
			},
			"prompt": {
				"type": "string",
				"description": "What the agent should do or say when this fires (e.g. 'Remind the user to take medication')"
			}
		},
		"required": ["action"]
	}`)
}

type cronManageParams struct {
	Action   string `json:"action"`
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
}

func (t *CronManageTool) Execute(ctx context.Context, params json.RawMessage) (ToolResult, error) {
	var p cronManageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("parsing params: %w", err)
	}

	switch p.Action {
	case "create":
		return t.create(ctx, p)
	case "list":
		return t.list(ctx)
	case "pause":
		return t.pause(ctx, p.ID)
	case "resume":
		return t.resume(ctx, p.ID)
	case "cancel":
		return t.cancel(ctx, p.ID)
	case "get":
		return t.get(ctx, p.ID)
	default:
		return ToolResult{ForLLM: fmt.Sprintf("Unknown action: %s. Use: create, list, pause, resume, cancel, get.", p.Action)}, nil
	}
}

func (t *CronManageTool) create(ctx context.Context, p cronManageParams) (ToolResult, error) {
	if p.Name == "" || p.Schedule == "" || p.Prompt == "" {
		return ToolResult{ForLLM: "Error: name, schedule, and prompt are all required for create"}, nil
	}

	kind, data, err := scheduler.ParseSchedule(p.Schedule)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error: %v", err)}, nil
	}

	caller := CallerFromContext(ctx)
	task, err := t.sched.Schedule(ctx, caller.UserID, p.Name, p.Prompt, kind, data, caller.Platform)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error creating task: %v", err)}, nil
	}

	label := "Scheduled"
	if kind == scheduler.KindOnce {
		label = "Reminder set"
	}
	return ToolResult{
		ForLLM:  fmt.Sprintf("Created (id=%d, name=%s, schedule=%s, next_run=%s)", task.ID, task.Name, p.Schedule, task.NextRun.Format(time.RFC3339)),
		ForUser: fmt.Sprintf("%s: %s (%s)", label, p.Name, p.Schedule),
	}, nil
}

func (t *CronManageTool) list(ctx context.Context) (ToolResult, error) {
	caller := CallerFromContext(ctx)
	tasks, err := t.sched.List(ctx, caller.UserID)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error listing tasks: %v", err)}, nil
	}

	if len(tasks) == 0 {
		return ToolResult{ForLLM: "No scheduled tasks."}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled tasks (%d):\n", len(tasks))
	for _, task := range tasks {
		status := "enabled"
		if !task.Enabled {
			status = "PAUSED"
		}
		lastRun := "never"
		if task.LastRun != nil {
			lastRun = task.LastRun.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "\n[%d] %s — %s [%s]", task.ID, task.Name, task.Kind, status)
		fmt.Fprintf(&b, "\n    last: %s | next: %s | runs: %d", lastRun, task.NextRun.Format("2006-01-02 15:04"), task.RunCount)
		fmt.Fprintf(&b, "\n    prompt: %s", task.Prompt)
	}

	return ToolResult{ForLLM: b.String()}, nil
}

func (t *CronManageTool) pause(ctx context.Context, id int64) (ToolResult, error) {
	if id <= 0 {
		return ToolResult{ForLLM: "Error: task id is required"}, nil
	}
	if err := t.sched.Pause(ctx, id); err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error pausing task: %v", err)}, nil
	}
	return ToolResult{ForLLM: fmt.Sprintf("Task %d paused.", id)}, nil
}

func (t *CronManageTool) resume(ctx context.Context, id int64) (ToolResult, error) {
	if id <= 0 {
		return ToolResult{ForLLM: "Error: task id is required"}, nil
	}
	if err := t.sched.Resume(ctx, id); err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error resuming task: %v", err)}, nil
	}
	return ToolResult{ForLLM: fmt.Sprintf("Task %d resumed.", id)}, nil
}

func (t *CronManageTool) cancel(ctx context.Context, id int64) (ToolResult, error) {
	if id <= 0 {
		return ToolResult{ForLLM: "Error: task id is required"}, nil
	}
	if err := t.sched.Cancel(ctx, id); err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error cancelling task: %v", err)}, nil
	}
	return ToolResult{ForLLM: fmt.Sprintf("Task %d cancelled.", id)}, nil
}

func (t *CronManageTool) get(ctx context.Context, id int64) (ToolResult, error) {
	if id <= 0 {
		return ToolResult{ForLLM: "Error: task id is required"}, nil
	}
	task, err := t.sched.Get(ctx, id)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error getting task: %v", err)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task #%d: %s\n", task.ID, task.Name)
	fmt.Fprintf(&b, "Kind: %s\n", task.Kind)
	fmt.Fprintf(&b, "Enabled: %v\n", task.Enabled)
	fmt.Fprintf(&b, "Runs: %d\n", task.RunCount)
	if task.LastRun != nil {
		fmt.Fprintf(&b, "Last run: %s\n", task.LastRun.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Next run: %s\n", task.NextRun.Format(time.RFC3339))
	fmt.Fprintf(&b, "Prompt: %s\n", task.Prompt)

	return ToolResult{ForLLM: b.String()}, nil
}

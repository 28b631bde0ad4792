package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/corvidrun/corvid/internal/agent"
	"github.com/corvidrun/corvid/internal/bus"
	"github.com/corvidrun/corvid/internal/config"
	"github.com/corvidrun/corvid/internal/conversation"
	"github.com/corvidrun/corvid/internal/failurelog"
	"github.com/corvidrun/corvid/internal/memory"
	"github.com/corvidrun/corvid/internal/providers"
	"github.com/corvidrun/corvid/internal/scheduler"
	"github.com/corvidrun/corvid/internal/security"
	"github.com/corvidrun/corvid/internal/skills"
	"github.com/corvidrun/corvid/internal/storage"
	"github.com/corvidrun/corvid/internal/tools"
)

const heartbeatTaskName = "__heartbeat__"

// Deps holds all shared dependencies for a Corvid instance.
type Deps struct {
	DB          *sql.DB
	Bus         *bus.MessageBus
	MemStore    *memory.Store
	ConvStore   *conversation.Store
	FailureLog  *failurelog.Log
	Registry    *tools.Registry
	Provider    providers.Provider
	SubMgr      *agent.SubagentManager
	Loop        *agent.AgentLoop
	Scheduler   *scheduler.Scheduler
	SkillLoader *skills.Loader
	SecAdapter  *security.PolicyAdapter
	Logger      *slog.Logger
	Cfg         *config.Config

	MemCount  int
	CronCount int
}

// BuildDeps creates all shared dependencies from config.
// The caller is responsible for calling Close() on the returned Deps.
func BuildDeps(cfg *config.Config, logger *slog.Logger) (*Deps, error) {
	home := config.CorvidHome()
	d := &Deps{Cfg: cfg, Logger: logger}

	// Initialize message bus
	d.Bus = bus.New(64)

	// Initialize security policy
	secPolicy := security.NewPolicy(cfg.Security.DenyPatterns, cfg.Security.AllowedPaths)
	d.SecAdapter = security.NewAdapter(secPolicy)

	// Single embedded database shared by memory, conversations, the failure
	// log and the scheduler — one writer connection avoids SQLITE_BUSY under
	// WAL (see internal/storage).
	dbPath := filepath.Join(home, "corvid.db")
	db, err := storage.Open(dbPath)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	d.DB = db

	memStore, err := memory.NewStoreFromDB(db)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("initializing memory store: %w", err)
	}
	d.MemStore = memStore
	d.MemCount, _ = memStore.Count(context.Background())

	convStore, err := conversation.NewStore(db)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("initializing conversation store: %w", err)
	}
	d.ConvStore = convStore

	failLog, err := failurelog.New(db)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("initializing failure log: %w", err)
	}
	d.FailureLog = failLog

	logger.Info("database ready", "path", dbPath, "memories", d.MemCount)

	// Initialize tool registry with DNA tools
	d.Registry = tools.NewRegistry()
	d.Registry.SetLogger(logger)
	dnaTools := tools.RegisterDNATools(d.Registry)
	dnaTools.ShellExec.SetSecurity(d.SecAdapter)
	dnaTools.FileRead.SetSecurity(d.SecAdapter)
	dnaTools.FileWrite.SetSecurity(d.SecAdapter)
	dnaTools.FileEdit.SetSecurity(d.SecAdapter)

	// Register memory tools (free-text notes + typed facts)
	d.Registry.Register(tools.NewMemoryStore(memStore))
	d.Registry.Register(tools.NewMemoryRecall(memStore))
	d.Registry.Register(tools.NewMemoryFact(memStore))

	// Register log tool
	d.Registry.Register(tools.NewLogRead())

	// Register self-healing / failure-log tools
	d.Registry.Register(tools.NewFailureRecent(failLog))
	d.Registry.Register(tools.NewFailureSummary(failLog))
	d.Registry.Register(tools.NewFailureResolve(failLog))

	// Initialize skill system
	skillsDir := filepath.Join(home, "skills")
	d.SkillLoader = skills.NewLoader(skillsDir)
	if err := d.SkillLoader.LoadAll(); err != nil {
		logger.Warn("failed to load skills", "error", err)
	}
	logger.Info("skills loaded", "count", d.SkillLoader.Count())

	// Register skill tools
	d.Registry.Register(tools.NewCreateSkill(d.SkillLoader, cfg.Skills.AutoApprove))
	d.Registry.Register(tools.NewViewSkills(d.SkillLoader))
	d.Registry.Register(tools.NewLearnSkill(d.SkillLoader))
	d.Registry.Register(tools.NewUpdateSkill(d.SkillLoader))
	d.Registry.Register(tools.NewDocumentLimitation(d.SkillLoader, cfg.Skills.AutoApprove))

	// Initialize scheduler
	sched, err := scheduler.New(db, logger)
	if err != nil {
		logger.Warn("failed to initialize scheduler", "error", err)
	} else {
		d.Scheduler = sched
		d.Registry.Register(tools.NewCronManage(sched))
	}

	logger.Info("tools registered", "count", d.Registry.Count())

	// Initialize provider chain
	d.Provider, err = providers.FromConfig(cfg, logger)
	if err != nil {
		logger.Warn("no provider available, running in echo mode", "error", err)
	}

	// Initialize subagent manager
	d.SubMgr = agent.NewSubagentManager(d.Provider, d.Registry, d.Bus, logger)
	d.SubMgr.SetScrubber(d.SecAdapter)
	d.Registry.Register(tools.NewSpawnAgent(d.SubMgr))
	d.Registry.Register(tools.NewListTasks(d.SubMgr))

	// Apply configurable timeouts
	if cfg.Agent.ToolTimeout != "" {
		if dur, err := time.ParseDuration(cfg.Agent.ToolTimeout); err == nil {
			d.Registry.SetDefaultTimeout(dur)
		}
	}

	approvalTimeout := 300 * time.Second
	if cfg.Agent.ApprovalTimeout != "" {
		if dur, err := time.ParseDuration(cfg.Agent.ApprovalTimeout); err == nil {
			approvalTimeout = dur
		}
	}
	approvalGate := agent.NewApprovalGate(d.Bus, approvalTimeout)

	// Initialize agent loop
	d.Loop = agent.NewAgentLoop(d.Bus, d.Provider, d.Registry, logger)
	d.Loop.SetScrubber(d.SecAdapter)
	d.Loop.SetSubagentManager(d.SubMgr)
	d.Loop.SetMemoryStore(memStore)
	d.Loop.SetConversationStore(convStore)
	d.Loop.SetFailureLog(failLog)
	d.Loop.SetApprovalGate(approvalGate)
	d.Loop.SetSkillLoader(d.SkillLoader)
	d.Loop.SetSystemPrompt(cfg.Agent.SystemPrompt)
	d.Loop.SetMaxHistoryMessages(cfg.Agent.MaxHistoryMessages)
	d.Loop.SetMaxIterations(cfg.Agent.MaxIterations)
	d.Loop.SetCheckpointMode(cfg.Agent.CheckpointMode)
	d.Loop.SetApprovalAmountThreshold(cfg.Agent.ApprovalAmountThreshold)
	d.Loop.SetVisionModel(cfg.Agent.VisionModel)

	if d.Scheduler != nil {
		d.Scheduler.SetAgentInvoker(d.Loop.InvokeForSchedule)
		d.Scheduler.SetOnCompletion(d.deliverScheduledResult)
	}

	return d, nil
}

// deliverScheduledResult is the scheduler's OnCompletion callback. It either
// delivers live over the bus (a channel adapter is subscribed) or persists a
// durable notification to be drained once one comes online — never both,
// or a live subscriber would see the result twice (once here, once from
// drainNotificationsOnce).
func (d *Deps) deliverScheduledResult(task scheduler.Task, result string, success bool) {
	ctx := context.Background()
	if !success {
		result = "(failed) " + result
	}
	msg := fmt.Sprintf("⏰ %s\nRun time: %s\nResult: %s", task.Name, time.Now().Format(time.RFC1123), result)

	if d.Bus.SubscriberCount() > 0 {
		d.Bus.Send(bus.OutboundMessage{
			Channel: task.Platform,
			ChatID:  task.UserID,
			Content: msg,
		})
		return
	}

	if _, err := d.Scheduler.QueueNotification(ctx, &task.ID, task.UserID, task.Platform, msg); err != nil {
		d.Logger.Warn("failed to queue scheduled task notification", "task", task.Name, "error", err)
	}
}

// EnsureHeartbeatJob registers the recurring __heartbeat__ task for the
// given user/platform if one doesn't already exist, so the agent wakes on
// its own cadence even with no inbound messages (spec §5).
func (d *Deps) EnsureHeartbeatJob(ctx context.Context, userID, platform string) {
	if d.Scheduler == nil {
		return
	}
	interval := d.Cfg.Agent.HeartbeatInterval
	if interval == "" {
		return
	}

	tasks, err := d.Scheduler.List(ctx, userID)
	if err != nil {
		d.Logger.Warn("failed to list scheduled tasks", "error", err)
		return
	}
	for _, t := range tasks {
		if t.Name == heartbeatTaskName {
			return
		}
	}

	kind, data, err := scheduler.ParseSchedule("every " + interval)
	if err != nil {
		d.Logger.Warn("failed to parse heartbeat interval", "interval", interval, "error", err)
		return
	}
	if _, err := d.Scheduler.Schedule(ctx, userID, heartbeatTaskName, "heartbeat", kind, data, platform); err != nil {
		d.Logger.Warn("failed to create heartbeat job", "error", err)
		return
	}
	d.Logger.Info("heartbeat job registered", "interval", interval, "user", userID, "platform", platform)
}

// StartScheduler starts the scheduler if available, plus a background loop
// that drains any queued notifications a prior run left undelivered (e.g.
// a channel was offline when a scheduled task finished) — spec's "drain
// queued notifications" rule, applied periodically since this bus has no
// per-platform sender registration to drain on.
func (d *Deps) StartScheduler(ctx context.Context) {
	if d.Scheduler == nil {
		return
	}
	tasks, _ := d.Scheduler.List(ctx, "")
	d.CronCount = len(tasks)
	d.Scheduler.Start(ctx)
	go d.drainNotificationsLoop(ctx)
}

func (d *Deps) drainNotificationsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainNotificationsOnce(ctx)
		}
	}
}

func (d *Deps) drainNotificationsOnce(ctx context.Context) {
	for _, platform := range d.knownPlatforms() {
		pending, err := d.Scheduler.PendingNotifications(ctx, platform)
		if err != nil {
			continue
		}
		for _, n := range pending {
			d.Bus.Send(bus.OutboundMessage{Channel: n.Platform, ChatID: n.UserID, Content: n.Message})
			if err := d.Scheduler.MarkDelivered(ctx, n.ID); err != nil {
				d.Logger.Warn("failed to mark notification delivered", "id", n.ID, "error", err)
			}
		}
	}
}

// knownPlatforms lists the platforms whose channel adapters might be live;
// redelivery to an offline platform is a no-op (the record stays queued).
func (d *Deps) knownPlatforms() []string {
	return []string{"cli", "telegram", "slack", "discord", "email", "whatsapp", "webhook", "websocket"}
}

// Close cleans up all shared dependencies.
func (d *Deps) Close() {
	if d.Bus != nil {
		d.Bus.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

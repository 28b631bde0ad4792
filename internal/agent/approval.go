package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvidrun/corvid/internal/bus"
)

// PendingApproval is the one-shot rendezvous handle a tool call blocks on
// while waiting for a human decision.
type PendingApproval struct {
	ID          string
	UserID      string
	Platform    string
	ChatID      string
	ToolName    string
	Arguments   string
	Amount      float64
	Description string
	ExpiresAt   time.Time

	resolved chan bool
}

// ApprovalGate handles human-in-the-loop approval for dangerous tool
// operations. Resolution is idempotent: once a PendingApproval's channel is
// closed by either a reply or its own timeout, later attempts to resolve it
// again are no-ops.
type ApprovalGate struct {
	bus     *bus.MessageBus
	timeout time.Duration
	mu      sync.Mutex
	pending map[string]*PendingApproval
}

func NewApprovalGate(b *bus.MessageBus, timeout time.Duration) *ApprovalGate {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &ApprovalGate{
		bus:     b,
		timeout: timeout,
		pending: make(map[string]*PendingApproval),
	}
}

// RequestApproval registers a pending approval, notifies the user on their
// platform, and blocks until it's resolved, the hard timeout elapses (which
// resolves to deny), or the context is cancelled.
func (g *ApprovalGate) RequestApproval(ctx context.Context, userID, platform, chatID, toolName, arguments, description string, amount float64) (bool, error) {
	p := &PendingApproval{
		ID:          uuid.NewString(),
		UserID:      userID,
		Platform:    platform,
		ChatID:      chatID,
		ToolName:    toolName,
		Arguments:   arguments,
		Amount:      amount,
		Description: description,
		ExpiresAt:   time.Now().Add(g.timeout),
		resolved:    make(chan bool, 1),
	}

	g.mu.Lock()
	g.pending[p.ID] = p
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, p.ID)
		g.mu.Unlock()
	}()

	g.bus.Send(bus.OutboundMessage{
		Channel: platform,
		ChatID:  chatID,
		Content: fmt.Sprintf("Approval required:\n%s\n\nReply /approve or /deny", description),
	})

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case approved := <-p.resolved:
		return approved, nil
	case <-timer.C:
		g.resolveOnce(p, false)
		return false, fmt.Errorf("approval %s timed out after %v", p.ID, g.timeout)
	case <-ctx.Done():
		g.resolveOnce(p, false)
		return false, ctx.Err()
	}
}

func (g *ApprovalGate) resolveOnce(p *PendingApproval, approved bool) {
	select {
	case p.resolved <- approved:
	default:
	}
}

// ApprovePending resolves the given id to approved. Returns false if no
// such pending approval exists (already resolved, expired, or unknown id).
func (g *ApprovalGate) ApprovePending(id string) bool {
	return g.resolve(id, true)
}

// DenyPending resolves the given id to denied.
func (g *ApprovalGate) DenyPending(id string) bool {
	return g.resolve(id, false)
}

func (g *ApprovalGate) resolve(id string, approved bool) bool {
	g.mu.Lock()
	p, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return false
	}
	g.resolveOnce(p, approved)
	return true
}

// HandleApprovalCommand processes a bare /approve or /deny typed by a user
// with exactly one outstanding approval — the common single-session case.
// Returns true if the command was handled.
func (g *ApprovalGate) HandleApprovalCommand(userID, command string) bool {
	cmd := strings.TrimSpace(strings.ToLower(command))
	approved := cmd == "/approve"
	denied := cmd == "/deny"
	if !approved && !denied {
		return false
	}

	g.mu.Lock()
	var match *PendingApproval
	for _, p := range g.pending {
		if p.UserID == userID {
			match = p
			break
		}
	}
	g.mu.Unlock()

	if match == nil {
		return false
	}
	g.resolveOnce(match, approved)
	return true
}

// HasPending returns true if there are pending approval requests.
func (g *ApprovalGate) HasPending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending) > 0
}

// PendingForUser lists outstanding approvals for a user (for a /status-style
// command to display).
func (g *ApprovalGate) PendingForUser(userID string) []PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []PendingApproval
	for _, p := range g.pending {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out
}

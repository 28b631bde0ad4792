package agent

import (
	"context"
	"testing"
	"time"

	"github.com/corvidrun/corvid/internal/bus"
)

func TestApprovalGateApprove(t *testing.T) {
	msgBus := bus.New(64)
	outCh := msgBus.Subscribe()
	gate := NewApprovalGate(msgBus, 5*time.Second)

	ctx := context.Background()

	result := make(chan bool, 1)
	go func() {
		approved, err := gate.RequestApproval(ctx, "user1", "test", "1", "shell_exec", `{"cmd":"rm -rf /tmp/x"}`, "dangerous command", 0)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		result <- approved
	}()

	select {
	case msg := <-outCh:
		if msg.Content == "" {
			t.Error("expected approval message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for approval message")
	}

	handled := gate.HandleApprovalCommand("user1", "/approve")
	if !handled {
		t.Error("expected command to be handled")
	}

	select {
	case approved := <-result:
		if !approved {
			t.Error("expected approval to be true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for result")
	}
}

func TestApprovalGateDeny(t *testing.T) {
	msgBus := bus.New(64)
	msgBus.Subscribe() // drain output
	gate := NewApprovalGate(msgBus, 5*time.Second)

	ctx := context.Background()

	result := make(chan bool, 1)
	go func() {
		approved, _ := gate.RequestApproval(ctx, "user1", "test", "1", "shell_exec", "{}", "test", 0)
		result <- approved
	}()

	time.Sleep(50 * time.Millisecond) // let goroutine start
	gate.HandleApprovalCommand("user1", "/deny")

	select {
	case approved := <-result:
		if approved {
			t.Error("expected denial")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestApprovalGateTimeout(t *testing.T) {
	msgBus := bus.New(64)
	msgBus.Subscribe()
	gate := NewApprovalGate(msgBus, 100*time.Millisecond)

	ctx := context.Background()
	_, err := gate.RequestApproval(ctx, "user1", "test", "1", "shell_exec", "{}", "test", 0)
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestApprovalGateNoPending(t *testing.T) {
	msgBus := bus.New(64)
	gate := NewApprovalGate(msgBus, 5*time.Second)

	handled := gate.HandleApprovalCommand("user1", "/approve")
	if handled {
		t.Error("should not handle when no pending approvals")
	}
}

func TestApprovalGateByID(t *testing.T) {
	msgBus := bus.New(64)
	msgBus.Subscribe()
	gate := NewApprovalGate(msgBus, 5*time.Second)

	ctx := context.Background()
	result := make(chan bool, 1)
	go func() {
		approved, _ := gate.RequestApproval(ctx, "user1", "test", "1", "shell_exec", "{}", "test", 500)
		result <- approved
	}()

	time.Sleep(50 * time.Millisecond)

	var id string
	for _, p := range gate.PendingForUser("user1") {
		id = p.ID
	}
	if id == "" {
		t.Fatal("expected one pending approval")
	}
	if !gate.ApprovePending(id) {
		t.Error("expected ApprovePending to resolve the pending approval")
	}

	select {
	case approved := <-result:
		if !approved {
			t.Error("expected approval to be true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for result")
	}

	// resolving again is a no-op, not an error
	if gate.ApprovePending(id) {
		t.Error("expected second resolution of the same id to fail — already removed")
	}
}

package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
)

type mockProvider struct {
	name        string
	available   bool
	fail        bool
	rejectTools bool // simulates a model that errors on native tool-calling
	calls       int
}

func (m *mockProvider) Name() string     { return m.name }
func (m *mockProvider) Available() bool   { return m.available }
func (m *mockProvider) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.calls++
	if m.fail {
		return CompletionResponse{}, fmt.Errorf("mock failure")
	}
	if m.rejectTools && len(req.Tools) > 0 {
		return CompletionResponse{}, fmt.Errorf("this model does not support tool use")
	}
	if m.rejectTools && strings.Contains(req.SystemPrompt, "tool_call") {
		return CompletionResponse{
			Content:  `Sure. <tool_call>{"name": "echo", "arguments": {"x": 1}}</tool_call>`,
			Provider: m.name,
		}, nil
	}
	return CompletionResponse{
		Content:  "response from " + m.name,
		Provider: m.name,
	}, nil
}

func TestChainSingleProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	primary := &mockProvider{name: "primary", available: true}

	chain := NewChain(ChainConfig{Primary: primary}, logger)

	resp, err := chain.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "primary" {
		t.Errorf("expected provider 'primary', got '%s'", resp.Provider)
	}
}

func TestChainFallback(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	primary := &mockProvider{name: "primary", available: true, fail: true}
	fallback := &mockProvider{name: "fallback", available: true}

	chain := NewChain(ChainConfig{Primary: primary, Fallback: fallback}, logger)

	resp, err := chain.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "fallback" {
		t.Errorf("expected fallback provider, got '%s'", resp.Provider)
	}
}

func TestChainFastHint(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	primary := &mockProvider{name: "primary", available: true}
	fast := &mockProvider{name: "fast", available: true}

	chain := NewChain(ChainConfig{Primary: primary, Fast: fast}, logger)

	resp, err := chain.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
		Hint:     "fast",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "fast" {
		t.Errorf("expected fast provider, got '%s'", resp.Provider)
	}
}

func TestChainPromptFallbackOnUnsupportedTools(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	primary := &mockProvider{name: "primary", available: true, rejectTools: true}
	chain := NewChain(ChainConfig{Primary: primary}, logger)

	resp, err := chain.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Tools:    []ToolDef{{Name: "echo", Description: "echoes input"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "echo" {
		t.Fatalf("expected a parsed echo tool call, got %+v", resp.ToolCalls)
	}
	if strings.Contains(resp.Content, "tool_call") {
		t.Errorf("expected the tag to be stripped from visible content, got %q", resp.Content)
	}
	if primary.calls != 2 {
		t.Errorf("expected a native attempt followed by a fallback attempt (2 calls), got %d", primary.calls)
	}
}

func TestChainPromptFallbackCachedAfterFirstRejection(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	primary := &mockProvider{name: "primary", available: true, rejectTools: true}
	chain := NewChain(ChainConfig{Primary: primary}, logger)

	req := CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Tools:    []ToolDef{{Name: "echo", Description: "echoes input"}},
	}

	if _, err := chain.Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if primary.calls != 2 {
		t.Fatalf("expected 2 calls on first request, got %d", primary.calls)
	}

	if _, err := chain.Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if primary.calls != 3 {
		t.Errorf("expected the second request to skip the native attempt (1 more call), got %d total", primary.calls)
	}
}

func TestChainNoProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	chain := NewChain(ChainConfig{}, logger)

	_, err := chain.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected error with no providers")
	}
}

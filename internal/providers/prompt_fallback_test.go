package providers

import (
	"strings"
	"testing"
)

func TestParseToolCallTagsSingle(t *testing.T) {
	content := `Sure, let me check. <tool_call>{"name": "web_read", "arguments": {"url": "x"}}</tool_call>`

	cleaned, calls := parseToolCallTags(content)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "web_read" {
		t.Errorf("unexpected tool name: %q", calls[0].Name)
	}
	if calls[0].Arguments != `{"url": "x"}` {
		t.Errorf("unexpected arguments: %q", calls[0].Arguments)
	}
	if cleaned != "Sure, let me check." {
		t.Errorf("expected tag stripped from content, got %q", cleaned)
	}
}

func TestParseToolCallTagsMultiple(t *testing.T) {
	content := `<tool_call>{"name": "a", "arguments": {}}</tool_call> then <tool_call>{"name": "b", "arguments": {"x": 1}}</tool_call>`

	_, calls := parseToolCallTags(content)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "a" || calls[1].Name != "b" {
		t.Errorf("unexpected call order: %+v", calls)
	}
}

func TestParseToolCallTagsNoTags(t *testing.T) {
	cleaned, calls := parseToolCallTags("just a plain response")
	if calls != nil {
		t.Errorf("expected no calls, got %+v", calls)
	}
	if cleaned != "just a plain response" {
		t.Errorf("expected content unchanged, got %q", cleaned)
	}
}

func TestParseToolCallTagsInvalidJSONIsDropped(t *testing.T) {
	content := `before <tool_call>{not json}</tool_call> after`
	cleaned, calls := parseToolCallTags(content)
	if calls != nil {
		t.Errorf("expected invalid tag to be dropped, got %+v", calls)
	}
	if cleaned != "before  after" {
		t.Errorf("expected tag removed even when unparseable, got %q", cleaned)
	}
}

func TestRenderToolPromptBlockListsTools(t *testing.T) {
	block := renderToolPromptBlock([]ToolDef{
		{Name: "echo", Description: "echoes input", Parameters: map[string]any{"type": "object"}},
	})
	if !strings.Contains(block, "echo") || !strings.Contains(block, "echoes input") {
		t.Errorf("expected tool name and description in prompt block, got %q", block)
	}
	if !strings.Contains(block, "<tool_call>") {
		t.Errorf("expected tag format instructions in prompt block, got %q", block)
	}
}

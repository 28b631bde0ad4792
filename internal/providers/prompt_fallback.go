package providers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// toolCallTag is the wire format the prompt-based fallback asks a model to
// emit when it has no native tool-calling support: a single JSON object
// wrapped in <tool_call> tags, one per call.
var toolCallTagRe = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// renderToolPromptBlock turns a tool list into the instruction block
// appended to the system prompt when a model needs the prompt-based
// fallback instead of native tool-calling.
func renderToolPromptBlock(tools []ToolDef) string {
	var b strings.Builder
	b.WriteString("## Available tools\n\n")
	b.WriteString("You do not have native tool-calling support. To call a tool, emit a line of\n")
	b.WriteString("the exact form below and nothing else on that line:\n\n")
	b.WriteString(`<tool_call>{"name": "<tool name>", "arguments": {<json arguments>}}</tool_call>` + "\n\n")
	b.WriteString("Emit one tag per call. Only emit a tag when you intend to call that tool now;\n")
	b.WriteString("otherwise respond normally with no tags.\n\n")
	for _, t := range tools {
		schema, err := json.Marshal(t.Parameters)
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s: %s\n  arguments schema: %s\n", t.Name, t.Description, schema)
	}
	return b.String()
}

// parseToolCallTags extracts <tool_call>{...}</tool_call> tags from free
// text, returning the visible content with the tags stripped and the
// synthesized ToolCalls they described. Tags with invalid JSON or a missing
// name are dropped rather than surfaced as a call.
func parseToolCallTags(content string) (string, []ToolCall) {
	matches := toolCallTagRe.FindAllStringSubmatchIndex(content, -1)
	if matches == nil {
		return content, nil
	}

	var calls []ToolCall
	var b strings.Builder
	last := 0
	for i, m := range matches {
		b.WriteString(content[last:m[0]])
		last = m[1]

		var parsed struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(content[m[2]:m[3]]), &parsed); err != nil || parsed.Name == "" {
			continue
		}
		args := string(parsed.Arguments)
		if args == "" {
			args = "{}"
		}
		calls = append(calls, ToolCall{
			ID:        fmt.Sprintf("promptcall_%d", i),
			Name:      parsed.Name,
			Arguments: args,
		})
	}
	b.WriteString(content[last:])
	return strings.TrimSpace(b.String()), calls
}

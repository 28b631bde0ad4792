package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corvidrun/corvid/internal/skills"
)

// ---- create_skill ----

type CreateSkillTool struct {
	loader      *skills.Loader
	autoApprove bool
}

func NewCreateSkill(loader *skills.Loader, autoApprove bool) *CreateSkillTool {
	return &CreateSkillTool{loader: loader, autoApprove: autoApprove}
}

func (t *CreateSkillTool) Name() string { return "create_skill" }
func (t *CreateSkillTool) Description() string {
	return "Create a new skill to teach yourself how to handle specific requests. Use this when you realize you should remember a pattern for future use. The skill will be saved for user approval unless auto-approve is enabled."
}
func (t *CreateSkillTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "A short descriptive name for the skill (e.g., 'Check Weather')"},
			"tool": {"type": "string", "description": "The tool this skill teaches how to use (e.g., 'web_read', 'shell_exec')"},
			"triggers": {"type": "array", "items": {"type": "string"}, "description": "Phrases that should trigger this skill"},
			"instructions": {"type": "string", "description": "Clear instructions for when and how to use this tool"},
			"example_request": {"type": "string", "description": "An example user request that would trigger this skill"},
			"example_action": {"type": "string", "description": "The tool call to make for that example, as a JSON string"}
		},
		"required": ["name", "tool", "instructions"]
	}`)
}

type createSkillParams struct {
	Name           string   `json:"name"`
	Tool           string   `json:"tool"`
	Triggers       []string `json:"triggers"`
	Instructions   string   `json:"instructions"`
	ExampleRequest string   `json:"example_request"`
	ExampleAction  string   `json:"example_action"`
}

func (t *CreateSkillTool) Execute(_ context.Context, params json.RawMessage) (ToolResult, error) {
	var p createSkillParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("parsing params: %w", err)
	}
	if p.Name == "" || p.Tool == "" || p.Instructions == "" {
		return ToolResult{ForLLM: "Error: name, tool, and instructions are required"}, nil
	}

	skill, err := t.loader.CreateSkill(p.Name, p.Tool, p.Instructions, p.Triggers, p.ExampleRequest, p.ExampleAction, t.autoApprove)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error creating skill: %v", err)}, nil
	}

	if t.autoApprove {
		return ToolResult{
			ForLLM:  fmt.Sprintf("Created and enabled skill %q (id %s) for tool %s.", skill.Name, skill.ID, skill.TargetTool),
			ForUser: fmt.Sprintf("New skill learned: %s — %s", skill.Name, p.Instructions),
		}, nil
	}
	return ToolResult{
		ForLLM: fmt.Sprintf("Proposed skill %q (id %s) for tool %s, pending approval at %s.", skill.Name, skill.ID, skill.TargetTool, skill.Path),
	}, nil
}

// ---- view_skills ----

type ViewSkillsTool struct {
	loader *skills.Loader
}

func NewViewSkills(loader *skills.Loader) *ViewSkillsTool {
	return &ViewSkillsTool{loader: loader}
}

func (t *ViewSkillsTool) Name() string { return "view_skills" }
func (t *ViewSkillsTool) Description() string {
	return "View learned skills that teach how to use tools correctly. Use this to understand patterns for specific tools."
}
func (t *ViewSkillsTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tool_filter": {"type": "string", "description": "Optional: only show skills targeting this tool"}
		}
	}`)
}

type viewSkillsParams struct {
	ToolFilter string `json:"tool_filter"`
}

func (t *ViewSkillsTool) Execute(_ context.Context, params json.RawMessage) (ToolResult, error) {
	var p viewSkillsParams
	json.Unmarshal(params, &p)

	var list []*skills.Skill
	if p.ToolFilter != "" {
		list = t.loader.ListForTool(p.ToolFilter)
	} else {
		list = t.loader.List()
	}

	if len(list) == 0 {
		return ToolResult{ForLLM: "No skills found matching your criteria.", Silent: true}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Learned Skills (%d total)\n", len(list))
	for _, s := range list {
		fmt.Fprintf(&b, "\n### %s [%s/%s]\n", s.Name, s.Status, s.Source)
		fmt.Fprintf(&b, "Tool: %s\n", s.TargetTool)
		fmt.Fprintf(&b, "Triggers: %s\n", strings.Join(s.Triggers, ", "))
		fmt.Fprintf(&b, "Instructions: %s\n", s.Instructions)
		fmt.Fprintf(&b, "Success/Fail: %d/%d\n", s.SuccessCount, s.FailureCount)
		for _, ex := range s.Examples {
			fmt.Fprintf(&b, "  example: %q -> %s\n", ex.User, ex.ToolCall)
		}
	}

	return ToolResult{ForLLM: b.String(), Silent: true}, nil
}

// ---- learn_skill ----

type LearnSkillTool struct {
	loader *skills.Loader
}

func NewLearnSkill(loader *skills.Loader) *LearnSkillTool {
	return &LearnSkillTool{loader: loader}
}

func (t *LearnSkillTool) Name() string { return "learn_skill" }
func (t *LearnSkillTool) Description() string {
	return "Learn a new skill pattern from user feedback. Use this when the user tells you that you should have used a specific tool for their request."
}
func (t *LearnSkillTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tool": {"type": "string", "description": "The tool that should be used"},
			"trigger_phrase": {"type": "string", "description": "The user phrase that should trigger this tool"},
			"instructions": {"type": "string", "description": "Instructions for when to use this tool"}
		},
		"required": ["tool", "trigger_phrase"]
	}`)
}

type learnSkillParams struct {
	Tool          string `json:"tool"`
	TriggerPhrase string `json:"trigger_phrase"`
	Instructions  string `json:"instructions"`
}

func (t *LearnSkillTool) Execute(_ context.Context, params json.RawMessage) (ToolResult, error) {
	var p learnSkillParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("parsing params: %w", err)
	}
	if p.Tool == "" || p.TriggerPhrase == "" {
		return ToolResult{ForLLM: "Error: tool and trigger_phrase are required"}, nil
	}

	skill, err := t.loader.LearnSkill(p.Tool, p.TriggerPhrase, p.Instructions)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error learning skill: %v", err)}, nil
	}

	return ToolResult{
		ForLLM:  fmt.Sprintf("Learned skill %q (id %s): use %s when the user says %q.", skill.Name, skill.ID, p.Tool, p.TriggerPhrase),
		ForUser: fmt.Sprintf("Got it — I'll use %s next time you say something like %q.", p.Tool, p.TriggerPhrase),
	}, nil
}

// ---- update_skill ----

type UpdateSkillTool struct {
	loader *skills.Loader
}

func NewUpdateSkill(loader *skills.Loader) *UpdateSkillTool {
	return &UpdateSkillTool{loader: loader}
}

func (t *UpdateSkillTool) Name() string { return "update_skill" }
func (t *UpdateSkillTool) Description() string {
	return "Update an existing skill — add a new trigger phrase or replace its instructions."
}
func (t *UpdateSkillTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"skill_id": {"type": "string", "description": "The ID of the skill to update"},
			"add_trigger": {"type": "string", "description": "A new trigger phrase to add"},
			"new_instructions": {"type": "string", "description": "New instructions to replace the existing ones"}
		},
		"required": ["skill_id"]
	}`)
}

type updateSkillParams struct {
	SkillID         string `json:"skill_id"`
	AddTrigger      string `json:"add_trigger"`
	NewInstructions string `json:"new_instructions"`
}

func (t *UpdateSkillTool) Execute(_ context.Context, params json.RawMessage) (ToolResult, error) {
	var p updateSkillParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("parsing params: %w", err)
	}
	if p.AddTrigger == "" && p.NewInstructions == "" {
		return ToolResult{ForLLM: "No updates provided."}, nil
	}

	skill, err := t.loader.UpdateSkill(p.SkillID, p.AddTrigger, p.NewInstructions)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error updating skill: %v", err)}, nil
	}

	var msgs []string
	if p.AddTrigger != "" {
		msgs = append(msgs, fmt.Sprintf("added trigger %q", p.AddTrigger))
	}
	if p.NewInstructions != "" {
		msgs = append(msgs, "updated instructions")
	}
	return ToolResult{ForLLM: fmt.Sprintf("Updated skill %q: %s", skill.Name, strings.Join(msgs, ", "))}, nil
}

// ---- document_limitation ----

type DocumentLimitationTool struct {
	loader      *skills.Loader
	autoApprove bool
}

func NewDocumentLimitation(loader *skills.Loader, autoApprove bool) *DocumentLimitationTool {
	return &DocumentLimitationTool{loader: loader, autoApprove: autoApprove}
}

func (t *DocumentLimitationTool) Name() string { return "document_limitation" }
func (t *DocumentLimitationTool) Description() string {
	return "Document when you encounter a limitation or cannot fulfill a request. Use this for self-improvement — describe what you couldn't do, why, and what workarounds exist."
}
func (t *DocumentLimitationTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"limitation": {"type": "string", "description": "Clear description of what you cannot do"},
			"context": {"type": "string", "description": "What the user was trying to do when this was encountered"},
			"workaround": {"type": "string", "description": "Possible workaround or alternative approach"},
			"needed_capability": {"type": "string", "description": "What tool or capability would solve this limitation"},
			"severity": {"type": "string", "enum": ["minor", "moderate", "major"], "description": "minor=has workaround, moderate=partial workaround, major=no workaround"}
		},
		"required": ["limitation", "workaround"]
	}`)
}

type documentLimitationParams struct {
	Limitation       string `json:"limitation"`
	Context          string `json:"context"`
	Workaround       string `json:"workaround"`
	NeededCapability string `json:"needed_capability"`
	Severity         string `json:"severity"`
}

func (t *DocumentLimitationTool) Execute(_ context.Context, params json.RawMessage) (ToolResult, error) {
	var p documentLimitationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("parsing params: %w", err)
	}
	if p.Limitation == "" || p.Workaround == "" {
		return ToolResult{ForLLM: "Error: limitation and workaround are required"}, nil
	}

	skill, err := t.loader.DocumentLimitation(p.Limitation, p.Workaround, p.Context, p.NeededCapability, p.Severity, t.autoApprove)
	if err != nil {
		return ToolResult{ForLLM: fmt.Sprintf("Error documenting limitation: %v", err)}, nil
	}

	status := "pending approval"
	if t.autoApprove {
		status = "enabled"
	}
	return ToolResult{
		ForLLM: fmt.Sprintf("Documented limitation (%s) as skill %q at %s.", status, skill.Name, skill.Path),
	}, nil
}

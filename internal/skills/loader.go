// Package skills loads and manages learned skills: markdown files (or, for
// complex cases, a directory of markdown files) that teach the agent how
// and when to use a tool. A skill is never executed — it is consulted
// while composing a prompt: when an inbound utterance matches one of its
// triggers, its instructions are appended as an auxiliary prompt block.
//
// Grounded on the teacher's internal/skills/loader.go for the Loader shape
// (mutex-guarded map, LoadAll/Get/List/Count), on haasonsaas-nexus's
// internal/skills/parser.go for the line-scanner frontmatter split (cleaner
// than index-searching into the raw string), and on
// original_source/tools/skills_tools.py for the pending/learned directory
// split, the Skill field set, and the create/learn/update/document-limitation
// operations this package's tools wrap.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// Example pairs a sample user utterance with the tool call it should
// produce, embedded in a skill's frontmatter as worked examples.
type Example struct {
	User     string `yaml:"user"`
	ToolCall string `yaml:"tool_call"` // JSON-encoded tool-call, kept as a string so arbitrary argument shapes round-trip through YAML
}

// Skill is a learned pattern: when one of Triggers matches an inbound
// utterance, Instructions is injected into the prompt to steer TargetTool
// usage.
type Skill struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	TargetTool    string    `yaml:"tool"`
	Triggers      []string  `yaml:"triggers"`
	Examples      []Example `yaml:"examples,omitempty"`
	Instructions  string    `yaml:"-"` // markdown body, not frontmatter
	Status        string    `yaml:"status"`
	Source        string    `yaml:"source"` // agent | user_feedback | self_critique
	SuccessCount  int       `yaml:"success_count"`
	FailureCount  int       `yaml:"failure_count"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`

	// IsDirectory marks a "complex" skill: the file on disk is
	// <Path>/README.md plus a sibling reference.md with deeper technical
	// detail, instead of a single <Path>.md.
	IsDirectory bool   `yaml:"-"`
	Reference   string `yaml:"-"`

	// Path is the file (simple skill) or directory (complex skill) this
	// skill was loaded from / last saved to.
	Path string `yaml:"-"`
}

// Loader scans the pending/ and learned/ subdirectories of a skills root,
// holding every discovered skill in memory keyed by ID.
type Loader struct {
	mu        sync.RWMutex
	skills    map[string]*Skill
	skillsDir string
}

// NewLoader creates a skill loader rooted at skillsDir (containing
// pending/ and learned/ subdirectories).
func NewLoader(skillsDir string) *Loader {
	return &Loader{
		skills:    make(map[string]*Skill),
		skillsDir: skillsDir,
	}
}

// LoadAll scans pending/ and learned/ for skill files and directories.
func (l *Loader) LoadAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, dir := range []string{"pending", "learned"} {
		root := filepath.Join(l.skillsDir, dir)
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading %s: %w", root, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				skill, err := loadComplexSkill(filepath.Join(root, entry.Name()))
				if err != nil {
					continue
				}
				l.skills[skill.ID] = skill
				continue
			}
			if !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			skill, err := loadSimpleSkill(filepath.Join(root, entry.Name()))
			if err != nil {
				continue
			}
			l.skills[skill.ID] = skill
		}
	}
	return nil
}

func loadSimpleSkill(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	skill, err := parseSkillMD(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	skill.Path = path
	if skill.ID == "" {
		skill.ID = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	return skill, nil
}

func loadComplexSkill(dir string) (*Skill, error) {
	data, err := os.ReadFile(filepath.Join(dir, "README.md"))
	if err != nil {
		return nil, err
	}
	skill, err := parseSkillMD(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s/README.md: %w", dir, err)
	}
	skill.IsDirectory = true
	skill.Path = dir
	if skill.ID == "" {
		skill.ID = filepath.Base(dir)
	}
	if ref, err := os.ReadFile(filepath.Join(dir, "reference.md")); err == nil {
		skill.Reference = string(ref)
	}
	return skill, nil
}

// parseSkillMD splits the --- delimited YAML frontmatter from the markdown
// body with a line scanner (never index-searches the raw string — a "---"
// inside the body would otherwise confuse a naive split).
func parseSkillMD(data []byte) (*Skill, error) {
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var skill Skill
	frontmatter := strings.Join(lines[1:end], "\n")
	if err := yaml.Unmarshal([]byte(frontmatter), &skill); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	body := strings.TrimSpace(strings.Join(lines[end+1:], "\n"))
	skill.Instructions = stripHeading(body)

	return &skill, nil
}

// stripHeading drops a leading "# Title" line from the markdown body, since
// the skill's Name already carries the title.
func stripHeading(body string) string {
	if strings.HasPrefix(body, "# ") {
		if i := strings.Index(body, "\n"); i >= 0 {
			return strings.TrimSpace(body[i+1:])
		}
		return ""
	}
	return body
}

// renderSkillMD renders a skill back to markdown: YAML frontmatter plus a
// heading and the instructions body.
func renderSkillMD(s *Skill) string {
	var b strings.Builder
	b.WriteString("---\n")
	yamlBytes, _ := yaml.Marshal(s)
	b.Write(yamlBytes)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", s.Name)
	b.WriteString(s.Instructions)
	b.WriteString("\n")
	return b.String()
}

// Get returns a skill by ID.
func (l *Loader) Get(id string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[id]
	return s, ok
}

// List returns every loaded skill, sorted by ID for stable output.
func (l *Loader) List() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Skill, 0, len(l.skills))
	for _, s := range l.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListForTool returns approved and pending skills targeting a given tool.
func (l *Loader) ListForTool(tool string) []*Skill {
	var out []*Skill
	for _, s := range l.List() {
		if strings.EqualFold(s.TargetTool, tool) {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of loaded skills.
func (l *Loader) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.skills)
}

// Match returns every approved skill with at least one trigger appearing
// in query (case-insensitive substring match) — the gate the prompt
// composer uses to decide which skill instructions to surface.
func (l *Loader) Match(query string) []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()

	q := strings.ToLower(query)
	var out []*Skill
	for _, s := range l.skills {
		if s.Status != StatusApproved {
			continue
		}
		for _, trig := range s.Triggers {
			trig = strings.TrimSpace(strings.ToLower(trig))
			if trig != "" && strings.Contains(q, trig) {
				out = append(out, s)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FormatForPrompt renders the instructions of every skill matching query as
// an auxiliary prompt block (spec 4.5: "appends their instructions as an
// auxiliary prompt block").
func (l *Loader) FormatForPrompt(query string) string {
	matches := l.Match(query)
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Learned Skills\n")
	for _, s := range matches {
		fmt.Fprintf(&b, "\n### %s (tool: %s)\n%s\n", s.Name, s.TargetTool, s.Instructions)
	}
	return b.String()
}

func newSkillID(prefix, name string) string {
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	if len(slug) > 20 {
		slug = slug[:20]
	}
	return fmt.Sprintf("%s_%s_%s", prefix, time.Now().Format("20060102150405"), slug)
}

// CreateSkill builds a new skill and persists it to pending/ (or directly
// to learned/ when autoApprove is set), per original's create_skill tool.
func (l *Loader) CreateSkill(name, tool, instructions string, triggers []string, exampleUser, exampleToolCall string, autoApprove bool) (*Skill, error) {
	now := time.Now()
	skill := &Skill{
		ID:           newSkillID("skill", name),
		Name:         name,
		TargetTool:   tool,
		Triggers:     triggers,
		Instructions: instructions,
		Source:       "agent",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if exampleUser != "" {
		skill.Examples = []Example{{User: exampleUser, ToolCall: exampleToolCall}}
	}
	if err := l.save(skill, autoApprove); err != nil {
		return nil, err
	}
	return skill, nil
}

// LearnSkill records a skill taught directly by user feedback — it always
// lands in learned/ and approved, since a human just said so.
func (l *Loader) LearnSkill(tool, triggerPhrase, instructions string) (*Skill, error) {
	now := time.Now()
	if instructions == "" {
		instructions = fmt.Sprintf("When the user says %q, use the %s tool.", triggerPhrase, tool)
	}
	skill := &Skill{
		ID:           newSkillID("learned", tool),
		Name:         "User-taught: " + strings.Title(tool),
		TargetTool:   tool,
		Triggers:     []string{strings.ToLower(triggerPhrase)},
		Examples:     []Example{{User: triggerPhrase, ToolCall: fmt.Sprintf(`{"name":%q,"arguments":{}}`, tool)}},
		Instructions: instructions,
		Source:       "user_feedback",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.save(skill, true); err != nil {
		return nil, err
	}
	return skill, nil
}

// DocumentLimitation records a gap in the agent's own capability. Major
// limitations (or ones naming a needed capability) become a complex,
// directory-based skill with a deeper reference.md; everything else is a
// single markdown file.
func (l *Loader) DocumentLimitation(limitation, workaround, context, neededCapability, severity string, autoApprove bool) (*Skill, error) {
	if severity == "" {
		severity = "moderate"
	}
	now := time.Now()
	instructions := fmt.Sprintf("## Limitation\n%s\n\n## Workaround\n%s\n", limitation, workaround)
	if neededCapability != "" {
		instructions += fmt.Sprintf("\n## Needed Capability\n%s\n", neededCapability)
	}

	slug := limitation
	if len(slug) > 30 {
		slug = slug[:30]
	}
	name := limitation
	if len(name) > 50 {
		name = name[:50]
	}

	skill := &Skill{
		ID:           newSkillID("limitation", slug),
		Name:         "Limitation: " + name,
		TargetTool:   "self_improvement",
		Triggers:     dedupeNonEmpty([]string{strings.ToLower(limitation), strings.ToLower(context)}),
		Examples:     []Example{{User: firstNonEmpty(context, limitation), ToolCall: fmt.Sprintf(`{"workaround":%q}`, workaround)}},
		Instructions: instructions,
		Source:       "self_critique",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	complex := severity == "major" || neededCapability != ""
	if complex {
		skill.IsDirectory = true
		skill.Reference = fmt.Sprintf(`# Technical Reference

## Limitation Details
- Type: %s limitation
- Affects: user requests involving %s

## Potential Solutions
1. %s
%s

## Related Tools
- Check if any existing tool can partially address this
- Consider combining multiple tools as a workaround
`, severity, firstNonEmpty(context, limitation), workaround, neededCapabilityLine(neededCapability))
	}

	if err := l.save(skill, autoApprove); err != nil {
		return nil, err
	}
	return skill, nil
}

func neededCapabilityLine(cap string) string {
	if cap == "" {
		return ""
	}
	return "2. Implement: " + cap
}

func dedupeNonEmpty(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, i := range items {
		if i == "" || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// UpdateSkill adds a trigger and/or replaces the instructions on an
// existing skill, then rewrites it to disk.
func (l *Loader) UpdateSkill(id, addTrigger, newInstructions string) (*Skill, error) {
	l.mu.Lock()
	skill, ok := l.skills[id]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("skill %q not found", id)
	}

	l.mu.Lock()
	if addTrigger != "" {
		skill.Triggers = dedupeNonEmpty(append(skill.Triggers, strings.ToLower(addTrigger)))
	}
	if newInstructions != "" {
		skill.Instructions = newInstructions
	}
	skill.UpdatedAt = time.Now()
	l.mu.Unlock()

	if err := l.persist(skill); err != nil {
		return nil, err
	}
	return skill, nil
}

// Approve moves a pending skill into learned/ and marks it approved.
func (l *Loader) Approve(id string) error {
	l.mu.Lock()
	skill, ok := l.skills[id]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("skill %q not found", id)
	}
	if skill.Status == StatusApproved {
		return nil
	}

	oldPath := skill.Path
	skill.Status = StatusApproved
	skill.UpdatedAt = time.Now()
	skill.Path = l.targetPath(skill, "learned")

	if err := l.writeSkill(skill); err != nil {
		return err
	}
	removeSkillPath(oldPath)
	return nil
}

// RecordOutcome bumps a skill's success or failure counter after it steers
// a tool call, and persists the new counts.
func (l *Loader) RecordOutcome(id string, success bool) {
	l.mu.Lock()
	skill, ok := l.skills[id]
	if ok {
		if success {
			skill.SuccessCount++
		} else {
			skill.FailureCount++
		}
	}
	l.mu.Unlock()
	if ok {
		_ = l.persist(skill)
	}
}

func (l *Loader) save(skill *Skill, autoApprove bool) error {
	dir := "pending"
	skill.Status = StatusPending
	if autoApprove {
		dir = "learned"
		skill.Status = StatusApproved
	}
	skill.Path = l.targetPath(skill, dir)

	l.mu.Lock()
	l.skills[skill.ID] = skill
	l.mu.Unlock()

	return l.writeSkill(skill)
}

func (l *Loader) persist(skill *Skill) error {
	return l.writeSkill(skill)
}

func (l *Loader) targetPath(skill *Skill, dir string) string {
	root := filepath.Join(l.skillsDir, dir)
	if skill.IsDirectory {
		return filepath.Join(root, skill.ID)
	}
	return filepath.Join(root, skill.ID+".md")
}

func (l *Loader) writeSkill(skill *Skill) error {
	if skill.IsDirectory {
		if err := os.MkdirAll(skill.Path, 0755); err != nil {
			return fmt.Errorf("creating skill dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(skill.Path, "README.md"), []byte(renderSkillMD(skill)), 0644); err != nil {
			return fmt.Errorf("writing README.md: %w", err)
		}
		if skill.Reference != "" {
			if err := os.WriteFile(filepath.Join(skill.Path, "reference.md"), []byte(skill.Reference), 0644); err != nil {
				return fmt.Errorf("writing reference.md: %w", err)
			}
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(skill.Path), 0755); err != nil {
		return fmt.Errorf("creating skills dir: %w", err)
	}
	if err := os.WriteFile(skill.Path, []byte(renderSkillMD(skill)), 0644); err != nil {
		return fmt.Errorf("writing skill: %w", err)
	}
	return nil
}

func removeSkillPath(path string) {
	if path == "" {
		return
	}
	_ = os.RemoveAll(path)
}

package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTestSkillDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	skillsDir := filepath.Join(dir, "skills")
	os.MkdirAll(filepath.Join(skillsDir, "pending"), 0755)
	os.MkdirAll(filepath.Join(skillsDir, "learned"), 0755)
	return skillsDir
}

func writeSimpleSkill(t *testing.T, skillsDir, status, id, tool string, triggers []string) {
	t.Helper()
	dir := "pending"
	if status == StatusApproved {
		dir = "learned"
	}
	md := "---\n" +
		"id: " + id + "\n" +
		"name: " + id + "\n" +
		"tool: " + tool + "\n" +
		"triggers:\n"
	for _, trig := range triggers {
		md += "  - " + trig + "\n"
	}
	md += "status: " + status + "\n" +
		"source: agent\n" +
		"---\n\n# " + id + "\n\nUse " + tool + " when this triggers.\n"

	path := filepath.Join(skillsDir, dir, id+".md")
	if err := os.WriteFile(path, []byte(md), 0644); err != nil {
		t.Fatalf("writing skill file: %v", err)
	}
}

func TestLoadAll(t *testing.T) {
	skillsDir := setupTestSkillDir(t)
	writeSimpleSkill(t, skillsDir, StatusApproved, "weather_check", "web_read", []string{"check weather"})
	writeSimpleSkill(t, skillsDir, StatusPending, "draft_skill", "shell_exec", []string{"run a script"})

	loader := NewLoader(skillsDir)
	if err := loader.LoadAll(); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if loader.Count() != 2 {
		t.Fatalf("expected 2 skills, got %d", loader.Count())
	}

	skill, ok := loader.Get("weather_check")
	if !ok {
		t.Fatal("expected weather_check skill to be found")
	}
	if skill.TargetTool != "web_read" {
		t.Errorf("unexpected target tool: %s", skill.TargetTool)
	}
	if skill.Status != StatusApproved {
		t.Errorf("expected approved status, got %s", skill.Status)
	}
	if !strings_Contains(skill.Instructions, "Use web_read") {
		t.Errorf("unexpected instructions: %q", skill.Instructions)
	}
}

func TestMatchOnlyApproved(t *testing.T) {
	skillsDir := setupTestSkillDir(t)
	writeSimpleSkill(t, skillsDir, StatusApproved, "weather_check", "web_read", []string{"check weather"})
	writeSimpleSkill(t, skillsDir, StatusPending, "draft_skill", "shell_exec", []string{"run a script"})

	loader := NewLoader(skillsDir)
	loader.LoadAll()

	matches := loader.Match("can you check weather for me today")
	if len(matches) != 1 || matches[0].ID != "weather_check" {
		t.Fatalf("expected only the approved weather_check skill to match, got %v", matches)
	}

	if matches := loader.Match("please run a script for me"); len(matches) != 0 {
		t.Errorf("expected pending skill not to match, got %v", matches)
	}
}

func TestFormatForPrompt(t *testing.T) {
	skillsDir := setupTestSkillDir(t)
	writeSimpleSkill(t, skillsDir, StatusApproved, "weather_check", "web_read", []string{"check weather"})

	loader := NewLoader(skillsDir)
	loader.LoadAll()

	block := loader.FormatForPrompt("check weather please")
	if block == "" {
		t.Fatal("expected a non-empty skill block")
	}
	if !strings_Contains(block, "web_read") {
		t.Errorf("expected block to mention target tool: %q", block)
	}

	if block := loader.FormatForPrompt("unrelated request"); block != "" {
		t.Errorf("expected no block for unrelated query, got %q", block)
	}
}

func TestCreateSkillPendingByDefault(t *testing.T) {
	skillsDir := setupTestSkillDir(t)
	loader := NewLoader(skillsDir)

	skill, err := loader.CreateSkill("Check Weather", "web_read", "Use web_read for weather.", []string{"weather"}, "what's the weather", `{"name":"web_read"}`, false)
	if err != nil {
		t.Fatalf("CreateSkill failed: %v", err)
	}
	if skill.Status != StatusPending {
		t.Errorf("expected pending status by default, got %s", skill.Status)
	}
	if _, err := os.Stat(filepath.Join(skillsDir, "pending", skill.ID+".md")); err != nil {
		t.Errorf("expected skill file under pending/: %v", err)
	}

	if loader.Count() != 1 {
		t.Errorf("expected skill to be registered in memory immediately, got count %d", loader.Count())
	}
}

func TestCreateSkillAutoApprove(t *testing.T) {
	skillsDir := setupTestSkillDir(t)
	loader := NewLoader(skillsDir)

	skill, err := loader.CreateSkill("Check Weather", "web_read", "Use web_read for weather.", []string{"weather"}, "", "", true)
	if err != nil {
		t.Fatalf("CreateSkill failed: %v", err)
	}
	if skill.Status != StatusApproved {
		t.Errorf("expected approved status, got %s", skill.Status)
	}
	if _, err := os.Stat(filepath.Join(skillsDir, "learned", skill.ID+".md")); err != nil {
		t.Errorf("expected skill file under learned/: %v", err)
	}
}

func TestUpdateSkillAddsTrigger(t *testing.T) {
	skillsDir := setupTestSkillDir(t)
	loader := NewLoader(skillsDir)
	skill, _ := loader.CreateSkill("Check Weather", "web_read", "Use web_read for weather.", []string{"weather"}, "", "", true)

	updated, err := loader.UpdateSkill(skill.ID, "forecast", "")
	if err != nil {
		t.Fatalf("UpdateSkill failed: %v", err)
	}
	found := false
	for _, trig := range updated.Triggers {
		if trig == "forecast" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected new trigger to be added, got %v", updated.Triggers)
	}
}

func TestDocumentLimitationComplexGetsDirectory(t *testing.T) {
	skillsDir := setupTestSkillDir(t)
	loader := NewLoader(skillsDir)

	skill, err := loader.DocumentLimitation(
		"cannot access real-time stock prices",
		"use web_read to find recent prices",
		"user asked for live stock price",
		"real-time stock API integration",
		"major",
		true,
	)
	if err != nil {
		t.Fatalf("DocumentLimitation failed: %v", err)
	}
	if !skill.IsDirectory {
		t.Fatal("expected a major limitation with a needed capability to become a directory skill")
	}
	if _, err := os.Stat(filepath.Join(skill.Path, "README.md")); err != nil {
		t.Errorf("expected README.md: %v", err)
	}
	if _, err := os.Stat(filepath.Join(skill.Path, "reference.md")); err != nil {
		t.Errorf("expected reference.md: %v", err)
	}
}

func TestDocumentLimitationMinorStaysSimple(t *testing.T) {
	skillsDir := setupTestSkillDir(t)
	loader := NewLoader(skillsDir)

	skill, err := loader.DocumentLimitation("cannot do X", "workaround Y", "", "", "minor", true)
	if err != nil {
		t.Fatalf("DocumentLimitation failed: %v", err)
	}
	if skill.IsDirectory {
		t.Fatal("expected a minor limitation to stay a single file")
	}
	if filepath.Ext(skill.Path) != ".md" {
		t.Errorf("expected a .md file path, got %s", skill.Path)
	}
}

func TestApproveMovesFromPendingToLearned(t *testing.T) {
	skillsDir := setupTestSkillDir(t)
	loader := NewLoader(skillsDir)
	skill, _ := loader.CreateSkill("Check Weather", "web_read", "Use web_read for weather.", []string{"weather"}, "", "", false)
	pendingPath := skill.Path

	if err := loader.Approve(skill.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := os.Stat(pendingPath); !os.IsNotExist(err) {
		t.Errorf("expected pending file to be removed after approval")
	}
	if _, err := os.Stat(filepath.Join(skillsDir, "learned", skill.ID+".md")); err != nil {
		t.Errorf("expected approved skill file under learned/: %v", err)
	}

	got, _ := loader.Get(skill.ID)
	if got.Status != StatusApproved {
		t.Errorf("expected approved status after Approve, got %s", got.Status)
	}
}

func strings_Contains(s, substr string) bool {
	return len(substr) == 0 || (len(s) >= len(substr) && indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

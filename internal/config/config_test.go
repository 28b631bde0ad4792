package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := `
provider:
  anthropic:
    enabled: true
    api_key: "sk-test-key-1234567890"
    default_model: "claude-sonnet-4-20250514"
`
	os.WriteFile(cfgPath, []byte(content), 0644)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load valid config: %v", err)
	}
	if cfg.Provider.Anthropic == nil || !cfg.Provider.Anthropic.Enabled {
		t.Error("expected anthropic provider to be enabled")
	}
}

func TestLoadConfigNoProvider(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := `
log:
  level: info
`
	os.WriteFile(cfgPath, []byte(content), 0644)

	_, err := Load(cfgPath)
	if err == nil {
		t.Error("expected validation error for config with no provider")
	}
}

func TestEnvVarExpansion(t *testing.T) {
	os.Setenv("TEST_CORVID_KEY", "my-secret-key")
	defer os.Unsetenv("TEST_CORVID_KEY")

	result := expandEnvVars("key: ${TEST_CORVID_KEY}")
	if result != "key: my-secret-key" {
		t.Errorf("expected expansion, got: %s", result)
	}
}

func TestEnvVarNoExpansion(t *testing.T) {
	result := expandEnvVars("key: ${NONEXISTENT_VAR}")
	if result != "key: ${NONEXISTENT_VAR}" {
		t.Errorf("expected no expansion, got: %s", result)
	}
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := `
provider:
  claude_cli:
    enabled: true
`
	os.WriteFile(cfgPath, []byte(content), 0644)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.Agent.ApprovalTimeout != "300s" {
		t.Errorf("expected default approval timeout 300s, got %s", cfg.Agent.ApprovalTimeout)
	}
	if cfg.Scheduler.MaxConcurrent != 3 {
		t.Errorf("expected default max concurrent 3, got %d", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Log.Level)
	}
}

func TestEnabledProviderCount(t *testing.T) {
	cfg := &Config{
		Provider: ProviderConfig{
			Anthropic: &AnthropicConfig{Enabled: true, APIKey: "key"},
			Gemini:    &GeminiConfig{Enabled: true, APIKey: "key"},
		},
	}

	count := EnabledProviderCount(cfg)
	if count != 2 {
		t.Errorf("expected 2 providers, got %d", count)
	}
}

func TestCorvidHome(t *testing.T) {
	// Test with CORVID_HOME set
	os.Setenv("CORVID_HOME", "/tmp/test-corvid")
	defer os.Unsetenv("CORVID_HOME")

	home := CorvidHome()
	if home != "/tmp/test-corvid" {
		t.Errorf("expected /tmp/test-corvid, got %s", home)
	}
}

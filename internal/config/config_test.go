package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("BRAIN_OPENAI_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("unexpected default addr %q", cfg.Server.Addr)
	}
	if cfg.Agent.MaxIterations != 10 || cfg.Agent.MaxToolCalls != 20 {
		t.Errorf("unexpected default budgets: %+v", cfg.Agent)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure without an API key")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("BRAIN_MODEL", "")
	t.Setenv("BRAIN_ADDR", "")

	path := filepath.Join(t.TempDir(), "brain.yaml")
	content := `
server:
  addr: ":9090"
  read_timeout: 10s
llm:
  api_key: "sk-file"
  model: "gpt-4o"
agent:
  max_iterations: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr not overridden: %q", cfg.Server.Addr)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read timeout not parsed: %v", cfg.Server.ReadTimeout)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("model not overridden: %q", cfg.LLM.Model)
	}
	if cfg.Agent.MaxIterations != 3 {
		t.Errorf("iteration cap not overridden: %d", cfg.Agent.MaxIterations)
	}
	// Unset sections keep their defaults.
	if cfg.Agent.MaxToolCalls != 20 {
		t.Errorf("unset budget lost its default: %d", cfg.Agent.MaxToolCalls)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BRAIN_OPENAI_API_KEY", "sk-env")
	t.Setenv("BRAIN_MODEL", "gpt-4.1")
	t.Setenv("BRAIN_ADDR", ":7070")
	t.Setenv("BRAIN_DB_PATH", "/tmp/test-brain.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("api key override lost: %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "gpt-4.1" {
		t.Errorf("model override lost: %q", cfg.LLM.Model)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr override lost: %q", cfg.Server.Addr)
	}
	if cfg.Storage.Path != "/tmp/test-brain.db" {
		t.Errorf("db path override lost: %q", cfg.Storage.Path)
	}
}

func TestOpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-ambient")
	t.Setenv("BRAIN_OPENAI_API_KEY", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LLM.APIKey != "sk-ambient" {
		t.Errorf("ambient key not picked up: %q", cfg.LLM.APIKey)
	}
}

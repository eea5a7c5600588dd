package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.VideoPromptCap != 800 {
		t.Fatalf("VideoPromptCap = %d, want 800", cfg.VideoPromptCap)
	}
	if cfg.TaskMaxRetries != 3 {
		t.Fatalf("TaskMaxRetries = %d, want 3", cfg.TaskMaxRetries)
	}
	if cfg.ArtifactTTL != 24*time.Hour {
		t.Fatalf("ArtifactTTL = %v, want 24h", cfg.ArtifactTTL)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Fatalf("PollInterval = %v, want 15s", cfg.PollInterval)
	}
}

func TestLoadConfigRejectsBadBounds(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	t.Setenv("TASK_MAX_RETRIES", "0")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for non-positive TASK_MAX_RETRIES")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	t.Setenv("VIDEO_PROMPT_CAP", "600")
	t.Setenv("TASK_MAX_RETRIES", "5")
	t.Setenv("POLL_INTERVAL_SECONDS", "30")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.VideoPromptCap != 600 || cfg.TaskMaxRetries != 5 || cfg.PollInterval != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

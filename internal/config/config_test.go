package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
registry:
  persist_path: /tmp/registry.json
  ttl: 30m
notifier:
  enabled: true
  notify_on_save: false
  periodic_interval_minutes: 5
orchestrator:
  max_concurrent_agents: 8
  max_review_attempts: 5
  tick_interval: 50ms
coordinator:
  root: /tmp/coordination
evolution:
  poll_interval: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Registry.PersistPath != "/tmp/registry.json" {
		t.Errorf("registry persist path = %q", cfg.Registry.PersistPath)
	}
	if cfg.Registry.TTL != 30*time.Minute {
		t.Errorf("registry TTL = %s, want 30m", cfg.Registry.TTL)
	}
	if cfg.Notifier.NotifyOnSave {
		t.Error("notify_on_save should be overridden to false")
	}
	if cfg.Notifier.PeriodicIntervalMinutes != 5 {
		t.Errorf("periodic interval = %d, want 5", cfg.Notifier.PeriodicIntervalMinutes)
	}
	if cfg.Orchestrator.MaxConcurrentAgents != 8 {
		t.Errorf("max agents = %d, want 8", cfg.Orchestrator.MaxConcurrentAgents)
	}
	if cfg.Orchestrator.MaxReviewAttempts != 5 {
		t.Errorf("max review attempts = %d, want 5", cfg.Orchestrator.MaxReviewAttempts)
	}
	if cfg.Orchestrator.TickInterval != 50*time.Millisecond {
		t.Errorf("tick interval = %s, want 50ms", cfg.Orchestrator.TickInterval)
	}
	if cfg.Coordinator.Root != "/tmp/coordination" {
		t.Errorf("coordinator root = %q", cfg.Coordinator.Root)
	}
	if cfg.Evolution.PollInterval != 2*time.Minute {
		t.Errorf("evolution poll interval = %s, want 2m", cfg.Evolution.PollInterval)
	}

	// Unset fields keep their defaults.
	if cfg.Orchestrator.TransientRetries != 3 {
		t.Errorf("transient retries default = %d, want 3", cfg.Orchestrator.TransientRetries)
	}
	if !cfg.Notifier.SessionEndSummary {
		t.Error("session_end_summary default should be true")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Orchestrator.MaxReviewAttempts != 3 {
		t.Errorf("default max review attempts = %d, want 3", cfg.Orchestrator.MaxReviewAttempts)
	}
	if cfg.Orchestrator.IdleWindow != 5*time.Minute {
		t.Errorf("default idle window = %s, want 5m", cfg.Orchestrator.IdleWindow)
	}
	if cfg.Coordinator.PollInterval != 200*time.Millisecond {
		t.Errorf("default coordinator poll = %s, want 200ms", cfg.Coordinator.PollInterval)
	}
}

func TestLoadJobConfigs_DefaultsWhenNoDir(t *testing.T) {
	jobs, err := LoadJobConfigs("")
	if err != nil {
		t.Fatalf("LoadJobConfigs: %v", err)
	}
	for _, name := range []string{"consolidation", "importance_recalibration", "link_decay", "archival"} {
		if _, ok := jobs[name]; !ok {
			t.Errorf("missing built-in job config %q", name)
		}
	}
}

func TestLoadJobConfigs_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
enabled: false
interval: 42m
batch_size: 99
max_duration: 90s
`
	if err := os.WriteFile(filepath.Join(dir, "consolidation.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	jobs, err := LoadJobConfigs(dir)
	if err != nil {
		t.Fatalf("LoadJobConfigs: %v", err)
	}

	got := jobs["consolidation"]
	if got.Enabled {
		t.Error("enabled should be overridden to false")
	}
	if got.Interval != 42*time.Minute {
		t.Errorf("interval = %s, want 42m", got.Interval)
	}
	if got.BatchSize != 99 {
		t.Errorf("batch size = %d, want 99", got.BatchSize)
	}
	if got.MaxDuration != 90*time.Second {
		t.Errorf("max duration = %s, want 90s", got.MaxDuration)
	}

	// Untouched jobs keep their defaults.
	if !jobs["archival"].Enabled {
		t.Error("archival should stay enabled")
	}
}

func TestLoadJobConfigs_BadDurationRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "link_decay.yaml"), []byte("interval: soon\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadJobConfigs(dir); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPathDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Orch.PollInterval != 10*time.Second {
		t.Errorf("poll_interval = %v, want 10s", cfg.Orch.PollInterval)
	}
	if cfg.Orch.MaxParallelAgents != 4 {
		t.Errorf("max_parallel_agents = %d, want 4", cfg.Orch.MaxParallelAgents)
	}
	if cfg.Timeouts.Ask != 5*time.Minute {
		t.Errorf("timeouts.ask = %v, want 5m", cfg.Timeouts.Ask)
	}
	if cfg.Timeouts.Escalation != 120*time.Second {
		t.Errorf("timeouts.escalation = %v, want 120s", cfg.Timeouts.Escalation)
	}
	if cfg.Timeouts.Standby != 10*time.Minute {
		t.Errorf("timeouts.standby = %v, want 10m", cfg.Timeouts.Standby)
	}
	if cfg.Retries.MaxConflict != 2 {
		t.Errorf("retries.max_conflict = %d, want 2", cfg.Retries.MaxConflict)
	}
	if cfg.Retries.MaxStuck != 2 {
		t.Errorf("retries.max_stuck = %d, want 2", cfg.Retries.MaxStuck)
	}
	if cfg.Git.MainBranch != "main" {
		t.Errorf("git.main_branch = %q, want main", cfg.Git.MainBranch)
	}
}

func TestLoadFromPathOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
orchestrator:
  poll_interval: 2s
  max_parallel_agents: 8
  data_dir: /tmp/ov-test
retries:
  max_conflict: 5
git:
  repo_path: /srv/repo
  main_branch: trunk
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Orch.PollInterval != 2*time.Second {
		t.Errorf("poll_interval = %v, want 2s", cfg.Orch.PollInterval)
	}
	if cfg.Orch.MaxParallelAgents != 8 {
		t.Errorf("max_parallel_agents = %d, want 8", cfg.Orch.MaxParallelAgents)
	}
	if cfg.Retries.MaxConflict != 5 {
		t.Errorf("max_conflict = %d, want 5", cfg.Retries.MaxConflict)
	}
	if cfg.Git.MainBranch != "trunk" {
		t.Errorf("main_branch = %q, want trunk", cfg.Git.MainBranch)
	}
	if cfg.MailDir() != filepath.Join("/tmp/ov-test", "mail") {
		t.Errorf("MailDir() = %q", cfg.MailDir())
	}
	if cfg.StateDBPath() != filepath.Join("/tmp/ov-test", "state.db") {
		t.Errorf("StateDBPath() = %q", cfg.StateDBPath())
	}
}

func TestDataDirRelativeToRepo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
git:
  repo_path: /srv/repo
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Orch.DataDir != filepath.Join("/srv/repo", ".overseer") {
		t.Errorf("DataDir = %q, want repo-relative .overseer", cfg.Orch.DataDir)
	}
}

// Package config handles configuration loading for overseer.
// It supports XDG config paths, project-level overrides, and environment
// variables; components receive an explicit Config at construction.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for an orchestrator instance.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Orch      OrchConfig      `mapstructure:"orchestrator"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Retries   RetriesConfig   `mapstructure:"retries"`
	Git       GitConfig       `mapstructure:"git"`
}

// AnthropicConfig holds PM backend settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Falls back to ANTHROPIC_API_KEY.
	APIKey string `mapstructure:"api_key"`
	// Model is the model used for PM review and answer calls.
	Model string `mapstructure:"model"`
	// UseBedrock routes PM calls through AWS Bedrock instead of the API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// OrchConfig holds orchestrator loop settings.
type OrchConfig struct {
	// PollInterval is the sleep between loop cycles.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// MaxParallelAgents caps the number of concurrently active agents.
	MaxParallelAgents int `mapstructure:"max_parallel_agents"`
	// DataDir is the root for mailbox documents, task markers, workspaces,
	// and logs. Defaults to .overseer under the repo root.
	DataDir string `mapstructure:"data_dir"`
}

// AgentsConfig holds agent process settings.
type AgentsConfig struct {
	// Command is the backend executable launched for each agent.
	Command string `mapstructure:"command"`
	// Args are extra arguments passed to the backend.
	Args []string `mapstructure:"args"`
}

// TimeoutsConfig holds the bounded-wait settings. All blocking calls in the
// system degrade to an explicit timeout result, never an indefinite block.
type TimeoutsConfig struct {
	// Ask bounds an agent's blocking ask_pm call.
	Ask time.Duration `mapstructure:"ask"`
	// Escalation bounds the PM's wait for a human answer.
	Escalation time.Duration `mapstructure:"escalation"`
	// Standby bounds a persistent agent's wait for the next assignment.
	Standby time.Duration `mapstructure:"standby"`
	// Stuck is how long a task's running marker may age before the agent is
	// reclassified stuck.
	Stuck time.Duration `mapstructure:"stuck"`
}

// RetriesConfig holds the bounded-retry settings.
type RetriesConfig struct {
	// MaxConflict caps automated merge-conflict resolution attempts per task.
	MaxConflict int `mapstructure:"max_conflict"`
	// MaxStuck caps stuck-reclaim cycles per task before it is handed to a
	// human.
	MaxStuck int `mapstructure:"max_stuck"`
}

// GitConfig holds repository settings.
type GitConfig struct {
	// RepoPath is the shared repository root.
	RepoPath string `mapstructure:"repo_path"`
	// MainBranch is the main line agents' branches merge into.
	MainBranch string `mapstructure:"main_branch"`
}

// setDefaults registers built-in defaults on the given viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("orchestrator.poll_interval", 10*time.Second)
	v.SetDefault("orchestrator.max_parallel_agents", 4)
	v.SetDefault("orchestrator.data_dir", ".overseer")
	v.SetDefault("agents.command", "claude")
	v.SetDefault("timeouts.ask", 5*time.Minute)
	v.SetDefault("timeouts.escalation", 120*time.Second)
	v.SetDefault("timeouts.standby", 10*time.Minute)
	v.SetDefault("timeouts.stuck", 30*time.Minute)
	v.SetDefault("retries.max_conflict", 2)
	v.SetDefault("retries.max_stuck", 2)
	v.SetDefault("git.main_branch", "main")
}

// Load loads configuration with the usual precedence:
// environment variables, project config (.overseer.yaml in the current
// directory or a parent), user config (~/.config/overseer/config.yaml),
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("OVERSEER")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyFallbacks()
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyFallbacks()
	return cfg, nil
}

// applyFallbacks fills fields whose defaults depend on the environment.
func (c *Config) applyFallbacks() {
	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Git.RepoPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			c.Git.RepoPath = cwd
		}
	}
	if !filepath.IsAbs(c.Orch.DataDir) {
		c.Orch.DataDir = filepath.Join(c.Git.RepoPath, c.Orch.DataDir)
	}
}

// MailDir returns the mailbox document directory.
func (c *Config) MailDir() string {
	return filepath.Join(c.Orch.DataDir, "mail")
}

// TasksDir returns the per-task marker directory.
func (c *Config) TasksDir() string {
	return filepath.Join(c.Orch.DataDir, "tasks")
}

// WorkspacesDir returns the directory holding per-agent clones.
func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.Orch.DataDir, "workspaces")
}

// LogsDir returns the log directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Orch.DataDir, "logs")
}

// StateDBPath returns the path of the orchestrator state database.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Orch.DataDir, "state.db")
}

// userConfigDir returns the XDG config directory for overseer.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "overseer")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "overseer")
}

// findProjectConfig walks up from the current directory looking for
// .overseer.yaml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".overseer.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

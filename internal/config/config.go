// Package config handles configuration loading and management for Mnemosyne.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration core.
type Config struct {
	Registry     RegistryConfig     `mapstructure:"registry"`
	Worktree     WorktreeConfig     `mapstructure:"worktree"`
	Notifier     NotifierConfig     `mapstructure:"notifier"`
	Coordinator  CoordinatorConfig  `mapstructure:"coordinator"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Evolution    EvolutionConfig    `mapstructure:"evolution"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// RegistryConfig holds branch-registry settings.
type RegistryConfig struct {
	// PersistPath binds the registry to a file; empty disables persistence.
	PersistPath string `mapstructure:"persist_path"`
	// TTL drops loaded assignments older than this; zero disables pruning.
	TTL time.Duration `mapstructure:"ttl"`
}

// WorktreeConfig holds worktree-manager settings.
type WorktreeConfig struct {
	// RepoPath is the repository whose worktrees are managed. Empty
	// means the current directory.
	RepoPath string `mapstructure:"repo_path"`
}

// NotifierConfig holds conflict-notification settings.
type NotifierConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	NotifyOnSave            bool `mapstructure:"notify_on_save"`
	PeriodicIntervalMinutes int  `mapstructure:"periodic_interval_minutes"`
	SessionEndSummary       bool `mapstructure:"session_end_summary"`
}

// CoordinatorConfig holds cross-process coordination settings.
type CoordinatorConfig struct {
	// Root is the mailbox directory shared by sibling orchestrators.
	Root string `mapstructure:"root"`
	// PollInterval is the inbox polling cadence when fsnotify is
	// unavailable.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// OrchestratorConfig holds loop and failure-policy settings.
type OrchestratorConfig struct {
	MaxConcurrentAgents int           `mapstructure:"max_concurrent_agents"`
	MaxReviewAttempts   uint32        `mapstructure:"max_review_attempts"`
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	TransientRetries    int           `mapstructure:"transient_retries"`
	DeadlockBackoffMin  time.Duration `mapstructure:"deadlock_backoff_min"`
	DeadlockBackoffMax  time.Duration `mapstructure:"deadlock_backoff_max"`
	IdleWindow          time.Duration `mapstructure:"idle_window"`
}

// EvolutionConfig holds scheduler-wide evolution settings; per-job
// overrides load from YAML files via LoadJobConfigs.
type EvolutionConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// JobsDir is a directory of per-job YAML files (<name>.yaml).
	JobsDir string `mapstructure:"jobs_dir"`
	// HistoryDBPath overrides where job-run history is stored.
	HistoryDBPath string `mapstructure:"history_db_path"`
}

// LoggingConfig holds debug-log settings.
type LoggingConfig struct {
	// DebugLogPath writes the orchestrator debug log; empty disables it.
	DebugLogPath string `mapstructure:"debug_log_path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
//  1. Environment variables (MNEMOSYNE_*)
//  2. Project config (.mnemosyne.yaml in current directory or parent)
//  3. User config (~/.config/mnemosyne/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("MNEMOSYNE")
	v.AutomaticEnv()

	// Paths that operators commonly override per deployment.
	_ = v.BindEnv("registry.persist_path", "MNEMOSYNE_REGISTRY_PATH")
	_ = v.BindEnv("coordinator.root", "MNEMOSYNE_COORDINATION_ROOT")
	_ = v.BindEnv("logging.debug_log_path", "MNEMOSYNE_DEBUG_LOG")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
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

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("registry.persist_path", "")
	v.SetDefault("registry.ttl", "1h")

	v.SetDefault("worktree.repo_path", "")

	v.SetDefault("notifier.enabled", true)
	v.SetDefault("notifier.notify_on_save", true)
	v.SetDefault("notifier.periodic_interval_minutes", 15)
	v.SetDefault("notifier.session_end_summary", true)

	v.SetDefault("coordinator.root", "")
	v.SetDefault("coordinator.poll_interval", "200ms")

	v.SetDefault("orchestrator.max_concurrent_agents", 4)
	v.SetDefault("orchestrator.max_review_attempts", 3)
	v.SetDefault("orchestrator.tick_interval", "100ms")
	v.SetDefault("orchestrator.transient_retries", 3)
	v.SetDefault("orchestrator.deadlock_backoff_min", "5s")
	v.SetDefault("orchestrator.deadlock_backoff_max", "5m")
	v.SetDefault("orchestrator.idle_window", "5m")

	v.SetDefault("evolution.enabled", true)
	v.SetDefault("evolution.poll_interval", "1m")
	v.SetDefault("evolution.jobs_dir", "")
	v.SetDefault("evolution.history_db_path", "")

	v.SetDefault("logging.debug_log_path", "")
}

// getUserConfigDir returns the XDG config directory for Mnemosyne.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mnemosyne")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "mnemosyne")
	}
	return filepath.Join(home, ".config", "mnemosyne")
}

// findProjectConfig searches for .mnemosyne.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".mnemosyne.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			TTL: time.Hour,
		},
		Notifier: NotifierConfig{
			Enabled:                 true,
			NotifyOnSave:            true,
			PeriodicIntervalMinutes: 15,
			SessionEndSummary:       true,
		},
		Coordinator: CoordinatorConfig{
			PollInterval: 200 * time.Millisecond,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentAgents: 4,
			MaxReviewAttempts:   3,
			TickInterval:        100 * time.Millisecond,
			TransientRetries:    3,
			DeadlockBackoffMin:  5 * time.Second,
			DeadlockBackoffMax:  5 * time.Minute,
			IdleWindow:          5 * time.Minute,
		},
		Evolution: EvolutionConfig{
			Enabled:      true,
			PollInterval: time.Minute,
		},
	}
}

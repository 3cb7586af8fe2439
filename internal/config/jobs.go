package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/mnemosyne/core/internal/evolution"
)

// jobFile is the on-disk YAML shape for one evolution job's overrides.
// Durations are strings ("10m", "30s") so the files stay hand-editable.
type jobFile struct {
	Enabled     *bool  `yaml:"enabled"`
	Interval    string `yaml:"interval"`
	BatchSize   int    `yaml:"batch_size"`
	MaxDuration string `yaml:"max_duration"`
}

// LoadJobConfigs returns the evolution scheduler's per-job configuration:
// the built-in defaults, overridden by any <job_name>.yaml files found in
// jobsDir. An empty jobsDir returns the defaults unchanged.
func LoadJobConfigs(jobsDir string) (map[string]evolution.JobConfig, error) {
	jobs := evolution.DefaultConfig().Jobs
	if jobsDir == "" {
		return jobs, nil
	}

	entries, err := os.ReadDir(jobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return jobs, nil
		}
		return nil, fmt.Errorf("read jobs dir %s: %w", jobsDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		jobName := strings.TrimSuffix(name, ".yaml")

		cfg, err := loadJobFile(filepath.Join(jobsDir, name))
		if err != nil {
			return nil, fmt.Errorf("load job config %s: %w", name, err)
		}

		base := jobs[jobName]
		if cfg.Enabled != nil {
			base.Enabled = *cfg.Enabled
		}
		if cfg.Interval != "" {
			d, err := time.ParseDuration(cfg.Interval)
			if err != nil {
				return nil, fmt.Errorf("job %s: bad interval %q: %w", jobName, cfg.Interval, err)
			}
			base.Interval = d
		}
		if cfg.BatchSize > 0 {
			base.BatchSize = cfg.BatchSize
		}
		if cfg.MaxDuration != "" {
			d, err := time.ParseDuration(cfg.MaxDuration)
			if err != nil {
				return nil, fmt.Errorf("job %s: bad max_duration %q: %w", jobName, cfg.MaxDuration, err)
			}
			base.MaxDuration = d
		}
		jobs[jobName] = base
	}

	return jobs, nil
}

func loadJobFile(path string) (*jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &jobFile{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

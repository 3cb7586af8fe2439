// Package evolution implements the idle-gated background scheduler that
// runs long-running maintenance jobs against the file tracker, branch
// registry and job history (tracker consolidation, stale-assignment
// decay, and similar upkeep) without competing with active agents for
// resources.
package evolution

import (
	"context"
	"time"

	"github.com/mnemosyne/core/pkg/models"
)

// Job is an evolution task the scheduler can run. Implementations decide
// for themselves whether they're due (ShouldRun) independently of the
// scheduler's tick, so one job's failure to answer doesn't block others.
type Job interface {
	// Name identifies the job for config lookup and history queries.
	Name() string
	// ShouldRun reports whether the job is due to run now.
	ShouldRun(ctx context.Context) (bool, error)
	// Run executes the job and returns a report of what it did.
	Run(ctx context.Context, cfg JobConfig) (models.JobReport, error)
}

// JobConfig holds the tunables for a single job.
type JobConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

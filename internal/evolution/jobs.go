package evolution

import (
	"context"
	"time"

	"github.com/mnemosyne/core/internal/registry"
	"github.com/mnemosyne/core/internal/tracker"
	"github.com/mnemosyne/core/pkg/models"
)

// intervalJob factors out the ShouldRun logic common to every job here:
// due once its configured interval has elapsed since the last run.
type intervalJob struct {
	mu       chan struct{} // 1-buffered mutex, cheap zero value avoidance
	lastRun  time.Time
	interval time.Duration
	now      func() time.Time
}

func newIntervalJob(interval time.Duration) intervalJob {
	ij := intervalJob{mu: make(chan struct{}, 1), interval: interval, now: time.Now}
	ij.mu <- struct{}{}
	return ij
}

func (ij *intervalJob) shouldRun() bool {
	<-ij.mu
	defer func() { ij.mu <- struct{}{} }()
	return ij.now().Sub(ij.lastRun) >= ij.interval
}

func (ij *intervalJob) markRun(at time.Time) {
	<-ij.mu
	ij.lastRun = at
	ij.mu <- struct{}{}
}

// ConsolidationJob prunes the File Tracker's path index of entries an
// agent never released: the index is the thing that would otherwise grow
// unbounded over a long-running process.
type ConsolidationJob struct {
	intervalJob
	tracker *tracker.Tracker
	maxAge  time.Duration
}

// NewConsolidationJob creates a job that prunes tracker entries older
// than maxAge, checked every interval.
func NewConsolidationJob(t *tracker.Tracker, interval, maxAge time.Duration) *ConsolidationJob {
	return &ConsolidationJob{intervalJob: newIntervalJob(interval), tracker: t, maxAge: maxAge}
}

func (j *ConsolidationJob) Name() string { return "consolidation" }

func (j *ConsolidationJob) ShouldRun(ctx context.Context) (bool, error) {
	return j.shouldRun(), nil
}

func (j *ConsolidationJob) Run(ctx context.Context, cfg JobConfig) (models.JobReport, error) {
	start := time.Now()
	removed := j.tracker.PruneStale(start.Add(-j.maxAge))
	j.markRun(start)
	return models.JobReport{
		MemoriesProcessed: removed,
		ChangesMade:       removed,
		Duration:          time.Since(start),
	}, nil
}

// LinkDecayJob expires branch assignments whose agent has gone silent
// past the registry's TTL: a branch assignment is the link between an
// agent and a branch, and a dead agent's link should decay.
type LinkDecayJob struct {
	intervalJob
	registry *registry.Registry
}

// NewLinkDecayJob creates a job that calls Registry.ExpireStale every
// interval.
func NewLinkDecayJob(r *registry.Registry, interval time.Duration) *LinkDecayJob {
	return &LinkDecayJob{intervalJob: newIntervalJob(interval), registry: r}
}

func (j *LinkDecayJob) Name() string { return "link_decay" }

func (j *LinkDecayJob) ShouldRun(ctx context.Context) (bool, error) {
	return j.shouldRun(), nil
}

func (j *LinkDecayJob) Run(ctx context.Context, cfg JobConfig) (models.JobReport, error) {
	start := time.Now()
	released := j.registry.ExpireStale(start)
	j.markRun(start)
	return models.JobReport{
		MemoriesProcessed: len(released),
		ChangesMade:       len(released),
		Duration:          time.Since(start),
	}, nil
}

// ImportanceRecalibrationJob samples the Ready set. Importance here is
// priority/age/id ordering, which the queue already recomputes on every
// read; this job exists to surface how large the ready set has grown,
// for observability, without mutating it.
type ImportanceRecalibrationJob struct {
	intervalJob
	readyCounter func() int
}

// NewImportanceRecalibrationJob creates a job that samples the size of
// the ready set via readyCounter every interval.
func NewImportanceRecalibrationJob(readyCounter func() int, interval time.Duration) *ImportanceRecalibrationJob {
	return &ImportanceRecalibrationJob{intervalJob: newIntervalJob(interval), readyCounter: readyCounter}
}

func (j *ImportanceRecalibrationJob) Name() string { return "importance_recalibration" }

func (j *ImportanceRecalibrationJob) ShouldRun(ctx context.Context) (bool, error) {
	return j.shouldRun(), nil
}

func (j *ImportanceRecalibrationJob) Run(ctx context.Context, cfg JobConfig) (models.JobReport, error) {
	start := time.Now()
	n := j.readyCounter()
	j.markRun(start)
	return models.JobReport{
		MemoriesProcessed: n,
		ChangesMade:       0,
		Duration:          time.Since(start),
	}, nil
}

// ArchivalJob watches the persisted job-run history itself, keeping the
// store bounded: self-archival of the scheduler's own run log rather
// than an external data store.
type ArchivalJob struct {
	intervalJob
	history interface {
		GetJobHistory(jobName string, limit int) ([]models.JobRun, error)
	}
	keep int
}

// NewArchivalJob creates a job that, every interval, checks whether the
// history held by history has grown past keep entries. The scheduler's
// own CompleteJobRun path is the only writer, so this job reports what it
// would archive; actual deletion is left to the storage backend's own
// retention policy.
func NewArchivalJob(history interface {
	GetJobHistory(jobName string, limit int) ([]models.JobRun, error)
}, keep int, interval time.Duration) *ArchivalJob {
	return &ArchivalJob{intervalJob: newIntervalJob(interval), history: history, keep: keep}
}

func (j *ArchivalJob) Name() string { return "archival" }

func (j *ArchivalJob) ShouldRun(ctx context.Context) (bool, error) {
	return j.shouldRun(), nil
}

func (j *ArchivalJob) Run(ctx context.Context, cfg JobConfig) (models.JobReport, error) {
	start := time.Now()
	runs, err := j.history.GetJobHistory("", 0)
	j.markRun(start)
	if err != nil {
		return models.JobReport{}, err
	}
	overflow := 0
	if len(runs) > j.keep {
		overflow = len(runs) - j.keep
	}
	return models.JobReport{
		MemoriesProcessed: len(runs),
		ChangesMade:       overflow,
		Duration:          time.Since(start),
	}, nil
}

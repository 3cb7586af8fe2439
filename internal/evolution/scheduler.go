package evolution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemosyne/core/internal/state"
	"github.com/mnemosyne/core/pkg/models"
)

// ErrAlreadyRunning is returned by Start if the scheduler's loop is
// already active.
var ErrAlreadyRunning = errors.New("evolution scheduler already running")

// IdleChecker reports whether the orchestrator has been idle (no
// dispatch or query activity) for at least the configured window. The
// Orchestrator Loop updates the checker's backing clock on every
// dispatch; the scheduler only reads it.
type IdleChecker interface {
	IdleFor() time.Duration
}

// Config holds the scheduler-wide settings plus one JobConfig per
// registered job, keyed by job name.
type Config struct {
	// IdleWindow is how long the system must be idle before any job is
	// considered for execution.
	IdleWindow time.Duration `mapstructure:"idle_window"`
	// PollInterval is how often the scheduler checks idleness and due jobs.
	PollInterval time.Duration        `mapstructure:"poll_interval"`
	Jobs         map[string]JobConfig `mapstructure:"jobs"`
}

// DefaultConfig returns the scheduler's built-in defaults, reinterpreting
// the four canonical evolution jobs for an orchestration core: tracker
// consolidation, priority recalibration, stale-assignment decay, and
// job-history archival.
func DefaultConfig() Config {
	return Config{
		IdleWindow:   5 * time.Minute,
		PollInterval: time.Minute,
		Jobs: map[string]JobConfig{
			"consolidation": {
				Enabled: true, Interval: 10 * time.Minute, BatchSize: 500, MaxDuration: 2 * time.Minute,
			},
			"importance_recalibration": {
				Enabled: true, Interval: 15 * time.Minute, BatchSize: 1000, MaxDuration: time.Minute,
			},
			"link_decay": {
				Enabled: true, Interval: 5 * time.Minute, BatchSize: 1000, MaxDuration: 30 * time.Second,
			},
			"archival": {
				Enabled: true, Interval: time.Hour, BatchSize: 2000, MaxDuration: 5 * time.Minute,
			},
		},
	}
}

// Scheduler runs registered Jobs on their own schedule whenever the
// system is idle, recording a JobRun per execution via store.
type Scheduler struct {
	cfg   Config
	idle  IdleChecker
	store state.JobRunStore

	mu      sync.Mutex
	jobs    []Job
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	now func() time.Time
}

// New creates a Scheduler. store may be nil, in which case job runs are
// executed but not persisted (used by callers that only want the
// idle-gating behaviour, e.g. tests).
func New(cfg Config, idle IdleChecker, store state.JobRunStore) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		idle:  idle,
		store: store,
		now:   time.Now,
	}
}

// RegisterJob adds a job to the scheduler. Must be called before Start.
func (s *Scheduler) RegisterJob(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

// Start runs the scheduler loop until ctx is cancelled or Stop is
// called. Returns ErrAlreadyRunning if already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			return nil
		case <-s.stopCh:
			s.markStopped()
			return nil
		case <-ticker.C:
			if s.idle != nil && s.idle.IdleFor() < s.cfg.IdleWindow {
				continue
			}
			s.runDueJobs(ctx)
		}
	}
}

func (s *Scheduler) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Stop signals a running scheduler loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// runDueJobs evaluates ShouldRun for every registered job independently;
// one job's error (from should_run or execution) never prevents the
// others from being checked.
func (s *Scheduler) runDueJobs(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		due, err := job.ShouldRun(ctx)
		if err != nil || !due {
			continue
		}
		_, _ = s.RunJob(ctx, job)
	}
}

// RunJob executes job under its configured timeout, recording a JobRun
// before and after. It can be called directly (bypassing the idle gate)
// for manual/forced runs.
func (s *Scheduler) RunJob(ctx context.Context, job Job) (models.JobReport, error) {
	jobCfg, ok := s.cfg.Jobs[job.Name()]
	if !ok {
		return models.JobReport{}, fmt.Errorf("no configuration for job %q", job.Name())
	}
	if !jobCfg.Enabled {
		return models.JobReport{}, fmt.Errorf("job %q is disabled", job.Name())
	}

	runID := uuid.NewString()
	startedAt := s.now()

	if s.store != nil {
		_ = s.store.CreateJobRun(&state.JobRunRecord{
			ID:        runID,
			JobName:   job.Name(),
			StartedAt: startedAt,
			Status:    string(models.JobRunning),
		})
	}

	runCtx, cancel := context.WithTimeout(ctx, jobCfg.MaxDuration)
	defer cancel()

	type result struct {
		report models.JobReport
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		report, err := job.Run(runCtx, jobCfg)
		resultCh <- result{report: report, err: err}
	}()

	var (
		status models.JobStatus
		report models.JobReport
		outErr error
	)

	select {
	case <-runCtx.Done():
		status = models.JobTimeout
		report = models.JobReport{
			Duration:     jobCfg.MaxDuration,
			Errors:       1,
			ErrorMessage: fmt.Sprintf("timeout after %s", jobCfg.MaxDuration),
		}
		outErr = runCtx.Err()
	case r := <-resultCh:
		if r.err != nil {
			status = models.JobFailed
			report = models.JobReport{Duration: s.now().Sub(startedAt), Errors: 1, ErrorMessage: r.err.Error()}
			outErr = r.err
		} else {
			status = models.JobSuccess
			report = r.report
		}
	}

	if s.store != nil {
		completedAt := s.now()
		reportJSON, _ := marshalReport(report)
		_ = s.store.CompleteJobRun(runID, formatRFC3339(completedAt), string(status), reportJSON)
	}

	return report, outErr
}

// GetJobHistory returns the persisted run history for jobName (or all
// jobs if jobName is empty), most recent first.
func (s *Scheduler) GetJobHistory(jobName string, limit int) ([]models.JobRun, error) {
	if s.store == nil {
		return nil, nil
	}
	records, err := s.store.GetJobHistory(jobName, limit)
	if err != nil {
		return nil, err
	}
	runs := make([]models.JobRun, 0, len(records))
	for _, r := range records {
		run := models.JobRun{
			ID:          r.ID,
			JobName:     r.JobName,
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
			Status:      models.JobStatus(r.Status),
		}
		if rep, ok := unmarshalReport(r.ReportJSON); ok {
			run.Report = rep
		}
		runs = append(runs, run)
	}
	return runs, nil
}

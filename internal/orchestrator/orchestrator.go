// Package orchestrator manages the coordination of agents and workflows.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/mnemosyne/core/internal/agent"
	"github.com/mnemosyne/core/internal/coordinator"
	"github.com/mnemosyne/core/internal/evolution"
	"github.com/mnemosyne/core/internal/git"
	"github.com/mnemosyne/core/internal/notifier"
	"github.com/mnemosyne/core/internal/orchestrator/policy"
	"github.com/mnemosyne/core/internal/queue"
	"github.com/mnemosyne/core/internal/registry"
	"github.com/mnemosyne/core/internal/tracker"
	"github.com/mnemosyne/core/internal/worktree"
	"github.com/mnemosyne/core/pkg/models"
)

// Orchestrator owns the work queue and the branch registry and drives
// the intake -> dispatch -> review -> re-enqueue cycle. It is the only
// writer of work-item state; other components see read-only snapshots.
type Orchestrator struct {
	config RequiredConfig
	policy *policy.Config
	logger *DebugLogger
	sink   EventSink

	queue     *queue.Queue
	registry  *registry.Registry
	worktrees *worktree.Manager
	tracker   *tracker.Tracker
	detector  *tracker.Detector
	notifier  *notifier.Notifier
	coord     *coordinator.Coordinator
	reviewer  agent.Reviewer
	activity  *evolution.ActivityTracker

	pauseCtrl *PauseController
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu sync.Mutex
	// agents maps an in-flight item to the agent executing it.
	agents map[models.WorkItemID]models.AgentID
	// notBefore gates re-dispatch of requeued items (deadlock backoff).
	notBefore map[models.WorkItemID]time.Time
	// deadlockCount tracks consecutive deadlocks per item for backoff.
	deadlockCount map[models.WorkItemID]int
	// transientRetries tracks transient-failure retries per item.
	transientRetries map[models.WorkItemID]int
}

// New creates an Orchestrator. RequiredConfig fields must be set; every
// collaborator not supplied via an Option gets a working default.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.RepoPath == "" {
		return nil, &ValidationError{Msg: "RepoPath is required"}
	}
	if req.Bridge == nil {
		return nil, &ValidationError{Msg: "Bridge is required"}
	}

	options := &orchestratorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	pol := options.policyConfig
	if pol == nil {
		pol = policy.Default()
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}

	logger := options.logger
	if logger == nil {
		logger = NopLogger()
	}
	setPackageLogger(logger)

	reg := options.registry
	if reg == nil {
		reg = registry.New(0)
	}

	gitRunner := options.gitRunner
	if gitRunner == nil {
		gitRunner = git.NewRunner(req.RepoPath)
	}

	trk := tracker.New()
	notifierCfg := notifier.Config{
		Enabled:                 true,
		NotifyOnSave:            true,
		PeriodicIntervalMinutes: pol.Notify.PeriodicIntervalMinutes,
		SessionEndSummary:       true,
	}
	if options.notifierConfig != nil {
		notifierCfg = *options.notifierConfig
	}

	activity := options.activity
	if activity == nil {
		activity = evolution.NewActivityTracker()
	}

	o := &Orchestrator{
		config:           req,
		policy:           pol,
		logger:           logger,
		sink:             options.sink,
		queue:            queue.New(),
		registry:         reg,
		worktrees:        worktree.New(req.RepoPath, gitRunner),
		tracker:          trk,
		detector:         tracker.NewDetector(trk),
		notifier:         notifier.New(notifierCfg, trk),
		coord:            options.coordinator,
		reviewer:         options.reviewer,
		activity:         activity,
		pauseCtrl:        NewPauseController(),
		stopCh:           make(chan struct{}),
		agents:           make(map[models.WorkItemID]models.AgentID),
		notBefore:        make(map[models.WorkItemID]time.Time),
		deadlockCount:    make(map[models.WorkItemID]int),
		transientRetries: make(map[models.WorkItemID]int),
	}
	return o, nil
}

// Submit validates and enqueues work items for execution. Items enter in
// state Ready. Priorities are checked for the whole batch before any item
// is admitted; items are then added in order, and the first one with an
// unknown dependency or a dependency cycle is rejected, leaving the items
// before it in the queue.
func (o *Orchestrator) Submit(items []*models.WorkItem) error {
	for _, item := range items {
		if item.Priority < 0 || item.Priority > 10 {
			return &ValidationError{Msg: fmt.Sprintf("item %s: priority %d outside 0..10", item.ID, item.Priority)}
		}
	}
	for _, item := range items {
		item.State = models.StateReady
		item.Phase = o.queue.CurrentPhase()
		if err := o.queue.Add(item); err != nil {
			return err
		}
		o.emitEvent(Event{
			Type:       EventItemQueued,
			WorkItemID: item.ID,
			Phase:      item.Phase,
			Message:    item.Description,
		})
	}
	return nil
}

// Queue exposes the work queue for read-only inspection (status CLI,
// evolution jobs sampling the ready set).
func (o *Orchestrator) Queue() *queue.Queue { return o.queue }

// Registry exposes the branch registry for read-only inspection.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Tracker exposes the file tracker so external watchers can record
// modifications and the TUI collaborator can poll conflicts.
func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

// Notifier exposes the conflict notifier for the on-save watcher hook.
func (o *Orchestrator) Notifier() *notifier.Notifier { return o.notifier }

// Activity exposes the activity tracker the Evolution Scheduler gates on.
func (o *Orchestrator) Activity() *evolution.ActivityTracker { return o.activity }

// Pause pauses the orchestrator, preventing new dispatches.
func (o *Orchestrator) Pause() { o.pauseCtrl.Pause() }

// Resume unpauses the orchestrator.
func (o *Orchestrator) Resume() { o.pauseCtrl.Resume() }

// IsPaused returns whether the orchestrator is currently paused.
func (o *Orchestrator) IsPaused() bool { return o.pauseCtrl.IsPaused() }

// Stop signals the orchestrator to stop and waits for in-flight
// executions to wind down.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.pauseCtrl.Stop()
		close(o.stopCh)
	})
	o.wg.Wait()
}

// releaseAgent releases everything an agent held: its branch assignment,
// its tracker contributions, and its worktree. Idempotent.
func (o *Orchestrator) releaseAgent(agentID models.AgentID) {
	if err := o.registry.ReleaseAssignment(agentID); err != nil {
		o.logger.Log("[release] %s: registry release: %v", agentID, err)
	}
	o.tracker.ClearAgent(agentID)
	if err := o.worktrees.RemoveWorktree(agentID); err != nil {
		o.logger.Log("[release] %s: worktree removal: %v", agentID, err)
	}
}

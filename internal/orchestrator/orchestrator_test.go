package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mnemosyne/core/internal/agent"
	"github.com/mnemosyne/core/internal/git"
	"github.com/mnemosyne/core/internal/orchestrator/policy"
	"github.com/mnemosyne/core/pkg/models"
)

// fakeGit satisfies git.Runner without shelling out, backing worktree
// creation with plain directories.
type fakeGit struct {
	mu       sync.Mutex
	branches map[string]bool
}

func newFakeGit() *fakeGit {
	return &fakeGit{branches: map[string]bool{"main": true}}
}

func (f *fakeGit) CurrentBranch() (string, error) { return "main", nil }
func (f *fakeGit) CreateBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[name] = true
	return nil
}
func (f *fakeGit) BranchExists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[name], nil
}
func (f *fakeGit) DeleteBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.branches, name)
	return nil
}

func (f *fakeGit) Status() (string, error)                    { return "", nil }
func (f *fakeGit) HasChanges() (bool, error)                  { return false, nil }
func (f *fakeGit) ChangedFiles(base string) ([]string, error) { return nil, nil }

func (f *fakeGit) WorktreeAdd(path, branch string) error {
	return os.MkdirAll(path, 0o755)
}
func (f *fakeGit) WorktreeAddNewBranch(path, branch string) error {
	_ = f.CreateBranch(branch)
	return os.MkdirAll(path, 0o755)
}
func (f *fakeGit) WorktreeRemove(path string) error                       { return os.RemoveAll(path) }
func (f *fakeGit) WorktreeRemoveOptionalForce(path string, _ bool) error  { return os.RemoveAll(path) }
func (f *fakeGit) WorktreeUnlock(path string) error                       { return nil }
func (f *fakeGit) WorktreeList() ([]string, error)                        { return nil, nil }
func (f *fakeGit) WorktreeListPorcelain() (string, error)                 { return "", nil }
func (f *fakeGit) WorktreePrune() error                                   { return nil }
func (f *fakeGit) WorktreePruneExpireNow() error                          { return nil }
func (f *fakeGit) Run(args ...string) (string, error)                     { return "", nil }

var _ git.Runner = (*fakeGit)(nil)

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) ofType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func fastPolicy() *policy.Config {
	p := policy.Default()
	p.Loop.TickInterval = 5 * time.Millisecond
	p.Deadlock.InitialBackoff = 10 * time.Millisecond
	p.Deadlock.MaxBackoff = 50 * time.Millisecond
	return p
}

func newTestOrchestrator(t *testing.T, bridge agent.AgentBridge, opts ...Option) (*Orchestrator, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	opts = append([]Option{
		WithGitRunner(newFakeGit()),
		WithPolicy(fastPolicy()),
		WithEventSink(sink),
	}, opts...)
	o, err := New(RequiredConfig{RepoPath: t.TempDir(), Bridge: bridge}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, sink
}

func succeedBridge() agent.AgentBridge {
	return agent.BridgeFunc(func(ctx context.Context, item models.WorkItem) (agent.ExecutionResult, error) {
		return agent.ExecutionResult{WorkItemID: item.ID, Success: true}, nil
	})
}

func runToCompletion(t *testing.T, o *Orchestrator) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := o.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("orchestrator did not finish within the test deadline")
	}
	return err
}

func TestRun_DependencyOrderRespected(t *testing.T) {
	var mu sync.Mutex
	var order []string

	bridge := agent.BridgeFunc(func(ctx context.Context, item models.WorkItem) (agent.ExecutionResult, error) {
		mu.Lock()
		order = append(order, item.Description)
		mu.Unlock()
		return agent.ExecutionResult{Success: true}, nil
	})

	o, _ := newTestOrchestrator(t, bridge)

	first := models.NewWorkItem("first", models.RoleExecutor, 5, nil)
	second := models.NewWorkItem("second", models.RoleExecutor, 5, []models.WorkItemID{first.ID})

	if err := o.Submit([]*models.WorkItem{first, second}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := runToCompletion(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("execution order %v, want [first second]", order)
	}
}

func TestRun_ReviewRejectionReEnqueuesWithFeedback(t *testing.T) {
	var attempts []uint32
	var mu sync.Mutex

	reviewer := agent.ReviewerFunc(func(ctx context.Context, item models.WorkItem, result agent.ExecutionResult) (agent.ReviewDecision, error) {
		mu.Lock()
		attempts = append(attempts, item.ReviewAttempt)
		mu.Unlock()
		if item.ReviewAttempt == 0 {
			return agent.ReviewDecision{Feedback: []string{"add tests"}, SuggestedTests: []string{"TestX"}}, nil
		}
		return agent.ReviewDecision{Approved: true}, nil
	})

	o, sink := newTestOrchestrator(t, succeedBridge(), WithReviewer(reviewer))

	item := models.NewWorkItem("implement X", models.RoleExecutor, 5, nil)
	if err := o.Submit([]*models.WorkItem{item}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := runToCompletion(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := o.Queue().Get(item.ID)
	if got.State != models.StateComplete {
		t.Fatalf("final state %s, want complete", got.State)
	}
	if got.OriginalIntent != "implement X" {
		t.Errorf("original intent mutated: %q", got.OriginalIntent)
	}
	if got.ReviewAttempt != 1 {
		t.Errorf("review attempt %d, want 1", got.ReviewAttempt)
	}
	if len(got.ReviewFeedback) != 1 || got.ReviewFeedback[0] != "add tests" {
		t.Errorf("review feedback %v, want [add tests]", got.ReviewFeedback)
	}
	if len(got.SuggestedTests) != 1 || got.SuggestedTests[0] != "TestX" {
		t.Errorf("suggested tests %v, want [TestX]", got.SuggestedTests)
	}
	if len(sink.ofType(EventReviewRejected)) != 1 {
		t.Error("expected exactly one review_rejected event")
	}
}

func TestRun_ReviewAttemptsExhaustedFailsItem(t *testing.T) {
	reviewer := agent.ReviewerFunc(func(ctx context.Context, item models.WorkItem, result agent.ExecutionResult) (agent.ReviewDecision, error) {
		return agent.ReviewDecision{Feedback: []string{"still wrong"}}, nil
	})

	o, _ := newTestOrchestrator(t, succeedBridge(), WithReviewer(reviewer))

	item := models.NewWorkItem("never passes", models.RoleExecutor, 5, nil)
	if err := o.Submit([]*models.WorkItem{item}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	err := runToCompletion(t, o)
	if err == nil {
		t.Fatal("expected run error for exhausted review attempts")
	}

	got := o.Queue().Get(item.ID)
	if got.State != models.StateError {
		t.Errorf("final state %s, want error", got.State)
	}
	if got.ReviewAttempt != o.policy.Review.MaxAttempts-1 {
		t.Errorf("review attempt %d, want %d", got.ReviewAttempt, o.policy.Review.MaxAttempts-1)
	}
}

func TestRun_AgentFailurePropagatesAsItemError(t *testing.T) {
	bridge := agent.BridgeFunc(func(ctx context.Context, item models.WorkItem) (agent.ExecutionResult, error) {
		return agent.ExecutionResult{Err: fmt.Errorf("agent command exited with code 2")}, nil
	})

	o, sink := newTestOrchestrator(t, bridge)

	item := models.NewWorkItem("doomed", models.RoleExecutor, 5, nil)
	if err := o.Submit([]*models.WorkItem{item}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := runToCompletion(t, o); err == nil {
		t.Fatal("expected run error")
	}

	got := o.Queue().Get(item.ID)
	if got.State != models.StateError {
		t.Fatalf("final state %s, want error", got.State)
	}
	if !strings.Contains(got.Error, "exited with code 2") {
		t.Errorf("item error %q should carry the exit failure", got.Error)
	}
	if len(sink.ofType(EventItemFailed)) == 0 {
		t.Error("expected an item_failed event")
	}
}

func TestRun_DeadlockTimeoutRequeuesThenCompletes(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	bridge := agent.BridgeFunc(func(ctx context.Context, item models.WorkItem) (agent.ExecutionResult, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			// Hang past the item timeout so the deadlock detector fires.
			<-ctx.Done()
			return agent.ExecutionResult{}, ctx.Err()
		}
		return agent.ExecutionResult{Success: true}, nil
	})

	o, sink := newTestOrchestrator(t, bridge)

	item := models.NewWorkItem("slow once", models.RoleExecutor, 5, nil)
	item.Timeout = 50 * time.Millisecond
	if err := o.Submit([]*models.WorkItem{item}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := runToCompletion(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := o.Queue().Get(item.ID)
	if got.State != models.StateComplete {
		t.Fatalf("final state %s, want complete", got.State)
	}
	if len(sink.ofType(EventItemBlocked)) == 0 {
		t.Error("expected an item_blocked event from the deadlock detector")
	}
	if calls < 2 {
		t.Errorf("expected a re-dispatch after requeue, got %d call(s)", calls)
	}
}

func TestRun_PhaseAdvancesToCompleteWhenAllItemsDone(t *testing.T) {
	o, sink := newTestOrchestrator(t, succeedBridge())

	item := models.NewWorkItem("only item", models.RoleExecutor, 5, nil)
	if err := o.Submit([]*models.WorkItem{item}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := runToCompletion(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if phase := o.Queue().CurrentPhase(); phase != models.PhaseComplete {
		t.Errorf("final phase %s, want complete", phase)
	}

	advanced := sink.ofType(EventPhaseAdvanced)
	if len(advanced) != 4 {
		t.Errorf("expected 4 phase_advanced events, got %d", len(advanced))
	}
	// Phase monotonicity: observed sequence is non-decreasing.
	last := -1
	for _, e := range advanced {
		idx := e.Phase.Index()
		if idx <= last {
			t.Errorf("phase went backwards: %v", advanced)
		}
		last = idx
	}
	if len(sink.ofType(EventSessionDone)) != 1 {
		t.Error("expected exactly one session_done event")
	}
}

func TestSubmit_RejectsOutOfRangePriority(t *testing.T) {
	o, _ := newTestOrchestrator(t, succeedBridge())

	item := models.NewWorkItem("bad", models.RoleExecutor, 11, nil)
	err := o.Submit([]*models.WorkItem{item})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSubmit_RejectsDependencyCycle(t *testing.T) {
	o, _ := newTestOrchestrator(t, succeedBridge())

	a := models.NewWorkItem("a", models.RoleExecutor, 5, nil)
	b := models.NewWorkItem("b", models.RoleExecutor, 5, []models.WorkItemID{a.ID})
	a.Dependencies = []models.WorkItemID{b.ID}

	if err := o.Submit([]*models.WorkItem{a, b}); err == nil {
		t.Fatal("expected cycle rejection")
	}
}

func TestRequestEdit_HandoffRoundTrip(t *testing.T) {
	o, _ := newTestOrchestrator(t, succeedBridge())
	sessions := t.TempDir()

	item := models.NewWorkItem("edit something", models.RoleExecutor, 5, nil)
	intent := EditIntent{
		WorkItemID:  item.ID,
		AgentID:     models.NewAgentID(),
		Branch:      "main",
		Description: item.Description,
	}

	// Play the editor collaborator: wait for the intent file, then write
	// the result.
	go func() {
		intentPath := filepath.Join(sessions, "edit-intent.json")
		for i := 0; i < 100; i++ {
			if _, err := os.Stat(intentPath); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		result := EditResult{
			WorkItemID:  item.ID,
			Success:     true,
			Message:     "edited",
			CompletedAt: time.Now(),
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		_ = os.WriteFile(filepath.Join(sessions, "edit-result.json"), data, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := o.RequestEdit(ctx, sessions, intent)
	if err != nil {
		t.Fatalf("RequestEdit: %v", err)
	}
	if !result.Success || result.WorkItemID != item.ID {
		t.Errorf("unexpected result: %+v", result)
	}

	// Both handoff files are cleaned up afterwards.
	if _, err := os.Stat(filepath.Join(sessions, "edit-intent.json")); !os.IsNotExist(err) {
		t.Error("edit-intent.json should be removed after the handoff")
	}
	if _, err := os.Stat(filepath.Join(sessions, "edit-result.json")); !os.IsNotExist(err) {
		t.Error("edit-result.json should be removed after the handoff")
	}
}

func TestRegistry_IsolatedExclusionViaDispatch(t *testing.T) {
	// Two items pinned to the same branch: with Isolated mode the second
	// dispatch is deferred until the first agent releases, so both still
	// complete.
	o, _ := newTestOrchestrator(t, succeedBridge())

	a := models.NewWorkItem("a", models.RoleExecutor, 5, nil)
	b := models.NewWorkItem("b", models.RoleExecutor, 5, nil)
	a.AssignedBranch = "shared-branch"
	b.AssignedBranch = "shared-branch"

	if err := o.Submit([]*models.WorkItem{a, b}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := runToCompletion(t, o); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range []models.WorkItemID{a.ID, b.ID} {
		if got := o.Queue().Get(id); got.State != models.StateComplete {
			t.Errorf("item %s state %s, want complete", id, got.State)
		}
	}
}

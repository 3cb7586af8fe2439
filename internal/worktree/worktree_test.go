package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mnemosyne/core/internal/git"
	"github.com/mnemosyne/core/pkg/models"
)

// fakeRunner is a minimal in-memory stand-in for git.Runner that tracks
// worktree adds/removes without shelling out, so these tests exercise the
// Manager's own logic (stale recovery, rollback, serialization) in
// isolation from git itself.
type fakeRunner struct {
	mu        sync.Mutex
	branches  map[string]bool
	worktrees map[string]string // path -> branch
	failAdd   map[string]bool   // path -> force failure
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		branches:  make(map[string]bool),
		worktrees: make(map[string]string),
		failAdd:   make(map[string]bool),
	}
}

func (f *fakeRunner) BranchExists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branches[name], nil
}
func (f *fakeRunner) CreateBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[name] = true
	return nil
}
func (f *fakeRunner) DeleteBranch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.branches, name)
	return nil
}
func (f *fakeRunner) CurrentBranch() (string, error) { return "main", nil }

func (f *fakeRunner) Status() (string, error)                    { return "", nil }
func (f *fakeRunner) HasChanges() (bool, error)                  { return false, nil }
func (f *fakeRunner) ChangedFiles(base string) ([]string, error) { return nil, nil }

func (f *fakeRunner) WorktreeAdd(path, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd[path] {
		return fmt.Errorf("simulated worktree add failure")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	f.worktrees[path] = branch
	return nil
}
func (f *fakeRunner) WorktreeAddNewBranch(path, branch string) error {
	f.mu.Lock()
	f.branches[branch] = true
	f.mu.Unlock()
	return f.WorktreeAdd(path, branch)
}
func (f *fakeRunner) WorktreeRemove(path string) error {
	return f.WorktreeRemoveOptionalForce(path, false)
}
func (f *fakeRunner) WorktreeRemoveOptionalForce(path string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.worktrees, path)
	return nil
}
func (f *fakeRunner) WorktreeUnlock(path string) error { return nil }
func (f *fakeRunner) WorktreeList() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var paths []string
	for p := range f.worktrees {
		paths = append(paths, p)
	}
	return paths, nil
}
func (f *fakeRunner) WorktreeListPorcelain() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sb strings.Builder
	for p, b := range f.worktrees {
		sb.WriteString("worktree " + p + "\n")
		sb.WriteString("branch refs/heads/" + b + "\n\n")
	}
	return sb.String(), nil
}
func (f *fakeRunner) WorktreePrune() error          { return nil }
func (f *fakeRunner) WorktreePruneExpireNow() error { return nil }

func (f *fakeRunner) Run(args ...string) (string, error) { return "", nil }

var _ git.Runner = (*fakeRunner)(nil)

func TestCreateWorktree_NewBranch(t *testing.T) {
	repo := t.TempDir()
	fr := newFakeRunner()
	m := New(repo, fr)

	path, err := m.CreateWorktree(models.AgentID("agent-1"), "feat")
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	want := filepath.Join(repo, ".mnemosyne", "worktrees", "agent-1")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if !fr.branches["feat"] {
		t.Errorf("expected branch feat to be created off HEAD")
	}
}

func TestCreateWorktree_ExistingBranch(t *testing.T) {
	repo := t.TempDir()
	fr := newFakeRunner()
	fr.branches["feat"] = true
	m := New(repo, fr)

	if _, err := m.CreateWorktree(models.AgentID("agent-1"), "feat"); err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
}

func TestCreateWorktree_StaleRecovery(t *testing.T) {
	repo := t.TempDir()
	fr := newFakeRunner()
	m := New(repo, fr)

	path := m.pathFor(models.AgentID("agent-1"))
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "stale.txt"), []byte("leftover"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := m.CreateWorktree(models.AgentID("agent-1"), "feat")
	if err != nil {
		t.Fatalf("CreateWorktree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(got, "stale.txt")); !os.IsNotExist(err) {
		t.Errorf("expected stale file to be gone, stat err = %v", err)
	}
}

func TestCreateWorktree_RollsBackOnFailure(t *testing.T) {
	repo := t.TempDir()
	fr := newFakeRunner()
	m := New(repo, fr)

	path := m.pathFor(models.AgentID("agent-1"))
	fr.failAdd[path] = true

	if _, err := m.CreateWorktree(models.AgentID("agent-1"), "feat"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no half-populated directory to remain, stat err = %v", err)
	}
}

func TestRemoveWorktree_Idempotent(t *testing.T) {
	repo := t.TempDir()
	fr := newFakeRunner()
	m := New(repo, fr)

	agentID := models.AgentID("agent-1")
	path, err := m.CreateWorktree(agentID, "feat")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveWorktree(agentID); err != nil {
		t.Fatalf("RemoveWorktree: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected path removed, stat err = %v", err)
	}
	// Second call is a no-op, not an error.
	if err := m.RemoveWorktree(agentID); err != nil {
		t.Fatalf("RemoveWorktree (idempotent): %v", err)
	}
}

func TestListWorktrees(t *testing.T) {
	repo := t.TempDir()
	fr := newFakeRunner()
	m := New(repo, fr)

	if _, err := m.CreateWorktree(models.AgentID("agent-1"), "feat-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateWorktree(models.AgentID("agent-2"), "feat-b"); err != nil {
		t.Fatal(err)
	}

	entries, err := m.ListWorktrees()
	if err != nil {
		t.Fatalf("ListWorktrees: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

// Package worktree implements the Worktree Manager: per-agent git worktree
// creation, stale-lock recovery, and cleanup.
//
// Layout: <repo>/.mnemosyne/worktrees/<agent_id>/. The manager never alters
// the parent repository's working tree or checked-out branch; it only
// shells out to `git worktree` against isolated paths.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mnemosyne/core/internal/git"
	"github.com/mnemosyne/core/pkg/models"
)

// Entry describes one managed worktree.
type Entry struct {
	AgentID models.AgentID
	Branch  string
	Path    string
}

// Manager creates and removes isolated git worktrees, one per agent, under
// <repo>/.mnemosyne/worktrees/. Creation for a given agent ID is serialized
// so two concurrent calls produce the same final directory rather than
// racing git.
type Manager struct {
	repoPath string
	git      git.Runner

	mu     sync.Mutex // guards locks map
	locks  map[models.AgentID]*sync.Mutex
}

// New creates a Manager rooted at repoPath, using runner for git operations.
func New(repoPath string, runner git.Runner) *Manager {
	return &Manager{
		repoPath: repoPath,
		git:      runner,
		locks:    make(map[models.AgentID]*sync.Mutex),
	}
}

func (m *Manager) lockFor(agentID models.AgentID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[agentID] = l
	}
	return l
}

func (m *Manager) worktreeRoot() string {
	return filepath.Join(m.repoPath, ".mnemosyne", "worktrees")
}

func (m *Manager) pathFor(agentID models.AgentID) string {
	return filepath.Join(m.worktreeRoot(), string(agentID))
}

// CreateWorktree creates (or replaces, if stale) the worktree for agentID
// on branch. If branch does not exist it is created off the current HEAD.
// If the target path already exists from a crashed prior run, it is
// removed first (best-effort git-level cleanup, then filesystem removal)
// before a fresh worktree is created. On any failure after a partial
// directory is created, the manager rolls back rather than leaving a
// half-populated directory.
func (m *Manager) CreateWorktree(agentID models.AgentID, branch string) (string, error) {
	lock := m.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	path := m.pathFor(agentID)

	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("worktree path %s exists and is not a directory", path)
		}
		// Stale from a prior crash: best-effort git deregister, then wipe.
		_ = m.git.WorktreeUnlock(path)
		_ = m.git.WorktreeRemoveOptionalForce(path, true)
		if err := os.RemoveAll(path); err != nil {
			return "", fmt.Errorf("remove stale worktree %s: %w", path, err)
		}
		_ = m.git.WorktreePruneExpireNow()
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat worktree path %s: %w", path, err)
	}

	if err := os.MkdirAll(m.worktreeRoot(), 0o755); err != nil {
		return "", fmt.Errorf("create worktree root: %w", err)
	}

	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return "", fmt.Errorf("check branch %s: %w", branch, err)
	}

	if exists {
		err = m.git.WorktreeAdd(path, branch)
	} else {
		err = m.git.WorktreeAddNewBranch(path, branch)
	}
	if err != nil {
		// Roll back any half-populated directory left by a failed add.
		_ = os.RemoveAll(path)
		return "", fmt.Errorf("create worktree for %s on %s: %w", agentID, branch, err)
	}

	return path, nil
}

// RemoveWorktree removes the filesystem directory and de-registers the
// worktree from git. Idempotent: removing an already-absent worktree
// succeeds.
func (m *Manager) RemoveWorktree(agentID models.AgentID) error {
	lock := m.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	path := m.pathFor(agentID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	_ = m.git.WorktreeUnlock(path)
	if err := m.git.WorktreeRemoveOptionalForce(path, true); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree %s: git remove failed (%v), filesystem removal failed: %w", path, err, rmErr)
		}
	}
	_ = os.RemoveAll(path)
	_ = m.git.WorktreePruneExpireNow()
	return nil
}

// ListWorktrees returns every worktree the manager currently tracks on
// disk, derived from `git worktree list --porcelain` filtered to entries
// under this manager's root.
func (m *Manager) ListWorktrees() ([]Entry, error) {
	out, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	root := m.worktreeRoot()
	var entries []Entry
	var current *Entry
	flush := func() {
		if current != nil && strings.HasPrefix(current.Path, root) {
			entries = append(entries, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(out, "\n") {
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			path := strings.TrimPrefix(line, "worktree ")
			agentID := models.AgentID(filepath.Base(path))
			current = &Entry{Path: path, AgentID: agentID}
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()

	return entries, nil
}

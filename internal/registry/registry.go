// Package registry implements the Branch Registry: the authoritative map
// of {branch -> active assignments}, its exclusion invariant, and its
// write-temp-then-rename persistence.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/mnemosyne/core/pkg/models"
)

// ErrConflict is returned by AssignBranch when the requested assignment
// would violate the registry's mode-exclusion invariant.
type ErrConflict struct {
	Branch string
	Reason string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("branch %q: %s", e.Branch, e.Reason)
}

// ErrAlreadyAssigned is returned by AssignBranch when the agent already
// holds an active assignment elsewhere.
var ErrAlreadyAssigned = fmt.Errorf("agent already has an active assignment")

// position locates an assignment for O(1) release: a secondary index
// from agent_id to (branch, position).
type position struct {
	branch string
	index  int
}

// Registry is the Orchestrator's exclusively-owned Branch Registry.
type Registry struct {
	mu          sync.RWMutex
	byBranch    map[string][]*models.BranchAssignment
	byAgent     map[models.AgentID]position
	persistPath string
	ttl         time.Duration
}

// New creates an empty registry. TTL is used by LoadFrom to drop stale
// entries; zero disables TTL-based pruning.
func New(ttl time.Duration) *Registry {
	return &Registry{
		byBranch: make(map[string][]*models.BranchAssignment),
		byAgent:  make(map[models.AgentID]position),
		ttl:      ttl,
	}
}

// AssignBranch inserts an assignment if it doesn't violate the registry's
// mode-exclusion invariant and the agent has no other active assignment.
// Persists immediately if persistence is enabled; every mutation
// persists, not just assignment.
func (r *Registry) AssignBranch(agentID models.AgentID, branch string, intent models.AssignmentIntent, mode models.CoordinationMode, declaredPaths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byAgent[agentID]; exists {
		return ErrAlreadyAssigned
	}

	existing := r.byBranch[branch]
	if err := checkModeCompatibility(branch, mode, existing); err != nil {
		return err
	}

	now := time.Now()
	assignment := &models.BranchAssignment{
		AgentID:       agentID,
		Branch:        branch,
		Intent:        intent,
		Mode:          mode,
		DeclaredPaths: declaredPaths,
		AssignedAt:    now,
		HeartbeatAt:   now,
	}

	r.byBranch[branch] = append(r.byBranch[branch], assignment)
	r.byAgent[agentID] = position{branch: branch, index: len(r.byBranch[branch]) - 1}

	return r.persistLocked()
}

// checkModeCompatibility implements the mode conflict semantics:
// Isolated rejects if anything exists; Shared rejects Isolated or
// Cooperative; Cooperative rejects Isolated or Shared; same-mode accepted.
func checkModeCompatibility(branch string, mode models.CoordinationMode, existing []*models.BranchAssignment) error {
	if len(existing) == 0 {
		return nil
	}
	switch mode {
	case models.ModeIsolated:
		return &ErrConflict{Branch: branch, Reason: "isolated assignment requires an empty branch"}
	case models.ModeShared:
		for _, a := range existing {
			if a.Mode == models.ModeIsolated {
				return &ErrConflict{Branch: branch, Reason: "shared assignment conflicts with existing isolated assignment"}
			}
			if a.Mode == models.ModeCooperative {
				return &ErrConflict{Branch: branch, Reason: "shared assignment conflicts with existing cooperative assignment"}
			}
		}
	case models.ModeCooperative:
		for _, a := range existing {
			if a.Mode != models.ModeCooperative {
				return &ErrConflict{Branch: branch, Reason: "cooperative assignment requires all-cooperative branch"}
			}
		}
	}
	return nil
}

// ReleaseAssignment removes the agent's active assignment, if present.
// Idempotent. Persists on every call when persistence is enabled (even
// a no-op release re-persists the unchanged state, which is harmless and
// keeps the on-disk file's UpdatedAt fresh).
func (r *Registry) ReleaseAssignment(agentID models.AgentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.byAgent[agentID]
	if !ok {
		return r.persistLocked()
	}

	list := r.byBranch[pos.branch]
	list = append(list[:pos.index], list[pos.index+1:]...)
	r.byBranch[pos.branch] = list
	delete(r.byAgent, agentID)

	// Reindex positions after the removed slot.
	for i := pos.index; i < len(list); i++ {
		r.byAgent[list[i].AgentID] = position{branch: pos.branch, index: i}
	}

	if len(r.byBranch[pos.branch]) == 0 {
		delete(r.byBranch, pos.branch)
	}

	return r.persistLocked()
}

// GetAssignments returns a read-only snapshot of assignments on a branch.
// May include stale entries if called mid-cleanup.
func (r *Registry) GetAssignments(branch string) []models.BranchAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing := r.byBranch[branch]
	out := make([]models.BranchAssignment, len(existing))
	for i, a := range existing {
		out[i] = *a
	}
	return out
}

// Heartbeat updates the heartbeat timestamp for an agent's assignment.
func (r *Registry) Heartbeat(agentID models.AgentID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.byAgent[agentID]
	if !ok {
		return
	}
	r.byBranch[pos.branch][pos.index].HeartbeatAt = at
}

// ExpireStale releases every assignment whose heartbeat is older than the
// registry's configured TTL as of now, returning the agents released. A
// zero TTL disables expiry and this is a no-op. This is the Evolution
// Scheduler's link-decay hook: branch assignments are the "links" between
// agents and branches, and a dead agent's link should decay rather than
// hold a branch forever.
func (r *Registry) ExpireStale(now time.Time) []models.AgentID {
	if r.ttl <= 0 {
		return nil
	}

	r.mu.Lock()
	var stale []models.AgentID
	for agentID, pos := range r.byAgent {
		assignment := r.byBranch[pos.branch][pos.index]
		if now.Sub(assignment.HeartbeatAt) > r.ttl {
			stale = append(stale, agentID)
		}
	}
	r.mu.Unlock()

	for _, agentID := range stale {
		_ = r.ReleaseAssignment(agentID)
	}
	return stale
}

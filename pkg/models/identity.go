// Package models holds the core data types shared across the orchestration
// engine: agent identities, work items, branch assignments, file
// modifications, conflicts, coordination messages, and evolution job runs.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentID is an opaque, globally unique identifier for an agent, stable
// for the lifetime of a worktree assignment.
type AgentID string

// NewAgentID generates a fresh AgentID.
func NewAgentID() AgentID {
	return AgentID(uuid.NewString())
}

// MemoryID identifies a memory record owned by the external storage backend.
type MemoryID string

// AgentRole is the closed enumeration of roles an agent may hold.
type AgentRole string

const (
	RoleCoordinator AgentRole = "coordinator"
	RolePlanner     AgentRole = "planner"
	RoleExecutor    AgentRole = "executor"
	RoleReviewer    AgentRole = "reviewer"
	RoleOptimizer   AgentRole = "optimizer"
)

// Valid reports whether r is a known role.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleCoordinator, RolePlanner, RoleExecutor, RoleReviewer, RoleOptimizer:
		return true
	default:
		return false
	}
}

// AgentIdentity is created when an agent is spawned and is immutable
// thereafter except for Branch, which is reassignable.
type AgentIdentity struct {
	ID            AgentID   `json:"id"`
	Role          AgentRole `json:"role"`
	Namespace     string    `json:"namespace"`
	Branch        string    `json:"branch"`
	WorkingDir    string    `json:"working_dir"`
	SpawnedAt     time.Time `json:"spawned_at"`
	ParentID      AgentID   `json:"parent_id,omitempty"`
	IsCoordinator bool      `json:"is_coordinator"`
}

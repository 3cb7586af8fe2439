package models

import "time"

// AssignmentIntent describes how much of a branch an assignment touches.
type AssignmentIntent string

const (
	IntentFullBranch AssignmentIntent = "full_branch"
	IntentSubset     AssignmentIntent = "subset"
	IntentReadOnly   AssignmentIntent = "read_only"
)

// CoordinationMode governs which other assignments may coexist on the
// same branch (see RegistryInvariant in the Branch Registry).
type CoordinationMode string

const (
	ModeIsolated    CoordinationMode = "isolated"
	ModeShared      CoordinationMode = "shared"
	ModeCooperative CoordinationMode = "cooperative"
)

// Valid reports whether m is a known coordination mode.
func (m CoordinationMode) Valid() bool {
	switch m {
	case ModeIsolated, ModeShared, ModeCooperative:
		return true
	default:
		return false
	}
}

// BranchAssignment records that an agent currently owns (some portion of)
// a branch under a given coordination mode. Lifetime: from AssignBranch
// to ReleaseAssignment or orchestrator shutdown.
type BranchAssignment struct {
	AgentID      AgentID          `json:"agent_id"`
	Branch       string           `json:"branch"`
	Intent       AssignmentIntent `json:"intent"`
	Mode         CoordinationMode `json:"mode"`
	DeclaredPaths []string        `json:"declared_paths,omitempty"`
	AssignedAt   time.Time        `json:"assigned_at"`
	HeartbeatAt  time.Time        `json:"heartbeat_at"`
}

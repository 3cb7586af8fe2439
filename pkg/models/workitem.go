package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkItemID is a 128-bit UUID identifying a unit of scheduled work.
type WorkItemID string

// NewWorkItemID generates a fresh WorkItemID.
func NewWorkItemID() WorkItemID {
	return WorkItemID(uuid.NewString())
}

// WorkItemState is the agent state machine described for a WorkItem.
type WorkItemState string

const (
	StateIdle          WorkItemState = "idle"
	StateReady         WorkItemState = "ready"
	StateActive        WorkItemState = "active"
	StateWaiting       WorkItemState = "waiting"
	StateBlocked       WorkItemState = "blocked"
	StatePendingReview WorkItemState = "pending_review"
	StateComplete      WorkItemState = "complete"
	StateError         WorkItemState = "error"
)

// Valid reports whether s is a known state.
func (s WorkItemState) Valid() bool {
	switch s {
	case StateIdle, StateReady, StateActive, StateWaiting, StateBlocked,
		StatePendingReview, StateComplete, StateError:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a terminal state (Complete or Error).
func (s WorkItemState) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Phase is one of four ordered stages from prompt to artefact, plus a
// terminal Complete phase. Only adjacent forward transitions are legal.
type Phase string

const (
	PhasePromptToSpec     Phase = "prompt_to_spec"
	PhaseSpecToFullSpec   Phase = "spec_to_full_spec"
	PhaseFullSpecToPlan   Phase = "full_spec_to_plan"
	PhasePlanToArtifacts  Phase = "plan_to_artifacts"
	PhaseComplete         Phase = "complete"
)

// phaseOrder defines the total order phases progress through.
var phaseOrder = []Phase{
	PhasePromptToSpec,
	PhaseSpecToFullSpec,
	PhaseFullSpecToPlan,
	PhasePlanToArtifacts,
	PhaseComplete,
}

// Next returns the phase immediately after p, or ("", false) if p is
// terminal or unknown.
func (p Phase) Next() (Phase, bool) {
	for i, candidate := range phaseOrder {
		if candidate == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

// Index returns p's position in the phase order, or -1 if unknown.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// WorkItem is a unit of scheduled work carried through the dependency
// graph, phase protocol, and review cycle.
type WorkItem struct {
	ID             WorkItemID    `json:"id"`
	Description    string        `json:"description"`
	AgentRole      AgentRole     `json:"agent_role"`
	State          WorkItemState `json:"state"`
	Phase          Phase         `json:"phase"`
	Priority       int           `json:"priority"` // 0..10
	Dependencies   []WorkItemID  `json:"dependencies"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	Error          string        `json:"error,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	AssignedBranch string        `json:"assigned_branch,omitempty"`
	FileScope      []string      `json:"file_scope,omitempty"`

	ReviewFeedback   []string   `json:"review_feedback,omitempty"`
	SuggestedTests   []string   `json:"suggested_tests,omitempty"`
	ReviewAttempt    uint32     `json:"review_attempt"`
	ExecutionMemoryIDs []MemoryID `json:"execution_memory_ids,omitempty"`
	ConsolidatedContextID MemoryID `json:"consolidated_context_id,omitempty"`

	// OriginalIntent is set at construction and never modified.
	OriginalIntent string `json:"original_intent"`

	EstimatedContextTokens int64 `json:"estimated_context_tokens"`

	// BlockedReason records why the item is in state Blocked or Waiting.
	BlockedReason string `json:"blocked_reason,omitempty"`
}

// NewWorkItem constructs a WorkItem with OriginalIntent pinned to the
// description at creation time, as required by the WorkItem invariants.
func NewWorkItem(description string, role AgentRole, priority int, deps []WorkItemID) *WorkItem {
	now := time.Now()
	return &WorkItem{
		ID:             NewWorkItemID(),
		Description:    description,
		AgentRole:      role,
		State:          StateIdle,
		Phase:          PhasePromptToSpec,
		Priority:       priority,
		Dependencies:   deps,
		CreatedAt:      now,
		OriginalIntent: description,
	}
}

// IsTimedOut reports whether the item has been Active longer than its
// configured Timeout.
func (w *WorkItem) IsTimedOut(now time.Time) bool {
	if w.StartedAt == nil || w.Timeout <= 0 {
		return false
	}
	return now.Sub(*w.StartedAt) > w.Timeout
}

// MarkStarted records StartedAt exactly once, on first entry to Active.
func (w *WorkItem) MarkStarted(now time.Time) {
	if w.StartedAt == nil {
		t := now
		w.StartedAt = &t
	}
}

// MarkCompletedAt records CompletedAt exactly once, on first entry to a
// terminal state.
func (w *WorkItem) MarkCompletedAt(now time.Time) {
	if w.CompletedAt == nil {
		t := now
		w.CompletedAt = &t
	}
}

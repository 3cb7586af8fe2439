// Package orchestrator manages the coordination of agents and workflows.
package orchestrator

import (
	"time"

	"github.com/mnemosyne/core/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventItemQueued indicates a work item is ready and queued for dispatch.
	EventItemQueued EventType = "item_queued"
	// EventItemStarted indicates a work item has started execution.
	EventItemStarted EventType = "item_started"
	// EventItemCompleted indicates a work item completed successfully.
	EventItemCompleted EventType = "item_completed"
	// EventItemFailed indicates a work item failed.
	EventItemFailed EventType = "item_failed"
	// EventItemBlocked indicates the deadlock detector marked an item.
	EventItemBlocked EventType = "item_blocked"
	// EventReviewRejected indicates a reviewer rejected an item, which was re-enqueued.
	EventReviewRejected EventType = "review_rejected"
	// EventPhaseAdvanced indicates the queue transitioned to the next phase.
	EventPhaseAdvanced EventType = "phase_advanced"
	// EventConflictDetected indicates a fresh cross-agent file conflict.
	EventConflictDetected EventType = "conflict_detected"
	// EventPeerJoined indicates a sibling orchestrator registered via the coordinator.
	EventPeerJoined EventType = "peer_joined"
	// EventSessionDone indicates all work items reached a terminal state.
	EventSessionDone EventType = "session_done"
)

// Event is the record emitted to the external event sink. Operators see
// the same information via logs.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// WorkItemID is the id of the related item, if applicable.
	WorkItemID models.WorkItemID
	// AgentID is the id of the related agent, if applicable.
	AgentID models.AgentID
	// Phase is the queue phase at emission time.
	Phase models.Phase
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventSink receives orchestrator events. Implementations must be
// fire-and-forget: Emit is called inline from the orchestrator loop and
// must never block.
type EventSink interface {
	Emit(evt Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(Event) {}

// emitEvent sends evt to the configured sink (if any) and mirrors it to
// the debug log.
func (o *Orchestrator) emitEvent(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	o.logger.Log("[event] %s item=%s agent=%s msg=%s err=%v", evt.Type, evt.WorkItemID, evt.AgentID, evt.Message, evt.Error)
	if o.sink != nil {
		o.sink.Emit(evt)
	}
}

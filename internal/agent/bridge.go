// Package agent defines the boundary between the scheduler and the
// things that actually execute work. The core decides what runs; an
// AgentBridge decides how. Nothing in this package (or anywhere in the
// core) embeds prompt templates or LLM-specific parsing; those belong
// to the external collaborator behind the bridge.
package agent

import (
	"context"
	"time"

	"github.com/mnemosyne/core/pkg/models"
)

// ExecutionResult is what a bridge returns for one work item.
type ExecutionResult struct {
	WorkItemID models.WorkItemID
	AgentID    models.AgentID
	Success    bool
	// Output is the bridge's raw final output, passed to the reviewer
	// and recorded for diagnostics. The core never parses it.
	Output string
	// Err holds the failure when Success is false.
	Err error
	// Duration is wall time spent executing.
	Duration time.Duration
	// ModifiedPaths lists files the agent reported touching, fed into
	// the File Tracker by the orchestrator.
	ModifiedPaths []string
	// MemoryIDs are memory records the execution produced, recorded on
	// the work item for later consolidation.
	MemoryIDs []models.MemoryID
}

// AgentBridge executes a work item. Implementations run external
// processes or call LLM services; the core only sees this contract.
// Execute must honor ctx cancellation and deadlines.
type AgentBridge interface {
	Execute(ctx context.Context, item models.WorkItem) (ExecutionResult, error)
}

// ReviewDecision is a reviewer's verdict on a finished work item.
type ReviewDecision struct {
	Approved       bool
	Feedback       []string
	SuggestedTests []string
}

// Reviewer evaluates a finished execution. A nil Reviewer on the
// orchestrator means items complete without review.
type Reviewer interface {
	Review(ctx context.Context, item models.WorkItem, result ExecutionResult) (ReviewDecision, error)
}

// BridgeFunc adapts a plain function to the AgentBridge interface.
type BridgeFunc func(ctx context.Context, item models.WorkItem) (ExecutionResult, error)

// Execute implements AgentBridge.
func (f BridgeFunc) Execute(ctx context.Context, item models.WorkItem) (ExecutionResult, error) {
	return f(ctx, item)
}

// ReviewerFunc adapts a plain function to the Reviewer interface.
type ReviewerFunc func(ctx context.Context, item models.WorkItem, result ExecutionResult) (ReviewDecision, error)

// Review implements Reviewer.
func (f ReviewerFunc) Review(ctx context.Context, item models.WorkItem, result ExecutionResult) (ReviewDecision, error) {
	return f(ctx, item, result)
}

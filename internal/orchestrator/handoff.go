package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/mnemosyne/core/internal/coordinator"
	"github.com/mnemosyne/core/pkg/models"
)

// EditIntent is the handoff record the orchestrator writes for the
// external editor collaborator. Presence of the file signals readiness.
type EditIntent struct {
	WorkItemID  models.WorkItemID `json:"work_item_id"`
	AgentID     models.AgentID    `json:"agent_id"`
	Branch      string            `json:"branch"`
	Paths       []string          `json:"paths,omitempty"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"created_at"`
}

// EditResult is written by the editor collaborator once it has acted on
// an EditIntent.
type EditResult struct {
	WorkItemID    models.WorkItemID `json:"work_item_id"`
	Success       bool              `json:"success"`
	Message       string            `json:"message,omitempty"`
	ModifiedPaths []string          `json:"modified_paths,omitempty"`
	CompletedAt   time.Time         `json:"completed_at"`
}

const (
	editIntentFile = "edit-intent.json"
	editResultFile = "edit-result.json"

	// handoffPollInterval bounds how stale a reader's view of the
	// handoff directory can be.
	handoffPollInterval = 200 * time.Millisecond
)

// RequestEdit writes edit-intent.json into sessionsDir (pretty-printed,
// atomically) and blocks until the editor collaborator writes
// edit-result.json or ctx expires. Both files are removed before
// returning so the next handoff starts clean.
func (o *Orchestrator) RequestEdit(ctx context.Context, sessionsDir string, intent EditIntent) (EditResult, error) {
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}

	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return EditResult{}, &IOError{Op: "create sessions dir", Err: err}
	}

	intentPath := filepath.Join(sessionsDir, editIntentFile)
	resultPath := filepath.Join(sessionsDir, editResultFile)

	data, err := json.MarshalIndent(intent, "", "  ")
	if err != nil {
		return EditResult{}, fmt.Errorf("marshal edit intent: %w", err)
	}
	if err := renameio.WriteFile(intentPath, data, 0o644); err != nil {
		return EditResult{}, &IOError{Op: "write edit intent", Err: err}
	}

	var result EditResult
	if err := coordinator.WaitForHandoffFile(ctx, resultPath, handoffPollInterval, &result); err != nil {
		_ = os.Remove(intentPath)
		return EditResult{}, err
	}

	_ = os.Remove(intentPath)
	_ = os.Remove(resultPath)
	return result, nil
}

package agent

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	iexec "github.com/mnemosyne/core/internal/exec"
	"github.com/mnemosyne/core/pkg/models"
)

// ProcessBridge runs each work item through an external command, the
// narrowest possible executor contract: exit code 0 is success, any
// non-zero exit is propagated as the item's error. The work item's
// description is passed as the final argument and its assigned worktree
// (if any) becomes the working directory.
type ProcessBridge struct {
	runner  iexec.CommandRunner
	command string
	args    []string
	// WorkDirFor resolves the working directory for an item; nil means
	// the runner's default.
	WorkDirFor func(item models.WorkItem) string
}

// NewProcessBridge creates a bridge that executes command with args
// (plus the item description appended) via runner.
func NewProcessBridge(runner iexec.CommandRunner, command string, args ...string) *ProcessBridge {
	return &ProcessBridge{runner: runner, command: command, args: args}
}

// Execute runs the configured command for item. The returned
// ExecutionResult carries the command's combined output either way;
// a non-zero exit sets Success=false and Err rather than failing the
// call itself, so the orchestrator can apply its retry policy.
func (b *ProcessBridge) Execute(ctx context.Context, item models.WorkItem) (ExecutionResult, error) {
	start := time.Now()

	workDir := ""
	if b.WorkDirFor != nil {
		workDir = b.WorkDirFor(item)
	}

	args := append(append([]string(nil), b.args...), item.Description)
	out, err := b.runner.Run(ctx, workDir, b.command, args...)

	result := ExecutionResult{
		WorkItemID: item.ID,
		Output:     strings.TrimSpace(string(out)),
		Duration:   time.Since(start),
	}

	if ctx.Err() != nil {
		result.Err = ctx.Err()
		return result, ctx.Err()
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.Err = fmt.Errorf("agent command exited with code %d", exitErr.ExitCode())
		} else {
			result.Err = err
		}
		return result, nil
	}

	result.Success = true
	return result, nil
}

var _ AgentBridge = (*ProcessBridge)(nil)

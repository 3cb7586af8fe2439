package evolution

import (
	"context"
	"testing"
	"time"

	"github.com/mnemosyne/core/internal/registry"
	"github.com/mnemosyne/core/internal/tracker"
	"github.com/mnemosyne/core/pkg/models"
)

func TestConsolidationJob_PrunesStaleEntries(t *testing.T) {
	tr := tracker.New()
	tr.TrackModification(models.AgentID("a1"), "/repo/stale.go", models.Modified)

	job := NewConsolidationJob(tr, 0, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	due, _ := job.ShouldRun(context.Background())
	if !due {
		t.Fatal("expected job to be due with zero interval")
	}

	report, err := job.Run(context.Background(), JobConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ChangesMade != 1 {
		t.Errorf("ChangesMade = %d, want 1", report.ChangesMade)
	}

	if conflicts := tr.GetActiveConflicts(); len(conflicts) != 0 {
		t.Errorf("expected no conflicts after prune, got %d", len(conflicts))
	}
}

func TestLinkDecayJob_ReleasesStaleAssignments(t *testing.T) {
	reg := registry.New(time.Millisecond)
	if err := reg.AssignBranch(models.AgentID("a1"), "feature/x", models.IntentFullBranch, models.ModeIsolated, nil); err != nil {
		t.Fatalf("AssignBranch: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	job := NewLinkDecayJob(reg, 0)
	report, err := job.Run(context.Background(), JobConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ChangesMade != 1 {
		t.Errorf("ChangesMade = %d, want 1", report.ChangesMade)
	}
	if assignments := reg.GetAssignments("feature/x"); len(assignments) != 0 {
		t.Errorf("expected assignment released, got %d remaining", len(assignments))
	}
}

func TestImportanceRecalibrationJob_ReportsReadyCount(t *testing.T) {
	job := NewImportanceRecalibrationJob(func() int { return 3 }, 0)
	report, err := job.Run(context.Background(), JobConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.MemoriesProcessed != 3 {
		t.Errorf("MemoriesProcessed = %d, want 3", report.MemoriesProcessed)
	}
}

type fakeHistory struct {
	runs []models.JobRun
}

func (f fakeHistory) GetJobHistory(jobName string, limit int) ([]models.JobRun, error) {
	if limit > 0 && limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func TestArchivalJob_ReportsOverflow(t *testing.T) {
	runs := make([]models.JobRun, 5)
	job := NewArchivalJob(fakeHistory{runs: runs}, 3, 0)

	report, err := job.Run(context.Background(), JobConfig{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ChangesMade != 2 {
		t.Errorf("overflow = %d, want 2", report.ChangesMade)
	}
}

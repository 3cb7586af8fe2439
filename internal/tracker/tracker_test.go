package tracker

import (
	"testing"

	"github.com/mnemosyne/core/pkg/models"
)

func TestTrackModification_ReadYourWrites(t *testing.T) {
	tr := New()
	tr.TrackModification(models.AgentID("a"), "/repo/x.go", models.Modified)
	tr.TrackModification(models.AgentID("b"), "/repo/x.go", models.Modified)

	conflicts := tr.GetActiveConflicts()
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}
	if !conflicts[0].Agents[models.AgentID("a")] || !conflicts[0].Agents[models.AgentID("b")] {
		t.Errorf("conflict missing expected agents: %+v", conflicts[0])
	}
}

func TestGetActiveConflicts_SingleAgentNoConflict(t *testing.T) {
	tr := New()
	tr.TrackModification(models.AgentID("a"), "/repo/x.go", models.Created)

	if conflicts := tr.GetActiveConflicts(); len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %d", len(conflicts))
	}
}

func TestClearAgent_RemovesContributions(t *testing.T) {
	tr := New()
	tr.TrackModification(models.AgentID("a"), "/repo/x.go", models.Modified)
	tr.TrackModification(models.AgentID("b"), "/repo/x.go", models.Modified)

	tr.ClearAgent(models.AgentID("a"))

	if conflicts := tr.GetActiveConflicts(); len(conflicts) != 0 {
		t.Fatalf("expected conflict to resolve after release, got %d", len(conflicts))
	}
}

func TestDetector_ThrottlesUnchangedSet(t *testing.T) {
	tr := New()
	det := NewDetector(tr)

	tr.TrackModification(models.AgentID("a"), "/repo/x.go", models.Modified)
	tr.TrackModification(models.AgentID("b"), "/repo/x.go", models.Modified)

	first := det.Poll()
	if len(first) != 1 {
		t.Fatalf("first poll: len = %d, want 1", len(first))
	}

	second := det.Poll()
	if len(second) != 0 {
		t.Fatalf("second poll should be throttled, got %d", len(second))
	}

	// A new agent joins the same path: the set changed, so it re-emits.
	tr.TrackModification(models.AgentID("c"), "/repo/x.go", models.Modified)
	third := det.Poll()
	if len(third) != 1 {
		t.Fatalf("third poll after set change: len = %d, want 1", len(third))
	}
}

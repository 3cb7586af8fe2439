package registry

import (
	"path/filepath"
	"testing"

	"github.com/mnemosyne/core/pkg/models"
)

func TestIsolatedVsIsolatedRejection(t *testing.T) {
	r := New(0)
	if err := r.AssignBranch("A", "main", models.IntentFullBranch, models.ModeIsolated, nil); err != nil {
		t.Fatalf("first assignment should succeed: %v", err)
	}
	err := r.AssignBranch("B", "main", models.IntentFullBranch, models.ModeIsolated, nil)
	if err == nil {
		t.Fatal("expected conflict error for second isolated assignment")
	}
	got := r.GetAssignments("main")
	if len(got) != 1 || got[0].AgentID != "A" {
		t.Fatalf("registry should still contain exactly {A}, got %v", got)
	}
}

func TestSharedRejectsIsolated(t *testing.T) {
	r := New(0)
	if err := r.AssignBranch("A", "main", models.IntentFullBranch, models.ModeIsolated, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := r.AssignBranch("B", "main", models.IntentSubset, models.ModeShared, nil); err == nil {
		t.Fatal("expected shared assignment to reject against existing isolated")
	}
}

func TestCooperativeCoexistsOnlyWithCooperative(t *testing.T) {
	r := New(0)
	if err := r.AssignBranch("A", "main", models.IntentSubset, models.ModeCooperative, nil); err != nil {
		t.Fatalf("first cooperative: %v", err)
	}
	if err := r.AssignBranch("B", "main", models.IntentSubset, models.ModeCooperative, nil); err != nil {
		t.Fatalf("second cooperative should succeed: %v", err)
	}
	if err := r.AssignBranch("C", "main", models.IntentSubset, models.ModeShared, nil); err == nil {
		t.Fatal("expected shared to reject against cooperative branch")
	}
}

func TestReleaseAssignmentIdempotent(t *testing.T) {
	r := New(0)
	if err := r.AssignBranch("A", "main", models.IntentFullBranch, models.ModeIsolated, nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := r.ReleaseAssignment("A"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := r.ReleaseAssignment("A"); err != nil {
		t.Fatalf("idempotent release should not error: %v", err)
	}
	if got := r.GetAssignments("main"); len(got) != 0 {
		t.Fatalf("expected no assignments after release, got %v", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.json")

	r := New(0)
	if err := r.EnablePersistence(path); err != nil {
		t.Fatalf("enable persistence: %v", err)
	}
	if err := r.AssignBranch("A", "feature", models.IntentFullBranch, models.ModeIsolated, []string{"src/"}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	r2 := New(0)
	if err := r2.LoadFrom(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := r2.GetAssignments("feature")
	if len(got) != 1 || got[0].AgentID != "A" {
		t.Fatalf("expected reloaded assignment for A, got %v", got)
	}
}

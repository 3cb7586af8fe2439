package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/mnemosyne/core/pkg/models"
)

// registrySchemaVersion is bumped whenever a field's meaning changes;
// new fields get defaults rather than reusing old field names.
const registrySchemaVersion = 1

// registryEnvelope is the on-disk, schema-versioned representation of the
// Branch Registry. Unknown fields are ignored by encoding/json by
// default, so older builds can read files written by newer ones.
type registryEnvelope struct {
	Version     int                                    `json:"version"`
	UpdatedAt   time.Time                               `json:"updated_at"`
	Assignments map[string][]models.BranchAssignment `json:"assignments"`
}

// EnablePersistence binds a file path; subsequent mutations atomically
// rewrite the file (write-temp-then-rename, via renameio).
func (r *Registry) EnablePersistence(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistPath = path
	return r.persistLocked()
}

// persistLocked writes the current registry state to disk if persistence
// is enabled. Callers must hold r.mu.
func (r *Registry) persistLocked() error {
	if r.persistPath == "" {
		return nil
	}

	env := registryEnvelope{
		Version:     registrySchemaVersion,
		UpdatedAt:   time.Now(),
		Assignments: make(map[string][]models.BranchAssignment, len(r.byBranch)),
	}
	for branch, list := range r.byBranch {
		out := make([]models.BranchAssignment, len(list))
		for i, a := range list {
			out[i] = *a
		}
		env.Assignments[branch] = out
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.persistPath), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}

	if err := renameio.WriteFile(r.persistPath, data, 0o644); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}
	return nil
}

// LoadFrom rebuilds the registry from a previously persisted file.
// Unknown fields are ignored; assignments whose heartbeat is older than
// the registry's configured TTL are dropped (TTL of zero disables this).
func (r *Registry) LoadFrom(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read registry file: %w", err)
	}

	var env registryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parse registry file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byBranch = make(map[string][]*models.BranchAssignment)
	r.byAgent = make(map[models.AgentID]position)

	now := time.Now()
	for branch, list := range env.Assignments {
		var kept []*models.BranchAssignment
		for i := range list {
			a := list[i]
			if r.ttl > 0 && now.Sub(a.HeartbeatAt) > r.ttl {
				continue
			}
			kept = append(kept, &a)
		}
		if len(kept) == 0 {
			continue
		}
		r.byBranch[branch] = kept
		for i, a := range kept {
			r.byAgent[a.AgentID] = position{branch: branch, index: i}
		}
	}

	r.persistPath = path
	return nil
}

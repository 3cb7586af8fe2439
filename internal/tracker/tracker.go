// Package tracker implements the File Tracker and Conflict Detector: a
// thread-safe, append-mostly log of per-agent file
// modifications whose reverse index drives the active-conflict set.
package tracker

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemosyne/core/pkg/models"
)

// Tracker records file modifications per agent and derives the active
// conflict set: any path touched by two or more agents that have not
// released their assignment. A single RWMutex guards both indexes, as
// in the registry.
type Tracker struct {
	mu sync.RWMutex

	// paths maps a canonicalised path to the set of agents with an active
	// modification on it, plus first/last-seen bookkeeping.
	paths map[string]*pathState

	// byAgent maps an agent to the canonical paths it has touched, so
	// ClearAgent can remove its contributions in one pass.
	byAgent map[models.AgentID]map[string]bool
}

type pathState struct {
	agents    map[models.AgentID]bool
	firstSeen time.Time
	lastSeen  time.Time
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		paths:   make(map[string]*pathState),
		byAgent: make(map[models.AgentID]map[string]bool),
	}
}

// canonicalise resolves a path to its stable identity: symlink-resolved
// and case-normalised on case-insensitive filesystems. Go's runtime.GOOS
// stands in for a filesystem capability probe (Darwin and Windows default
// to case-insensitive).
func canonicalise(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = filepath.Clean(path)
	}
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		resolved = strings.ToLower(resolved)
	}
	return resolved
}

// TrackModification records a modification event and updates the reverse
// index. A modification recorded before a call to GetActiveConflicts is
// guaranteed to be reflected in that call's result (read-your-writes).
func (t *Tracker) TrackModification(agentID models.AgentID, path string, kind models.ModificationKind) {
	canonical := canonicalise(path)
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.paths[canonical]
	if !ok {
		ps = &pathState{agents: make(map[models.AgentID]bool), firstSeen: now}
		t.paths[canonical] = ps
	}
	ps.agents[agentID] = true
	ps.lastSeen = now

	agentPaths, ok := t.byAgent[agentID]
	if !ok {
		agentPaths = make(map[string]bool)
		t.byAgent[agentID] = agentPaths
	}
	agentPaths[canonical] = true
}

// GetActiveConflicts returns one Conflict per path whose active-agent set
// has size >= 2, deduplicated per path.
func (t *Tracker) GetActiveConflicts() []models.Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var conflicts []models.Conflict
	for path, ps := range t.paths {
		if len(ps.agents) < 2 {
			continue
		}
		agents := make(map[models.AgentID]bool, len(ps.agents))
		for id := range ps.agents {
			agents[id] = true
		}
		conflicts = append(conflicts, models.Conflict{
			Path:      path,
			Agents:    agents,
			FirstSeen: ps.firstSeen,
			LastSeen:  ps.lastSeen,
		})
	}

	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Path < conflicts[j].Path })
	return conflicts
}

// ClearAgent removes every contribution the given agent made to any
// path's active set. Invoked on release.
func (t *Tracker) ClearAgent(agentID models.AgentID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for path := range t.byAgent[agentID] {
		if ps, ok := t.paths[path]; ok {
			delete(ps.agents, agentID)
			if len(ps.agents) == 0 {
				delete(t.paths, path)
			}
		}
	}
	delete(t.byAgent, agentID)
}

// PruneStale drops path entries last touched before cutoff, on the
// assumption that an agent holding one past that age crashed without
// calling ClearAgent. Returns the count removed. Used by the Evolution
// Scheduler's consolidation job to keep the index from growing unbounded
// across a long-running orchestrator process.
func (t *Tracker) PruneStale(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for path, ps := range t.paths {
		if ps.lastSeen.After(cutoff) {
			continue
		}
		for agentID := range ps.agents {
			delete(t.byAgent[agentID], path)
		}
		delete(t.paths, path)
		removed++
	}
	return removed
}

// ConflictKey identifies a reported conflict by path and the sorted set
// of agents involved, per the Conflict Detector's throttle semantics.
type ConflictKey string

// Key builds the (path, sorted agent set) throttle key for a conflict.
func Key(c models.Conflict) ConflictKey {
	ids := c.AgentIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return ConflictKey(c.Path + "|" + strings.Join(parts, ","))
}

// Detector wraps a Tracker and throttles re-emission: a conflict already
// reported for its current (path, agent set) key is not re-emitted until
// the set changes.
type Detector struct {
	tracker *Tracker

	mu       sync.Mutex
	reported map[ConflictKey]bool
}

// NewDetector wraps tracker with throttled conflict reporting.
func NewDetector(tracker *Tracker) *Detector {
	return &Detector{tracker: tracker, reported: make(map[ConflictKey]bool)}
}

// Poll returns the conflicts that have not yet been reported for their
// current agent set, marking them reported as a side effect.
func (d *Detector) Poll() []models.Conflict {
	active := d.tracker.GetActiveConflicts()

	d.mu.Lock()
	defer d.mu.Unlock()

	live := make(map[ConflictKey]bool, len(active))
	var fresh []models.Conflict
	for _, c := range active {
		key := Key(c)
		live[key] = true
		if !d.reported[key] {
			fresh = append(fresh, c)
		}
	}

	// Drop throttle entries for conflicts that no longer exist (the set
	// changed, e.g. shrank below 2 agents), so a future recurrence with
	// the same key is reported again rather than silently suppressed.
	for key := range d.reported {
		if !live[key] {
			delete(d.reported, key)
		}
	}
	for key := range live {
		d.reported[key] = true
	}

	return fresh
}

// Tracker exposes the wrapped Tracker for callers (e.g. the Notifier) that
// need the raw active-conflict set alongside throttled polling.
func (d *Detector) Tracker() *Tracker {
	return d.tracker
}

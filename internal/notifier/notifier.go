// Package notifier implements on-save, periodic, and session-end
// conflict notifications, built as a pure
// function of the current conflict set plus last-emission timestamps so
// no emission ever blocks the orchestrator.
package notifier

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mnemosyne/core/internal/tracker"
	"github.com/mnemosyne/core/pkg/models"
)

// EventType mirrors the orchestrator's own event-type idiom (a closed
// string enum), kept local so the notifier has no dependency on the
// orchestrator package.
type EventType string

const (
	EventOnSaveConflict   EventType = "conflict_on_save"
	EventPeriodicConflict EventType = "conflict_periodic"
	EventSessionSummary   EventType = "conflict_session_summary"
)

// Notification is the shape emitted to the event sink.
type Notification struct {
	Type      EventType
	AgentID   models.AgentID
	Path      string
	Peers     []models.AgentID
	Message   string
	Timestamp time.Time
}

// Config controls which emissions are enabled and at what cadence.
type Config struct {
	Enabled                 bool
	NotifyOnSave            bool
	PeriodicIntervalMinutes int
	SessionEndSummary       bool
}

// Notifier derives notifications from a Tracker's conflict set, rate
// limiting periodic emissions per agent.
type Notifier struct {
	cfg     Config
	tracker *tracker.Tracker

	mu             sync.Mutex
	lastPeriodic   map[models.AgentID]time.Time
	sessionTotal   int
	sessionSeen    map[tracker.ConflictKey]bool
}

// New creates a Notifier reading conflicts from t.
func New(cfg Config, t *tracker.Tracker) *Notifier {
	return &Notifier{
		cfg:          cfg,
		tracker:      t,
		lastPeriodic: make(map[models.AgentID]time.Time),
		sessionSeen:  make(map[tracker.ConflictKey]bool),
	}
}

// OnSave is called by an external file watcher with the path an agent
// just saved. It returns a notification iff the path is in an active
// conflict involving agentID, and nil otherwise. Always completes without
// blocking: it only reads the current conflict set.
func (n *Notifier) OnSave(agentID models.AgentID, path string) *Notification {
	if !n.cfg.Enabled || !n.cfg.NotifyOnSave {
		return nil
	}

	for _, c := range n.tracker.GetActiveConflicts() {
		if c.Path != path || !c.Agents[agentID] {
			continue
		}
		peers := peersOf(c, agentID)
		n.recordSeen(c)
		return &Notification{
			Type:      EventOnSaveConflict,
			AgentID:   agentID,
			Path:      path,
			Peers:     peers,
			Message:   fmt.Sprintf("%s is also editing %s; consider coordinating before merging", joinAgents(peers), path),
			Timestamp: time.Now(),
		}
	}
	return nil
}

// Periodic returns a summary notification for agentID if it has any
// active conflicts and at least PeriodicIntervalMinutes have elapsed
// since its last periodic notification (or none has been sent yet).
// Returns nil otherwise.
func (n *Notifier) Periodic(agentID models.AgentID, now time.Time) *Notification {
	if !n.cfg.Enabled || n.cfg.PeriodicIntervalMinutes <= 0 {
		return nil
	}

	var mine []models.Conflict
	for _, c := range n.tracker.GetActiveConflicts() {
		if c.Agents[agentID] {
			mine = append(mine, c)
		}
	}
	if len(mine) == 0 {
		return nil
	}

	n.mu.Lock()
	last, seen := n.lastPeriodic[agentID]
	interval := time.Duration(n.cfg.PeriodicIntervalMinutes) * time.Minute
	if seen && now.Sub(last) < interval {
		n.mu.Unlock()
		return nil
	}
	n.lastPeriodic[agentID] = now
	n.mu.Unlock()

	for _, c := range mine {
		n.recordSeen(c)
	}

	sort.Slice(mine, func(i, j int) bool { return mine[i].Path < mine[j].Path })
	return &Notification{
		Type:      EventPeriodicConflict,
		AgentID:   agentID,
		Peers:     uniquePeers(mine, agentID),
		Message:   fmt.Sprintf("%d active conflict(s) involving your changes", len(mine)),
		Timestamp: now,
	}
}

// SessionEndSummary aggregates the total distinct conflicts observed
// across the session, if enabled.
func (n *Notifier) SessionEndSummary(now time.Time) *Notification {
	if !n.cfg.Enabled || !n.cfg.SessionEndSummary {
		return nil
	}
	n.mu.Lock()
	total := n.sessionTotal
	n.mu.Unlock()

	return &Notification{
		Type:      EventSessionSummary,
		Message:   fmt.Sprintf("session observed %d distinct file conflict(s)", total),
		Timestamp: now,
	}
}

func (n *Notifier) recordSeen(c models.Conflict) {
	key := tracker.Key(c)
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.sessionSeen[key] {
		n.sessionSeen[key] = true
		n.sessionTotal++
	}
}

func peersOf(c models.Conflict, exclude models.AgentID) []models.AgentID {
	var peers []models.AgentID
	for id := range c.Agents {
		if id != exclude {
			peers = append(peers, id)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

func uniquePeers(conflicts []models.Conflict, exclude models.AgentID) []models.AgentID {
	set := make(map[models.AgentID]bool)
	for _, c := range conflicts {
		for _, p := range peersOf(c, exclude) {
			set[p] = true
		}
	}
	var peers []models.AgentID
	for id := range set {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

func joinAgents(ids []models.AgentID) string {
	if len(ids) == 0 {
		return "another agent"
	}
	out := string(ids[0])
	for _, id := range ids[1:] {
		out += ", " + string(id)
	}
	return out
}

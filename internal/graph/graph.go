// Package graph provides the dependency graph underlying the Work Queue's
// ready-item selection and deadlock detection.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mnemosyne/core/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed graph of WorkItem dependencies. Edges
// point from an item to the items it depends on ("blocked by").
type DependencyGraph struct {
	mu        sync.RWMutex
	nodes     map[models.WorkItemID]*models.WorkItem
	edges     map[models.WorkItemID][]models.WorkItemID
	completed map[models.WorkItemID]bool
	debugLog  func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[models.WorkItemID]*models.WorkItem),
		edges:     make(map[models.WorkItemID][]models.WorkItemID),
		completed: make(map[models.WorkItemID]bool),
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog installs a logging function used for trace-level diagnostics.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Add registers a single item as a node, validating that its declared
// dependencies are already known to the graph (spec: "dependencies
// contain only ids already known to the Work Queue") and that adding the
// edge introduces no cycle.
func (g *DependencyGraph) Add(item *models.WorkItem) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, depID := range item.Dependencies {
		if _, ok := g.nodes[depID]; !ok {
			return fmt.Errorf("work item %s depends on unknown item %s", item.ID, depID)
		}
	}

	g.nodes[item.ID] = item
	g.edges[item.ID] = append([]models.WorkItemID(nil), item.Dependencies...)

	if g.hasCycleLocked() {
		delete(g.nodes, item.ID)
		delete(g.edges, item.ID)
		return ErrCycleDetected
	}
	return nil
}

// Build replaces the graph contents with the given items in one pass,
// used for initial construction from a fully-known item set.
func (g *DependencyGraph) Build(items []*models.WorkItem) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[models.WorkItemID]*models.WorkItem, len(items))
	g.edges = make(map[models.WorkItemID][]models.WorkItemID, len(items))

	for _, item := range items {
		g.nodes[item.ID] = item
	}
	for _, item := range items {
		for _, depID := range item.Dependencies {
			if _, ok := g.nodes[depID]; !ok {
				return fmt.Errorf("work item %s depends on unknown item %s", item.ID, depID)
			}
			g.edges[item.ID] = append(g.edges[item.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle reports whether the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

func (g *DependencyGraph) hasCycleLocked() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[models.WorkItemID]int, len(g.nodes))

	var visit func(id models.WorkItemID) bool
	visit = func(id models.WorkItemID) bool {
		colors[id] = gray
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case gray:
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for id := range g.nodes {
		if colors[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// TopologicalSort returns item IDs ordered so dependencies precede
// dependents.
func (g *DependencyGraph) TopologicalSort() ([]models.WorkItemID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[models.WorkItemID]bool, len(g.nodes))
	var result []models.WorkItemID

	var visit func(id models.WorkItemID)
	visit = func(id models.WorkItemID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for id := range g.nodes {
		visit(id)
	}
	return result, nil
}

// WaitingForCycle detects a cycle in the waiting-for graph restricted to
// items currently in the given blocking states (Waiting/Active), which
// supplements the timeout-based deadlock detector per spec's recommended
// fix (a pure timeout can't distinguish "slow" from "deadlocked").
func (g *DependencyGraph) WaitingForCycle(blocking map[models.WorkItemID]bool) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[models.WorkItemID]int, len(blocking))

	var visit func(id models.WorkItemID) bool
	visit = func(id models.WorkItemID) bool {
		colors[id] = gray
		for _, depID := range g.edges[id] {
			if !blocking[depID] {
				continue
			}
			switch colors[depID] {
			case gray:
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	for id := range blocking {
		if colors[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// GetReady returns IDs of items with no unmet dependencies that are not
// yet completed and not already done/errored.
func (g *DependencyGraph) GetReady() []models.WorkItemID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []models.WorkItemID
	for id, item := range g.nodes {
		if g.completed[id] {
			continue
		}
		if item.State.Terminal() {
			continue
		}

		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if g.completed[depID] {
				continue
			}
			if depItem, ok := g.nodes[depID]; ok && depItem.State == models.StateComplete {
				continue
			}
			allDepsComplete = false
			break
		}

		if allDepsComplete {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkComplete marks an item complete in the graph, affecting future
// GetReady calls.
func (g *DependencyGraph) MarkComplete(id models.WorkItemID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[id] = true
}

// GetItem returns the item for the given ID, or nil if unknown.
func (g *DependencyGraph) GetItem(id models.WorkItemID) *models.WorkItem {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Size returns the number of items in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs the given item depends on.
func (g *DependencyGraph) GetDependencies(id models.WorkItemID) []models.WorkItemID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[id]
}

// GetDependents returns the IDs of items that depend on the given item.
func (g *DependencyGraph) GetDependents(id models.WorkItemID) []models.WorkItemID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []models.WorkItemID
	for candidate, deps := range g.edges {
		for _, depID := range deps {
			if depID == id {
				dependents = append(dependents, candidate)
				break
			}
		}
	}
	return dependents
}

// AllIDs returns every item id known to the graph.
func (g *DependencyGraph) AllIDs() []models.WorkItemID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]models.WorkItemID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids
}

// GetCompletedIDs returns all IDs marked complete in the graph.
func (g *DependencyGraph) GetCompletedIDs() []models.WorkItemID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []models.WorkItemID
	for id, done := range g.completed {
		if done {
			ids = append(ids, id)
		}
	}
	return ids
}

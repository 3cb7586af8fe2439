// Package queue implements the Work Queue: dependency-ready selection,
// phase transitions, deadlock detection, and review re-enqueue.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mnemosyne/core/internal/graph"
	"github.com/mnemosyne/core/pkg/models"
)

// ErrNotReady is returned by ReEnqueue when the item is in neither state
// Ready nor state PendingReview.
var ErrNotReady = errors.New("item must be in state Ready or PendingReview to re-enqueue")

// ErrInvalidPhaseTransition is returned by TransitionPhase for a
// non-adjacent or backward transition request.
var ErrInvalidPhaseTransition = errors.New("invalid phase transition")

// ErrUnknownItem is returned by operations referencing an unknown id.
var ErrUnknownItem = errors.New("unknown work item")

// Queue is the Orchestrator's exclusively-owned Work Queue.
type Queue struct {
	mu      sync.RWMutex
	graph   *graph.DependencyGraph
	phase   models.Phase
	waiting map[models.WorkItemID]bool // items in Waiting/Active, for deadlock cycle check
}

// New creates an empty Work Queue starting at PhasePromptToSpec.
func New() *Queue {
	return &Queue{
		graph:   graph.New(),
		phase:   models.PhasePromptToSpec,
		waiting: make(map[models.WorkItemID]bool),
	}
}

// Add inserts a new item. Rejects with a typed error if it would
// introduce a dependency cycle or reference unknown dependencies.
func (q *Queue) Add(item *models.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.graph.Add(item); err != nil {
		return fmt.Errorf("add work item: %w", err)
	}
	return nil
}

// Get returns the item for id, or nil if unknown.
func (q *Queue) Get(id models.WorkItemID) *models.WorkItem {
	return q.graph.GetItem(id)
}

// GetMut returns the item for mutation in place. Callers must not retain
// the pointer beyond a single queue operation without external locking,
// since the Queue does not serialize concurrent mutation of the same
// pointer; the Orchestrator serializes state transitions per item.
func (q *Queue) GetMut(id models.WorkItemID) (*models.WorkItem, error) {
	item := q.graph.GetItem(id)
	if item == nil {
		return nil, ErrUnknownItem
	}
	return item, nil
}

// MarkCompleted transitions the item to Complete and records it in the
// graph's completed set.
func (q *Queue) MarkCompleted(id models.WorkItemID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := q.graph.GetItem(id)
	if item == nil {
		return ErrUnknownItem
	}
	now := time.Now()
	item.State = models.StateComplete
	item.MarkCompletedAt(now)
	q.graph.MarkComplete(id)
	delete(q.waiting, id)
	return nil
}

// GetReadyItems returns items in state Ready whose dependencies are all
// in the completed set, ordered by priority descending, then created_at
// ascending, then id (byte order).
func (q *Queue) GetReadyItems() []*models.WorkItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := q.graph.GetReady()
	items := make([]*models.WorkItem, 0, len(ids))
	for _, id := range ids {
		item := q.graph.GetItem(id)
		if item != nil && item.State == models.StateReady {
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// MarkWaiting records that id is currently Active/Waiting, for deadlock
// cycle detection purposes. Call again with false to clear.
func (q *Queue) MarkWaiting(id models.WorkItemID, waiting bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if waiting {
		q.waiting[id] = true
	} else {
		delete(q.waiting, id)
	}
}

// DetectDeadlocks returns ids of items in Waiting or Active that are
// timed out, plus, when the current waiting-for graph contains a cycle,
// every item marked waiting (not only the cycle's members), even if not
// yet individually timed out.
func (q *Queue) DetectDeadlocks(now time.Time) []models.WorkItemID {
	q.mu.RLock()
	defer q.mu.RUnlock()

	seen := make(map[models.WorkItemID]bool)
	var deadlocked []models.WorkItemID

	for id := range q.waiting {
		item := q.graph.GetItem(id)
		if item == nil {
			continue
		}
		if (item.State == models.StateWaiting || item.State == models.StateActive) && item.IsTimedOut(now) {
			if !seen[id] {
				seen[id] = true
				deadlocked = append(deadlocked, id)
			}
		}
	}

	if q.graph.WaitingForCycle(q.waiting) {
		for id := range q.waiting {
			if !seen[id] {
				seen[id] = true
				deadlocked = append(deadlocked, id)
			}
		}
	}

	return deadlocked
}

// CurrentPhase returns the queue's current phase.
func (q *Queue) CurrentPhase() models.Phase {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.phase
}

// TransitionPhase advances the queue's phase, allowed only if
// current.Next() == next.
func (q *Queue) TransitionPhase(next models.Phase) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	want, ok := q.phase.Next()
	if !ok || want != next {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidPhaseTransition, q.phase, next)
	}
	q.phase = next
	return nil
}

// AllCompleteInPhase reports whether every known item has been marked
// Complete (an item in Error does not count), used to gate automatic
// phase transition (step 5 of the Orchestrator Loop tick).
func (q *Queue) AllCompleteInPhase() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	completed := q.graph.GetCompletedIDs()
	return len(completed) == q.graph.Size() && q.graph.Size() > 0
}

// Items returns a snapshot copy of every known item, for status
// inspection. The copies are safe to read without holding queue state.
func (q *Queue) Items() []models.WorkItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := q.graph.AllIDs()
	items := make([]models.WorkItem, 0, len(ids))
	for _, id := range ids {
		if item := q.graph.GetItem(id); item != nil {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items
}

// AllTerminal reports whether every known item has reached Complete or
// Error. An empty queue is not terminal.
func (q *Queue) AllTerminal() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ids := q.graph.AllIDs()
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		item := q.graph.GetItem(id)
		if item == nil || !item.State.Terminal() {
			return false
		}
	}
	return true
}

// ReEnqueue returns a rejected-review item to Ready, preserving
// OriginalIntent, incrementing ReviewAttempt, and carrying over feedback
// and suggested tests.
func (q *Queue) ReEnqueue(item *models.WorkItem, feedback []string, suggestedTests []string) (*models.WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.State != models.StateReady && item.State != models.StatePendingReview {
		return nil, fmt.Errorf("%w: item %s is in state %s", ErrNotReady, item.ID, item.State)
	}

	next := *item
	next.State = models.StateReady
	next.ReviewAttempt = item.ReviewAttempt + 1
	next.ReviewFeedback = append(append([]string(nil), item.ReviewFeedback...), feedback...)
	next.SuggestedTests = append(append([]string(nil), item.SuggestedTests...), suggestedTests...)
	next.OriginalIntent = item.OriginalIntent

	existing := q.graph.GetItem(item.ID)
	if existing == nil {
		return nil, ErrUnknownItem
	}
	*existing = next
	return existing, nil
}

// GetDependents exposes the graph's dependents lookup. The Orchestrator
// Loop does not call it: dependents of an item in Error are not
// cascaded and stay Ready.
func (q *Queue) GetDependents(id models.WorkItemID) []models.WorkItemID {
	return q.graph.GetDependents(id)
}

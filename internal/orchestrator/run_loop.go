// Package orchestrator manages the coordination of agents and workflows.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mnemosyne/core/internal/agent"
	"github.com/mnemosyne/core/pkg/models"
)

// inflight represents one work item currently executing on an agent.
type inflight struct {
	itemID   models.WorkItemID
	agentID  models.AgentID
	started  time.Time
	cancelFn context.CancelFunc
}

// outcome carries an execution result from the bridge goroutine back to
// the loop.
type outcome struct {
	itemID  models.WorkItemID
	agentID models.AgentID
	result  agent.ExecutionResult
	err     error
}

// Run drives the orchestrator until every submitted item reaches a
// terminal state (advancing through phases as each drains) or ctx is
// cancelled. Each tick: drain peer messages, dispatch ready items,
// handle completions and reviews, recover deadlocks, advance the phase.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.pauseCtrl.IsStopped() {
		return fmt.Errorf("orchestrator has been stopped")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-o.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	inflightItems := make(map[models.WorkItemID]*inflight)
	completionCh := make(chan outcome, o.policy.Loop.MaxConcurrentAgents)

	for {
		select {
		case <-ctx.Done():
			for _, inf := range inflightItems {
				inf.cancelFn()
			}
			o.wg.Wait()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// The caller's deadline expired: items still executing
				// go to Error, as on the deadline-exceeded completion path.
				now := time.Now()
				for id, inf := range inflightItems {
					o.queue.MarkWaiting(id, false)
					if item, err := o.queue.GetMut(id); err == nil {
						o.failItem(item, inf.agentID, &TimeoutError{Budget: item.Timeout}, now)
					}
				}
			}
			return ctx.Err()

		case out := <-completionCh:
			inf, ok := inflightItems[out.itemID]
			if !ok || inf.agentID != out.agentID {
				// Stale completion from an execution the deadlock
				// detector already reclaimed.
				continue
			}
			delete(inflightItems, out.itemID)
			o.handleCompletion(ctx, out)

		default:
			done, err := o.tick(ctx, inflightItems, completionCh)
			if done {
				o.wg.Wait()
				return err
			}

			select {
			case <-ctx.Done():
			case out := <-completionCh:
				// Re-deliver on the next iteration so one handler
				// path processes every completion.
				go func() { completionCh <- out }()
			case <-time.After(o.policy.Loop.TickInterval):
			}
		}
	}
}

// tick runs one scheduling pass. A panic inside it (an internal
// invariant violation) is recovered here: the tick is aborted and
// logged rather than corrupting the registry or killing the process.
func (o *Orchestrator) tick(ctx context.Context, inflightItems map[models.WorkItemID]*inflight, completionCh chan outcome) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Log("[tick] internal invariant violated, tick aborted: %v", r)
			done, err = false, nil
		}
	}()

	now := time.Now()

	o.drainPeerMessages()
	o.recoverDeadlocks(now, inflightItems)
	o.pollConflicts(now, inflightItems)

	if !o.pauseCtrl.IsPaused() {
		o.dispatchReady(ctx, now, inflightItems, completionCh)
	}

	return o.checkProgress(inflightItems)
}

// dispatchReady allocates a branch assignment and worktree for each
// dependency-ready item and hands it to the bridge, up to the concurrent
// agent bound.
func (o *Orchestrator) dispatchReady(ctx context.Context, now time.Time, inflightItems map[models.WorkItemID]*inflight, completionCh chan outcome) {
	slots := o.policy.Loop.MaxConcurrentAgents - len(inflightItems)
	if slots <= 0 {
		return
	}

	for _, ready := range o.queue.GetReadyItems() {
		if slots == 0 {
			return
		}
		if _, running := inflightItems[ready.ID]; running {
			continue
		}

		o.mu.Lock()
		gate := o.notBefore[ready.ID]
		o.mu.Unlock()
		if now.Before(gate) {
			continue
		}

		item, err := o.queue.GetMut(ready.ID)
		if err != nil {
			continue
		}

		branch := item.AssignedBranch
		if branch == "" {
			branch = "mnemosyne/work-" + shortID(item.ID)
		}

		intent := models.IntentFullBranch
		if len(item.FileScope) > 0 {
			intent = models.IntentSubset
		}

		agentID := models.NewAgentID()
		if err := o.registry.AssignBranch(agentID, branch, intent, models.ModeIsolated, item.FileScope); err != nil {
			if isConflictError(err) {
				// Mode incompatibility: the item stays Ready and
				// dispatch is retried on a later tick.
				item.BlockedReason = err.Error()
				continue
			}
			o.retryOrFail(item, &IOError{Op: "assign branch", Err: err}, now)
			continue
		}

		if _, err := o.worktrees.CreateWorktree(agentID, branch); err != nil {
			_ = o.registry.ReleaseAssignment(agentID)
			o.retryOrFail(item, &IOError{Op: "create worktree", Err: err}, now)
			continue
		}

		item.State = models.StateActive
		item.AssignedBranch = branch
		item.BlockedReason = ""
		item.MarkStarted(now)
		o.queue.MarkWaiting(item.ID, true)

		o.mu.Lock()
		o.agents[item.ID] = agentID
		delete(o.notBefore, item.ID)
		o.mu.Unlock()

		o.activity.Touch()
		o.emitEvent(Event{
			Type:       EventItemStarted,
			WorkItemID: item.ID,
			AgentID:    agentID,
			Phase:      item.Phase,
			Message:    item.Description,
		})

		// The item's Timeout budget belongs to the deadlock detector,
		// which cancels this context on expiry; the context itself only
		// carries loop-shutdown and detector cancellation.
		execCtx, execCancel := context.WithCancel(ctx)

		inflightItems[item.ID] = &inflight{
			itemID:   item.ID,
			agentID:  agentID,
			started:  now,
			cancelFn: execCancel,
		}

		snapshot := *item
		o.wg.Add(1)
		go func(it models.WorkItem, aID models.AgentID, cancel context.CancelFunc) {
			defer o.wg.Done()
			defer cancel()
			result, err := o.config.Bridge.Execute(execCtx, it)
			result.WorkItemID = it.ID
			result.AgentID = aID
			select {
			case completionCh <- outcome{itemID: it.ID, agentID: aID, result: result, err: err}:
			case <-o.stopCh:
			}
		}(snapshot, agentID, execCancel)

		slots--
	}
}

// handleCompletion applies one finished execution: record its file
// modifications, run the review, and either complete, re-enqueue, retry,
// or fail the item.
func (o *Orchestrator) handleCompletion(ctx context.Context, out outcome) {
	o.queue.MarkWaiting(out.itemID, false)

	item, err := o.queue.GetMut(out.itemID)
	if err != nil {
		o.releaseAgent(out.agentID)
		return
	}

	for _, path := range out.result.ModifiedPaths {
		o.tracker.TrackModification(out.agentID, path, models.Modified)
	}
	if len(out.result.MemoryIDs) > 0 {
		item.ExecutionMemoryIDs = append(item.ExecutionMemoryIDs, out.result.MemoryIDs...)
	}

	now := time.Now()

	switch {
	case errors.Is(out.err, context.DeadlineExceeded):
		// Terminal timeout: no implicit retry.
		o.failItem(item, out.agentID, &TimeoutError{Budget: item.Timeout}, now)

	case out.err != nil:
		// The bridge call itself failed (I/O toward the external
		// collaborator): transient, retried with bounded backoff.
		o.releaseAgent(out.agentID)
		o.clearAgent(item.ID)
		o.retryOrFail(item, &ExternalError{Collaborator: "agent bridge", Err: out.err}, now)

	case !out.result.Success:
		// The agent ran and reported failure (non-zero exit):
		// propagated as the item's error.
		o.failItem(item, out.agentID, out.result.Err, now)

	default:
		o.review(ctx, item, out, now)
	}
}

// review consults the reviewer (when configured) and completes or
// re-enqueues the item.
func (o *Orchestrator) review(ctx context.Context, item *models.WorkItem, out outcome, now time.Time) {
	if o.reviewer == nil {
		o.completeItem(item, out.agentID)
		return
	}

	item.State = models.StatePendingReview
	decision, err := o.reviewer.Review(ctx, *item, out.result)
	if err != nil {
		// Reviewer unavailable: isolated external failure. The item is
		// treated as unreviewed and completes, matching the no-reviewer
		// path.
		o.logger.Log("[review] %s: reviewer failed, completing without review: %v", item.ID, err)
		o.completeItem(item, out.agentID)
		return
	}

	if decision.Approved {
		o.completeItem(item, out.agentID)
		return
	}

	if item.ReviewAttempt+1 >= o.policy.Review.MaxAttempts {
		o.failItem(item, out.agentID, fmt.Errorf("review rejected after %d attempts", item.ReviewAttempt+1), now)
		return
	}

	requeued, err := o.queue.ReEnqueue(item, decision.Feedback, decision.SuggestedTests)
	if err != nil {
		o.failItem(item, out.agentID, err, now)
		return
	}

	o.releaseAgent(out.agentID)
	o.clearAgent(item.ID)
	o.emitEvent(Event{
		Type:       EventReviewRejected,
		WorkItemID: requeued.ID,
		AgentID:    out.agentID,
		Phase:      requeued.Phase,
		Message:    fmt.Sprintf("review attempt %d rejected: %s", requeued.ReviewAttempt, joinFeedback(decision.Feedback)),
	})
}

// completeItem transitions the item to Complete and releases its agent.
func (o *Orchestrator) completeItem(item *models.WorkItem, agentID models.AgentID) {
	if err := o.queue.MarkCompleted(item.ID); err != nil {
		o.logger.Log("[complete] %s: %v", item.ID, err)
	}
	o.releaseAgent(agentID)
	o.clearAgent(item.ID)
	o.emitEvent(Event{
		Type:       EventItemCompleted,
		WorkItemID: item.ID,
		AgentID:    agentID,
		Phase:      item.Phase,
	})
}

// failItem transitions the item to Error and releases its agent.
func (o *Orchestrator) failItem(item *models.WorkItem, agentID models.AgentID, cause error, now time.Time) {
	item.State = models.StateError
	if cause != nil {
		item.Error = cause.Error()
	}
	item.MarkCompletedAt(now)
	if agentID != "" {
		o.releaseAgent(agentID)
	}
	o.clearAgent(item.ID)
	o.emitEvent(Event{
		Type:       EventItemFailed,
		WorkItemID: item.ID,
		AgentID:    agentID,
		Phase:      item.Phase,
		Error:      cause,
	})
}

// retryOrFail returns the item to Ready behind a backoff gate while its
// transient-retry budget lasts, then fails it.
func (o *Orchestrator) retryOrFail(item *models.WorkItem, cause error, now time.Time) {
	if !isTransient(cause) {
		o.failItem(item, "", cause, now)
		return
	}

	o.mu.Lock()
	o.transientRetries[item.ID]++
	attempt := o.transientRetries[item.ID]
	o.mu.Unlock()

	if attempt > o.policy.Loop.TransientRetries {
		o.failItem(item, "", cause, now)
		return
	}

	backoff := agent.Backoff{
		Initial:    o.policy.Deadlock.InitialBackoff,
		Max:        o.policy.Deadlock.MaxBackoff,
		Multiplier: o.policy.Deadlock.Multiplier,
	}
	item.State = models.StateReady
	item.BlockedReason = cause.Error()

	o.mu.Lock()
	o.notBefore[item.ID] = now.Add(backoff.Delay(attempt - 1))
	o.mu.Unlock()

	o.logger.Log("[retry] %s attempt %d/%d: %v", item.ID, attempt, o.policy.Loop.TransientRetries, cause)
}

// recoverDeadlocks transitions detected deadlock victims through Blocked,
// releases their resources, and requeues them to Ready behind an
// exponential backoff gate.
func (o *Orchestrator) recoverDeadlocks(now time.Time, inflightItems map[models.WorkItemID]*inflight) {
	for _, id := range o.queue.DetectDeadlocks(now) {
		item, err := o.queue.GetMut(id)
		if err != nil || item.State.Terminal() {
			continue
		}

		item.State = models.StateBlocked
		o.emitEvent(Event{
			Type:       EventItemBlocked,
			WorkItemID: id,
			Phase:      item.Phase,
			Message:    "deadlock detected: timed out or in a waiting cycle",
		})

		if inf, ok := inflightItems[id]; ok {
			inf.cancelFn()
			delete(inflightItems, id)
		}
		o.queue.MarkWaiting(id, false)

		o.mu.Lock()
		agentID := o.agents[id]
		delete(o.agents, id)
		o.deadlockCount[id]++
		count := o.deadlockCount[id]
		o.mu.Unlock()

		if agentID != "" {
			o.releaseAgent(agentID)
		}

		backoff := agent.Backoff{
			Initial:    o.policy.Deadlock.InitialBackoff,
			Max:        o.policy.Deadlock.MaxBackoff,
			Multiplier: o.policy.Deadlock.Multiplier,
		}
		delay := backoff.Delay(count - 1)

		item.State = models.StateReady
		item.BlockedReason = fmt.Sprintf("requeued after deadlock (backoff %s)", delay)
		// The item left Active; its next dispatch restarts the timeout
		// budget rather than inheriting the exhausted one.
		item.StartedAt = nil

		o.mu.Lock()
		o.notBefore[id] = now.Add(delay)
		o.mu.Unlock()
	}
}

// pollConflicts emits fresh cross-agent conflicts and rate-limited
// periodic summaries for the agents currently executing.
func (o *Orchestrator) pollConflicts(now time.Time, inflightItems map[models.WorkItemID]*inflight) {
	for _, c := range o.detector.Poll() {
		o.emitEvent(Event{
			Type:    EventConflictDetected,
			Message: fmt.Sprintf("%s modified by %d agents", c.Path, len(c.Agents)),
		})
	}

	for _, inf := range inflightItems {
		if note := o.notifier.Periodic(inf.agentID, now); note != nil {
			o.emitEvent(Event{
				Type:    EventConflictDetected,
				AgentID: note.AgentID,
				Message: note.Message,
			})
		}
	}
}

// checkProgress advances the phase when the current one has drained and
// decides whether the run is finished.
func (o *Orchestrator) checkProgress(inflightItems map[models.WorkItemID]*inflight) (bool, error) {
	if len(inflightItems) > 0 {
		return false, nil
	}

	if o.queue.AllCompleteInPhase() {
		next, ok := o.queue.CurrentPhase().Next()
		if !ok {
			return o.finish(nil)
		}
		if err := o.queue.TransitionPhase(next); err != nil {
			return false, err
		}
		o.emitEvent(Event{Type: EventPhaseAdvanced, Phase: next})
		if next == models.PhaseComplete {
			return o.finish(nil)
		}
		return false, nil
	}

	if o.queue.AllTerminal() {
		failed := 0
		for _, item := range o.queue.Items() {
			if item.State == models.StateError {
				failed++
			}
		}
		return o.finish(fmt.Errorf("%d work item(s) failed", failed))
	}

	return false, nil
}

// finish emits the session-done event (and the notifier's session
// summary) exactly once per run.
func (o *Orchestrator) finish(err error) (bool, error) {
	now := time.Now()
	if note := o.notifier.SessionEndSummary(now); note != nil {
		o.emitEvent(Event{Type: EventConflictDetected, Message: note.Message})
	}
	msg := "all work items completed"
	if err != nil {
		msg = err.Error()
	}
	o.emitEvent(Event{Type: EventSessionDone, Phase: o.queue.CurrentPhase(), Message: msg, Error: err})
	return true, err
}

// joinPayload is the body of a JoinRequest coordination message: the
// branch a peer orchestrator's agent wants and under what terms.
type joinPayload struct {
	Branch        string                  `json:"branch"`
	Intent        models.AssignmentIntent `json:"intent"`
	Mode          models.CoordinationMode `json:"mode"`
	DeclaredPaths []string                `json:"declared_paths,omitempty"`
}

// joinAckPayload reports the registry's verdict back to the requester.
type joinAckPayload struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// drainPeerMessages applies queued coordination messages from sibling
// orchestrator processes: JoinRequests hit the registry, heartbeats
// refresh assignments, releases clear registry and tracker state.
func (o *Orchestrator) drainPeerMessages() {
	if o.coord == nil {
		return
	}

	msgs, err := o.coord.ReceiveMessages()
	if err != nil {
		o.logger.Log("[coord] receive: %v", err)
		return
	}

	for _, msg := range msgs {
		switch msg.Type {
		case models.MsgJoinRequest:
			o.handleJoinRequest(msg)
		case models.MsgHeartbeat:
			o.registry.Heartbeat(msg.From, msg.Timestamp)
		case models.MsgRelease:
			_ = o.registry.ReleaseAssignment(msg.From)
			o.tracker.ClearAgent(msg.From)
		case models.MsgJoinAck, models.MsgBroadcast:
			o.logger.Log("[coord] %s from %s", msg.Type, msg.From)
		}
	}
}

func (o *Orchestrator) handleJoinRequest(msg models.CoordinationMessage) {
	var payload joinPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		o.logger.Log("[coord] join request from %s: bad payload: %v", msg.From, err)
		return
	}

	ack := joinAckPayload{Accepted: true}
	if err := o.registry.AssignBranch(msg.From, payload.Branch, payload.Intent, payload.Mode, payload.DeclaredPaths); err != nil {
		ack = joinAckPayload{Accepted: false, Reason: err.Error()}
	} else {
		o.emitEvent(Event{
			Type:    EventPeerJoined,
			AgentID: msg.From,
			Message: fmt.Sprintf("peer joined branch %s (%s)", payload.Branch, payload.Mode),
		})
	}

	reply, err := models.NewCoordinationMessage(o.coordSelf(), msg.From, models.MsgJoinAck, ack)
	if err == nil {
		if err := o.coord.SendMessage(msg.From, reply); err != nil {
			o.logger.Log("[coord] join ack to %s: %v", msg.From, err)
		}
	}
}

func (o *Orchestrator) coordSelf() models.AgentID {
	// The coordinator stamps From itself; this is only a placeholder for
	// message construction.
	return ""
}

func (o *Orchestrator) clearAgent(itemID models.WorkItemID) {
	o.mu.Lock()
	delete(o.agents, itemID)
	delete(o.notBefore, itemID)
	o.mu.Unlock()
}

func shortID(id models.WorkItemID) string {
	s := string(id)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func joinFeedback(feedback []string) string {
	if len(feedback) == 0 {
		return "no feedback"
	}
	out := feedback[0]
	for _, f := range feedback[1:] {
		out += "; " + f
	}
	return out
}

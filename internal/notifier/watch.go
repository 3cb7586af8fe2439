package notifier

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mnemosyne/core/pkg/models"
)

// Watch adapts fsnotify into the external file watcher the OnSave hook
// expects: it watches dir for writes and calls OnSave for the
// given agent on every one, forwarding any resulting notification to
// emit. Runs until stop is closed; watcher setup failures are non-fatal
// (the notifier simply never fires on-save events for that agent).
func (n *Notifier) Watch(agentID models.AgentID, dir string, emit func(Notification), stop <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return
	}

	for {
		select {
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if note := n.OnSave(agentID, event.Name); note != nil {
				emit(*note)
			}
		case <-watcher.Errors:
			// Non-fatal: fsnotify surfaces transient errors (e.g. a
			// removed watch target); keep watching.
			continue
		}
	}
}

// noteAfter is a small helper used by tests to wait for an asynchronous
// notification without a fixed sleep.
func noteAfter(ch <-chan Notification, timeout time.Duration) (Notification, bool) {
	select {
	case n := <-ch:
		return n, true
	case <-time.After(timeout):
		return Notification{}, false
	}
}

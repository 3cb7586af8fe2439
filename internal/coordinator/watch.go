package coordinator

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mnemosyne/core/pkg/models"
)

// WatchInbox delivers inbox messages to deliver as they arrive, using an
// fsnotify watch on the inbox directory with a polling fallback at
// pollInterval (the poll also catches messages written before the watch
// was established). Runs until ctx is done. Errors from a single receive
// pass are dropped; the next event or poll retries.
func (c *Coordinator) WatchInbox(ctx context.Context, pollInterval time.Duration, deliver func([]models.CoordinationMessage)) {
	drain := func() {
		msgs, err := c.ReceiveMessages()
		if err != nil || len(msgs) == 0 {
			return
		}
		deliver(msgs)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(inboxDir(c.root, c.self)); err != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}

	drain()

	for {
		if watcher != nil {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					watcher = nil
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
					drain()
				}
			case <-watcher.Errors:
				continue
			case <-ticker.C:
				drain()
			}
		} else {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				drain()
			}
		}
	}
}

// Package coordinator implements the Cross-Process Coordinator: a
// same-host, file-based message bus between
// sibling orchestrator processes, using write-temp-then-rename so readers
// never observe a partial file.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/mnemosyne/core/pkg/models"
)

// Coordinator is bound to one agent's identity and owns that agent's
// inbox directory under root. It also tracks its own writer sequence,
// persisted so a restart continues rather than resets the counter.
type Coordinator struct {
	root string
	self models.AgentID

	mu      sync.Mutex
	seq     uint64
	seqPath string
}

func mailboxDir(root string, agent models.AgentID) string {
	return filepath.Join(root, string(agent))
}

func inboxDir(root string, agent models.AgentID) string {
	return filepath.Join(mailboxDir(root, agent), "inbox")
}

func corruptDir(root string, agent models.AgentID) string {
	return filepath.Join(inboxDir(root, agent), "corrupt")
}

// New creates a Coordinator for self rooted at root, creating its mailbox
// directories and restoring its persisted sequence counter if present.
func New(root string, self models.AgentID) (*Coordinator, error) {
	own := mailboxDir(root, self)
	if err := os.MkdirAll(inboxDir(root, self), 0o755); err != nil {
		return nil, fmt.Errorf("create mailbox for %s: %w", self, err)
	}

	c := &Coordinator{
		root:    root,
		self:    self,
		seqPath: filepath.Join(own, "seq.marker"),
	}

	if data, err := os.ReadFile(c.seqPath); err == nil {
		if v, perr := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64); perr == nil {
			c.seq = v
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read sequence marker: %w", err)
	}

	return c, nil
}

// nextSeq allocates and persists the next sequence number for this
// writer. Callers must hold c.mu.
func (c *Coordinator) nextSeq() (uint64, error) {
	c.seq++
	if err := renameio.WriteFile(c.seqPath, []byte(strconv.FormatUint(c.seq, 10)), 0o644); err != nil {
		c.seq--
		return 0, fmt.Errorf("persist sequence marker: %w", err)
	}
	return c.seq, nil
}

// SendMessage serialises msg and writes it into peer's inbox using
// write-temp-then-rename, so readers never observe a partial file. msg.ID
// and msg.Timestamp are filled if unset; msg.From is forced to this
// coordinator's identity and msg.Seq is assigned from the writer's
// persisted counter.
func (c *Coordinator) SendMessage(peer models.AgentID, msg models.CoordinationMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.nextSeq()
	if err != nil {
		return err
	}

	msg.From = c.self
	msg.To = peer
	msg.Seq = seq
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal coordination message: %w", err)
	}

	dir := inboxDir(c.root, peer)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create inbox for %s: %w", peer, err)
	}

	// Filename carries the writer's seq so receivers can order messages
	// from the same writer even if clocks tie on timestamp.
	filename := fmt.Sprintf("%020d-%s-%s.msg", seq, c.self, uuid.NewString())
	path := filepath.Join(dir, filename)

	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write message to %s: %w", peer, err)
	}
	return nil
}

// ReceiveMessages lists this coordinator's inbox, parses each file,
// sorts by (timestamp, seq), and deletes files after successful delivery
// to the caller. Unparseable files are moved to inbox/corrupt/ rather
// than delivered or silently dropped.
func (c *Coordinator) ReceiveMessages() ([]models.CoordinationMessage, error) {
	dir := inboxDir(c.root, c.self)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list inbox: %w", err)
	}

	type parsed struct {
		msg  models.CoordinationMessage
		path string
	}
	var ok []parsed

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".msg") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var msg models.CoordinationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.quarantine(path, entry.Name())
			continue
		}
		ok = append(ok, parsed{msg: msg, path: path})
	}

	sort.Slice(ok, func(i, j int) bool {
		if !ok[i].msg.Timestamp.Equal(ok[j].msg.Timestamp) {
			return ok[i].msg.Timestamp.Before(ok[j].msg.Timestamp)
		}
		return ok[i].msg.Seq < ok[j].msg.Seq
	})

	msgs := make([]models.CoordinationMessage, 0, len(ok))
	for _, p := range ok {
		msgs = append(msgs, p.msg)
		_ = os.Remove(p.path)
	}
	return msgs, nil
}

// WaitForHandoffFile polls for path to appear and hold a complete JSON
// payload, decoding it into out. A partially written file (read succeeds
// but unmarshal fails) is treated as not-yet-ready rather than an error,
// since the writer uses a direct write rather than write-temp-then-rename
// for this handoff. Returns ctx.Err() if the deadline elapses first.
func WaitForHandoffFile(ctx context.Context, path string, pollInterval time.Duration, out any) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		data, err := os.ReadFile(path)
		if err == nil {
			if jerr := json.Unmarshal(data, out); jerr == nil {
				return nil
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("read handoff file %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) quarantine(path, name string) {
	dir := corruptDir(c.root, c.self)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = os.Rename(path, filepath.Join(dir, name))
}

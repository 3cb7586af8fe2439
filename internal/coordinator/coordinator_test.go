package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemosyne/core/pkg/models"
)

func TestWaitForHandoffFile_SucceedsOnceWritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edit-result.json")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(path, []byte(`{"status":"completed"}`), 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var out struct {
		Status string `json:"status"`
	}
	if err := WaitForHandoffFile(ctx, path, 5*time.Millisecond, &out); err != nil {
		t.Fatalf("WaitForHandoffFile: %v", err)
	}
	if out.Status != "completed" {
		t.Errorf("Status = %q, want completed", out.Status)
	}
}

func TestWaitForHandoffFile_TimesOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never-written.json")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out map[string]any
	err := WaitForHandoffFile(ctx, path, 5*time.Millisecond, &out)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestSendReceive_RoundTrip(t *testing.T) {
	root := t.TempDir()

	a, err := New(root, models.AgentID("A"))
	if err != nil {
		t.Fatalf("New(A): %v", err)
	}
	b, err := New(root, models.AgentID("B"))
	if err != nil {
		t.Fatalf("New(B): %v", err)
	}

	for i := 0; i < 10; i++ {
		msg, err := models.NewCoordinationMessage(models.AgentID("A"), models.AgentID("B"), models.MsgHeartbeat, map[string]int{"i": i})
		if err != nil {
			t.Fatalf("NewCoordinationMessage: %v", err)
		}
		if err := a.SendMessage(models.AgentID("B"), msg); err != nil {
			t.Fatalf("SendMessage(%d): %v", i, err)
		}
	}

	received, err := b.ReceiveMessages()
	if err != nil {
		t.Fatalf("ReceiveMessages: %v", err)
	}
	if len(received) != 10 {
		t.Fatalf("len(received) = %d, want 10", len(received))
	}

	for i, msg := range received {
		if msg.Seq != uint64(i+1) {
			t.Errorf("received[%d].Seq = %d, want %d", i, msg.Seq, i+1)
		}
		if msg.From != models.AgentID("A") {
			t.Errorf("received[%d].From = %q, want A", i, msg.From)
		}
	}

	again, err := b.ReceiveMessages()
	if err != nil {
		t.Fatalf("ReceiveMessages (second): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected 0 messages on second receive, got %d", len(again))
	}
}

func TestSendMessage_SeqPersistsAcrossRestart(t *testing.T) {
	root := t.TempDir()

	a1, err := New(root, models.AgentID("A"))
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := models.NewCoordinationMessage(models.AgentID("A"), models.AgentID("B"), models.MsgHeartbeat, nil)
	if err := a1.SendMessage(models.AgentID("B"), msg); err != nil {
		t.Fatal(err)
	}

	// Simulate a restart: a fresh Coordinator for the same agent should
	// pick up where the persisted sequence left off.
	a2, err := New(root, models.AgentID("A"))
	if err != nil {
		t.Fatal(err)
	}
	msg2, _ := models.NewCoordinationMessage(models.AgentID("A"), models.AgentID("B"), models.MsgHeartbeat, nil)
	if err := a2.SendMessage(models.AgentID("B"), msg2); err != nil {
		t.Fatal(err)
	}

	b, err := New(root, models.AgentID("B"))
	if err != nil {
		t.Fatal(err)
	}
	received, err := b.ReceiveMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(received) != 2 {
		t.Fatalf("len(received) = %d, want 2", len(received))
	}
	if received[0].Seq != 1 || received[1].Seq != 2 {
		t.Errorf("seqs = %d, %d, want 1, 2 (monotonic across restart)", received[0].Seq, received[1].Seq)
	}
}

func TestReceiveMessages_QuarantinesUnparseable(t *testing.T) {
	root := t.TempDir()

	b, err := New(root, models.AgentID("B"))
	if err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(inboxDir(root, models.AgentID("B")), 0o755); err != nil {
		t.Fatal(err)
	}
	badPath := inboxDir(root, models.AgentID("B")) + "/0001-bad.msg"
	if err := os.WriteFile(badPath, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	received, err := b.ReceiveMessages()
	if err != nil {
		t.Fatalf("ReceiveMessages: %v", err)
	}
	if len(received) != 0 {
		t.Fatalf("expected 0 deliverable messages, got %d", len(received))
	}
	if _, err := os.Stat(filepath.Join(corruptDir(root, models.AgentID("B")), "0001-bad.msg")); err != nil {
		t.Fatalf("expected unparseable message in corrupt dir: %v", err)
	}
}

func TestWatchInbox_DeliversOnArrival(t *testing.T) {
	root := t.TempDir()

	a, err := New(root, models.AgentID("A"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(root, models.AgentID("B"))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan models.CoordinationMessage, 4)
	go b.WatchInbox(ctx, 20*time.Millisecond, func(msgs []models.CoordinationMessage) {
		for _, m := range msgs {
			got <- m
		}
	})

	// Give the watcher a moment to establish before sending.
	time.Sleep(50 * time.Millisecond)

	msg, _ := models.NewCoordinationMessage(models.AgentID("A"), models.AgentID("B"), models.MsgBroadcast, "hello")
	if err := a.SendMessage(models.AgentID("B"), msg); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-got:
		if m.Type != models.MsgBroadcast {
			t.Errorf("delivered type = %s, want broadcast", m.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered by the inbox watch")
	}
}

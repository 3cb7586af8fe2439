package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CoordinationMessageType is the closed set of message kinds exchanged
// between sibling orchestrator processes.
type CoordinationMessageType string

const (
	MsgJoinRequest CoordinationMessageType = "join_request"
	MsgJoinAck     CoordinationMessageType = "join_ack"
	MsgHeartbeat   CoordinationMessageType = "heartbeat"
	MsgRelease     CoordinationMessageType = "release"
	MsgBroadcast   CoordinationMessageType = "broadcast"
)

// Valid reports whether t is a known message type.
func (t CoordinationMessageType) Valid() bool {
	switch t {
	case MsgJoinRequest, MsgJoinAck, MsgHeartbeat, MsgRelease, MsgBroadcast:
		return true
	default:
		return false
	}
}

// CoordinationMessage is exchanged between peer orchestrator processes via
// the Cross-Process Coordinator's file-based inbox/outbox.
type CoordinationMessage struct {
	ID        string                  `json:"id"`
	From      AgentID                 `json:"from_agent"`
	To        AgentID                 `json:"to_agent,omitempty"`
	Type      CoordinationMessageType `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Payload   json.RawMessage         `json:"payload,omitempty"`
	// Seq is monotonically increasing per writer (per from-agent).
	Seq uint64 `json:"seq"`
}

// NewCoordinationMessage constructs a message with a fresh id and the
// current time, leaving Seq for the caller (the coordinator assigns it
// from its persisted per-writer counter).
func NewCoordinationMessage(from AgentID, to AgentID, typ CoordinationMessageType, payload any) (CoordinationMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return CoordinationMessage{}, err
	}
	return CoordinationMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}

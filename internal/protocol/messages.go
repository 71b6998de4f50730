package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants on the memory event stream.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
	TypeMemoryEvent   MessageType = "memory_event"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Client control actions.
const (
	ActionPing   = "ping"
	ActionReplay = "replay"
)

// System event codes.
const (
	CodeConnected = "connected"
	CodePong      = "pong"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl asks the server to answer a ping or replay recent events.
// Limit applies to replay; zero replays the whole retained history.
type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	Limit  int         `json:"limit,omitempty"`
}

// MemoryEvent mirrors one change to the owner's memories.
type MemoryEvent struct {
	Type      MessageType `json:"type"`
	Event     string      `json:"event"`
	OwnerID   string      `json:"owner_id"`
	MemoryID  string      `json:"memory_id"`
	Content   string      `json:"content,omitempty"`
	Topics    []string    `json:"topics,omitempty"`
	SyncState string      `json:"sync_state,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	TSMs      int64       `json:"ts_ms"`
	Replayed  bool        `json:"replayed,omitempty"`
}

type SystemEvent struct {
	Type    MessageType `json:"type"`
	OwnerID string      `json:"owner_id"`
	Code    string      `json:"code"`
	Detail  string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	OwnerID   string      `json:"owner_id"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		switch msg.Action {
		case ActionPing, ActionReplay:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		if msg.Limit < 0 {
			return nil, errors.New("invalid client_control: negative limit")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

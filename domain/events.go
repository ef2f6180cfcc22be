package domain

import (
	"time"

	"github.com/bytedance/sonic"
)

// Wire event types.
const (
	EventConnectionEstablished = "connection_established"
	EventUserJoined            = "user_joined"
	EventUserLeft              = "user_left"
	EventCursorMove            = "cursor_move"
	EventTaskCreated           = "task_created"
	EventTaskUpdated           = "task_updated"
	EventTaskMoved             = "task_moved"
	EventTaskDeleted           = "task_deleted"
	EventError                 = "error"
)

// Cursor is the last known pointer position of a user. TaskID is set when the
// pointer hovers a task.
type Cursor struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	TaskID *int64  `json:"taskId,omitempty"`
}

// Envelope is the outer shape of every frame on the real-time channel.
type Envelope struct {
	Type      string                 `json:"type"`
	Payload   sonic.NoCopyRawMessage `json:"payload,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Header carries the optional envelope metadata of a decoded event.
type Header struct {
	Sender    string
	Timestamp string
}

// Event is one decoded inbound frame. The set of implementations is closed.
type Event interface {
	Type() string
	isEvent()
}

// ConnectionEstablished is the snapshot the server pushes after an
// authenticated connect.
type ConnectionEstablished struct {
	Header
	ActiveUsers []string
	Cursors     map[string]Cursor
}

// UserJoined and UserLeft carry the full presence list after the change.
type UserJoined struct {
	Header
	UserID      string
	ActiveUsers []string
}

type UserLeft struct {
	Header
	UserID      string
	ActiveUsers []string
}

type CursorMoved struct {
	Header
	UserID string
	Cursor Cursor
}

type TaskCreated struct {
	Header
	Task Task
}

type TaskUpdated struct {
	Header
	Task Task
}

type TaskMoved struct {
	Header
	Task Task
}

type TaskDeleted struct {
	Header
	ID int64
}

// ServerError is reported by the server when it rejects an outbound frame.
type ServerError struct {
	Header
	Message string
}

// Unknown holds any event type this client has no handler for. Payload is
// the raw JSON as received.
type Unknown struct {
	Header
	Kind    string
	Payload []byte
}

func (ConnectionEstablished) Type() string { return EventConnectionEstablished }
func (UserJoined) Type() string            { return EventUserJoined }
func (UserLeft) Type() string              { return EventUserLeft }
func (CursorMoved) Type() string           { return EventCursorMove }
func (TaskCreated) Type() string           { return EventTaskCreated }
func (TaskUpdated) Type() string           { return EventTaskUpdated }
func (TaskMoved) Type() string             { return EventTaskMoved }
func (TaskDeleted) Type() string           { return EventTaskDeleted }
func (ServerError) Type() string           { return EventError }
func (u Unknown) Type() string             { return u.Kind }

func (ConnectionEstablished) isEvent() {}
func (UserJoined) isEvent()            {}
func (UserLeft) isEvent()              {}
func (CursorMoved) isEvent()           {}
func (TaskCreated) isEvent()           {}
func (TaskUpdated) isEvent()           {}
func (TaskMoved) isEvent()             {}
func (TaskDeleted) isEvent()           {}
func (ServerError) isEvent()           {}
func (Unknown) isEvent()               {}

type outboundFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// EncodeCursorMove builds the only frame a client originates.
func EncodeCursorMove(c Cursor) ([]byte, error) {
	return sonic.Marshal(outboundFrame{Type: EventCursorMove, Payload: c})
}

// EncodeEvent builds a server-side broadcast frame. An empty sender is omitted.
func EncodeEvent(eventType string, payload any, sender string, at time.Time) ([]byte, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		Type:    eventType,
		Payload: data,
		UserID:  sender,
	}
	if !at.IsZero() {
		env.Timestamp = at.UTC().Format(time.RFC3339Nano)
	}
	return sonic.Marshal(env)
}

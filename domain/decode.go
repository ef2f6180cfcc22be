package domain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

type presencePayload struct {
	UserID      string   `json:"user_id"`
	ActiveUsers []string `json:"active_users"`
}

type snapshotPayload struct {
	ActiveUsers []string          `json:"active_users"`
	Cursors     map[string]Cursor `json:"cursors"`
}

type cursorPayload struct {
	UserID string  `json:"user_id"`
	Cursor *Cursor `json:"cursor"`
}

type deletedPayload struct {
	ID int64 `json:"id"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// DecodeEvent parses a text frame into a typed event. Every failure wraps
// ErrMalformedFrame.
func DecodeEvent(frame []byte) (Event, error) {
	var env Envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return nil, malformed("decode envelope: %v", err)
	}
	if env.Type == "" {
		return nil, malformed("missing event type")
	}
	h := Header{Sender: env.UserID, Timestamp: env.Timestamp}

	switch env.Type {
	case EventConnectionEstablished:
		var p snapshotPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.Cursors == nil {
			p.Cursors = map[string]Cursor{}
		}
		return ConnectionEstablished{Header: h, ActiveUsers: usersOrEmpty(p.ActiveUsers), Cursors: p.Cursors}, nil
	case EventUserJoined, EventUserLeft:
		var p presencePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if env.Type == EventUserJoined {
			return UserJoined{Header: h, UserID: p.UserID, ActiveUsers: usersOrEmpty(p.ActiveUsers)}, nil
		}
		return UserLeft{Header: h, UserID: p.UserID, ActiveUsers: usersOrEmpty(p.ActiveUsers)}, nil
	case EventCursorMove:
		var p cursorPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, malformed("cursor_move without user_id")
		}
		if p.Cursor == nil {
			return nil, malformed("cursor_move without cursor")
		}
		return CursorMoved{Header: h, UserID: p.UserID, Cursor: *p.Cursor}, nil
	case EventTaskCreated, EventTaskUpdated, EventTaskMoved:
		var t Task
		if err := decodePayload(env, &t); err != nil {
			return nil, err
		}
		if err := validateTask(t); err != nil {
			return nil, malformed("%s: %v", env.Type, err)
		}
		switch env.Type {
		case EventTaskCreated:
			return TaskCreated{Header: h, Task: t}, nil
		case EventTaskUpdated:
			return TaskUpdated{Header: h, Task: t}, nil
		default:
			return TaskMoved{Header: h, Task: t}, nil
		}
	case EventTaskDeleted:
		var p deletedPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.ID <= 0 {
			return nil, malformed("task_deleted without id")
		}
		return TaskDeleted{Header: h, ID: p.ID}, nil
	case EventError:
		var p errorPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return ServerError{Header: h, Message: p.Message}, nil
	default:
		return Unknown{Header: h, Kind: env.Type, Payload: []byte(env.Payload)}, nil
	}
}

func decodePayload(env Envelope, out any) error {
	raw := bytes.TrimSpace(env.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return malformed("%s without payload", env.Type)
	}
	if raw[0] != '{' {
		return malformed("%s payload is not an object", env.Type)
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return malformed("decode %s payload: %v", env.Type, err)
	}
	return nil
}

func validateTask(t Task) error {
	if t.ID <= 0 {
		return errors.New("missing task id")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	return nil
}

func usersOrEmpty(users []string) []string {
	if users == nil {
		return []string{}
	}
	return users
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

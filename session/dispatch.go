package session

import (
	log "github.com/sirupsen/logrus"

	"github.com/Mark-maati/collab-board/domain"
)

// ChangeKind tells an OnChange observer which part of the board changed.
type ChangeKind int

const (
	ChangeTasks ChangeKind = iota
	ChangePresence
	ChangeCursors
	ChangeConnection
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeTasks:
		return "tasks"
	case ChangePresence:
		return "presence"
	case ChangeCursors:
		return "cursors"
	case ChangeConnection:
		return "connection"
	}
	return "unknown"
}

func (s *Session) handleFrame(frame []byte) {
	ev, err := domain.DecodeEvent(frame)
	if err != nil {
		s.opts.Metrics.FrameMalformed()
		s.logger.WithError(err).WithField("frame_bytes", len(frame)).Warn("dropping malformed frame")
		return
	}
	s.opts.Metrics.FrameReceived(ev.Type())
	s.dispatch(ev)
}

// dispatch applies one event. It runs only on the loop goroutine.
func (s *Session) dispatch(ev domain.Event) {
	switch e := ev.(type) {
	case domain.ConnectionEstablished:
		s.presence.ReplaceUsers(e.ActiveUsers)
		s.presence.ReplaceCursors(e.Cursors)
		s.notify(ChangePresence)
		s.notify(ChangeCursors)
	case domain.UserJoined:
		s.presence.ReplaceUsers(e.ActiveUsers)
		s.notify(ChangePresence)
	case domain.UserLeft:
		s.presence.ReplaceUsers(e.ActiveUsers)
		s.notify(ChangePresence)
	case domain.CursorMoved:
		s.presence.UpsertCursor(e.UserID, e.Cursor)
		s.notify(ChangeCursors)
	case domain.TaskCreated:
		s.applyTask(ev, s.engine.ApplyCreated(e.Task), e.Task.ID)
	case domain.TaskUpdated:
		s.applyTask(ev, s.engine.ApplyReplace(e.Task), e.Task.ID)
	case domain.TaskMoved:
		s.applyTask(ev, s.engine.ApplyReplace(e.Task), e.Task.ID)
	case domain.TaskDeleted:
		s.applyTask(ev, s.engine.ApplyDeleted(e.ID), e.ID)
	default:
		if se, ok := ev.(domain.ServerError); ok {
			s.logger.WithField("message", se.Message).Warn("server rejected a frame")
		}
		if s.opts.OnOther != nil {
			s.opts.OnOther(ev)
		}
	}
}

func (s *Session) applyTask(ev domain.Event, changed bool, id int64) {
	s.logger.WithFields(log.Fields{
		"event_type": ev.Type(),
		"task_id":    id,
		"applied":    changed,
	}).Debug("task event")
	if changed {
		s.notify(ChangeTasks)
	}
}

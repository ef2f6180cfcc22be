// Package session ties one board view together: it seeds the task set,
// keeps the realtime connection alive and applies every inbound event on a
// single loop goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Mark-maati/collab-board/auth"
	"github.com/Mark-maati/collab-board/cursor"
	"github.com/Mark-maati/collab-board/domain"
	"github.com/Mark-maati/collab-board/metrics"
	"github.com/Mark-maati/collab-board/presence"
	"github.com/Mark-maati/collab-board/realtime"
	"github.com/Mark-maati/collab-board/reconcile"
)

const defaultInboxSize = 256

// ErrClosed is returned by operations on a session after Close.
var ErrClosed = errors.New("session closed")

// TaskAPI is the durable mutation API the session depends on.
type TaskAPI interface {
	ListTasks(ctx context.Context, boardID int64) ([]domain.Task, error)
	CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

// FreshLister is implemented by TaskAPI wrappers that may serve ListTasks
// from a cache. The board seed always goes through ListTasksFresh so a stale
// copy can never become the base that realtime events are applied to.
type FreshLister interface {
	ListTasksFresh(ctx context.Context, boardID int64) ([]domain.Task, error)
}

// Options configures a Session.
type Options struct {
	API TaskAPI
	// WSURL is the realtime base, e.g. ws://localhost:8000/ws.
	WSURL       string
	Credentials *auth.Credentials
	// UserID identifies the local user. Defaults to the token's subject.
	UserID     string
	RetryDelay time.Duration
	Dialer     realtime.Dialer
	Throttle   cursor.Throttle
	Logger     log.FieldLogger
	Metrics    *metrics.Metrics
	InboxSize  int

	// OnChange runs on the session loop after local state changed.
	OnChange func(ChangeKind)
	// OnOther receives every event without a built-in handler, unmodified.
	OnOther func(domain.Event)
}

// Session owns the task collection, presence list and cursor map of one
// board. Only the loop goroutine writes them.
type Session struct {
	id      string
	boardID int64
	self    string
	api     TaskAPI
	opts    Options
	logger  log.FieldLogger

	engine    *reconcile.Engine
	presence  *presence.Tracker
	conn      *realtime.Conn
	publisher *cursor.Publisher

	inbox     chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

// Open loads the board's tasks, starts the event loop and begins connecting
// to the board channel. It returns once the snapshot is applied; the
// connection comes up in the background.
func Open(ctx context.Context, boardID int64, opts Options) (*Session, error) {
	if opts.API == nil {
		return nil, errors.New("session: task api is required")
	}
	if boardID <= 0 {
		return nil, fmt.Errorf("session: invalid board id %d", boardID)
	}
	if opts.Credentials == nil {
		opts.Credentials = auth.NewCredentials("")
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}

	token := opts.Credentials.Token()
	self := opts.UserID
	if self == "" && token != "" {
		if sub, err := auth.Subject(token); err == nil {
			self = sub
		}
	}

	id := uuid.NewString()
	s := &Session{
		id:       id,
		boardID:  boardID,
		self:     self,
		api:      opts.API,
		opts:     opts,
		logger:   opts.Logger.WithFields(log.Fields{"board_id": boardID, "session_id": id}),
		engine:   reconcile.NewEngine(),
		presence: presence.NewTracker(),
		inbox:    make(chan func(), opts.InboxSize),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	tasks, err := loadSeed(ctx, opts.API, boardID)
	if err != nil {
		return nil, fmt.Errorf("load board %d: %w", boardID, err)
	}
	s.engine.Seed(tasks)

	go s.loop()

	conn, err := realtime.Open(boardID, token, realtime.Options{
		BaseURL:    opts.WSURL,
		RetryDelay: opts.RetryDelay,
		Dialer:     opts.Dialer,
		Logger:     s.logger,
		Metrics:    opts.Metrics,
		Token:      opts.Credentials.Token,
		OnFrame:    s.onFrame,
		OnState:    s.onState,
	})
	if err != nil {
		close(s.quit)
		<-s.loopDone
		return nil, err
	}
	s.conn = conn
	s.publisher = cursor.NewPublisher(conn, opts.Throttle, s.logger)

	s.logger.WithField("tasks", len(tasks)).Info("board session opened")
	return s, nil
}

func loadSeed(ctx context.Context, api TaskAPI, boardID int64) ([]domain.Task, error) {
	if f, ok := api.(FreshLister); ok {
		return f.ListTasksFresh(ctx, boardID)
	}
	return api.ListTasks(ctx, boardID)
}

// Close cancels any pending reconnect, closes the connection and stops the
// loop. Durable requests already in flight finish but their results are no
// longer applied. Close must not be called from OnChange or OnOther.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.publisher.Stop()
		_ = s.conn.Close()
		close(s.quit)
		<-s.loopDone
		s.logger.Info("board session closed")
	})
	return nil
}

func (s *Session) BoardID() int64 { return s.boardID }

// Self is the local user id used to filter our own cursor out of views.
func (s *Session) Self() string { return s.self }

// MoveTask applies the status change locally, then persists it. When the
// durable update fails the captured status is restored before the error is
// returned.
func (s *Session) MoveTask(ctx context.Context, id int64, to domain.TaskStatus) error {
	var (
		m   reconcile.Move
		err error
	)
	if !s.call(func() {
		m, err = s.engine.BeginMove(id, to)
		if err == nil && !m.Noop() {
			s.notify(ChangeTasks)
		}
	}) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("move task %d: %w", id, err)
	}
	if m.Noop() {
		return nil
	}

	logger := s.logger.WithFields(log.Fields{"task_id": id, "from": m.From, "to": m.To})
	status := to
	if _, err := s.api.UpdateTask(ctx, id, domain.TaskPatch{Status: &status}); err != nil {
		rolled := s.call(func() {
			if s.engine.Rollback(m) {
				s.opts.Metrics.Rollback()
				s.notify(ChangeTasks)
			}
		})
		if rolled {
			logger.WithError(err).Warn("move rejected, rolled back")
		} else {
			logger.WithError(err).Debug("move rejected after session closed")
		}
		return fmt.Errorf("move task %d: %w", id, err)
	}

	s.call(func() { s.engine.Settle(m) })
	logger.Debug("move persisted")
	return nil
}

// CreateTask persists a new task on this board. Nothing is applied locally;
// the task appears when the broadcast arrives.
func (s *Session) CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error) {
	if s.closed() {
		return domain.Task{}, ErrClosed
	}
	if in.BoardID == 0 {
		in.BoardID = s.boardID
	}
	if in.Status == "" {
		in.Status = domain.StatusTodo
	}
	t, err := s.api.CreateTask(ctx, in)
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// DeleteTask persists a deletion. The task leaves the local set when the
// broadcast arrives.
func (s *Session) DeleteTask(ctx context.Context, id int64) error {
	if s.closed() {
		return ErrClosed
	}
	if err := s.api.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

// PublishCursor sends the local pointer position. Positions sent while the
// connection is down are lost.
func (s *Session) PublishCursor(x, y float64, taskID *int64) bool {
	return s.publisher.Move(x, y, taskID)
}

// PublishCursorOver is PublishCursor with the hovered task resolved by the view.
func (s *Session) PublishCursorOver(x, y float64, resolve cursor.Resolver) bool {
	return s.publisher.MoveOver(x, y, resolve)
}

func (s *Session) Tasks() []domain.Task { return s.engine.Tasks() }

func (s *Session) Task(id int64) (domain.Task, bool) { return s.engine.Task(id) }

// Columns groups tasks by status for rendering.
func (s *Session) Columns() map[domain.TaskStatus][]domain.Task { return s.engine.ByStatus() }

func (s *Session) Users() []string { return s.presence.Users() }

func (s *Session) Cursors() map[string]domain.Cursor { return s.presence.Cursors() }

// UsersOnTask lists other users whose cursor hovers taskID.
func (s *Session) UsersOnTask(taskID int64) []string {
	return s.presence.UsersOnTask(taskID, s.self)
}

func (s *Session) Connected() bool { return s.conn.State() == realtime.StateOpen }

func (s *Session) State() realtime.State { return s.conn.State() }

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case fn := <-s.inbox:
			s.run(fn)
		case <-s.quit:
			return
		}
	}
}

func (s *Session) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("recovered from panic in session loop")
		}
	}()
	fn()
}

// post queues fn on the loop. It blocks while the inbox is full and returns
// false once the session is closing.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(fn func()) bool {
	done := make(chan struct{})
	if !s.post(func() {
		defer close(done)
		fn()
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-s.loopDone:
		return false
	}
}

func (s *Session) closed() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Session) onFrame(frame []byte) {
	s.post(func() { s.handleFrame(frame) })
}

func (s *Session) onState(st realtime.State) {
	s.post(func() {
		s.logger.WithField("state", st.String()).Debug("connection state changed")
		s.notify(ChangeConnection)
	})
}

func (s *Session) notify(kind ChangeKind) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(kind)
	}
}

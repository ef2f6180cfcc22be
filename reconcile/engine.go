// Package reconcile owns the local task collection of a board and merges the
// initial snapshot, server events and optimistic moves into it.
package reconcile

import (
	"errors"
	"sync"

	"github.com/Mark-maati/collab-board/domain"
)

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrMoveInFlight  = errors.New("move already in flight for task")
	ErrInvalidStatus = errors.New("invalid task status")
)

// Move remembers the status a task had before an optimistic move.
type Move struct {
	TaskID int64
	From   domain.TaskStatus
	To     domain.TaskStatus
	seq    uint64
}

// Noop reports whether the move did not change anything. A no-op move is
// never registered as in flight.
func (m Move) Noop() bool { return m.From == m.To }

// Engine is the canonical task collection for one board. Application is
// last-write-wins in call order.
type Engine struct {
	mu       sync.RWMutex
	tasks    []domain.Task
	inflight map[int64]Move
	seq      uint64
}

// NewEngine returns an empty engine with no pending moves.
func NewEngine() *Engine {
	return &Engine{inflight: make(map[int64]Move)}
}

// Seed replaces the collection with the initial snapshot. A repeated id keeps
// the first position and the last value.
func (e *Engine) Seed(tasks []domain.Task) {
	out := make([]domain.Task, 0, len(tasks))
	pos := make(map[int64]int, len(tasks))
	for _, t := range tasks {
		if i, ok := pos[t.ID]; ok {
			out[i] = t.Clone()
			continue
		}
		pos[t.ID] = len(out)
		out = append(out, t.Clone())
	}
	e.mu.Lock()
	e.tasks = out
	e.inflight = make(map[int64]Move)
	e.mu.Unlock()
}

// ApplyCreated appends t unless a task with the same id exists. It reports
// whether the collection changed.
func (e *Engine) ApplyCreated(t domain.Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexOf(t.ID) >= 0 {
		return false
	}
	e.tasks = append(e.tasks, t.Clone())
	return true
}

// ApplyReplace swaps in the full server representation of t. An unknown id is
// ignored so a late update cannot resurrect a deleted task.
func (e *Engine) ApplyReplace(t domain.Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(t.ID)
	if i < 0 {
		return false
	}
	e.tasks[i] = t.Clone()
	return true
}

// ApplyDeleted removes the task and any pending move for it. It reports
// whether the task was present.
func (e *Engine) ApplyDeleted(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(id)
	if i < 0 {
		return false
	}
	e.tasks = append(e.tasks[:i], e.tasks[i+1:]...)
	delete(e.inflight, id)
	return true
}

// BeginMove rewrites the status of task id to `to` before the durable
// request is made and returns the token needed to undo it.
func (e *Engine) BeginMove(id int64, to domain.TaskStatus) (Move, error) {
	if !to.Valid() {
		return Move{}, ErrInvalidStatus
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(id)
	if i < 0 {
		return Move{}, ErrUnknownTask
	}
	if _, busy := e.inflight[id]; busy {
		return Move{}, ErrMoveInFlight
	}
	m := Move{TaskID: id, From: e.tasks[i].Status, To: to}
	if m.Noop() {
		return m, nil
	}
	e.seq++
	m.seq = e.seq
	e.tasks[i].Status = to
	e.inflight[id] = m
	return m, nil
}

// Rollback restores the captured status if m is still the in-flight move and
// the task still exists. It reports whether the status was restored.
func (e *Engine) Rollback(m Move) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.release(m) {
		return false
	}
	i := e.indexOf(m.TaskID)
	if i < 0 {
		return false
	}
	e.tasks[i].Status = m.From
	return true
}

// Settle forgets m after the durable request succeeded. The broadcast echo
// carries the converged state.
func (e *Engine) Settle(m Move) {
	e.mu.Lock()
	e.release(m)
	e.mu.Unlock()
}

// InFlight reports whether task id has an unsettled optimistic move.
func (e *Engine) InFlight(id int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.inflight[id]
	return ok
}

// Tasks returns a copy of the collection in insertion order.
func (e *Engine) Tasks() []domain.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Task, len(e.tasks))
	for i, t := range e.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Task returns the current view of one task.
func (e *Engine) Task(id int64) (domain.Task, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i := e.indexOf(id)
	if i < 0 {
		return domain.Task{}, false
	}
	return e.tasks[i].Clone(), true
}

// Len returns the number of tasks on the board.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tasks)
}

// ByStatus groups the collection into board columns. Every known status has
// an entry; tasks keep collection order within a column.
func (e *Engine) ByStatus() map[domain.TaskStatus][]domain.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cols := make(map[domain.TaskStatus][]domain.Task, len(domain.Statuses))
	for _, s := range domain.Statuses {
		cols[s] = []domain.Task{}
	}
	for _, t := range e.tasks {
		cols[t.Status] = append(cols[t.Status], t.Clone())
	}
	return cols
}

func (e *Engine) release(m Move) bool {
	cur, ok := e.inflight[m.TaskID]
	if !ok || m.seq == 0 || cur.seq != m.seq {
		return false
	}
	delete(e.inflight, m.TaskID)
	return true
}

func (e *Engine) indexOf(id int64) int {
	for i := range e.tasks {
		if e.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

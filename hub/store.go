package hub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Mark-maati/collab-board/domain"
)

// Store is the durable side of the hub's task API.
type Store interface {
	CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	Board(ctx context.Context, id int64) (domain.Board, error)
	ListTasks(ctx context.Context, boardID int64) ([]domain.Task, error)
	CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error)
	// DeleteTask returns the board the task belonged to.
	DeleteTask(ctx context.Context, id int64) (int64, error)
}

// MemoryStore keeps boards and tasks in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	boards    map[int64]domain.Board
	tasks     map[int64]domain.Task
	nextBoard int64
	nextTask  int64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		boards: make(map[int64]domain.Board),
		tasks:  make(map[int64]domain.Task),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateBoard(_ context.Context, b domain.Board) (domain.Board, error) {
	if b.Name == "" {
		return domain.Board{}, errors.New("board name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBoard++
	b.ID = s.nextBoard
	b.CreatedAt = domain.NewTimestamp(s.now())
	b.UpdatedAt = domain.Timestamp{}
	b.Tasks = nil
	s.boards[b.ID] = b
	return b, nil
}

func (s *MemoryStore) Board(_ context.Context, id int64) (domain.Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[id]
	if !ok {
		return domain.Board{}, ErrBoardNotFound
	}
	b.Tasks = s.boardTasks(id)
	return b, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, boardID int64) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.boards[boardID]; !ok {
		return nil, ErrBoardNotFound
	}
	return s.boardTasks(boardID), nil
}

func (s *MemoryStore) CreateTask(_ context.Context, in domain.NewTask) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[in.BoardID]; !ok {
		return domain.Task{}, ErrBoardNotFound
	}
	s.nextTask++
	t := domain.Task{
		ID:          s.nextTask,
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Position:    in.Position,
		BoardID:     in.BoardID,
		AssignedTo:  in.AssignedTo,
		CreatedAt:   domain.NewTimestamp(s.now()),
	}
	s.tasks[t.ID] = t.Clone()
	return t, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		d := *patch.Description
		t.Description = &d
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Position != nil {
		t.Position = *patch.Position
	}
	if patch.AssignedTo != nil {
		a := *patch.AssignedTo
		t.AssignedTo = &a
	}
	t.UpdatedAt = domain.NewTimestamp(s.now())
	s.tasks[id] = t
	return t.Clone(), nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return 0, ErrTaskNotFound
	}
	delete(s.tasks, id)
	return t.BoardID, nil
}

// boardTasks returns the tasks of a board ordered by position, then id.
func (s *MemoryStore) boardTasks(boardID int64) []domain.Task {
	out := []domain.Task{}
	for _, t := range s.tasks {
		if t.BoardID == boardID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

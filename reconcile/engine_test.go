package reconcile

import (
	"errors"
	"testing"

	"github.com/Mark-maati/collab-board/domain"
)

func task(id int64, status domain.TaskStatus) domain.Task {
	return domain.Task{ID: id, Title: "t", Status: status, BoardID: 7}
}

func TestApplyCreatedIsIdempotent(t *testing.T) {
	e := NewEngine()
	if !e.ApplyCreated(task(1, domain.StatusTodo)) {
		t.Fatalf("expected first create to apply")
	}
	if e.ApplyCreated(task(1, domain.StatusDone)) {
		t.Fatalf("expected duplicate create to be dropped")
	}
	if e.Len() != 1 {
		t.Fatalf("expected exactly one task, got %d", e.Len())
	}
	got, _ := e.Task(1)
	if got.Status != domain.StatusTodo {
		t.Fatalf("duplicate create overwrote task: %s", got.Status)
	}
}

func TestDeletionIsTerminal(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{task(1, domain.StatusTodo)})
	if !e.ApplyDeleted(1) {
		t.Fatalf("expected delete to apply")
	}
	if e.ApplyReplace(task(1, domain.StatusDone)) {
		t.Fatalf("update of unknown id must be a no-op")
	}
	if _, ok := e.Task(1); ok {
		t.Fatalf("deleted task reintroduced")
	}
	if e.ApplyDeleted(1) {
		t.Fatalf("second delete should report no change")
	}
}

func TestApplyReplaceUsesFullPayload(t *testing.T) {
	e := NewEngine()
	desc := "old"
	orig := task(1, domain.StatusTodo)
	orig.Description = &desc
	e.Seed([]domain.Task{orig, task(2, domain.StatusTodo)})

	upd := task(1, domain.StatusReview)
	upd.Title = "renamed"
	e.ApplyReplace(upd)

	got, _ := e.Task(1)
	if got.Title != "renamed" || got.Status != domain.StatusReview || got.Description != nil {
		t.Fatalf("expected whole-object replace, got %+v", got)
	}
	if tasks := e.Tasks(); tasks[0].ID != 1 || tasks[1].ID != 2 {
		t.Fatalf("replace changed collection order: %+v", tasks)
	}
}

func TestOptimisticRollback(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{task(1, domain.StatusTodo)})

	m, err := e.BeginMove(1, domain.StatusInProgress)
	if err != nil {
		t.Fatalf("BeginMove error: %v", err)
	}
	if got, _ := e.Task(1); got.Status != domain.StatusInProgress {
		t.Fatalf("expected optimistic in_progress, got %s", got.Status)
	}
	if !e.Rollback(m) {
		t.Fatalf("expected rollback to restore")
	}
	if got, _ := e.Task(1); got.Status != domain.StatusTodo {
		t.Fatalf("expected todo after rollback, got %s", got.Status)
	}
	if e.InFlight(1) {
		t.Fatalf("rollback should clear in-flight move")
	}
}

func TestRollbackAfterBroadcastRestoresCapturedStatus(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{task(1, domain.StatusTodo)})
	m, _ := e.BeginMove(1, domain.StatusDone)
	e.ApplyReplace(task(1, domain.StatusReview))

	e.Rollback(m)
	if got, _ := e.Task(1); got.Status != domain.StatusTodo {
		t.Fatalf("expected captured status todo, got %s", got.Status)
	}
}

func TestRollbackOfDeletedTaskIsNoop(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{task(1, domain.StatusTodo)})
	m, _ := e.BeginMove(1, domain.StatusDone)
	e.ApplyDeleted(1)

	if e.Rollback(m) {
		t.Fatalf("rollback must not resurrect a deleted task")
	}
	if e.Len() != 0 {
		t.Fatalf("expected empty collection")
	}
}

func TestSettleKeepsOptimisticState(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{task(1, domain.StatusTodo)})
	m, _ := e.BeginMove(1, domain.StatusDone)
	e.Settle(m)

	if e.InFlight(1) {
		t.Fatalf("settle should clear in-flight move")
	}
	if e.Rollback(m) {
		t.Fatalf("settled move must not roll back")
	}
	if got, _ := e.Task(1); got.Status != domain.StatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
}

func TestBeginMoveErrors(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{task(1, domain.StatusTodo)})

	if _, err := e.BeginMove(9, domain.StatusDone); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if _, err := e.BeginMove(1, "archived"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := e.BeginMove(1, domain.StatusDone); err != nil {
		t.Fatalf("BeginMove error: %v", err)
	}
	if _, err := e.BeginMove(1, domain.StatusReview); !errors.Is(err, ErrMoveInFlight) {
		t.Fatalf("expected ErrMoveInFlight, got %v", err)
	}
}

func TestBeginMoveSameStatusIsNoop(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{task(1, domain.StatusTodo)})
	m, err := e.BeginMove(1, domain.StatusTodo)
	if err != nil {
		t.Fatalf("BeginMove error: %v", err)
	}
	if !m.Noop() || e.InFlight(1) {
		t.Fatalf("expected unregistered no-op move")
	}
}

func TestSeedCollapsesDuplicates(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{task(1, domain.StatusTodo), task(2, domain.StatusTodo), task(1, domain.StatusDone)})
	tasks := e.Tasks()
	if len(tasks) != 2 || tasks[0].ID != 1 || tasks[0].Status != domain.StatusDone {
		t.Fatalf("unexpected seeded tasks %+v", tasks)
	}
}

func TestByStatus(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{
		task(1, domain.StatusTodo),
		task(2, domain.StatusDone),
		task(3, domain.StatusTodo),
	})
	cols := e.ByStatus()
	if len(cols) != len(domain.Statuses) {
		t.Fatalf("expected a column per status, got %d", len(cols))
	}
	todo := cols[domain.StatusTodo]
	if len(todo) != 2 || todo[0].ID != 1 || todo[1].ID != 3 {
		t.Fatalf("unexpected todo column %+v", todo)
	}
	if len(cols[domain.StatusReview]) != 0 {
		t.Fatalf("expected empty review column")
	}
}

func TestTasksReturnsCopy(t *testing.T) {
	e := NewEngine()
	e.Seed([]domain.Task{task(1, domain.StatusTodo)})
	tasks := e.Tasks()
	tasks[0].Status = domain.StatusDone
	if got, _ := e.Task(1); got.Status != domain.StatusTodo {
		t.Fatalf("engine state aliased by Tasks result")
	}
}

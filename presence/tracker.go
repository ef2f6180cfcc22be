// Package presence holds who is connected to a board and where their
// pointers are.
package presence

import (
	"sort"
	"sync"

	"github.com/Mark-maati/collab-board/domain"
)

// PaletteSize is the number of distinct user colours.
const PaletteSize = 8

// Tracker stores the presence list and cursor map of one board. Writes are
// replace or upsert only. Reads return copies and are safe from any goroutine.
type Tracker struct {
	mu      sync.RWMutex
	users   []string
	cursors map[string]domain.Cursor
}

func NewTracker() *Tracker {
	return &Tracker{
		users:   []string{},
		cursors: make(map[string]domain.Cursor),
	}
}

// ReplaceUsers discards the current presence list and stores users in the
// order the server sent them.
func (t *Tracker) ReplaceUsers(users []string) {
	cp := make([]string, len(users))
	copy(cp, users)
	t.mu.Lock()
	t.users = cp
	t.mu.Unlock()
}

// ReplaceCursors discards every known cursor and stores cursors.
func (t *Tracker) ReplaceCursors(cursors map[string]domain.Cursor) {
	cp := make(map[string]domain.Cursor, len(cursors))
	for id, c := range cursors {
		cp[id] = copyCursor(c)
	}
	t.mu.Lock()
	t.cursors = cp
	t.mu.Unlock()
}

// UpsertCursor records the latest position for userID. Entries are never
// pruned when a user leaves.
func (t *Tracker) UpsertCursor(userID string, c domain.Cursor) {
	t.mu.Lock()
	t.cursors[userID] = copyCursor(c)
	t.mu.Unlock()
}

// Users returns the presence list in server order.
func (t *Tracker) Users() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.users))
	copy(out, t.users)
	return out
}

func (t *Tracker) Cursors() map[string]domain.Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]domain.Cursor, len(t.cursors))
	for id, c := range t.cursors {
		out[id] = copyCursor(c)
	}
	return out
}

func (t *Tracker) Cursor(userID string) (domain.Cursor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.cursors[userID]
	return copyCursor(c), ok
}

// UsersOnTask lists users whose last cursor hovers taskID, excluding self.
func (t *Tracker) UsersOnTask(taskID int64, self string) []string {
	t.mu.RLock()
	var out []string
	for id, c := range t.cursors {
		if id == self || c.TaskID == nil || *c.TaskID != taskID {
			continue
		}
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Color returns a stable palette index in [0, PaletteSize) for userID.
func Color(userID string) int {
	sum := 0
	for _, r := range userID {
		sum += int(r)
	}
	return sum % PaletteSize
}

func copyCursor(c domain.Cursor) domain.Cursor {
	if c.TaskID != nil {
		id := *c.TaskID
		c.TaskID = &id
	}
	return c
}

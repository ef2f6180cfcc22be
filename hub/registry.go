package hub

import (
	"strconv"
	"sync"

	"github.com/Mark-maati/collab-board/domain"
	"github.com/Mark-maati/collab-board/metrics"
)

// Limits caps concurrent connections. Zero disables a limit.
type Limits struct {
	PerBoard int
	PerUser  int
}

type boardRoom struct {
	clients []*client
	cursors map[string]domain.Cursor
}

// registry tracks live connections per board along with the last cursor of
// every user on it.
type registry struct {
	mu      sync.Mutex
	limits  Limits
	boards  map[int64]*boardRoom
	perUser map[string]int
	metrics *metrics.Metrics
}

func newRegistry(limits Limits, m *metrics.Metrics) *registry {
	return &registry{
		limits:  limits,
		boards:  make(map[int64]*boardRoom),
		perUser: make(map[string]int),
		metrics: m,
	}
}

// join admits c unless a limit is reached. The user limit is checked first.
func (r *registry) join(c *client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limits.PerUser > 0 && r.perUser[c.userID] >= r.limits.PerUser {
		return ErrUserLimit
	}
	room := r.boards[c.boardID]
	if room != nil && r.limits.PerBoard > 0 && len(room.clients) >= r.limits.PerBoard {
		return ErrBoardFull
	}
	if room == nil {
		room = &boardRoom{cursors: make(map[string]domain.Cursor)}
		r.boards[c.boardID] = room
	}
	room.clients = append(room.clients, c)
	r.perUser[c.userID]++
	r.metrics.HubConnections(boardLabel(c.boardID), len(room.clients))
	return nil
}

// leave removes c and the user's cursor. It reports whether c was joined.
func (r *registry) leave(c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.boards[c.boardID]
	if room == nil {
		return false
	}
	idx := -1
	for i, other := range room.clients {
		if other == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	room.clients = append(room.clients[:idx], room.clients[idx+1:]...)
	if n := r.perUser[c.userID] - 1; n > 0 {
		r.perUser[c.userID] = n
	} else {
		delete(r.perUser, c.userID)
	}
	delete(room.cursors, c.userID)
	r.metrics.HubConnections(boardLabel(c.boardID), len(room.clients))
	if len(room.clients) == 0 {
		delete(r.boards, c.boardID)
	}
	return true
}

// activeUsers lists distinct users on a board in first-connect order.
func (r *registry) activeUsers(boardID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := []string{}
	room := r.boards[boardID]
	if room == nil {
		return users
	}
	seen := make(map[string]struct{}, len(room.clients))
	for _, c := range room.clients {
		if _, ok := seen[c.userID]; ok {
			continue
		}
		seen[c.userID] = struct{}{}
		users = append(users, c.userID)
	}
	return users
}

func (r *registry) cursors(boardID int64) map[string]domain.Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]domain.Cursor{}
	if room := r.boards[boardID]; room != nil {
		for id, c := range room.cursors {
			out[id] = c
		}
	}
	return out
}

func (r *registry) setCursor(boardID int64, userID string, c domain.Cursor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room := r.boards[boardID]; room != nil {
		room.cursors[userID] = c
	}
}

func (r *registry) clients(boardID int64) []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.boards[boardID]
	if room == nil {
		return nil
	}
	out := make([]*client, len(room.clients))
	copy(out, room.clients)
	return out
}

func (r *registry) all() []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*client
	for _, room := range r.boards {
		out = append(out, room.clients...)
	}
	return out
}

// broadcast queues frame for every client on the board except exclude.
// Clients whose queue is full are disconnected.
func (r *registry) broadcast(boardID int64, frame []byte, exclude *client) {
	for _, c := range r.clients(boardID) {
		if c == exclude {
			continue
		}
		if !c.enqueue(frame) {
			r.metrics.SendDropped()
		}
	}
}

func boardLabel(id int64) string {
	return strconv.FormatInt(id, 10)
}

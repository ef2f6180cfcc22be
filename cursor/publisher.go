// Package cursor forwards local pointer positions to the board channel.
package cursor

import (
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Mark-maati/collab-board/domain"
)

// Sender is the outbound side of a realtime connection.
type Sender interface {
	Send(frame []byte) bool
}

// Resolver maps a pointer position to the task under it, if any.
type Resolver func(x, y float64) (taskID int64, ok bool)

// Throttle coalesces pointer updates. The zero value sends every move.
type Throttle struct {
	// Interval is the minimum time between two sends. The latest move
	// suppressed by it is sent on a trailing timer.
	Interval time.Duration
	// MinDistance drops moves closer than this to the last sent position
	// over the same task. Dropped moves are never sent later.
	MinDistance float64
}

func (t Throttle) enabled() bool { return t.Interval > 0 || t.MinDistance > 0 }

// Publisher turns pointer moves into cursor_move frames. When rate limited,
// the most recent suppressed position is flushed on a trailing timer.
type Publisher struct {
	out      Sender
	throttle Throttle
	limiter  *rate.Limiter
	logger   log.FieldLogger

	mu      sync.Mutex
	last    *domain.Cursor
	pending *domain.Cursor
	timer   *time.Timer
	stopped bool
}

func NewPublisher(out Sender, throttle Throttle, logger log.FieldLogger) *Publisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	p := &Publisher{out: out, throttle: throttle, logger: logger}
	if throttle.Interval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(throttle.Interval), 1)
	}
	return p
}

// Move publishes the pointer at (x, y), optionally over taskID. It reports
// whether a frame was handed to the connection and accepted.
func (p *Publisher) Move(x, y float64, taskID *int64) bool {
	c := domain.Cursor{X: x, Y: y}
	if taskID != nil {
		id := *taskID
		c.TaskID = &id
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if !p.throttle.enabled() {
		return p.send(c)
	}
	if p.near(c) {
		// Peers already see a position close to this one.
		p.pending = nil
		return false
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.pending = &c
		p.scheduleFlush()
		return false
	}
	p.pending = nil
	return p.send(c)
}

// MoveOver publishes the pointer and lets resolve decide which task it hovers.
func (p *Publisher) MoveOver(x, y float64, resolve Resolver) bool {
	if resolve == nil {
		return p.Move(x, y, nil)
	}
	if id, ok := resolve(x, y); ok {
		return p.Move(x, y, &id)
	}
	return p.Move(x, y, nil)
}

// Stop cancels any pending trailing flush. Later moves are ignored.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Publisher) send(c domain.Cursor) bool {
	frame, err := domain.EncodeCursorMove(c)
	if err != nil {
		p.logger.WithError(err).Warn("encode cursor_move")
		return false
	}
	if !p.out.Send(frame) {
		return false
	}
	p.last = &c
	return true
}

func (p *Publisher) near(c domain.Cursor) bool {
	if p.throttle.MinDistance <= 0 || p.last == nil {
		return false
	}
	if !sameTask(p.last.TaskID, c.TaskID) {
		return false
	}
	return math.Hypot(c.X-p.last.X, c.Y-p.last.Y) < p.throttle.MinDistance
}

func (p *Publisher) scheduleFlush() {
	if p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(p.throttle.Interval, p.flush)
}

func (p *Publisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = nil
	if p.stopped || p.pending == nil {
		return
	}
	c := *p.pending
	p.pending = nil
	if p.limiter != nil {
		p.limiter.Allow()
	}
	p.send(c)
}

func sameTask(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

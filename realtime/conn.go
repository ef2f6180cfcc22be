package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Mark-maati/collab-board/metrics"
)

// DefaultRetryDelay is the fixed pause between a close and the next attempt.
const DefaultRetryDelay = 3 * time.Second

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// Dialer opens a websocket connection. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures a Conn.
type Options struct {
	// BaseURL is the ws:// or wss:// prefix, e.g. ws://localhost:8000/ws.
	BaseURL    string
	RetryDelay time.Duration
	// Token, when set, is consulted before every dial so a refreshed or
	// cleared credential reaches the next attempt. It replaces the token
	// passed to Open.
	Token   func() string
	Dialer  Dialer
	Logger  log.FieldLogger
	Metrics *metrics.Metrics
	// OnFrame receives every inbound text frame in arrival order. It runs on
	// the reader goroutine; blocking it applies backpressure to the socket.
	OnFrame func(frame []byte)
	// OnState is called after every state transition.
	OnState func(State)
}

// Conn owns one long-lived connection for a board view and keeps it alive
// until Close is called.
type Conn struct {
	boardID int64
	token   string
	opts    Options
	logger  log.FieldLogger

	mu      sync.Mutex
	ws      *websocket.Conn
	state   State
	closing bool

	writeMu sync.Mutex

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// URL builds <base>/<boardID>?token=<token>.
func URL(base string, boardID int64, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse websocket base url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("websocket base url must use ws or wss, got %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strconv.FormatInt(boardID, 10)
	q := url.Values{}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open starts connecting to the board channel in the background and returns
// immediately with the Conn in StateConnecting.
func Open(boardID int64, token string, opts Options) (*Conn, error) {
	if _, err := URL(opts.BaseURL, boardID, token); err != nil {
		return nil, err
	}
	if opts.RetryDelay < 0 {
		return nil, errors.New("retry delay must not be negative")
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		boardID: boardID,
		token:   token,
		opts:    opts,
		logger:  opts.Logger.WithField("board_id", boardID),
		state:   StateConnecting,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run(ctx)
	return c, nil
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send writes frame if the connection is open. Otherwise the frame is
// dropped: it is never queued or retried. The result reports whether the
// frame was written.
func (c *Conn) Send(frame []byte) bool {
	c.mu.Lock()
	ws, state := c.ws, c.state
	c.mu.Unlock()
	if state != StateOpen || ws == nil {
		c.opts.Metrics.SendDropped()
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.WithError(err).Debug("realtime send failed, frame dropped")
		c.opts.Metrics.SendDropped()
		return false
	}
	c.opts.Metrics.FrameSent()
	return true
}

// Close stops reconnection, releases the transport and waits for the
// background goroutine. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		ws := c.ws
		c.mu.Unlock()

		c.cancel()
		if ws != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = ws.Close()
		}
		<-c.done

		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.notify(StateClosed)
		c.logger.Debug("realtime connection torn down")
	})
	return nil
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.opts.Metrics.Reconnect()
		}
		c.setState(StateConnecting)

		u, err := c.dialURL()
		if err != nil {
			c.logger.WithError(err).Error("realtime url invalid, giving up")
			return
		}
		ws, _, err := c.opts.Dialer.DialContext(ctx, u, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).WithField("attempt", attempt+1).Warn("realtime connect failed")
		} else {
			if !c.attach(ws) {
				_ = ws.Close()
				return
			}
			c.readLoop(ctx, ws)
			c.detach(ws)
			if ctx.Err() != nil {
				return
			}
		}

		c.setState(StateRetryScheduled)
		timer := time.NewTimer(c.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// dialURL builds the connect URL with the current token.
func (c *Conn) dialURL() (string, error) {
	token := c.token
	if c.opts.Token != nil {
		token = c.opts.Token()
	}
	return URL(c.opts.BaseURL, c.boardID, token)
}

func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return false
	}
	ws.SetReadLimit(maxFrameSize)
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()

	c.logger.Info("realtime connection open")
	c.notify(StateOpen)
	return true
}

func (c *Conn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.logger.WithFields(log.Fields{
					"code":   ce.Code,
					"reason": ce.Text,
				}).Warn("realtime connection closed by server")
			} else {
				c.logger.WithError(err).Warn("realtime connection lost")
			}
			return
		}
		if mt != websocket.TextMessage {
			c.logger.WithField("message_type", mt).Debug("ignoring non-text frame")
			continue
		}
		if c.opts.OnFrame != nil {
			c.opts.OnFrame(data)
		}
	}
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.closing || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Conn) notify(s State) {
	c.opts.Metrics.SetState(s.String(), stateNames)
	c.logger.WithField("state", s.String()).Debug("realtime state changed")
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

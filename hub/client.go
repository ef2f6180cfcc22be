package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// client is one accepted websocket on a board.
type client struct {
	id      string
	boardID int64
	userID  string
	ws      *websocket.Conn
	logger  log.FieldLogger

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(id string, boardID int64, userID string, ws *websocket.Conn, logger log.FieldLogger) *client {
	return &client{
		id:      id,
		boardID: boardID,
		userID:  userID,
		ws:      ws,
		logger: logger.WithFields(log.Fields{
			"conn_id":  id,
			"board_id": boardID,
			"user_id":  userID,
		}),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue hands frame to the write pump. A slow client is disconnected
// instead of blocking the broadcaster.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("send buffer full, disconnecting client")
		c.close()
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// closeWith sends a close frame with code and reason, then closes.
func (c *client) closeWith(code int, reason string) {
	closeWithCode(c.ws, code, reason)
	c.close()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.WithError(err).Debug("write failed")
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func closeWithCode(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = ws.Close()
}

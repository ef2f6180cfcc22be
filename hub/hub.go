// Package hub is a reference server for the board channel: it tracks who is
// connected to each board, relays cursors and broadcasts task changes made
// through its REST API.
package hub

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Mark-maati/collab-board/domain"
	"github.com/Mark-maati/collab-board/metrics"
)

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	UserID(token string) (string, error)
	UserIDFromAuthHeader(header string) (string, error)
}

// Config wires a Hub.
type Config struct {
	Store   Store
	Auth    Authenticator
	Limits  Limits
	Relay   *Relay
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

type Hub struct {
	store    Store
	auth     Authenticator
	relay    *Relay
	registry *registry
	upgrader websocket.Upgrader
	logger   *log.Logger
	metrics  *metrics.Metrics
}

func New(cfg Config) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errors.New("hub: store is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("hub: authenticator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	return &Hub{
		store:    cfg.Store,
		auth:     cfg.Auth,
		relay:    cfg.Relay,
		registry: newRegistry(cfg.Limits, cfg.Metrics),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Start subscribes to the relay, if any, so task events published by other
// hub instances reach local clients.
func (h *Hub) Start(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Start(ctx, h.deliver)
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.registry.all() {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// PublishTaskEvent broadcasts a task change to every client on the board,
// through the relay when one is configured.
func (h *Hub) PublishTaskEvent(ctx context.Context, boardID int64, eventType string, payload any) {
	frame, err := domain.EncodeEvent(eventType, payload, "", time.Now())
	if err != nil {
		h.logger.WithError(err).WithField("event_type", eventType).Error("encode task event")
		return
	}
	if h.relay != nil {
		err := h.relay.Publish(ctx, boardID, frame)
		if err == nil {
			return
		}
		h.logger.WithError(err).WithField("board_id", boardID).Warn("relay publish failed, delivering locally")
	}
	h.deliver(boardID, frame)
}

func (h *Hub) deliver(boardID int64, frame []byte) {
	h.registry.broadcast(boardID, frame, nil)
}

func (h *Hub) serveWS(c echo.Context) error {
	boardID, err := strconv.ParseInt(c.Param("board_id"), 10, 64)
	if err != nil || boardID <= 0 {
		return c.JSON(http.StatusBadRequest, detail("invalid board id"))
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.WithError(err).Debug("websocket upgrade failed")
		return nil
	}

	userID, err := h.auth.UserID(c.QueryParam("token"))
	if err != nil {
		h.metrics.HubRejected("invalid_token")
		h.logger.WithError(err).WithField("board_id", boardID).Info("rejecting websocket with invalid token")
		closeWithCode(ws, CloseInvalidToken, "Invalid or expired token")
		return nil
	}

	cl := newClient(uuid.NewString(), boardID, userID, ws, h.logger)
	if err := h.registry.join(cl); err != nil {
		reason := "board_full"
		if errors.Is(err, ErrUserLimit) {
			reason = "user_limit"
		}
		h.metrics.HubRejected(reason)
		cl.logger.WithError(err).Info("rejecting websocket over connection limit")
		closeWithCode(ws, websocket.ClosePolicyViolation, err.Error())
		return nil
	}
	cl.logger.Info("client connected")

	go cl.writePump()
	h.broadcastPresence(domain.EventUserJoined, cl, cl)
	h.sendSnapshot(cl)

	h.readPump(cl)

	if h.registry.leave(cl) {
		h.broadcastPresence(domain.EventUserLeft, cl, nil)
	}
	cl.close()
	cl.logger.Info("client disconnected")
	return nil
}

type presenceBody struct {
	UserID      string   `json:"user_id"`
	ActiveUsers []string `json:"active_users"`
}

type snapshotBody struct {
	ActiveUsers []string                 `json:"active_users"`
	Cursors     map[string]domain.Cursor `json:"cursors"`
}

type cursorBody struct {
	UserID string        `json:"user_id"`
	Cursor domain.Cursor `json:"cursor"`
}

type errorEventBody struct {
	Message string `json:"message"`
}

type inboundMessage struct {
	Type    string                 `json:"type"`
	Payload sonic.NoCopyRawMessage `json:"payload"`
}

func (h *Hub) broadcastPresence(eventType string, cl *client, exclude *client) {
	body := presenceBody{UserID: cl.userID, ActiveUsers: h.registry.activeUsers(cl.boardID)}
	frame, err := domain.EncodeEvent(eventType, body, "", time.Now())
	if err != nil {
		cl.logger.WithError(err).Error("encode presence event")
		return
	}
	h.registry.broadcast(cl.boardID, frame, exclude)
}

func (h *Hub) sendSnapshot(cl *client) {
	body := snapshotBody{
		ActiveUsers: h.registry.activeUsers(cl.boardID),
		Cursors:     h.registry.cursors(cl.boardID),
	}
	frame, err := domain.EncodeEvent(domain.EventConnectionEstablished, body, "", time.Time{})
	if err != nil {
		cl.logger.WithError(err).Error("encode snapshot")
		return
	}
	cl.enqueue(frame)
}

func (h *Hub) readPump(cl *client) {
	cl.ws.SetReadLimit(maxMessageSize)
	_ = cl.ws.SetReadDeadline(time.Now().Add(pongWait))
	cl.ws.SetPongHandler(func(string) error {
		return cl.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := cl.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				cl.logger.WithError(err).Warn("read error")
			}
			return
		}
		_ = cl.ws.SetReadDeadline(time.Now().Add(pongWait))
		h.handleInbound(cl, data)
	}
}

func (h *Hub) handleInbound(cl *client, data []byte) {
	msg, err := parseInbound(data)
	if err != nil {
		h.metrics.FrameMalformed()
		h.sendError(cl, errInvalidMessage.Error())
		return
	}
	h.metrics.FrameReceived(msg.Type)

	switch msg.Type {
	case domain.EventCursorMove:
		var cur domain.Cursor
		if len(msg.Payload) > 0 {
			if err := sonic.Unmarshal(msg.Payload, &cur); err != nil {
				h.metrics.FrameMalformed()
				h.sendError(cl, errInvalidMessage.Error())
				return
			}
		}
		h.registry.setCursor(cl.boardID, cl.userID, cur)
		frame, err := domain.EncodeEvent(domain.EventCursorMove, cursorBody{UserID: cl.userID, Cursor: cur}, "", time.Now())
		if err != nil {
			cl.logger.WithError(err).Error("encode cursor event")
			return
		}
		h.registry.broadcast(cl.boardID, frame, nil)
	case "ping":
	default:
		cl.logger.WithField("type", msg.Type).Debug("ignoring inbound message")
	}
}

func (h *Hub) sendError(cl *client, message string) {
	frame, err := domain.EncodeEvent(domain.EventError, errorEventBody{Message: message}, "", time.Time{})
	if err != nil {
		return
	}
	cl.enqueue(frame)
}

// parseInbound accepts {"type": string, "payload"?: object}.
func parseInbound(data []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.Type == "" {
		return msg, errInvalidMessage
	}
	if len(msg.Payload) > 0 && !isJSONObject(msg.Payload) {
		return msg, errInvalidMessage
	}
	return msg, nil
}

func isJSONObject(raw []byte) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

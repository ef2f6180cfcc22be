package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Mark-maati/collab-board/auth"
	"github.com/Mark-maati/collab-board/domain"
)

var testSecret = []byte("hub-test-secret")

type testHub struct {
	hub   *Hub
	store *MemoryStore
	srv   *httptest.Server
	hook  *test.Hook
}

func newTestHub(t *testing.T, limits Limits) *testHub {
	t.Helper()
	verifier, err := auth.NewHS256Verifier(testSecret)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	store := NewMemoryStore()
	h, err := New(Config{Store: store, Auth: verifier, Limits: limits, Logger: logger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testHub{hub: h, store: store, srv: newServer(t, h), hook: hook}
}

func newServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(h, nil))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return srv
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := auth.MintHS256(testSecret, user, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}

func (th *testHub) board(t *testing.T) int64 {
	t.Helper()
	b, err := th.store.CreateBoard(context.Background(), domain.Board{Name: "b"})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	return b.ID
}

func (th *testHub) dial(t *testing.T, boardID int64, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(th.srv.URL, "http") + "/ws/" + itoa(boardID) + "?token=" + tok
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func itoa(id int64) string { return boardLabel(id) }

type wireFrame struct {
	Type      string                 `json:"type"`
	Payload   sonic.NoCopyRawMessage `json:"payload"`
	Timestamp string                 `json:"timestamp"`
}

func readFrame(t *testing.T, ws *websocket.Conn) wireFrame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f wireFrame
	if err := sonic.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func expectFrame(t *testing.T, ws *websocket.Conn, eventType string, into any) wireFrame {
	t.Helper()
	f := readFrame(t, ws)
	if f.Type != eventType {
		t.Fatalf("expected %s, got %s (%s)", eventType, f.Type, f.Payload)
	}
	if into != nil {
		if err := sonic.Unmarshal(f.Payload, into); err != nil {
			t.Fatalf("payload %s: %v", f.Payload, err)
		}
	}
	return f
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, code) {
			t.Fatalf("expected close %d, got %v", code, err)
		}
		return
	}
}

func TestJoinSendsSnapshotAndNotifiesOthers(t *testing.T) {
	th := newTestHub(t, Limits{})
	board := th.board(t)

	a := th.dial(t, board, token(t, "alice"))
	var snap snapshotBody
	f := expectFrame(t, a, domain.EventConnectionEstablished, &snap)
	if f.Timestamp != "" {
		t.Fatalf("snapshot should carry no timestamp, got %q", f.Timestamp)
	}
	if len(snap.ActiveUsers) != 1 || snap.ActiveUsers[0] != "alice" {
		t.Fatalf("unexpected active users %v", snap.ActiveUsers)
	}

	b := th.dial(t, board, token(t, "bob"))
	var joined presenceBody
	f = expectFrame(t, a, domain.EventUserJoined, &joined)
	if joined.UserID != "bob" || strings.Join(joined.ActiveUsers, ",") != "alice,bob" {
		t.Fatalf("unexpected join payload %+v", joined)
	}
	if f.Timestamp == "" {
		t.Fatalf("user_joined should be timestamped")
	}
	snap = snapshotBody{}
	expectFrame(t, b, domain.EventConnectionEstablished, &snap)
	if strings.Join(snap.ActiveUsers, ",") != "alice,bob" {
		t.Fatalf("unexpected snapshot users %v", snap.ActiveUsers)
	}

	b.Close()
	var left presenceBody
	expectFrame(t, a, domain.EventUserLeft, &left)
	if left.UserID != "bob" || strings.Join(left.ActiveUsers, ",") != "alice" {
		t.Fatalf("unexpected leave payload %+v", left)
	}
}

func TestCursorRelayedToEveryoneIncludingSender(t *testing.T) {
	th := newTestHub(t, Limits{})
	board := th.board(t)
	a := th.dial(t, board, token(t, "alice"))
	expectFrame(t, a, domain.EventConnectionEstablished, nil)
	b := th.dial(t, board, token(t, "bob"))
	expectFrame(t, a, domain.EventUserJoined, nil)
	expectFrame(t, b, domain.EventConnectionEstablished, nil)

	if err := a.WriteMessage(websocket.TextMessage, []byte(`{"type":"cursor_move","payload":{"x":3,"y":4,"taskId":9}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, ws := range []*websocket.Conn{a, b} {
		var got cursorBody
		expectFrame(t, ws, domain.EventCursorMove, &got)
		if got.UserID != "alice" || got.Cursor.X != 3 || got.Cursor.TaskID == nil || *got.Cursor.TaskID != 9 {
			t.Fatalf("unexpected cursor %+v", got)
		}
	}

	c := th.dial(t, board, token(t, "carol"))
	var snap snapshotBody
	expectFrame(t, c, domain.EventConnectionEstablished, &snap)
	if cur, ok := snap.Cursors["alice"]; !ok || cur.Y != 4 {
		t.Fatalf("snapshot missing stored cursor: %+v", snap.Cursors)
	}
}

func TestInvalidInboundMessageGetsErrorEvent(t *testing.T) {
	th := newTestHub(t, Limits{})
	board := th.board(t)
	a := th.dial(t, board, token(t, "alice"))
	expectFrame(t, a, domain.EventConnectionEstablished, nil)

	for _, msg := range []string{`not json`, `{"payload":{}}`, `{"type":"cursor_move","payload":[1]}`} {
		if err := a.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		var body errorEventBody
		expectFrame(t, a, domain.EventError, &body)
		if body.Message != "Invalid message format" {
			t.Fatalf("unexpected error message %q", body.Message)
		}
	}

	// ping is accepted silently; the next frame is the cursor echo
	_ = a.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`))
	_ = a.WriteMessage(websocket.TextMessage, []byte(`{"type":"cursor_move","payload":{"x":1,"y":1}}`))
	expectFrame(t, a, domain.EventCursorMove, nil)
}

func TestInvalidTokenClosesWith4001(t *testing.T) {
	th := newTestHub(t, Limits{})
	board := th.board(t)
	ws := th.dial(t, board, "garbage")
	expectClose(t, ws, CloseInvalidToken)
}

func TestUserLimitCheckedBeforeBoardLimit(t *testing.T) {
	th := newTestHub(t, Limits{PerBoard: 1, PerUser: 1})
	board := th.board(t)
	a := th.dial(t, board, token(t, "alice"))
	expectFrame(t, a, domain.EventConnectionEstablished, nil)

	again := th.dial(t, board, token(t, "alice"))
	_ = again.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := again.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	if !ok || ce.Code != websocket.ClosePolicyViolation || ce.Text != ErrUserLimit.Error() {
		t.Fatalf("expected user limit close, got %v", err)
	}

	other := th.dial(t, board, token(t, "bob"))
	_ = other.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = other.ReadMessage()
	ce, ok = err.(*websocket.CloseError)
	if !ok || ce.Code != websocket.ClosePolicyViolation || ce.Text != ErrBoardFull.Error() {
		t.Fatalf("expected board full close, got %v", err)
	}
}

func TestRESTMutationsBroadcast(t *testing.T) {
	th := newTestHub(t, Limits{})
	board := th.board(t)
	a := th.dial(t, board, token(t, "alice"))
	expectFrame(t, a, domain.EventConnectionEstablished, nil)
	bearer := "Bearer " + token(t, "alice")

	resp := th.request(t, http.MethodPost, "/api/tasks/", bearer, `{"board_id":`+itoa(board)+`,"title":"write"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var created domain.Task
	expectFrame(t, a, domain.EventTaskCreated, &created)
	if created.Title != "write" || created.Status != domain.StatusTodo {
		t.Fatalf("unexpected created task %+v", created)
	}
	path := "/api/tasks/" + itoa(created.ID)

	th.request(t, http.MethodPatch, path, bearer, `{"status":"review"}`)
	var moved domain.Task
	expectFrame(t, a, domain.EventTaskMoved, &moved)
	if moved.Status != domain.StatusReview {
		t.Fatalf("unexpected moved task %+v", moved)
	}

	th.request(t, http.MethodPatch, path, bearer, `{"title":"rewrite"}`)
	var updated domain.Task
	expectFrame(t, a, domain.EventTaskUpdated, &updated)
	if updated.Title != "rewrite" {
		t.Fatalf("unexpected updated task %+v", updated)
	}

	resp = th.request(t, http.MethodDelete, path, bearer, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	var deleted deletedBody
	expectFrame(t, a, domain.EventTaskDeleted, &deleted)
	if deleted.ID != created.ID {
		t.Fatalf("unexpected deleted id %d", deleted.ID)
	}

	resp = th.request(t, http.MethodDelete, path, bearer, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status %d", resp.StatusCode)
	}
	var body detailBody
	decodeResponse(t, resp, &body)
	if body.Detail != "Task not found" {
		t.Fatalf("unexpected detail %q", body.Detail)
	}
}

func TestRESTRequiresBearer(t *testing.T) {
	th := newTestHub(t, Limits{})
	board := th.board(t)
	resp := th.request(t, http.MethodGet, "/api/tasks/board/"+itoa(board), "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp = th.request(t, http.MethodGet, "/api/boards/999", "Bearer "+token(t, "alice"), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	th := newTestHub(t, Limits{})
	board := th.board(t)
	bearer := "Bearer " + token(t, "alice")
	cases := []string{
		`{"board_id":` + itoa(board) + `}`,
		`{"board_id":` + itoa(board) + `,"title":"x","status":"archived"}`,
		`{`,
	}
	for _, body := range cases {
		resp := th.request(t, http.MethodPost, "/api/tasks/", bearer, body)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", body, resp.StatusCode)
		}
	}
}

func TestHealth(t *testing.T) {
	th := newTestHub(t, Limits{})
	resp := th.request(t, http.MethodGet, "/health", "", "")
	var body map[string]string
	decodeResponse(t, resp, &body)
	if body["status"] != "healthy" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func (th *testHub) request(t *testing.T, method, path, bearer, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, th.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

package taskapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Mark-maati/collab-board/auth"
	"github.com/Mark-maati/collab-board/domain"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   string
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *tracetest.InMemoryExporter, *test.Hook) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logger, hook := test.NewNullLogger()
	c := NewClient(srv.URL+"/api/", auth.NewCredentials("tok-1"),
		WithLogger(logger), WithTracerProvider(tp))
	return c, exporter, hook
}

func record(into *recordedRequest, status int, resp string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*into = recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		}
		if resp != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestListTasks(t *testing.T) {
	var got recordedRequest
	c, exporter, _ := newTestClient(t, record(&got, http.StatusOK,
		`[{"id":1,"title":"a","status":"todo","position":0,"board_id":7,"description":null,"assigned_to":null,"created_at":"2024-05-01T10:00:00","updated_at":null}]`))

	tasks, err := c.ListTasks(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListTasks error: %v", err)
	}
	if got.method != http.MethodGet || got.path != "/api/tasks/board/7" {
		t.Fatalf("unexpected request %s %s", got.method, got.path)
	}
	if got.auth != "Bearer tok-1" {
		t.Fatalf("unexpected authorization header %q", got.auth)
	}
	if len(tasks) != 1 || tasks[0].ID != 1 || tasks[0].Status != domain.StatusTodo {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if tasks[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at to parse")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attributesToMap(spans[0].Attributes)
	if attrs["http.route"] != "/tasks/board/{board_id}" {
		t.Fatalf("unexpected route attribute %#v", attrs["http.route"])
	}
	if code, ok := attrs["http.status_code"].(int64); !ok || code != http.StatusOK {
		t.Fatalf("unexpected status attribute %#v", attrs["http.status_code"])
	}
	if spans[0].Status.Code != codes.Ok {
		t.Fatalf("expected ok span, got %v", spans[0].Status.Code)
	}
}

func TestListTasksEmptyIsNotNil(t *testing.T) {
	var got recordedRequest
	c, _, _ := newTestClient(t, record(&got, http.StatusOK, `[]`))
	tasks, err := c.ListTasks(context.Background(), 1)
	if err != nil || tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty slice, got %v %v", tasks, err)
	}
}

func TestUpdateTaskSendsPatch(t *testing.T) {
	var got recordedRequest
	c, _, _ := newTestClient(t, record(&got, http.StatusOK,
		`{"id":3,"title":"x","status":"done","position":1,"board_id":7}`))

	status := domain.StatusDone
	task, err := c.UpdateTask(context.Background(), 3, domain.TaskPatch{Status: &status})
	if err != nil {
		t.Fatalf("UpdateTask error: %v", err)
	}
	if got.method != http.MethodPatch || got.path != "/api/tasks/3" {
		t.Fatalf("unexpected request %s %s", got.method, got.path)
	}
	if got.body != `{"status":"done"}` {
		t.Fatalf("unexpected body %s", got.body)
	}
	if task.Status != domain.StatusDone {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestCreateTask(t *testing.T) {
	var got recordedRequest
	c, _, _ := newTestClient(t, record(&got, http.StatusCreated,
		`{"id":9,"title":"new","status":"todo","position":0,"board_id":7}`))

	task, err := c.CreateTask(context.Background(), domain.NewTask{BoardID: 7, Title: "new", Status: domain.StatusTodo})
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	if got.method != http.MethodPost || got.path != "/api/tasks/" {
		t.Fatalf("unexpected request %s %s", got.method, got.path)
	}
	if task.ID != 9 {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestDeleteTaskNoContent(t *testing.T) {
	var got recordedRequest
	c, _, _ := newTestClient(t, record(&got, http.StatusNoContent, ""))
	if err := c.DeleteTask(context.Background(), 4); err != nil {
		t.Fatalf("DeleteTask error: %v", err)
	}
	if got.method != http.MethodDelete || got.path != "/api/tasks/4" {
		t.Fatalf("unexpected request %s %s", got.method, got.path)
	}
}

func TestErrorUsesDetail(t *testing.T) {
	var got recordedRequest
	c, exporter, _ := newTestClient(t, record(&got, http.StatusNotFound, `{"detail":"Task not found"}`))

	_, err := c.UpdateTask(context.Background(), 5, domain.TaskPatch{})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Message != "Task not found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if spans := exporter.GetSpans(); len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("expected error span, got %+v", spans)
	}
}

func TestErrorFallbackMessage(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: "", want: "Request failed"},
		{name: "notJSON", body: "<html>", want: "Request failed"},
		{name: "noDetail", body: `{"error":"x"}`, want: "Request failed"},
		{name: "validation", body: `{"detail":[{"loc":["body","title"],"msg":"field required"}]}`, want: "field required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got recordedRequest
			c, _, _ := newTestClient(t, record(&got, http.StatusUnprocessableEntity, tc.body))
			_, err := c.CreateTask(context.Background(), domain.NewTask{})
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Message != tc.want {
				t.Fatalf("expected message %q, got %v", tc.want, err)
			}
		})
	}
}

func TestUnauthorizedClearsCredentials(t *testing.T) {
	var got recordedRequest
	c, _, _ := newTestClient(t, record(&got, http.StatusUnauthorized, `{"detail":"Could not validate credentials"}`))
	cleared := false
	c.Credentials().OnCleared(func() { cleared = true })

	_, err := c.ListTasks(context.Background(), 7)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !cleared || c.Credentials().Token() != "" {
		t.Fatalf("expected credentials to be cleared")
	}

	_, _ = c.ListTasks(context.Background(), 7)
	if got.auth != "" {
		t.Fatalf("expected no bearer after logout, got %q", got.auth)
	}
}

func TestTransportErrorIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	c := NewClient("http://127.0.0.1:1/api", nil, WithLogger(logger))
	if _, err := c.ListTasks(context.Background(), 1); err == nil {
		t.Fatalf("expected transport error")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "task api request failed" {
		t.Fatalf("expected failure log entry, got %+v", entry)
	}
	if entry.Data["severity_text"] != "ERROR" {
		t.Fatalf("unexpected severity %v", entry.Data["severity_text"])
	}
	if entry.Data["severity_number"] != 17 {
		t.Fatalf("unexpected severity number %v", entry.Data["severity_number"])
	}
}

func TestSeverityForStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantText   string
		wantNumber int
	}{
		{name: "ok", status: http.StatusOK, wantText: "INFO", wantNumber: 9},
		{name: "warn", status: http.StatusBadRequest, wantText: "WARN", wantNumber: 13},
		{name: "error", status: http.StatusInternalServerError, wantText: "ERROR", wantNumber: 17},
		{name: "errorFromErr", status: 0, err: errors.New("boom"), wantText: "ERROR", wantNumber: 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotText, gotNumber := severityForStatus(tt.status, tt.err)
			if gotText != tt.wantText || gotNumber != tt.wantNumber {
				t.Fatalf("severityForStatus(%d, %v) = %s/%d, want %s/%d", tt.status, tt.err, gotText, gotNumber, tt.wantText, tt.wantNumber)
			}
		})
	}
}

// Package taskapi is the client for the durable task API that every board
// mutation goes through.
package taskapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mark-maati/collab-board/auth"
	"github.com/Mark-maati/collab-board/domain"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// Client calls the task API with the bearer token held by Credentials.
type Client struct {
	base   string
	http   *http.Client
	creds  *auth.Credentials
	logger log.FieldLogger
	tp     trace.TracerProvider
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l log.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tp = tp }
}

// NewClient returns a client rooted at baseURL, e.g. http://localhost:8000/api.
func NewClient(baseURL string, creds *auth.Credentials, opts ...Option) *Client {
	if creds == nil {
		creds = auth.NewCredentials("")
	}
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
		creds:  creds,
		logger: log.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Credentials returns the token holder shared with the realtime connection.
func (c *Client) Credentials() *auth.Credentials { return c.creds }

// ListTasks returns the tasks of a board ordered by position.
func (c *Client) ListTasks(ctx context.Context, boardID int64) ([]domain.Task, error) {
	var tasks []domain.Task
	path := fmt.Sprintf("/tasks/board/%d", boardID)
	if err := c.do(ctx, http.MethodGet, "/tasks/board/{board_id}", path, nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

func (c *Client) GetBoard(ctx context.Context, boardID int64) (domain.Board, error) {
	var b domain.Board
	path := fmt.Sprintf("/boards/%d", boardID)
	err := c.do(ctx, http.MethodGet, "/boards/{board_id}", path, nil, &b)
	return b, err
}

// CreateTask stores a new task. The result is not applied locally; the
// broadcast echo adds it to the board.
func (c *Client) CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, http.MethodPost, "/tasks/", "/tasks/", in, &t)
	return t, err
}

func (c *Client) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	var t domain.Task
	path := fmt.Sprintf("/tasks/%d", id)
	err := c.do(ctx, http.MethodPatch, "/tasks/{task_id}", path, patch, &t)
	return t, err
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/tasks/%d", id)
	return c.do(ctx, http.MethodDelete, "/tasks/{task_id}", path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, route, path string, in, out any) (err error) {
	ctx, obs := c.observe(ctx, method, route)
	status := 0
	defer func() { obs.End(status, err) }()

	var body io.Reader
	if in != nil {
		data, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", route, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.creds.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", route, err)
	}

	if status == http.StatusUnauthorized {
		c.creds.Clear()
	}
	if status < 200 || status > 299 {
		var eb errorBody
		if len(data) > 0 {
			_ = sonic.Unmarshal(data, &eb)
		}
		return &Error{Status: status, Message: messageFromDetail(eb.Detail)}
	}

	if out == nil || status == http.StatusNoContent || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", route, err)
	}
	return nil
}

func (c *Client) tracerProvider() trace.TracerProvider {
	if c.tp != nil {
		return c.tp
	}
	return otel.GetTracerProvider()
}

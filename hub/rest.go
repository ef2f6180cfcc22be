package hub

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/Mark-maati/collab-board/domain"
)

const maxBodySize = 1 << 20

type detailBody struct {
	Detail string `json:"detail"`
}

func detail(msg string) detailBody {
	return detailBody{Detail: msg}
}

type boardRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	IsPublic    bool    `json:"is_public"`
}

const userIDKey = "user_id"

// requireUser rejects requests without a valid bearer token.
func (h *Hub) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, detail("Could not validate credentials"))
		}
		c.Set(userIDKey, userID)
		return next(c)
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	return dec.Decode(v)
}

func pathID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// storeError maps store failures to the API's detail responses.
func (h *Hub) storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrBoardNotFound):
		return c.JSON(http.StatusNotFound, detail(err.Error()))
	default:
		h.logger.WithError(err).WithField("path", c.Path()).Error("store request failed")
		return c.JSON(http.StatusInternalServerError, detail("internal error"))
	}
}

func (h *Hub) createBoard(c echo.Context) error {
	var req boardRequest
	if err := decodeBody(c, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		return c.JSON(http.StatusUnprocessableEntity, detail("name is required"))
	}
	b, err := h.store.CreateBoard(c.Request().Context(), domain.Board{
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		return h.storeError(c, err)
	}
	b.Tasks = []domain.Task{}
	return c.JSON(http.StatusCreated, b)
}

func (h *Hub) getBoard(c echo.Context) error {
	id, ok := pathID(c, "board_id")
	if !ok {
		return c.JSON(http.StatusNotFound, detail(ErrBoardNotFound.Error()))
	}
	b, err := h.store.Board(c.Request().Context(), id)
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Hub) listTasks(c echo.Context) error {
	id, ok := pathID(c, "board_id")
	if !ok {
		return c.JSON(http.StatusNotFound, detail(ErrBoardNotFound.Error()))
	}
	tasks, err := h.store.ListTasks(c.Request().Context(), id)
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusOK, tasks)
}

func (h *Hub) createTask(c echo.Context) error {
	var in domain.NewTask
	if err := decodeBody(c, &in); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, detail("invalid body"))
	}
	if strings.TrimSpace(in.Title) == "" {
		return c.JSON(http.StatusUnprocessableEntity, detail("title is required"))
	}
	if in.Status == "" {
		in.Status = domain.StatusTodo
	}
	if !in.Status.Valid() {
		return c.JSON(http.StatusUnprocessableEntity, detail("invalid status"))
	}
	ctx := c.Request().Context()
	t, err := h.store.CreateTask(ctx, in)
	if err != nil {
		return h.storeError(c, err)
	}
	h.PublishTaskEvent(ctx, t.BoardID, domain.EventTaskCreated, t)
	return c.JSON(http.StatusCreated, t)
}

func (h *Hub) updateTask(c echo.Context) error {
	id, ok := pathID(c, "task_id")
	if !ok {
		return c.JSON(http.StatusNotFound, detail(ErrTaskNotFound.Error()))
	}
	var patch domain.TaskPatch
	if err := decodeBody(c, &patch); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, detail("invalid body"))
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return c.JSON(http.StatusUnprocessableEntity, detail("invalid status"))
	}
	ctx := c.Request().Context()
	t, err := h.store.UpdateTask(ctx, id, patch)
	if err != nil {
		return h.storeError(c, err)
	}
	eventType := domain.EventTaskUpdated
	if patch.Status != nil {
		eventType = domain.EventTaskMoved
	}
	h.PublishTaskEvent(ctx, t.BoardID, eventType, t)
	return c.JSON(http.StatusOK, t)
}

type deletedBody struct {
	ID int64 `json:"id"`
}

func (h *Hub) deleteTask(c echo.Context) error {
	id, ok := pathID(c, "task_id")
	if !ok {
		return c.JSON(http.StatusNotFound, detail(ErrTaskNotFound.Error()))
	}
	ctx := c.Request().Context()
	boardID, err := h.store.DeleteTask(ctx, id)
	if err != nil {
		return h.storeError(c, err)
	}
	h.PublishTaskEvent(ctx, boardID, domain.EventTaskDeleted, deletedBody{ID: id})
	return c.NoContent(http.StatusNoContent)
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

package taskapi

import (
	"errors"
	"fmt"
	"net/http"
)

const defaultErrorMessage = "Request failed"

// ErrUnauthorized matches any *Error with status 401 via errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// Error is a non-2xx response from the task API. Message is the detail the
// server returned, or a generic text when it returned none.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("task api: %d %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

type errorBody struct {
	Detail any `json:"detail"`
}

// messageFromDetail accepts a plain string detail and the list form used by
// validation errors ([{"msg": "..."}]).
func messageFromDetail(detail any) string {
	switch d := detail.(type) {
	case string:
		if d != "" {
			return d
		}
	case []any:
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				if msg, ok := m["msg"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}
	return defaultErrorMessage
}

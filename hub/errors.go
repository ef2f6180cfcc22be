package hub

import "errors"

// CloseInvalidToken is the close code sent when the token query parameter
// does not verify.
const CloseInvalidToken = 4001

var (
	ErrBoardFull      = errors.New("maximum connections per board exceeded")
	ErrUserLimit      = errors.New("maximum connections per user exceeded")
	ErrBoardNotFound  = errors.New("Board not found")
	ErrTaskNotFound   = errors.New("Task not found")
	errInvalidMessage = errors.New("Invalid message format")
)

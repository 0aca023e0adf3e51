package turn

import "errors"

// Turn processing errors.
var (
	ErrControllerClosed = errors.New("turn controller is closed")
	ErrTurnQueueFull    = errors.New("turn queue is full")
	ErrNotAStudent      = errors.New("only students hold conversations")
)

package dispatch

import "errors"

var (
	ErrAlreadyRunning = errors.New("dispatcher is already running")
	ErrNotRunning     = errors.New("dispatcher is not running")
	ErrQueueFull      = errors.New("event queue is full")
	ErrHandlerPanic   = errors.New("event handler panicked")
)

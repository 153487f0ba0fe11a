package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTaskType   = errors.New("invalid task type")
	ErrNotFound          = errors.New("task not found")
	ErrTerminalState     = errors.New("task already in terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidParams     = errors.New("invalid input params")
)

// HandlerError wraps a failure raised by a handler while the task was processing.
type HandlerError struct {
	TaskType TaskType
	Err      error
}

func (e *HandlerError) Error() string { return fmt.Sprintf("%s: %v", e.TaskType, e.Err) }

func (e *HandlerError) Unwrap() error { return e.Err }

// StoreWriteError is a failed status write. The recorded state may lag reality.
type StoreWriteError struct {
	TaskID string
	Op     string
	Err    error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s for task %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

func UnknownTaskType(t TaskType) error {
	return fmt.Errorf("%w: %q", ErrInvalidTaskType, string(t))
}

package task

import "errors"

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrEmptyReference = errors.New("reference is empty")
	ErrNotRetryable   = errors.New("only failed or cancelled tasks can be retried")
	ErrNoRunner       = errors.New("no pipeline configured")

	// ErrCancelled ends a run in the cancelled state; it is never reported as an error event.
	ErrCancelled = errors.New("task cancelled")
)

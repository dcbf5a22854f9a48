package task

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy. Validation errors never reach the network layer; the rest
// describe how a remote call failed.
var (
	ErrMissingField      = errors.New("missing field")
	ErrMalformedSchedule = errors.New("malformed schedule")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrNotFound          = errors.New("task not found")
	ErrValidationFailed  = errors.New("validation failed")
	ErrNetworkFailure    = errors.New("network failure")
	ErrInternal          = errors.New("internal error")
	ErrNotImplemented    = errors.New("not implemented")
)

// ValidationError reports a locally rejected field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

// BatchError wraps the error of the first invalid definition in a batch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Index+1, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// RemoteError is returned by store implementations when the remote service
// answers with a non-success status or cannot be reached.
type RemoteError struct {
	Kind    error
	Status  int // zero for transport failures
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: server returned %d: %s", e.Kind, e.Status, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Kind }

// Message converts err into the text shown to users inline and in toasts.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return fmt.Sprintf("Task %d: %s", be.Index+1, Message(be.Err))
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var re *RemoteError
	if errors.As(err, &re) && re.Message != "" && re.Status != 0 {
		return re.Message
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "Task not found"
	case errors.Is(err, ErrNetworkFailure):
		return "Unable to reach the task service"
	case errors.Is(err, ErrNotImplemented):
		return "This action is not implemented"
	case errors.Is(err, ErrInvalidPayload):
		return "Invalid payload"
	case errors.Is(err, ErrValidationFailed):
		return "The task service rejected the request"
	case errors.Is(err, ErrInternal):
		return "Internal server error"
	}
	return err.Error()
}

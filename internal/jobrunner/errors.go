package jobrunner

import (
	"errors"
	"fmt"

	"github.com/bc-dunia/casgen/internal/types"
)

// JobError is a typed error that can be inspected for proper HTTP mapping.
type JobError struct {
	Kind      ErrorKind
	JobID     string
	Status    types.JobStatus
	Limit     string
	Value     float64
	Threshold float64
	Message   string
	Cause     error
}

// ErrorKind categorizes the error for HTTP status mapping.
type ErrorKind int

const (
	ErrKindNotFound ErrorKind = iota
	ErrKindInvalidState
	ErrKindTerminalState
	ErrKindInvalidTransition
	ErrKindResourceLimit
	ErrKindCancelled
	ErrKindNotReady
	ErrKindInternal
)

func (e *JobError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *JobError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(jobID string) *JobError {
	return &JobError{
		Kind:    ErrKindNotFound,
		JobID:   jobID,
		Message: fmt.Sprintf("job not found: %s", jobID),
	}
}

// NewTerminalStateError creates a terminal-state error.
func NewTerminalStateError(jobID string, status types.JobStatus, operation string) *JobError {
	return &JobError{
		Kind:    ErrKindTerminalState,
		JobID:   jobID,
		Status:  status,
		Message: fmt.Sprintf("cannot %s job in terminal status %s", operation, status),
	}
}

// NewInvalidTransitionError creates an invalid-transition error.
func NewInvalidTransitionError(jobID string, from, to types.JobStatus) *JobError {
	return &JobError{
		Kind:    ErrKindInvalidTransition,
		JobID:   jobID,
		Status:  from,
		Message: fmt.Sprintf("invalid status transition from %s to %s", from, to),
	}
}

// NewResourceLimitError creates a resource-limit error.
func NewResourceLimitError(jobID, limit string, value, threshold float64) *JobError {
	return &JobError{
		Kind:      ErrKindResourceLimit,
		JobID:     jobID,
		Limit:     limit,
		Value:     value,
		Threshold: threshold,
		Message:   fmt.Sprintf("resource limit %s breached: %.1f exceeds %.1f", limit, value, threshold),
	}
}

// NewCancelledError creates a cancellation error.
func NewCancelledError(jobID string) *JobError {
	return &JobError{
		Kind:    ErrKindCancelled,
		JobID:   jobID,
		Message: fmt.Sprintf("job %s cancelled", jobID),
	}
}

// NewNotReadyError signals output requested before the job completed.
func NewNotReadyError(jobID string, status types.JobStatus) *JobError {
	return &JobError{
		Kind:    ErrKindNotReady,
		JobID:   jobID,
		Status:  status,
		Message: fmt.Sprintf("job %s output not ready in status %s", jobID, status),
	}
}

// NewInternalError wraps an internal error.
func NewInternalError(jobID string, cause error) *JobError {
	return &JobError{
		Kind:    ErrKindInternal,
		JobID:   jobID,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// AsJobError attempts to convert an error to a JobError.
// Returns nil if not possible.
func AsJobError(err error) *JobError {
	var jErr *JobError
	if errors.As(err, &jErr) {
		return jErr
	}
	return nil
}

// IsNotFound checks if the error is a not-found error.
func IsNotFound(err error) bool {
	jErr := AsJobError(err)
	return jErr != nil && jErr.Kind == ErrKindNotFound
}

// IsTerminalState checks if the error is a terminal-state error.
func IsTerminalState(err error) bool {
	jErr := AsJobError(err)
	return jErr != nil && jErr.Kind == ErrKindTerminalState
}

// IsResourceLimit checks if the error is a resource-limit error.
func IsResourceLimit(err error) bool {
	jErr := AsJobError(err)
	return jErr != nil && jErr.Kind == ErrKindResourceLimit
}

// IsCancelled checks if the error is a cancellation error.
func IsCancelled(err error) bool {
	jErr := AsJobError(err)
	return jErr != nil && jErr.Kind == ErrKindCancelled
}

// IsNotReady checks if the error is a not-ready error.
func IsNotReady(err error) bool {
	jErr := AsJobError(err)
	return jErr != nil && jErr.Kind == ErrKindNotReady
}

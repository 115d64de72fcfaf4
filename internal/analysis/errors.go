package analysis

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the orchestrator entry points.
var (
	// ErrInvalidInput indicates a submission that can never succeed: empty
	// document set, unknown document IDs, or documents with no extracted content.
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobNotFound indicates a lookup for a job ID that was never submitted.
	ErrJobNotFound = errors.New("job not found")

	// ErrShuttingDown indicates the orchestrator no longer accepts submissions.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// TransientError marks a failure of an external dependency (model endpoint,
// vector index, object storage) that may succeed on retry. The retry loop in
// the inference client treats only transient errors as retryable.
type TransientError struct {
	Op  string // operation that failed, e.g. "inference", "retrieval"
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable external failure.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ValidationError marks model output that was received successfully but does
// not satisfy the stage's output contract. Never retried: the call itself
// succeeded, the content is what failed.
type ValidationError struct {
	Stage  Stage
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage %s produced invalid output: %s", e.Stage, e.Reason)
}

// NewValidationError reports an output-contract violation for a stage.
func NewValidationError(stage Stage, reason string) *ValidationError {
	return &ValidationError{Stage: stage, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

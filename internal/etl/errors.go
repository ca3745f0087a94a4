package etl

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass labels why a run aborted. Every class except the per-row
// transform skip aborts the whole run without advancing the watermark.
type ErrorClass string

const (
	ErrExtractFailed    ErrorClass = "EXTRACT_FAILED"
	ErrTransformFailed  ErrorClass = "TRANSFORM_FAILED"
	ErrValidationFailed ErrorClass = "VALIDATION_FAILED"
	ErrLoadFailed       ErrorClass = "LOAD_FAILED"
	ErrTimeoutFailed    ErrorClass = "TIMEOUT_FAILED"
	ErrLockContention   ErrorClass = "LOCK_CONTENTION"
)

// RunError carries the error class alongside the underlying cause.
type RunError struct {
	Class ErrorClass
	Err   error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// failf wraps a cause in a RunError of the given class.
func failf(class ErrorClass, format string, args ...interface{}) *RunError {
	return &RunError{Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf extracts the error class from err, or empty if err carries none.
func ClassOf(err error) ErrorClass {
	var re *RunError
	if errors.As(err, &re) {
		return re.Class
	}
	return ""
}

// classifyCtx maps a phase error caused by run-context expiry onto the
// timeout class; other errors pass through unchanged.
func classifyCtx(ctx context.Context, err error, fallback ErrorClass) error {
	if err == nil {
		return nil
	}
	if ClassOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &RunError{Class: ErrTimeoutFailed, Err: err}
	}
	return &RunError{Class: fallback, Err: err}
}

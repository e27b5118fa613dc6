// Package errors defines the error taxonomy shared by every sensorlog component.
//
// This file provides:
// - Sentinel errors for each error category
// - Typed errors carrying path and position context
// - Category checking functions
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Configuration errors (fatal at startup)
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")

	// I/O errors on the writer path
	ErrIO     = errors.New("i/o failure")
	ErrLocked = errors.New("storage directory in use by another writer")

	// Writer state errors
	ErrWriterStopped   = errors.New("writer is stopped")
	ErrNothingToRotate = errors.New("active file has no data rows")
	ErrInvalidRecord   = errors.New("invalid record")

	// Recoverable errors
	ErrParse     = errors.New("malformed row")
	ErrRetention = errors.New("retention failure")

	// Service state errors
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")
)

// ============================================================================
// Typed errors
// ============================================================================

// IOError reports a failed open, write, move or compress operation.
// Records buffered when it was raised are still held by the writer.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// NewIOError wraps err as an IOError. It returns nil when err is nil.
func NewIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is reports true for ErrIO so callers can test the category.
func (e *IOError) Is(target error) bool { return target == ErrIO }

// ParseWarning describes a single row that could not be decoded during a query.
type ParseWarning struct {
	Path   string
	Line   int
	Reason string
}

func (w *ParseWarning) Error() string {
	return fmt.Sprintf("%s:%d: %s", w.Path, w.Line, w.Reason)
}

func (w *ParseWarning) Is(target error) bool { return target == ErrParse }

// RetentionFailure reports an archive entry that could not be deleted.
type RetentionFailure struct {
	Path string
	Err  error
}

func (f *RetentionFailure) Error() string {
	return fmt.Sprintf("delete %s: %v", f.Path, f.Err)
}

func (f *RetentionFailure) Unwrap() error { return f.Err }

func (f *RetentionFailure) Is(target error) bool { return target == ErrRetention }

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsConfig returns true if err is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsIO returns true if err is an I/O failure.
func IsIO(err error) bool {
	return errors.Is(err, ErrIO)
}

// IsParse returns true if err is a parse warning.
func IsParse(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsRetention returns true if err is a retention failure.
func IsRetention(err error) bool {
	return errors.Is(err, ErrRetention)
}

// IsStateError returns true if err is a writer or service state error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrWriterStopped) ||
		errors.Is(err, ErrNothingToRotate) ||
		errors.Is(err, ErrNotRunning) ||
		errors.Is(err, ErrAlreadyRunning)
}

// IsRecoverable returns true for errors that never abort the enclosing operation.
func IsRecoverable(err error) bool {
	return IsParse(err) || IsRetention(err)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

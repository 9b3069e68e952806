package core

// errors.go defines the pipeline's error taxonomy.
//
// Fatal errors are local to the run or request that produced them:
//   - FetchError: network, timeout, non-2xx (after retries)
//   - ParseError: header row cannot be located
//   - MappingError: projection requested with no usable snapshot
//   - ValidationError: configuration rejected on save
//
// Per-field problems are never errors; see Warning.

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by a ConfigStore when a Group or Channel does not exist.
var ErrNotFound = errors.New("not found")

// ErrRunInFlight is returned when a trigger arrives while the group's
// previous run is still fetching or parsing. The trigger is dropped.
var ErrRunInFlight = errors.New("run already in flight")

// ErrUnknownGroup is returned by the runner for groups it does not schedule.
var ErrUnknownGroup = errors.New("unknown group")

// ErrRunnerStopped is returned for triggers that arrive after shutdown began.
var ErrRunnerStopped = errors.New("schedule runner stopped")

// FetchError reports a feed download that failed after all retries.
type FetchError struct {
	URL        string
	StatusCode int // Last HTTP status, 0 if no response was received
	Attempts   int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed after %d attempt(s): status %d", e.URL, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// ParseError reports a feed body whose header row could not be located.
type ParseError struct {
	Line  int
	Cause error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid csv: header not found (line %d): %v", e.Line, e.Cause)
	}
	return fmt.Sprintf("invalid csv: header not found: %v", e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// MappingError reports a projection against a group with no usable data.
type MappingError struct {
	Channel string
	Group   string
	Cause   string
}

func (e *MappingError) Error() string {
	msg := fmt.Sprintf("channel %q: no usable snapshot for group %q", e.Channel, e.Group)
	if e.Cause != "" {
		msg += ": " + e.Cause
	}
	return msg
}

// Validation reasons. A *ValidationError unwraps to one of these, so
// callers can test with errors.Is(err, core.ErrDuplicateName).
var (
	ErrDuplicateName        = errors.New("DuplicateName")
	ErrDanglingReference    = errors.New("DanglingReference")
	ErrDuplicateTargetField = errors.New("DuplicateTargetField")
	ErrInvalidField         = errors.New("InvalidField")
	ErrGroupInUse           = errors.New("GroupInUse")
)

// ValidationError rejects a configuration save.
type ValidationError struct {
	Reason  error  // One of the Err* reason sentinels above
	Field   string // Offending field, if any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed (%s): %s: %s", e.Reason, e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// ReasonName returns the reason as a string, e.g. "DuplicateName".
func (e *ValidationError) ReasonName() string {
	if e.Reason == nil {
		return ""
	}
	return e.Reason.Error()
}

func invalid(reason error, field, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError builds a ValidationError for store implementations.
func NewValidationError(reason error, field, format string, args ...any) *ValidationError {
	return invalid(reason, field, format, args...)
}

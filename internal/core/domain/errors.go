package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested version, change set, entity or
	// table cell does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a record with the same identity exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotImplemented indicates functionality is not yet available.
	ErrNotImplemented = errors.New("not implemented")

	// ErrValidation indicates malformed input: an invalid step sequence,
	// an unknown tag, or a non-draft item submitted for review.
	ErrValidation = errors.New("validation failed")

	// ErrStateTransition indicates an illegal lifecycle edge.
	ErrStateTransition = errors.New("illegal state transition")

	// ErrPreflightBlocked indicates publish was attempted while the
	// preflight report still lists blocking issues.
	ErrPreflightBlocked = errors.New("publish blocked by preflight")

	// ErrConcurrencyConflict indicates a stale write or a transition that
	// raced another in-flight transition on the same record.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError describes malformed input.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Is enables errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StateTransitionError is returned for a disallowed lifecycle edge.
type StateTransitionError struct {
	Subject string
	ID      string
	From    string
	To      string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("state transition: cannot move %s %q from %q to %q", e.Subject, e.ID, e.From, e.To)
}

// Is enables errors.Is(err, ErrStateTransition).
func (e *StateTransitionError) Is(target error) bool {
	return target == ErrStateTransition
}

// Not-found kinds.
const (
	NotFoundVersion           = "version"
	NotFoundChangeSet         = "change-set"
	NotFoundItem              = "change-set-item"
	NotFoundEntity            = "entity"
	NotFoundTable             = "table"
	NotFoundMissingTableEntry = "missing-table-entry"
)

// NotFoundError names what was missing and the key used to look it up.
type NotFoundError struct {
	Kind string
	Key  string
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return "not found: " + e.Kind
	}
	return fmt.Sprintf("not found: %s %q", e.Kind, e.Key)
}

// Is enables errors.Is(err, ErrNotFound).
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// PreflightBlockedError carries the full report that blocked a publish.
type PreflightBlockedError struct {
	Report PreflightReport
}

func (e *PreflightBlockedError) Error() string {
	codes := make([]string, 0, len(e.Report.Issues))
	for _, issue := range e.Report.Issues {
		codes = append(codes, fmt.Sprintf("%s(%s)", issue.Code, issue.EntityID))
	}
	return fmt.Sprintf("preflight blocked: change set %q has %d issue(s): %s",
		e.Report.ChangeSetID, len(e.Report.Issues), strings.Join(codes, ", "))
}

// Is enables errors.Is(err, ErrPreflightBlocked).
func (e *PreflightBlockedError) Is(target error) bool {
	return target == ErrPreflightBlocked
}

// ConcurrencyConflictError reports a stale revision or a busy record.
type ConcurrencyConflictError struct {
	Subject  string
	ID       string
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Expected == 0 && e.Actual == 0 {
		return fmt.Sprintf("concurrency conflict: %s %q has a transition in flight", e.Subject, e.ID)
	}
	return fmt.Sprintf("concurrency conflict: %s %q expected revision %d, found %d",
		e.Subject, e.ID, e.Expected, e.Actual)
}

// Is enables errors.Is(err, ErrConcurrencyConflict).
func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// ErrorKind returns the taxonomy name for err, used when surfacing errors
// verbatim to CLI and HTTP callers.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrStateTransition):
		return "StateTransitionError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrPreflightBlocked):
		return "PreflightBlockedError"
	case errors.Is(err, ErrConcurrencyConflict):
		return "ConcurrencyConflictError"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExistsError"
	default:
		return "InternalError"
	}
}

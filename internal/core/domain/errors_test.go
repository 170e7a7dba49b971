package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrAlreadyExists", ErrAlreadyExists},
		{"ErrNotImplemented", ErrNotImplemented},
		{"ErrValidation", ErrValidation},
		{"ErrStateTransition", ErrStateTransition},
		{"ErrPreflightBlocked", ErrPreflightBlocked},
		{"ErrConcurrencyConflict", ErrConcurrencyConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestTypedErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     string
	}{
		{"validation", NewValidationError("steps", "bad"), ErrValidation, "ValidationError"},
		{"transition", &StateTransitionError{Subject: "version", ID: "v1", From: "draft", To: "published"}, ErrStateTransition, "StateTransitionError"},
		{"not found", NewNotFoundError(NotFoundMissingTableEntry, "T11"), ErrNotFound, "NotFoundError"},
		{"preflight", &PreflightBlockedError{Report: PreflightReport{ChangeSetID: "cs"}}, ErrPreflightBlocked, "PreflightBlockedError"},
		{"conflict", &ConcurrencyConflictError{Subject: "version", ID: "v1", Expected: 1, Actual: 2}, ErrConcurrencyConflict, "ConcurrencyConflictError"},
		{"already exists", ErrAlreadyExists, ErrAlreadyExists, "AlreadyExistsError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, errors.Is(wrapped, tt.sentinel))
			assert.Equal(t, tt.kind, ErrorKind(wrapped))
		})
	}
}

func TestErrorKind_Internal(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "InternalError", ErrorKind(errors.New("disk on fire")))
}

func TestNotFoundError_As(t *testing.T) {
	err := fmt.Errorf("rate: %w", NewNotFoundError(NotFoundMissingTableEntry, "Territory[T11]"))

	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, NotFoundMissingTableEntry, nf.Kind)
	assert.Contains(t, err.Error(), "missing-table-entry")
}

func TestPreflightBlockedError_Message(t *testing.T) {
	err := &PreflightBlockedError{Report: PreflightReport{
		ChangeSetID: "cs-1",
		Issues: []PreflightIssue{
			{Code: IssueMissingFormMapping, EntityType: EntityCoverage, EntityID: "building"},
		},
	}}

	assert.Contains(t, err.Error(), "cs-1")
	assert.Contains(t, err.Error(), "missing-form-mapping(building)")
}

func TestConcurrencyConflictError_InFlight(t *testing.T) {
	err := &ConcurrencyConflictError{Subject: "change_set", ID: "cs-1"}
	assert.Contains(t, err.Error(), "in flight")
}

package domain

import (
	"strings"
	"time"
)

// AuditContext carries the acting identity and the clock reading for a
// mutating operation. It is passed explicitly instead of read from ambient
// state.
type AuditContext struct {
	// Actor identifies who performs the operation.
	Actor string

	// Now is the timestamp stamped onto every record the operation writes.
	Now time.Time

	// Reason is an optional free-text justification recorded in the trail.
	Reason string
}

// Validate checks that the context can stamp records.
func (a AuditContext) Validate() error {
	if strings.TrimSpace(a.Actor) == "" {
		return NewValidationError("actor", "must not be empty")
	}
	if a.Now.IsZero() {
		return NewValidationError("now", "must be set")
	}
	return nil
}

// Audit subjects.
const (
	AuditSubjectVersion   = "version"
	AuditSubjectChangeSet = "change_set"
)

// AuditEntry records one lifecycle transition. Entries are written inside the
// same commit as the transition they describe.
type AuditEntry struct {
	ID          string    `json:"id"`
	SubjectType string    `json:"subjectType"`
	SubjectID   string    `json:"subjectId"`
	ChangeSetID string    `json:"changeSetId,omitempty"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Actor       string    `json:"actor"`
	At          time.Time `json:"at"`
	Reason      string    `json:"reason,omitempty"`
}

package domain

import "time"

// EventType names a committed lifecycle change.
type EventType string

// Event types emitted after a successful commit.
const (
	EventVersionCreated            EventType = "version.created"
	EventVersionUpdated            EventType = "version.updated"
	EventVersionTransitioned       EventType = "version.transitioned"
	EventChangeSetCreated          EventType = "changeset.created"
	EventChangeSetUpdated          EventType = "changeset.updated"
	EventChangeSetSubmitted        EventType = "changeset.submitted"
	EventChangeSetReturned         EventType = "changeset.returned"
	EventChangeSetApprovalRecorded EventType = "changeset.approval_recorded"
	EventChangeSetApproved         EventType = "changeset.approved"
	EventChangeSetRejected         EventType = "changeset.rejected"
	EventChangeSetPublished        EventType = "changeset.published"
)

// Event is a notification about a committed change. Events are never
// emitted for work that was rolled back.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	SubjectType string         `json:"subjectType"`
	SubjectID   string         `json:"subjectId"`
	Actor       string         `json:"actor"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Data        map[string]any `json:"data,omitempty"`
}

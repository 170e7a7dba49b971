package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the kind of configuration a version holds.
type EntityType string

// Versioned entity types.
const (
	EntityProduct     EntityType = "product"
	EntityCoverage    EntityType = "coverage"
	EntityForm        EntityType = "form"
	EntityRule        EntityType = "rule"
	EntityRateProgram EntityType = "rate_program"
	EntityTable       EntityType = "table"
)

// IsValid returns true if the entity type is recognised.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityProduct, EntityCoverage, EntityForm, EntityRule, EntityRateProgram, EntityTable:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType converts a tag into an EntityType, rejecting unknown tags.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.IsValid() {
		return "", NewValidationError("entityType", "unknown entity type %q", s)
	}
	return t, nil
}

// VersionStatus is the lifecycle state of a single version.
type VersionStatus string

// Version lifecycle states.
const (
	VersionDraft     VersionStatus = "draft"
	VersionReview    VersionStatus = "review"
	VersionApproved  VersionStatus = "approved"
	VersionPublished VersionStatus = "published"
	VersionArchived  VersionStatus = "archived"
)

// IsValid returns true if the status is recognised.
func (s VersionStatus) IsValid() bool {
	switch s {
	case VersionDraft, VersionReview, VersionApproved, VersionPublished, VersionArchived:
		return true
	default:
		return false
	}
}

// ParseVersionStatus converts a tag into a VersionStatus.
func ParseVersionStatus(s string) (VersionStatus, error) {
	status := VersionStatus(s)
	if !status.IsValid() {
		return "", NewValidationError("status", "unknown version status %q", s)
	}
	return status, nil
}

// versionTransitions is the only graph TransitionVersionStatus accepts.
var versionTransitions = map[VersionStatus]map[VersionStatus]struct{}{
	VersionDraft: {
		VersionReview: {},
	},
	VersionReview: {
		VersionApproved: {},
		VersionDraft:    {},
	},
	VersionApproved: {
		VersionPublished: {},
		VersionDraft:     {},
	},
}

// CanTransitionVersion reports whether from -> to is an allowed edge.
func CanTransitionVersion(from, to VersionStatus) bool {
	next, ok := versionTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// CanArchiveVersion reports whether a version may be retired by a publish:
// superseded published versions and approved delete targets.
func CanArchiveVersion(from VersionStatus) bool {
	return from == VersionPublished || from == VersionApproved
}

// IsPublishable reports whether a version counts as live or about to go live.
func (s VersionStatus) IsPublishable() bool {
	return s == VersionApproved || s == VersionPublished
}

// VersionedEntity is an immutable snapshot of an entity's configuration.
// Only draft versions may be edited in place.
type VersionedEntity struct {
	EntityType      EntityType     `json:"entityType"`
	EntityID        string         `json:"entityId"`
	VersionID       string         `json:"versionId"`
	Number          int            `json:"number"`
	Status          VersionStatus  `json:"status"`
	EffectiveStart  *time.Time     `json:"effectiveStart,omitempty"`
	EffectiveEnd    *time.Time     `json:"effectiveEnd,omitempty"`
	Payload         map[string]any `json:"payload"`
	SourceVersionID string         `json:"sourceVersionId,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	CreatedBy       string         `json:"createdBy"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	UpdatedBy       string         `json:"updatedBy"`

	// Revision is the optimistic concurrency token. Stores reject a write
	// whose Revision does not match the stored one.
	Revision int64 `json:"revision"`
}

// Ref returns the entity reference for this version.
func (v VersionedEntity) Ref() EntityRef {
	return EntityRef{EntityType: v.EntityType, EntityID: v.EntityID}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (v VersionedEntity) Clone() VersionedEntity {
	out := v
	out.Payload = ClonePayload(v.Payload)
	if v.EffectiveStart != nil {
		start := *v.EffectiveStart
		out.EffectiveStart = &start
	}
	if v.EffectiveEnd != nil {
		end := *v.EffectiveEnd
		out.EffectiveEnd = &end
	}
	return out
}

// ActiveAt reports whether the effective window contains t. Windows are
// half-open: [start, end). A nil bound is unbounded.
func (v VersionedEntity) ActiveAt(t time.Time) bool {
	if v.EffectiveStart != nil && t.Before(*v.EffectiveStart) {
		return false
	}
	if v.EffectiveEnd != nil && !t.Before(*v.EffectiveEnd) {
		return false
	}
	return true
}

// Overlaps reports whether two effective windows intersect.
func (v VersionedEntity) Overlaps(other VersionedEntity) bool {
	if v.EffectiveEnd != nil && other.EffectiveStart != nil && !other.EffectiveStart.Before(*v.EffectiveEnd) {
		return false
	}
	if other.EffectiveEnd != nil && v.EffectiveStart != nil && !v.EffectiveStart.Before(*other.EffectiveEnd) {
		return false
	}
	return true
}

// ValidateWindow rejects inverted effective windows.
func ValidateWindow(start, end *time.Time) error {
	if start != nil && end != nil && !end.After(*start) {
		return NewValidationError("effectiveEnd", "must be after effectiveStart")
	}
	return nil
}

// EntityRef identifies an entity independent of its versions.
type EntityRef struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
}

// String renders the reference as type/id.
func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%s", r.EntityType, r.EntityID)
}

// ClonePayload deep-copies a JSON-shaped payload.
func ClonePayload(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return ClonePayload(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return typed
	}
}

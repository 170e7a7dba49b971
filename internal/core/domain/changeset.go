package domain

import (
	"sort"
	"time"
)

// ChangeSetStatus is the review lifecycle state of a change set.
type ChangeSetStatus string

// Change set lifecycle states.
const (
	ChangeSetDraft     ChangeSetStatus = "draft"
	ChangeSetInReview  ChangeSetStatus = "in_review"
	ChangeSetApproved  ChangeSetStatus = "approved"
	ChangeSetRejected  ChangeSetStatus = "rejected"
	ChangeSetPublished ChangeSetStatus = "published"
)

// IsValid returns true if the status is recognised.
func (s ChangeSetStatus) IsValid() bool {
	switch s {
	case ChangeSetDraft, ChangeSetInReview, ChangeSetApproved, ChangeSetRejected, ChangeSetPublished:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s ChangeSetStatus) IsTerminal() bool {
	return s == ChangeSetRejected || s == ChangeSetPublished
}

// ParseChangeSetStatus converts a tag into a ChangeSetStatus.
func ParseChangeSetStatus(s string) (ChangeSetStatus, error) {
	status := ChangeSetStatus(s)
	if !status.IsValid() {
		return "", NewValidationError("status", "unknown change set status %q", s)
	}
	return status, nil
}

var changeSetTransitions = map[ChangeSetStatus]map[ChangeSetStatus]struct{}{
	ChangeSetDraft: {
		ChangeSetInReview: {},
	},
	ChangeSetInReview: {
		ChangeSetApproved: {},
		ChangeSetDraft:    {},
		ChangeSetRejected: {},
	},
	ChangeSetApproved: {
		ChangeSetPublished: {},
	},
}

// CanTransitionChangeSet reports whether from -> to is an allowed edge.
func CanTransitionChangeSet(from, to ChangeSetStatus) bool {
	next, ok := changeSetTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ItemAction is the kind of change an item proposes.
type ItemAction string

// Change set item actions.
const (
	ActionCreate ItemAction = "create"
	ActionUpdate ItemAction = "update"
	ActionDelete ItemAction = "delete"
)

// IsValid returns true if the action is recognised.
func (a ItemAction) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// ChangeSetItem references one proposed version. Items never embed payload
// copies; the version history stays authoritative.
type ChangeSetItem struct {
	Action          ItemAction `json:"action"`
	EntityType      EntityType `json:"entityType"`
	EntityID        string     `json:"entityId"`
	TargetVersionID string     `json:"targetVersionId"`
}

// Ref returns the entity reference for this item.
func (i ChangeSetItem) Ref() EntityRef {
	return EntityRef{EntityType: i.EntityType, EntityID: i.EntityID}
}

// Validate checks the item's tags and identifiers.
func (i ChangeSetItem) Validate() error {
	if !i.Action.IsValid() {
		return NewValidationError("action", "unknown item action %q", i.Action)
	}
	if !i.EntityType.IsValid() {
		return NewValidationError("entityType", "unknown entity type %q", i.EntityType)
	}
	if i.EntityID == "" {
		return NewValidationError("entityId", "must not be empty")
	}
	if i.TargetVersionID == "" {
		return NewValidationError("targetVersionId", "must not be empty")
	}
	return nil
}

// Approval records one role's sign-off.
type Approval struct {
	Role  string    `json:"role"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
}

// ChangeSet batches version changes that move through review together.
type ChangeSet struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Status        ChangeSetStatus `json:"status"`
	Items         []ChangeSetItem `json:"items"`
	Jurisdictions []string        `json:"jurisdictions,omitempty"`
	Approvals     []Approval      `json:"approvals,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	ClonedFrom    string          `json:"clonedFrom,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	CreatedBy     string          `json:"createdBy"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	UpdatedBy     string          `json:"updatedBy"`
	PublishedAt   *time.Time      `json:"publishedAt,omitempty"`
	Revision      int64           `json:"revision"`
}

// Clone returns a deep copy.
func (cs ChangeSet) Clone() ChangeSet {
	out := cs
	out.Items = append([]ChangeSetItem(nil), cs.Items...)
	out.Jurisdictions = append([]string(nil), cs.Jurisdictions...)
	out.Approvals = append([]Approval(nil), cs.Approvals...)
	if cs.PublishedAt != nil {
		at := *cs.PublishedAt
		out.PublishedAt = &at
	}
	return out
}

// ItemFor returns the item that targets ref.
func (cs ChangeSet) ItemFor(ref EntityRef) (ChangeSetItem, bool) {
	for _, item := range cs.Items {
		if item.Ref() == ref {
			return item, true
		}
	}
	return ChangeSetItem{}, false
}

// HasApproval reports whether role already signed off.
func (cs ChangeSet) HasApproval(role string) bool {
	for _, approval := range cs.Approvals {
		if approval.Role == role {
			return true
		}
	}
	return false
}

// ApprovedRoles returns the distinct approving roles, sorted.
func (cs ChangeSet) ApprovedRoles() []string {
	seen := make(map[string]struct{}, len(cs.Approvals))
	roles := make([]string, 0, len(cs.Approvals))
	for _, approval := range cs.Approvals {
		if _, ok := seen[approval.Role]; ok {
			continue
		}
		seen[approval.Role] = struct{}{}
		roles = append(roles, approval.Role)
	}
	sort.Strings(roles)
	return roles
}

// MissingRoles returns the required roles that have not approved yet.
func (cs ChangeSet) MissingRoles(required []string) []string {
	var missing []string
	for _, role := range required {
		if !cs.HasApproval(role) {
			missing = append(missing, role)
		}
	}
	return missing
}

package driving

import (
	"context"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

// ChangeSetService batches version changes and drives them through review,
// approval and atomic publish.
type ChangeSetService interface {
	// CreateChangeSet opens a new draft change set.
	CreateChangeSet(ctx context.Context, title string, jurisdictions []string, audit domain.AuditContext) (*domain.ChangeSet, error)

	// GetChangeSet returns a change set by ID.
	GetChangeSet(ctx context.Context, id string) (*domain.ChangeSet, error)

	// ListChangeSets returns change sets, filtered by status when set.
	ListChangeSets(ctx context.Context, status domain.ChangeSetStatus) ([]domain.ChangeSet, error)

	// AddItem attaches a version to a draft change set.
	AddItem(ctx context.Context, id string, item domain.ChangeSetItem, audit domain.AuditContext) (*domain.ChangeSet, error)

	// RemoveItem detaches the item targeting versionID from a draft change set.
	RemoveItem(ctx context.Context, id, versionID string, audit domain.AuditContext) (*domain.ChangeSet, error)

	// SubmitForReview moves every item version to review and the change set
	// to in_review. All items must be draft.
	SubmitForReview(ctx context.Context, id string, audit domain.AuditContext) (*domain.ChangeSet, error)

	// ReturnToDraft sends an in-review change set back to its editor.
	// audit.Reason is required.
	ReturnToDraft(ctx context.Context, id string, audit domain.AuditContext) (*domain.ChangeSet, error)

	// Approve records a role's sign-off. The change set becomes approved
	// once every required role has signed.
	Approve(ctx context.Context, id, role string, audit domain.AuditContext) (*domain.ChangeSet, error)

	// Reject ends review and returns every item version to draft.
	Reject(ctx context.Context, id, role, notes string, audit domain.AuditContext) (*domain.ChangeSet, error)

	// Publish re-runs preflight and then promotes every item atomically.
	// Publishing an already published change set is a no-op.
	Publish(ctx context.Context, id string, audit domain.AuditContext) (*domain.ChangeSet, error)

	// CloneChangeSet opens a new draft from a rejected change set.
	CloneChangeSet(ctx context.Context, id string, audit domain.AuditContext) (*domain.ChangeSet, error)

	// GetPublishPreflight reports blocking issues without side effects.
	// An empty jurisdictions list checks the change set's own jurisdictions.
	GetPublishPreflight(ctx context.Context, id string, jurisdictions []string) (*domain.PreflightReport, error)

	// AuditTrail returns every transition recorded for the change set and
	// its versions.
	AuditTrail(ctx context.Context, id string) ([]domain.AuditEntry, error)
}

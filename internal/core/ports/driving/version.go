package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

// VersionService manages the lifecycle of versioned configuration entities.
type VersionService interface {
	// CreateDraftVersion always appends a new draft version. Existing
	// versions are never touched.
	CreateDraftVersion(ctx context.Context, entityType domain.EntityType, entityID string, payload map[string]any, audit domain.AuditContext) (*domain.VersionedEntity, error)

	// UpdateDraftVersion replaces a draft's payload. Non-draft versions fail
	// with a StateTransitionError.
	UpdateDraftVersion(ctx context.Context, versionID string, payload map[string]any, audit domain.AuditContext) (*domain.VersionedEntity, error)

	// SetEffectiveWindow sets a draft's effective window.
	SetEffectiveWindow(ctx context.Context, versionID string, start, end *time.Time, audit domain.AuditContext) (*domain.VersionedEntity, error)

	// CloneVersion starts a new draft seeded from any prior version.
	CloneVersion(ctx context.Context, sourceVersionID string, audit domain.AuditContext) (*domain.VersionedEntity, error)

	// TransitionVersionStatus moves a version along the allowed graph.
	TransitionVersionStatus(ctx context.Context, versionID string, to domain.VersionStatus, audit domain.AuditContext) (*domain.VersionedEntity, error)

	// GetVersion returns a single version.
	GetVersion(ctx context.Context, versionID string) (*domain.VersionedEntity, error)

	// ListVersions returns an entity's history, newest first.
	ListVersions(ctx context.Context, entityType domain.EntityType, entityID string) ([]domain.VersionedEntity, error)

	// CompareVersions returns a field-level diff. It has no side effects.
	CompareVersions(ctx context.Context, leftID, rightID string) (*domain.VersionDiff, error)

	// History returns the audit trail of a version.
	History(ctx context.Context, versionID string) ([]domain.AuditEntry, error)
}

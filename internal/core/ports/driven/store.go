package driven

import (
	"context"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

// Store persists versions, change sets and the audit trail behind a single
// commit boundary.
type Store interface {
	// View runs fn against a read-only view.
	View(ctx context.Context, fn func(Reader) error) error

	// Update runs fn inside one atomic unit. Every write made through the
	// Tx commits together or not at all. A write whose Revision is stale at
	// commit time fails the whole unit with a ConcurrencyConflictError.
	Update(ctx context.Context, fn func(Tx) error) error

	// Close releases the underlying resources.
	Close() error
}

// Reader is the read side shared by View and Update.
type Reader interface {
	// GetVersion returns a version by ID or a NotFoundError.
	GetVersion(ctx context.Context, versionID string) (*domain.VersionedEntity, error)

	// ListVersions returns an entity's full history, newest first.
	ListVersions(ctx context.Context, ref domain.EntityRef) ([]domain.VersionedEntity, error)

	// ListVersionsByType returns every version of every entity of a type,
	// ordered by entity ID then newest first.
	ListVersionsByType(ctx context.Context, entityType domain.EntityType) ([]domain.VersionedEntity, error)

	// GetChangeSet returns a change set by ID or a NotFoundError.
	GetChangeSet(ctx context.Context, id string) (*domain.ChangeSet, error)

	// ListChangeSets returns change sets, optionally filtered by status,
	// newest first.
	ListChangeSets(ctx context.Context, status domain.ChangeSetStatus) ([]domain.ChangeSet, error)

	// ListAudit returns entries whose subject or change set matches id,
	// oldest first.
	ListAudit(ctx context.Context, id string) ([]domain.AuditEntry, error)
}

// Tx is the write side of an Update.
type Tx interface {
	Reader

	// InsertVersion stores a new version. The (entity, Number) pair must be
	// unique.
	InsertVersion(ctx context.Context, v domain.VersionedEntity) error

	// UpdateVersion replaces a version whose stored Revision equals
	// v.Revision and returns it with the next revision.
	UpdateVersion(ctx context.Context, v domain.VersionedEntity) (domain.VersionedEntity, error)

	// InsertChangeSet stores a new change set.
	InsertChangeSet(ctx context.Context, cs domain.ChangeSet) error

	// UpdateChangeSet replaces a change set whose stored Revision equals
	// cs.Revision and returns it with the next revision.
	UpdateChangeSet(ctx context.Context, cs domain.ChangeSet) (domain.ChangeSet, error)

	// AppendAudit records a transition.
	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
}

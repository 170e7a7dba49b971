package services

import (
	"context"
	"time"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
	"github.com/custodia-labs/ratebook/internal/core/ports/driving"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// Ensure VersionService implements the interface.
var _ driving.VersionService = (*VersionService)(nil)

// VersionService manages versioned configuration entities.
type VersionService struct {
	lifecycle
	store driven.Store
}

// NewVersionService creates a new version service.
func NewVersionService(store driven.Store, opts ...Option) *VersionService {
	return &VersionService{
		lifecycle: lifecycle{options: resolveOptions(opts)},
		store:     store,
	}
}

// CreateDraftVersion appends a new draft version of an entity.
func (s *VersionService) CreateDraftVersion(ctx context.Context, entityType domain.EntityType, entityID string, payload map[string]any, audit domain.AuditContext) (*domain.VersionedEntity, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}
	if !entityType.IsValid() {
		return nil, domain.NewValidationError("entityType", "unknown entity type %q", entityType)
	}
	entityID, err := requireEntityID(entityID)
	if err != nil {
		return nil, err
	}
	if err := ValidatePayload(entityType, entityID, payload); err != nil {
		return nil, err
	}

	ref := domain.EntityRef{EntityType: entityType, EntityID: entityID}
	var created domain.VersionedEntity
	err = s.store.Update(ctx, func(tx driven.Tx) error {
		var err error
		created, err = s.newDraft(ctx, tx, ref, payload, "", audit)
		return err
	})
	if err != nil {
		return nil, wrapTx("create draft", err)
	}

	logger.Info("created %s version %d (%s)", ref, created.Number, created.VersionID)
	s.emit(ctx, []domain.Event{s.event(domain.EventVersionCreated, domain.AuditSubjectVersion, created.VersionID, audit, map[string]any{
		"entityType": string(entityType),
		"entityId":   entityID,
		"number":     created.Number,
	})})
	return &created, nil
}

// UpdateDraftVersion replaces a draft's payload.
func (s *VersionService) UpdateDraftVersion(ctx context.Context, versionID string, payload map[string]any, audit domain.AuditContext) (*domain.VersionedEntity, error) {
	return s.editDraft(ctx, versionID, audit, func(v *domain.VersionedEntity) error {
		if err := ValidatePayload(v.EntityType, v.EntityID, payload); err != nil {
			return err
		}
		v.Payload = domain.ClonePayload(payload)
		return nil
	})
}

// SetEffectiveWindow sets a draft's effective window. A nil bound is open.
func (s *VersionService) SetEffectiveWindow(ctx context.Context, versionID string, start, end *time.Time, audit domain.AuditContext) (*domain.VersionedEntity, error) {
	if err := domain.ValidateWindow(start, end); err != nil {
		return nil, err
	}
	return s.editDraft(ctx, versionID, audit, func(v *domain.VersionedEntity) error {
		v.EffectiveStart = copyTime(start)
		v.EffectiveEnd = copyTime(end)
		return nil
	})
}

func (s *VersionService) editDraft(ctx context.Context, versionID string, audit domain.AuditContext, edit func(*domain.VersionedEntity) error) (*domain.VersionedEntity, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, versionLockKey(versionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated domain.VersionedEntity
	err = s.store.Update(ctx, func(tx driven.Tx) error {
		v, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if v.Status != domain.VersionDraft {
			return &domain.StateTransitionError{
				Subject: domain.AuditSubjectVersion,
				ID:      versionID,
				From:    string(v.Status),
				To:      "edit",
			}
		}
		if err := edit(v); err != nil {
			return err
		}
		v.UpdatedAt = audit.Now
		v.UpdatedBy = audit.Actor
		updated, err = tx.UpdateVersion(ctx, *v)
		return err
	})
	if err != nil {
		return nil, wrapTx("update draft", err)
	}

	s.emit(ctx, []domain.Event{s.event(domain.EventVersionUpdated, domain.AuditSubjectVersion, versionID, audit, map[string]any{
		"entityType": string(updated.EntityType),
		"entityId":   updated.EntityID,
		"revision":   updated.Revision,
	})})
	return &updated, nil
}

// CloneVersion starts a new draft from any prior version of the entity.
// The effective window is not copied; the new draft starts open.
func (s *VersionService) CloneVersion(ctx context.Context, sourceVersionID string, audit domain.AuditContext) (*domain.VersionedEntity, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}

	var created domain.VersionedEntity
	err := s.store.Update(ctx, func(tx driven.Tx) error {
		source, err := tx.GetVersion(ctx, sourceVersionID)
		if err != nil {
			return err
		}
		created, err = s.newDraft(ctx, tx, source.Ref(), source.Payload, source.VersionID, audit)
		return err
	})
	if err != nil {
		return nil, wrapTx("clone version", err)
	}

	logger.Info("cloned %s into version %d (%s)", sourceVersionID, created.Number, created.VersionID)
	s.emit(ctx, []domain.Event{s.event(domain.EventVersionCreated, domain.AuditSubjectVersion, created.VersionID, audit, map[string]any{
		"entityType":      string(created.EntityType),
		"entityId":        created.EntityID,
		"number":          created.Number,
		"sourceVersionId": sourceVersionID,
	})})
	return &created, nil
}

// TransitionVersionStatus moves a version along the allowed graph:
// draft to review, review to approved or back to draft, approved to
// published or back to draft. Sending an approved version back requires a
// reason. Publishing archives overlapping published versions.
func (s *VersionService) TransitionVersionStatus(ctx context.Context, versionID string, to domain.VersionStatus, audit domain.AuditContext) (*domain.VersionedEntity, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}
	if !to.IsValid() {
		return nil, domain.NewValidationError("status", "unknown version status %q", to)
	}
	unlock, err := s.lock(ctx, versionLockKey(versionID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		events  []domain.Event
		updated *domain.VersionedEntity
	)
	err = s.store.Update(ctx, func(tx driven.Tx) error {
		v, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if !domain.CanTransitionVersion(v.Status, to) {
			return &domain.StateTransitionError{
				Subject: domain.AuditSubjectVersion,
				ID:      versionID,
				From:    string(v.Status),
				To:      string(to),
			}
		}
		if v.Status == domain.VersionApproved && to == domain.VersionDraft && audit.Reason == "" {
			return domain.NewValidationError("reason", "sending an approved version back to draft needs a reason")
		}

		if to == domain.VersionPublished {
			events, err = s.publishVersion(ctx, tx, *v, "", audit)
		} else {
			var event domain.Event
			_, event, err = s.moveVersion(ctx, tx, *v, to, "", audit)
			events = []domain.Event{event}
		}
		if err != nil {
			return err
		}
		updated, err = tx.GetVersion(ctx, versionID)
		return err
	})
	if err != nil {
		return nil, wrapTx("transition version", err)
	}

	logger.Info("version %s moved to %s by %s", versionID, to, audit.Actor)
	s.emit(ctx, events)
	return updated, nil
}

// GetVersion returns a version by ID.
func (s *VersionService) GetVersion(ctx context.Context, versionID string) (*domain.VersionedEntity, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	var v *domain.VersionedEntity
	err := s.store.View(ctx, func(r driven.Reader) error {
		var err error
		v, err = r.GetVersion(ctx, versionID)
		return err
	})
	return v, err
}

// ListVersions returns an entity's history, newest first.
func (s *VersionService) ListVersions(ctx context.Context, entityType domain.EntityType, entityID string) ([]domain.VersionedEntity, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if !entityType.IsValid() {
		return nil, domain.NewValidationError("entityType", "unknown entity type %q", entityType)
	}
	var versions []domain.VersionedEntity
	err := s.store.View(ctx, func(r driven.Reader) error {
		var err error
		versions, err = r.ListVersions(ctx, domain.EntityRef{EntityType: entityType, EntityID: entityID})
		return err
	})
	return versions, err
}

// CompareVersions diffs two versions of the same entity.
func (s *VersionService) CompareVersions(ctx context.Context, leftID, rightID string) (*domain.VersionDiff, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	var diff domain.VersionDiff
	err := s.store.View(ctx, func(r driven.Reader) error {
		left, err := r.GetVersion(ctx, leftID)
		if err != nil {
			return err
		}
		right, err := r.GetVersion(ctx, rightID)
		if err != nil {
			return err
		}
		diff, err = domain.DiffVersions(*left, *right)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &diff, nil
}

// History returns the audit trail of a version, oldest first.
func (s *VersionService) History(ctx context.Context, versionID string) ([]domain.AuditEntry, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	var entries []domain.AuditEntry
	err := s.store.View(ctx, func(r driven.Reader) error {
		if _, err := r.GetVersion(ctx, versionID); err != nil {
			return err
		}
		var err error
		entries, err = r.ListAudit(ctx, versionID)
		return err
	})
	return entries, err
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

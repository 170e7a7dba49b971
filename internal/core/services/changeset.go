package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
	"github.com/custodia-labs/ratebook/internal/core/ports/driving"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// Ensure ChangeSetService implements the interface.
var _ driving.ChangeSetService = (*ChangeSetService)(nil)

// ChangeSetService drives change sets through review, approval and publish.
// Every multi-record transition runs inside one Store.Update.
type ChangeSetService struct {
	lifecycle
	store     driven.Store
	preflight *PreflightValidator
}

// NewChangeSetService creates a new change set service.
func NewChangeSetService(store driven.Store, opts ...Option) *ChangeSetService {
	resolved := resolveOptions(opts)
	return &ChangeSetService{
		lifecycle: lifecycle{options: resolved},
		store:     store,
		preflight: NewPreflightValidator(resolved.metrics),
	}
}

// RequiredRoles returns the roles that must all approve.
func (s *ChangeSetService) RequiredRoles() []string {
	return append([]string(nil), s.requiredRoles...)
}

// CreateChangeSet opens a new draft change set.
func (s *ChangeSetService) CreateChangeSet(ctx context.Context, title string, jurisdictions []string, audit domain.AuditContext) (*domain.ChangeSet, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domain.NewValidationError("title", "must not be empty")
	}

	cs := domain.ChangeSet{
		ID:            s.newID(),
		Title:         title,
		Status:        domain.ChangeSetDraft,
		Items:         []domain.ChangeSetItem{},
		Jurisdictions: normalizeJurisdictions(jurisdictions),
		CreatedAt:     audit.Now,
		CreatedBy:     audit.Actor,
		UpdatedAt:     audit.Now,
		UpdatedBy:     audit.Actor,
		Revision:      1,
	}
	err := s.store.Update(ctx, func(tx driven.Tx) error {
		if err := tx.InsertChangeSet(ctx, cs); err != nil {
			return err
		}
		return s.audit(ctx, tx, domain.AuditSubjectChangeSet, cs.ID, cs.ID, "", string(domain.ChangeSetDraft), audit)
	})
	if err != nil {
		return nil, wrapTx("create change set", err)
	}

	logger.Info("created change set %s %q", cs.ID, cs.Title)
	s.emit(ctx, []domain.Event{s.changeSetEvent(domain.EventChangeSetCreated, cs, audit, nil)})
	return &cs, nil
}

// GetChangeSet returns a change set by ID.
func (s *ChangeSetService) GetChangeSet(ctx context.Context, id string) (*domain.ChangeSet, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	var cs *domain.ChangeSet
	err := s.store.View(ctx, func(r driven.Reader) error {
		var err error
		cs, err = r.GetChangeSet(ctx, id)
		return err
	})
	return cs, err
}

// ListChangeSets returns change sets, filtered by status when set.
func (s *ChangeSetService) ListChangeSets(ctx context.Context, status domain.ChangeSetStatus) ([]domain.ChangeSet, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if status != "" && !status.IsValid() {
		return nil, domain.NewValidationError("status", "unknown change set status %q", status)
	}
	var sets []domain.ChangeSet
	err := s.store.View(ctx, func(r driven.Reader) error {
		var err error
		sets, err = r.ListChangeSets(ctx, status)
		return err
	})
	return sets, err
}

// AddItem attaches a version to a draft change set. Each entity may appear
// once, and the version must belong to the item's entity.
func (s *ChangeSetService) AddItem(ctx context.Context, id string, item domain.ChangeSetItem, audit domain.AuditContext) (*domain.ChangeSet, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	return s.editDraft(ctx, id, audit, func(tx driven.Tx, cs *domain.ChangeSet) error {
		if existing, ok := cs.ItemFor(item.Ref()); ok {
			return domain.NewValidationError("entityId", "%s is already in the change set (version %s)", item.Ref(), existing.TargetVersionID)
		}
		v, err := tx.GetVersion(ctx, item.TargetVersionID)
		if err != nil {
			return err
		}
		if v.Ref() != item.Ref() {
			return domain.NewValidationError("targetVersionId", "version %s belongs to %s, not %s", v.VersionID, v.Ref(), item.Ref())
		}
		history, err := tx.ListVersions(ctx, item.Ref())
		if err != nil {
			return err
		}
		published := false
		for _, other := range history {
			if other.Status == domain.VersionPublished {
				published = true
				break
			}
		}
		switch {
		case item.Action == domain.ActionCreate && published:
			return domain.NewValidationError("action", "%s is already published; use update", item.Ref())
		case item.Action == domain.ActionDelete && !published:
			return domain.NewValidationError("action", "%s has no published version to delete", item.Ref())
		}
		cs.Items = append(cs.Items, item)
		return nil
	})
}

// RemoveItem detaches the item targeting versionID.
func (s *ChangeSetService) RemoveItem(ctx context.Context, id, versionID string, audit domain.AuditContext) (*domain.ChangeSet, error) {
	return s.editDraft(ctx, id, audit, func(_ driven.Tx, cs *domain.ChangeSet) error {
		for i, item := range cs.Items {
			if item.TargetVersionID == versionID {
				cs.Items = append(cs.Items[:i], cs.Items[i+1:]...)
				return nil
			}
		}
		return domain.NewNotFoundError(domain.NotFoundItem, versionID)
	})
}

func (s *ChangeSetService) editDraft(ctx context.Context, id string, audit domain.AuditContext, edit func(driven.Tx, *domain.ChangeSet) error) (*domain.ChangeSet, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, changeSetLockKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated domain.ChangeSet
	err = s.store.Update(ctx, func(tx driven.Tx) error {
		cs, err := tx.GetChangeSet(ctx, id)
		if err != nil {
			return err
		}
		if cs.Status != domain.ChangeSetDraft {
			return &domain.StateTransitionError{
				Subject: domain.AuditSubjectChangeSet,
				ID:      id,
				From:    string(cs.Status),
				To:      "edit",
			}
		}
		if err := edit(tx, cs); err != nil {
			return err
		}
		cs.UpdatedAt = audit.Now
		cs.UpdatedBy = audit.Actor
		updated, err = tx.UpdateChangeSet(ctx, *cs)
		return err
	})
	if err != nil {
		return nil, wrapTx("edit change set", err)
	}
	s.emit(ctx, []domain.Event{s.changeSetEvent(domain.EventChangeSetUpdated, updated, audit, map[string]any{"items": len(updated.Items)})})
	return &updated, nil
}

// SubmitForReview moves every item version from draft to review and the
// change set to in_review. If any item is not draft nothing changes.
func (s *ChangeSetService) SubmitForReview(ctx context.Context, id string, audit domain.AuditContext) (*domain.ChangeSet, error) {
	return s.transition(ctx, id, audit, domain.ChangeSetInReview, func(tx driven.Tx, cs *domain.ChangeSet) ([]domain.Event, error) {
		if len(cs.Items) == 0 {
			return nil, domain.NewValidationError("items", "change set %s has no items", cs.ID)
		}
		versions, err := s.itemVersions(ctx, tx, *cs)
		if err != nil {
			return nil, err
		}
		var offenders []string
		for _, v := range versions {
			if v.Status != domain.VersionDraft {
				offenders = append(offenders, fmt.Sprintf("%s version %s is %s", v.Ref(), v.VersionID, v.Status))
			}
		}
		if len(offenders) > 0 {
			return nil, domain.NewValidationError("items", "every item must be draft: %s", strings.Join(offenders, "; "))
		}
		cs.Approvals = nil
		return s.moveAll(ctx, tx, cs.ID, versions, domain.VersionReview, audit)
	}, domain.EventChangeSetSubmitted)
}

// ReturnToDraft sends an in-review change set back for edits. Item
// versions return to draft and approvals are cleared.
func (s *ChangeSetService) ReturnToDraft(ctx context.Context, id string, audit domain.AuditContext) (*domain.ChangeSet, error) {
	if strings.TrimSpace(audit.Reason) == "" {
		return nil, domain.NewValidationError("reason", "returning a change set to draft needs a reason")
	}
	return s.transition(ctx, id, audit, domain.ChangeSetDraft, func(tx driven.Tx, cs *domain.ChangeSet) ([]domain.Event, error) {
		versions, err := s.itemVersions(ctx, tx, *cs)
		if err != nil {
			return nil, err
		}
		cs.Approvals = nil
		cs.Notes = audit.Reason
		return s.moveAll(ctx, tx, cs.ID, versions, domain.VersionDraft, audit)
	}, domain.EventChangeSetReturned)
}

// Approve records role's sign-off. A role approving twice is a no-op. Once
// every required role has signed the change set and its versions become
// approved.
func (s *ChangeSetService) Approve(ctx context.Context, id, role string, audit domain.AuditContext) (*domain.ChangeSet, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkRole(role); err != nil {
		return nil, err
	}
	versionKeys, err := s.versionKeys(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, append(versionKeys, changeSetLockKey(id))...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result domain.ChangeSet
		events []domain.Event
	)
	err = s.store.Update(ctx, func(tx driven.Tx) error {
		cs, err := tx.GetChangeSet(ctx, id)
		if err != nil {
			return err
		}
		if cs.HasApproval(role) && (cs.Status == domain.ChangeSetInReview || cs.Status == domain.ChangeSetApproved) {
			result = *cs
			return nil
		}
		if cs.Status != domain.ChangeSetInReview {
			return &domain.StateTransitionError{
				Subject: domain.AuditSubjectChangeSet,
				ID:      id,
				From:    string(cs.Status),
				To:      string(domain.ChangeSetApproved),
			}
		}

		cs.Approvals = append(cs.Approvals, domain.Approval{Role: role, Actor: audit.Actor, At: audit.Now})
		cs.UpdatedAt = audit.Now
		cs.UpdatedBy = audit.Actor
		events = append(events, s.changeSetEvent(domain.EventChangeSetApprovalRecorded, *cs, audit, map[string]any{"role": role}))

		if missing := cs.MissingRoles(s.requiredRoles); len(missing) > 0 {
			logger.Info("change set %s approved by %s, waiting on %s", id, role, strings.Join(missing, ", "))
			result, err = tx.UpdateChangeSet(ctx, *cs)
			return err
		}

		versions, err := s.itemVersions(ctx, tx, *cs)
		if err != nil {
			return err
		}
		moved, err := s.moveAll(ctx, tx, cs.ID, versions, domain.VersionApproved, audit)
		if err != nil {
			return err
		}
		events = append(events, moved...)
		if err := s.setStatus(ctx, tx, cs, domain.ChangeSetApproved, audit); err != nil {
			return err
		}
		result, err = tx.UpdateChangeSet(ctx, *cs)
		if err != nil {
			return err
		}
		events = append(events, s.changeSetEvent(domain.EventChangeSetApproved, result, audit, map[string]any{"roles": result.ApprovedRoles()}))
		return nil
	})
	if err != nil {
		return nil, wrapTx("approve change set", err)
	}
	s.emit(ctx, events)
	return &result, nil
}

// Reject ends review. Item versions return to draft and notes are kept on
// the change set and in the audit trail. A rejected change set can only be
// cloned.
func (s *ChangeSetService) Reject(ctx context.Context, id, role, notes string, audit domain.AuditContext) (*domain.ChangeSet, error) {
	if err := s.checkRole(role); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, domain.NewValidationError("notes", "rejection needs notes")
	}
	audit.Reason = notes
	return s.transition(ctx, id, audit, domain.ChangeSetRejected, func(tx driven.Tx, cs *domain.ChangeSet) ([]domain.Event, error) {
		versions, err := s.itemVersions(ctx, tx, *cs)
		if err != nil {
			return nil, err
		}
		cs.Notes = notes
		return s.moveAll(ctx, tx, cs.ID, versions, domain.VersionDraft, audit)
	}, domain.EventChangeSetRejected)
}

// Publish promotes every item in one commit. Preflight runs inside the same
// commit and any blocking issue aborts with a PreflightBlockedError.
// Publishing an already published change set returns it unchanged.
func (s *ChangeSetService) Publish(ctx context.Context, id string, audit domain.AuditContext) (*domain.ChangeSet, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}
	versionKeys, err := s.versionKeys(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, append(versionKeys, changeSetLockKey(id))...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	logger.Section("Publish " + id)
	var (
		result domain.ChangeSet
		events []domain.Event
		noop   bool
	)
	err = s.store.Update(ctx, func(tx driven.Tx) error {
		cs, err := tx.GetChangeSet(ctx, id)
		if err != nil {
			return err
		}
		if cs.Status == domain.ChangeSetPublished {
			result, noop = *cs, true
			return nil
		}
		if cs.Status != domain.ChangeSetApproved {
			return &domain.StateTransitionError{
				Subject: domain.AuditSubjectChangeSet,
				ID:      id,
				From:    string(cs.Status),
				To:      string(domain.ChangeSetPublished),
			}
		}

		report, err := s.preflight.Check(ctx, tx, *cs, cs.Jurisdictions, audit.Now)
		if err != nil {
			return err
		}
		if report.Blocking() {
			return &domain.PreflightBlockedError{Report: report}
		}

		versions, err := s.itemVersions(ctx, tx, *cs)
		if err != nil {
			return err
		}
		for i, item := range cs.Items {
			var moved []domain.Event
			if item.Action == domain.ActionDelete {
				moved, err = s.retireEntity(ctx, tx, versions[i], cs.ID, audit)
			} else {
				moved, err = s.publishVersion(ctx, tx, versions[i], cs.ID, audit)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", item.Ref(), err)
			}
			events = append(events, moved...)
		}

		published := audit.Now
		cs.PublishedAt = &published
		if err := s.setStatus(ctx, tx, cs, domain.ChangeSetPublished, audit); err != nil {
			return err
		}
		result, err = tx.UpdateChangeSet(ctx, *cs)
		if err != nil {
			return err
		}
		events = append(events, s.changeSetEvent(domain.EventChangeSetPublished, result, audit, map[string]any{"items": len(result.Items)}))
		return nil
	})
	if err != nil {
		return nil, wrapTx("publish change set", err)
	}
	if noop {
		logger.Info("change set %s already published", id)
		return &result, nil
	}

	logger.Info("published change set %s (%d items)", id, len(result.Items))
	s.emit(ctx, events)
	return &result, nil
}

// CloneChangeSet opens a new draft carrying a rejected change set's items.
// Items whose versions are no longer draft get a fresh draft cloned from
// that version.
func (s *ChangeSetService) CloneChangeSet(ctx context.Context, id string, audit domain.AuditContext) (*domain.ChangeSet, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}

	var (
		clone  domain.ChangeSet
		events []domain.Event
	)
	err := s.store.Update(ctx, func(tx driven.Tx) error {
		source, err := tx.GetChangeSet(ctx, id)
		if err != nil {
			return err
		}
		if source.Status != domain.ChangeSetRejected {
			return &domain.StateTransitionError{
				Subject: domain.AuditSubjectChangeSet,
				ID:      id,
				From:    string(source.Status),
				To:      "clone",
			}
		}

		clone = domain.ChangeSet{
			ID:            s.newID(),
			Title:         source.Title,
			Status:        domain.ChangeSetDraft,
			Items:         make([]domain.ChangeSetItem, 0, len(source.Items)),
			Jurisdictions: append([]string(nil), source.Jurisdictions...),
			ClonedFrom:    source.ID,
			CreatedAt:     audit.Now,
			CreatedBy:     audit.Actor,
			UpdatedAt:     audit.Now,
			UpdatedBy:     audit.Actor,
			Revision:      1,
		}
		for _, item := range source.Items {
			v, err := tx.GetVersion(ctx, item.TargetVersionID)
			if err != nil {
				return err
			}
			if v.Status != domain.VersionDraft {
				fresh, err := s.newDraft(ctx, tx, v.Ref(), v.Payload, v.VersionID, audit)
				if err != nil {
					return err
				}
				item.TargetVersionID = fresh.VersionID
				events = append(events, s.event(domain.EventVersionCreated, domain.AuditSubjectVersion, fresh.VersionID, audit, map[string]any{
					"entityType":      string(fresh.EntityType),
					"entityId":        fresh.EntityID,
					"sourceVersionId": v.VersionID,
				}))
			}
			clone.Items = append(clone.Items, item)
		}
		if err := tx.InsertChangeSet(ctx, clone); err != nil {
			return err
		}
		return s.audit(ctx, tx, domain.AuditSubjectChangeSet, clone.ID, clone.ID, "", string(domain.ChangeSetDraft), audit)
	})
	if err != nil {
		return nil, wrapTx("clone change set", err)
	}

	logger.Info("cloned rejected change set %s into %s", id, clone.ID)
	events = append(events, s.changeSetEvent(domain.EventChangeSetCreated, clone, audit, map[string]any{"clonedFrom": id}))
	s.emit(ctx, events)
	return &clone, nil
}

// GetPublishPreflight runs preflight without side effects.
func (s *ChangeSetService) GetPublishPreflight(ctx context.Context, id string, jurisdictions []string) (*domain.PreflightReport, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	var report domain.PreflightReport
	err := s.store.View(ctx, func(r driven.Reader) error {
		cs, err := r.GetChangeSet(ctx, id)
		if err != nil {
			return err
		}
		states := normalizeJurisdictions(jurisdictions)
		if len(states) == 0 {
			states = cs.Jurisdictions
		}
		report, err = s.preflight.Check(ctx, r, *cs, states, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// AuditTrail returns the change set's transitions and those of its
// versions made while it was under review, oldest first.
func (s *ChangeSetService) AuditTrail(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	var entries []domain.AuditEntry
	err := s.store.View(ctx, func(r driven.Reader) error {
		if _, err := r.GetChangeSet(ctx, id); err != nil {
			return err
		}
		var err error
		entries, err = r.ListAudit(ctx, id)
		return err
	})
	return entries, err
}

// transition runs a change set state change together with the version
// moves step makes, all inside one commit.
func (s *ChangeSetService) transition(ctx context.Context, id string, audit domain.AuditContext, to domain.ChangeSetStatus, step func(driven.Tx, *domain.ChangeSet) ([]domain.Event, error), eventType domain.EventType) (*domain.ChangeSet, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}
	versionKeys, err := s.versionKeys(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, append(versionKeys, changeSetLockKey(id))...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result domain.ChangeSet
		events []domain.Event
	)
	err = s.store.Update(ctx, func(tx driven.Tx) error {
		cs, err := tx.GetChangeSet(ctx, id)
		if err != nil {
			return err
		}
		if !domain.CanTransitionChangeSet(cs.Status, to) {
			return &domain.StateTransitionError{
				Subject: domain.AuditSubjectChangeSet,
				ID:      id,
				From:    string(cs.Status),
				To:      string(to),
			}
		}
		moved, err := step(tx, cs)
		if err != nil {
			return err
		}
		if err := s.setStatus(ctx, tx, cs, to, audit); err != nil {
			return err
		}
		result, err = tx.UpdateChangeSet(ctx, *cs)
		if err != nil {
			return err
		}
		events = append(moved, s.changeSetEvent(eventType, result, audit, nil))
		return nil
	})
	if err != nil {
		return nil, wrapTx(fmt.Sprintf("move change set to %s", to), err)
	}

	logger.Info("change set %s moved to %s by %s", id, to, audit.Actor)
	s.emit(ctx, events)
	return &result, nil
}

func (s *ChangeSetService) setStatus(ctx context.Context, tx driven.Tx, cs *domain.ChangeSet, to domain.ChangeSetStatus, audit domain.AuditContext) error {
	from := cs.Status
	cs.Status = to
	cs.UpdatedAt = audit.Now
	cs.UpdatedBy = audit.Actor
	if err := s.audit(ctx, tx, domain.AuditSubjectChangeSet, cs.ID, cs.ID, string(from), string(to), audit); err != nil {
		return err
	}
	s.metrics.CountTransition(domain.AuditSubjectChangeSet, string(to))
	return nil
}

// itemVersions loads the target version of every item, in item order.
func (s *ChangeSetService) itemVersions(ctx context.Context, tx driven.Reader, cs domain.ChangeSet) ([]domain.VersionedEntity, error) {
	versions := make([]domain.VersionedEntity, 0, len(cs.Items))
	for _, item := range cs.Items {
		v, err := tx.GetVersion(ctx, item.TargetVersionID)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, nil
}

func (s *ChangeSetService) moveAll(ctx context.Context, tx driven.Tx, changeSetID string, versions []domain.VersionedEntity, to domain.VersionStatus, audit domain.AuditContext) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(versions))
	for _, v := range versions {
		_, event, err := s.moveVersion(ctx, tx, v, to, changeSetID, audit)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// versionKeys returns the lock keys of the change set's item versions.
func (s *ChangeSetService) versionKeys(ctx context.Context, id string) ([]string, error) {
	var keys []string
	err := s.store.View(ctx, func(r driven.Reader) error {
		cs, err := r.GetChangeSet(ctx, id)
		if err != nil {
			return err
		}
		for _, item := range cs.Items {
			keys = append(keys, versionLockKey(item.TargetVersionID))
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

func (s *ChangeSetService) checkRole(role string) error {
	for _, required := range s.requiredRoles {
		if required == role {
			return nil
		}
	}
	return domain.NewValidationError("role", "%q is not an approving role (want one of %s)", role, strings.Join(s.requiredRoles, ", "))
}

func (s *ChangeSetService) changeSetEvent(typ domain.EventType, cs domain.ChangeSet, audit domain.AuditContext, data map[string]any) domain.Event {
	if data == nil {
		data = map[string]any{}
	}
	data["status"] = string(cs.Status)
	data["title"] = cs.Title
	return s.event(typ, domain.AuditSubjectChangeSet, cs.ID, audit, data)
}

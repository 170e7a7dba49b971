package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

// lifecycle holds the helpers shared by the version and change set services.
// Every helper writes through a Tx and returns the events to emit once the
// Tx commits.
type lifecycle struct {
	options
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func (l *lifecycle) audit(ctx context.Context, tx driven.Tx, subjectType, subjectID, changeSetID, from, to string, audit domain.AuditContext) error {
	return tx.AppendAudit(ctx, domain.AuditEntry{
		ID:          l.newID(),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		ChangeSetID: changeSetID,
		From:        from,
		To:          to,
		Actor:       audit.Actor,
		At:          audit.Now,
		Reason:      audit.Reason,
	})
}

// moveVersion applies one edge of the version graph. archive permits the
// internal published/approved to archived edge used at publish.
func (l *lifecycle) moveVersion(ctx context.Context, tx driven.Tx, v domain.VersionedEntity, to domain.VersionStatus, changeSetID string, audit domain.AuditContext) (domain.VersionedEntity, domain.Event, error) {
	allowed := domain.CanTransitionVersion(v.Status, to)
	if to == domain.VersionArchived {
		allowed = domain.CanArchiveVersion(v.Status)
	}
	if !allowed {
		return v, domain.Event{}, &domain.StateTransitionError{
			Subject: domain.AuditSubjectVersion,
			ID:      v.VersionID,
			From:    string(v.Status),
			To:      string(to),
		}
	}

	from := v.Status
	v.Status = to
	v.UpdatedAt = audit.Now
	v.UpdatedBy = audit.Actor
	updated, err := tx.UpdateVersion(ctx, v)
	if err != nil {
		return v, domain.Event{}, err
	}
	if err := l.audit(ctx, tx, domain.AuditSubjectVersion, v.VersionID, changeSetID, string(from), string(to), audit); err != nil {
		return v, domain.Event{}, err
	}
	l.metrics.CountTransition(domain.AuditSubjectVersion, string(to))

	data := map[string]any{
		"entityType": string(v.EntityType),
		"entityId":   v.EntityID,
		"from":       string(from),
		"to":         string(to),
	}
	if changeSetID != "" {
		data["changeSetId"] = changeSetID
	}
	return updated, l.event(domain.EventVersionTransitioned, domain.AuditSubjectVersion, v.VersionID, audit, data), nil
}

// publishVersion promotes an approved version. Published versions of the
// same entity whose window overlaps are archived first, keeping at most one
// published version per window. Products and coverages without a start
// date start now.
func (l *lifecycle) publishVersion(ctx context.Context, tx driven.Tx, v domain.VersionedEntity, changeSetID string, audit domain.AuditContext) ([]domain.Event, error) {
	if v.Status != domain.VersionApproved {
		return nil, &domain.StateTransitionError{
			Subject: domain.AuditSubjectVersion,
			ID:      v.VersionID,
			From:    string(v.Status),
			To:      string(domain.VersionPublished),
		}
	}
	if v.EffectiveStart == nil && (v.EntityType == domain.EntityProduct || v.EntityType == domain.EntityCoverage) {
		start := audit.Now
		v.EffectiveStart = &start
	}

	history, err := tx.ListVersions(ctx, v.Ref())
	if err != nil {
		return nil, err
	}
	var events []domain.Event
	for _, other := range history {
		if other.VersionID == v.VersionID || other.Status != domain.VersionPublished || !other.Overlaps(v) {
			continue
		}
		_, event, err := l.moveVersion(ctx, tx, other, domain.VersionArchived, changeSetID, audit)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	_, event, err := l.moveVersion(ctx, tx, v, domain.VersionPublished, changeSetID, audit)
	if err != nil {
		return nil, err
	}
	return append(events, event), nil
}

// retireEntity archives every published version of v's entity and v itself.
func (l *lifecycle) retireEntity(ctx context.Context, tx driven.Tx, v domain.VersionedEntity, changeSetID string, audit domain.AuditContext) ([]domain.Event, error) {
	history, err := tx.ListVersions(ctx, v.Ref())
	if err != nil {
		return nil, err
	}
	var events []domain.Event
	for _, other := range history {
		if other.VersionID == v.VersionID || other.Status != domain.VersionPublished {
			continue
		}
		_, event, err := l.moveVersion(ctx, tx, other, domain.VersionArchived, changeSetID, audit)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	_, event, err := l.moveVersion(ctx, tx, v, domain.VersionArchived, changeSetID, audit)
	if err != nil {
		return nil, err
	}
	return append(events, event), nil
}

// newDraft appends a draft version numbered after the entity's newest.
func (l *lifecycle) newDraft(ctx context.Context, tx driven.Tx, ref domain.EntityRef, payload map[string]any, sourceID string, audit domain.AuditContext) (domain.VersionedEntity, error) {
	history, err := tx.ListVersions(ctx, ref)
	if err != nil {
		return domain.VersionedEntity{}, err
	}
	number := 1
	if len(history) > 0 {
		number = history[0].Number + 1
	}
	v := domain.VersionedEntity{
		EntityType:      ref.EntityType,
		EntityID:        ref.EntityID,
		VersionID:       l.newID(),
		Number:          number,
		Status:          domain.VersionDraft,
		Payload:         domain.ClonePayload(payload),
		SourceVersionID: sourceID,
		CreatedAt:       audit.Now,
		CreatedBy:       audit.Actor,
		UpdatedAt:       audit.Now,
		UpdatedBy:       audit.Actor,
		Revision:        1,
	}
	if err := tx.InsertVersion(ctx, v); err != nil {
		return domain.VersionedEntity{}, err
	}
	if err := l.audit(ctx, tx, domain.AuditSubjectVersion, v.VersionID, "", "", string(domain.VersionDraft), audit); err != nil {
		return domain.VersionedEntity{}, err
	}
	return v, nil
}

func normalizeJurisdictions(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

func requireEntityID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", domain.NewValidationError("entityId", "must not be empty")
	}
	if strings.ContainsAny(id, "/ \t\n") {
		return "", domain.NewValidationError("entityId", "%q must not contain slashes or whitespace", id)
	}
	return id, nil
}

func wrapTx(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

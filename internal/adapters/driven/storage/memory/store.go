package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.Store = (*Store)(nil)

// Store is an in-memory implementation of driven.Store.
//
// Update stages writes in a private overlay and applies them under the
// write lock only if every record it touched still carries the revision it
// read. Records are copied in and out so callers never alias stored state.
type Store struct {
	mu         sync.RWMutex
	versions   map[string]domain.VersionedEntity
	changeSets map[string]domain.ChangeSet
	audit      []domain.AuditEntry
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		versions:   make(map[string]domain.VersionedEntity),
		changeSets: make(map[string]domain.ChangeSet),
	}
}

// View runs fn against the committed state.
func (s *Store) View(ctx context.Context, fn func(driven.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(newTx(s))
}

// Update runs fn against an overlay and commits it atomically.
func (s *Store) Update(ctx context.Context, fn func(driven.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) commit(tx *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, v := range tx.versions {
		expected, updated := tx.versionBase[id]
		stored, exists := s.versions[id]
		switch {
		case updated && (!exists || stored.Revision != expected):
			return &domain.ConcurrencyConflictError{Subject: domain.AuditSubjectVersion, ID: id, Expected: expected, Actual: stored.Revision}
		case !updated && exists:
			return &domain.ConcurrencyConflictError{Subject: domain.AuditSubjectVersion, ID: id}
		case !updated:
			for _, other := range s.versions {
				if other.Ref() == v.Ref() && other.Number == v.Number {
					return &domain.ConcurrencyConflictError{Subject: domain.AuditSubjectVersion, ID: v.Ref().String()}
				}
			}
		}
	}
	for id := range tx.changeSets {
		expected, updated := tx.changeSetBase[id]
		stored, exists := s.changeSets[id]
		switch {
		case updated && (!exists || stored.Revision != expected):
			return &domain.ConcurrencyConflictError{Subject: domain.AuditSubjectChangeSet, ID: id, Expected: expected, Actual: stored.Revision}
		case !updated && exists:
			return &domain.ConcurrencyConflictError{Subject: domain.AuditSubjectChangeSet, ID: id}
		}
	}

	for id, v := range tx.versions {
		s.versions[id] = v
	}
	for id, cs := range tx.changeSets {
		s.changeSets[id] = cs
	}
	s.audit = append(s.audit, tx.audit...)
	return nil
}

// tx overlays staged writes on the committed maps. versionBase and
// changeSetBase hold the stored revision each updated record was read at;
// staged records missing from them are inserts.
type tx struct {
	store         *Store
	versions      map[string]domain.VersionedEntity
	versionBase   map[string]int64
	changeSets    map[string]domain.ChangeSet
	changeSetBase map[string]int64
	audit         []domain.AuditEntry
}

func newTx(s *Store) *tx {
	return &tx{
		store:         s,
		versions:      make(map[string]domain.VersionedEntity),
		versionBase:   make(map[string]int64),
		changeSets:    make(map[string]domain.ChangeSet),
		changeSetBase: make(map[string]int64),
	}
}

func (t *tx) version(id string) (domain.VersionedEntity, bool) {
	if v, ok := t.versions[id]; ok {
		return v, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	v, ok := t.store.versions[id]
	return v, ok
}

func (t *tx) changeSet(id string) (domain.ChangeSet, bool) {
	if cs, ok := t.changeSets[id]; ok {
		return cs, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	cs, ok := t.store.changeSets[id]
	return cs, ok
}

// allVersions merges committed and staged versions that match keep.
func (t *tx) allVersions(keep func(domain.VersionedEntity) bool) []domain.VersionedEntity {
	t.store.mu.RLock()
	merged := make(map[string]domain.VersionedEntity, len(t.store.versions)+len(t.versions))
	for id, v := range t.store.versions {
		merged[id] = v
	}
	t.store.mu.RUnlock()
	for id, v := range t.versions {
		merged[id] = v
	}

	result := make([]domain.VersionedEntity, 0)
	for _, v := range merged {
		if keep(v) {
			result = append(result, v.Clone())
		}
	}
	return result
}

// GetVersion retrieves a version by ID.
func (t *tx) GetVersion(_ context.Context, versionID string) (*domain.VersionedEntity, error) {
	v, ok := t.version(versionID)
	if !ok {
		return nil, domain.NewNotFoundError(domain.NotFoundVersion, versionID)
	}
	out := v.Clone()
	return &out, nil
}

// ListVersions returns an entity's history, newest first.
func (t *tx) ListVersions(_ context.Context, ref domain.EntityRef) ([]domain.VersionedEntity, error) {
	result := t.allVersions(func(v domain.VersionedEntity) bool { return v.Ref() == ref })
	sort.Slice(result, func(i, j int) bool { return result[i].Number > result[j].Number })
	return result, nil
}

// ListVersionsByType returns every version of a type.
func (t *tx) ListVersionsByType(_ context.Context, entityType domain.EntityType) ([]domain.VersionedEntity, error) {
	result := t.allVersions(func(v domain.VersionedEntity) bool { return v.EntityType == entityType })
	sort.Slice(result, func(i, j int) bool {
		if result[i].EntityID != result[j].EntityID {
			return result[i].EntityID < result[j].EntityID
		}
		return result[i].Number > result[j].Number
	})
	return result, nil
}

// GetChangeSet retrieves a change set by ID.
func (t *tx) GetChangeSet(_ context.Context, id string) (*domain.ChangeSet, error) {
	cs, ok := t.changeSet(id)
	if !ok {
		return nil, domain.NewNotFoundError(domain.NotFoundChangeSet, id)
	}
	out := cs.Clone()
	return &out, nil
}

// ListChangeSets returns change sets, newest first.
func (t *tx) ListChangeSets(_ context.Context, status domain.ChangeSetStatus) ([]domain.ChangeSet, error) {
	t.store.mu.RLock()
	merged := make(map[string]domain.ChangeSet, len(t.store.changeSets)+len(t.changeSets))
	for id, cs := range t.store.changeSets {
		merged[id] = cs
	}
	t.store.mu.RUnlock()
	for id, cs := range t.changeSets {
		merged[id] = cs
	}

	result := make([]domain.ChangeSet, 0, len(merged))
	for _, cs := range merged {
		if status == "" || cs.Status == status {
			result = append(result, cs.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ListAudit returns the entries for a subject or change set, oldest first.
func (t *tx) ListAudit(_ context.Context, id string) ([]domain.AuditEntry, error) {
	t.store.mu.RLock()
	entries := append(append([]domain.AuditEntry(nil), t.store.audit...), t.audit...)
	t.store.mu.RUnlock()

	result := make([]domain.AuditEntry, 0)
	for _, entry := range entries {
		if entry.SubjectID == id || entry.ChangeSetID == id {
			result = append(result, entry)
		}
	}
	return result, nil
}

// InsertVersion stages a new version.
func (t *tx) InsertVersion(_ context.Context, v domain.VersionedEntity) error {
	if _, exists := t.version(v.VersionID); exists {
		return fmt.Errorf("version %q: %w", v.VersionID, domain.ErrAlreadyExists)
	}
	clash := t.allVersions(func(other domain.VersionedEntity) bool {
		return other.Ref() == v.Ref() && other.Number == v.Number
	})
	if len(clash) > 0 {
		return &domain.ConcurrencyConflictError{Subject: domain.AuditSubjectVersion, ID: v.Ref().String()}
	}
	t.versions[v.VersionID] = v.Clone()
	return nil
}

// UpdateVersion stages a revision-checked replacement.
func (t *tx) UpdateVersion(_ context.Context, v domain.VersionedEntity) (domain.VersionedEntity, error) {
	current, ok := t.version(v.VersionID)
	if !ok {
		return domain.VersionedEntity{}, domain.NewNotFoundError(domain.NotFoundVersion, v.VersionID)
	}
	if current.Revision != v.Revision {
		return domain.VersionedEntity{}, &domain.ConcurrencyConflictError{
			Subject:  domain.AuditSubjectVersion,
			ID:       v.VersionID,
			Expected: v.Revision,
			Actual:   current.Revision,
		}
	}
	if _, staged := t.versions[v.VersionID]; !staged {
		t.versionBase[v.VersionID] = current.Revision
	}
	next := v.Clone()
	next.Revision++
	t.versions[v.VersionID] = next
	return next.Clone(), nil
}

// InsertChangeSet stages a new change set.
func (t *tx) InsertChangeSet(_ context.Context, cs domain.ChangeSet) error {
	if _, exists := t.changeSet(cs.ID); exists {
		return fmt.Errorf("change set %q: %w", cs.ID, domain.ErrAlreadyExists)
	}
	t.changeSets[cs.ID] = cs.Clone()
	return nil
}

// UpdateChangeSet stages a revision-checked replacement.
func (t *tx) UpdateChangeSet(_ context.Context, cs domain.ChangeSet) (domain.ChangeSet, error) {
	current, ok := t.changeSet(cs.ID)
	if !ok {
		return domain.ChangeSet{}, domain.NewNotFoundError(domain.NotFoundChangeSet, cs.ID)
	}
	if current.Revision != cs.Revision {
		return domain.ChangeSet{}, &domain.ConcurrencyConflictError{
			Subject:  domain.AuditSubjectChangeSet,
			ID:       cs.ID,
			Expected: cs.Revision,
			Actual:   current.Revision,
		}
	}
	if _, staged := t.changeSets[cs.ID]; !staged {
		t.changeSetBase[cs.ID] = current.Revision
	}
	next := cs.Clone()
	next.Revision++
	t.changeSets[cs.ID] = next
	return next.Clone(), nil
}

// AppendAudit stages an audit entry.
func (t *tx) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	t.audit = append(t.audit, entry)
	return nil
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ratebook/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ratebook/internal/core/domain"
)

func newTestVersionService(t *testing.T, opts ...Option) (*VersionService, *memory.Store, *recordingPublisher) {
	t.Helper()
	store := memory.NewStore()
	publisher := &recordingPublisher{}
	opts = append([]Option{WithEventPublisher(publisher), WithIDGenerator(sequentialIDs("id"))}, opts...)
	return NewVersionService(store, opts...), store, publisher
}

func coveragePayload() map[string]any {
	return map[string]any{"name": "Building", "category": "base", "isOptional": false}
}

func TestVersionService_CreateDraftVersion(t *testing.T) {
	service, _, publisher := newTestVersionService(t)
	ctx := context.Background()

	first, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)
	second, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Number)
	assert.Equal(t, 2, second.Number)
	assert.Equal(t, domain.VersionDraft, second.Status)
	assert.Equal(t, "ana", second.CreatedBy)
	assert.Equal(t, testNow, second.CreatedAt)
	assert.Equal(t, []domain.EventType{domain.EventVersionCreated, domain.EventVersionCreated}, publisher.types())

	history, err := service.History(ctx, first.VersionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "draft", history[0].To)
}

func TestVersionService_CreateDraftVersion_Validation(t *testing.T) {
	service, _, _ := newTestVersionService(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		entityType domain.EntityType
		entityID   string
		payload    map[string]any
		audit      domain.AuditContext
	}{
		{name: "unknown type", entityType: "widget", entityID: "w", payload: map[string]any{}, audit: auditAs("ana")},
		{name: "empty id", entityType: domain.EntityCoverage, entityID: " ", payload: coveragePayload(), audit: auditAs("ana")},
		{name: "slash in id", entityType: domain.EntityCoverage, entityID: "a/b", payload: coveragePayload(), audit: auditAs("ana")},
		{name: "optional category", entityType: domain.EntityCoverage, entityID: "glass", payload: map[string]any{"category": "optional"}, audit: auditAs("ana")},
		{name: "no actor", entityType: domain.EntityCoverage, entityID: "glass", payload: coveragePayload(), audit: domain.AuditContext{Now: testNow}},
		{name: "no clock", entityType: domain.EntityCoverage, entityID: "glass", payload: coveragePayload(), audit: domain.AuditContext{Actor: "ana"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreateDraftVersion(ctx, tt.entityType, tt.entityID, tt.payload, tt.audit)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestVersionService_UpdateDraftVersion(t *testing.T) {
	service, _, _ := newTestVersionService(t)
	ctx := context.Background()
	v, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)

	payload := coveragePayload()
	payload["name"] = "Building (ACV)"
	updated, err := service.UpdateDraftVersion(ctx, v.VersionID, payload, domain.AuditContext{Actor: "bo", Now: testNow.Add(time.Hour)})

	require.NoError(t, err)
	assert.Equal(t, "Building (ACV)", updated.Payload["name"])
	assert.Equal(t, "bo", updated.UpdatedBy)
	assert.Equal(t, int64(2), updated.Revision)
}

func TestVersionService_UpdateNonDraftFails(t *testing.T) {
	service, _, _ := newTestVersionService(t)
	ctx := context.Background()
	v, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)
	_, err = service.TransitionVersionStatus(ctx, v.VersionID, domain.VersionReview, auditAs("ana"))
	require.NoError(t, err)

	_, err = service.UpdateDraftVersion(ctx, v.VersionID, coveragePayload(), auditAs("ana"))

	var transition *domain.StateTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, "review", transition.From)
}

func TestVersionService_SetEffectiveWindow(t *testing.T) {
	service, _, _ := newTestVersionService(t)
	ctx := context.Background()
	v, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)

	updated, err := service.SetEffectiveWindow(ctx, v.VersionID, &start, &end, auditAs("ana"))
	require.NoError(t, err)
	assert.True(t, updated.ActiveAt(start))
	assert.False(t, updated.ActiveAt(end))

	_, err = service.SetEffectiveWindow(ctx, v.VersionID, &end, &start, auditAs("ana"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVersionService_TransitionGraph(t *testing.T) {
	service, _, _ := newTestVersionService(t)
	ctx := context.Background()
	v, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)

	_, err = service.TransitionVersionStatus(ctx, v.VersionID, domain.VersionPublished, auditAs("ana"))
	assert.ErrorIs(t, err, domain.ErrStateTransition, "draft cannot publish")

	_, err = service.TransitionVersionStatus(ctx, v.VersionID, domain.VersionArchived, auditAs("ana"))
	assert.ErrorIs(t, err, domain.ErrStateTransition, "archive is internal to publish")

	_, err = service.TransitionVersionStatus(ctx, v.VersionID, "frozen", auditAs("ana"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	for _, to := range []domain.VersionStatus{domain.VersionReview, domain.VersionApproved} {
		_, err = service.TransitionVersionStatus(ctx, v.VersionID, to, auditAs("ana"))
		require.NoError(t, err)
	}

	_, err = service.TransitionVersionStatus(ctx, v.VersionID, domain.VersionDraft, auditAs("ana"))
	assert.ErrorIs(t, err, domain.ErrValidation, "approved back to draft needs a reason")

	withReason := auditAs("ana")
	withReason.Reason = "rate filing withdrawn"
	back, err := service.TransitionVersionStatus(ctx, v.VersionID, domain.VersionDraft, withReason)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionDraft, back.Status)

	history, err := service.History(ctx, v.VersionID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "rate filing withdrawn", history[3].Reason)
}

func TestVersionService_PublishArchivesOverlapping(t *testing.T) {
	service, _, publisher := newTestVersionService(t)
	ctx := context.Background()

	publish := func(payload map[string]any) *domain.VersionedEntity {
		v, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", payload, auditAs("ana"))
		require.NoError(t, err)
		for _, to := range []domain.VersionStatus{domain.VersionReview, domain.VersionApproved, domain.VersionPublished} {
			v, err = service.TransitionVersionStatus(ctx, v.VersionID, to, auditAs("ana"))
			require.NoError(t, err)
		}
		return v
	}

	first := publish(coveragePayload())
	require.NotNil(t, first.EffectiveStart, "coverages start when published")
	publisher.reset()
	second := publish(coveragePayload())

	old, err := service.GetVersion(ctx, first.VersionID)
	require.NoError(t, err)
	assert.Equal(t, domain.VersionArchived, old.Status)
	assert.Equal(t, domain.VersionPublished, second.Status)
	assert.Contains(t, publisher.types(), domain.EventVersionTransitioned)
}

func TestVersionService_CloneVersion(t *testing.T) {
	service, _, _ := newTestVersionService(t)
	ctx := context.Background()
	v, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err = service.SetEffectiveWindow(ctx, v.VersionID, &start, nil, auditAs("ana"))
	require.NoError(t, err)

	clone, err := service.CloneVersion(ctx, v.VersionID, auditAs("bo"))

	require.NoError(t, err)
	assert.Equal(t, 2, clone.Number)
	assert.Equal(t, v.VersionID, clone.SourceVersionID)
	assert.Equal(t, v.Payload, clone.Payload)
	assert.Nil(t, clone.EffectiveStart)
	assert.Equal(t, domain.VersionDraft, clone.Status)

	_, err = service.CloneVersion(ctx, "missing", auditAs("bo"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVersionService_CompareVersions(t *testing.T) {
	service, _, _ := newTestVersionService(t)
	ctx := context.Background()
	v1, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)
	changed := coveragePayload()
	changed["category"] = "endorsement"
	changed["limits"] = []any{100000.0}
	v2, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", changed, auditAs("ana"))
	require.NoError(t, err)
	other, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "liability", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)

	diff, err := service.CompareVersions(ctx, v1.VersionID, v2.VersionID)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 2)
	assert.Equal(t, "category", diff.Changes[0].Path)
	assert.Equal(t, domain.ChangeModified, diff.Changes[0].Kind)
	assert.Equal(t, "limits[0]", diff.Changes[1].Path)
	assert.Equal(t, domain.ChangeAdded, diff.Changes[1].Kind)

	_, err = service.CompareVersions(ctx, v1.VersionID, other.VersionID)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVersionService_ListVersions(t *testing.T) {
	service, _, _ := newTestVersionService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
		require.NoError(t, err)
	}

	versions, err := service.ListVersions(ctx, domain.EntityCoverage, "building")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, 3, versions[0].Number)

	_, err = service.ListVersions(ctx, "widget", "building")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVersionService_LockHeld(t *testing.T) {
	locker := &heldLocker{held: map[string]bool{}}
	service, _, _ := newTestVersionService(t, WithLocker(locker, time.Second))
	ctx := context.Background()
	v, err := service.CreateDraftVersion(ctx, domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))
	require.NoError(t, err)

	locker.held["version:"+v.VersionID] = true
	_, err = service.TransitionVersionStatus(ctx, v.VersionID, domain.VersionReview, auditAs("ana"))
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	locker.held = map[string]bool{}
	_, err = service.TransitionVersionStatus(ctx, v.VersionID, domain.VersionReview, auditAs("ana"))
	require.NoError(t, err)
	assert.Equal(t, []string{"version:" + v.VersionID}, locker.released)
}

func TestVersionService_PublisherFailureDoesNotUndoCommit(t *testing.T) {
	store := memory.NewStore()
	publisher := &recordingPublisher{err: assert.AnError}
	service := NewVersionService(store, WithEventPublisher(publisher))

	v, err := service.CreateDraftVersion(context.Background(), domain.EntityCoverage, "building", coveragePayload(), auditAs("ana"))

	require.NoError(t, err)
	got, err := service.GetVersion(context.Background(), v.VersionID)
	require.NoError(t, err)
	assert.Equal(t, v.VersionID, got.VersionID)
}

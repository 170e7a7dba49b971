package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ratebook/internal/adapters/driven/events"
	"github.com/custodia-labs/ratebook/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/services"
	"github.com/custodia-labs/ratebook/internal/metrics"
)

type testAPI struct {
	handler http.Handler
	bus     *events.Bus
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.NewStore()
	bus := events.NewBus()
	collector := metrics.New()
	opts := []services.Option{services.WithEventPublisher(bus), services.WithMetrics(collector)}
	handler := NewHandler(Deps{
		Versions:   services.NewVersionService(store, opts...),
		ChangeSets: services.NewChangeSetService(store, opts...),
		Rating:     services.NewRatingService(nil, store, collector, 2),
		Metrics:    collector.Handler(),
		Subscribe: func(handler func(domain.Event)) func() {
			return bus.SubscribeAll(handler)
		},
		Version: "test",
	})
	return &testAPI{handler: handler, bus: bus}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "ana")
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (a *testAPI) createVersion(t *testing.T, entityType, entityID string, payload map[string]any) domain.VersionedEntity {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/versions", map[string]any{
		"entityType": entityType,
		"entityId":   entityID,
		"payload":    payload,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[domain.VersionedEntity](t, rr)
}

func TestGetHealth(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[map[string]string](t, rr)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestVersionLifecycle(t *testing.T) {
	api := newTestAPI(t)
	v := api.createVersion(t, "coverage", "building", map[string]any{"name": "Building", "category": "base"})
	assert.Equal(t, domain.VersionDraft, v.Status)
	assert.Equal(t, 1, v.Number)
	assert.Equal(t, "ana", v.CreatedBy)

	rr := api.do(t, http.MethodPut, "/versions/"+v.VersionID+"/payload", map[string]any{
		"payload": map[string]any{"name": "Building Coverage", "category": "base"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = api.do(t, http.MethodPut, "/versions/"+v.VersionID+"/window", map[string]any{
		"effectiveStart": "2026-07-01T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	windowed := decodeBody[domain.VersionedEntity](t, rr)
	require.NotNil(t, windowed.EffectiveStart)
	assert.True(t, windowed.EffectiveStart.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)))

	rr = api.do(t, http.MethodPost, "/versions/"+v.VersionID+"/transition", map[string]any{"status": "review"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.VersionReview, decodeBody[domain.VersionedEntity](t, rr).Status)

	rr = api.do(t, http.MethodPost, "/versions/"+v.VersionID+"/clone", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	clone := decodeBody[domain.VersionedEntity](t, rr)
	assert.Equal(t, 2, clone.Number)
	assert.Equal(t, v.VersionID, clone.SourceVersionID)

	rr = api.do(t, http.MethodGet, "/entities/coverage/building/versions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decodeBody[[]domain.VersionedEntity](t, rr)
	require.Len(t, list, 2)
	assert.Equal(t, clone.VersionID, list[0].VersionID)

	rr = api.do(t, http.MethodGet, "/versions/"+v.VersionID+"/diff/"+clone.VersionID, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	diff := decodeBody[domain.VersionDiff](t, rr)
	assert.True(t, diff.StatusDiff)

	rr = api.do(t, http.MethodGet, "/versions/"+v.VersionID+"/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	history := decodeBody[[]domain.AuditEntry](t, rr)
	require.NotEmpty(t, history)
	assert.Equal(t, "review", history[len(history)-1].To)
}

func TestErrorStatusCodes(t *testing.T) {
	api := newTestAPI(t)
	v := api.createVersion(t, "coverage", "building", map[string]any{"name": "Building"})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown version", http.MethodGet, "/versions/nope", nil, http.StatusNotFound, "NotFoundError"},
		{"unknown entity type", http.MethodGet, "/entities/policy/x/versions", nil, http.StatusBadRequest, "ValidationError"},
		{"illegal transition", http.MethodPost, "/versions/" + v.VersionID + "/transition", map[string]any{"status": "published"}, http.StatusConflict, "StateTransitionError"},
		{"unknown status", http.MethodPost, "/versions/" + v.VersionID + "/transition", map[string]any{"status": "live"}, http.StatusBadRequest, "ValidationError"},
		{"unknown field", http.MethodPost, "/changesets", map[string]any{"name": "x"}, http.StatusBadRequest, "ValidationError"},
		{"unknown change set", http.MethodGet, "/changesets/nope/preflight", nil, http.StatusNotFound, "NotFoundError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			body := decodeBody[errorBody](t, rr)
			assert.Equal(t, tt.kind, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestMissingActorIsRejected(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/changesets", strings.NewReader(`{"title":"Q3"}`))
	rr := httptest.NewRecorder()

	api.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ValidationError", decodeBody[errorBody](t, rr).Error)
}

func TestChangeSetFlow(t *testing.T) {
	api := newTestAPI(t)
	coverage := api.createVersion(t, "coverage", "building", map[string]any{"name": "Building", "category": "base"})
	form := api.createVersion(t, "form", "bp0003", map[string]any{"name": "BPP", "coverageIds": []string{"building"}})

	rr := api.do(t, http.MethodPost, "/changesets", map[string]any{"title": "Q3 filing", "jurisdictions": []string{"CA"}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	cs := decodeBody[domain.ChangeSet](t, rr)
	base := "/changesets/" + cs.ID

	for _, v := range []domain.VersionedEntity{coverage, form} {
		rr = api.do(t, http.MethodPost, base+"/items", domain.ChangeSetItem{
			Action: domain.ActionCreate, EntityType: v.EntityType, EntityID: v.EntityID, TargetVersionID: v.VersionID,
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rr = api.do(t, http.MethodGet, base+"/preflight", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeBody[domain.PreflightReport](t, rr).Issues)

	rr = api.do(t, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.ChangeSetInReview, decodeBody[domain.ChangeSet](t, rr).Status)

	rr = api.do(t, http.MethodPost, base+"/publish", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	for _, role := range domain.DefaultApprovalRoles() {
		rr = api.do(t, http.MethodPost, base+"/approve", map[string]any{"role": role})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	assert.Equal(t, domain.ChangeSetApproved, decodeBody[domain.ChangeSet](t, rr).Status)

	rr = api.do(t, http.MethodPost, base+"/publish", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.ChangeSetPublished, decodeBody[domain.ChangeSet](t, rr).Status)

	rr = api.do(t, http.MethodGet, "/versions/"+coverage.VersionID, nil)
	assert.Equal(t, domain.VersionPublished, decodeBody[domain.VersionedEntity](t, rr).Status)

	rr = api.do(t, http.MethodGet, "/changesets?status=published", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]domain.ChangeSet](t, rr), 1)

	rr = api.do(t, http.MethodGet, base+"/audit", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decodeBody[[]domain.AuditEntry](t, rr))
}

func TestPublishBlockedCarriesReport(t *testing.T) {
	api := newTestAPI(t)
	coverage := api.createVersion(t, "coverage", "building", map[string]any{"name": "Building", "category": "base"})

	rr := api.do(t, http.MethodPost, "/changesets", map[string]any{"title": "No form"})
	require.Equal(t, http.StatusCreated, rr.Code)
	cs := decodeBody[domain.ChangeSet](t, rr)
	base := "/changesets/" + cs.ID
	rr = api.do(t, http.MethodPost, base+"/items", domain.ChangeSetItem{
		Action: domain.ActionCreate, EntityType: coverage.EntityType, EntityID: coverage.EntityID, TargetVersionID: coverage.VersionID,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, base+"/submit", nil).Code)
	for _, role := range domain.DefaultApprovalRoles() {
		require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, base+"/approve", map[string]any{"role": role}).Code)
	}

	rr = api.do(t, http.MethodPost, base+"/publish", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decodeBody[errorBody](t, rr)
	assert.Equal(t, "PreflightBlockedError", body.Error)
	require.NotNil(t, body.Report)
	require.Len(t, body.Report.Issues, 1)
	assert.Equal(t, domain.IssueMissingFormMapping, body.Report.Issues[0].Code)
}

func TestReturnAndReject(t *testing.T) {
	api := newTestAPI(t)
	coverage := api.createVersion(t, "coverage", "building", map[string]any{"name": "Building"})
	rr := api.do(t, http.MethodPost, "/changesets", map[string]any{"title": "Q3"})
	cs := decodeBody[domain.ChangeSet](t, rr)
	base := "/changesets/" + cs.ID
	api.do(t, http.MethodPost, base+"/items", domain.ChangeSetItem{
		Action: domain.ActionCreate, EntityType: coverage.EntityType, EntityID: coverage.EntityID, TargetVersionID: coverage.VersionID,
	})
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, base+"/submit", nil).Code)

	rr = api.do(t, http.MethodPost, base+"/return", map[string]any{"reason": "fix the name"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.ChangeSetDraft, decodeBody[domain.ChangeSet](t, rr).Status)

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, base+"/submit", nil).Code)
	rr = api.do(t, http.MethodPost, base+"/reject", map[string]any{"role": "compliance", "notes": "not filed"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.ChangeSetRejected, decodeBody[domain.ChangeSet](t, rr).Status)

	rr = api.do(t, http.MethodPost, base+"/clone", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	clone := decodeBody[domain.ChangeSet](t, rr)
	assert.Equal(t, cs.ID, clone.ClonedFrom)

	rr = api.do(t, http.MethodDelete, "/changesets/"+clone.ID+"/items/"+coverage.VersionID, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, decodeBody[domain.ChangeSet](t, rr).Items)
}

func propertyProgram() map[string]any {
	return map[string]any{
		"rounding": "nearest",
		"steps": []any{
			map[string]any{"order": 1, "name": "BaseRate", "stepType": "factor", "value": 0.5},
			map[string]any{"order": 2, "stepType": "operand", "operand": "*"},
			map[string]any{"order": 3, "name": "BuildingValue", "stepType": "factor", "input": "buildingValue"},
			map[string]any{"order": 4, "stepType": "operand", "operand": "*"},
			map[string]any{"order": 5, "name": "Territory", "stepType": "factor", "table": "territory"},
		},
	}
}

func territoryTable() map[string]any {
	return map[string]any{
		"dimensions": []any{map[string]any{"name": "zone", "kind": "discrete", "values": []string{"1", "2"}}},
		"cells":      map[string]any{"1": 1.0, "2": 1.2},
	}
}

func TestRate(t *testing.T) {
	api := newTestAPI(t)
	body := map[string]any{
		"program": propertyProgram(),
		"tables":  map[string]any{"territory": territoryTable()},
		"context": map[string]any{"stateCode": "CA", "riskAttributes": map[string]any{"buildingValue": 1001, "zone": 2}},
	}

	rr := api.do(t, http.MethodPost, "/rate", body)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decodeBody[domain.RatingResult](t, rr)
	assert.InDelta(t, 600.6, result.Unrounded, 1e-9)
	assert.Equal(t, 601.0, result.Premium)
	assert.Len(t, result.Trace, 5)
}

func TestRateBatch(t *testing.T) {
	api := newTestAPI(t)
	body := map[string]any{
		"program": propertyProgram(),
		"tables":  map[string]any{"territory": territoryTable()},
		"contexts": []any{
			map[string]any{"riskAttributes": map[string]any{"buildingValue": 1000, "zone": 1}},
			map[string]any{"riskAttributes": map[string]any{"buildingValue": 1000, "zone": 2}},
		},
	}

	rr := api.do(t, http.MethodPost, "/rate", body)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	results := decodeBody[[]domain.RatingResult](t, rr)
	require.Len(t, results, 2)
	assert.Equal(t, 500.0, results[0].Premium)
	assert.Equal(t, 600.0, results[1].Premium)
}

func TestRateMissingTableEntry(t *testing.T) {
	api := newTestAPI(t)
	body := map[string]any{
		"program": propertyProgram(),
		"tables":  map[string]any{"territory": territoryTable()},
		"context": map[string]any{"riskAttributes": map[string]any{"buildingValue": 1000, "zone": 9}},
	}

	rr := api.do(t, http.MethodPost, "/rate", body)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NotFoundError", decodeBody[errorBody](t, rr).Error)
}

func TestRatePublishedWithoutProgram(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/rate/published", map[string]any{
		"rateProgramId": "bop-rates",
		"context":       map[string]any{"stateCode": "CA"},
	})

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestResolveTable(t *testing.T) {
	api := newTestAPI(t)
	table := territoryTable()
	table["name"] = "territory"

	rr := api.do(t, http.MethodPost, "/tables/resolve", map[string]any{
		"table":  table,
		"values": map[string]any{"zone": "2"},
	})

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "2", resp["key"])
	assert.Equal(t, 1.2, resp["factor"])
}

func TestEventStream(t *testing.T) {
	api := newTestAPI(t)
	server := httptest.NewServer(api.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events?type=changeset.created", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.NoError(t, api.bus.Publish(ctx, domain.Event{ID: "e0", Type: domain.EventVersionCreated}))
	require.NoError(t, api.bus.Publish(ctx, domain.Event{ID: "e1", Type: domain.EventChangeSetCreated, SubjectID: "cs-1"}))

	var data string
	for data == "" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}
	var event domain.Event
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, "e1", event.ID)
	assert.Equal(t, "cs-1", event.SubjectID)
}

func TestCORS(t *testing.T) {
	handler := NewHandler(Deps{AllowedOrigins: []string{"https://ratebook.example"}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ratebook.example")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://ratebook.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

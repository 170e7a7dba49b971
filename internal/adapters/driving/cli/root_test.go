package cli

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ratebook/internal/adapters/driven/storage/memory"
	httpapi "github.com/custodia-labs/ratebook/internal/adapters/driving/http"
	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/services"
)

func TestFormatError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"validation", domain.NewValidationError("title", "is required"), "ValidationError: "},
		{"not found", domain.NewNotFoundError(domain.NotFoundVersion, "v-1"), "NotFoundError: "},
		{"plain", errors.New("disk full"), "InternalError: disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatError(tt.err), tt.expected)
		})
	}
}

func TestFormatError_PreflightReport(t *testing.T) {
	err := &domain.PreflightBlockedError{Report: domain.PreflightReport{Issues: []domain.PreflightIssue{{
		Code:         domain.IssueStateProgramMissing,
		EntityType:   domain.EntityProduct,
		EntityID:     "bop",
		Jurisdiction: "NY",
		Message:      "no state program",
	}}}}

	msg := FormatError(err)

	assert.Contains(t, msg, "PreflightBlockedError: ")
	assert.Contains(t, msg, "  [state-program-missing] product/bop (NY): no state program")
}

func TestRoot_RejectsUnknownLogFormat(t *testing.T) {
	_, err := execute(t, "--log-format", "xml", "version")

	require.Error(t, err)
	assert.Equal(t, "ValidationError", domain.ErrorKind(err))
}

func TestRoot_BootstrapRunsOnce(t *testing.T) {
	SetServices(Services{})
	calls := 0
	closed := false
	SetBootstrap(func(dir string) (*Services, func() error, error) {
		calls++
		assert.Equal(t, "/etc/ratebook", dir)
		store := memory.NewStore()
		return &Services{
			Versions:   services.NewVersionService(store),
			ChangeSets: services.NewChangeSetService(store),
			Rating:     services.NewRatingService(nil, store, nil, 1),
		}, func() error { closed = true; return nil }, nil
	})
	t.Cleanup(func() {
		SetBootstrap(nil)
		SetServices(Services{})
		closer = nil
	})

	_, err := execute(t, "--config-dir", "/etc/ratebook", "version")
	require.NoError(t, err)
	_, err = execute(t, "--config-dir", "/etc/ratebook", "version")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.NotNil(t, versionService)
	require.NotNil(t, closer)
	require.NoError(t, closer())
	assert.True(t, closed)
}

func TestRoot_BootstrapError(t *testing.T) {
	SetServices(Services{})
	SetBootstrap(func(string) (*Services, func() error, error) {
		return nil, nil, errors.New("redis unreachable")
	})
	t.Cleanup(func() { SetBootstrap(nil) })

	_, err := execute(t, "version")

	assert.EqualError(t, err, "redis unreachable")
}

func TestAudit_StampsActor(t *testing.T) {
	setupTestServices(t)

	ac := audit("because")

	assert.Equal(t, "ana", ac.Actor)
	assert.Equal(t, "because", ac.Reason)
	assert.WithinDuration(t, time.Now().UTC(), ac.Now, time.Minute)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, listener, httpapi.NewHandler(httpapi.Deps{Version: "test"}))
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"version":"test"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_RequiresServices(t *testing.T) {
	SetServices(Services{})

	_, err := execute(t, "serve")

	assert.EqualError(t, err, "services not configured")
}

func TestEventsListen(t *testing.T) {
	SetServices(Services{
		Listen: func(_ context.Context, handler func(domain.Event)) error {
			handler(domain.Event{Type: domain.EventVersionCreated, SubjectType: "version", SubjectID: "v-1", Actor: "ana"})
			handler(domain.Event{Type: domain.EventChangeSetPublished, SubjectType: "changeset", SubjectID: "cs-1", Actor: "ana"})
			return context.Canceled
		},
	})
	t.Cleanup(func() { SetServices(Services{}) })

	out, err := execute(t, "events", "listen", "--type", "changeset.published")

	require.NoError(t, err)
	assert.Contains(t, out, "changeset.published")
	assert.Contains(t, out, "changeset:cs-1 by ana")
	assert.NotContains(t, out, "version.created")
}

func TestEventsListen_NeedsBroker(t *testing.T) {
	SetServices(Services{})

	_, err := execute(t, "events", "listen")

	assert.EqualError(t, err, "event listening needs the redis events backend")
}

package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

func TestBus_DeliversByType(t *testing.T) {
	bus := NewBus()
	var published, all []domain.EventType
	bus.Subscribe(domain.EventChangeSetPublished, func(e domain.Event) { published = append(published, e.Type) })
	bus.SubscribeAll(func(e domain.Event) { all = append(all, e.Type) })

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.Event{Type: domain.EventVersionCreated}))
	require.NoError(t, bus.Publish(ctx, domain.Event{Type: domain.EventChangeSetPublished}))

	assert.Equal(t, []domain.EventType{domain.EventChangeSetPublished}, published)
	assert.Equal(t, []domain.EventType{domain.EventVersionCreated, domain.EventChangeSetPublished}, all)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	cancel := bus.Subscribe(domain.EventVersionCreated, func(domain.Event) { calls++ })
	cancelAll := bus.SubscribeAll(func(domain.Event) { calls++ })

	require.NoError(t, bus.Publish(context.Background(), domain.Event{Type: domain.EventVersionCreated}))
	cancel()
	cancelAll()
	require.NoError(t, bus.Publish(context.Background(), domain.Event{Type: domain.EventVersionCreated}))

	assert.Equal(t, 2, calls)
}

func TestBus_PanickingHandler(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.SubscribeAll(func(domain.Event) { panic("boom") })
	bus.SubscribeAll(func(domain.Event) { delivered = true })

	err := bus.Publish(context.Background(), domain.Event{Type: domain.EventVersionCreated})

	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestBus_CancelledContext(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, bus.Publish(ctx, domain.Event{}), context.Canceled)
}

type failing struct{ err error }

func (f failing) Publish(context.Context, domain.Event) error { return f.err }

func TestFanout_TriesEveryPublisher(t *testing.T) {
	bus := NewBus()
	got := 0
	bus.SubscribeAll(func(domain.Event) { got++ })
	boom := errors.New("boom")

	err := Fanout{failing{err: boom}, nil, bus}.Publish(context.Background(), domain.Event{Type: domain.EventVersionCreated})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, got)
}

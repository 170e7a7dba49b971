package driven

import (
	"context"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

// EventPublisher delivers committed lifecycle events to external
// subscribers such as notification or indexing systems. Services only call
// it after a successful commit.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

// TableResolution is the outcome of a single table lookup.
type TableResolution struct {
	Table  string   `json:"table"`
	Key    string   `json:"key"`
	Labels []string `json:"labels"`
	Factor float64  `json:"factor"`
}

// RatingService computes premiums. Evaluation is read-only and safe to run
// in parallel.
type RatingService interface {
	// Rate evaluates steps for one context.
	Rate(steps []domain.RatingStep, tables domain.TableSet, ec domain.EvalContext) (*domain.RatingResult, error)

	// RateBatch evaluates steps for many contexts. Results keep input order.
	RateBatch(ctx context.Context, steps []domain.RatingStep, tables domain.TableSet, contexts []domain.EvalContext) ([]domain.RatingResult, error)

	// RatePublished rates against the rate program version published and
	// active at asOf, using the published versions of its tables.
	RatePublished(ctx context.Context, rateProgramID string, asOf time.Time, ec domain.EvalContext) (*domain.RatingResult, error)

	// ResolveTable looks up one cell.
	ResolveTable(table domain.RatingTable, values map[string]any) (*TableResolution, error)
}

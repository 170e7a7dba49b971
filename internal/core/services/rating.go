package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
	"github.com/custodia-labs/ratebook/internal/core/ports/driving"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// Ensure RatingService implements the interface.
var _ driving.RatingService = (*RatingService)(nil)

// RatingEngine evaluates a step sequence into a premium. It is pure: the
// same steps, tables and context always give the same result and trace.
type RatingEngine struct {
	resolver *TableResolver
}

// NewRatingEngine creates a rating engine.
func NewRatingEngine(resolver *TableResolver) *RatingEngine {
	if resolver == nil {
		resolver = NewTableResolver()
	}
	return &RatingEngine{resolver: resolver}
}

// Rate evaluates steps against ec.
//
// The sequence reads infix: factor (operand factor)*. The first factor of a
// chain seeds it and each later factor is folded in with the operand before
// it. "=" adds the chain to the total and starts a new chain, so a second
// coverage's factors accumulate separately. Premium is total plus the open
// chain, rounded by ec.Rounding.
//
// A factor out of scope for ec is skipped along with the operand that would
// have folded it in. A skipped seed factor drops the operand after it.
// "=" is never skipped.
func (e *RatingEngine) Rate(steps []domain.RatingStep, tables domain.TableSet, ec domain.EvalContext) (*domain.RatingResult, error) {
	sorted, err := domain.ValidateSteps(steps)
	if err != nil {
		return nil, err
	}
	if err := ec.Rounding.Validate(); err != nil {
		return nil, err
	}

	var (
		total, chain float64
		started      bool
		pending      domain.Operand
		trace        = make([]domain.TraceEntry, 0, len(sorted))
	)
	for _, step := range sorted {
		entry := domain.TraceEntry{Order: step.Order, Name: step.Label(), Kind: step.Kind}

		switch step.Kind {
		case domain.StepFactor:
			if !step.AppliesTo(ec) {
				entry.Skipped = true
				pending = ""
				break
			}
			value, err := e.factorValue(step, tables, ec)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", step.Label(), err)
			}
			value = step.Rounding.Apply(value)
			entry.Value = value
			switch {
			case !started:
				chain, started = value, true
			case pending != "":
				chain = pending.Apply(chain, value)
			default:
				// A skipped factor ate the operand; the next operand had
				// not arrived, which the grammar rules out.
				return nil, domain.NewValidationError(step.Label(), "factor has no operand to combine with")
			}
			pending = ""

		case domain.StepOperand:
			entry.Operand = step.Operand
			switch {
			case step.Operand == domain.OperandCommit:
				total += chain
				chain, started, pending = 0, false, ""
			case started:
				pending = step.Operand
			default:
				entry.Skipped = true
			}
		}

		entry.Running = chain
		entry.Total = total
		trace = append(trace, entry)
	}

	unrounded := total + chain
	return &domain.RatingResult{
		Premium:   ec.Rounding.Apply(unrounded),
		Unrounded: unrounded,
		Trace:     trace,
	}, nil
}

func (e *RatingEngine) factorValue(step domain.RatingStep, tables domain.TableSet, ec domain.EvalContext) (float64, error) {
	switch {
	case step.Value != nil:
		return *step.Value, nil
	case step.Input != "":
		raw, ok := ec.RiskAttributes[step.Input]
		if !ok {
			return 0, domain.NewValidationError(step.Input, "risk attribute is missing")
		}
		value, err := domain.ToFloat(raw)
		if err != nil {
			return 0, domain.NewValidationError(step.Input, "%v", err)
		}
		return value, nil
	case step.Table != nil:
		table, ok := tables[step.Table.Name]
		if !ok {
			return 0, domain.NewNotFoundError(domain.NotFoundTable, step.Table.Name)
		}
		resolved, err := e.resolver.Resolve(table, dimensionValues(step, table, ec))
		if err != nil {
			return 0, err
		}
		logger.Debug("step %d %s resolved %s[%s] = %g", step.Order, step.Label(), table.Name, resolved.Key, resolved.Factor)
		return resolved.Factor, nil
	default:
		return 0, domain.NewValidationError(step.Label(), "factor has no value source")
	}
}

// dimensionValues gathers the lookup input for each table dimension. A
// dimension reads the risk attribute named by the table reference; state
// and coverage dimensions fall back to the context's state and the
// selected coverage the step is scoped to.
func dimensionValues(step domain.RatingStep, table domain.RatingTable, ec domain.EvalContext) map[string]any {
	values := make(map[string]any, len(table.Dimensions))
	for _, dim := range table.Dimensions {
		attr := step.Table.AttributeFor(dim.Name)
		if v, ok := lookupValue(ec.RiskAttributes, attr); ok {
			values[dim.Name] = v
			continue
		}
		switch {
		case domain.IsStateDimension(dim.Name) && ec.StateCode != "":
			values[dim.Name] = ec.StateCode
		case domain.IsCoverageDimension(dim.Name):
			if coverage, ok := scopedCoverage(step, ec); ok {
				values[dim.Name] = coverage
			}
		}
	}
	return values
}

func scopedCoverage(step domain.RatingStep, ec domain.EvalContext) (string, bool) {
	for _, coverage := range ec.SelectedCoverages {
		if len(step.CoverageScope) == 0 || containsFold(step.CoverageScope, coverage) {
			return coverage, true
		}
	}
	return "", false
}

// RatingService exposes the rating engine and rates against published
// rate programs.
type RatingService struct {
	engine      *RatingEngine
	store       driven.Store
	metrics     driven.Metrics
	parallelism int
}

// NewRatingService creates a rating service. store may be nil when only
// ad-hoc rating is needed.
func NewRatingService(engine *RatingEngine, store driven.Store, metrics driven.Metrics, parallelism int) *RatingService {
	if engine == nil {
		engine = NewRatingEngine(nil)
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &RatingService{
		engine:      engine,
		store:       store,
		metrics:     metrics,
		parallelism: parallelism,
	}
}

// Rate evaluates steps for one context.
func (s *RatingService) Rate(steps []domain.RatingStep, tables domain.TableSet, ec domain.EvalContext) (*domain.RatingResult, error) {
	start := time.Now()
	result, err := s.engine.Rate(steps, tables, ec)
	s.observe(start, err)
	return result, err
}

// RateBatch evaluates steps for many contexts with bounded parallelism.
// The first failure cancels the remaining evaluations.
func (s *RatingService) RateBatch(ctx context.Context, steps []domain.RatingStep, tables domain.TableSet, contexts []domain.EvalContext) ([]domain.RatingResult, error) {
	if _, err := domain.ValidateSteps(steps); err != nil {
		return nil, err
	}
	results := make([]domain.RatingResult, len(contexts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i := range contexts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := s.Rate(steps, tables, contexts[i])
			if err != nil {
				return fmt.Errorf("context %d: %w", i, err)
			}
			results[i] = *result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RatePublished rates ec against the rate program version published and
// active at asOf. Tables come from their published versions active at the
// same instant. When ec carries no rounding, the program's rounding applies.
func (s *RatingService) RatePublished(ctx context.Context, rateProgramID string, asOf time.Time, ec domain.EvalContext) (*domain.RatingResult, error) {
	if s.store == nil {
		return nil, domain.ErrNotImplemented
	}
	var (
		program domain.RateProgram
		tables  = domain.TableSet{}
	)
	err := s.store.View(ctx, func(r driven.Reader) error {
		version, err := publishedAt(ctx, r, domain.EntityRef{EntityType: domain.EntityRateProgram, EntityID: rateProgramID}, asOf)
		if err != nil {
			return err
		}
		program, err = DecodeRateProgram(version.Payload)
		if err != nil {
			return fmt.Errorf("rate program %s version %d: %w", rateProgramID, version.Number, err)
		}
		for _, name := range program.TableNames() {
			tableVersion, err := publishedAt(ctx, r, domain.EntityRef{EntityType: domain.EntityTable, EntityID: name}, asOf)
			if err != nil {
				return err
			}
			table, err := DecodeTable(name, tableVersion.Payload)
			if err != nil {
				return fmt.Errorf("table %s version %d: %w", name, tableVersion.Number, err)
			}
			tables[name] = table
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ec.Rounding.Mode == "" {
		ec.Rounding = program.Rounding
	}
	return s.Rate(program.Steps, tables, ec)
}

// ResolveTable looks up a single cell.
func (s *RatingService) ResolveTable(table domain.RatingTable, values map[string]any) (*driving.TableResolution, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return s.engine.resolver.Resolve(table, values)
}

func (s *RatingService) observe(start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = domain.ErrorKind(err)
	}
	s.metrics.ObserveRating(outcome, time.Since(start))
}

// publishedAt returns the version of ref published and active at asOf.
func publishedAt(ctx context.Context, r driven.Reader, ref domain.EntityRef, asOf time.Time) (*domain.VersionedEntity, error) {
	versions, err := r.ListVersions(ctx, ref)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].Status == domain.VersionPublished && versions[i].ActiveAt(asOf) {
			return &versions[i], nil
		}
	}
	kind := domain.NotFoundVersion
	if ref.EntityType == domain.EntityTable {
		kind = domain.NotFoundTable
	}
	return nil, domain.NewNotFoundError(kind, fmt.Sprintf("published %s at %s", ref, asOf.Format(time.RFC3339)))
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

package services

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driving"
)

// TableResolver looks up rating table cells. It holds no state and is safe
// for concurrent use.
type TableResolver struct{}

// NewTableResolver creates a table resolver.
func NewTableResolver() *TableResolver {
	return &TableResolver{}
}

// Resolve matches each dimension value to its declared value or range
// bucket, joins them in declared order and looks the key up. There is no
// default and no nearest-neighbour fallback: any miss is a
// missing-table-entry NotFoundError.
func (r *TableResolver) Resolve(table domain.RatingTable, values map[string]any) (*driving.TableResolution, error) {
	labels := make([]string, 0, len(table.Dimensions))
	for _, dim := range table.Dimensions {
		input, ok := lookupValue(values, dim.Name)
		if !ok {
			return nil, domain.NewValidationError(dim.Name, "no value supplied for dimension of table %q", table.Name)
		}
		label, matched, err := dim.Match(input)
		if err != nil {
			return nil, err
		}
		if !matched {
			return nil, domain.NewNotFoundError(domain.NotFoundMissingTableEntry,
				fmt.Sprintf("%s: %s=%s matches no declared value", table.Name, dim.Name, label))
		}
		labels = append(labels, label)
	}

	key := domain.CompositeKey(labels...)
	factor, ok := table.Cells[key]
	if !ok {
		return nil, domain.NewNotFoundError(domain.NotFoundMissingTableEntry, fmt.Sprintf("%s[%s]", table.Name, key))
	}
	return &driving.TableResolution{
		Table:  table.Name,
		Key:    key,
		Labels: labels,
		Factor: factor,
	}, nil
}

func lookupValue(values map[string]any, name string) (any, bool) {
	if v, ok := values[name]; ok {
		return v, true
	}
	// Keys that differ only in case resolve to the first in sorted order.
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if strings.EqualFold(key, name) {
			return values[key], true
		}
	}
	return nil, false
}

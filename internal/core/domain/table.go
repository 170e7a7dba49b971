package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DimensionKind tags how a dimension matches an input value.
type DimensionKind string

// Dimension kinds.
const (
	DimensionDiscrete DimensionKind = "discrete"
	DimensionRange    DimensionKind = "range"
)

// ParseDimensionKind converts a tag into a DimensionKind.
func ParseDimensionKind(s string) (DimensionKind, error) {
	switch kind := DimensionKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case DimensionDiscrete, DimensionRange:
		return kind, nil
	default:
		return "", NewValidationError("kind", "unknown dimension kind %q", s)
	}
}

// KeySeparator joins per-dimension values into a composite cell key.
const KeySeparator = "|"

// CompositeKey builds a cell key from values in declared dimension order.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

// Dimension is one axis of a rating table. For range dimensions each value
// is a bucket label such as "25001-50000" or "100001+".
type Dimension struct {
	Name   string        `json:"name"`
	Kind   DimensionKind `json:"kind"`
	Values []string      `json:"values"`
}

// Match returns the declared value or bucket label that input falls into.
// The boolean is false when nothing matches.
func (d Dimension) Match(input any) (string, bool, error) {
	switch d.Kind {
	case DimensionDiscrete:
		value, err := CanonicalString(input)
		if err != nil {
			return "", false, NewValidationError(d.Name, "%v", err)
		}
		if len(d.Values) == 0 {
			return value, true, nil
		}
		for _, candidate := range d.Values {
			if candidate == value {
				return candidate, true, nil
			}
		}
		return value, false, nil
	case DimensionRange:
		number, err := ToFloat(input)
		if err != nil {
			return "", false, NewValidationError(d.Name, "range dimension needs a number: %v", err)
		}
		for _, label := range d.Values {
			bucket, err := ParseRangeBucket(label)
			if err != nil {
				return "", false, err
			}
			if bucket.Contains(number) {
				return label, true, nil
			}
		}
		return strconv.FormatFloat(number, 'f', -1, 64), false, nil
	default:
		return "", false, NewValidationError(d.Name, "unknown dimension kind %q", d.Kind)
	}
}

// RangeBucket is an inclusive numeric bucket. Unbounded buckets have no max.
type RangeBucket struct {
	Label     string
	Min       float64
	Max       float64
	Unbounded bool
}

// ParseRangeBucket parses "min-max" and "min+" labels. Thousands separators
// are ignored.
func ParseRangeBucket(label string) (RangeBucket, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(label), ",", "")
	if clean == "" {
		return RangeBucket{}, NewValidationError("values", "empty range bucket")
	}
	if strings.HasSuffix(clean, "+") {
		minValue, err := strconv.ParseFloat(strings.TrimSuffix(clean, "+"), 64)
		if err != nil {
			return RangeBucket{}, NewValidationError("values", "invalid range bucket %q", label)
		}
		return RangeBucket{Label: label, Min: minValue, Unbounded: true}, nil
	}
	lo, hi, ok := strings.Cut(clean, "-")
	if !ok {
		return RangeBucket{}, NewValidationError("values", "invalid range bucket %q", label)
	}
	minValue, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return RangeBucket{}, NewValidationError("values", "invalid range bucket %q", label)
	}
	maxValue, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return RangeBucket{}, NewValidationError("values", "invalid range bucket %q", label)
	}
	if maxValue < minValue {
		return RangeBucket{}, NewValidationError("values", "range bucket %q is inverted", label)
	}
	return RangeBucket{Label: label, Min: minValue, Max: maxValue}, nil
}

// Contains reports bucket membership.
func (b RangeBucket) Contains(v float64) bool {
	if v < b.Min {
		return false
	}
	return b.Unbounded || v <= b.Max
}

// RatingTable is a sparse multi-dimensional factor table. A combination
// absent from Cells is an error at lookup time, never a default.
type RatingTable struct {
	Name       string             `json:"name"`
	Dimensions []Dimension        `json:"dimensions"`
	Cells      map[string]float64 `json:"cells"`
}

// Validate checks dimension tags, bucket labels and cell key arity.
func (t RatingTable) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return NewValidationError("name", "table name must not be empty")
	}
	if len(t.Dimensions) == 0 {
		return NewValidationError("dimensions", "table %q declares no dimensions", t.Name)
	}
	names := make(map[string]struct{}, len(t.Dimensions))
	declared := make([]map[string]struct{}, len(t.Dimensions))
	for i, dim := range t.Dimensions {
		if dim.Name == "" {
			return NewValidationError("dimensions", "dimension %d has no name", i)
		}
		if _, dup := names[dim.Name]; dup {
			return NewValidationError("dimensions", "duplicate dimension %q", dim.Name)
		}
		names[dim.Name] = struct{}{}
		if _, err := ParseDimensionKind(string(dim.Kind)); err != nil {
			return NewValidationError(dim.Name, "unknown dimension kind %q", dim.Kind)
		}
		declared[i] = make(map[string]struct{}, len(dim.Values))
		for _, value := range dim.Values {
			if dim.Kind == DimensionRange {
				if _, err := ParseRangeBucket(value); err != nil {
					return err
				}
			}
			if strings.Contains(value, KeySeparator) {
				return NewValidationError(dim.Name, "value %q contains the key separator", value)
			}
			declared[i][value] = struct{}{}
		}
	}
	for key := range t.Cells {
		parts := strings.Split(key, KeySeparator)
		if len(parts) != len(t.Dimensions) {
			return NewValidationError("cells", "key %q has %d parts, table %q has %d dimensions",
				key, len(parts), t.Name, len(t.Dimensions))
		}
		for i, part := range parts {
			if len(declared[i]) == 0 {
				continue
			}
			if _, ok := declared[i][part]; !ok {
				return NewValidationError("cells", "key %q uses undeclared %s value %q",
					key, t.Dimensions[i].Name, part)
			}
		}
	}
	return nil
}

// Combinations enumerates every declared value combination. restrict narrows
// a dimension to the listed values; dimensions without declared values are
// skipped and yield no combinations.
func (t RatingTable) Combinations(restrict map[string][]string) [][]string {
	combos := [][]string{{}}
	for _, dim := range t.Dimensions {
		values := dim.Values
		if allowed, ok := restrict[dim.Name]; ok && len(allowed) > 0 {
			values = intersectFold(values, allowed)
		}
		if len(values) == 0 {
			return nil
		}
		next := make([][]string, 0, len(combos)*len(values))
		for _, prefix := range combos {
			for _, value := range values {
				combo := make([]string, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, value))
			}
		}
		combos = next
	}
	return combos
}

// TableSet indexes tables by name.
type TableSet map[string]RatingTable

// IsStateDimension reports whether a dimension is keyed by jurisdiction.
func IsStateDimension(name string) bool {
	switch strings.ToLower(name) {
	case "state", "statecode", "jurisdiction":
		return true
	default:
		return false
	}
}

// IsCoverageDimension reports whether a dimension is keyed by coverage.
func IsCoverageDimension(name string) bool {
	switch strings.ToLower(name) {
	case "coverage", "coverageid":
		return true
	default:
		return false
	}
}

// CanonicalString renders a scalar the way cell keys spell it.
func CanonicalString(v any) (string, error) {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed), nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(typed), nil
	case int64:
		return strconv.FormatInt(typed, 10), nil
	case int32:
		return strconv.FormatInt(int64(typed), 10), nil
	case uint64:
		return strconv.FormatUint(typed, 10), nil
	case bool:
		return strconv.FormatBool(typed), nil
	case json.Number:
		return typed.String(), nil
	case nil:
		return "", fmt.Errorf("value is null")
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// ToFloat converts JSON, YAML and TOML numeric shapes to float64.
func ToFloat(v any) (float64, error) {
	switch typed := v.(type) {
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case int32:
		return float64(typed), nil
	case uint64:
		return float64(typed), nil
	case json.Number:
		return typed.Float64()
	case string:
		return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(typed), ",", ""), 64)
	case nil:
		return 0, fmt.Errorf("value is null")
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

func intersectFold(values, allowed []string) []string {
	var out []string
	for _, value := range values {
		if containsFold(allowed, value) {
			out = append(out, value)
		}
	}
	return out
}

package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// StepKind tags a rating step as producing a number or combining numbers.
type StepKind string

// Rating step kinds.
const (
	StepFactor  StepKind = "factor"
	StepOperand StepKind = "operand"
)

// ParseStepKind converts a tag into a StepKind, rejecting unknown tags.
func ParseStepKind(s string) (StepKind, error) {
	switch kind := StepKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case StepFactor, StepOperand:
		return kind, nil
	default:
		return "", NewValidationError("stepType", "unknown step type %q", s)
	}
}

// Operand combines the running value with the next factor.
type Operand string

// Operands. OperandCommit closes the current chain as a subtotal so the next
// coverage's factors start fresh and add onto the total.
const (
	OperandMultiply Operand = "*"
	OperandAdd      Operand = "+"
	OperandSubtract Operand = "-"
	OperandCommit   Operand = "="
)

// ParseOperand normalises operator spellings found in rate manuals.
func ParseOperand(s string) (Operand, error) {
	switch strings.TrimSpace(s) {
	case "*", "×", "x", "X":
		return OperandMultiply, nil
	case "+":
		return OperandAdd, nil
	case "-", "−", "–":
		return OperandSubtract, nil
	case "=":
		return OperandCommit, nil
	default:
		return "", NewValidationError("operand", "unknown operand %q", s)
	}
}

// Apply combines left and right.
func (o Operand) Apply(left, right float64) float64 {
	switch o {
	case OperandMultiply:
		return left * right
	case OperandAdd:
		return left + right
	case OperandSubtract:
		return left - right
	default:
		return right
	}
}

// RoundingMode selects how a value is rounded.
type RoundingMode string

// Rounding modes. The empty mode behaves as RoundNone.
const (
	RoundNone    RoundingMode = "none"
	RoundNearest RoundingMode = "nearest"
	RoundUp      RoundingMode = "up"
	RoundDown    RoundingMode = "down"
)

// Rounding rounds to Precision decimal places. Nearest rounds half away from
// zero, so 4887.5 becomes 4888.
type Rounding struct {
	Mode      RoundingMode `json:"mode,omitempty"`
	Precision int          `json:"precision,omitempty"`
}

// MaxRoundingPrecision bounds Precision so the scaling in Apply stays
// within float64 range.
const MaxRoundingPrecision = 12

// Validate rejects unknown modes and precision outside 0..MaxRoundingPrecision.
func (r Rounding) Validate() error {
	switch r.Mode {
	case "", RoundNone, RoundNearest, RoundUp, RoundDown:
	default:
		return NewValidationError("rounding.mode", "unknown rounding mode %q", r.Mode)
	}
	if r.Precision < 0 {
		return NewValidationError("rounding.precision", "must not be negative")
	}
	if r.Precision > MaxRoundingPrecision {
		return NewValidationError("rounding.precision", "must not exceed %d", MaxRoundingPrecision)
	}
	return nil
}

// Apply rounds v.
func (r Rounding) Apply(v float64) float64 {
	scale := math.Pow(10, float64(r.Precision))
	switch r.Mode {
	case RoundNearest:
		return math.Round(v*scale) / scale
	case RoundUp:
		return math.Ceil(v*scale) / scale
	case RoundDown:
		return math.Floor(v*scale) / scale
	default:
		return v
	}
}

// TableRef points a factor at a rating table. Inputs maps a dimension name
// to the risk attribute holding its value; unmapped dimensions read the
// attribute of the same name.
type TableRef struct {
	Name   string            `json:"name"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// AttributeFor returns the risk attribute key feeding dimension.
func (t TableRef) AttributeFor(dimension string) string {
	if key, ok := t.Inputs[dimension]; ok && key != "" {
		return key
	}
	return dimension
}

// RatingStep is one entry of a rate program's calculation sequence. A factor
// takes its value from exactly one of Value, Input or Table.
type RatingStep struct {
	Order         int       `json:"order"`
	Name          string    `json:"name,omitempty"`
	Kind          StepKind  `json:"stepType"`
	CoverageScope []string  `json:"coverageScope,omitempty"`
	StateScope    []string  `json:"stateScope,omitempty"`
	Table         *TableRef `json:"table,omitempty"`
	Value         *float64  `json:"value,omitempty"`
	Input         string    `json:"input,omitempty"`
	Operand       Operand   `json:"operand,omitempty"`
	Rounding      Rounding  `json:"rounding,omitempty"`
}

// Label names the step in traces and errors.
func (s RatingStep) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("step %d", s.Order)
}

// Validate checks a single step's tags and value source.
func (s RatingStep) Validate() error {
	switch s.Kind {
	case StepFactor:
		sources := 0
		if s.Value != nil {
			sources++
		}
		if s.Input != "" {
			sources++
		}
		if s.Table != nil {
			sources++
			if strings.TrimSpace(s.Table.Name) == "" {
				return NewValidationError(s.Label(), "table reference has no name")
			}
		}
		if sources != 1 {
			return NewValidationError(s.Label(), "factor needs exactly one of value, input or table")
		}
		if s.Operand != "" {
			return NewValidationError(s.Label(), "factor must not carry an operand")
		}
		return s.Rounding.Validate()
	case StepOperand:
		if _, err := ParseOperand(string(s.Operand)); err != nil {
			return NewValidationError(s.Label(), "unknown operand %q", s.Operand)
		}
		if s.Value != nil || s.Input != "" || s.Table != nil {
			return NewValidationError(s.Label(), "operand must not carry a value source")
		}
		if len(s.StateScope) > 0 || len(s.CoverageScope) > 0 {
			return NewValidationError(s.Label(), "operand must not carry a state or coverage scope")
		}
		return nil
	default:
		return NewValidationError(s.Label(), "unknown step type %q", s.Kind)
	}
}

// AppliesTo reports whether the step is in scope for ec. An empty scope list
// is unrestricted.
func (s RatingStep) AppliesTo(ec EvalContext) bool {
	if len(s.StateScope) > 0 && !containsFold(s.StateScope, ec.StateCode) {
		return false
	}
	if len(s.CoverageScope) > 0 {
		for _, coverage := range ec.SelectedCoverages {
			if containsFold(s.CoverageScope, coverage) {
				return true
			}
		}
		return false
	}
	return true
}

// ValidateSteps checks the sequence grammar and returns the steps sorted by
// order. Orders must increase by exactly one, an operand must follow a
// factor, two factors may not be adjacent, and only "=" may end the list.
func ValidateSteps(steps []RatingStep) ([]RatingStep, error) {
	if len(steps) == 0 {
		return nil, NewValidationError("steps", "must not be empty")
	}
	sorted := make([]RatingStep, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for i, step := range sorted {
		if i > 0 && step.Order != sorted[i-1].Order+1 {
			return nil, NewValidationError("steps", "order must increase by one: %d follows %d", step.Order, sorted[i-1].Order)
		}
		if step.Kind == StepOperand {
			op, err := ParseOperand(string(step.Operand))
			if err != nil {
				return nil, NewValidationError(step.Label(), "unknown operand %q", step.Operand)
			}
			sorted[i].Operand = op
			step.Operand = op
		}
		if err := step.Validate(); err != nil {
			return nil, err
		}
		switch step.Kind {
		case StepOperand:
			if i == 0 || sorted[i-1].Kind != StepFactor {
				return nil, NewValidationError(step.Label(), "operand has no preceding factor")
			}
		case StepFactor:
			if i > 0 && sorted[i-1].Kind == StepFactor {
				return nil, NewValidationError(step.Label(), "factor follows factor %q without an operand", sorted[i-1].Label())
			}
		}
	}

	last := sorted[len(sorted)-1]
	if last.Kind == StepOperand && last.Operand != OperandCommit {
		return nil, NewValidationError(last.Label(), "sequence ends with dangling operand %q", last.Operand)
	}
	return sorted, nil
}

// EvalContext is the per-quote input to a rating evaluation.
type EvalContext struct {
	StateCode         string         `json:"stateCode"`
	SelectedCoverages []string       `json:"selectedCoverages"`
	RiskAttributes    map[string]any `json:"riskAttributes"`

	// Rounding is applied to the final premium.
	Rounding Rounding `json:"rounding,omitempty"`
}

// TraceEntry records one step of an evaluation.
type TraceEntry struct {
	Order   int      `json:"order"`
	Name    string   `json:"name"`
	Kind    StepKind `json:"stepType"`
	Operand Operand  `json:"operand,omitempty"`
	Skipped bool     `json:"skipped,omitempty"`
	Value   float64  `json:"value"`
	Running float64  `json:"running"`
	Total   float64  `json:"total"`
}

// RatingResult is the outcome of rating one context.
type RatingResult struct {
	Premium   float64      `json:"premium"`
	Unrounded float64      `json:"unrounded"`
	Trace     []TraceEntry `json:"trace"`
}

// RateProgram is the typed view of a rate_program payload.
type RateProgram struct {
	Name      string       `json:"name,omitempty"`
	ProductID string       `json:"productId,omitempty"`
	Steps     []RatingStep `json:"steps"`
	Rounding  Rounding     `json:"rounding,omitempty"`
}

// Validate checks the program's step grammar and rounding.
func (p RateProgram) Validate() error {
	if _, err := ValidateSteps(p.Steps); err != nil {
		return err
	}
	return p.Rounding.Validate()
}

// TableNames returns the distinct tables referenced by factor steps.
func (p RateProgram) TableNames() []string {
	seen := map[string]struct{}{}
	var names []string
	for _, step := range p.Steps {
		if step.Table == nil {
			continue
		}
		if _, ok := seen[step.Table.Name]; ok {
			continue
		}
		seen[step.Table.Name] = struct{}{}
		names = append(names, step.Table.Name)
	}
	sort.Strings(names)
	return names
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}

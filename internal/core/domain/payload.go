package domain

import "strings"

// CoverageCategory classifies a coverage. Optionality is carried separately
// by CoveragePayload.IsOptional.
type CoverageCategory string

// Coverage categories.
const (
	CategoryBase        CoverageCategory = "base"
	CategoryEndorsement CoverageCategory = "endorsement"
)

// ProductPayload is the part of a product payload the core inspects.
type ProductPayload struct {
	Name          string         `json:"name"`
	CoverageIDs   []string       `json:"coverageIds"`
	RateProgramID string         `json:"rateProgramId,omitempty"`
	StatePrograms []StateProgram `json:"statePrograms,omitempty"`
}

// StateProgramFor returns the state program for stateCode.
func (p ProductPayload) StateProgramFor(stateCode string) (StateProgram, bool) {
	for _, program := range p.StatePrograms {
		if strings.EqualFold(program.StateCode, stateCode) {
			return program, true
		}
	}
	return StateProgram{}, false
}

// CoveragePayload is the part of a coverage payload the core inspects.
type CoveragePayload struct {
	Name       string           `json:"name"`
	Category   CoverageCategory `json:"category"`
	IsOptional bool             `json:"isOptional"`
}

// ValidateCoveragePayload enforces the canonical coverage representation:
// category is base or endorsement and optionality lives in the isOptional
// boolean. The legacy category "optional" is rejected rather than coerced.
func ValidateCoveragePayload(payload map[string]any) error {
	raw, ok := payload["category"]
	if ok {
		category, isString := raw.(string)
		if !isString {
			return NewValidationError("category", "must be a string")
		}
		switch CoverageCategory(category) {
		case CategoryBase, CategoryEndorsement:
		case "optional":
			return NewValidationError("category", `"optional" is not a category; use category "base" or "endorsement" with isOptional: true`)
		default:
			return NewValidationError("category", "unknown coverage category %q", category)
		}
	}
	if raw, ok := payload["isOptional"]; ok {
		if _, isBool := raw.(bool); !isBool {
			return NewValidationError("isOptional", "must be a boolean, got %T", raw)
		}
	}
	if _, ok := payload["optional"]; ok {
		return NewValidationError("optional", `unsupported field; use "isOptional"`)
	}
	return nil
}

// FormPayload is the part of a form payload the core inspects.
type FormPayload struct {
	Name        string   `json:"name"`
	FormNumber  string   `json:"formNumber,omitempty"`
	CoverageIDs []string `json:"coverageIds"`
}

// MapsCoverage reports whether the form attaches to coverageID.
func (f FormPayload) MapsCoverage(coverageID string) bool {
	return containsFold(f.CoverageIDs, coverageID)
}

// RulePayload is the part of a business rule payload the core inspects.
type RulePayload struct {
	Name        string     `json:"name"`
	CoverageIDs []string   `json:"coverageIds"`
	Target      *EntityRef `json:"target,omitempty"`
}

// References reports whether the rule applies to coverageID.
func (r RulePayload) References(coverageID string) bool {
	return containsFold(r.CoverageIDs, coverageID)
}

// StateProgramStatus is the filing status of a product in one jurisdiction.
type StateProgramStatus string

// State program statuses.
const (
	StateProgramDraft      StateProgramStatus = "draft"
	StateProgramFiled      StateProgramStatus = "filed"
	StateProgramApproved   StateProgramStatus = "approved"
	StateProgramActive     StateProgramStatus = "active"
	StateProgramNotOffered StateProgramStatus = "not_offered"
)

// IsValid returns true if the status is recognised.
func (s StateProgramStatus) IsValid() bool {
	switch s {
	case StateProgramDraft, StateProgramFiled, StateProgramApproved, StateProgramActive, StateProgramNotOffered:
		return true
	default:
		return false
	}
}

// IsReady reports whether the product may go live in the jurisdiction.
func (s StateProgramStatus) IsReady() bool {
	return s == StateProgramApproved || s == StateProgramActive
}

// StateProgram is the jurisdictional readiness of a product version.
type StateProgram struct {
	StateCode                  string             `json:"stateCode"`
	Status                     StateProgramStatus `json:"status"`
	RequiredArtifactVersionIDs []string           `json:"requiredArtifactVersionIds,omitempty"`
}

// Validate checks the program's tags.
func (s StateProgram) Validate() error {
	if strings.TrimSpace(s.StateCode) == "" {
		return NewValidationError("stateCode", "must not be empty")
	}
	if !s.Status.IsValid() {
		return NewValidationError("status", "unknown state program status %q", s.Status)
	}
	return nil
}

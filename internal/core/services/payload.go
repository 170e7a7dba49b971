package services

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

var (
	stepKindType      = reflect.TypeOf(domain.StepKind(""))
	operandType       = reflect.TypeOf(domain.Operand(""))
	dimensionKindType = reflect.TypeOf(domain.DimensionKind(""))
	tableRefType      = reflect.TypeOf(domain.TableRef{})
	roundingType      = reflect.TypeOf(domain.Rounding{})
)

// tagHook normalises tagged variants while decoding so an unknown step
// kind, operand or dimension kind fails at the boundary instead of during
// evaluation. It also accepts shorthand forms: a bare table name for a
// table reference and a bare mode for a rounding rule.
func tagHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s, _ := data.(string)
	switch to {
	case stepKindType:
		return domain.ParseStepKind(s)
	case operandType:
		if s == "" {
			return domain.Operand(""), nil
		}
		return domain.ParseOperand(s)
	case dimensionKindType:
		return domain.ParseDimensionKind(s)
	case tableRefType:
		return map[string]any{"name": s}, nil
	case roundingType:
		return map[string]any{"mode": strings.ToLower(strings.TrimSpace(s))}, nil
	}
	return data, nil
}

func decodePayload(payload map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "json",
		Result:     out,
		DecodeHook: tagHook,
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}
	// mapstructure flattens hook errors into strings, so every decode
	// failure surfaces as a payload validation error.
	if err := decoder.Decode(payload); err != nil {
		return domain.NewValidationError("payload", "%v", err)
	}
	return nil
}

// DecodeRateProgram decodes and validates a rate_program payload.
func DecodeRateProgram(payload map[string]any) (domain.RateProgram, error) {
	var program domain.RateProgram
	if err := decodePayload(payload, &program); err != nil {
		return domain.RateProgram{}, err
	}
	if err := program.Validate(); err != nil {
		return domain.RateProgram{}, err
	}
	steps, _ := domain.ValidateSteps(program.Steps)
	program.Steps = steps
	return program, nil
}

// DecodeTable decodes and validates a table payload. A table's name is its
// entity ID; a payload that names a different table is rejected.
func DecodeTable(entityID string, payload map[string]any) (domain.RatingTable, error) {
	var table domain.RatingTable
	if err := decodePayload(payload, &table); err != nil {
		return domain.RatingTable{}, err
	}
	switch {
	case table.Name == "":
		table.Name = entityID
	case entityID != "" && table.Name != entityID:
		return domain.RatingTable{}, domain.NewValidationError("name", "table name %q does not match entity %q", table.Name, entityID)
	}
	if err := table.Validate(); err != nil {
		return domain.RatingTable{}, err
	}
	return table, nil
}

// DecodeProduct decodes a product payload.
func DecodeProduct(payload map[string]any) (domain.ProductPayload, error) {
	var product domain.ProductPayload
	if err := decodePayload(payload, &product); err != nil {
		return domain.ProductPayload{}, err
	}
	seen := make(map[string]struct{}, len(product.StatePrograms))
	for _, program := range product.StatePrograms {
		if err := program.Validate(); err != nil {
			return domain.ProductPayload{}, err
		}
		code := strings.ToUpper(program.StateCode)
		if _, dup := seen[code]; dup {
			return domain.ProductPayload{}, domain.NewValidationError("statePrograms", "duplicate state program %q", code)
		}
		seen[code] = struct{}{}
	}
	return product, nil
}

// DecodeCoverage validates and decodes a coverage payload.
func DecodeCoverage(payload map[string]any) (domain.CoveragePayload, error) {
	if err := domain.ValidateCoveragePayload(payload); err != nil {
		return domain.CoveragePayload{}, err
	}
	var coverage domain.CoveragePayload
	if err := decodePayload(payload, &coverage); err != nil {
		return domain.CoveragePayload{}, err
	}
	return coverage, nil
}

// DecodeForm decodes a form payload.
func DecodeForm(payload map[string]any) (domain.FormPayload, error) {
	var form domain.FormPayload
	err := decodePayload(payload, &form)
	return form, err
}

// DecodeRule decodes a business rule payload.
func DecodeRule(payload map[string]any) (domain.RulePayload, error) {
	var rule domain.RulePayload
	if err := decodePayload(payload, &rule); err != nil {
		return domain.RulePayload{}, err
	}
	if rule.Target != nil {
		if !rule.Target.EntityType.IsValid() {
			return domain.RulePayload{}, domain.NewValidationError("target.entityType", "unknown entity type %q", rule.Target.EntityType)
		}
		if rule.Target.EntityID == "" {
			return domain.RulePayload{}, domain.NewValidationError("target.entityId", "must not be empty")
		}
	}
	return rule, nil
}

// ValidatePayload checks the fields the core inspects for entityType.
// Everything else in the payload stays opaque.
func ValidatePayload(entityType domain.EntityType, entityID string, payload map[string]any) error {
	var err error
	switch entityType {
	case domain.EntityProduct:
		_, err = DecodeProduct(payload)
	case domain.EntityCoverage:
		_, err = DecodeCoverage(payload)
	case domain.EntityForm:
		_, err = DecodeForm(payload)
	case domain.EntityRule:
		_, err = DecodeRule(payload)
	case domain.EntityRateProgram:
		_, err = DecodeRateProgram(payload)
	case domain.EntityTable:
		_, err = DecodeTable(entityID, payload)
	default:
		err = domain.NewValidationError("entityType", "unknown entity type %q", entityType)
	}
	return err
}

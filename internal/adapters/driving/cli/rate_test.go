package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

const propertyProgram = `
rounding: nearest
steps:
  - {order: 1, name: BaseRate, stepType: factor, value: 0.50}
  - {order: 2, stepType: operand, operand: "*"}
  - {order: 3, name: BuildingValue, stepType: factor, input: buildingValue}
  - {order: 4, stepType: operand, operand: "*"}
  - {order: 5, name: Construction, stepType: factor, value: 1.0}
  - {order: 6, stepType: operand, operand: "*"}
  - {order: 7, name: ProtectionClass, stepType: factor, value: 0.85}
  - {order: 8, stepType: operand, operand: "*"}
  - {order: 9, name: Territory, stepType: factor, table: territory}
  - {order: 10, stepType: operand, operand: "*"}
  - {order: 11, name: Occupancy, stepType: factor, value: 1.0}
  - {order: 12, stepType: operand, operand: "-"}
  - {order: 13, name: DeductibleCredit, stepType: factor, value: 50, stateScope: [CA]}
`

const territoryTables = `
territory:
  dimensions:
    - {name: zone, kind: discrete, values: ["1", "2"]}
  cells:
    "1": 1.15
    "2": 1.3
`

func TestRate_FromFiles(t *testing.T) {
	setupTestServices(t)
	program := writeFile(t, "program.yaml", propertyProgram)
	tables := writeFile(t, "tables.yaml", territoryTables)
	quote := writeFile(t, "quote.yaml", "stateCode: CA\nriskAttributes: {buildingValue: 10000, zone: 1}\n")

	out, err := execute(t, "rate", "--program", program, "--tables", tables, "--context", quote)

	require.NoError(t, err)
	assert.Contains(t, out, "Premium: 4838 (unrounded 4837.5)")
	assert.Contains(t, out, "DeductibleCredit")
	assert.NotContains(t, out, "Context 1")
}

func TestRate_JSONBatchKeepsOrder(t *testing.T) {
	setupTestServices(t)
	program := writeFile(t, "program.yaml", propertyProgram)
	tables := writeFile(t, "tables.yaml", territoryTables)
	quotes := writeFile(t, "quotes.yaml", `
- stateCode: CA
  riskAttributes: {buildingValue: 10000, zone: 1}
- stateCode: NY
  riskAttributes: {buildingValue: 10000, zone: 1}
`)

	var results []domain.RatingResult
	executeJSON(t, &results, "rate", "--program", program, "--tables", tables, "--context", quotes)

	require.Len(t, results, 2)
	assert.Equal(t, 4838.0, results[0].Premium)
	assert.Equal(t, 4888.0, results[1].Premium)
	assert.True(t, results[1].Trace[12].Skipped)
}

func TestRate_BatchText(t *testing.T) {
	setupTestServices(t)
	program := writeFile(t, "program.yaml", propertyProgram)
	tables := writeFile(t, "tables.yaml", territoryTables)
	quotes := writeFile(t, "quotes.yaml", `[{stateCode: CA, riskAttributes: {buildingValue: 10000, zone: 1}}]`)

	out, err := execute(t, "rate", "--program", program, "--tables", tables, "--context", quotes)

	require.NoError(t, err)
	assert.Contains(t, out, "Context 1")
}

func TestRate_MissingTableEntry(t *testing.T) {
	setupTestServices(t)
	program := writeFile(t, "program.yaml", propertyProgram)
	tables := writeFile(t, "tables.yaml", territoryTables)
	quote := writeFile(t, "quote.yaml", "stateCode: CA\nriskAttributes: {buildingValue: 10000, zone: 7}\n")

	_, err := execute(t, "rate", "--program", program, "--tables", tables, "--context", quote)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRate_FlagValidation(t *testing.T) {
	setupTestServices(t)
	program := writeFile(t, "program.yaml", propertyProgram)
	quote := writeFile(t, "quote.yaml", "stateCode: CA\n")

	tests := []struct {
		name string
		args []string
	}{
		{"no program", []string{"rate", "--context", quote}},
		{"both sources", []string{"rate", "--context", quote, "--program", program, "--published", "bop"}},
		{"no context", []string{"rate", "--program", program}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, "ValidationError", domain.ErrorKind(err))
		})
	}
}

func TestRate_WithoutService(t *testing.T) {
	SetServices(Services{})

	_, err := execute(t, "rate", "--program", "p.yaml", "--context", "c.yaml")

	assert.EqualError(t, err, "rating service not configured")
}

func TestTableResolve(t *testing.T) {
	setupTestServices(t)
	table := writeFile(t, "table.yaml", `
dimensions:
  - {name: state, kind: discrete, values: [CA, NY]}
  - {name: zone, kind: discrete, values: ["1", "2"]}
cells:
  "CA|1": 1.1
  "CA|2": 1.25
  "NY|1": 1.4
`)

	out, err := execute(t, "table", "resolve", "--file", table, "--name", "territory", "--set", "state=CA", "--set", "zone=2")

	require.NoError(t, err)
	assert.Contains(t, out, "territory[CA|2] = 1.25")

	_, err = execute(t, "table", "resolve", "--file", table, "--name", "territory", "--set", "state=NY", "--set", "zone=2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = execute(t, "table", "resolve", "--file", table, "--name", "territory", "--set", "state")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

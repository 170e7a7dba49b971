package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/services"
)

var (
	rateProgramFile string
	rateTablesFile  string
	rateContextFile string
	ratePublished   string
	rateAsOf        string

	tableFile   string
	tableName   string
	tableInputs []string
)

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Compute a premium",
	Long: `Rate one context, or a list of contexts, against a rate program.

The program comes either from a file (--program, with --tables supplying any
rating tables its factor steps reference) or from the published rate program
active at --as-of (--published). A context file holding a list rates every
entry in parallel and keeps input order.`,
	Example: `  ratebook rate --program bop.yaml --tables tables.yaml --context quote.yaml
  ratebook rate --published bop-rates --as-of 2026-09-01 --context quotes.yaml --json`,
	Args: cobra.NoArgs,
	RunE: runRate,
}

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Inspect rating tables",
}

var tableResolveCmd = &cobra.Command{
	Use:     "resolve",
	Short:   "Look up one factor in a rating table",
	Example: `  ratebook table resolve --file territory.yaml --set state=CA --set zone=3`,
	Args:    cobra.NoArgs,
	RunE:    runTableResolve,
}

func init() {
	rateCmd.Flags().StringVar(&rateProgramFile, "program", "", "rate program file (YAML or JSON, - for stdin)")
	rateCmd.Flags().StringVar(&rateTablesFile, "tables", "", "file mapping table name to table definition")
	rateCmd.Flags().StringVar(&rateContextFile, "context", "", "evaluation context file, or a list of contexts")
	rateCmd.Flags().StringVar(&ratePublished, "published", "", "rate against this published rate program")
	rateCmd.Flags().StringVar(&rateAsOf, "as-of", "", "instant for --published (default now)")
	addJSONFlag(rateCmd)

	tableResolveCmd.Flags().StringVar(&tableFile, "file", "", "table definition file")
	tableResolveCmd.Flags().StringVar(&tableName, "name", "", "table name when the file does not set one")
	tableResolveCmd.Flags().StringArrayVar(&tableInputs, "set", nil, "dimension input as key=value (repeatable)")
	addJSONFlag(tableResolveCmd)
	tableCmd.AddCommand(tableResolveCmd)

	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(tableCmd)
}

func runRate(cmd *cobra.Command, _ []string) error {
	if ratingService == nil {
		return errors.New("rating service not configured")
	}
	contexts, batch, err := readContexts(cmd, rateContextFile)
	if err != nil {
		return err
	}

	var results []domain.RatingResult
	switch {
	case ratePublished != "" && rateProgramFile != "":
		return domain.NewValidationError("program", "--program and --published are mutually exclusive")
	case ratePublished != "":
		results, err = ratePublishedProgram(cmd, contexts)
	case rateProgramFile != "":
		results, err = rateFromFiles(cmd, contexts, batch)
	default:
		return domain.NewValidationError("program", "one of --program or --published is required")
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		if batch {
			return printJSON(cmd, results)
		}
		return printJSON(cmd, results[0])
	}
	for i := range results {
		if batch {
			cmd.Println(styled(cmd, titleStyle, fmt.Sprintf("Context %d", i+1)))
		}
		renderResult(cmd, &results[i])
	}
	return nil
}

func rateFromFiles(cmd *cobra.Command, contexts []domain.EvalContext, batch bool) ([]domain.RatingResult, error) {
	program, err := readProgram(cmd, rateProgramFile)
	if err != nil {
		return nil, err
	}
	tables, err := readTables(cmd, rateTablesFile)
	if err != nil {
		return nil, err
	}
	for i := range contexts {
		if contexts[i].Rounding.Mode == "" {
			contexts[i].Rounding = program.Rounding
		}
	}
	if batch {
		return ratingService.RateBatch(cmd.Context(), program.Steps, tables, contexts)
	}
	result, err := ratingService.Rate(program.Steps, tables, contexts[0])
	if err != nil {
		return nil, err
	}
	return []domain.RatingResult{*result}, nil
}

func ratePublishedProgram(cmd *cobra.Command, contexts []domain.EvalContext) ([]domain.RatingResult, error) {
	asOf := time.Now().UTC()
	if rateAsOf != "" {
		t, err := parseTime("as-of", rateAsOf)
		if err != nil {
			return nil, err
		}
		asOf = *t
	}
	results := make([]domain.RatingResult, 0, len(contexts))
	for i, ec := range contexts {
		result, err := ratingService.RatePublished(cmd.Context(), ratePublished, asOf, ec)
		if err != nil {
			return nil, fmt.Errorf("context %d: %w", i, err)
		}
		results = append(results, *result)
	}
	return results, nil
}

func runTableResolve(cmd *cobra.Command, _ []string) error {
	if ratingService == nil {
		return errors.New("rating service not configured")
	}
	payload, err := readPayload(cmd, tableFile)
	if err != nil {
		return err
	}
	table, err := services.DecodeTable(tableName, payload)
	if err != nil {
		return err
	}
	values, err := parseAssignments(tableInputs)
	if err != nil {
		return err
	}
	resolution, err := ratingService.ResolveTable(table, values)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, resolution)
	}
	cmd.Printf("%s[%s] = %s\n", styled(cmd, titleStyle, resolution.Table), resolution.Key, money(resolution.Factor))
	return nil
}

package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

var (
	versionPayloadFile string
	versionStart       string
	versionEnd         string
	versionReason      string
)

var versionsCmd = &cobra.Command{
	Use:     "versions",
	Aliases: []string{"v"},
	Short:   "Manage versioned configuration entities",
	Long: `Create and inspect versions of products, coverages, forms, rules, rate
programs and rating tables.

Entity types: product, coverage, form, rule, rate_program, table.
Every edit appends or updates a draft; published history is never rewritten.`,
}

var versionsCreateCmd = &cobra.Command{
	Use:     "create <entity-type> <entity-id>",
	Short:   "Append a new draft version",
	Example: `  ratebook versions create coverage building --payload building.yaml`,
	Args:    cobra.ExactArgs(2),
	RunE:    runVersionsCreate,
}

var versionsUpdateCmd = &cobra.Command{
	Use:   "update <version-id>",
	Short: "Replace a draft's payload",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionsUpdate,
}

var versionsWindowCmd = &cobra.Command{
	Use:     "window <version-id>",
	Short:   "Set a draft's effective window",
	Long:    `Set the effective window of a draft. Omit --end for an open-ended window.`,
	Example: `  ratebook versions window 5f0c... --start 2026-07-01 --end 2027-07-01`,
	Args:    cobra.ExactArgs(1),
	RunE:    runVersionsWindow,
}

var versionsCloneCmd = &cobra.Command{
	Use:   "clone <version-id>",
	Short: "Start a new draft from any prior version",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionsClone,
}

var versionsTransitionCmd = &cobra.Command{
	Use:   "transition <version-id> <status>",
	Short: "Move a version to another lifecycle status",
	Long: `Move a single version along the lifecycle:

  draft -> review -> approved -> published
  review -> draft, approved -> draft

Published versions are archived only by a later publish that supersedes them.`,
	Args: cobra.ExactArgs(2),
	RunE: runVersionsTransition,
}

var versionsGetCmd = &cobra.Command{
	Use:   "get <version-id>",
	Short: "Show a version",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionsGet,
}

var versionsListCmd = &cobra.Command{
	Use:   "list <entity-type> <entity-id>",
	Short: "List an entity's versions, newest first",
	Args:  cobra.ExactArgs(2),
	RunE:  runVersionsList,
}

var versionsDiffCmd = &cobra.Command{
	Use:   "diff <base-version-id> <target-version-id>",
	Short: "Compare two versions of the same entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runVersionsDiff,
}

var versionsHistoryCmd = &cobra.Command{
	Use:   "history <version-id>",
	Short: "Show a version's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionsHistory,
}

func init() {
	versionsCreateCmd.Flags().StringVarP(&versionPayloadFile, "payload", "p", "", "payload file (YAML or JSON, - for stdin)")
	versionsUpdateCmd.Flags().StringVarP(&versionPayloadFile, "payload", "p", "", "payload file (YAML or JSON, - for stdin)")
	versionsWindowCmd.Flags().StringVar(&versionStart, "start", "", "effective start (RFC 3339 or YYYY-MM-DD)")
	versionsWindowCmd.Flags().StringVar(&versionEnd, "end", "", "effective end, exclusive")
	versionsTransitionCmd.Flags().StringVar(&versionReason, "reason", "", "reason recorded in the audit trail")

	for _, cmd := range []*cobra.Command{
		versionsCreateCmd, versionsUpdateCmd, versionsWindowCmd, versionsCloneCmd,
		versionsTransitionCmd, versionsGetCmd, versionsListCmd, versionsDiffCmd, versionsHistoryCmd,
	} {
		addJSONFlag(cmd)
		versionsCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(versionsCmd)
}

func requireVersionService() error {
	if versionService == nil {
		return errors.New("version service not configured")
	}
	return nil
}

func showVersion(cmd *cobra.Command, v *domain.VersionedEntity) error {
	if jsonOutput {
		return printJSON(cmd, v)
	}
	return renderVersion(cmd, v)
}

func runVersionsCreate(cmd *cobra.Command, args []string) error {
	if err := requireVersionService(); err != nil {
		return err
	}
	entityType, err := domain.ParseEntityType(args[0])
	if err != nil {
		return err
	}
	payload, err := readPayload(cmd, versionPayloadFile)
	if err != nil {
		return err
	}
	v, err := versionService.CreateDraftVersion(cmd.Context(), entityType, args[1], payload, audit(""))
	if err != nil {
		return err
	}
	return showVersion(cmd, v)
}

func runVersionsUpdate(cmd *cobra.Command, args []string) error {
	if err := requireVersionService(); err != nil {
		return err
	}
	payload, err := readPayload(cmd, versionPayloadFile)
	if err != nil {
		return err
	}
	v, err := versionService.UpdateDraftVersion(cmd.Context(), args[0], payload, audit(""))
	if err != nil {
		return err
	}
	return showVersion(cmd, v)
}

func runVersionsWindow(cmd *cobra.Command, args []string) error {
	if err := requireVersionService(); err != nil {
		return err
	}
	start, err := parseTime("start", versionStart)
	if err != nil {
		return err
	}
	end, err := parseTime("end", versionEnd)
	if err != nil {
		return err
	}
	v, err := versionService.SetEffectiveWindow(cmd.Context(), args[0], start, end, audit(""))
	if err != nil {
		return err
	}
	return showVersion(cmd, v)
}

func runVersionsClone(cmd *cobra.Command, args []string) error {
	if err := requireVersionService(); err != nil {
		return err
	}
	v, err := versionService.CloneVersion(cmd.Context(), args[0], audit(""))
	if err != nil {
		return err
	}
	return showVersion(cmd, v)
}

func runVersionsTransition(cmd *cobra.Command, args []string) error {
	if err := requireVersionService(); err != nil {
		return err
	}
	to, err := domain.ParseVersionStatus(args[1])
	if err != nil {
		return err
	}
	v, err := versionService.TransitionVersionStatus(cmd.Context(), args[0], to, audit(versionReason))
	if err != nil {
		return err
	}
	return showVersion(cmd, v)
}

func runVersionsGet(cmd *cobra.Command, args []string) error {
	if err := requireVersionService(); err != nil {
		return err
	}
	v, err := versionService.GetVersion(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return showVersion(cmd, v)
}

func runVersionsList(cmd *cobra.Command, args []string) error {
	if err := requireVersionService(); err != nil {
		return err
	}
	entityType, err := domain.ParseEntityType(args[0])
	if err != nil {
		return err
	}
	versions, err := versionService.ListVersions(cmd.Context(), entityType, args[1])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, versions)
	}
	if len(versions) == 0 {
		cmd.Printf("No versions of %s/%s\n", entityType, args[1])
		return nil
	}
	renderVersions(cmd, versions)
	return nil
}

func runVersionsDiff(cmd *cobra.Command, args []string) error {
	if err := requireVersionService(); err != nil {
		return err
	}
	diff, err := versionService.CompareVersions(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, diff)
	}
	renderDiff(cmd, diff)
	return nil
}

func runVersionsHistory(cmd *cobra.Command, args []string) error {
	if err := requireVersionService(); err != nil {
		return err
	}
	entries, err := versionService.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, entries)
	}
	renderAudit(cmd, entries)
	return nil
}

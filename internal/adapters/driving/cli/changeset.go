package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

var (
	csJurisdictions []string
	csStatus        string
	csReason        string
	csRole          string
	csNotes         string

	itemAction     string
	itemEntityType string
	itemEntityID   string
	itemVersionID  string
)

var changeSetCmd = &cobra.Command{
	Use:     "changeset",
	Aliases: []string{"cs"},
	Short:   "Batch versions into reviewed, atomically published change sets",
	Long: `A change set groups draft versions that move through review together:

  draft -> in_review -> approved -> published
  in_review -> draft (return), in_review -> rejected

Approval needs a sign-off from every required role. Publish re-runs the
preflight and promotes every item in one transaction.`,
}

var csCreateCmd = &cobra.Command{
	Use:     "create <title>",
	Short:   "Open a new change set",
	Example: `  ratebook changeset create "Q3 property filing" --jurisdiction CA --jurisdiction NY`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCSCreate,
}

var csGetCmd = &cobra.Command{
	Use:   "get <change-set-id>",
	Short: "Show a change set",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSGet,
}

var csListCmd = &cobra.Command{
	Use:   "list",
	Short: "List change sets",
	Args:  cobra.NoArgs,
	RunE:  runCSList,
}

var csAddItemCmd = &cobra.Command{
	Use:     "add-item <change-set-id>",
	Short:   "Attach a version to a draft change set",
	Example: `  ratebook changeset add-item 7d1e... --action create --type coverage --entity building --version 5f0c...`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCSAddItem,
}

var csRemoveItemCmd = &cobra.Command{
	Use:   "remove-item <change-set-id> <version-id>",
	Short: "Detach a version from a draft change set",
	Args:  cobra.ExactArgs(2),
	RunE:  runCSRemoveItem,
}

var csSubmitCmd = &cobra.Command{
	Use:   "submit <change-set-id>",
	Short: "Submit a change set for review",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSSubmit,
}

var csReturnCmd = &cobra.Command{
	Use:   "return <change-set-id>",
	Short: "Send a change set in review back to draft",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSReturn,
}

var csApproveCmd = &cobra.Command{
	Use:   "approve <change-set-id>",
	Short: "Record a role's approval",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSApprove,
}

var csRejectCmd = &cobra.Command{
	Use:   "reject <change-set-id>",
	Short: "Reject a change set in review",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSReject,
}

var csPublishCmd = &cobra.Command{
	Use:   "publish <change-set-id>",
	Short: "Publish an approved change set",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSPublish,
}

var csCloneCmd = &cobra.Command{
	Use:   "clone <change-set-id>",
	Short: "Open a new draft from a rejected change set",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSClone,
}

var csPreflightCmd = &cobra.Command{
	Use:   "preflight <change-set-id>",
	Short: "Report what blocks a change set from publishing",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSPreflight,
}

var csAuditCmd = &cobra.Command{
	Use:   "audit <change-set-id>",
	Short: "Show the audit trail of a change set and its versions",
	Args:  cobra.ExactArgs(1),
	RunE:  runCSAudit,
}

func init() {
	csCreateCmd.Flags().StringSliceVar(&csJurisdictions, "jurisdiction", nil, "state code the change set targets (repeatable)")
	csPreflightCmd.Flags().StringSliceVar(&csJurisdictions, "jurisdiction", nil, "check these states instead of the change set's")
	csListCmd.Flags().StringVar(&csStatus, "status", "", "only list change sets in this status")

	csAddItemCmd.Flags().StringVar(&itemAction, "action", string(domain.ActionCreate), "create, update or delete")
	csAddItemCmd.Flags().StringVar(&itemEntityType, "type", "", "entity type")
	csAddItemCmd.Flags().StringVar(&itemEntityID, "entity", "", "entity ID")
	csAddItemCmd.Flags().StringVar(&itemVersionID, "version", "", "target version ID")

	csReturnCmd.Flags().StringVar(&csReason, "reason", "", "why the change set goes back (required)")
	csApproveCmd.Flags().StringVar(&csRole, "role", "", "role signing off")
	csRejectCmd.Flags().StringVar(&csRole, "role", "", "role rejecting")
	csRejectCmd.Flags().StringVar(&csNotes, "notes", "", "rejection notes")

	for _, cmd := range []*cobra.Command{
		csCreateCmd, csGetCmd, csListCmd, csAddItemCmd, csRemoveItemCmd, csSubmitCmd, csReturnCmd,
		csApproveCmd, csRejectCmd, csPublishCmd, csCloneCmd, csPreflightCmd, csAuditCmd,
	} {
		addJSONFlag(cmd)
		changeSetCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(changeSetCmd)
}

func requireChangeSetService() error {
	if changeSetService == nil {
		return errors.New("change set service not configured")
	}
	return nil
}

func showChangeSet(cmd *cobra.Command, cs *domain.ChangeSet, err error) error {
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, cs)
	}
	renderChangeSet(cmd, cs)
	return nil
}

func runCSCreate(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	cs, err := changeSetService.CreateChangeSet(cmd.Context(), args[0], csJurisdictions, audit(""))
	return showChangeSet(cmd, cs, err)
}

func runCSGet(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	cs, err := changeSetService.GetChangeSet(cmd.Context(), args[0])
	return showChangeSet(cmd, cs, err)
}

func runCSList(cmd *cobra.Command, _ []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	var status domain.ChangeSetStatus
	if csStatus != "" {
		parsed, err := domain.ParseChangeSetStatus(csStatus)
		if err != nil {
			return err
		}
		status = parsed
	}
	sets, err := changeSetService.ListChangeSets(cmd.Context(), status)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, sets)
	}
	if len(sets) == 0 {
		cmd.Println("No change sets")
		return nil
	}
	renderChangeSets(cmd, sets)
	return nil
}

func runCSAddItem(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	item := domain.ChangeSetItem{
		Action:          domain.ItemAction(itemAction),
		EntityType:      domain.EntityType(itemEntityType),
		EntityID:        itemEntityID,
		TargetVersionID: itemVersionID,
	}
	cs, err := changeSetService.AddItem(cmd.Context(), args[0], item, audit(""))
	return showChangeSet(cmd, cs, err)
}

func runCSRemoveItem(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	cs, err := changeSetService.RemoveItem(cmd.Context(), args[0], args[1], audit(""))
	return showChangeSet(cmd, cs, err)
}

func runCSSubmit(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	cs, err := changeSetService.SubmitForReview(cmd.Context(), args[0], audit(""))
	return showChangeSet(cmd, cs, err)
}

func runCSReturn(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	cs, err := changeSetService.ReturnToDraft(cmd.Context(), args[0], audit(csReason))
	return showChangeSet(cmd, cs, err)
}

func runCSApprove(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	cs, err := changeSetService.Approve(cmd.Context(), args[0], csRole, audit(""))
	return showChangeSet(cmd, cs, err)
}

func runCSReject(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	cs, err := changeSetService.Reject(cmd.Context(), args[0], csRole, csNotes, audit(csNotes))
	return showChangeSet(cmd, cs, err)
}

func runCSPublish(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	cs, err := changeSetService.Publish(cmd.Context(), args[0], audit(""))
	return showChangeSet(cmd, cs, err)
}

func runCSClone(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	cs, err := changeSetService.CloneChangeSet(cmd.Context(), args[0], audit(""))
	return showChangeSet(cmd, cs, err)
}

func runCSPreflight(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	report, err := changeSetService.GetPublishPreflight(cmd.Context(), args[0], csJurisdictions)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, report)
	}
	renderPreflight(cmd, report)
	return nil
}

func runCSAudit(cmd *cobra.Command, args []string) error {
	if err := requireChangeSetService(); err != nil {
		return err
	}
	entries, err := changeSetService.AuditTrail(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, entries)
	}
	renderAudit(cmd, entries)
	return nil
}

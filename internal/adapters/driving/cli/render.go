package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#06B6D4")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#45475A"))
)

var jsonOutput bool

func addJSONFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func styled(cmd *cobra.Command, style lipgloss.Style, text string) string {
	if !isTerminal(cmd.OutOrStdout()) {
		return text
	}
	return style.Render(text)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// grid renders rows as a table. Borders are drawn only on a terminal so
// piped output stays greppable.
func grid(cmd *cobra.Command, headers []string, rows [][]string) string {
	t := table.New().
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	if isTerminal(cmd.OutOrStdout()) {
		t = t.Border(lipgloss.RoundedBorder()).BorderStyle(borderStyle)
	} else {
		t = t.Border(lipgloss.HiddenBorder())
	}
	return t.String()
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func renderResult(cmd *cobra.Command, result *domain.RatingResult) {
	rows := make([][]string, 0, len(result.Trace))
	for _, entry := range result.Trace {
		value, running := money(entry.Value), money(entry.Running)
		if entry.Skipped {
			value, running = "skipped", "-"
		}
		rows = append(rows, []string{
			strconv.Itoa(entry.Order),
			entry.Name,
			string(entry.Kind),
			string(entry.Operand),
			value,
			running,
			money(entry.Total),
		})
	}
	cmd.Println(grid(cmd, []string{"#", "Step", "Type", "Op", "Value", "Running", "Total"}, rows))
	cmd.Printf("%s %s (unrounded %s)\n",
		styled(cmd, titleStyle, "Premium:"), money(result.Premium), money(result.Unrounded))
}

func renderVersion(cmd *cobra.Command, v *domain.VersionedEntity) error {
	cmd.Printf("%s %s v%d\n", styled(cmd, titleStyle, v.Ref().String()), v.VersionID, v.Number)
	cmd.Printf("  Status:    %s\n", v.Status)
	cmd.Printf("  Effective: %s .. %s\n", stamp(v.EffectiveStart), stamp(v.EffectiveEnd))
	if v.SourceVersionID != "" {
		cmd.Printf("  Cloned from: %s\n", v.SourceVersionID)
	}
	cmd.Printf("  Updated:   %s by %s\n", v.UpdatedAt.UTC().Format(time.RFC3339), v.UpdatedBy)
	payload, err := json.MarshalIndent(v.Payload, "  ", "  ")
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	cmd.Printf("  Payload:   %s\n", payload)
	return nil
}

func renderVersions(cmd *cobra.Command, versions []domain.VersionedEntity) {
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		rows = append(rows, []string{
			strconv.Itoa(v.Number),
			v.VersionID,
			string(v.Status),
			stamp(v.EffectiveStart),
			stamp(v.EffectiveEnd),
		})
	}
	cmd.Println(grid(cmd, []string{"Number", "Version", "Status", "Start", "End"}, rows))
}

func renderDiff(cmd *cobra.Command, diff *domain.VersionDiff) {
	cmd.Printf("%s v%d -> v%d\n", styled(cmd, titleStyle, diff.Entity.String()), diff.BaseNumber, diff.TargetNum)
	if diff.StatusDiff {
		cmd.Println("  status differs")
	}
	if diff.WindowDiff {
		cmd.Println("  effective window differs")
	}
	if diff.Empty() {
		cmd.Println(styled(cmd, mutedStyle, "  payloads are identical"))
		return
	}
	rows := make([][]string, 0, len(diff.Changes))
	for _, c := range diff.Changes {
		rows = append(rows, []string{string(c.Kind), c.Path, c.Before, c.After})
	}
	cmd.Println(grid(cmd, []string{"Change", "Path", "Before", "After"}, rows))
}

func renderChangeSet(cmd *cobra.Command, cs *domain.ChangeSet) {
	cmd.Printf("%s %s\n", styled(cmd, titleStyle, cs.Title), styled(cmd, mutedStyle, cs.ID))
	cmd.Printf("  Status:        %s\n", cs.Status)
	if len(cs.Jurisdictions) > 0 {
		cmd.Printf("  Jurisdictions: %s\n", strings.Join(cs.Jurisdictions, ", "))
	}
	if len(cs.Approvals) > 0 {
		cmd.Printf("  Approved by:   %s\n", strings.Join(cs.ApprovedRoles(), ", "))
	}
	if cs.Notes != "" {
		cmd.Printf("  Notes:         %s\n", cs.Notes)
	}
	if cs.ClonedFrom != "" {
		cmd.Printf("  Cloned from:   %s\n", cs.ClonedFrom)
	}
	if len(cs.Items) == 0 {
		cmd.Println(styled(cmd, mutedStyle, "  no items"))
		return
	}
	rows := make([][]string, 0, len(cs.Items))
	for _, item := range cs.Items {
		rows = append(rows, []string{string(item.Action), item.Ref().String(), item.TargetVersionID})
	}
	cmd.Println(grid(cmd, []string{"Action", "Entity", "Version"}, rows))
}

func renderChangeSets(cmd *cobra.Command, sets []domain.ChangeSet) {
	rows := make([][]string, 0, len(sets))
	for _, cs := range sets {
		rows = append(rows, []string{cs.ID, cs.Title, string(cs.Status), strconv.Itoa(len(cs.Items))})
	}
	cmd.Println(grid(cmd, []string{"ID", "Title", "Status", "Items"}, rows))
}

func renderAudit(cmd *cobra.Command, entries []domain.AuditEntry) {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.At.UTC().Format(time.RFC3339),
			e.SubjectType + ":" + e.SubjectID,
			e.From + " -> " + e.To,
			e.Actor,
			e.Reason,
		})
	}
	cmd.Println(grid(cmd, []string{"At", "Subject", "Transition", "Actor", "Reason"}, rows))
}

func renderPreflight(cmd *cobra.Command, report *domain.PreflightReport) {
	if !report.Blocking() {
		cmd.Println(styled(cmd, successStyle, "Preflight clean: ready to publish"))
		return
	}
	cmd.Println(styled(cmd, errorStyle, fmt.Sprintf("Preflight found %d blocking issue(s)", len(report.Issues))))
	cmd.Println(preflightText(*report))
}

func preflightText(report domain.PreflightReport) string {
	var b strings.Builder
	for _, issue := range report.Issues {
		fmt.Fprintf(&b, "  [%s] %s/%s", issue.Code, issue.EntityType, issue.EntityID)
		if issue.Jurisdiction != "" {
			fmt.Fprintf(&b, " (%s)", issue.Jurisdiction)
		}
		fmt.Fprintf(&b, ": %s\n", issue.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

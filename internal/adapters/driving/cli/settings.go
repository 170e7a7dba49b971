package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

var settingsDataDir string

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and configure storage, events, locks, approval roles and other options.

Use subcommands to configure specific settings or run the interactive wizard.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsWizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive setup wizard",
	Long:  `Run an interactive wizard to configure all settings step by step.`,
	RunE:  runSettingsWizard,
}

var settingsRolesCmd = &cobra.Command{
	Use:     "roles <role>...",
	Short:   "Set the roles required to approve a change set",
	Example: `  ratebook settings roles product_manager compliance actuary`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runSettingsRoles,
}

var settingsStorageCmd = &cobra.Command{
	Use:   "storage <backend>",
	Short: "Select the storage backend",
	Long: `Select where versions and change sets are persisted.

Available backends:
  memory - process memory, lost on exit
  sqlite - SQLite database under --data-dir (default ~/.ratebook/data)`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsStorage,
}

var settingsSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show where each setting comes from",
	Long: `List every setting with its effective value and origin: default, config
(the config file) or env. Environment variables named RATEBOOK_<SECTION>_<FIELD>,
for example RATEBOOK_LOCKS_TTL, override the config file.`,
	Args: cobra.NoArgs,
	RunE: runSettingsSources,
}

var settingsUnsetCmd = &cobra.Command{
	Use:     "unset <key>",
	Short:   "Remove a setting from the config file",
	Example: `  ratebook settings unset locks.ttl`,
	Args:    cobra.ExactArgs(1),
	RunE:    runSettingsUnset,
}

func init() {
	addJSONFlag(settingsSourcesCmd)
	settingsCmd.AddCommand(settingsSourcesCmd)
	settingsCmd.AddCommand(settingsUnsetCmd)
	settingsStorageCmd.Flags().StringVar(&settingsDataDir, "data-dir", "", "directory holding the SQLite database")
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsWizardCmd)
	settingsCmd.AddCommand(settingsRolesCmd)
	settingsCmd.AddCommand(settingsStorageCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Storage]")
	cmd.Printf("  Backend: %s\n", settings.Storage.Backend)
	if settings.Storage.Backend == domain.StorageSQLite {
		cmd.Printf("  Data dir: %s\n", orDefault(settings.Storage.DataDir))
	}
	cmd.Println()

	cmd.Println("[Events]")
	cmd.Printf("  Backend: %s\n", settings.Events.Backend)
	if settings.Events.Backend == domain.EventsRedis {
		cmd.Printf("  Redis: %s\n", settings.Events.RedisAddr)
		cmd.Printf("  Channel: %s\n", settings.Events.Channel)
	}
	cmd.Println()

	cmd.Println("[Locks]")
	cmd.Printf("  Backend: %s\n", settings.Locks.Backend)
	if settings.Locks.Backend == domain.LockRedis {
		cmd.Printf("  Redis: %s\n", settings.Locks.RedisAddr)
	}
	cmd.Printf("  TTL: %s\n", settings.Locks.TTL)
	cmd.Println()

	cmd.Println("[Approval]")
	cmd.Printf("  Required roles: %s\n", strings.Join(settings.Approval.RequiredRoles, ", "))
	cmd.Println()

	cmd.Println("[Rating]")
	cmd.Printf("  Parallelism: %d\n", settings.Rating.Parallelism)
	cmd.Println()

	cmd.Println("[HTTP]")
	cmd.Printf("  Address: %s\n", settings.HTTP.Addr)
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'ratebook settings wizard' to fix configuration issues.")
	} else {
		cmd.Println("Configuration is valid.")
	}

	return nil
}

func runSettingsRoles(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	if err := settingsService.SetApprovalRoles(args); err != nil {
		return fmt.Errorf("failed to set approval roles: %w", err)
	}
	cmd.Printf("Approval roles set to: %s\n", strings.Join(args, ", "))
	return nil
}

func runSettingsStorage(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	backend := domain.StorageBackend(args[0])
	if err := settingsService.SetStorageBackend(backend, settingsDataDir); err != nil {
		return fmt.Errorf("failed to set storage backend: %w", err)
	}
	cmd.Printf("Storage backend set to: %s\n", backend)
	if backend == domain.StorageMemory {
		cmd.Println("Note: memory storage is lost when the process exits.")
	}
	return nil
}

func runSettingsSources(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	sources, err := settingsService.Sources()
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, sources)
	}
	rows := make([][]string, 0, len(sources))
	for _, src := range sources {
		rows = append(rows, []string{src.Key, src.Value, string(src.Origin)})
	}
	cmd.Println(grid(cmd, []string{"Key", "Value", "Origin"}, rows))
	return nil
}

func runSettingsUnset(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	if err := settingsService.Unset(args[0]); err != nil {
		return err
	}
	cmd.Printf("Unset %s\n", args[0])
	return nil
}

func runSettingsWizard(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Ratebook Settings Wizard")
	cmd.Println("========================")
	cmd.Println()

	reader := bufio.NewReader(cmd.InOrStdin())

	cmd.Println("Step 1: Storage Backend")
	cmd.Println("-----------------------")
	storage := []domain.StorageBackend{domain.StorageMemory, domain.StorageSQLite}
	settings.Storage.Backend = storage[choose(cmd, reader, backendNames(storage), settings.Storage.Backend)]
	if settings.Storage.Backend == domain.StorageSQLite {
		settings.Storage.DataDir = ask(cmd, reader, "Data directory", settings.Storage.DataDir)
	}
	cmd.Println()

	cmd.Println("Step 2: Events")
	cmd.Println("--------------")
	events := []domain.EventsBackend{domain.EventsNone, domain.EventsMemory, domain.EventsRedis}
	settings.Events.Backend = events[choose(cmd, reader, backendNames(events), settings.Events.Backend)]
	if settings.Events.Backend == domain.EventsRedis {
		settings.Events.RedisAddr = ask(cmd, reader, "Redis address", orValue(settings.Events.RedisAddr, "127.0.0.1:6379"))
		settings.Events.Channel = ask(cmd, reader, "Channel", settings.Events.Channel)
	}
	cmd.Println()

	cmd.Println("Step 3: Locks")
	cmd.Println("-------------")
	locks := []domain.LockBackend{domain.LockMemory, domain.LockRedis}
	settings.Locks.Backend = locks[choose(cmd, reader, backendNames(locks), settings.Locks.Backend)]
	if settings.Locks.Backend == domain.LockRedis {
		settings.Locks.RedisAddr = ask(cmd, reader, "Redis address", orValue(settings.Locks.RedisAddr, settings.Events.RedisAddr))
	}
	cmd.Println()

	cmd.Println("Step 4: Approval Roles")
	cmd.Println("----------------------")
	roles := ask(cmd, reader, "Required roles (comma separated)", strings.Join(settings.Approval.RequiredRoles, ","))
	settings.Approval.RequiredRoles = strings.FieldsFunc(roles, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	cmd.Println()

	if err := settingsService.Save(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	cmd.Println("Configuration Complete!")
	cmd.Println("=======================")
	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
	} else {
		cmd.Println("All settings are valid and saved.")
	}
	return nil
}

// Helper functions.

func backendNames[T ~string](values []T) []string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = string(v)
	}
	return names
}

// choose prints a numbered menu and returns the chosen index. The current
// value is the default.
func choose[T ~string](cmd *cobra.Command, reader *bufio.Reader, options []string, current T) int {
	defaultVal := 1
	for i, option := range options {
		if option == string(current) {
			defaultVal = i + 1
		}
		cmd.Printf("  %d. %s\n", i+1, option)
	}
	cmd.Printf("\nEnter choice [%d]: ", defaultVal)
	return parseChoice(readLine(reader), len(options), defaultVal) - 1
}

func ask(cmd *cobra.Command, reader *bufio.Reader, prompt, defaultVal string) string {
	cmd.Printf("%s [%s]: ", prompt, defaultVal)
	if input := readLine(reader); input != "" {
		return input
	}
	return defaultVal
}

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

func orValue(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDefault(v string) string {
	return orValue(v, "(default)")
}

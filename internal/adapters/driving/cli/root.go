package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driving"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// version is stamped at build time.
var version = "dev"

// Persistent flag values.
var (
	verbose   bool
	logFormat string
	configDir string
	actor     string
)

// Services bundles what the commands call into.
type Services struct {
	Versions   driving.VersionService
	ChangeSets driving.ChangeSetService
	Rating     driving.RatingService
	Settings   driving.SettingsService

	// Metrics is served at /metrics by the serve command. Optional.
	Metrics http.Handler

	// Listen streams events from the configured broker. Optional.
	Listen func(ctx context.Context, handler func(domain.Event)) error

	// Subscribe attaches to in-process events for the serve command's
	// /events stream. Optional.
	Subscribe func(handler func(domain.Event)) func()
}

// Bootstrap builds services once flags are parsed. The returned closer
// runs after the command finishes.
type Bootstrap func(configDir string) (*Services, func() error, error)

var (
	versionService   driving.VersionService
	changeSetService driving.ChangeSetService
	ratingService    driving.RatingService
	settingsService  driving.SettingsService
	metricsHandler   http.Handler
	eventListener    func(ctx context.Context, handler func(domain.Event)) error
	eventSubscriber  func(handler func(domain.Event)) func()

	bootstrap Bootstrap
	closer    func() error
)

var rootCmd = &cobra.Command{
	Use:   "ratebook",
	Short: "Versioned insurance product configuration and rating",
	Long: `Ratebook manages versioned product configuration (products, coverages,
forms, rules, rate programs and rating tables), batches changes into change
sets that move through review and approval, and computes premiums with a
traceable rating engine.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&configDir, "config-dir", "", "configuration directory (default ~/.ratebook)")
	flags.StringVar(&actor, "actor", defaultActor(), "identity recorded on audit entries")
}

func setup(_ *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	switch logFormat {
	case "text", "json":
		logger.SetJSON(logFormat == "json")
	default:
		return domain.NewValidationError("log-format", "must be text or json, got %q", logFormat)
	}

	if bootstrap == nil || versionService != nil {
		return nil
	}
	services, closeFn, err := bootstrap(configDir)
	if err != nil {
		return err
	}
	SetServices(*services)
	closer = closeFn
	return nil
}

// SetServices injects the services used by commands.
func SetServices(s Services) {
	versionService = s.Versions
	changeSetService = s.ChangeSets
	ratingService = s.Rating
	settingsService = s.Settings
	metricsHandler = s.Metrics
	eventListener = s.Listen
	eventSubscriber = s.Subscribe
}

// SetBootstrap registers the function that builds services on first use.
func SetBootstrap(b Bootstrap) {
	bootstrap = b
}

// SetVersion sets the version printed by the version command.
func SetVersion(v string) {
	version = v
}

// Execute runs the root command and releases anything bootstrap opened.
func Execute() error {
	rootCmd.SetOut(os.Stdout)
	err := rootCmd.Execute()
	if closer != nil {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
		closer = nil
	}
	return err
}

// FormatError renders err as "Kind: message" for the terminal.
func FormatError(err error) string {
	msg := fmt.Sprintf("%s: %v", domain.ErrorKind(err), err)
	var blocked *domain.PreflightBlockedError
	if errors.As(err, &blocked) {
		msg += "\n" + preflightText(blocked.Report)
	}
	return msg
}

func defaultActor() string {
	if v := os.Getenv("RATEBOOK_ACTOR"); v != "" {
		return v
	}
	return os.Getenv("USER")
}

// audit stamps a mutating command.
func audit(reason string) domain.AuditContext {
	return domain.AuditContext{
		Actor:  actor,
		Now:    time.Now().UTC(),
		Reason: reason,
	}
}

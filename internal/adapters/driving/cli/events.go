package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ratebook/internal/core/domain"
)

var eventsType string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect lifecycle events",
}

var eventsListenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print events from the configured broker until interrupted",
	Long: `Subscribe to the events channel and print each committed lifecycle event.

Requires the redis events backend; in-process events are only visible inside
the process that produced them (see 'ratebook serve' and GET /events).`,
	Args: cobra.NoArgs,
	RunE: runEventsListen,
}

func init() {
	eventsListenCmd.Flags().StringVar(&eventsType, "type", "", "only print events of this type")
	addJSONFlag(eventsListenCmd)
	eventsCmd.AddCommand(eventsListenCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runEventsListen(cmd *cobra.Command, _ []string) error {
	if eventListener == nil {
		return errors.New("event listening needs the redis events backend")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return listenEvents(ctx, cmd)
}

func listenEvents(ctx context.Context, cmd *cobra.Command) error {
	err := eventListener(ctx, func(event domain.Event) {
		if eventsType != "" && string(event.Type) != eventsType {
			return
		}
		if jsonOutput {
			_ = printJSON(cmd, event)
			return
		}
		cmd.Printf("%s %-30s %s:%s by %s\n",
			event.OccurredAt.UTC().Format(time.RFC3339),
			styled(cmd, titleStyle, string(event.Type)),
			event.SubjectType, event.SubjectID, event.Actor)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/custodia-labs/ratebook/internal/adapters/driving/http"
	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/logger"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr    string
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	Long: `Serve versions, change sets and rating over HTTP until interrupted.

The listen address defaults to the http.addr setting. Mutating requests must
carry the X-Ratebook-Actor header.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from settings)")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "cors-origin", nil, "allow browser requests from this origin (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if versionService == nil || changeSetService == nil || ratingService == nil {
		return errors.New("services not configured")
	}
	addr := serveAddr
	if addr == "" && settingsService != nil {
		if settings, err := settingsService.Get(); err == nil {
			addr = settings.HTTP.Addr
		}
	}
	if addr == "" {
		addr = domain.DefaultAppSettings().HTTP.Addr
	}

	handler := httpapi.NewHandler(httpapi.Deps{
		Versions:       versionService,
		ChangeSets:     changeSetService,
		Rating:         ratingService,
		Metrics:        metricsHandler,
		Subscribe:      eventSubscriber,
		Version:        version,
		AllowedOrigins: serveOrigins,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, listener, handler)
}

// serve runs handler on listener until ctx is done, then drains in-flight
// requests.
func serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	logger.Info("listening on %s", listener.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

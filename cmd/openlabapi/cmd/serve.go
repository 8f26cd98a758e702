package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/auth"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/memlock"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/presence"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/server"
	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/telemetry"
)

var noMlock bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Starts the HTTP server. Unless --no-mlock is given the whole address space is
locked into RAM first so presence data never reaches swap.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defer cfg.API.PanicKey.Wipe()

		if !noMlock {
			if err := memlock.LockAll(); err != nil {
				if !errors.Is(err, memlock.ErrUnsupported) {
					return err
				}
				slog.Warn("memory locking unavailable, secrets may be swapped", "error", err)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg.Observability.ServiceVersion = version()
		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				slog.Error("telemetry shutdown", "error", err)
			}
		}()

		slog.Info("booting up", "addr", cfg.Server.Addr, "issuer", cfg.OIDC.URL)

		resolver, err := auth.NewResolver(ctx, cfg.OIDC)
		if err != nil {
			return err
		}

		presenceMetrics, err := telemetry.NewPresenceMetrics()
		if err != nil {
			return fmt.Errorf("create presence metrics: %w", err)
		}
		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("create server metrics: %w", err)
		}
		authMetrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			return fmt.Errorf("create auth metrics: %w", err)
		}

		state, err := presence.New(resolver, cfg.API.PanicKey, cfg.Store.TTL, presence.WithMetrics(presenceMetrics))
		if err != nil {
			return err
		}
		go state.Run(ctx)

		corsOpts := server.DefaultCORSOptions(cfg.Server.CORSOrigins)
		router, err := server.NewRouter(server.RouterOptions{
			State:         state,
			BasePath:      cfg.Server.BasePath,
			CORSOptions:   &corsOpts,
			Version:       version(),
			ServerMetrics: serverMetrics,
			AuthMetrics:   authMetrics,
		})
		if err != nil {
			return err
		}

		// WriteTimeout leaves room for a full user-info round trip.
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      cfg.OIDC.Timeout + 15*time.Second,
			IdleTimeout:       60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			slog.Info("listening", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case <-ctx.Done():
			slog.Info("received shutdown notification")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			// Nothing survives the process; scrub what we can before exit.
			if err := state.Wipe(shutdownCtx); err != nil {
				slog.Error("wipe on shutdown", "error", err)
			}
			slog.Info("server stopped")
			return nil
		}
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noMlock, "no-mlock", false, "Do not lock process memory into RAM")
	rootCmd.AddCommand(serveCmd)
}

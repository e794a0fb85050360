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
	"golang.org/x/sync/errgroup"

	"github.com/teemow/mailgate/internal/config"
	"github.com/teemow/mailgate/internal/confirm"
	"github.com/teemow/mailgate/internal/confirmserver"
	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
	"github.com/teemow/mailgate/internal/server"
)

func newConfirmServerCmd() *cobra.Command {
	var (
		debug     bool
		logFormat string
		addr      string
		metrics   MetricsConfig
	)

	cmd := &cobra.Command{
		Use:   "confirm-server",
		Short: "Run the browser confirmation service",
		Long: `Run the out-of-band confirmation service on its own. An MCP server started
with SECURE_CONFIRM_MODE=oob and --embed-confirm-server=false registers pending
actions here, and the human approves them on the page linked in the prompt.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.New(os.Stderr, logging.Options{Debug: debug, Format: logFormat})
			return runConfirmServer(logger, addr, metrics)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: SERVER_HOST:SECURE_CONFIRM_PORT)")
	cmd.Flags().BoolVar(&metrics.Enabled, "metrics-enabled", false, "Start the Prometheus metrics server")
	cmd.Flags().StringVar(&metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address")
	return cmd
}

func runConfirmServer(logger *slog.Logger, addr string, metricsConfig MetricsConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Credentials are not needed here, so only the file and environment
	// are loaded.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if addr == "" {
		addr = cfg.ConfirmListenAddr()
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceName = "mailgate-confirm"
	instrConfig.ServiceVersion = version
	instrConfig.ConfirmMode = confirm.ModeOutOfBand.String()
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()

	health := server.NewHealthChecker(nil)
	cs := confirmserver.New(confirmserver.Config{
		BaseURL: cfg.ConfirmBaseURL(),
		Logger:  logger,
		Metrics: provider.Metrics(),
		Health:  health,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           cs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var metricsServer *server.MetricsServer
	if metricsConfig.Enabled && provider.ServesPrometheus() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    metricsConfig.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
			Health:                  health,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("confirmation service listening",
			slog.String("addr", addr),
			slog.String("base_url", cfg.ConfirmBaseURL()))
		return ignoreClosed(srv.ListenAndServe())
	})
	if metricsServer != nil {
		g.Go(func() error {
			return ignoreClosed(metricsServer.Start())
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancelShutdown()

		errs := []error{srv.Shutdown(shutdownCtx)}
		if metricsServer != nil {
			errs = append(errs, metricsServer.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

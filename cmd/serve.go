package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/config"
	"github.com/teemow/mailgate/internal/confirm"
	"github.com/teemow/mailgate/internal/confirmserver"
	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
	"github.com/teemow/mailgate/internal/server"
	"github.com/teemow/mailgate/internal/tools/auth_tools"
	"github.com/teemow/mailgate/internal/tools/calendar_tools"
	"github.com/teemow/mailgate/internal/tools/contact_tools"
	"github.com/teemow/mailgate/internal/tools/mail_tools"
	"github.com/teemow/mailgate/internal/tools/mailbox_tools"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

type serveOptions struct {
	transport    string
	httpAddr     string
	baseURL      string
	readOnly     bool
	debug        bool
	logFormat    string
	confirmMode  string
	embedConfirm bool
	metrics      MetricsConfig
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server to provide Outlook mailbox tools for AI assistants.

Sending mail and every other mutating action is held until a human confirms it,
either by typing back a short code (inline mode) or on a browser page served by
the confirmation service (oob mode).

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: Streamable HTTP transport
  - sse: Server-sent events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport type: stdio, streamable-http or sse")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address (for HTTP transports)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Public base URL of the HTTP transport (env: MCP_BASE_URL)")
	cmd.Flags().BoolVar(&opts.readOnly, "read-only", false, "Register only tools that do not change the mailbox")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	cmd.Flags().StringVar(&opts.confirmMode, "confirm-mode", "", "Confirmation mode: inline or oob (env: SECURE_CONFIRM_MODE)")
	cmd.Flags().BoolVar(&opts.embedConfirm, "embed-confirm-server", true, "In oob mode, run the confirmation service in this process")
	cmd.Flags().BoolVar(&opts.metrics.Enabled, "metrics-enabled", false, "Start the Prometheus metrics server (env: METRICS_ENABLED)")
	cmd.Flags().StringVar(&opts.metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address (env: METRICS_ADDR)")

	return cmd
}

func runServe(opts serveOptions) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !opts.metrics.Enabled && os.Getenv("METRICS_ENABLED") == "true" {
		opts.metrics.Enabled = true
	}
	if opts.metrics.Addr == server.DefaultMetricsAddr {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			opts.metrics.Addr = addr
		}
	}
	if opts.baseURL == "" {
		opts.baseURL = os.Getenv("MCP_BASE_URL")
	}
	if opts.baseURL == "" {
		opts.baseURL = defaultBaseURL(opts.httpAddr)
	}

	logger := logging.New(os.Stderr, logging.Options{Debug: opts.debug, Format: opts.logFormat})

	cfg, err := loadConfig(func(c *config.Config) {
		if opts.confirmMode != "" {
			c.Confirm.Mode = opts.confirmMode
		}
	})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	instrConfig.ConfirmMode = cfg.ConfirmMode().String()
	instrConfig.ScopeProfile = cfg.ScopeProfile
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()

	srvOpts := server.Options{Config: cfg, Logger: logger}
	if provider.Enabled() {
		srvOpts.Metrics = provider.Metrics()
		srvOpts.Audit = instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)
	}

	var confirmSrv *http.Server
	if cfg.ConfirmMode() == confirm.ModeOutOfBand && opts.embedConfirm {
		cs := confirmserver.New(confirmserver.Config{
			BaseURL: cfg.ConfirmBaseURL(),
			Logger:  logger,
			Metrics: srvOpts.Metrics,
		})
		srvOpts.OutOfBand = cs
		confirmSrv = &http.Server{
			Addr:              cfg.ConfirmListenAddr(),
			Handler:           cs.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	serverContext, err := server.NewServerContext(ctx, srvOpts)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("error during server context shutdown", logging.Err(err))
		}
	}()

	// Note: mcp.Implementation has Title field but WithTitle() ServerOption not available in v0.43.0
	mcpSrv := mcpserver.NewMCPServer("mailgate", version,
		mcpserver.WithToolCapabilities(true),
	)

	if opts.readOnly {
		logger.Info("starting server in READ-ONLY mode, mutating tools are not registered")
	} else {
		logger.Info("starting server with gated write operations",
			slog.String("confirm_mode", cfg.ConfirmMode().String()),
			slog.Bool("secure_prompt", cfg.Confirm.SecurePrompt))
	}
	if cfg.TestMode {
		logger.Warn("test mode is active, the remote API is simulated")
	}

	if err := registerAllTools(mcpSrv, serverContext, opts.readOnly); err != nil {
		return err
	}

	health := server.NewHealthChecker(serverContext)

	var metricsServer *server.MetricsServer
	if opts.transport != server.TransportStdio && opts.metrics.Enabled && provider.ServesPrometheus() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    opts.metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
			Health:                  health,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	var httpSrv *server.HTTPServer
	switch opts.transport {
	case server.TransportStdio:
	case server.TransportStreamableHTTP, server.TransportSSE:
		httpSrv, err = server.NewHTTPServer(server.HTTPServerConfig{
			MCPServer: mcpSrv,
			Transport: opts.transport,
			BaseURL:   opts.baseURL,
			Health:    health,
			Metrics:   srvOpts.Metrics,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create HTTP server: %w", err)
		}
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http, sse)", opts.transport)
	}

	g, gctx := errgroup.WithContext(ctx)

	if confirmSrv != nil {
		g.Go(func() error {
			logger.Info("confirmation service listening", slog.String("addr", confirmSrv.Addr))
			return ignoreClosed(confirmSrv.ListenAndServe())
		})
	}
	if metricsServer != nil {
		g.Go(func() error {
			return ignoreClosed(metricsServer.Start())
		})
	}

	g.Go(func() error {
		// The MCP transport ending stops everything else.
		defer cancel()
		if httpSrv != nil {
			return ignoreClosed(httpSrv.Start(opts.httpAddr, nil))
		}
		return runStdioServer(gctx, mcpSrv)
	})

	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancelShutdown()

		var errs []error
		if httpSrv != nil {
			errs = append(errs, httpSrv.Shutdown(shutdownCtx))
		}
		if metricsServer != nil {
			errs = append(errs, metricsServer.Shutdown(shutdownCtx))
		}
		if confirmSrv != nil {
			errs = append(errs, confirmSrv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer) error {
	err := mcpserver.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// defaultBaseURL derives a loopback base URL from the listen address.
func defaultBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://localhost:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type toolGroup struct {
	name     string
	register func(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error
}

// toolGroups lists the MCP tool packages. generate-docs uses the group
// name as the section heading.
var toolGroups = []toolGroup{
	{
		name: "Authentication",
		register: func(s *mcpserver.MCPServer, sc *server.ServerContext, _ bool) error {
			return auth_tools.RegisterAuthTools(s, sc, version)
		},
	},
	{name: "Mail", register: mail_tools.RegisterMailTools},
	{name: "Calendar", register: calendar_tools.RegisterCalendarTools},
	{name: "Contacts", register: contact_tools.RegisterContactTools},
	{name: "Mailbox", register: mailbox_tools.RegisterMailboxTools},
}

// registerAllTools registers all MCP tools.
func registerAllTools(mcpSrv *mcpserver.MCPServer, ctx *server.ServerContext, readOnly bool) error {
	for _, g := range toolGroups {
		if err := g.register(mcpSrv, ctx, readOnly); err != nil {
			return fmt.Errorf("failed to register %s tools: %w", g.name, err)
		}
	}
	return nil
}

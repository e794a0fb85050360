package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/instrumentation"
)

// Transports of the serve command. HTTPServer serves the HTTP ones.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// MCPEndpoint is the streamable HTTP endpoint path.
const MCPEndpoint = "/mcp"

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	MCPServer *mcpserver.MCPServer

	// Transport is TransportSSE or TransportStreamableHTTP.
	Transport string

	// BaseURL is the externally reachable root, e.g. http://localhost:8080.
	// Plain HTTP is only accepted for loopback hosts.
	BaseURL string

	Health  *HealthChecker
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// HTTPServer exposes the MCP server over HTTP for clients that cannot
// spawn a stdio process.
type HTTPServer struct {
	handler    http.Handler
	httpServer *http.Server
	addr       string
	transport  string
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// NewHTTPServer builds the routes for cfg.Transport.
func NewHTTPServer(cfg HTTPServerConfig) (*HTTPServer, error) {
	if cfg.MCPServer == nil {
		return nil, fmt.Errorf("MCP server is required")
	}
	if err := validateBaseURL(cfg.BaseURL); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &HTTPServer{
		transport: cfg.Transport,
		metrics:   cfg.Metrics,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrumentationMiddleware)

	switch cfg.Transport {
	case TransportSSE:
		sse := mcpserver.NewSSEServer(cfg.MCPServer,
			mcpserver.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
			mcpserver.WithSSEEndpoint("/sse"),
			mcpserver.WithMessageEndpoint("/message"),
		)
		r.Handle("/sse", sse)
		r.Handle("/message", sse)
	case TransportStreamableHTTP:
		r.Handle(MCPEndpoint, mcpserver.NewStreamableHTTPServer(cfg.MCPServer,
			mcpserver.WithEndpointPath(MCPEndpoint),
		))
	default:
		return nil, fmt.Errorf("unsupported transport: %s (valid: %s, %s)", cfg.Transport, TransportSSE, TransportStreamableHTTP)
	}

	if cfg.Health != nil {
		cfg.Health.RegisterHealthEndpoints(r)
	}
	s.handler = r
	return s, nil
}

// Handler returns the routed handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start serves on addr until Shutdown. ready, when non-nil, is closed once
// the listener is bound.
func (s *HTTPServer) Start(addr string, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()

	// No write timeout: SSE and streamed responses stay open.
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if ready != nil {
		close(ready)
	}

	s.logger.Info("MCP HTTP server listening", "addr", s.addr, "transport", s.transport)
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound address once Start has been called.
func (s *HTTPServer) Addr() string {
	return s.addr
}

func (s *HTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, status, time.Since(start))
	})
}

// validateBaseURL allows HTTP only for loopback addresses (localhost,
// 127.0.0.1, ::1).
func validateBaseURL(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("plain HTTP is only allowed on loopback (got: %s). Use HTTPS or localhost", baseURL)
		}
		return nil
	default:
		return fmt.Errorf("invalid URL scheme: %q. Must be http (localhost only) or https", u.Scheme)
	}
}

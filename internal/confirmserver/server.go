package confirmserver

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/teemow/mailgate/internal/confirm"
	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
	"github.com/teemow/mailgate/internal/server"
)

const (
	// DefaultRetention bounds how long a pending action is kept. Callers
	// enforce their own, shorter, approval window.
	DefaultRetention = time.Hour

	// DefaultSubmitLimit and DefaultSubmitBurst bound code submissions per action.
	DefaultSubmitLimit = rate.Limit(1.0 / 12)
	DefaultSubmitBurst = 5

	maxCreateBodySize = 64 << 10
	maxFormBodySize   = 4 << 10

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Config configures a Server.
type Config struct {
	// BaseURL is the externally reachable root used in confirmation links,
	// e.g. http://localhost:4000.
	BaseURL string

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// Health, if set, is mounted at /healthz, /readyz and /healthz/detailed.
	Health *server.HealthChecker

	Retention   time.Duration
	SubmitLimit rate.Limit
	SubmitBurst int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Server is the out-of-band confirmation service. It shows pending actions
// to a human in a browser and reports whether they were confirmed.
type Server struct {
	baseURL string
	store   *store
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	health  *server.HealthChecker
	router  chi.Router
}

var _ confirm.OutOfBandService = (*Server)(nil)

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SubmitLimit == 0 {
		cfg.SubmitLimit = DefaultSubmitLimit
	}
	if cfg.SubmitBurst == 0 {
		cfg.SubmitBurst = DefaultSubmitBurst
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		store:   newStore(cfg.Retention, cfg.SubmitLimit, cfg.SubmitBurst, cfg.Now),
		logger:  cfg.Logger.With("component", "confirmserver"),
		metrics: cfg.Metrics,
		health:  cfg.Health,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.instrument)

	r.Post(confirm.CreatePath, s.handleCreate)
	r.Get(confirm.StatusPath+"{id}", s.handleStatus)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/confirm/{id}", s.handlePage)
	r.Post("/confirm/{id}", s.handleSubmit)

	if s.health != nil {
		s.health.RegisterHealthEndpoints(r)
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// CreatePending registers a pending action directly, without HTTP.
func (s *Server) CreatePending(_ context.Context, display confirm.Display) (*confirm.CreateResponse, error) {
	if strings.TrimSpace(display.Title) == "" {
		return nil, fmt.Errorf("display payload requires a title")
	}
	a, err := s.store.create(display)
	if err != nil {
		return nil, err
	}
	s.logger.Info("pending confirmation created", "id", a.id, "pending", s.store.len())
	return &confirm.CreateResponse{
		ExternalID: a.id,
		Code:       a.code,
		ConfirmURL: s.baseURL + "/confirm/" + a.id,
	}, nil
}

// Status reports whether externalID was confirmed. Unknown ids are unconfirmed.
func (s *Server) Status(_ context.Context, externalID string) (bool, error) {
	return s.store.confirmed(externalID), nil
}

// ListenAndServe serves on addr until ctx is done. If ready is non-nil it
// is closed once the listener is bound.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("confirmation service listening", "addr", ln.Addr().String())
	if ready != nil {
		close(ready)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down confirmation service: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req confirm.CreateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxCreateBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		respondError(w, status, fmt.Errorf("invalid request body"))
		return
	}

	resp, err := s.CreatePending(r.Context(), req.DisplayPayload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := s.Status(r.Context(), chi.URLParam(r, "id"))
	respondJSON(w, http.StatusOK, confirm.StatusResponse{Confirmed: confirmed})
}

type pageData struct {
	ID      string
	Code    string
	Display confirm.Display
	Error   string
}

type resultData struct {
	Heading string
	Message string
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	a, ok := s.store.get(chi.URLParam(r, "id"))
	if !ok {
		s.renderResult(w, http.StatusNotFound, "Not found", "No pending action found.")
		return
	}
	if a.confirmed {
		s.renderResult(w, http.StatusOK, "Already confirmed", "This action was already confirmed.")
		return
	}
	s.render(w, http.StatusOK, "confirm.html", pageData{ID: a.id, Code: a.code, Display: a.display})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		s.renderResult(w, http.StatusBadRequest, "Bad request", "The form could not be read.")
		return
	}

	found, allowed, ok := s.store.submit(id, r.PostFormValue("code"))
	switch {
	case !found:
		s.renderResult(w, http.StatusNotFound, "Not found", "No pending action found.")
	case !allowed:
		s.logger.Warn("confirmation submissions rate limited", "id", id)
		s.renderResult(w, http.StatusTooManyRequests, "Too many attempts", "Wait a moment before trying again.")
	case !ok:
		a, _ := s.store.get(id)
		s.render(w, http.StatusBadRequest, "confirm.html", pageData{
			ID: a.id, Code: a.code, Display: a.display,
			Error: "Incorrect code. Please try again.",
		})
	default:
		s.logger.Info("pending confirmation confirmed", "id", id)
		s.renderResult(w, http.StatusOK, "Confirmed", "You can close this page. The agent will continue once it checks back.")
	}
}

func (s *Server) renderResult(w http.ResponseWriter, status int, heading, message string) {
	s.render(w, status, "result.html", resultData{Heading: heading, Message: message})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("failed to render page", "template", name, logging.Err(err))
	}
}

// instrument records request metrics by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, route, status, time.Since(start))
		s.logger.Debug("request",
			"method", r.Method,
			"route", route,
			logging.Status(fmt.Sprint(status)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{Error: err.Error(), Status: status})
}

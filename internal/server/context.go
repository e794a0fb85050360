package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/teemow/mailgate/internal/config"
	"github.com/teemow/mailgate/internal/confirm"
	"github.com/teemow/mailgate/internal/credential"
	"github.com/teemow/mailgate/internal/gate"
	"github.com/teemow/mailgate/internal/graph"
	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
)

// Credential states reported by CredentialState.
const (
	CredentialAbsent        = "absent"
	CredentialAuthenticated = "authenticated"
	CredentialExpired       = "expired"
	CredentialTestLeftover  = "test_leftover"
)

// Options configures NewServerContext.
type Options struct {
	Config config.Config

	// OutOfBand overrides the confirmation service client, e.g. with a
	// service running in the same process. Only used in out-of-band mode.
	OutOfBand confirm.OutOfBandService

	// HTTPClient is used for the token endpoint. Optional.
	HTTPClient *http.Client

	// Transport overrides the remote API transport. Test mode uses the
	// in-process simulator when it is nil.
	Transport http.RoundTripper

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger

	// Now defaults to time.Now.
	Now func() time.Time
}

// ServerContext holds the long lived components shared by all MCP tools.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	config    config.Config
	store     *credential.FileStore
	consent   *credential.ConsentLog
	refresher *credential.Refresher
	registry  *confirm.Registry
	gate      *gate.Gate
	graph     *graph.Client
	simulator *graph.Simulator

	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	now     func() time.Time

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext wires the credential store, refresher, confirmation
// registry, action gate and remote API client from cfg.
func NewServerContext(ctx context.Context, opts Options) (*ServerContext, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var cipher *credential.Cipher
	if cfg.EncryptionKey != "" {
		c, err := credential.NewCipherFromHex(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		cipher = c
	} else if !cfg.TestMode {
		return nil, credential.ErrMissingKey
	}

	store := credential.NewFileStore(cfg.TokenFile, cipher, logging.NewSlogAdapter(logger, "credential"))
	consent := credential.NewConsentLog(cfg.ConsentFile)
	refresher := credential.NewRefresher(credential.Config{
		Store:    store,
		Endpoint: credential.NewEndpoint(cfg.OAuth2Config(), opts.HTTPClient),
		Consent:  consent,
		Scopes:   cfg.Scopes,
		TestMode: cfg.TestMode,
		Logger:   logger,
		Metrics:  opts.Metrics,
		Audit:    opts.Audit,
		Now:      now,
	})

	mode := cfg.ConfirmMode()
	regCfg := confirm.RegistryConfig{
		Mode:    mode,
		Logger:  logger,
		Metrics: opts.Metrics,
		Audit:   opts.Audit,
		Now:     now,
	}
	if mode == confirm.ModeOutOfBand {
		regCfg.OutOfBand = opts.OutOfBand
		if regCfg.OutOfBand == nil {
			regCfg.OutOfBand = confirm.NewOOBClient(cfg.ConfirmBaseURL(), nil)
		}
	}
	registry, err := confirm.NewRegistry(regCfg)
	if err != nil {
		return nil, err
	}

	transport := opts.Transport
	baseURL := cfg.GraphEndpoint
	var sim *graph.Simulator
	if transport == nil && cfg.TestMode {
		sim = graph.NewSimulator()
		transport = sim
		baseURL = graph.SimulatorBaseURL
	}
	client, err := graph.New(graph.Config{
		BaseURL:     baseURL,
		TokenSource: refresher,
		Transport:   transport,
		Logger:      logger,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		registry.Close()
		return nil, err
	}

	sc := &ServerContext{
		config:    cfg,
		store:     store,
		consent:   consent,
		refresher: refresher,
		registry:  registry,
		graph:     client,
		simulator: sim,
		logger:    logger,
		metrics:   opts.Metrics,
		audit:     opts.Audit,
		now:       now,
	}

	g, err := gate.New(gate.Config{
		Approver:      registry,
		Executor:      client,
		Journal:       gate.NewJournal(cfg.SensitiveLog, now),
		SendLimiter:   gate.NewSendLimiter(cfg.SendRateLimit, now),
		GrantedScopes: sc.GrantedScopes,
		Disabled:      !cfg.Confirm.SecurePrompt,
		Logger:        logger,
		Metrics:       opts.Metrics,
		Audit:         opts.Audit,
	})
	if err != nil {
		registry.Close()
		return nil, err
	}
	sc.gate = g

	sc.ctx, sc.cancel = context.WithCancel(ctx)
	return sc, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Config returns the configuration the context was built from.
func (sc *ServerContext) Config() config.Config {
	return sc.config
}

func (sc *ServerContext) Refresher() *credential.Refresher { return sc.refresher }

func (sc *ServerContext) Store() *credential.FileStore { return sc.store }

func (sc *ServerContext) ConsentLog() *credential.ConsentLog { return sc.consent }

func (sc *ServerContext) Registry() *confirm.Registry { return sc.registry }

func (sc *ServerContext) Gate() *gate.Gate { return sc.gate }

func (sc *ServerContext) Graph() *graph.Client { return sc.graph }

// Simulator returns the in-process remote API, or nil outside test mode.
func (sc *ServerContext) Simulator() *graph.Simulator { return sc.simulator }

func (sc *ServerContext) Logger() *slog.Logger { return sc.logger }

func (sc *ServerContext) Metrics() *instrumentation.Metrics { return sc.metrics }

func (sc *ServerContext) Audit() *instrumentation.AuditLogger { return sc.audit }

// GrantedScopes returns the scopes of the current credential. Providers
// may omit the scope from a token response, in which case the requested
// scopes stand in. Without a usable credential the configured scopes are
// returned, so checks run against the profile a login would request.
func (sc *ServerContext) GrantedScopes() []string {
	rec := sc.usableRecord()
	if rec == nil {
		return sc.config.Scopes
	}
	if len(rec.Scopes) > 0 {
		return rec.Scopes
	}
	if len(rec.Consent.RequestedScopes) > 0 {
		return rec.Consent.RequestedScopes
	}
	return sc.config.Scopes
}

// usableRecord returns the current record, treating a leftover test
// credential as absent outside test mode.
func (sc *ServerContext) usableRecord() *credential.Record {
	rec := sc.refresher.Current()
	if rec == nil || (rec.IsTestCredential() && !sc.config.TestMode) {
		return nil
	}
	return rec
}

// CredentialState classifies the stored credential.
func (sc *ServerContext) CredentialState() string {
	rec := sc.refresher.Current()
	switch {
	case rec == nil:
		return CredentialAbsent
	case rec.IsTestCredential() && !sc.config.TestMode:
		return CredentialTestLeftover
	case !sc.now().Before(rec.ExpiresAt):
		return CredentialExpired
	default:
		return CredentialAuthenticated
	}
}

// Probe checks the credential against the remote API.
func (sc *ServerContext) Probe(ctx context.Context) (*graph.User, error) {
	u, err := sc.graph.Me(ctx)
	if err != nil {
		if errors.Is(err, graph.ErrUnauthorized) || errors.Is(err, graph.ErrForbidden) {
			return nil, fmt.Errorf("credential rejected by the remote API: %w", err)
		}
		return nil, err
	}
	return u, nil
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.registry.Close()
	sc.cancel()
	return nil
}

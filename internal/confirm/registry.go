package confirm

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
)

// Approval lifetimes.
const (
	InlineTTL    = 5 * time.Minute
	OutOfBandTTL = 10 * time.Minute
)

// DefaultGCInterval is how often expired approvals are dropped.
const DefaultGCInterval = time.Minute

// entry is one pending approval. At most one exists per fingerprint.
type entry struct {
	mode       Mode
	action     string
	code       string
	externalID string
	expiresAt  time.Time

	// registering is set while the out-of-band service is being called.
	registering bool
	consumed    bool
}

func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Mode is the process-wide confirmation mode.
	Mode Mode

	// OutOfBand is required for ModeOutOfBand.
	OutOfBand OutOfBandService

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger

	// Now defaults to time.Now.
	Now func() time.Time

	// GCInterval defaults to DefaultGCInterval. A negative value disables
	// the background sweep; expiry is still enforced on lookup.
	GCInterval time.Duration
}

// Registry issues and validates single-use approvals keyed by the
// fingerprint of an action's parameters.
type Registry struct {
	mode    Mode
	oob     OutOfBandService
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]*entry
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a Registry and starts its garbage collector.
// Call Close to stop it.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Mode == ModeOutOfBand && cfg.OutOfBand == nil {
		return nil, fmt.Errorf("out-of-band mode requires a confirmation service")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = DefaultGCInterval
	}

	r := &Registry{
		mode:    cfg.Mode,
		oob:     cfg.OutOfBand,
		logger:  cfg.Logger.With("component", "confirm"),
		metrics: cfg.Metrics,
		audit:   cfg.Audit,
		now:     cfg.Now,
		pending: make(map[string]*entry),
		done:    make(chan struct{}),
	}

	if cfg.GCInterval > 0 {
		go r.collect(cfg.GCInterval)
	}
	return r, nil
}

// Mode returns the registry's confirmation mode.
func (r *Registry) Mode() Mode {
	return r.mode
}

// Len returns the number of pending approvals, expired ones included
// until they are collected.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// RequestApproval creates a pending approval for the action, or reports
// that one already exists. In out-of-band mode the display is registered
// with the confirmation service; if that fails no entry is kept.
func (r *Registry) RequestApproval(ctx context.Context, actionType string, params []string, display Display) (*Challenge, error) {
	fp := Fingerprint(actionType, params)
	now := r.now()
	mode := r.mode.String()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := r.pending[fp]; ok {
		if !e.expired(now) {
			r.mu.Unlock()
			r.metrics.RecordApprovalRequest(ctx, actionType, mode, instrumentation.ResultPending)
			r.logger.Debug("approval already pending",
				logging.Action(actionType), logging.Fingerprint(fp))
			return &Challenge{Status: ChallengePending, Mode: e.mode, ExpiresAt: e.expiresAt}, nil
		}
		r.removeLocked(ctx, fp)
	}

	e := &entry{
		mode:      r.mode,
		action:    actionType,
		expiresAt: now.Add(r.mode.TTL()),
	}

	if r.mode == ModeInline {
		code, err := GenerateCode()
		if err != nil {
			r.mu.Unlock()
			r.metrics.RecordApprovalRequest(ctx, actionType, mode, instrumentation.ResultError)
			return nil, err
		}
		e.code = code
		r.pending[fp] = e
		r.mu.Unlock()

		r.issued(ctx, actionType, fp)
		return &Challenge{Status: ChallengeIssued, Mode: ModeInline, Code: code, ExpiresAt: e.expiresAt}, nil
	}

	// Hold the slot while the service is called so concurrent
	// requests for the same action see it as pending.
	e.registering = true
	r.pending[fp] = e
	r.mu.Unlock()

	resp, err := r.oob.CreatePending(ctx, display)

	r.mu.Lock()
	if err != nil {
		if r.pending[fp] == e {
			delete(r.pending, fp)
		}
		r.mu.Unlock()
		r.metrics.RecordApprovalRequest(ctx, actionType, mode, instrumentation.ResultError)
		r.logger.Warn("failed to register out-of-band confirmation",
			logging.Action(actionType), logging.Err(err))
		return nil, fmt.Errorf("failed to register confirmation: %w", err)
	}
	if r.pending[fp] != e {
		// Dropped or expired while the service call was in flight.
		r.mu.Unlock()
		r.metrics.RecordApprovalRequest(ctx, actionType, mode, instrumentation.ResultError)
		r.logger.Warn("out-of-band confirmation dropped during registration",
			logging.Action(actionType), logging.Fingerprint(fp))
		return nil, fmt.Errorf("failed to register confirmation: %w", ErrNotFound)
	}
	e.externalID = resp.ExternalID
	e.registering = false
	r.mu.Unlock()

	r.issued(ctx, actionType, fp)
	return &Challenge{
		Status:     ChallengeIssued,
		Mode:       ModeOutOfBand,
		ExternalID: resp.ExternalID,
		ConfirmURL: resp.ConfirmURL,
		ExpiresAt:  e.expiresAt,
	}, nil
}

// ValidateApproval checks token against the approval pending for the
// action's current parameters. Approved consumes the approval.
func (r *Registry) ValidateApproval(ctx context.Context, actionType string, params []string, token string) Outcome {
	fp := Fingerprint(actionType, params)
	now := r.now()

	r.mu.Lock()
	e, ok := r.pending[fp]
	if !ok || e.registering {
		r.mu.Unlock()
		return r.reject(ctx, actionType, fp)
	}
	if e.expired(now) {
		r.removeLocked(ctx, fp)
		r.mu.Unlock()
		return r.reject(ctx, actionType, fp)
	}

	if e.mode == ModeInline {
		if !CodesEqual(token, e.code) {
			r.mu.Unlock()
			return r.reject(ctx, actionType, fp)
		}
		r.consumeLocked(ctx, fp, e)
		r.mu.Unlock()
		return r.approve(ctx, actionType, fp)
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(e.externalID)) != 1 {
		r.mu.Unlock()
		return r.reject(ctx, actionType, fp)
	}
	externalID := e.externalID
	r.mu.Unlock()

	confirmed, err := r.oob.Status(ctx, externalID)
	if err != nil {
		r.logger.Warn("confirmation status check failed",
			logging.Action(actionType), logging.Fingerprint(fp), logging.Err(err))
		return r.stillPending(ctx, actionType, ReasonRetry)
	}
	if !confirmed {
		return r.stillPending(ctx, actionType, ReasonAwaiting)
	}

	r.mu.Lock()
	if r.pending[fp] != e || e.consumed || e.expired(r.now()) {
		r.mu.Unlock()
		return r.reject(ctx, actionType, fp)
	}
	r.consumeLocked(ctx, fp, e)
	r.mu.Unlock()
	return r.approve(ctx, actionType, fp)
}

// invalidate drops the approval pending for an action.
func (r *Registry) invalidate(ctx context.Context, actionType string, params []string) error {
	fp := Fingerprint(actionType, params)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[fp]; !ok {
		return ErrNotFound
	}
	r.removeLocked(ctx, fp)
	return nil
}

// Close stops the garbage collector and refuses new approvals.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.done)
	})
}

// removeLocked deletes an entry. r.mu must be held.
func (r *Registry) removeLocked(ctx context.Context, fp string) {
	e, ok := r.pending[fp]
	if !ok {
		return
	}
	delete(r.pending, fp)
	if !e.registering {
		r.metrics.AddPendingApprovals(ctx, -1)
	}
}

func (r *Registry) consumeLocked(ctx context.Context, fp string, e *entry) {
	e.consumed = true
	r.removeLocked(ctx, fp)
}

func (r *Registry) issued(ctx context.Context, actionType, fp string) {
	r.metrics.AddPendingApprovals(ctx, 1)
	r.metrics.RecordApprovalRequest(ctx, actionType, r.mode.String(), instrumentation.ResultIssued)
	r.audit.LogEvent(ctx, instrumentation.EventApprovalIssued,
		logging.Action(actionType), logging.Mode(r.mode.String()), logging.Fingerprint(fp))
}

func (r *Registry) approve(ctx context.Context, actionType, fp string) Outcome {
	r.metrics.RecordApprovalValidation(ctx, actionType, r.mode.String(), instrumentation.ResultSuccess)
	r.audit.LogEvent(ctx, instrumentation.EventApprovalConsumed,
		logging.Action(actionType), logging.Mode(r.mode.String()), logging.Fingerprint(fp))
	return approved()
}

func (r *Registry) reject(ctx context.Context, actionType, fp string) Outcome {
	r.metrics.RecordApprovalValidation(ctx, actionType, r.mode.String(), instrumentation.ResultRejected)
	r.audit.LogEvent(ctx, instrumentation.EventApprovalRejected,
		logging.Action(actionType), logging.Mode(r.mode.String()), logging.Fingerprint(fp))
	return rejected()
}

func (r *Registry) stillPending(ctx context.Context, actionType, reason string) Outcome {
	r.metrics.RecordApprovalValidation(ctx, actionType, r.mode.String(), instrumentation.ResultPending)
	return pending(reason)
}

// collect periodically drops expired approvals.
func (r *Registry) collect(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				r.logger.Debug("dropped expired approvals", "count", n)
			}
		case <-r.done:
			return
		}
	}
}

func (r *Registry) sweep() int {
	now := r.now()
	ctx := context.Background()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for fp, e := range r.pending {
		if !e.registering && e.expired(now) {
			r.removeLocked(ctx, fp)
			n++
		}
	}
	return n
}

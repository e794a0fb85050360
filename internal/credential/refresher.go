package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
)

// RefreshSkew is how long before expiry an access token is refreshed.
const RefreshSkew = 5 * time.Minute

const (
	testCredentialLifetime = time.Hour
	refreshFlightKey       = "refresh"
)

// ConsentRecorder receives consent events. Clear is called when the
// credential is explicitly cleared.
type ConsentRecorder interface {
	Append(entry ConsentLogEntry) error
	Clear() error
}

// Config configures a Refresher.
type Config struct {
	Store    Store
	Endpoint TokenEndpoint
	Consent  ConsentRecorder

	// Scopes are recorded as the requested scopes in consent metadata.
	Scopes []string

	// TestMode allows synthetic test credentials to be used.
	TestMode bool

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger

	// Now and Skew default to time.Now and RefreshSkew.
	Now  func() time.Time
	Skew time.Duration
}

// Refresher owns the in-memory credential record and hands out valid
// access tokens. Concurrent refreshes collapse into one token endpoint call.
type Refresher struct {
	store    Store
	endpoint TokenEndpoint
	consent  ConsentRecorder
	scopes   []string
	testMode bool

	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger

	now  func() time.Time
	skew time.Duration

	// mu guards the record and its persisted copy. generation changes
	// whenever the record is replaced or dropped, so a refresh that
	// started from an older record does not overwrite a newer one.
	mu         sync.Mutex
	record     *Record
	loaded     bool
	generation uint64

	flight singleflight.Group
}

var _ oauth2.TokenSource = (*Refresher)(nil)

// NewRefresher creates a Refresher. The store is read lazily on first use.
func NewRefresher(cfg Config) *Refresher {
	r := &Refresher{
		store:    cfg.Store,
		endpoint: cfg.Endpoint,
		consent:  cfg.Consent,
		scopes:   append([]string(nil), cfg.Scopes...),
		testMode: cfg.TestMode,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
		now:      cfg.Now,
		skew:     cfg.Skew,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.skew == 0 {
		r.skew = RefreshSkew
	}
	return r
}

// AccessToken returns a currently valid access token, refreshing first when
// the stored one is about to expire. Without a usable credential the error
// wraps ErrNoCredential.
func (r *Refresher) AccessToken(ctx context.Context) (string, error) {
	rec := r.Current()
	if rec == nil || rec.AccessToken == "" {
		return "", ErrNoCredential
	}
	if rec.IsTestCredential() && !r.testMode {
		return "", fmt.Errorf("%w: stored credential was created in test mode", ErrNoCredential)
	}
	if !rec.NeedsRefresh(r.now(), r.skew) {
		return rec.AccessToken, nil
	}
	if rec.IsTestCredential() {
		return "", fmt.Errorf("%w: test credential expired", ErrNoCredential)
	}

	refreshed, err := r.refresh(ctx, false)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	return refreshed.AccessToken, nil
}

// Token implements oauth2.TokenSource.
func (r *Refresher) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultHTTPTimeout)
	defer cancel()

	if _, err := r.AccessToken(ctx); err != nil {
		return nil, err
	}
	rec := r.Current()
	if rec == nil {
		return nil, ErrNoCredential
	}
	return rec.Token(), nil
}

// Refresh redeems the refresh token now, whether or not the access token
// has expired. Callers arriving while a refresh is in flight share its result.
func (r *Refresher) Refresh(ctx context.Context) (*Record, error) {
	return r.refresh(ctx, true)
}

func (r *Refresher) refresh(ctx context.Context, force bool) (*Record, error) {
	// The shared call must not die with the first caller's context.
	ch := r.flight.DoChan(refreshFlightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultHTTPTimeout)
		defer cancel()
		return r.doRefresh(flightCtx, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Record).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Refresher) doRefresh(ctx context.Context, force bool) (*Record, error) {
	rec, gen := r.snapshot()
	if rec == nil {
		return nil, ErrNoCredential
	}
	if !force && !rec.NeedsRefresh(r.now(), r.skew) {
		// Another flight finished between the caller's check and this one.
		return rec, nil
	}
	if rec.RefreshToken == "" {
		r.metrics.RecordTokenRefresh(ctx, instrumentation.ResultRejected)
		if current, replaced := r.invalidate(gen, ErrNoRefreshToken); replaced {
			return current, nil
		}
		return nil, ErrNoRefreshToken
	}

	resp, err := r.endpoint.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		if IsRetryable(err) {
			r.metrics.RecordTokenRefresh(ctx, instrumentation.ResultTransient)
			r.logger.Warn("Token refresh failed, will retry on next use", logging.Err(err))
		} else {
			r.metrics.RecordTokenRefresh(ctx, instrumentation.ResultRejected)
			if current, replaced := r.invalidate(gen, err); replaced {
				return current, nil
			}
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	issuedAt := r.now()
	rec.apply(resp, issuedAt, r.scopes)

	r.mu.Lock()
	if r.generation != gen {
		current := r.record.Clone()
		r.mu.Unlock()
		r.logger.Info("Credential replaced during refresh, discarding refresh result")
		return supersededResult(current)
	}
	r.record = rec
	saveErr := r.store.Save(rec)
	r.mu.Unlock()

	if saveErr != nil {
		r.logger.Error("Failed to persist refreshed credential", logging.Err(saveErr))
	}
	r.recordConsent(rec.Scopes, SourceRefresh, issuedAt)
	r.metrics.RecordTokenRefresh(ctx, instrumentation.ResultSuccess)
	r.audit.LogEvent(ctx, instrumentation.EventCredentialRefreshed,
		slog.Time("expires_at", rec.ExpiresAt),
		slog.Bool("refresh_token_rotated", resp.RefreshToken != ""))
	return rec.Clone(), nil
}

// Exchange redeems a single-use authorization code and replaces the
// whole credential record. It is never deduplicated.
func (r *Refresher) Exchange(ctx context.Context, code string) (*Record, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultHTTPTimeout)
	defer cancel()

	resp, err := r.endpoint.Exchange(ctx, code)
	if err != nil {
		r.metrics.RecordCodeExchange(ctx, resultFor(err))
		return nil, fmt.Errorf("authorization code exchange failed: %w", err)
	}

	issuedAt := r.now()
	rec := newRecord(resp, issuedAt, SourceAuthorizationCode, r.scopes)
	if err := r.replace(rec, false); err != nil {
		r.metrics.RecordCodeExchange(ctx, instrumentation.ResultError)
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}

	r.recordConsent(rec.Scopes, SourceAuthorizationCode, issuedAt)
	r.metrics.RecordCodeExchange(ctx, instrumentation.ResultSuccess)
	r.audit.LogEvent(ctx, instrumentation.EventCredentialSaved,
		slog.String("source", string(SourceAuthorizationCode)),
		slog.Int("scopes", len(rec.Scopes)))
	return rec.Clone(), nil
}

// StoreTestCredential installs a synthetic one hour credential. It is
// persisted when a key is configured and kept in memory otherwise.
func (r *Refresher) StoreTestCredential(ctx context.Context) (*Record, error) {
	if !r.testMode {
		return nil, errors.New("test credentials are only available in test mode")
	}
	issuedAt := r.now()
	stamp := strconv.FormatInt(issuedAt.Unix(), 10)
	rec := newRecord(&TokenResponse{
		AccessToken:  TestTokenPrefix + stamp,
		RefreshToken: "test_refresh_token_" + stamp,
		ExpiresIn:    int64(testCredentialLifetime / time.Second),
		Scope:        strings.Join(r.scopes, " "),
		TokenType:    "Bearer",
	}, issuedAt, SourceTest, r.scopes)

	if err := r.replace(rec, true); err != nil && !errors.Is(err, ErrMissingKey) {
		return nil, fmt.Errorf("failed to persist test credential: %w", err)
	}

	r.audit.LogEvent(ctx, instrumentation.EventCredentialSaved, slog.String("source", string(SourceTest)))
	return rec.Clone(), nil
}

// Current returns a copy of the in-memory record, loading it from the
// store on first use. It returns nil when there is none.
func (r *Refresher) Current() *Record {
	rec, _ := r.snapshot()
	return rec
}

func (r *Refresher) snapshot() (*Record, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		if rec, err := r.store.Load(); err == nil {
			r.record = rec
		}
		r.loaded = true
	}
	return r.record.Clone(), r.generation
}

// replace persists rec and makes it the current record. A failed save
// leaves the current record in place, except that with memoryOnly a
// missing key keeps rec in memory and still reports ErrMissingKey.
func (r *Refresher) replace(rec *Record, memoryOnly bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.store.Save(rec)
	if err != nil && !(memoryOnly && errors.Is(err, ErrMissingKey)) {
		return err
	}
	r.record = rec
	r.loaded = true
	r.generation++
	return err
}

// Clear drops the credential and the consent history.
func (r *Refresher) Clear(ctx context.Context) error {
	var errs []error
	r.mu.Lock()
	r.record = nil
	r.loaded = true
	r.generation++
	if err := r.store.Clear(); err != nil {
		errs = append(errs, err)
	}
	r.mu.Unlock()
	if r.consent != nil {
		if err := r.consent.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	r.audit.LogEvent(ctx, instrumentation.EventCredentialCleared)
	return errors.Join(errs...)
}

// invalidate forgets the record of generation gen and removes the
// persisted copy so a dead refresh token is not retried on every call.
// When the record was replaced since gen it is left alone, and the
// current record is returned with replaced set.
func (r *Refresher) invalidate(gen uint64, cause error) (current *Record, replaced bool) {
	r.mu.Lock()
	if r.generation != gen {
		current = r.record.Clone()
		r.mu.Unlock()
		return current, current != nil
	}
	r.record = nil
	r.loaded = true
	r.generation++
	err := r.store.Clear()
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("Failed to remove invalidated credential", logging.Err(err))
	}
	r.logger.Warn("Credential invalidated, re-authentication required", logging.Err(cause))
	r.audit.LogEvent(context.Background(), instrumentation.EventCredentialInvalidated, logging.Err(cause))
	return nil, false
}

// supersededResult is what a refresh returns when the record it started
// from was replaced or cleared while it ran.
func supersededResult(current *Record) (*Record, error) {
	if current == nil {
		return nil, ErrNoCredential
	}
	return current, nil
}

func (r *Refresher) recordConsent(scopes []string, source Source, at time.Time) {
	if r.consent == nil {
		return
	}
	entry := ConsentLogEntry{Timestamp: at, Scopes: append([]string(nil), scopes...), Source: source}
	if err := r.consent.Append(entry); err != nil {
		r.logger.Warn("Failed to record consent", logging.Err(err))
	}
}

func resultFor(err error) string {
	if IsRetryable(err) {
		return instrumentation.ResultTransient
	}
	return instrumentation.ResultRejected
}

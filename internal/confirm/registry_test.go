package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/teemow/mailgate/internal/instrumentation"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newInlineRegistry(t *testing.T, c *clock) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryConfig{Mode: ModeInline, Now: c.Now, GCInterval: -1})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

var emailDisplay = Display{Title: "Send email", Lines: []Line{{Label: "To", Value: "a@b.com"}}}

func TestRegistry_InlineScenario(t *testing.T) {
	ctx := context.Background()
	r := newInlineRegistry(t, newClock())
	params := []string{"a@b.com", "hi"}

	ch, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.NoError(t, err)
	assert.Equal(t, ChallengeIssued, ch.Status)
	assert.Len(t, ch.Code, 6)
	assert.Equal(t, ch.Code, ch.Token())

	out := r.ValidateApproval(ctx, "sendEmail", params, ch.Code)
	assert.True(t, out.Approved())

	again := r.ValidateApproval(ctx, "sendEmail", params, ch.Code)
	assert.Equal(t, Rejected, again.Status)
	assert.Equal(t, ReasonInvalid, again.Reason)
	assert.Zero(t, r.Len())
}

func TestRegistry_InlineCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	r := newInlineRegistry(t, newClock())

	ch, err := r.RequestApproval(ctx, "deleteEvent", []string{"evt-1"}, Display{Title: "Delete event"})
	require.NoError(t, err)

	out := r.ValidateApproval(ctx, "deleteEvent", []string{"evt-1"}, strings.ToLower(ch.Code))
	assert.True(t, out.Approved())
}

func TestRegistry_TamperedParameters(t *testing.T) {
	ctx := context.Background()
	r := newInlineRegistry(t, newClock())

	ch, err := r.RequestApproval(ctx, "sendEmail", []string{"a@b.com", "hi"}, emailDisplay)
	require.NoError(t, err)

	tampered := r.ValidateApproval(ctx, "sendEmail", []string{"evil@x.com", "hi"}, ch.Code)
	assert.Equal(t, Rejected, tampered.Status)
	assert.Equal(t, ReasonInvalid, tampered.Reason)

	otherAction := r.ValidateApproval(ctx, "createContact", []string{"a@b.com", "hi"}, ch.Code)
	assert.Equal(t, Rejected, otherAction.Status)

	// The original approval is still intact.
	assert.True(t, r.ValidateApproval(ctx, "sendEmail", []string{"a@b.com", "hi"}, ch.Code).Approved())
}

func TestRegistry_WrongCodeKeepsEntry(t *testing.T) {
	ctx := context.Background()
	r := newInlineRegistry(t, newClock())
	params := []string{"a@b.com", "hi"}

	ch, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.NoError(t, err)

	assert.Equal(t, Rejected, r.ValidateApproval(ctx, "sendEmail", params, "ZZZZZZ").Status)
	assert.Equal(t, Rejected, r.ValidateApproval(ctx, "sendEmail", params, "").Status)
	assert.True(t, r.ValidateApproval(ctx, "sendEmail", params, ch.Code).Approved())
}

func TestRegistry_Expiry(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	r := newInlineRegistry(t, c)
	params := []string{"a@b.com", "hi"}

	ch, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(InlineTTL), ch.ExpiresAt)

	c.Advance(InlineTTL)
	out := r.ValidateApproval(ctx, "sendEmail", params, ch.Code)
	assert.Equal(t, Rejected, out.Status)
	assert.Zero(t, r.Len(), "expired entry is removed on lookup")
}

func TestRegistry_PendingThenReissueAfterExpiry(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	r := newInlineRegistry(t, c)
	params := []string{"evt-1", "sorry"}

	first, err := r.RequestApproval(ctx, "cancelEvent", params, Display{Title: "Cancel event"})
	require.NoError(t, err)

	again, err := r.RequestApproval(ctx, "cancelEvent", params, Display{Title: "Cancel event"})
	require.NoError(t, err)
	assert.Equal(t, ChallengePending, again.Status)
	assert.Empty(t, again.Code, "a pending challenge never repeats the code")
	assert.Equal(t, 1, r.Len())

	c.Advance(InlineTTL + time.Second)
	fresh, err := r.RequestApproval(ctx, "cancelEvent", params, Display{Title: "Cancel event"})
	require.NoError(t, err)
	assert.Equal(t, ChallengeIssued, fresh.Status)
	assert.Equal(t, 1, r.Len())

	assert.Equal(t, Rejected, r.ValidateApproval(ctx, "cancelEvent", params, first.Code).Status,
		"the expired code is not valid for the reissued approval")
}

func TestRegistry_ConcurrentRequestAndConsume(t *testing.T) {
	ctx := context.Background()
	r := newInlineRegistry(t, newClock())
	params := []string{"a@b.com", "hi"}

	const n = 20
	var issued atomic.Int32
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
			if err == nil && ch.Status == ChallengeIssued {
				issued.Add(1)
				codes <- ch.Code
			}
		}()
	}
	wg.Wait()
	close(codes)
	require.Equal(t, int32(1), issued.Load(), "exactly one approval is created")
	code := <-codes

	var approvedCount atomic.Int32
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.ValidateApproval(ctx, "sendEmail", params, code).Approved() {
				approvedCount.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), approvedCount.Load(), "the approval is consumed once")
}

func TestRegistry_Invalidate(t *testing.T) {
	ctx := context.Background()
	r := newInlineRegistry(t, newClock())
	params := []string{"rule-1", "2"}

	ch, err := r.RequestApproval(ctx, "editRuleSequence", params, Display{Title: "Reorder rule"})
	require.NoError(t, err)

	require.NoError(t, r.invalidate(ctx, "editRuleSequence", params))
	assert.ErrorIs(t, r.invalidate(ctx, "editRuleSequence", params), ErrNotFound)
	assert.Equal(t, Rejected, r.ValidateApproval(ctx, "editRuleSequence", params, ch.Code).Status)
}

func TestRegistry_Sweep(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	r := newInlineRegistry(t, c)

	_, err := r.RequestApproval(ctx, "deleteContact", []string{"c-1"}, Display{Title: "Delete contact"})
	require.NoError(t, err)
	c.Advance(2 * time.Minute)
	_, err = r.RequestApproval(ctx, "deleteContact", []string{"c-2"}, Display{Title: "Delete contact"})
	require.NoError(t, err)

	c.Advance(InlineTTL - time.Minute)
	assert.Equal(t, 1, r.sweep())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Closed(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{Mode: ModeInline})
	require.NoError(t, err)
	r.Close()
	r.Close()

	_, err = r.RequestApproval(context.Background(), "deleteEvent", []string{"e"}, Display{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewRegistry_OutOfBandNeedsService(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{Mode: ModeOutOfBand})
	assert.Error(t, err)
}

// fakeService is a minimal confirmation service.
type fakeService struct {
	mu        sync.Mutex
	confirmed map[string]bool
	created   atomic.Int32
	polls     atomic.Int32
	failPolls atomic.Bool
	next      int
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	fs := &fakeService{confirmed: make(map[string]bool)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+CreatePath, func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DisplayPayload.Title == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fs.mu.Lock()
		fs.next++
		id := fmt.Sprintf("ext-%d", fs.next)
		fs.confirmed[id] = false
		fs.mu.Unlock()
		fs.created.Add(1)
		_ = json.NewEncoder(w).Encode(CreateResponse{ExternalID: id, Code: "ABC123", ConfirmURL: "http://example/confirm/" + id})
	})
	mux.HandleFunc("GET "+StatusPath+"{id}", func(w http.ResponseWriter, r *http.Request) {
		fs.polls.Add(1)
		if fs.failPolls.Load() {
			_, _ = w.Write([]byte("not json"))
			return
		}
		fs.mu.Lock()
		ok := fs.confirmed[r.PathValue("id")]
		fs.mu.Unlock()
		_ = json.NewEncoder(w).Encode(StatusResponse{Confirmed: ok})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeService) confirm(id string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.confirmed[id] = true
}

func newOOBRegistry(t *testing.T, baseURL string, c *clock) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryConfig{
		Mode:       ModeOutOfBand,
		OutOfBand:  NewOOBClient(baseURL, nil),
		Now:        c.Now,
		GCInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRegistry_OutOfBand(t *testing.T) {
	ctx := context.Background()
	fs, srv := newFakeService(t)
	c := newClock()
	r := newOOBRegistry(t, srv.URL, c)
	params := []string{"a@b.com", "hi"}

	ch, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.NoError(t, err)
	assert.Equal(t, ChallengeIssued, ch.Status)
	assert.Equal(t, ModeOutOfBand, ch.Mode)
	assert.NotEmpty(t, ch.ConfirmURL)
	assert.Equal(t, ch.ExternalID, ch.Token())
	assert.Equal(t, c.Now().Add(OutOfBandTTL), ch.ExpiresAt)

	again, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.NoError(t, err)
	assert.Equal(t, ChallengePending, again.Status)
	assert.Equal(t, int32(1), fs.created.Load())

	out := r.ValidateApproval(ctx, "sendEmail", params, ch.ExternalID)
	assert.Equal(t, Pending, out.Status)
	assert.Equal(t, ReasonAwaiting, out.Reason)

	fs.confirm(ch.ExternalID)
	assert.True(t, r.ValidateApproval(ctx, "sendEmail", params, ch.ExternalID).Approved())
	assert.Equal(t, Rejected, r.ValidateApproval(ctx, "sendEmail", params, ch.ExternalID).Status)
}

func TestRegistry_OutOfBandRejectsBeforePolling(t *testing.T) {
	ctx := context.Background()
	fs, srv := newFakeService(t)
	c := newClock()
	r := newOOBRegistry(t, srv.URL, c)
	params := []string{"a@b.com", "hi"}

	ch, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.NoError(t, err)
	fs.confirm(ch.ExternalID)

	assert.Equal(t, Rejected, r.ValidateApproval(ctx, "sendEmail", params, "ext-999").Status)
	assert.Equal(t, Rejected, r.ValidateApproval(ctx, "sendEmail", []string{"a@b.com", "bye"}, ch.ExternalID).Status)

	c.Advance(OutOfBandTTL)
	assert.Equal(t, Rejected, r.ValidateApproval(ctx, "sendEmail", params, ch.ExternalID).Status)
	assert.Zero(t, fs.polls.Load(), "no status poll for rejected tokens")
}

func TestRegistry_OutOfBandMalformedStatus(t *testing.T) {
	ctx := context.Background()
	fs, srv := newFakeService(t)
	r := newOOBRegistry(t, srv.URL, newClock())
	params := []string{"a@b.com", "hi"}

	ch, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.NoError(t, err)

	fs.failPolls.Store(true)
	out := r.ValidateApproval(ctx, "sendEmail", params, ch.ExternalID)
	assert.Equal(t, Pending, out.Status)
	assert.Equal(t, ReasonRetry, out.Reason)
	assert.Equal(t, 1, r.Len(), "entry stays pending")

	fs.failPolls.Store(false)
	fs.confirm(ch.ExternalID)
	assert.True(t, r.ValidateApproval(ctx, "sendEmail", params, ch.ExternalID).Approved())
}

func TestRegistry_OutOfBandUnreachable(t *testing.T) {
	ctx := context.Background()
	fs, srv := newFakeService(t)
	url := srv.URL
	srv.Close()

	r := newOOBRegistry(t, url, newClock())
	params := []string{"a@b.com", "hi"}

	_, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Zero(t, r.Len(), "no pending entry is left behind")
	assert.Zero(t, fs.created.Load())
}

// hookedService runs onCreate before answering a registration.
type hookedService struct {
	onCreate func()
	next     atomic.Int32
}

func (h *hookedService) CreatePending(_ context.Context, _ Display) (*CreateResponse, error) {
	if h.onCreate != nil {
		h.onCreate()
	}
	id := fmt.Sprintf("ext-%d", h.next.Add(1))
	return &CreateResponse{ExternalID: id, ConfirmURL: "http://example/confirm/" + id}, nil
}

func (h *hookedService) Status(context.Context, string) (bool, error) {
	return false, nil
}

func pendingGauge(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "pending_approvals" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestRegistry_OutOfBandDroppedDuringRegistration(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := instrumentation.NewMetrics(mp.Meter("test"), false)
	require.NoError(t, err)

	svc := &hookedService{}
	r, err := NewRegistry(RegistryConfig{
		Mode:       ModeOutOfBand,
		OutOfBand:  svc,
		Metrics:    metrics,
		Now:        newClock().Now,
		GCInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	params := []string{"a@b.com", "hi"}

	svc.onCreate = func() {
		assert.NoError(t, r.invalidate(ctx, "sendEmail", params))
	}
	ch, err := r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, ch)
	assert.Zero(t, r.Len())
	assert.Zero(t, pendingGauge(t, reader), "nothing was issued")

	svc.onCreate = nil
	ch, err = r.RequestApproval(ctx, "sendEmail", params, emailDisplay)
	require.NoError(t, err)
	assert.Equal(t, ChallengeIssued, ch.Status)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1), pendingGauge(t, reader))
}

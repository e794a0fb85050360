package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/teemow/mailgate/internal/instrumentation"
	"github.com/teemow/mailgate/internal/logging"
)

// DefaultTimeout bounds every remote API call.
const DefaultTimeout = 15 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 4 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://graph.microsoft.com/v1.0/.
	BaseURL string

	// TokenSource authorizes requests. *credential.Refresher implements it.
	TokenSource oauth2.TokenSource

	// Transport is the underlying round tripper. Defaults to
	// http.DefaultTransport; test mode passes a *Simulator.
	Transport http.RoundTripper

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Client talks JSON to the remote mailbox API on behalf of the signed-in user.
type Client struct {
	base    *url.URL
	http    *http.Client
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.TokenSource == nil {
		return nil, errors.New("graph client requires a token source")
	}
	raw := cfg.BaseURL
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base: base,
		http: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: cfg.TokenSource, Base: transport},
		},
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// User is the signed-in account.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Mail        string `json:"mail,omitempty"`
}

// Me probes the credential by fetching the id of the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	q := url.Values{"$select": {"id"}}
	if err := c.do(ctx, "me", http.MethodGet, "me", q, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// do sends one request. body is JSON encoded when non-nil and the response
// is decoded into out when non-nil. op names the call in spans and metrics.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	ctx, span := instrumentation.StartGraphSpan(ctx, op, method)
	defer span.End()
	start := time.Now()

	err := c.send(ctx, method, path, query, body, out)

	status := logging.StatusSuccess
	if err != nil {
		status = logging.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordGraphOperation(ctx, op, status, time.Since(start))
	c.logger.Debug("remote API call",
		logging.Operation(op),
		slog.String("method", method),
		logging.Status(status),
		slog.Duration(logging.KeyDuration, time.Since(start)),
		logging.Err(err))
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid API path %q: %w", path, err)
	}
	u := c.base.ResolveReference(ref)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `IdType="ImmutableId"`)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// escapePath joins segments, escaping each one.
func escapePath(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}

// spanAttrs is used to tag spans of gated executions.
func spanAttrs(action string) []attribute.KeyValue {
	return instrumentation.NewSpanAttributeBuilder().WithAction(action).Build()
}

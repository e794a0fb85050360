package confirm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultOOBTimeout bounds each call to the confirmation service.
const DefaultOOBTimeout = 10 * time.Second

const maxOOBResponseSize = 64 << 10

// Confirmation service API paths.
const (
	CreatePath = "/api/create-confirmation"
	StatusPath = "/api/confirmation-status/"
)

// CreateRequest is the body of POST /api/create-confirmation.
type CreateRequest struct {
	DisplayPayload Display `json:"displayPayload"`
}

// CreateResponse is returned by POST /api/create-confirmation.
type CreateResponse struct {
	ExternalID string `json:"externalId"`
	Code       string `json:"code"`
	ConfirmURL string `json:"confirmUrl"`
}

// StatusResponse is returned by GET /api/confirmation-status/{id}.
type StatusResponse struct {
	Confirmed bool `json:"confirmed"`
}

// OutOfBandService registers pending actions with a human-facing
// confirmation surface and reports whether they were confirmed.
type OutOfBandService interface {
	CreatePending(ctx context.Context, display Display) (*CreateResponse, error)
	Status(ctx context.Context, externalID string) (bool, error)
}

// OOBClient is the HTTP client for the confirmation service.
type OOBClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ OutOfBandService = (*OOBClient)(nil)

// NewOOBClient creates a client for the service at baseURL.
// A nil httpClient gets DefaultOOBTimeout.
func NewOOBClient(baseURL string, httpClient *http.Client) *OOBClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultOOBTimeout}
	}
	return &OOBClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// CreatePending registers display with the service.
func (c *OOBClient) CreatePending(ctx context.Context, display Display) (*CreateResponse, error) {
	body, err := json.Marshal(CreateRequest{DisplayPayload: display})
	if err != nil {
		return nil, fmt.Errorf("failed to encode confirmation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+CreatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create confirmation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out CreateResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.ExternalID == "" || out.ConfirmURL == "" {
		return nil, fmt.Errorf("%w: incomplete create response", ErrServiceUnavailable)
	}
	return &out, nil
}

// Status reports whether the human has confirmed externalID.
func (c *OOBClient) Status(ctx context.Context, externalID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+StatusPath+url.PathEscape(externalID), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create status request: %w", err)
	}

	var out StatusResponse
	if err := c.do(req, &out); err != nil {
		return false, err
	}
	return out.Confirmed, nil
}

func (c *OOBClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOOBResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed response: %w", ErrServiceUnavailable, err)
	}
	return nil
}

// Package client provides a typed Go client for the gateway HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/madaxer/devopsAgent/pkg/api"
	"github.com/madaxer/devopsAgent/pkg/contracts"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status int
	Code   string
	Detail string
	Meta   map[string]any
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("devops-agent api %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("devops-agent api %d: %s (%s)", e.Status, e.Detail, e.Code)
}

// Client is a typed client for the gateway API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var problem api.ProblemDetail
		if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil && problem.Status != 0 {
			return &APIError{Status: resp.StatusCode, Code: problem.Code, Detail: problem.Detail, Meta: problem.Meta}
		}
		return &APIError{Status: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Health calls GET /v1/health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PolicyStatus calls GET /v1/policy/status.
func (c *Client) PolicyStatus(ctx context.Context) (*api.PolicyStatusResponse, error) {
	var out api.PolicyStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/policy/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit calls POST /v1/actions/execute.
func (c *Client) Submit(ctx context.Context, req contracts.ActionRequest) (*contracts.ActionAccepted, error) {
	if req.Target == nil {
		req.Target = map[string]any{}
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	var out contracts.ActionAccepted
	if err := c.do(ctx, http.MethodPost, "/v1/actions/execute", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls GET /v1/actions/{request_id}.
func (c *Client) Status(ctx context.Context, id uuid.UUID) (*contracts.ActionRecord, error) {
	var out contracts.ActionRecord
	if err := c.do(ctx, http.MethodGet, "/v1/actions/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitTerminal polls Status every interval until the record is terminal
// or ctx is done.
func (c *Client) WaitTerminal(ctx context.Context, id uuid.UUID, interval time.Duration) (*contracts.ActionRecord, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rec, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status.Terminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Audit calls GET /v1/audit.
func (c *Client) Audit(ctx context.Context, limit int) (*api.AuditResponse, error) {
	var out api.AuditResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/audit?limit=%d", limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyAudit calls GET /v1/audit/verify.
func (c *Client) VerifyAudit(ctx context.Context) (*api.VerifyResponse, error) {
	var out api.VerifyResponse
	if err := c.do(ctx, http.MethodGet, "/v1/audit/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Package audience provides a client for the audience-data provider API:
// preview a filter, provision a query, and page through its records.
package audience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-sourcing/internal/resilience"
)

// ErrPreviewUnavailable is returned when the provider does not offer the
// preview endpoint. Callers should proceed without a count.
var ErrPreviewUnavailable = eris.New("audience: preview unavailable")

// Client defines the provider operations used by the puller.
type Client interface {
	// Preview estimates how many records a filter matches. Optional on the
	// provider side; see ErrPreviewUnavailable.
	Preview(ctx context.Context, f Filters) (*PreviewResponse, error)
	// CreateQuery provisions a provider-side audience and returns its id.
	CreateQuery(ctx context.Context, name string, f Filters) (*Query, error)
	// FetchPage returns one page (1-based) of a provisioned query.
	FetchPage(ctx context.Context, queryID string, page, pageSize int) (*Page, error)
}

// Filters is the provider filter shape.
type Filters struct {
	Industries []string `json:"industries,omitempty"`
	Geography  []string `json:"geography,omitempty"`
	DaysBack   int      `json:"days_back,omitempty"`
}

// PreviewResponse is the parsed preview result.
type PreviewResponse struct {
	Count int `json:"count"`
}

// Query is a provisioned provider-side audience.
type Query struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// Option configures the audience client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout bounds every individual provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithCircuitBreaker guards calls with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewClient creates a new provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.audiencelab.io",
		timeout: 30 * time.Second,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 1),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Preview(ctx context.Context, f Filters) (*PreviewResponse, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/v1/audiences/preview", f)
	if err != nil {
		return nil, eris.Wrap(err, "audience: preview")
	}
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return nil, ErrPreviewUnavailable
	}
	if err := statusError("preview", status, body); err != nil {
		return nil, err
	}

	var resp PreviewResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "audience: unmarshal preview response")
	}
	return &resp, nil
}

func (c *httpClient) CreateQuery(ctx context.Context, name string, f Filters) (*Query, error) {
	payload := struct {
		Name    string  `json:"name"`
		Filters Filters `json:"filters"`
	}{Name: name, Filters: f}

	body, status, err := c.do(ctx, http.MethodPost, "/v1/audiences", payload)
	if err != nil {
		return nil, eris.Wrap(err, "audience: create query")
	}
	if err := statusError("create query", status, body); err != nil {
		return nil, err
	}

	var q Query
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, eris.Wrap(err, "audience: unmarshal create query response")
	}
	if q.ID == "" {
		return nil, eris.New("audience: create query returned no id")
	}
	return &q, nil
}

func (c *httpClient) FetchPage(ctx context.Context, queryID string, page, pageSize int) (*Page, error) {
	path := fmt.Sprintf("/v1/audiences/%s/records?page=%d&page_size=%d", url.PathEscape(queryID), page, pageSize)

	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "audience: fetch page %d", page)
	}
	if err := statusError("fetch page", status, body); err != nil {
		return nil, err
	}

	p, err := ParsePage(body)
	if err != nil {
		return nil, eris.Wrapf(err, "audience: fetch page %d", page)
	}
	return p, nil
}

// do performs one rate-limited, time-bounded call through the circuit
// breaker. Transient HTTP statuses come back as resilience.TransientError so
// the breaker and the caller's retry policy can see them.
func (c *httpClient) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	type result struct {
		body   []byte
		status int
	}

	call := func(ctx context.Context) (result, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return result{}, eris.Wrap(err, "rate limit wait")
			}
		}

		var reader io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return result{}, eris.Wrap(err, "marshal request")
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return result{}, eris.Wrap(err, "create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				return result{}, resilience.NewTransientError(eris.Wrap(err, "request timed out"), 0)
			}
			return result{}, err
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return result{}, resilience.NewTransientError(eris.Wrap(err, "read response body"), resp.StatusCode)
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return result{}, resilience.NewTransientError(
				eris.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)), resp.StatusCode)
		}
		return result{body: body, status: resp.StatusCode}, nil
	}

	var res result
	var err error
	if c.breaker != nil {
		res, err = resilience.ExecuteVal(ctx, c.breaker, call)
	} else {
		res, err = call(ctx)
	}
	return res.body, res.status, err
}

func statusError(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return eris.Errorf("audience: %s: unexpected status %d: %s", op, status, truncate(body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

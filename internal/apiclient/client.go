// Package apiclient is an HTTP client for the txpulse query API. The MCP
// server and the status CLI both use it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/txpulse/internal/aggregator"
	"github.com/mbd888/txpulse/internal/retry"
	"github.com/mbd888/txpulse/internal/transactions"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
)

// ErrUnreachable wraps transport failures: the dashboard did not answer.
var ErrUnreachable = errors.New("apiclient: dashboard unreachable")

// Config holds the configuration for connecting to a dashboard.
type Config struct {
	BaseURL string // e.g. "http://localhost:8080"
	Timeout time.Duration
	// Retry applies to idempotent reads only. Zero attempts means one try.
	Retry      retry.Policy
	HTTPClient *http.Client
}

// Client is a pure HTTP client for the dashboard API.
type Client struct {
	base       string
	policy     retry.Policy
	httpClient *http.Client
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		policy:     cfg.Retry,
		httpClient: cfg.HTTPClient,
	}
}

// BaseURL returns the dashboard root the client talks to.
func (c *Client) BaseURL() string { return c.base }

// APIError is a non-2xx answer from the dashboard.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the dashboard.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Query mirrors the GET /api/transactions parameters. Empty fields are omitted.
type Query struct {
	Type      string
	MinAmount string
	MaxAmount string
	Merchant  string
	Category  string
	Status    string
	RiskLevel string
	Search    string
	Limit     int
	Cursor    string
}

func (q Query) values() url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val = strings.TrimSpace(val); val != "" {
			v.Set(key, val)
		}
	}
	set("type", q.Type)
	set("min_amount", q.MinAmount)
	set("max_amount", q.MaxAmount)
	set("merchant", q.Merchant)
	set("category", q.Category)
	set("status", q.Status)
	set("risk_level", q.RiskLevel)
	set("search", q.Search)
	set("cursor", q.Cursor)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// TransactionsPage is the body of GET /api/transactions.
type TransactionsPage struct {
	Transactions []transactions.Transaction `json:"transactions"`
	Total        int                        `json:"total"`
	Timestamp    time.Time                  `json:"timestamp"`
	NextCursor   string                     `json:"next_cursor,omitempty"`
	HasMore      bool                       `json:"has_more,omitempty"`
	Warning      string                     `json:"warning,omitempty"`
}

// MetricsReport is the body of GET /api/metrics.
type MetricsReport struct {
	aggregator.Metrics
	Timestamp time.Time `json:"timestamp"`
}

// envelope carries the fields every response shares.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Transactions lists transactions matching q.
func (c *Client) Transactions(ctx context.Context, q Query) (*TransactionsPage, error) {
	var page TransactionsPage
	if err := c.get(ctx, "/api/transactions", q.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Metrics returns aggregate metrics over the retained window.
func (c *Client) Metrics(ctx context.Context) (*MetricsReport, error) {
	var m MetricsReport
	if err := c.get(ctx, "/api/metrics", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Search runs a free-text search.
func (c *Client) Search(ctx context.Context, term string) ([]transactions.Transaction, error) {
	var resp struct {
		Results []transactions.Transaction `json:"results"`
	}
	if err := c.get(ctx, "/api/search", url.Values{"q": {term}}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Transaction fetches a single transaction by ID.
func (c *Client) Transaction(ctx context.Context, id string) (transactions.Transaction, error) {
	var resp struct {
		Transaction transactions.Transaction `json:"transaction"`
	}
	err := c.get(ctx, "/api/transactions/"+url.PathEscape(id), nil, &resp)
	return resp.Transaction, err
}

// MarkFraud confirms a transaction as fraudulent. It is idempotent server side.
func (c *Client) MarkFraud(ctx context.Context, id string) (transactions.Transaction, error) {
	var resp struct {
		Transaction transactions.Transaction `json:"transaction"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/api/transactions/"+url.PathEscape(id)+"/fraud", nil, nil, &resp)
	return resp.Transaction, err
}

// Ingest submits a transaction and returns it as scored and stored.
func (c *Client) Ingest(ctx context.Context, tx transactions.Transaction) (transactions.Transaction, error) {
	var resp struct {
		Transaction transactions.Transaction `json:"transaction"`
	}
	err := c.doRequest(ctx, http.MethodPost, "/api/transactions", nil, tx, &resp)
	return resp.Transaction, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		err := c.doRequest(ctx, http.MethodGet, path, query, nil, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return retry.Permanent(err)
		}
		return err
	})
}

// doRequest makes an HTTP request to the dashboard and decodes a 2xx body into out.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.base + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env envelope
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

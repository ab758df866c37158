// Package webhooks delivers transaction alerts to an operator endpoint.
//
// When a webhook URL is configured, every ingested HIGH risk transaction and
// every fraud confirmation is POSTed as a signed JSON event. Delivery is
// asynchronous, retried with backoff and guarded by a circuit breaker.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/txpulse/internal/circuitbreaker"
	"github.com/mbd888/txpulse/internal/metrics"
	"github.com/mbd888/txpulse/internal/retry"
	"github.com/mbd888/txpulse/internal/security"
	"github.com/mbd888/txpulse/internal/transactions"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventHighRisk       EventType = "transaction.high_risk"
	EventFraudConfirmed EventType = "transaction.fraud_confirmed"
	EventTest           EventType = "webhook.test"
)

// Header names on every delivery.
const (
	HeaderEvent     = "X-Txpulse-Event"
	HeaderDelivery  = "X-Txpulse-Delivery"
	HeaderTimestamp = "X-Txpulse-Timestamp"
	HeaderSignature = "X-Txpulse-Signature"
)

// Delivery results recorded in metrics.
const (
	resultSuccess     = "success"
	resultFailure     = "failure"
	resultCircuitOpen = "circuit_open"
	resultDropped     = "dropped"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultQueueSize = 256
)

// ErrCircuitOpen is returned when the endpoint has failed too often recently.
var ErrCircuitOpen = errors.New("webhooks: circuit open")

// Event represents a webhook event
type Event struct {
	ID        string                   `json:"id"`
	Type      EventType                `json:"type"`
	Timestamp time.Time                `json:"timestamp"`
	Data      transactions.Transaction `json:"data"`
}

// Config configures a Notifier.
type Config struct {
	URL    string
	Secret string // HMAC key; deliveries are unsigned when empty

	Timeout   time.Duration
	QueueSize int
	Retry     retry.Policy
	// Breaker defaults to 5 consecutive failures, one minute open.
	Breaker  *circuitbreaker.Breaker
	Endpoint security.EndpointPolicy
	Client   *http.Client
}

// Notifier sends alert events to a single endpoint.
type Notifier struct {
	url     string
	secret  string
	client  *http.Client
	policy  retry.Policy
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger

	queue chan Event
	wg    sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	mu          sync.Mutex
	lastSuccess time.Time
	lastError   string
}

// NewNotifier validates the endpoint and builds a Notifier. Call Run to
// start delivering.
func NewNotifier(cfg Config, logger *slog.Logger) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhooks: url is required")
	}
	if err := cfg.Endpoint.Check(cfg.URL); err != nil {
		return nil, fmt.Errorf("webhooks: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New(5, time.Minute)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Notifier{
		url:     cfg.URL,
		secret:  cfg.Secret,
		client:  cfg.Client,
		policy:  cfg.Retry,
		breaker: cfg.Breaker,
		logger:  logger,
		queue:   make(chan Event, cfg.QueueSize),
	}, nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches payload under secret.
func Verify(payload []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}

// Deliver sends ev now, retrying per policy. It honors the circuit breaker.
func (n *Notifier) Deliver(ctx context.Context, ev Event) error {
	if !n.breaker.Allow(n.url) {
		metrics.WebhookDeliveriesTotal.WithLabelValues(resultCircuitOpen).Inc()
		n.recordError(ErrCircuitOpen.Error())
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhooks: marshal event: %w", err)
	}

	err = retry.Do(ctx, n.policy, func(ctx context.Context) error {
		return n.send(ctx, ev, payload)
	})
	if err != nil {
		n.breaker.RecordFailure(n.url)
		n.failed.Add(1)
		n.recordError(err.Error())
		metrics.WebhookDeliveriesTotal.WithLabelValues(resultFailure).Inc()
		return err
	}

	n.breaker.RecordSuccess(n.url)
	n.delivered.Add(1)
	n.mu.Lock()
	n.lastSuccess = time.Now().UTC()
	n.lastError = ""
	n.mu.Unlock()
	metrics.WebhookDeliveriesTotal.WithLabelValues(resultSuccess).Inc()
	return nil
}

func (n *Notifier) send(ctx context.Context, ev Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("webhooks: build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(ev.Type))
	req.Header.Set(HeaderDelivery, ev.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ev.Timestamp.Unix(), 10))
	if n.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhooks: request failed: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhooks: endpoint returned %d", resp.StatusCode)
	default:
		// Other 4xx won't succeed on retry.
		return retry.Permanent(fmt.Errorf("webhooks: endpoint rejected event with %d", resp.StatusCode))
	}
}

func (n *Notifier) recordError(msg string) {
	n.mu.Lock()
	n.lastError = msg
	n.mu.Unlock()
}

// Stats describes delivery state.
type Stats struct {
	URL          string     `json:"url"`
	Signed       bool       `json:"signed"`
	Circuit      string     `json:"circuit"`
	Queued       int        `json:"queued"`
	Delivered    int64      `json:"delivered"`
	Failed       int64      `json:"failed"`
	Dropped      int64      `json:"dropped"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	ConsecFailed int        `json:"consecutive_failures"`
}

// Stats returns a point-in-time view.
func (n *Notifier) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := Stats{
		URL:          n.url,
		Signed:       n.secret != "",
		Circuit:      n.breaker.State(n.url).String(),
		Queued:       len(n.queue),
		Delivered:    n.delivered.Load(),
		Failed:       n.failed.Load(),
		Dropped:      n.dropped.Load(),
		LastError:    n.lastError,
		ConsecFailed: n.breaker.Failures(n.url),
	}
	if !n.lastSuccess.IsZero() {
		t := n.lastSuccess
		st.LastSuccess = &t
	}
	return st
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/txpulse/internal/config"
	"github.com/mbd888/txpulse/internal/health"
	"github.com/mbd888/txpulse/internal/ingest"
	"github.com/mbd888/txpulse/internal/logging"
	"github.com/mbd888/txpulse/internal/transactions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "test",
		LogLevel:          "error",
		LogFormat:         "text",
		RetentionCapacity: 100,
		RefreshInterval:   time.Hour,
		MaxSubscribers:    10,
		RateLimitRPM:      0,
	}
}

// newTestServer creates a server with no background sources
func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	return newTestServerWith(t, testConfig(), opts...)
}

func newTestServerWith(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard()), WithShutdownGrace(0)}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.rateLimiter.Stop() })
	return s
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	s.Router().ServeHTTP(w, req)
	return w
}

func sampleTx(id string) transactions.Transaction {
	return transactions.Transaction{
		ID:       id,
		Type:     transactions.TypeCreditCard,
		Merchant: "Amazon Web Services",
		Category: "technology",
		Amount:   decimal.RequireFromString("120.00"),
		Status:   transactions.StatusCompleted,
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.RetentionCapacity = 0
	_, err = New(cfg, WithLogger(logging.Discard()))
	assert.Error(t, err)
}

func TestNew_RejectsUnsafeWebhookInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	cfg.WebhookURL = "http://127.0.0.1:9/hook"
	_, err := New(cfg, WithLogger(logging.Discard()))
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, WithVersion("1.2.3"))

	w := serve(s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp health.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, health.StateHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)

	names := make([]string, 0, len(resp.Checks))
	for _, c := range resp.Checks {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"store", "realtime"}, names)
}

func TestProbes(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, serve(s, "GET", "/health/live", "").Code)
	// Run() has not been called, so not ready.
	assert.Equal(t, http.StatusServiceUnavailable, serve(s, "GET", "/health/ready", "").Code)
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routeSet := make(map[string]bool)
	for _, route := range s.Router().Routes() {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range []string{
		"GET:/",
		"GET:/ws",
		"GET:/health",
		"GET:/metrics",
		"GET:/api/transactions",
		"POST:/api/transactions",
		"GET:/api/transactions/:id",
		"POST:/api/transactions/:id/fraud",
		"GET:/api/metrics",
		"GET:/api/search",
		"POST:/api/refresh",
		"GET:/debug/hub",
		"GET:/debug/ingest",
	} {
		assert.True(t, routeSet[e], "route %s not registered", e)
	}
	assert.False(t, routeSet["GET:/api/webhooks"], "webhook routes need a webhook URL")
}

func TestWebhookRoutesWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.WebhookURL = "http://127.0.0.1:9/hook"
	s := newTestServerWith(t, cfg)

	w := serve(s, "GET", "/api/webhooks", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"circuit":"closed"`)

	w = serve(s, "GET", "/health", "")
	assert.Contains(t, w.Body.String(), `"name":"webhook"`)
}

// ---------------------------------------------------------------------------
// Dashboard page and API
// ---------------------------------------------------------------------------

func TestDashboardPage(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, "GET", "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "connect-src 'self' ws: wss:")
	assert.Contains(t, w.Body.String(), "/api/transactions")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAPIThroughMiddleware(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, "POST", "/api/transactions", `{
		"transaction_id": "TXN_1",
		"transaction_type": "credit_card",
		"merchant": "Best Buy",
		"category": "electronics",
		"amount": "7500.00",
		"status": "pending"
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = serve(s, "GET", "/api/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_transactions":1`)
	assert.Contains(t, w.Body.String(), `"high_risk_count":1`)

	w = serve(s, "GET", "/api/transactions?risk_level=HIGH", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"transaction_id":"TXN_1"`)
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := serve(s, "GET", "/api/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}

func TestDebugEndpoints(t *testing.T) {
	ch := make(chan transactions.Transaction)
	s := newTestServer(t, WithSource(ingest.NewChannelSource("feed", ch)))

	w := serve(s, "GET", "/debug/ingest", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"source":"feed"`)

	w = serve(s, "GET", "/debug/hub", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"max_subscribers":10`)
}

func TestRateLimitApplies(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPM = 1
	s := newTestServerWith(t, cfg)

	codes := make([]int, 0, 40)
	for i := 0; i < 40; i++ {
		codes = append(codes, serve(s, "GET", "/api/metrics", "").Code)
	}
	assert.Contains(t, codes, http.StatusTooManyRequests)
	// Probes are exempt.
	assert.Equal(t, http.StatusOK, serve(s, "GET", "/health/live", "").Code)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestRun_IngestsFromSourceAndShutsDown(t *testing.T) {
	ch := make(chan transactions.Transaction, 2)
	ch <- sampleTx("TXN_A")
	ch <- sampleTx("TXN_B")

	s := newTestServer(t, WithSource(ingest.NewChannelSource("feed", ch)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.Addr() != nil && s.Health().Ready()
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return s.Service().Metrics().TotalTransactions == 2
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.Health().Ready())
	assert.NoError(t, s.Shutdown(), "second shutdown is a no-op")
}

func TestRun_ListenFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Port = "not-a-port"
	s := newTestServerWith(t, cfg)

	err := s.Run(context.Background())
	assert.Error(t, err)
}

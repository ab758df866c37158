package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/txpulse/internal/apiclient"
	"github.com/mbd888/txpulse/internal/dashboard"
	"github.com/mbd888/txpulse/internal/logging"
	"github.com/mbd888/txpulse/internal/risk"
	"github.com/mbd888/txpulse/internal/transactions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Test helpers ---

// newDashboardServer runs the real query API over three transactions.
func newDashboardServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := transactions.NewStore(risk.NewScorer(), transactions.Options{Capacity: 50})
	svc := dashboard.NewService(store, nil, logging.Discard())
	for _, tx := range []transactions.Transaction{
		{ID: "TXN_A", Type: transactions.TypeCreditCard, Merchant: "Amazon Web Services", Category: "technology",
			Amount: decimal.RequireFromString("2500.00"), Status: transactions.StatusCompleted},
		{ID: "TXN_B", Type: transactions.TypePayPal, Merchant: "Tesla Motors", Category: "automotive",
			Amount: decimal.RequireFromString("45000.00"), Status: transactions.StatusApproved},
		{ID: "TXN_C", Type: transactions.TypeCreditCard, Merchant: "Best Buy", Category: "electronics",
			Amount: decimal.RequireFromString("7500.00"), Status: transactions.StatusPending},
	} {
		_, err := svc.Ingest(context.Background(), tx)
		require.NoError(t, err)
	}

	r := gin.New()
	dashboard.NewHandler(svc).RegisterRoutes(r.Group("/api"))
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	ts := newDashboardServer(t)
	return NewHandlers(apiclient.New(apiclient.Config{BaseURL: ts.URL}))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Tool handlers
// ============================================================

func TestHandleGetTransactions_All(t *testing.T) {
	h := newTestHandlers(t)

	result, err := h.HandleGetTransactions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Showing 3 of 3")
	assert.Contains(t, text, "1. TXN_A")
	assert.Contains(t, text, "$45000.00")
	assert.Contains(t, text, "risk HIGH (0.90)")
}

func TestHandleGetTransactions_Filters(t *testing.T) {
	h := newTestHandlers(t)

	result, err := h.HandleGetTransactions(context.Background(), makeRequest(map[string]any{
		"type":       "credit_card",
		"min_amount": "3000",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Showing 1 of 1")
	assert.Contains(t, text, "TXN_C")
	assert.NotContains(t, text, "TXN_A")
}

func TestHandleGetTransactions_LimitAndMore(t *testing.T) {
	h := newTestHandlers(t)

	result, err := h.HandleGetTransactions(context.Background(), makeRequest(map[string]any{"limit": float64(2)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Showing 2 of 3")
	assert.Contains(t, text, "More results exist")
}

func TestHandleGetTransactions_InvalidFilterWarns(t *testing.T) {
	h := newTestHandlers(t)

	result, err := h.HandleGetTransactions(context.Background(), makeRequest(map[string]any{"max_amount": "lots"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "Warning:")
	assert.Contains(t, text, "No transactions found.")
}

func TestHandleGetMetrics(t *testing.T) {
	h := newTestHandlers(t)

	result, err := h.HandleGetMetrics(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Transactions:   3")
	assert.Contains(t, text, "Total Amount:   $55000.00")
	assert.Contains(t, text, "High Risk:      1")
	assert.Contains(t, text, "MEDIUM  1")
	assert.Contains(t, text, "By status:")
	assert.Contains(t, text, "paypal")
}

func TestHandleSearchTransactions(t *testing.T) {
	h := newTestHandlers(t)

	result, err := h.HandleSearchTransactions(context.Background(), makeRequest(map[string]any{"query": "tesla"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 1 transaction(s)")
	assert.Contains(t, text, "TXN_B")

	result, err = h.HandleSearchTransactions(context.Background(), makeRequest(map[string]any{"query": "nothing-here"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No transactions match")
}

func TestHandleSearchTransactions_MissingQuery(t *testing.T) {
	h := newTestHandlers(t)

	result, err := h.HandleSearchTransactions(context.Background(), makeRequest(map[string]any{"query": "  "}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "query is required")
}

func TestHandleGetTransaction(t *testing.T) {
	h := newTestHandlers(t)

	result, err := h.HandleGetTransaction(context.Background(), makeRequest(map[string]any{"transaction_id": "TXN_B"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Transaction TXN_B:")
	assert.Contains(t, text, "Risk:      MEDIUM (0.40)")
	assert.Contains(t, text, "Fraud:     false")

	result, err = h.HandleGetTransaction(context.Background(), makeRequest(map[string]any{"transaction_id": "TXN_Z"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHandleMarkFraud(t *testing.T) {
	h := newTestHandlers(t)
	ctx := context.Background()

	result, err := h.HandleMarkFraud(ctx, makeRequest(map[string]any{"transaction_id": "TXN_C"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "confirmed as fraud")
	assert.Contains(t, resultText(t, result), "Fraud:     true")

	// Idempotent.
	result, err = h.HandleMarkFraud(ctx, makeRequest(map[string]any{"transaction_id": "TXN_C"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	result, err = h.HandleGetMetrics(ctx, makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Confirmed Fraud: 1")
}

func TestHandleMarkFraud_Errors(t *testing.T) {
	h := newTestHandlers(t)

	result, err := h.HandleMarkFraud(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "transaction_id is required")

	result, err = h.HandleMarkFraud(context.Background(), makeRequest(map[string]any{"transaction_id": "TXN_GONE"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "evicted")
}

func TestHandlers_DashboardDown(t *testing.T) {
	h := NewHandlers(apiclient.New(apiclient.Config{BaseURL: "http://127.0.0.1:1"}))

	result, err := h.HandleGetMetrics(context.Background(), makeRequest(nil))
	require.NoError(t, err, "transport failures are tool errors, not protocol errors")
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unreachable")
}

func TestHandlers_ServerErrorPassesMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"internal error"}`))
	}))
	defer ts.Close()
	h := NewHandlers(apiclient.New(apiclient.Config{BaseURL: ts.URL}))

	result, err := h.HandleGetTransactions(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "API error (500): internal error")
}

// ============================================================
// Server wiring
// ============================================================

func rpc(t *testing.T, s interface {
	HandleMessage(context.Context, json.RawMessage) mcp.JSONRPCMessage
}, body string) string {
	t.Helper()
	resp := s.HandleMessage(context.Background(), json.RawMessage(body))
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	return string(out)
}

func TestNewMCPServer_ListsTools(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://127.0.0.1:1"})

	out := rpc(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	for _, name := range []string{"get_transactions", "get_metrics", "search_transactions", "get_transaction", "mark_fraud"} {
		assert.Contains(t, out, `"name":"`+name+`"`)
	}
}

func TestNewMCPServer_CallsTool(t *testing.T) {
	ts := newDashboardServer(t)
	s := NewMCPServer(Config{APIURL: ts.URL, Version: "1.0.0"})

	out := rpc(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_transactions","arguments":{"query":"best"}}}`)
	assert.Contains(t, out, "TXN_C")
	assert.NotContains(t, out, `"isError":true`)
}

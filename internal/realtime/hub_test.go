package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/txpulse/internal/aggregator"
	"github.com/mbd888/txpulse/internal/transactions"
)

func testHub(opts ...Option) *Hub {
	return NewHub(slog.Default(), opts...)
}

func testSnapshot() []transactions.Transaction {
	return []transactions.Transaction{
		{ID: "TXN-1", Merchant: "Tesla Motors", Amount: decimal.RequireFromString("75000"), Status: transactions.StatusPending, RiskLevel: transactions.RiskMedium, RiskScore: 0.7, Sequence: 1},
		{ID: "TXN-2", Merchant: "Corner Grocer", Amount: decimal.RequireFromString("12.50"), Status: transactions.StatusApproved, RiskLevel: transactions.RiskLow, Sequence: 2},
	}
}

func decode(t *testing.T, msg []byte) Update {
	t.Helper()
	var u Update
	require.NoError(t, json.Unmarshal(msg, &u))
	return u
}

func TestSubscribe_NoDataUntilPublish(t *testing.T) {
	h := testHub()
	sub, err := h.Subscribe()
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, 1, h.Len())

	select {
	case <-sub.Updates():
		t.Fatal("new subscriber must not receive data before a publish")
	default:
	}
	assert.Equal(t, int64(0), sub.Delivered())
}

func TestPublish_DeliversFullState(t *testing.T) {
	h := testHub()
	a, _ := h.Subscribe()
	b, _ := h.Subscribe()

	snap := testSnapshot()
	n := h.Publish(context.Background(), snap, aggregator.Compute(snap))
	assert.Equal(t, 2, n)

	for _, sub := range []*Subscription{a, b} {
		u := decode(t, <-sub.Updates())
		assert.Equal(t, UpdateType, u.Type)
		require.Len(t, u.Transactions, 2)
		assert.Equal(t, "TXN-1", u.Transactions[0].ID)
		assert.Equal(t, 2, u.Metrics.TotalTransactions)
		assert.Equal(t, "75012.5", u.Metrics.TotalAmount.String())
		assert.Equal(t, int64(1), sub.Delivered())
	}
}

func TestPublish_EmptySnapshotEncodesEmptyList(t *testing.T) {
	h := testHub()
	sub, _ := h.Subscribe()
	h.Publish(context.Background(), nil, aggregator.Compute(nil))

	msg := <-sub.Updates()
	assert.Contains(t, string(msg), `"transactions":[]`)
}

func TestPublish_FailedSubscriberDroppedOthersServed(t *testing.T) {
	h := testHub(WithBufferSize(1))
	ctx := context.Background()

	healthy, _ := h.Subscribe()
	stalled, _ := h.Subscribe()
	other, _ := h.Subscribe()

	snap := testSnapshot()
	m := aggregator.Compute(snap)

	assert.Equal(t, 3, h.Publish(ctx, snap, m))
	<-healthy.Updates()
	<-other.Updates()
	// stalled never reads, so its single-slot queue stays full.

	assert.Equal(t, 2, h.Publish(ctx, snap, m))
	assert.Equal(t, 2, h.Len())

	_, ok := <-healthy.Updates()
	assert.True(t, ok, "healthy subscriber receives the second update")
	_, ok = <-other.Updates()
	assert.True(t, ok)

	// The stalled channel holds its first update, then is closed.
	_, ok = <-stalled.Updates()
	assert.True(t, ok)
	_, ok = <-stalled.Updates()
	assert.False(t, ok, "dropped subscriber's channel is closed")

	assert.Equal(t, int64(1), h.Stats().DroppedSubscribers)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h := testHub()
	sub, _ := h.Subscribe()

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	h.Unsubscribe(nil)

	assert.Equal(t, 0, h.Len())
	_, ok := <-sub.Updates()
	assert.False(t, ok)

	// Publishing after removal must not panic on the closed channel.
	assert.Equal(t, 0, h.Publish(context.Background(), testSnapshot(), aggregator.Metrics{}))
}

func TestSubscribe_Limit(t *testing.T) {
	h := testHub(WithMaxSubscribers(2))
	_, err := h.Subscribe()
	require.NoError(t, err)
	second, err := h.Subscribe()
	require.NoError(t, err)

	_, err = h.Subscribe()
	assert.ErrorIs(t, err, ErrTooManySubscribers)

	h.Unsubscribe(second)
	_, err = h.Subscribe()
	assert.NoError(t, err)
}

func TestRun_ClosesSubscribersOnShutdown(t *testing.T) {
	h := testHub()
	sub, _ := h.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	_, ok := <-sub.Updates()
	assert.False(t, ok)

	_, err := h.Subscribe()
	assert.ErrorIs(t, err, ErrHubClosed)
	h.Close() // second close is a no-op
}

func TestHub_ConcurrentSubscribePublish(t *testing.T) {
	h := testHub(WithBufferSize(4))
	ctx := context.Background()
	snap := testSnapshot()
	m := aggregator.Compute(snap)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub, err := h.Subscribe()
				if err != nil {
					continue
				}
				h.Unsubscribe(sub)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			h.Publish(ctx, snap, m)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, int64(400), h.Stats().TotalSubscribers)
}

func TestStats(t *testing.T) {
	h := testHub()
	assert.Nil(t, h.Stats().LastPublishAt)

	a, _ := h.Subscribe()
	_, _ = h.Subscribe()
	h.Unsubscribe(a)
	h.Publish(context.Background(), nil, aggregator.Metrics{})

	s := h.Stats()
	assert.Equal(t, 1, s.Subscribers)
	assert.Equal(t, int64(2), s.TotalSubscribers)
	assert.Equal(t, int64(2), s.PeakSubscribers)
	assert.Equal(t, int64(1), s.TotalPublishes)
	assert.NotNil(t, s.LastPublishAt)
}

// ---------------------------------------------------------------------------
// WebSocket transport
// ---------------------------------------------------------------------------

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandleWebSocket_StreamsUpdatesAndRefresh(t *testing.T) {
	h := testHub()
	snap := testSnapshot()
	var refreshes atomic.Int32
	h.SetRefreshFunc(func() {
		refreshes.Add(1)
		h.Publish(context.Background(), snap, aggregator.Compute(snap))
	})

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Connecting triggers an initial push.
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	u := decode(t, msg)
	assert.Equal(t, UpdateType, u.Type)
	assert.Len(t, u.Transactions, 2)

	// Explicit refresh request.
	require.NoError(t, conn.WriteJSON(ClientMessage{Action: ActionRefresh}))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, 2, decode(t, msg).Metrics.TotalTransactions)
	assert.Equal(t, int32(2), refreshes.Load())
}

func TestHandleWebSocket_DisconnectUnsubscribes(t *testing.T) {
	h := testHub()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 5*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	require.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleWebSocket_RejectsAfterShutdown(t *testing.T) {
	h := testHub()
	h.Close()

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"same host", nil, "http://example.com", true},
		{"foreign host blocked", nil, "http://evil.test", false},
		{"wildcard", []string{"*"}, "http://evil.test", true},
		{"listed", []string{"https://ops.example"}, "https://ops.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testHub(WithAllowedOrigins(tt.origins))
			r := httptest.NewRequest("GET", "http://example.com/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.checkOrigin(r))
		})
	}
}

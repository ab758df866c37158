// Package realtime pushes the current dashboard state to live subscribers.
//
// Every update carries the full transaction snapshot and metrics rather than
// a diff, so delivery is idempotent and a subscriber that misses one update
// is fully caught up by the next.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/txpulse/internal/aggregator"
	"github.com/mbd888/txpulse/internal/metrics"
	"github.com/mbd888/txpulse/internal/traces"
	"github.com/mbd888/txpulse/internal/transactions"
)

var (
	ErrHubClosed          = errors.New("realtime: hub closed")
	ErrTooManySubscribers = errors.New("realtime: subscriber limit reached")
)

const (
	// DefaultMaxSubscribers is the maximum number of concurrent subscribers.
	DefaultMaxSubscribers = 1000
	// DefaultBufferSize is the per-subscriber queue depth. A subscriber whose
	// queue is full when an update is published is dropped.
	DefaultBufferSize = 16
)

// UpdateType tags messages sent to subscribers.
const UpdateType = "update"

// Update is the message pushed to every subscriber.
type Update struct {
	Type         string                     `json:"type"`
	Transactions []transactions.Transaction `json:"transactions"`
	Metrics      aggregator.Metrics         `json:"metrics"`
	Timestamp    time.Time                  `json:"timestamp"`
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id        string
	send      chan []byte
	delivered atomic.Int64
	created   time.Time
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// Updates returns the channel of encoded Update messages. It is closed when
// the subscription is removed.
func (s *Subscription) Updates() <-chan []byte { return s.send }

// Delivered returns how many updates were queued for this subscriber.
func (s *Subscription) Delivered() int64 { return s.delivered.Load() }

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-subscriber queue depth.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithMaxSubscribers caps concurrent subscribers.
func WithMaxSubscribers(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxSubscribers = n
		}
	}
}

// WithAllowedOrigins restricts WebSocket upgrades to the given origins.
// "*" allows any origin. With no origins only same-host browsers connect.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.origins = origins
	}
}

// Hub is the registry of live subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
	done   chan struct{} // closed when the hub shuts down

	logger         *slog.Logger
	bufferSize     int
	maxSubscribers int
	origins        []string

	refreshMu sync.RWMutex
	refresh   func()

	// Stats
	totalPublishes     atomic.Int64
	totalSubscribers   atomic.Int64
	peakSubscribers    atomic.Int64
	droppedSubscribers atomic.Int64
	lastPublish        atomic.Int64 // unix nanos
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		subs:           make(map[string]*Subscription),
		done:           make(chan struct{}),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		maxSubscribers: DefaultMaxSubscribers,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetRefreshFunc installs the callback run when a subscriber asks for an
// immediate update.
func (h *Hub) SetRefreshFunc(fn func()) {
	h.refreshMu.Lock()
	h.refresh = fn
	h.refreshMu.Unlock()
}

func (h *Hub) requestRefresh() {
	h.refreshMu.RLock()
	fn := h.refresh
	h.refreshMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Subscribe registers a new subscriber. No data is sent until the next publish.
func (h *Hub) Subscribe() (*Subscription, error) {
	sub := &Subscription{
		id:      uuid.NewString(),
		send:    make(chan []byte, h.bufferSize),
		created: time.Now(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if len(h.subs) >= h.maxSubscribers {
		h.mu.Unlock()
		return nil, ErrTooManySubscribers
	}
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.totalSubscribers.Add(1)
	for {
		peak := h.peakSubscribers.Load()
		if int64(n) <= peak || h.peakSubscribers.CompareAndSwap(peak, int64(n)) {
			break
		}
	}
	metrics.ActiveSubscribers.Set(float64(n))
	h.logger.Info("subscriber connected", "subscription", sub.id, "total", n)
	return sub, nil
}

// Unsubscribe removes sub and closes its update channel. Removing an
// already-removed subscription is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if h.remove([]*Subscription{sub}, "closed") > 0 {
		h.logger.Info("subscriber disconnected",
			"subscription", sub.id,
			"delivered", sub.Delivered(),
			"connected_for", time.Since(sub.created).Round(time.Millisecond),
		)
	}
}

// remove deletes the given subscriptions if still registered and returns how
// many were removed.
func (h *Hub) remove(subs []*Subscription, reason string) int {
	h.mu.Lock()
	removed := 0
	for _, sub := range subs {
		if cur, ok := h.subs[sub.id]; ok && cur == sub {
			delete(h.subs, sub.id)
			close(sub.send)
			removed++
		}
	}
	n := len(h.subs)
	h.mu.Unlock()

	if removed > 0 {
		metrics.ActiveSubscribers.Set(float64(n))
		metrics.SubscriberDropsTotal.WithLabelValues(reason).Add(float64(removed))
	}
	return removed
}

// Publish encodes the snapshot and metrics once and queues the result for
// every subscriber. Delivery never blocks: a subscriber whose queue is full
// is dropped without affecting the others. It returns the number of
// subscribers the update was queued for.
func (h *Hub) Publish(ctx context.Context, snapshot []transactions.Transaction, m aggregator.Metrics) int {
	if snapshot == nil {
		snapshot = []transactions.Transaction{}
	}
	now := time.Now()
	payload, err := json.Marshal(Update{
		Type:         UpdateType,
		Transactions: snapshot,
		Metrics:      m,
		Timestamp:    now,
	})
	if err != nil {
		h.logger.Error("failed to encode update", "error", err)
		return 0
	}

	h.mu.RLock()
	_, span := traces.StartSpan(ctx, "realtime.publish", traces.Subscribers(len(h.subs)))
	var slow []*Subscription
	delivered := 0
	for _, sub := range h.subs {
		select {
		case sub.send <- payload:
			sub.delivered.Add(1)
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()
	span.End()

	if len(slow) > 0 {
		n := h.remove(slow, "slow")
		h.droppedSubscribers.Add(int64(n))
		h.logger.Warn("dropped slow subscribers", "count", n)
	}

	h.totalPublishes.Add(1)
	h.lastPublish.Store(now.UnixNano())
	metrics.PublishesTotal.Inc()
	return delivered
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Run blocks until ctx is done, then closes the hub and every subscription.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	<-ctx.Done()
	h.logger.Info("realtime hub shutting down, closing subscriber connections")
	h.Close()
	h.logger.Info("realtime hub stopped")
}

// Close removes every subscriber and rejects new ones. Safe to call twice.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.send)
		delete(h.subs, id)
	}
	close(h.done)
	h.mu.Unlock()
	metrics.ActiveSubscribers.Set(0)
}

// Stats describes hub activity.
type Stats struct {
	Subscribers        int        `json:"subscribers"`
	MaxSubscribers     int        `json:"max_subscribers"`
	TotalPublishes     int64      `json:"total_publishes"`
	TotalSubscribers   int64      `json:"total_subscribers"`
	PeakSubscribers    int64      `json:"peak_subscribers"`
	DroppedSubscribers int64      `json:"dropped_subscribers"`
	LastPublishAt      *time.Time `json:"last_publish_at,omitempty"`
}

// Stats returns hub statistics.
func (h *Hub) Stats() Stats {
	s := Stats{
		Subscribers:        h.Len(),
		MaxSubscribers:     h.maxSubscribers,
		TotalPublishes:     h.totalPublishes.Load(),
		TotalSubscribers:   h.totalSubscribers.Load(),
		PeakSubscribers:    h.peakSubscribers.Load(),
		DroppedSubscribers: h.droppedSubscribers.Load(),
	}
	if ns := h.lastPublish.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		s.LastPublishAt = &t
	}
	return s
}

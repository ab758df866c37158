// Package dashboard is the query and refresh service behind the live
// transaction dashboard: it fronts the store for ingestion, answers
// transaction, metrics and search queries from snapshots, and drives
// periodic and on-demand publishes to the realtime hub.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/txpulse/internal/aggregator"
	"github.com/mbd888/txpulse/internal/filter"
	"github.com/mbd888/txpulse/internal/logging"
	"github.com/mbd888/txpulse/internal/transactions"
)

// DefaultRefreshInterval is the publish cadence when none is configured.
const DefaultRefreshInterval = 30 * time.Second

// Publisher delivers the current state to live subscribers.
// *realtime.Hub satisfies it.
type Publisher interface {
	Publish(ctx context.Context, snapshot []transactions.Transaction, m aggregator.Metrics) int
}

// Observer is called after each accepted ingestion.
type Observer func(ctx context.Context, tx transactions.Transaction)

// Option configures a Service.
type Option func(*Service)

// WithRefreshInterval sets the periodic publish cadence.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithPushOnIngest publishes right after every accepted ingestion
// (coalesced) in addition to the periodic refresh.
func WithPushOnIngest(enabled bool) Option {
	return func(s *Service) { s.pushOnIngest = enabled }
}

// WithObserver registers a post-ingestion callback, e.g. alerting.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// WithFraudObserver registers a callback run after a transaction is first
// confirmed as fraud.
func WithFraudObserver(o Observer) Option {
	return func(s *Service) { s.fraudObservers = append(s.fraudObservers, o) }
}

// Service is safe for concurrent use.
type Service struct {
	store        *transactions.Store
	publisher    Publisher
	logger       *slog.Logger
	interval     time.Duration
	pushOnIngest bool
	observers    []Observer

	fraudObservers []Observer

	trigger     chan struct{}
	refreshes   atomic.Int64
	lastRefresh atomic.Int64 // unix nanos
}

// NewService wires the store to a publisher. publisher may be nil when no
// live subscribers are served.
func NewService(store *transactions.Store, publisher Publisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  DefaultRefreshInterval,
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest scores and retains tx. It satisfies ingest.Sink so pumped sources
// and the HTTP endpoint share the same path.
func (s *Service) Ingest(ctx context.Context, tx transactions.Transaction) (transactions.Transaction, error) {
	stored, err := s.store.Ingest(ctx, tx)
	if err != nil {
		if errors.Is(err, transactions.ErrDuplicateID) {
			logging.L(ctx).Warn("rejected duplicate transaction", "transaction_id", tx.ID)
		}
		return transactions.Transaction{}, err
	}

	logging.L(ctx).Debug("transaction ingested",
		"transaction_id", stored.ID,
		"sequence", stored.Sequence,
		"risk_level", stored.RiskLevel,
	)
	for _, o := range s.observers {
		o(ctx, stored)
	}
	if s.pushOnIngest {
		s.RequestRefresh()
	}
	return stored, nil
}

// Transactions returns the snapshot filtered by q. An invalid query yields an
// empty result and an error wrapping filter.ErrInvalidQuery.
func (s *Service) Transactions(q filter.Query) ([]transactions.Transaction, error) {
	return filter.Apply(s.store.Snapshot(), q)
}

// Search matches term across id, merchant, category and customer id.
func (s *Service) Search(term string) []transactions.Transaction {
	return filter.Search(s.store.Snapshot(), term)
}

// Metrics aggregates a fresh snapshot.
func (s *Service) Metrics() aggregator.Metrics {
	return aggregator.Compute(s.store.Snapshot())
}

// Get returns a retained transaction.
func (s *Service) Get(id string) (transactions.Transaction, error) {
	return s.store.Get(id)
}

// MarkFraud confirms a retained transaction as fraud and schedules a push.
func (s *Service) MarkFraud(ctx context.Context, id string) (transactions.Transaction, error) {
	tx, flipped, err := s.store.MarkFraud(id)
	if err != nil {
		return transactions.Transaction{}, err
	}
	if flipped {
		logging.L(ctx).Info("transaction marked as fraud", "transaction_id", id, "risk_level", tx.RiskLevel)
		for _, o := range s.fraudObservers {
			o(ctx, tx)
		}
	}
	s.RequestRefresh()
	return tx, nil
}

// RequestRefresh schedules an immediate publish. Requests made while one is
// already pending coalesce. Never blocks.
func (s *Service) RequestRefresh() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Refresh prunes aged entries, then publishes the current snapshot and
// metrics. It returns the number of subscribers reached.
func (s *Service) Refresh(ctx context.Context) int {
	if n := s.store.Prune(); n > 0 {
		s.logger.Debug("pruned aged transactions", "count", n)
	}

	s.refreshes.Add(1)
	s.lastRefresh.Store(time.Now().UnixNano())
	if s.publisher == nil {
		return 0
	}
	snap := s.store.Snapshot()
	return s.publisher.Publish(ctx, snap, aggregator.Compute(snap))
}

// Run publishes on every tick and on every refresh request until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("dashboard refresh loop started", "interval", s.interval, "push_on_ingest", s.pushOnIngest)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("dashboard refresh loop stopped")
			return
		case <-ticker.C:
			s.Refresh(ctx)
		case <-s.trigger:
			s.Refresh(ctx)
		}
	}
}

// Stats describes the service and its store.
type Stats struct {
	Store           transactions.Stats `json:"store"`
	RefreshInterval string             `json:"refresh_interval"`
	PushOnIngest    bool               `json:"push_on_ingest"`
	Refreshes       int64              `json:"refreshes"`
	LastRefreshAt   *time.Time         `json:"last_refresh_at,omitempty"`
}

// Stats returns service counters.
func (s *Service) Stats() Stats {
	st := Stats{
		Store:           s.store.Stats(),
		RefreshInterval: s.interval.String(),
		PushOnIngest:    s.pushOnIngest,
		Refreshes:       s.refreshes.Load(),
	}
	if ns := s.lastRefresh.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		st.LastRefreshAt = &t
	}
	return st
}

package transactions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/mbd888/txpulse/internal/metrics"
	"github.com/mbd888/txpulse/internal/traces"
)

// DefaultCapacity is the retention bound used when Options.Capacity is unset.
const DefaultCapacity = 1000

// Scorer computes the risk of a transaction. It must be a pure function.
type Scorer interface {
	Score(tx Transaction) (float64, RiskLevel)
}

// Options configures a Store.
type Options struct {
	// Capacity is the maximum number of retained transactions.
	Capacity int
	// MaxAge evicts transactions ingested longer ago than this. Zero disables it.
	MaxAge time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Store is the single owner of retained transactions. Entries are kept in a
// btree keyed by sequence number, so the oldest entry is always the minimum
// and FIFO eviction is a min-delete.
type Store struct {
	mu       sync.RWMutex
	scorer   Scorer
	entries  *btree.Map[uint64, Transaction]
	index    map[string]uint64 // id -> sequence
	seq      uint64
	capacity int
	maxAge   time.Duration
	now      func() time.Time
	lastAt   time.Time
	evicted  uint64
}

// NewStore creates an empty store that scores every ingested transaction.
func NewStore(scorer Scorer, opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		scorer:   scorer,
		entries:  btree.NewMap[uint64, Transaction](32),
		index:    make(map[string]uint64),
		capacity: opts.Capacity,
		maxAge:   opts.MaxAge,
		now:      opts.Now,
	}
}

// Ingest scores tx, assigns it the next sequence number and retains it,
// evicting the oldest entries beyond capacity. A transaction whose id is
// already retained is rejected with ErrDuplicateID and the store is left
// untouched.
func (s *Store) Ingest(ctx context.Context, tx Transaction) (Transaction, error) {
	_, span := traces.StartSpan(ctx, "transactions.ingest", traces.TransactionID(tx.ID))
	defer span.End()

	tx.Normalize()
	if err := tx.Validate(); err != nil {
		metrics.IngestRejectedTotal.WithLabelValues("invalid").Inc()
		return Transaction{}, err
	}

	score, level := s.scorer.Score(tx)
	tx.RiskScore = score
	tx.RiskLevel = level
	tx.IsFraud = false

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[tx.ID]; exists {
		metrics.IngestRejectedTotal.WithLabelValues("duplicate").Inc()
		return Transaction{}, fmt.Errorf("%w: %s", ErrDuplicateID, tx.ID)
	}

	now := s.now()
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}
	s.seq++
	tx.Sequence = s.seq
	tx.IngestedAt = now

	s.entries.Set(tx.Sequence, tx)
	s.index[tx.ID] = tx.Sequence
	s.lastAt = now

	s.evictLocked(now)

	metrics.TransactionsIngestedTotal.WithLabelValues(string(level)).Inc()
	metrics.RiskScore.Observe(score)
	metrics.RetainedTransactions.Set(float64(s.entries.Len()))
	span.SetAttributes(traces.RiskLevel(string(level)), traces.Sequence(tx.Sequence))

	return tx, nil
}

// Snapshot returns a point-in-time copy of the retained transactions in
// ingestion order. The copy is independent of later mutations.
func (s *Store) Snapshot() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Transaction, 0, s.entries.Len())
	s.entries.Scan(func(_ uint64, tx Transaction) bool {
		out = append(out, tx)
		return true
	})
	return out
}

// Get returns the retained transaction with the given id.
func (s *Store) Get(id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq, ok := s.index[id]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	tx, _ := s.entries.Get(seq)
	return tx, nil
}

// MarkFraud flags a retained transaction as confirmed fraud. Marking an
// already flagged transaction is a no-op. flipped is true only for the one
// call that changed the flag.
func (s *Store) MarkFraud(id string) (tx Transaction, flipped bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.index[id]
	if !ok {
		return Transaction{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	tx, _ = s.entries.Get(seq)
	if tx.IsFraud {
		return tx, false, nil
	}
	tx.IsFraud = true
	s.entries.Set(seq, tx)
	metrics.FraudConfirmationsTotal.Inc()
	return tx, true, nil
}

// Prune evicts entries older than the configured max age and returns how
// many were removed.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.evictLocked(s.now())
	if n > 0 {
		metrics.RetainedTransactions.Set(float64(s.entries.Len()))
	}
	return n
}

// Len returns the number of retained transactions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Len()
}

// Stats describes the retention state.
type Stats struct {
	Retained       int       `json:"retained"`
	Capacity       int       `json:"capacity"`
	LastSequence   uint64    `json:"last_sequence"`
	Evicted        uint64    `json:"evicted"`
	LastIngestedAt time.Time `json:"last_ingested_at,omitempty"`
}

// Stats returns retention counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Retained:       s.entries.Len(),
		Capacity:       s.capacity,
		LastSequence:   s.seq,
		Evicted:        s.evicted,
		LastIngestedAt: s.lastAt,
	}
}

// evictLocked drops the oldest entries while the store is over capacity or
// the oldest entry has aged out. Caller holds s.mu.
func (s *Store) evictLocked(now time.Time) int {
	removed := 0
	for s.entries.Len() > 0 {
		seq, oldest, _ := s.entries.Min()
		expired := s.maxAge > 0 && now.Sub(oldest.IngestedAt) > s.maxAge
		if s.entries.Len() <= s.capacity && !expired {
			break
		}
		s.entries.Delete(seq)
		delete(s.index, oldest.ID)
		removed++
	}
	if removed > 0 {
		s.evicted += uint64(removed)
		metrics.EvictionsTotal.Add(float64(removed))
	}
	return removed
}

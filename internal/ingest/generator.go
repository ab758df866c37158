package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mbd888/txpulse/internal/transactions"
)

// GeneratorConfig drives the synthetic transaction source.
type GeneratorConfig struct {
	Interval time.Duration
	Seed     int64 // zero picks a time-based seed
	// Limit stops the generator after this many events. Zero is unbounded.
	Limit int
}

// DefaultGeneratorConfig emits one transaction every two seconds.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{Interval: 2 * time.Second}
}

type merchantProfile struct {
	name      string
	category  string
	minAmount int64 // cents
	maxAmount int64 // cents
}

var merchantProfiles = []merchantProfile{
	{"Amazon Web Services", "technology", 5_000, 250_000},
	{"Stripe Inc", "technology", 1_000, 20_000},
	{"Tesla Motors", "automotive", 500_000, 9_000_000},
	{"Apple Store", "electronics", 2_999, 350_000},
	{"Goldman Sachs", "financial", 100_000, 1_000_000},
	{"Best Buy", "electronics", 1_999, 300_000},
	{"Tiffany & Co", "jewelry", 15_000, 2_500_000},
	{"Expedia", "travel", 8_000, 600_000},
	{"Steam", "gaming", 499, 12_000},
	{"Whole Foods", "groceries", 500, 40_000},
	{"Shell", "fuel", 2_000, 15_000},
	{"Delta Air Lines", "travel", 12_000, 950_000},
}

// Status weights: mostly settled, some pending, occasional failures.
var statusWeights = []struct {
	status transactions.Status
	weight int
}{
	{transactions.StatusApproved, 55},
	{transactions.StatusCompleted, 25},
	{transactions.StatusPending, 15},
	{transactions.StatusFailed, 5},
}

var transactionTypes = []transactions.Type{transactions.TypeCreditCard, transactions.TypePayPal}

// Generator is a Source producing realistic synthetic transactions. Two
// generators with the same non-zero seed produce the same sequence.
type Generator struct {
	cfg GeneratorConfig

	mu   sync.Mutex
	rand *rand.Rand
}

// NewGenerator returns a configured Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultGeneratorConfig().Interval
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // synthetic data
	}
}

// Name implements Source.
func (g *Generator) Name() string { return "generator" }

// Run implements Source.
func (g *Generator) Run(ctx context.Context, emit EmitFunc) error {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	emitted := 0
	for {
		if g.cfg.Limit > 0 && emitted >= g.cfg.Limit {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := emit(ctx, g.Next()); err != nil {
				return nil // pump shutting down
			}
			emitted++
		}
	}
}

// Next builds one synthetic transaction.
func (g *Generator) Next() transactions.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := merchantProfiles[g.rand.Intn(len(merchantProfiles))]
	cents := m.minAmount + g.rand.Int63n(m.maxAmount-m.minAmount+1)

	id := uuid.Must(uuid.NewRandomFromReader(g.rand))
	short := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])

	return transactions.Transaction{
		ID:         "TXN_" + short,
		Type:       transactionTypes[g.rand.Intn(len(transactionTypes))],
		Merchant:   m.name,
		Category:   m.category,
		CustomerID: fmt.Sprintf("CUST_%04d", 1+g.rand.Intn(2500)),
		Amount:     decimal.New(cents, -2),
		Status:     g.pickStatus(),
	}
}

func (g *Generator) pickStatus() transactions.Status {
	total := 0
	for _, w := range statusWeights {
		total += w.weight
	}
	n := g.rand.Intn(total)
	for _, w := range statusWeights {
		if n < w.weight {
			return w.status
		}
		n -= w.weight
	}
	return transactions.StatusApproved
}

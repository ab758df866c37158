package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mbd888/txpulse/internal/transactions"
)

// Scores are accumulated in hundredths of a point so tier boundaries are
// exact: 0.4 + 0.3 is 70 points, never 0.7000000000000001.
const (
	pointsScale = 100
	maxPoints   = 100

	highPoints   = 70
	mediumPoints = 30
)

type amountTier struct {
	above  decimal.Decimal
	points int
}

// Tiers are checked from the highest bound down; the first match wins.
var amountTiers = []amountTier{
	{above: decimal.NewFromInt(5000), points: 40},
	{above: decimal.NewFromInt(2000), points: 20},
	{above: decimal.NewFromInt(1000), points: 10},
}

const (
	categoryPoints = 20
	statusPoints   = 30
)

// Scorer is a pure, stateless risk scorer. The zero value is not usable;
// call NewScorer.
type Scorer struct {
	categories map[string]struct{}
}

// NewScorer returns a scorer using DefaultHighRiskCategories.
func NewScorer() *Scorer {
	return (&Scorer{}).WithHighRiskCategories(DefaultHighRiskCategories...)
}

// WithHighRiskCategories replaces the high-risk category set.
func (s *Scorer) WithHighRiskCategories(categories ...string) *Scorer {
	s.categories = make(map[string]struct{}, len(categories))
	for _, c := range categories {
		s.categories[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	return s
}

// Score implements transactions.Scorer.
func (s *Scorer) Score(tx transactions.Transaction) (float64, transactions.RiskLevel) {
	a := s.Assess(tx)
	return a.Score, a.Level
}

// Assess scores a transaction and reports each factor's contribution.
func (s *Scorer) Assess(tx transactions.Transaction) Assessment {
	amount := s.amountPoints(tx.Amount)
	category := s.categoryPoints(tx.Category)
	status := statusFactorPoints(tx.Status)

	total := amount + category + status
	if total > maxPoints {
		total = maxPoints
	}

	return Assessment{
		Score: toScore(total),
		Level: levelForPoints(total),
		Factors: map[string]float64{
			FactorAmount:   toScore(amount),
			FactorCategory: toScore(category),
			FactorStatus:   toScore(status),
		},
	}
}

func (s *Scorer) amountPoints(amount decimal.Decimal) int {
	for _, tier := range amountTiers {
		if amount.GreaterThan(tier.above) {
			return tier.points
		}
	}
	return 0
}

func (s *Scorer) categoryPoints(category string) int {
	if _, ok := s.categories[strings.ToLower(strings.TrimSpace(category))]; ok {
		return categoryPoints
	}
	return 0
}

func statusFactorPoints(status transactions.Status) int {
	// Compare on the normalized form so unscored raw input behaves the same.
	st := transactions.Status(strings.ToLower(strings.TrimSpace(string(status))))
	if st.Settled() {
		return 0
	}
	return statusPoints
}

func toScore(points int) float64 {
	return float64(points) / pointsScale
}

func levelForPoints(points int) transactions.RiskLevel {
	switch {
	case points > highPoints:
		return transactions.RiskHigh
	case points > mediumPoints:
		return transactions.RiskMedium
	default:
		return transactions.RiskLow
	}
}

var _ transactions.Scorer = (*Scorer)(nil)

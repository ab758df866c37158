// Package risk implements the deterministic fraud-risk heuristic applied to
// every ingested transaction.
//
// Three additive factors contribute to the score: amount tier, high-risk
// merchant category, and unsettled status. Scores range from 0.0 (safe) to
// 1.0 (high risk) and map to LOW, MEDIUM or HIGH.
package risk

import (
	"github.com/mbd888/txpulse/internal/transactions"
)

// Level thresholds. Each is an exclusive lower bound for the tier above it.
const (
	HighThreshold   = 0.7
	MediumThreshold = 0.3
)

// Factor names reported in Assessment.Factors.
const (
	FactorAmount   = "amount"
	FactorCategory = "category"
	FactorStatus   = "status"
)

// DefaultHighRiskCategories are matched case-insensitively.
var DefaultHighRiskCategories = []string{"electronics", "jewelry", "travel", "gaming"}

// Assessment is the breakdown behind a score.
type Assessment struct {
	Score   float64                `json:"score"`
	Level   transactions.RiskLevel `json:"level"`
	Factors map[string]float64     `json:"factors"`
}

// Level maps a score to its risk level.
func Level(score float64) transactions.RiskLevel {
	switch {
	case score > HighThreshold:
		return transactions.RiskHigh
	case score > MediumThreshold:
		return transactions.RiskMedium
	default:
		return transactions.RiskLow
	}
}

// Package aggregator computes dashboard metrics from a transaction snapshot.
// Nothing is cached: every call recomputes from the snapshot it is given.
package aggregator

import (
	"github.com/shopspring/decimal"

	"github.com/mbd888/txpulse/internal/risk"
	"github.com/mbd888/txpulse/internal/transactions"
)

// Metrics summarizes a snapshot.
type Metrics struct {
	TotalTransactions int             `json:"total_transactions"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	HighRiskCount     int             `json:"high_risk_count"`
	FraudCount        int             `json:"fraud_count"`

	AverageAmount decimal.Decimal                `json:"average_amount"`
	ByRiskLevel   map[transactions.RiskLevel]int `json:"by_risk_level"`
	ByStatus      map[transactions.Status]int    `json:"by_status"`
	ByType        map[transactions.Type]int      `json:"by_type"`
}

// Compute aggregates snapshot. It never fails; an empty snapshot yields
// zero totals with every risk level present in the breakdown.
func Compute(snapshot []transactions.Transaction) Metrics {
	m := Metrics{
		TotalTransactions: len(snapshot),
		TotalAmount:       decimal.Zero,
		AverageAmount:     decimal.Zero,
		ByRiskLevel: map[transactions.RiskLevel]int{
			transactions.RiskLow:    0,
			transactions.RiskMedium: 0,
			transactions.RiskHigh:   0,
		},
		ByStatus: make(map[transactions.Status]int),
		ByType:   make(map[transactions.Type]int),
	}

	for _, tx := range snapshot {
		m.TotalAmount = m.TotalAmount.Add(tx.Amount)
		if tx.RiskScore > risk.HighThreshold {
			m.HighRiskCount++
		}
		if tx.IsFraud {
			m.FraudCount++
		}
		if tx.RiskLevel != "" {
			m.ByRiskLevel[tx.RiskLevel]++
		}
		if tx.Status != "" {
			m.ByStatus[tx.Status]++
		}
		if tx.Type != "" {
			m.ByType[tx.Type]++
		}
	}

	if n := len(snapshot); n > 0 {
		m.AverageAmount = m.TotalAmount.DivRound(decimal.NewFromInt(int64(n)), 2)
	}
	return m
}

// Package filter evaluates structured queries against transaction snapshots.
// It holds no state and needs no locking: callers pass an already-copied
// snapshot.
package filter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mbd888/txpulse/internal/transactions"
)

// ErrInvalidQuery is returned for queries that can never match, such as
// min_amount greater than max_amount.
var ErrInvalidQuery = errors.New("filter: invalid query")

// Query is a conjunction of optional criteria. A zero-valued field matches
// every transaction.
type Query struct {
	Type       transactions.Type      `json:"type,omitempty"`
	MinAmount  *decimal.Decimal       `json:"min_amount,omitempty"`
	MaxAmount  *decimal.Decimal       `json:"max_amount,omitempty"`
	Merchant   string                 `json:"merchant,omitempty"`  // substring, case-insensitive
	Category   string                 `json:"category,omitempty"`  // substring, case-insensitive
	Status     transactions.Status    `json:"status,omitempty"`
	RiskLevel  transactions.RiskLevel `json:"risk_level,omitempty"`
	SearchTerm string                 `json:"search,omitempty"` // id, merchant, category, customer_id
}

// IsEmpty reports whether q has no criteria set.
func (q Query) IsEmpty() bool {
	return q.Type == "" &&
		q.MinAmount == nil &&
		q.MaxAmount == nil &&
		q.Merchant == "" &&
		q.Category == "" &&
		q.Status == "" &&
		q.RiskLevel == "" &&
		q.SearchTerm == ""
}

// Validate rejects contradictory or out-of-domain criteria.
func (q Query) Validate() error {
	if q.MinAmount != nil && q.MaxAmount != nil && q.MinAmount.GreaterThan(*q.MaxAmount) {
		return fmt.Errorf("%w: min_amount %s exceeds max_amount %s", ErrInvalidQuery, q.MinAmount, q.MaxAmount)
	}
	if q.RiskLevel != "" && !q.RiskLevel.Valid() {
		return fmt.Errorf("%w: unknown risk_level %q", ErrInvalidQuery, q.RiskLevel)
	}
	return nil
}

// Apply returns the transactions in snapshot matching q, preserving order.
// An empty query returns snapshot itself. An invalid query matches nothing
// and returns an ErrInvalidQuery alongside the empty result.
func Apply(snapshot []transactions.Transaction, q Query) ([]transactions.Transaction, error) {
	if q.IsEmpty() {
		return snapshot, nil
	}
	if err := q.Validate(); err != nil {
		return []transactions.Transaction{}, err
	}

	m := newMatcher(q)
	out := make([]transactions.Transaction, 0)
	for _, tx := range snapshot {
		if m.match(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Search matches term case-insensitively against id, merchant, category and
// customer id. An empty term returns the whole snapshot.
func Search(snapshot []transactions.Transaction, term string) []transactions.Transaction {
	out, _ := Apply(snapshot, Query{SearchTerm: strings.TrimSpace(term)})
	return out
}

// matcher holds the lower-cased needles so they are folded once per query.
type matcher struct {
	q        Query
	merchant string
	category string
	search   string
}

func newMatcher(q Query) matcher {
	return matcher{
		q:        q,
		merchant: strings.ToLower(q.Merchant),
		category: strings.ToLower(q.Category),
		search:   strings.ToLower(q.SearchTerm),
	}
}

func (m matcher) match(tx transactions.Transaction) bool {
	if m.q.Type != "" && tx.Type != m.q.Type {
		return false
	}
	if m.q.MinAmount != nil && tx.Amount.LessThan(*m.q.MinAmount) {
		return false
	}
	if m.q.MaxAmount != nil && tx.Amount.GreaterThan(*m.q.MaxAmount) {
		return false
	}
	if m.merchant != "" && !containsFold(tx.Merchant, m.merchant) {
		return false
	}
	if m.category != "" && !containsFold(tx.Category, m.category) {
		return false
	}
	if m.q.Status != "" && tx.Status != m.q.Status {
		return false
	}
	if m.q.RiskLevel != "" && tx.RiskLevel != m.q.RiskLevel {
		return false
	}
	if m.search != "" &&
		!containsFold(tx.ID, m.search) &&
		!containsFold(tx.Merchant, m.search) &&
		!containsFold(tx.Category, m.search) &&
		!containsFold(tx.CustomerID, m.search) {
		return false
	}
	return true
}

// containsFold reports whether lowerNeedle occurs in s ignoring case.
// lowerNeedle must already be lower-cased.
func containsFold(s, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(s), lowerNeedle)
}

// ParseValues builds a Query from URL query parameters. Enumerations are
// normalized to their canonical case. Malformed amounts wrap ErrInvalidQuery.
func ParseValues(v url.Values) (Query, error) {
	q := Query{
		Type:       transactions.Type(strings.ToLower(strings.TrimSpace(v.Get("type")))),
		Merchant:   strings.TrimSpace(v.Get("merchant")),
		Category:   strings.TrimSpace(v.Get("category")),
		Status:     transactions.Status(strings.ToLower(strings.TrimSpace(v.Get("status")))),
		RiskLevel:  transactions.RiskLevel(strings.ToUpper(strings.TrimSpace(v.Get("risk_level")))),
		SearchTerm: strings.TrimSpace(v.Get("search")),
	}

	var err error
	if q.MinAmount, err = parseAmount(v, "min_amount"); err != nil {
		return q, err
	}
	if q.MaxAmount, err = parseAmount(v, "max_amount"); err != nil {
		return q, err
	}
	return q, nil
}

func parseAmount(v url.Values, key string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q is not a number", ErrInvalidQuery, key, raw)
	}
	return &d, nil
}

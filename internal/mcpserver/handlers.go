package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/txpulse/internal/aggregator"
	"github.com/mbd888/txpulse/internal/apiclient"
	"github.com/mbd888/txpulse/internal/transactions"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *apiclient.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *apiclient.Client) *Handlers {
	return &Handlers{client: client}
}

// HandleGetTransactions lists transactions with optional filters.
func (h *Handlers) HandleGetTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	page, err := h.client.Transactions(ctx, apiclient.Query{
		Type:      req.GetString("type", ""),
		MinAmount: req.GetString("min_amount", ""),
		MaxAmount: req.GetString("max_amount", ""),
		Merchant:  req.GetString("merchant", ""),
		Category:  req.GetString("category", ""),
		Status:    req.GetString("status", ""),
		RiskLevel: req.GetString("risk_level", ""),
		Search:    req.GetString("search", ""),
		Limit:     limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get transactions: %v", err)), nil
	}

	var sb strings.Builder
	if page.Warning != "" {
		fmt.Fprintf(&sb, "Warning: %s\n\n", page.Warning)
	}
	if len(page.Transactions) == 0 {
		sb.WriteString("No transactions found.")
		return mcp.NewToolResultText(sb.String()), nil
	}

	fmt.Fprintf(&sb, "Showing %d of %d matching transaction(s):\n\n", len(page.Transactions), page.Total)
	writeTransactionList(&sb, page.Transactions)
	if page.HasMore {
		sb.WriteString("\nMore results exist; narrow the filters or raise the limit.\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetMetrics returns the aggregate metrics.
func (h *Handlers) HandleGetMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := h.client.Metrics(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get metrics: %v", err)), nil
	}
	return mcp.NewToolResultText(formatMetrics(m.Metrics)), nil
}

// HandleSearchTransactions runs a free-text search.
func (h *Handlers) HandleSearchTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	results, err := h.client.Search(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No transactions match %q.", query)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d transaction(s) matching %q:\n\n", len(results), query)
	writeTransactionList(&sb, results)
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetTransaction fetches one transaction.
func (h *Handlers) HandleGetTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("transaction_id", ""))
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	tx, err := h.client.Transaction(ctx, id)
	if err != nil {
		if apiclient.IsNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Transaction %s not found (it may have been evicted from the window)", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get transaction: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTransaction(tx)), nil
}

// HandleMarkFraud confirms a transaction as fraud.
func (h *Handlers) HandleMarkFraud(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("transaction_id", ""))
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	tx, err := h.client.MarkFraud(ctx, id)
	if err != nil {
		if apiclient.IsNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("Transaction %s not found (it may have been evicted from the window)", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to mark fraud: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction %s confirmed as fraud.\n\n", tx.ID)
	sb.WriteString(formatTransaction(tx))
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func writeTransactionList(sb *strings.Builder, txs []transactions.Transaction) {
	for i, tx := range txs {
		fraud := ""
		if tx.IsFraud {
			fraud = " FRAUD"
		}
		fmt.Fprintf(sb, "%d. %s  %s  $%s  %s/%s  %s  risk %s (%.2f)%s\n",
			i+1, tx.ID, tx.Merchant, tx.Amount.StringFixed(2), tx.Category, tx.Type,
			tx.Status, tx.RiskLevel, tx.RiskScore, fraud)
	}
}

func formatTransaction(tx transactions.Transaction) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Transaction %s:\n", tx.ID)
	fmt.Fprintf(&sb, "  Merchant:  %s (%s)\n", tx.Merchant, tx.Category)
	fmt.Fprintf(&sb, "  Amount:    $%s\n", tx.Amount.StringFixed(2))
	fmt.Fprintf(&sb, "  Type:      %s\n", tx.Type)
	fmt.Fprintf(&sb, "  Status:    %s\n", tx.Status)
	fmt.Fprintf(&sb, "  Risk:      %s (%.2f)\n", tx.RiskLevel, tx.RiskScore)
	fmt.Fprintf(&sb, "  Fraud:     %t\n", tx.IsFraud)
	if tx.CustomerID != "" {
		fmt.Fprintf(&sb, "  Customer:  %s\n", tx.CustomerID)
	}
	if !tx.Timestamp.IsZero() {
		fmt.Fprintf(&sb, "  Time:      %s\n", tx.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return sb.String()
}

func formatMetrics(m aggregator.Metrics) string {
	var sb strings.Builder
	sb.WriteString("Dashboard Metrics:\n")
	fmt.Fprintf(&sb, "  Transactions:   %d\n", m.TotalTransactions)
	fmt.Fprintf(&sb, "  Total Amount:   $%s\n", m.TotalAmount.StringFixed(2))
	fmt.Fprintf(&sb, "  Average Amount: $%s\n", m.AverageAmount.StringFixed(2))
	fmt.Fprintf(&sb, "  High Risk:      %d\n", m.HighRiskCount)
	fmt.Fprintf(&sb, "  Confirmed Fraud: %d\n", m.FraudCount)

	if len(m.ByRiskLevel) > 0 {
		sb.WriteString("\nBy risk level:\n")
		for _, level := range []transactions.RiskLevel{transactions.RiskLow, transactions.RiskMedium, transactions.RiskHigh} {
			fmt.Fprintf(&sb, "  %-7s %d\n", level, m.ByRiskLevel[level])
		}
	}
	writeBreakdown(&sb, "By status", m.ByStatus)
	writeBreakdown(&sb, "By type", m.ByType)
	return sb.String()
}

func writeBreakdown[K ~string](sb *strings.Builder, title string, counts map[K]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(sb, "  %-11s %d\n", k, counts[K(k)])
	}
}

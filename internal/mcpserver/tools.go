package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the txpulse MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetTransactions = mcp.NewTool("get_transactions",
	mcp.WithDescription(
		"List recent transactions from the live dashboard, oldest first, with their fraud risk score "+
			"and level. All filters are optional and combine with AND. "+
			"Invalid amount filters return an empty list with a warning instead of failing."),
	mcp.WithString("type",
		mcp.Description("Payment method: 'credit_card' or 'paypal'"),
		mcp.Enum("credit_card", "paypal")),
	mcp.WithString("min_amount",
		mcp.Description("Minimum amount, inclusive (e.g. '1000')")),
	mcp.WithString("max_amount",
		mcp.Description("Maximum amount, inclusive (e.g. '5000.00')")),
	mcp.WithString("merchant",
		mcp.Description("Case-insensitive substring of the merchant name")),
	mcp.WithString("category",
		mcp.Description("Case-insensitive substring of the merchant category (e.g. 'electronics')")),
	mcp.WithString("status",
		mcp.Description("Settlement status"),
		mcp.Enum("approved", "completed", "pending", "failed")),
	mcp.WithString("risk_level",
		mcp.Description("Computed risk level"),
		mcp.Enum("LOW", "MEDIUM", "HIGH")),
	mcp.WithString("search",
		mcp.Description("Free-text match against transaction ID, merchant, category and customer ID")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of transactions to return (default 20)")),
)

var ToolGetMetrics = mcp.NewTool("get_metrics",
	mcp.WithDescription(
		"Get aggregate dashboard metrics over the retained window: transaction count, total and average "+
			"amount, high-risk and confirmed-fraud counts, and breakdowns by risk level, status and type."),
)

var ToolSearchTransactions = mcp.NewTool("search_transactions",
	mcp.WithDescription(
		"Search transactions by free text. Matches transaction ID, merchant, category and customer ID, case-insensitive."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Text to search for (e.g. 'tesla', 'TXN_123')")),
)

var ToolGetTransaction = mcp.NewTool("get_transaction",
	mcp.WithDescription(
		"Fetch one transaction by ID, including its risk score and whether it is confirmed fraud."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction ID (e.g. 'TXN_1001')")),
)

var ToolMarkFraud = mcp.NewTool("mark_fraud",
	mcp.WithDescription(
		"Confirm a transaction as fraudulent. This is the only way a transaction becomes fraud; "+
			"it is idempotent and pushes an update to every live dashboard viewer."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The transaction ID to confirm as fraud")),
)

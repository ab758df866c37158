// Package mcpserver exposes the dashboard query API as MCP tools.
package mcpserver

import (
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/txpulse/internal/apiclient"
	"github.com/mbd888/txpulse/internal/retry"
)

// Config holds the configuration for connecting to the dashboard.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	Version string
	Timeout time.Duration
}

// readRetry smooths over a dashboard restart while a tool call is in flight.
var readRetry = retry.Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}

// NewMCPServer creates a configured MCP server with all txpulse tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("txpulse", version)
	client := apiclient.New(apiclient.Config{
		BaseURL: cfg.APIURL,
		Timeout: cfg.Timeout,
		Retry:   readRetry,
	})
	h := NewHandlers(client)

	s.AddTool(ToolGetTransactions, h.HandleGetTransactions)
	s.AddTool(ToolGetMetrics, h.HandleGetMetrics)
	s.AddTool(ToolSearchTransactions, h.HandleSearchTransactions)
	s.AddTool(ToolGetTransaction, h.HandleGetTransaction)
	s.AddTool(ToolMarkFraud, h.HandleMarkFraud)

	return s
}

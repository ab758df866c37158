// Command status checks a running txpulse dashboard and prints its metrics
// and a few recent transactions.
//
// Usage:
//
//	go run ./cmd/status                       # http://localhost:8080
//	go run ./cmd/status -url http://host:8080 # another dashboard
//
// Exit codes: 0 healthy, 1 dashboard unreachable, 2 API error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mbd888/txpulse/internal/apiclient"
)

const (
	exitOK          = 0
	exitUnreachable = 1
	exitAPIError    = 2
	sampleSize      = 3
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("url", envOrDefault("TXPULSE_API_URL", "http://localhost:8080"), "dashboard base URL")
	timeout := fs.Duration("timeout", 5*time.Second, "per-request timeout")
	if err := fs.Parse(args); err != nil {
		return exitAPIError
	}

	client := apiclient.New(apiclient.Config{BaseURL: *baseURL, Timeout: *timeout})
	rule := strings.Repeat("=", 60)
	sub := strings.Repeat("-", 30)

	fmt.Fprintln(stdout, rule)
	fmt.Fprintln(stdout, "TXPULSE DASHBOARD - STATUS CHECK")
	fmt.Fprintln(stdout, rule)
	fmt.Fprintf(stdout, "Check time: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(stdout, "Dashboard:  %s\n\n", client.BaseURL())

	m, err := client.Metrics(ctx)
	if err != nil {
		return report(stdout, stderr, "metrics", err)
	}
	fmt.Fprintln(stdout, "+ Dashboard is RUNNING")
	fmt.Fprintln(stdout, "+ Metrics API is working")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "CURRENT METRICS:")
	fmt.Fprintln(stdout, sub)
	fmt.Fprintf(stdout, "Total Transactions: %d\n", m.TotalTransactions)
	fmt.Fprintf(stdout, "Total Amount: $%s\n", m.TotalAmount.StringFixed(2))
	fmt.Fprintf(stdout, "High Risk Count: %d\n", m.HighRiskCount)
	fmt.Fprintf(stdout, "Fraud Cases: %d\n", m.FraudCount)
	fmt.Fprintf(stdout, "Last Updated: %s\n\n", m.Timestamp.Format(time.RFC3339))

	page, err := client.Transactions(ctx, apiclient.Query{})
	if err != nil {
		return report(stdout, stderr, "transactions", err)
	}
	fmt.Fprintln(stdout, "+ Transactions API is working")
	fmt.Fprintf(stdout, "+ Loaded %d transactions\n\n", len(page.Transactions))

	if n := len(page.Transactions); n > 0 {
		fmt.Fprintln(stdout, "SAMPLE TRANSACTIONS:")
		fmt.Fprintln(stdout, sub)
		for i, tx := range page.Transactions {
			if i == sampleSize {
				break
			}
			fmt.Fprintf(stdout, "%d. %s - %s - $%s - %s\n", i+1, tx.ID, tx.Merchant, tx.Amount.StringFixed(2), tx.RiskLevel)
		}
		if n > sampleSize {
			fmt.Fprintf(stdout, "   ... and %d more transactions\n", n-sampleSize)
		}
		fmt.Fprintln(stdout)
	}

	fmt.Fprintln(stdout, rule)
	fmt.Fprintln(stdout, "ENDPOINTS:")
	fmt.Fprintf(stdout, "  Web Interface: %s/\n", client.BaseURL())
	fmt.Fprintf(stdout, "  Metrics:       %s/api/metrics\n", client.BaseURL())
	fmt.Fprintf(stdout, "  Transactions:  %s/api/transactions\n", client.BaseURL())
	fmt.Fprintf(stdout, "  Search:        %s/api/search\n", client.BaseURL())
	fmt.Fprintf(stdout, "  WebSocket:     %s/ws\n", wsURL(client.BaseURL()))
	return exitOK
}

func report(stdout, stderr io.Writer, what string, err error) int {
	if errors.Is(err, apiclient.ErrUnreachable) {
		fmt.Fprintln(stdout, "- Dashboard is NOT RUNNING")
		fmt.Fprintln(stdout, "   Start it with: go run ./cmd/server")
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUnreachable
	}
	fmt.Fprintf(stdout, "- %s API error\n", what)
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitAPIError
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

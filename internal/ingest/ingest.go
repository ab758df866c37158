// Package ingest connects transaction sources to the store.
//
// A Source produces raw transactions; a Pump runs one Source, hands every
// event to a Sink, restarts the source with backoff when it fails, and marks
// it unavailable when failures persist. The store keeps serving its
// last-known contents throughout.
package ingest

import (
	"context"
	"errors"

	"github.com/mbd888/txpulse/internal/transactions"
)

// ErrAdapterUnavailable is reported while a source's circuit is open.
var ErrAdapterUnavailable = errors.New("ingest: adapter unavailable")

// EmitFunc delivers one transaction. It returns an error only when the
// pump is shutting down; rejected transactions are dropped and logged.
type EmitFunc func(ctx context.Context, tx transactions.Transaction) error

// Source is a pluggable event producer (generator, queue consumer, file tail).
type Source interface {
	Name() string
	// Run emits transactions until ctx is done (return nil or ctx.Err()),
	// the source is exhausted (return nil), or it fails (return the error).
	Run(ctx context.Context, emit EmitFunc) error
}

// Sink accepts scored transactions. *transactions.Store satisfies it.
type Sink interface {
	Ingest(ctx context.Context, tx transactions.Transaction) (transactions.Transaction, error)
}

// Observer is notified of every transaction the sink accepted.
type Observer func(ctx context.Context, tx transactions.Transaction)

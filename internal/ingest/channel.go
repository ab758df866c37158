package ingest

import (
	"context"

	"github.com/mbd888/txpulse/internal/transactions"
)

// ChannelSource adapts a Go channel into a Source for in-process producers.
// Closing the channel exhausts the source.
type ChannelSource struct {
	name string
	ch   <-chan transactions.Transaction
}

// NewChannelSource wraps ch.
func NewChannelSource(name string, ch <-chan transactions.Transaction) *ChannelSource {
	return &ChannelSource{name: name, ch: ch}
}

// Name implements Source.
func (s *ChannelSource) Name() string { return s.name }

// Run implements Source.
func (s *ChannelSource) Run(ctx context.Context, emit EmitFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tx, ok := <-s.ch:
			if !ok {
				return nil
			}
			if err := emit(ctx, tx); err != nil {
				return nil
			}
		}
	}
}

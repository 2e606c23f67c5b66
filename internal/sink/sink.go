// Package sink writes normalized records to the external store: per-kind
// snapshot hashes, bounded per-instrument trade streams, and a broadcast
// pub/sub channel. Writes are best-effort; the in-memory path never waits
// on them.
package sink

import (
	"context"

	"marketflow-engine/internal/market"
)

// Writer is the store surface the engine fans out to
type Writer interface {
	WriteTicker(ctx context.Context, t *market.Ticker) error
	WriteDepth(ctx context.Context, d *market.Depth) error
	WriteFunding(ctx context.Context, f *market.FundingRate) error
	WriteKline(ctx context.Context, k *market.Kline) error
	AppendTrade(ctx context.Context, t *market.Trade) error
	Close() error
}

// Noop discards everything; used when the external store is disabled
type Noop struct{}

func (Noop) WriteTicker(context.Context, *market.Ticker) error       { return nil }
func (Noop) WriteDepth(context.Context, *market.Depth) error         { return nil }
func (Noop) WriteFunding(context.Context, *market.FundingRate) error { return nil }
func (Noop) WriteKline(context.Context, *market.Kline) error         { return nil }
func (Noop) AppendTrade(context.Context, *market.Trade) error        { return nil }
func (Noop) Close() error                                            { return nil }

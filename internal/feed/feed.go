// Package feed is the in-process event surface: one typed stream per data
// kind plus a connection-status stream. Delivery is non-blocking; a slow
// subscriber loses frames rather than stalling the receive path.
package feed

import (
	"sync"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/metrics"
)

// CandleEvent carries a kline plus the recent history window behind it,
// copied from the cache so consumers can mutate freely.
type CandleEvent struct {
	Kline   *market.Kline
	History []market.Kline
}

// Status names a venue connection transition
type Status string

const (
	StatusConnected       Status = "connected"
	StatusDisconnected    Status = "disconnected"
	StatusReconnecting    Status = "reconnecting"
	StatusReconnectFailed Status = "reconnectFailed"
)

// StatusEvent reports a venue connection transition
type StatusEvent struct {
	Venue     market.Venue
	Status    Status
	Attempt   int    // reconnect attempt counter, when reconnecting
	Reason    string // close reason or error text, when available
	Timestamp int64  // unix milliseconds
}

// DefaultBuffer is the per-subscriber channel depth
const DefaultBuffer = 256

// Bus fans normalized records out to typed subscriber channels. Publishing
// is safe from any goroutine; per-publisher ordering is preserved because a
// publish is a synchronous loop over subscriber channels.
type Bus struct {
	mu      sync.RWMutex
	closed  bool
	buffer  int
	tickers []chan *market.Ticker
	depths  []chan *market.Depth
	trades  []chan *market.Trade
	funding []chan *market.FundingRate
	candles []chan CandleEvent
	status  []chan StatusEvent
}

// NewBus creates a bus with the given per-subscriber buffer (DefaultBuffer
// when zero).
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{buffer: buffer}
}

// SubscribeTickers registers a new ticker stream
func (b *Bus) SubscribeTickers() <-chan *market.Ticker {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *market.Ticker, b.buffer)
	b.tickers = append(b.tickers, ch)
	return ch
}

// SubscribeDepths registers a new depth stream
func (b *Bus) SubscribeDepths() <-chan *market.Depth {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *market.Depth, b.buffer)
	b.depths = append(b.depths, ch)
	return ch
}

// SubscribeTrades registers a new trade stream
func (b *Bus) SubscribeTrades() <-chan *market.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *market.Trade, b.buffer)
	b.trades = append(b.trades, ch)
	return ch
}

// SubscribeFunding registers a new funding-rate stream
func (b *Bus) SubscribeFunding() <-chan *market.FundingRate {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *market.FundingRate, b.buffer)
	b.funding = append(b.funding, ch)
	return ch
}

// SubscribeCandles registers a new candle stream
func (b *Bus) SubscribeCandles() <-chan CandleEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan CandleEvent, b.buffer)
	b.candles = append(b.candles, ch)
	return ch
}

// SubscribeStatus registers a new connection-status stream
func (b *Bus) SubscribeStatus() <-chan StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan StatusEvent, b.buffer)
	b.status = append(b.status, ch)
	return ch
}

// PublishTicker delivers to all ticker subscribers
func (b *Bus) PublishTicker(t *market.Ticker) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.tickers {
		select {
		case ch <- t:
		default:
			metrics.RecordEventDropped(string(market.KindTicker))
		}
	}
}

// PublishDepth delivers to all depth subscribers
func (b *Bus) PublishDepth(d *market.Depth) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.depths {
		select {
		case ch <- d:
		default:
			metrics.RecordEventDropped(string(market.KindDepth))
		}
	}
}

// PublishTrade delivers to all trade subscribers
func (b *Bus) PublishTrade(t *market.Trade) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.trades {
		select {
		case ch <- t:
		default:
			metrics.RecordEventDropped(string(market.KindTrade))
		}
	}
}

// PublishFunding delivers to all funding subscribers
func (b *Bus) PublishFunding(f *market.FundingRate) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.funding {
		select {
		case ch <- f:
		default:
			metrics.RecordEventDropped(string(market.KindFundingRate))
		}
	}
}

// PublishCandle delivers to all candle subscribers
func (b *Bus) PublishCandle(ev CandleEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.candles {
		select {
		case ch <- ev:
		default:
			metrics.RecordEventDropped("candle")
		}
	}
}

// PublishStatus delivers to all status subscribers
func (b *Bus) PublishStatus(ev StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.status {
		select {
		case ch <- ev:
		default:
			metrics.RecordEventDropped("status")
		}
	}
}

// Close closes every subscriber channel. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.tickers {
		close(ch)
	}
	for _, ch := range b.depths {
		close(ch)
	}
	for _, ch := range b.trades {
		close(ch)
	}
	for _, ch := range b.funding {
		close(ch)
	}
	for _, ch := range b.candles {
		close(ch)
	}
	for _, ch := range b.status {
		close(ch)
	}
}

// Package cache keeps the most recent canonical record per venue and
// symbol, plus a bounded kline series per instrument. Entries live for
// the process lifetime; there is no TTL.
package cache

import (
	"sync"

	"marketflow-engine/internal/market"
)

// Key addresses one instrument on one venue
type Key struct {
	Venue  market.Venue
	Symbol string
}

type fundingMark struct {
	rate     float64
	nextTime int64
}

// Cache is safe for concurrent use
type Cache struct {
	mu         sync.RWMutex
	maxCandles int

	tickers map[Key]*market.Ticker
	depths  map[Key]*market.Depth
	funding map[Key]*market.FundingRate
	klines  map[Key][]market.Kline

	lastFunding map[Key]fundingMark
}

// New creates a cache whose kline series are capped at maxCandles
func New(maxCandles int) *Cache {
	if maxCandles <= 0 {
		maxCandles = 1000
	}
	return &Cache{
		maxCandles:  maxCandles,
		tickers:     make(map[Key]*market.Ticker),
		depths:      make(map[Key]*market.Depth),
		funding:     make(map[Key]*market.FundingRate),
		klines:      make(map[Key][]market.Kline),
		lastFunding: make(map[Key]fundingMark),
	}
}

// SetTicker replaces the most recent ticker
func (c *Cache) SetTicker(t *market.Ticker) {
	c.mu.Lock()
	c.tickers[Key{t.Venue, t.Symbol}] = t
	c.mu.Unlock()
}

// Ticker returns the most recent ticker, or nil
func (c *Cache) Ticker(venue market.Venue, symbol string) *market.Ticker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickers[Key{venue, symbol}]
}

// AllTickers returns every venue's most recent ticker for a symbol
func (c *Cache) AllTickers(symbol string) map[market.Venue]*market.Ticker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[market.Venue]*market.Ticker)
	for k, t := range c.tickers {
		if k.Symbol == symbol {
			out[k.Venue] = t
		}
	}
	return out
}

// SetDepth replaces the most recent depth
func (c *Cache) SetDepth(d *market.Depth) {
	c.mu.Lock()
	c.depths[Key{d.Venue, d.Symbol}] = d
	c.mu.Unlock()
}

// Depth returns the most recent depth, or nil
func (c *Cache) Depth(venue market.Venue, symbol string) *market.Depth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.depths[Key{venue, symbol}]
}

// AllDepths returns every venue's most recent depth for a symbol
func (c *Cache) AllDepths(symbol string) map[market.Venue]*market.Depth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[market.Venue]*market.Depth)
	for k, d := range c.depths {
		if k.Symbol == symbol {
			out[k.Venue] = d
		}
	}
	return out
}

// SetFunding replaces the most recent funding rate and reports whether the
// (rate, nextFundingTime) pair changed since the last call for this key.
// Unchanged pairs are the dedup case: the cache still updates, the caller
// skips store writes and events.
func (c *Cache) SetFunding(f *market.FundingRate) (changed bool) {
	key := Key{f.Venue, f.Symbol}
	mark := fundingMark{rate: f.FundingRate}
	if f.NextFundingTime != nil {
		mark.nextTime = *f.NextFundingTime
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, seen := c.lastFunding[key]
	c.funding[key] = f
	if seen && prev == mark {
		return false
	}
	c.lastFunding[key] = mark
	return true
}

// Funding returns the most recent funding rate, or nil
func (c *Cache) Funding(venue market.Venue, symbol string) *market.FundingRate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.funding[Key{venue, symbol}]
}

// AllFunding returns every venue's most recent funding rate for a symbol
func (c *Cache) AllFunding(symbol string) map[market.Venue]*market.FundingRate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[market.Venue]*market.FundingRate)
	for k, f := range c.funding {
		if k.Symbol == symbol {
			out[k.Venue] = f
		}
	}
	return out
}

// PushKline appends a bar to the series, replacing the tail when the open
// time matches (the venue restreams the forming bar until it closes). The
// series is capped at maxCandles, oldest dropped first.
func (c *Cache) PushKline(k *market.Kline) {
	key := Key{k.Venue, k.Symbol}

	c.mu.Lock()
	defer c.mu.Unlock()
	series := c.klines[key]
	if n := len(series); n > 0 && series[n-1].OpenTime == k.OpenTime {
		series[n-1] = *k
		return
	}
	if len(series) >= c.maxCandles {
		copy(series, series[1:])
		series[len(series)-1] = *k
	} else {
		series = append(series, *k)
	}
	c.klines[key] = series
}

// KlineTail returns a copy of the most recent n bars, oldest first
func (c *Cache) KlineTail(venue market.Venue, symbol string, n int) []market.Kline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	series := c.klines[Key{venue, symbol}]
	if n > len(series) {
		n = len(series)
	}
	if n <= 0 {
		return nil
	}
	out := make([]market.Kline, n)
	copy(out, series[len(series)-n:])
	return out
}

// KlineCount returns the current series length
func (c *Cache) KlineCount(venue market.Venue, symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.klines[Key{venue, symbol}])
}

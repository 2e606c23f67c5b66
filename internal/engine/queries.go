package engine

import (
	"sync/atomic"

	"marketflow-engine/internal/market"
)

// venueCounters are the per-venue running totals behind Stats. All fields
// are bumped lock-free on the receive path.
type venueCounters struct {
	messages       atomic.Int64
	parseErrors    atomic.Int64
	venueErrors    atomic.Int64
	reconnects     atomic.Int64
	fundingDeduped atomic.Int64
	tickers        atomic.Int64
	depths         atomic.Int64
	trades         atomic.Int64
	funding        atomic.Int64
	klines         atomic.Int64
}

// VenueStats is one venue's counter snapshot
type VenueStats struct {
	Messages       int64 `json:"messages"`
	ParseErrors    int64 `json:"parseErrors"`
	VenueErrors    int64 `json:"venueErrors"`
	Reconnects     int64 `json:"reconnects"`
	FundingDeduped int64 `json:"fundingDeduped"`
	Tickers        int64 `json:"tickers"`
	Depths         int64 `json:"depths"`
	Trades         int64 `json:"trades"`
	Funding        int64 `json:"funding"`
	Klines         int64 `json:"klines"`
}

func (c *venueCounters) snapshot() VenueStats {
	return VenueStats{
		Messages:       c.messages.Load(),
		ParseErrors:    c.parseErrors.Load(),
		VenueErrors:    c.venueErrors.Load(),
		Reconnects:     c.reconnects.Load(),
		FundingDeduped: c.fundingDeduped.Load(),
		Tickers:        c.tickers.Load(),
		Depths:         c.depths.Load(),
		Trades:         c.trades.Load(),
		Funding:        c.funding.Load(),
		Klines:         c.klines.Load(),
	}
}

// Stats is an engine-wide counter snapshot
type Stats struct {
	Running     bool                        `json:"running"`
	StoreErrors int64                       `json:"storeErrors"`
	Venues      map[market.Venue]VenueStats `json:"venues"`
}

// ConnStatus is one venue's connection snapshot
type ConnStatus struct {
	Connected     bool `json:"connected"`
	Reconnecting  bool `json:"reconnecting"`
	Attempt       int  `json:"attempt,omitempty"`
	Connections   int  `json:"connections"`
	Subscriptions int  `json:"subscriptions"`
}

// Ticker returns the most recent cached ticker for a symbol on one venue,
// nil when nothing has arrived yet.
func (e *Engine) Ticker(symbol, vn string) (*market.Ticker, error) {
	sym, v, err := resolveQuery(symbol, vn)
	if err != nil {
		return nil, err
	}
	return e.cache.Ticker(v, sym), nil
}

// AllTickers returns every venue's most recent cached ticker for a symbol
func (e *Engine) AllTickers(symbol string) (map[market.Venue]*market.Ticker, error) {
	sym, err := market.CanonicalSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return e.cache.AllTickers(sym), nil
}

// Depth returns the most recent cached depth for a symbol on one venue,
// nil when nothing has arrived yet.
func (e *Engine) Depth(symbol, vn string) (*market.Depth, error) {
	sym, v, err := resolveQuery(symbol, vn)
	if err != nil {
		return nil, err
	}
	return e.cache.Depth(v, sym), nil
}

// AllDepths returns every venue's most recent cached depth for a symbol
func (e *Engine) AllDepths(symbol string) (map[market.Venue]*market.Depth, error) {
	sym, err := market.CanonicalSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return e.cache.AllDepths(sym), nil
}

// FundingRate returns the most recent cached funding rate for a symbol on
// one venue, nil when nothing has arrived yet.
func (e *Engine) FundingRate(symbol, vn string) (*market.FundingRate, error) {
	sym, v, err := resolveQuery(symbol, vn)
	if err != nil {
		return nil, err
	}
	return e.cache.Funding(v, sym), nil
}

// AllFundingRates returns every venue's most recent cached funding rate for
// a symbol
func (e *Engine) AllFundingRates(symbol string) (map[market.Venue]*market.FundingRate, error) {
	sym, err := market.CanonicalSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return e.cache.AllFunding(sym), nil
}

// Klines returns a copy of the most recent n cached bars for a symbol on
// one venue, oldest first.
func (e *Engine) Klines(symbol, vn string, n int) ([]market.Kline, error) {
	sym, v, err := resolveQuery(symbol, vn)
	if err != nil {
		return nil, err
	}
	return e.cache.KlineTail(v, sym, n), nil
}

// ConnectionStatus snapshots every enabled venue's connection state
func (e *Engine) ConnectionStatus() map[market.Venue]ConnStatus {
	out := make(map[market.Venue]ConnStatus, len(e.venues))
	for vn, rt := range e.venues {
		out[vn] = ConnStatus{
			Connected:     rt.pool.Connected(),
			Reconnecting:  rt.reconnect.Reconnecting(),
			Attempt:       rt.reconnect.Attempt(),
			Connections:   rt.pool.Connections(),
			Subscriptions: rt.registry.Size(),
		}
	}
	return out
}

// Stats snapshots the engine-wide counters
func (e *Engine) Stats() Stats {
	st := Stats{
		Running:     e.running.Load(),
		StoreErrors: e.storeErrors.Load(),
		Venues:      make(map[market.Venue]VenueStats, len(e.venues)),
	}
	for vn, rt := range e.venues {
		st.Venues[vn] = rt.counters.snapshot()
	}
	return st
}

func resolveQuery(symbol, vn string) (string, market.Venue, error) {
	sym, err := market.CanonicalSymbol(symbol)
	if err != nil {
		return "", "", err
	}
	v, err := market.ParseVenue(vn)
	if err != nil {
		return "", "", err
	}
	return sym, v, nil
}

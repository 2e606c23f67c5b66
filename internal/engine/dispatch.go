package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"marketflow-engine/internal/feed"
	"marketflow-engine/internal/market"
	"marketflow-engine/internal/metrics"
	"marketflow-engine/internal/venue"
)

// handleFrame is the receive path: every inbound frame of every venue
// connection lands here, on that connection's read goroutine. Per-connection
// record order is preserved because the whole path is synchronous.
func (e *Engine) handleFrame(rt *venueRuntime, connID string, frame []byte) {
	rt.counters.messages.Add(1)
	metrics.RecordMessage(string(rt.vn))

	inb, err := rt.adapter.Parse(e.class, frame)
	if err != nil {
		// one bad frame never takes the connection down
		rt.counters.parseErrors.Add(1)
		metrics.RecordParseError(string(rt.vn))
		log.Debug().Err(err).
			Str("venue", string(rt.vn)).
			Str("conn_id", connID).
			Msg("Dropped unparseable frame")
		return
	}

	switch inb.Class {
	case venue.Ack:
		log.Debug().
			Str("venue", string(rt.vn)).
			Str("channel", inb.Channel).
			Msg("Subscription acknowledged")
	case venue.ErrorFrame:
		// venue-reported protocol error: count it and recycle the socket
		// through the reconnect path
		rt.counters.venueErrors.Add(1)
		metrics.RecordConnectionError(string(rt.vn), "venue_error")
		log.Warn().Err(inb.Err).
			Str("venue", string(rt.vn)).
			Str("conn_id", connID).
			Msg("Venue reported protocol error, recycling connection")
		rt.pool.CloseConn(connID, "venue protocol error")
	case venue.Data:
		for _, rec := range inb.Records {
			e.dispatch(rt, rec)
		}
	}
	// Ignore and Pong end here; the read loop already fed the watchdog
}

// dispatch fans one canonical record out: cache, external store, event bus.
// Store writes are best-effort and never gate the in-memory path.
func (e *Engine) dispatch(rt *venueRuntime, rec market.Record) {
	market.Stamp(rec)
	meta := rec.Meta()
	metrics.RecordNormalized(string(rt.vn), string(rec.Kind()), meta.ExchangeTimestamp, meta.LocalTimestamp)

	ctx := context.Background()
	switch r := rec.(type) {
	case *market.Ticker:
		rt.counters.tickers.Add(1)
		e.cache.SetTicker(r)
		e.countStoreError(e.store.WriteTicker(ctx, r), rt)
		e.bus.PublishTicker(r)

	case *market.Depth:
		rt.counters.depths.Add(1)
		e.cache.SetDepth(r)
		e.countStoreError(e.store.WriteDepth(ctx, r), rt)
		e.bus.PublishDepth(r)

	case *market.Trade:
		rt.counters.trades.Add(1)
		e.countStoreError(e.store.AppendTrade(ctx, r), rt)
		e.bus.PublishTrade(r)

	case *market.FundingRate:
		if !e.cache.SetFunding(r) {
			rt.counters.fundingDeduped.Add(1)
			metrics.RecordFundingDeduped(string(rt.vn))
			return
		}
		rt.counters.funding.Add(1)
		e.countStoreError(e.store.WriteFunding(ctx, r), rt)
		e.bus.PublishFunding(r)

	case *market.Kline:
		rt.counters.klines.Add(1)
		e.cache.PushKline(r)
		e.countStoreError(e.store.WriteKline(ctx, r), rt)
		e.bus.PublishCandle(feed.CandleEvent{
			Kline:   r,
			History: e.cache.KlineTail(r.Venue, r.Symbol, e.cfg.Cache.HistoryCandles),
		})
	}
}

func (e *Engine) countStoreError(err error, rt *venueRuntime) {
	if err == nil {
		return
	}
	e.storeErrors.Add(1)
	log.Warn().Err(err).
		Str("venue", string(rt.vn)).
		Msg("Store write failed")
}

// Package engine is the public facade over the fan-in machinery: it owns
// one runtime (registry, pool, reconnector) per enabled venue, routes every
// inbound frame through the venue adapter into the cache, the external
// store and the event bus, and exposes subscribe/unsubscribe, queries,
// status and statistics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"marketflow-engine/internal/cache"
	"marketflow-engine/internal/config"
	"marketflow-engine/internal/feed"
	"marketflow-engine/internal/market"
	"marketflow-engine/internal/metrics"
	"marketflow-engine/internal/sink"
	"marketflow-engine/internal/stream"
	"marketflow-engine/internal/venue"
)

// ErrNotRunning is returned by facade operations before Start
var ErrNotRunning = errors.New("engine not running")

// ErrStopped is returned by Start after Stop; an engine does not restart
var ErrStopped = errors.New("engine stopped")

// venueRuntime bundles one venue's moving parts
type venueRuntime struct {
	vn        market.Venue
	adapter   venue.Adapter
	registry  *stream.Registry
	pool      *stream.Pool
	reconnect *stream.Reconnector
	counters  venueCounters
}

// Engine is the market-data fan-in engine. Construct with New, drive with
// Start/Stop, feed with Subscribe, and consume through Bus and the queries.
type Engine struct {
	cfg   config.Config
	class market.TradingClass

	bus   *feed.Bus
	cache *cache.Cache

	// store is created by Start from the Redis config; tests seat a
	// counting stub here beforehand.
	store sink.Writer

	// venues is built once in New and never mutated afterwards, so the
	// hot path reads it without locking.
	venues map[market.Venue]*venueRuntime

	mu      sync.Mutex
	running atomic.Bool
	stopped bool

	storeErrors atomic.Int64
}

// New creates an engine over the production venue adapters
func New(cfg config.Config) (*Engine, error) {
	adapters := make(map[market.Venue]venue.Adapter)
	for _, vn := range cfg.Venues() {
		ad, ok := defaultAdapter(vn)
		if !ok {
			return nil, fmt.Errorf("%w: %q", market.ErrUnknownVenue, vn)
		}
		adapters[vn] = ad
	}
	return NewWithAdapters(cfg, adapters)
}

// NewWithAdapters creates an engine over explicit adapters. Tests inject
// loopback fakes here; production callers use New.
func NewWithAdapters(cfg config.Config, adapters map[market.Venue]venue.Adapter) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		class:  cfg.Class(),
		bus:    feed.NewBus(0),
		cache:  cache.New(cfg.Cache.MaxCandles),
		venues: make(map[market.Venue]*venueRuntime),
	}
	for _, vn := range cfg.Venues() {
		ad, ok := adapters[vn]
		if !ok {
			return nil, fmt.Errorf("%w: no adapter for %q", market.ErrUnknownVenue, vn)
		}
		e.venues[vn] = e.buildRuntime(vn, ad)
	}
	return e, nil
}

// buildRuntime wires one venue's registry, pool and reconnector together.
// Only multiplexing venues get the per-socket cap; everyone else runs the
// single-connection path.
func (e *Engine) buildRuntime(vn market.Venue, ad venue.Adapter) *venueRuntime {
	rt := &venueRuntime{vn: vn, adapter: ad}
	rt.registry = stream.NewRegistry(vn)

	maxPerConn := 0
	if multiplexedVenues[vn] {
		maxPerConn = e.cfg.ConnectionPool.MaxSubscriptionsPerConnection
	}

	rt.pool = stream.NewPool(stream.PoolConfig{
		Venue:       vn,
		Class:       e.class,
		Adapter:     ad,
		MaxPerConn:  maxPerConn,
		Preload:     e.cfg.ConnectionPool.UseCombinedStream,
		Heartbeat:   e.cfg.Heartbeat,
		DataTimeout: e.cfg.DataTimeout,
		Registry:    rt.registry,
		OnFrame: func(connID string, frame []byte) {
			e.handleFrame(rt, connID, frame)
		},
		OnClose: func(connID string, cause stream.CloseCause, err error) {
			rt.reconnect.HandleClose(connID, cause, err)
		},
	})
	rt.reconnect = stream.NewReconnector(stream.ReconnectorConfig{
		Venue:    vn,
		Policy:   e.cfg.Reconnect,
		Pool:     rt.pool,
		Registry: rt.registry,
		Running:  e.running.Load,
		OnStatus: func(ev feed.StatusEvent) {
			if ev.Status == feed.StatusReconnecting {
				rt.counters.reconnects.Add(1)
			}
			e.bus.PublishStatus(ev)
		},
	})
	return rt
}

// Start opens the external store and one connection per enabled venue.
// Repeated calls are no-ops. Only an unreachable mandatory store fails the
// start; a venue that will not dial is handed to its reconnector.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return nil
	}
	if e.stopped {
		return ErrStopped
	}

	if e.store == nil {
		if e.cfg.EnableRedis {
			st, err := sink.NewRedis(ctx, sink.Options{
				Addr:         e.cfg.Redis.Addr(),
				Password:     e.cfg.Redis.Password,
				DB:           e.cfg.Redis.DB,
				KeyPrefix:    e.cfg.Redis.KeyPrefix,
				StreamMaxLen: e.cfg.Stream.MaxLen,
				TrimApprox:   e.cfg.Stream.TrimApprox,
			})
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			e.store = st
		} else {
			e.store = sink.Noop{}
		}
	}

	e.running.Store(true)

	for vn, rt := range e.venues {
		if err := rt.pool.Ensure(ctx); err != nil {
			log.Error().Err(err).
				Str("venue", string(vn)).
				Msg("Initial connect failed, scheduling reconnect")
			metrics.RecordConnectionError(string(vn), "connect_failed")
			rt.reconnect.Kick()
			continue
		}
		metrics.RecordConnectionStatus(string(vn), true)
		e.bus.PublishStatus(feed.StatusEvent{
			Venue:     vn,
			Status:    feed.StatusConnected,
			Timestamp: market.NowMillis(),
		})
	}

	log.Info().
		Int("venues", len(e.venues)).
		Str("class", string(e.class)).
		Bool("redis", e.cfg.EnableRedis).
		Msg("Market data engine started")
	return nil
}

// Stop closes every connection with a normal closure, cancels pending
// reconnects, closes the store clients and the event bus. Repeated calls
// are no-ops; a stopped engine does not restart.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Load() {
		return
	}
	e.running.Store(false)
	e.stopped = true

	for vn, rt := range e.venues {
		rt.reconnect.Stop()
		rt.pool.Shutdown()
		metrics.RecordConnectionStatus(string(vn), false)
	}

	if err := e.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Store close failed")
	}
	e.bus.Close()

	log.Info().Msg("Market data engine stopped")
}

// Bus returns the in-process event surface
func (e *Engine) Bus() *feed.Bus {
	return e.bus
}

package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"marketflow-engine/internal/config"
	"marketflow-engine/internal/market"
	"marketflow-engine/internal/metrics"
	"marketflow-engine/internal/venue"
)

// PoolConfig wires one venue's connection pool
type PoolConfig struct {
	Venue   market.Venue
	Class   market.TradingClass
	Adapter venue.Adapter

	// MaxPerConn caps the carried set of one socket; zero means a single
	// uncapped connection.
	MaxPerConn int

	// Preload hands the pending key to the endpoint resolver so venues
	// that multiplex subscriptions into the URL (Binance combined
	// streams) come up already subscribed. Venues without that facility
	// ignore the preload argument either way.
	Preload bool

	Heartbeat   config.HeartbeatConfig
	DataTimeout config.DataTimeoutConfig

	Registry *Registry
	OnFrame  FrameFunc
	OnClose  CloseFunc
}

type poolEntry struct {
	conn      *Conn
	carried   map[market.Subscription]struct{}
	preloaded map[market.Subscription]struct{}
}

// Pool manages one venue's connections and the seating of subscription
// keys onto them. All mutations are serialized under the pool mutex; a
// venue with no per-socket cap runs exactly one connection through the
// same code paths.
type Pool struct {
	cfg PoolConfig

	mu    sync.Mutex
	conns map[string]*poolEntry
	order []string // creation order, oldest first
}

// NewPool creates an empty pool
func NewPool(cfg PoolConfig) *Pool {
	return &Pool{
		cfg:   cfg,
		conns: make(map[string]*poolEntry),
	}
}

// AcquireFor returns an open connection with room for one more key,
// dialing a fresh one preloaded with the key when every existing
// connection is at the cap.
func (p *Pool) AcquireFor(ctx context.Context, sub market.Subscription) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.order {
		e := p.conns[id]
		if e.conn.State() != StateOpen {
			continue
		}
		if p.cfg.MaxPerConn == 0 || len(e.carried) < p.cfg.MaxPerConn {
			return id, nil
		}
	}
	return p.dialLocked(ctx, []market.Subscription{sub})
}

// Ensure opens the venue's first connection when none is live yet, so a
// venue is connected before any subscription lands on it.
func (p *Pool) Ensure(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.order {
		if p.conns[id].conn.State() == StateOpen {
			return nil
		}
	}
	_, err := p.dialLocked(ctx, nil)
	return err
}

// dialLocked resolves the endpoint (running any pre-session handshake the
// venue needs) and opens a connection. Callers hold p.mu.
func (p *Pool) dialLocked(ctx context.Context, preload []market.Subscription) (string, error) {
	if !p.cfg.Preload {
		preload = nil
	}
	ep, err := p.cfg.Adapter.Endpoint(ctx, p.cfg.Class, preload)
	if err != nil {
		return "", fmt.Errorf("%s endpoint: %w", p.cfg.Venue, err)
	}

	var hbInterval time.Duration
	if p.cfg.Heartbeat.Enabled {
		hbInterval = p.cfg.Heartbeat.Interval.D()
		if ep.HeartbeatInterval > 0 {
			// the venue handshake dictated its own cadence
			hbInterval = ep.HeartbeatInterval
		}
	}
	var dataTimeout, checkInterval time.Duration
	if p.cfg.DataTimeout.Enabled {
		dataTimeout = p.cfg.DataTimeout.Timeout.D()
		checkInterval = p.cfg.DataTimeout.CheckInterval.D()
	}

	conn := NewConn(ConnConfig{
		Venue:             p.cfg.Venue,
		URL:               ep.URL,
		Heartbeat:         p.cfg.Adapter.Heartbeat(p.cfg.Class),
		HeartbeatInterval: hbInterval,
		DataTimeout:       dataTimeout,
		CheckInterval:     checkInterval,
		OnFrame:           p.cfg.OnFrame,
		OnClose:           p.onConnClose,
	})
	if err := conn.Open(ctx); err != nil {
		return "", err
	}

	entry := &poolEntry{
		conn:      conn,
		carried:   make(map[market.Subscription]struct{}),
		preloaded: make(map[market.Subscription]struct{}),
	}
	for _, s := range ep.Preloaded {
		entry.preloaded[s] = struct{}{}
	}
	p.conns[conn.ID()] = entry
	p.order = append(p.order, conn.ID())
	metrics.SetActiveConnections(string(p.cfg.Venue), len(p.conns))
	return conn.ID(), nil
}

// onConnClose drops the pool entry and forwards to the configured close
// handler (the reconnector, in production wiring).
func (p *Pool) onConnClose(connID string, cause CloseCause, err error) {
	p.mu.Lock()
	delete(p.conns, connID)
	for i, id := range p.order {
		if id == connID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	n := len(p.conns)
	p.mu.Unlock()

	metrics.SetActiveConnections(string(p.cfg.Venue), n)
	if p.cfg.OnClose != nil {
		p.cfg.OnClose(connID, cause, err)
	}
}

// AddSubscription seats a key on a connection, sending the subscribe
// frames unless the key was baked into the connection URL at dial time.
func (p *Pool) AddSubscription(ctx context.Context, connID string, sub market.Subscription) error {
	p.mu.Lock()
	e, ok := p.conns[connID]
	if !ok {
		p.mu.Unlock()
		return ErrNotConnected
	}
	if _, dup := e.carried[sub]; dup {
		p.mu.Unlock()
		return nil
	}
	_, preloaded := e.preloaded[sub]
	conn := e.conn
	e.carried[sub] = struct{}{}
	p.mu.Unlock()

	p.cfg.Registry.Seat(sub, connID)
	if preloaded {
		return nil
	}

	frames, err := p.cfg.Adapter.SubscribeFrames(p.cfg.Class, []market.Subscription{sub})
	if err != nil {
		p.mu.Lock()
		if e, ok := p.conns[connID]; ok {
			delete(e.carried, sub)
		}
		p.mu.Unlock()
		p.cfg.Registry.Unseat(sub)
		return err
	}

	log.Debug().
		Str("venue", string(p.cfg.Venue)).
		Str("conn_id", connID).
		Str("subscription", sub.String()).
		Msg("Subscribing")

	// A send failure leaves the seat in place: the dying connection's
	// close handler unseats it and the reconnect path replays it.
	for _, frame := range frames {
		if err := conn.Send(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe acquires a connection for the key and seats it there
func (p *Pool) Subscribe(ctx context.Context, sub market.Subscription) error {
	connID, err := p.AcquireFor(ctx, sub)
	if err != nil {
		return err
	}
	return p.AddSubscription(ctx, connID, sub)
}

// RemoveSubscription unsubscribes a key from whichever connection carries
// it. Unknown keys are no-ops.
func (p *Pool) RemoveSubscription(ctx context.Context, sub market.Subscription) error {
	connID, ok := p.cfg.Registry.SeatOf(sub)
	if !ok {
		return nil
	}

	p.mu.Lock()
	var conn *Conn
	if e, live := p.conns[connID]; live {
		delete(e.carried, sub)
		conn = e.conn
	}
	p.mu.Unlock()
	p.cfg.Registry.Unseat(sub)
	if conn == nil {
		return nil
	}

	frames, err := p.cfg.Adapter.UnsubscribeFrames(p.cfg.Class, []market.Subscription{sub})
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := conn.Send(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

// Reseat replays every desired-but-unseated key, grouping them onto
// connections under the cap. With nothing to replay it still ensures one
// live connection so the venue comes back connected.
func (p *Pool) Reseat(ctx context.Context) error {
	subs := p.cfg.Registry.Unseated()
	if len(subs) == 0 {
		return p.Ensure(ctx)
	}
	for _, sub := range subs {
		if err := p.Subscribe(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// CloseConn aborts one pooled connection after a venue-reported protocol
// error; its keys replay through the close handler. Unknown ids are no-ops.
func (p *Pool) CloseConn(connID, reason string) {
	p.mu.Lock()
	e, ok := p.conns[connID]
	p.mu.Unlock()
	if ok {
		e.conn.Abort(reason)
	}
}

// Shutdown closes every connection with a normal closure. The registry's
// desired set survives; seats clear through the close handlers.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.conns))
	for _, e := range p.conns {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.conn.Close()
	}
}

// Connected reports whether at least one socket is open
func (p *Pool) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.conns {
		if e.conn.State() == StateOpen {
			return true
		}
	}
	return false
}

// Connections returns the number of pooled sockets
func (p *Pool) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Carried returns the per-connection carried-set sizes, oldest first
func (p *Pool) Carried() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, len(p.conns[id].carried))
	}
	return out
}

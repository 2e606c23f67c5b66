package stream

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"marketflow-engine/internal/config"
	"marketflow-engine/internal/feed"
	"marketflow-engine/internal/market"
	"marketflow-engine/internal/metrics"
)

// dialTimeout bounds one reconnect attempt, endpoint handshake included
const dialTimeout = 30 * time.Second

// ReconnectorConfig wires one venue's reconnector
type ReconnectorConfig struct {
	Venue    market.Venue
	Policy   config.ReconnectConfig
	Pool     *Pool
	Registry *Registry

	// Running reports whether the engine is still up; a pending retry
	// observing false self-cancels.
	Running func() bool

	// OnStatus receives venue connection transitions
	OnStatus func(feed.StatusEvent)
}

// Reconnector drives one venue's backoff schedule after a socket loss.
// Retries never overlap: while one sequence is in flight, further close
// notifications only unseat their keys and the in-flight Reseat picks
// them up. A successful attempt resets the counter.
type Reconnector struct {
	cfg ReconnectorConfig

	mu           sync.Mutex
	attempt      int
	reconnecting bool

	stop     chan struct{}
	stopOnce sync.Once

	jitter func() time.Duration
}

// NewReconnector creates a reconnector for one venue
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	return &Reconnector{
		cfg:    cfg,
		stop:   make(chan struct{}),
		jitter: defaultJitter,
	}
}

func defaultJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(time.Second)))
}

// Backoff returns the delay before the given attempt: the base delay
// doubled per attempt plus up to one second of jitter, capped at the
// configured maximum.
func (r *Reconnector) Backoff(attempt int) time.Duration {
	delay := r.cfg.Policy.BaseDelay.D()
	maxDelay := r.cfg.Policy.MaxDelay.D()
	for i := 1; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	delay += r.jitter()
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Stop cancels any pending retry sleep. Safe to call more than once.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Reconnecting reports whether a retry sequence is in flight
func (r *Reconnector) Reconnecting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnecting
}

// Attempt returns the current attempt counter, zero after a success
func (r *Reconnector) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// Kick starts a retry sequence when none is in flight. Dial failures with
// no socket to close (the initial connect, a subscribe that could not
// acquire a connection) land here instead of HandleClose.
func (r *Reconnector) Kick() {
	if !r.cfg.Policy.Enabled {
		return
	}
	if r.cfg.Running != nil && !r.cfg.Running() {
		return
	}
	r.begin()
}

// begin claims the reconnecting flag and spawns the retry loop
func (r *Reconnector) begin() {
	r.mu.Lock()
	if r.reconnecting {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	go r.retryLoop()
}

// HandleClose is the pool's close handler. It unseats the dead
// connection's keys and, unless the engine is stopping, starts the
// backoff sequence that replays them.
func (r *Reconnector) HandleClose(connID string, cause CloseCause, err error) {
	dropped := r.cfg.Registry.ClearConn(connID)

	if !r.cfg.Pool.Connected() {
		metrics.RecordConnectionStatus(string(r.cfg.Venue), false)
		reason := cause.String()
		if err != nil {
			reason = err.Error()
		}
		r.notify(feed.StatusDisconnected, 0, reason)
	}

	if cause == CauseStop || !r.cfg.Policy.Enabled {
		return
	}
	if r.cfg.Running != nil && !r.cfg.Running() {
		return
	}
	if len(dropped) == 0 && r.cfg.Pool.Connected() {
		// nothing to replay and the venue still has live sockets
		return
	}

	r.begin()
}

func (r *Reconnector) retryLoop() {
	defer func() {
		r.mu.Lock()
		r.reconnecting = false
		r.mu.Unlock()
	}()

	for {
		if r.cfg.Running != nil && !r.cfg.Running() {
			return
		}

		r.mu.Lock()
		r.attempt++
		attempt := r.attempt
		r.mu.Unlock()

		if max := r.cfg.Policy.MaxAttempts; max > 0 && attempt > max {
			log.Error().
				Str("venue", string(r.cfg.Venue)).
				Int("attempts", max).
				Msg("Reconnect abandoned after max attempts")
			metrics.RecordReconnectFailed(string(r.cfg.Venue))
			r.notify(feed.StatusReconnectFailed, attempt-1, "max attempts exceeded")
			return
		}

		delay := r.Backoff(attempt)
		log.Warn().
			Str("venue", string(r.cfg.Venue)).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Reconnecting venue WebSocket")
		metrics.RecordReconnect(string(r.cfg.Venue))
		r.notify(feed.StatusReconnecting, attempt, "")

		select {
		case <-r.stop:
			return
		case <-time.After(delay):
		}
		if r.cfg.Running != nil && !r.cfg.Running() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := r.cfg.Pool.Reseat(ctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).
				Str("venue", string(r.cfg.Venue)).
				Int("attempt", attempt).
				Msg("Reconnect attempt failed")
			continue
		}

		r.mu.Lock()
		r.attempt = 0
		r.mu.Unlock()
		metrics.RecordConnectionStatus(string(r.cfg.Venue), true)
		r.notify(feed.StatusConnected, 0, "")

		// Keys unseated while we were reseating go around again
		if len(r.cfg.Registry.Unseated()) == 0 {
			return
		}
	}
}

func (r *Reconnector) notify(status feed.Status, attempt int, reason string) {
	if r.cfg.OnStatus == nil {
		return
	}
	r.cfg.OnStatus(feed.StatusEvent{
		Venue:     r.cfg.Venue,
		Status:    status,
		Attempt:   attempt,
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	})
}

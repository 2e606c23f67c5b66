// Package stream owns the transport layer: one Conn per live socket, a
// per-venue Pool seating subscription keys onto connections, the Registry
// of desired subscriptions, and the Reconnector replaying them after a
// socket loss. Venue adapters never touch sockets; this package never
// parses frames.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/metrics"
	"marketflow-engine/internal/venue"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	sendQueueSize    = 64

	// Binance rejects clients sending more than 5 control messages per
	// second; the strictest venue bounds the pacing for everyone.
	controlRate  = 5
	controlBurst = 5
)

// CloseCodeStarvation is sent when the watchdog closes a silent socket,
// distinguishable on the wire from the normal closure a stop sends.
const CloseCodeStarvation = 4001

// CloseCause classifies why a connection ended
type CloseCause int

const (
	// CauseStop is an orderly close; the reconnector must not chase it
	CauseStop CloseCause = iota
	// CauseStarvation is a watchdog-forced close on a silent socket
	CauseStarvation
	// CauseError is a transport failure or a remote close
	CauseError
)

func (c CloseCause) String() string {
	switch c {
	case CauseStop:
		return "stop"
	case CauseStarvation:
		return "starvation"
	default:
		return "error"
	}
}

// State tracks the connection lifecycle. Transitions are linear;
// StateClosed is reachable from any prior state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// ErrNotConnected is returned by Send when the socket is not open
var ErrNotConnected = errors.New("connection not open")

// FrameFunc receives every inbound frame in arrival order
type FrameFunc func(connID string, frame []byte)

// CloseFunc is called exactly once when a connection dies
type CloseFunc func(connID string, cause CloseCause, err error)

// ConnConfig wires one connection
type ConnConfig struct {
	Venue market.Venue
	URL   string

	// Heartbeat is the venue's keepalive form; HeartbeatInterval of zero
	// disables the ticker.
	Heartbeat         venue.Heartbeat
	HeartbeatInterval time.Duration

	// DataTimeout of zero disables the starvation watchdog
	DataTimeout   time.Duration
	CheckInterval time.Duration

	OnFrame FrameFunc
	OnClose CloseFunc
}

// Conn wraps one live websocket session. The write loop is the only
// goroutine touching the data-frame writer: Send enqueues, heartbeats and
// the watchdog share its select, and the rate limiter paces every
// outbound control message.
type Conn struct {
	id  string
	cfg ConnConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	ws    *websocket.Conn
	state State
	cause CloseCause

	sendq     chan []byte
	limiter   *rate.Limiter
	lastData  atomic.Int64 // unix ms of the last inbound frame
	closeOnce sync.Once
}

// NewConn creates an unopened connection
func NewConn(cfg ConnConfig) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:      uuid.NewString(),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateConnecting,
		sendq:   make(chan []byte, sendQueueSize),
		limiter: rate.NewLimiter(controlRate, controlBurst),
	}
}

// ID returns the connection identifier
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastData reports when the socket last produced an inbound frame
func (c *Conn) LastData() time.Time {
	return time.UnixMilli(c.lastData.Load())
}

// Open dials the endpoint and starts the read and write loops
func (c *Conn) Open(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.cancel()
		return fmt.Errorf("failed to connect to %s WebSocket: %w", c.cfg.Venue, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()
	c.lastData.Store(time.Now().UnixMilli())

	log.Info().
		Str("venue", string(c.cfg.Venue)).
		Str("conn_id", c.id).
		Str("url", c.cfg.URL).
		Msg("WebSocket connected")

	go c.readLoop()
	go c.writeLoop()

	return nil
}

// Send enqueues one outbound frame. It returns once the frame is handed
// to the write loop; actual transmission is paced by the limiter.
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open {
		return ErrNotConnected
	}
	select {
	case c.sendq <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the session with a normal closure. Safe to call more than
// once; the close handler still fires exactly once, with CauseStop.
func (c *Conn) Close() {
	c.shutdown(CauseStop, websocket.CloseNormalClosure, "shutdown")
}

// Abort ends the session after a venue-reported protocol error. The close
// handler sees CauseError, so the reconnector re-establishes the session.
func (c *Conn) Abort(reason string) {
	c.shutdown(CauseError, websocket.CloseProtocolError, reason)
}

// shutdown records the cause, stops the write loop and closes the socket.
// Whichever path gets here first wins; the read loop observes the dead
// socket and finishes the teardown.
func (c *Conn) shutdown(cause CloseCause, code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cause = cause
		if c.state == StateOpen || c.state == StateConnecting {
			c.state = StateClosing
		}
		ws := c.ws
		c.mu.Unlock()

		c.cancel()
		if ws != nil {
			deadline := time.Now().Add(writeTimeout)
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			_ = ws.Close()
		}
	})
}

// readLoop delivers inbound frames in arrival order and owns the final
// close notification.
func (c *Conn) readLoop() {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		c.lastData.Store(time.Now().UnixMilli())
		if c.cfg.OnFrame != nil {
			c.cfg.OnFrame(c.id, frame)
		}
	}
}

func (c *Conn) finish(readErr error) {
	// No-op when a stop or the watchdog got here first; the recorded
	// cause survives.
	c.shutdown(CauseError, websocket.CloseAbnormalClosure, "")

	c.mu.Lock()
	c.state = StateClosed
	cause := c.cause
	c.mu.Unlock()

	log.Info().
		Str("venue", string(c.cfg.Venue)).
		Str("conn_id", c.id).
		Str("cause", cause.String()).
		Msg("WebSocket closed")

	if c.cfg.OnClose != nil {
		c.cfg.OnClose(c.id, cause, readErr)
	}
}

// writeLoop owns all data-frame writes: queued sends, heartbeat ticks and
// watchdog checks share one select so the socket has a single writer.
func (c *Conn) writeLoop() {
	var heartbeatC, watchdogC <-chan time.Time
	if c.cfg.HeartbeatInterval > 0 {
		heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
		defer heartbeat.Stop()
		heartbeatC = heartbeat.C
	}
	if c.cfg.DataTimeout > 0 && c.cfg.CheckInterval > 0 {
		watchdog := time.NewTicker(c.cfg.CheckInterval)
		defer watchdog.Stop()
		watchdogC = watchdog.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.sendq:
			if err := c.write(frame); err != nil {
				log.Warn().Err(err).
					Str("venue", string(c.cfg.Venue)).
					Str("conn_id", c.id).
					Msg("Write failed")
				metrics.RecordConnectionError(string(c.cfg.Venue), "write")
				c.shutdown(CauseError, websocket.CloseAbnormalClosure, "")
				return
			}
		case <-heartbeatC:
			c.sendHeartbeat()
		case <-watchdogC:
			if c.starved() {
				c.trip()
				return
			}
		}
	}
}

func (c *Conn) write(frame []byte) error {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) sendHeartbeat() {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return
	}
	var err error
	if c.cfg.Heartbeat.Transport {
		err = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
	} else if c.cfg.Heartbeat.Payload != nil {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		err = c.ws.WriteMessage(websocket.TextMessage, c.cfg.Heartbeat.Payload())
	}
	if err != nil {
		log.Warn().Err(err).
			Str("venue", string(c.cfg.Venue)).
			Str("conn_id", c.id).
			Msg("Heartbeat write failed")
		metrics.RecordConnectionError(string(c.cfg.Venue), "heartbeat")
	}
}

func (c *Conn) starved() bool {
	return time.Now().UnixMilli()-c.lastData.Load() > c.cfg.DataTimeout.Milliseconds()
}

// trip closes a silent socket with the starvation code so the close
// handler reconnects instead of treating it as an orderly stop.
func (c *Conn) trip() {
	log.Warn().
		Str("venue", string(c.cfg.Venue)).
		Str("conn_id", c.id).
		Int64("silent_ms", time.Now().UnixMilli()-c.lastData.Load()).
		Msg("No data within timeout, forcing reconnect")
	metrics.RecordWatchdogTrip(string(c.cfg.Venue))
	c.shutdown(CauseStarvation, CloseCodeStarvation, "data starvation")
}

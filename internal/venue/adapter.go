// Package venue defines the capability interface every exchange adapter
// implements: endpoint selection, subscribe/unsubscribe frame assembly,
// the venue's heartbeat form, and inbound frame parsing into canonical
// records. Adapters never own sockets; the stream package does.
package venue

import (
	"context"
	"errors"
	"time"

	"marketflow-engine/internal/market"
)

// FrameClass tags what an inbound frame turned out to be
type FrameClass int

const (
	// Ignore is a frame the engine has no use for (welcome banners,
	// system status, snapshots of feeds nobody asked for)
	Ignore FrameClass = iota
	// Ack confirms a subscribe or unsubscribe
	Ack
	// Pong answers our heartbeat
	Pong
	// ErrorFrame is a venue-reported protocol error
	ErrorFrame
	// Data carries one or more normalized records
	Data
)

// Inbound is the parsed form of one venue frame
type Inbound struct {
	Class   FrameClass
	Channel string          // venue channel/topic, for data frames
	Records []market.Record // normalized records, frame order preserved
	Err     error           // set for ErrorFrame
}

// Heartbeat describes the keepalive a venue expects. Transport means a
// websocket ping control frame; otherwise Payload is sent as a text frame.
// Payload may be a builder when the venue wants fresh ids or timestamps.
type Heartbeat struct {
	Transport bool
	Payload   func() []byte
}

// Endpoint is the resolved transport target for one session
type Endpoint struct {
	URL string
	// HeartbeatInterval overrides the configured interval when the venue
	// dictates its own (KuCoin returns one with the token handshake).
	HeartbeatInterval time.Duration
	// Preloaded lists subscriptions already encoded into the URL
	// (Binance combined streams); no subscribe frames needed for them.
	Preloaded []market.Subscription
}

// ErrUnsupported is returned when a venue has no channel for a kind in the
// requested trading class (funding rates on a spot session, for instance).
var ErrUnsupported = errors.New("kind not supported by venue")

// Adapter is the per-venue capability set
type Adapter interface {
	Venue() market.Venue

	// Endpoint resolves the transport URL for a class, performing any
	// pre-session handshake the venue requires. Venues that multiplex
	// subscriptions into the URL receive the initial set via preload.
	Endpoint(ctx context.Context, class market.TradingClass, preload []market.Subscription) (Endpoint, error)

	// SubscribeFrames builds the wire frames that subscribe subs
	SubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error)

	// UnsubscribeFrames builds the wire frames that remove subs
	UnsubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error)

	// Heartbeat returns the venue's keepalive form
	Heartbeat(class market.TradingClass) Heartbeat

	// Parse classifies one inbound frame and normalizes its records.
	// A nil error with Class=Ignore means the frame was valid but
	// uninteresting; an error means the frame was unparseable and the
	// caller should count and drop it.
	Parse(class market.TradingClass, frame []byte) (*Inbound, error)
}

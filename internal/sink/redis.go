package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/metrics"
)

// BroadcastChannel is the single pub/sub channel all records fan out on
const BroadcastChannel = "market_data"

// Options configures the Redis sink
type Options struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	StreamMaxLen int64
	TrimApprox   bool
}

// Redis writes snapshots to hashes, trades to capped streams, and every
// record to the broadcast channel. It holds two clients: key/value writes
// must not block behind a slow pub/sub pipeline, so publishes get their own.
type Redis struct {
	opts    Options
	kv      *redis.Client
	pub     *redis.Client
	breaker *gobreaker.CircuitBreaker
	now     func() int64
}

// envelope is the broadcast payload shape
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// NewRedis connects both clients and verifies the store is reachable
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	if opts.StreamMaxLen <= 0 {
		opts.StreamMaxLen = 1000
	}

	kv := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := kv.Ping(ctx).Err(); err != nil {
		kv.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	pub := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := pub.Ping(ctx).Err(); err != nil {
		kv.Close()
		pub.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Redis{
		opts:    opts,
		kv:      kv,
		pub:     pub,
		breaker: newBreaker(),
		now:     market.NowMillis,
	}, nil
}

func newBreaker() *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: "redis-sink"}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	st.Timeout = 10 * time.Second
	return gobreaker.NewCircuitBreaker(st)
}

// Close closes both clients
func (s *Redis) Close() error {
	err := s.kv.Close()
	if perr := s.pub.Close(); err == nil {
		err = perr
	}
	return err
}

func (s *Redis) key(parts ...string) string {
	key := parts[0]
	for _, p := range parts[1:] {
		key += ":" + p
	}
	return s.opts.KeyPrefix + key
}

// hashFamily maps a record kind onto its snapshot key family
func hashFamily(kind market.DataKind) string {
	switch kind {
	case market.KindFundingRate:
		return "funding"
	default:
		return string(kind)
	}
}

func (s *Redis) writeSnapshot(ctx context.Context, r market.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", r.Kind(), err)
	}

	meta := r.Meta()
	key := s.key("market", hashFamily(r.Kind()), meta.Symbol)
	field := string(meta.Venue) + ":" + meta.Symbol

	timer := metrics.NewTimer()
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.kv.HSet(ctx, key, field, data).Err()
	})
	timer.ObserveDuration(metrics.StoreWriteDuration, "hset")
	metrics.RecordStoreWrite("hset", err)
	if err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}

	return s.broadcast(ctx, r.Kind(), data)
}

// broadcast publishes the {type, data, timestamp} envelope
func (s *Redis) broadcast(ctx context.Context, kind market.DataKind, data []byte) error {
	body, err := json.Marshal(envelope{
		Type:      string(kind),
		Data:      data,
		Timestamp: s.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	timer := metrics.NewTimer()
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.pub.Publish(ctx, s.opts.KeyPrefix+BroadcastChannel, body).Err()
	})
	timer.ObserveDuration(metrics.StoreWriteDuration, "publish")
	metrics.RecordStoreWrite("publish", err)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// WriteTicker stores the ticker snapshot and broadcasts it
func (s *Redis) WriteTicker(ctx context.Context, t *market.Ticker) error {
	return s.writeSnapshot(ctx, t)
}

// WriteDepth stores the depth snapshot and broadcasts it
func (s *Redis) WriteDepth(ctx context.Context, d *market.Depth) error {
	return s.writeSnapshot(ctx, d)
}

// WriteFunding stores the funding snapshot and broadcasts it
func (s *Redis) WriteFunding(ctx context.Context, f *market.FundingRate) error {
	return s.writeSnapshot(ctx, f)
}

// WriteKline stores the kline snapshot and broadcasts it
func (s *Redis) WriteKline(ctx context.Context, k *market.Kline) error {
	return s.writeSnapshot(ctx, k)
}

// AppendTrade appends to the per-instrument capped stream and broadcasts
func (s *Redis) AppendTrade(ctx context.Context, t *market.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}

	stream := s.key("market", "trades", string(t.Venue), t.Symbol)
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: s.opts.StreamMaxLen,
		Approx: s.opts.TrimApprox,
		Values: map[string]interface{}{"data": string(data)},
	}

	timer := metrics.NewTimer()
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.kv.XAdd(ctx, args).Err()
	})
	timer.ObserveDuration(metrics.StoreWriteDuration, "xadd")
	metrics.RecordStoreWrite("xadd", err)
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}

	return s.broadcast(ctx, market.KindTrade, data)
}

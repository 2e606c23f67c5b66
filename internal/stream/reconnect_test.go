package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow-engine/internal/config"
	"marketflow-engine/internal/feed"
	"marketflow-engine/internal/market"
)

// statusLog collects status events across goroutines
type statusLog struct {
	mu  sync.Mutex
	evs []feed.StatusEvent
}

func (s *statusLog) add(ev feed.StatusEvent) {
	s.mu.Lock()
	s.evs = append(s.evs, ev)
	s.mu.Unlock()
}

func (s *statusLog) has(st feed.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.evs {
		if ev.Status == st {
			return true
		}
	}
	return false
}

func (s *statusLog) list() []feed.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feed.StatusEvent(nil), s.evs...)
}

func fastPolicy() config.ReconnectConfig {
	return config.ReconnectConfig{
		Enabled:     true,
		MaxAttempts: 10,
		BaseDelay:   config.Duration(10 * time.Millisecond),
		MaxDelay:    config.Duration(50 * time.Millisecond),
	}
}

// newReconnectHarness wires a pool, registry and reconnector the way the
// engine does, with zero jitter for determinism.
func newReconnectHarness(t *testing.T, fv *fakeVenue, vn market.Venue, policy config.ReconnectConfig, running *atomic.Bool) (*Pool, *Registry, *Reconnector, *fakeAdapter, *statusLog) {
	t.Helper()
	ad := &fakeAdapter{vn: vn, url: fv.URL()}
	reg := NewRegistry(vn)
	sl := &statusLog{}

	var rec *Reconnector
	pool := NewPool(PoolConfig{
		Venue:    vn,
		Class:    market.LinearPerpetual,
		Adapter:  ad,
		Registry: reg,
		OnClose: func(connID string, cause CloseCause, err error) {
			rec.HandleClose(connID, cause, err)
		},
	})
	rec = NewReconnector(ReconnectorConfig{
		Venue:    vn,
		Policy:   policy,
		Pool:     pool,
		Registry: reg,
		Running:  running.Load,
		OnStatus: sl.add,
	})
	rec.jitter = func() time.Duration { return 0 }

	t.Cleanup(func() {
		running.Store(false)
		rec.Stop()
		pool.Shutdown()
	})
	return pool, reg, rec, ad, sl
}

func runningFlag(v bool) *atomic.Bool {
	var b atomic.Bool
	b.Store(v)
	return &b
}

func TestReconnector_BackoffSchedule(t *testing.T) {
	rec := NewReconnector(ReconnectorConfig{
		Venue: market.Binance,
		Policy: config.ReconnectConfig{
			Enabled:   true,
			BaseDelay: config.Duration(time.Second),
			MaxDelay:  config.Duration(30 * time.Second),
		},
	})
	rec.jitter = func() time.Duration { return 0 }

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	prev := time.Duration(0)
	for i, expected := range want {
		got := rec.Backoff(i + 1)
		assert.Equal(t, expected, got, "attempt %d", i+1)
		assert.GreaterOrEqual(t, got, prev, "delays never shrink")
		prev = got
	}

	// jitter widens the delay but never pierces the cap
	rec.jitter = func() time.Duration { return time.Second }
	assert.Equal(t, 2*time.Second, rec.Backoff(1))
	assert.Equal(t, 30*time.Second, rec.Backoff(10))
}

func TestReconnector_ReplaysSubscriptionsAfterDrop(t *testing.T) {
	fv := newFakeVenue(t, nil)
	pool, reg, _, _, sl := newReconnectHarness(t, fv, market.Bybit, fastPolicy(), runningFlag(true))

	subs := []market.Subscription{
		{Kind: market.KindTicker, Symbol: "BTC/USDT"},
		{Kind: market.KindDepth, Symbol: "ETH/USDT"},
	}
	for _, sub := range subs {
		reg.Want(sub)
		require.NoError(t, pool.Subscribe(context.Background(), sub))
	}
	require.Eventually(t, func() bool {
		return len(framesWithPrefix(fv.Frames(), "sub:")) == len(subs)
	}, 2*time.Second, 10*time.Millisecond)

	fv.DropAll()

	// a fresh socket comes up and replays both keys
	require.Eventually(t, func() bool {
		return fv.Accepted() == 2 &&
			len(framesWithPrefix(fv.Frames(), "sub:")) == 2*len(subs)
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(reg.Unseated()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, len(subs), reg.Size(), "the desired set survives the drop")
	for _, sub := range subs {
		_, seated := reg.SeatOf(sub)
		assert.True(t, seated, "%s must be reseated", sub)
	}
	assert.True(t, pool.Connected())

	assert.True(t, sl.has(feed.StatusDisconnected))
	assert.True(t, sl.has(feed.StatusReconnecting))
	assert.True(t, sl.has(feed.StatusConnected))
}

func TestReconnector_GivesUpAfterMaxAttempts(t *testing.T) {
	fv := newFakeVenue(t, nil)
	policy := config.ReconnectConfig{
		Enabled:     true,
		MaxAttempts: 2,
		BaseDelay:   config.Duration(5 * time.Millisecond),
		MaxDelay:    config.Duration(20 * time.Millisecond),
	}
	pool, reg, rec, _, sl := newReconnectHarness(t, fv, market.Gate, policy, runningFlag(true))

	sub := market.Subscription{Kind: market.KindTicker, Symbol: "BTC/USDT"}
	reg.Want(sub)
	require.NoError(t, pool.Subscribe(context.Background(), sub))

	// kill the endpoint entirely so every redial is refused; Close only
	// stops the listener — hijacked websockets must be severed explicitly
	fv.srv.Close()
	fv.DropAll()

	require.Eventually(t, func() bool {
		return sl.has(feed.StatusReconnectFailed)
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return !rec.Reconnecting()
	}, 2*time.Second, 10*time.Millisecond)

	attempts := 0
	for _, ev := range sl.list() {
		if ev.Status == feed.StatusReconnecting {
			attempts++
		}
	}
	assert.Equal(t, policy.MaxAttempts, attempts, "attempts are bounded")
	assert.Equal(t, 1, reg.Size(), "the desired set outlives an abandoned sequence")
}

func TestReconnector_OrderlyCloseIsNotChased(t *testing.T) {
	fv := newFakeVenue(t, nil)
	pool, reg, rec, ad, sl := newReconnectHarness(t, fv, market.Kraken, fastPolicy(), runningFlag(true))

	sub := market.Subscription{Kind: market.KindTrade, Symbol: "BTC/USD"}
	reg.Want(sub)
	require.NoError(t, pool.Subscribe(context.Background(), sub))
	require.Equal(t, 1, ad.Dials())

	pool.Shutdown()

	require.Eventually(t, func() bool {
		return pool.Connections() == 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.False(t, rec.Reconnecting())
	assert.Equal(t, 1, ad.Dials(), "an orderly close never redials")
	assert.Equal(t, 1, fv.Accepted())
	assert.False(t, sl.has(feed.StatusReconnecting))
}

func TestReconnector_RecoversFromStarvation(t *testing.T) {
	fv := newFakeVenue(t, nil) // never sends data, so the watchdog trips
	ad := &fakeAdapter{vn: market.KuCoin, url: fv.URL()}
	reg := NewRegistry(market.KuCoin)
	sl := &statusLog{}
	running := runningFlag(true)

	var rec *Reconnector
	pool := NewPool(PoolConfig{
		Venue:   market.KuCoin,
		Class:   market.LinearPerpetual,
		Adapter: ad,
		DataTimeout: config.DataTimeoutConfig{
			Enabled:       true,
			Timeout:       config.Duration(150 * time.Millisecond),
			CheckInterval: config.Duration(25 * time.Millisecond),
		},
		Registry: reg,
		OnClose: func(connID string, cause CloseCause, err error) {
			rec.HandleClose(connID, cause, err)
		},
	})
	rec = NewReconnector(ReconnectorConfig{
		Venue:    market.KuCoin,
		Policy:   fastPolicy(),
		Pool:     pool,
		Registry: reg,
		Running:  running.Load,
		OnStatus: sl.add,
	})
	rec.jitter = func() time.Duration { return 0 }
	t.Cleanup(func() {
		running.Store(false)
		rec.Stop()
		pool.Shutdown()
	})

	sub := market.Subscription{Kind: market.KindTicker, Symbol: "BTC/USDT"}
	reg.Want(sub)
	require.NoError(t, pool.Subscribe(context.Background(), sub))

	// starvation close, then a fresh socket carrying the replayed key
	require.Eventually(t, func() bool {
		codes := fv.Codes()
		return len(codes) >= 1 && codes[0] == CloseCodeStarvation
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		if fv.Accepted() < 2 {
			return false
		}
		_, seated := reg.SeatOf(sub)
		return seated
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, sl.has(feed.StatusReconnecting))
}

func TestReconnector_KickStartsSingleSequence(t *testing.T) {
	fv := newFakeVenue(t, nil)
	policy := fastPolicy()
	policy.BaseDelay = config.Duration(100 * time.Millisecond)
	pool, _, rec, ad, sl := newReconnectHarness(t, fv, market.Deribit, policy, runningFlag(true))

	// no socket yet: both kicks land before the first backoff elapses
	rec.Kick()
	rec.Kick()
	assert.True(t, rec.Reconnecting())

	require.Eventually(t, func() bool {
		return pool.Connected()
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return !rec.Reconnecting()
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, ad.Dials(), "overlapping kicks share one sequence")
	assert.Equal(t, 1, fv.Accepted())
	assert.True(t, sl.has(feed.StatusConnected))
}

func TestReconnector_KickWhileStoppedIsIgnored(t *testing.T) {
	fv := newFakeVenue(t, nil)
	_, _, rec, ad, _ := newReconnectHarness(t, fv, market.Bitget, fastPolicy(), runningFlag(false))

	rec.Kick()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, rec.Reconnecting())
	assert.Equal(t, 0, ad.Dials())
}

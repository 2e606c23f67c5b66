package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow-engine/internal/market"
)

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(4)
	a := bus.SubscribeTickers()
	b := bus.SubscribeTickers()

	tk := &market.Ticker{RecordMeta: market.RecordMeta{Venue: market.Binance, Symbol: "BTC/USDT"}, Last: 50000}
	bus.PublishTicker(tk)

	select {
	case got := <-a:
		assert.Same(t, tk, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber a did not receive")
	}
	select {
	case got := <-b:
		assert.Same(t, tk, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber b did not receive")
	}
}

func TestBus_PreservesPublishOrder(t *testing.T) {
	bus := NewBus(64)
	ch := bus.SubscribeTrades()

	for i := 0; i < 50; i++ {
		bus.PublishTrade(&market.Trade{TradeID: string(rune('A' + i%26)), Price: float64(i)})
	}

	for i := 0; i < 50; i++ {
		select {
		case tr := <-ch:
			require.Equal(t, float64(i), tr.Price, "order broke at %d", i)
		case <-time.After(time.Second):
			t.Fatalf("missing trade %d", i)
		}
	}
}

func TestBus_SlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := NewBus(2)
	ch := bus.SubscribeDepths()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.PublishDepth(&market.Depth{})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 2, "channel should hold only its buffer")
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	bus := NewBus(2)
	ch := bus.SubscribeStatus()

	bus.Close()
	bus.Close() // idempotent
	bus.PublishStatus(StatusEvent{Venue: market.OKX, Status: StatusConnected})

	_, open := <-ch
	assert.False(t, open, "channel should be closed with nothing buffered")
}

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow-engine/internal/market"
)

func tickerAt(v market.Venue, sym string, last float64) *market.Ticker {
	return &market.Ticker{RecordMeta: market.RecordMeta{Venue: v, Symbol: sym}, Last: last}
}

func TestCache_TickerPerVenue(t *testing.T) {
	c := New(10)

	c.SetTicker(tickerAt(market.Binance, "BTC/USDT", 50000))
	c.SetTicker(tickerAt(market.OKX, "BTC/USDT", 50001))
	c.SetTicker(tickerAt(market.Binance, "BTC/USDT", 50002)) // replaces

	got := c.Ticker(market.Binance, "BTC/USDT")
	require.NotNil(t, got)
	assert.Equal(t, 50002.0, got.Last)

	all := c.AllTickers("BTC/USDT")
	require.Len(t, all, 2)
	assert.Equal(t, 50001.0, all[market.OKX].Last)

	assert.Nil(t, c.Ticker(market.Kraken, "BTC/USDT"))
	assert.Empty(t, c.AllTickers("ETH/USDT"))
}

func TestCache_FundingDedupGate(t *testing.T) {
	c := New(10)

	f1 := &market.FundingRate{
		RecordMeta:      market.RecordMeta{Venue: market.Bybit, Symbol: "BTC/USDT"},
		FundingRate:     0.0001,
		NextFundingTime: market.Int(1700000000000),
	}
	require.True(t, c.SetFunding(f1), "first update always emits")

	// identical pair, fresher timestamps: suppressed but cached
	f2 := &market.FundingRate{
		RecordMeta:      market.RecordMeta{Venue: market.Bybit, Symbol: "BTC/USDT", LocalTimestamp: 5},
		FundingRate:     0.0001,
		NextFundingTime: market.Int(1700000000000),
	}
	require.False(t, c.SetFunding(f2))
	assert.Same(t, f2, c.Funding(market.Bybit, "BTC/USDT"), "cache still tracks the latest record")

	// rate change emits
	f3 := &market.FundingRate{
		RecordMeta:      market.RecordMeta{Venue: market.Bybit, Symbol: "BTC/USDT"},
		FundingRate:     0.0002,
		NextFundingTime: market.Int(1700000000000),
	}
	require.True(t, c.SetFunding(f3))

	// next-funding-time change emits even with the same rate
	f4 := &market.FundingRate{
		RecordMeta:      market.RecordMeta{Venue: market.Bybit, Symbol: "BTC/USDT"},
		FundingRate:     0.0002,
		NextFundingTime: market.Int(1700028800000),
	}
	require.True(t, c.SetFunding(f4))

	// other venues gate independently
	f5 := &market.FundingRate{
		RecordMeta:      market.RecordMeta{Venue: market.OKX, Symbol: "BTC/USDT"},
		FundingRate:     0.0002,
		NextFundingTime: market.Int(1700028800000),
	}
	require.True(t, c.SetFunding(f5))
}

func kline(openTime int64, close float64) *market.Kline {
	return &market.Kline{
		RecordMeta: market.RecordMeta{Venue: market.Binance, Symbol: "BTC/USDT"},
		Interval:   "1h",
		OpenTime:   openTime,
		Close:      close,
	}
}

func TestCache_KlineReplaceForming(t *testing.T) {
	c := New(10)

	c.PushKline(kline(100, 1))
	c.PushKline(kline(100, 2)) // same bar, still forming
	c.PushKline(kline(200, 3))

	require.Equal(t, 2, c.KlineCount(market.Binance, "BTC/USDT"))
	tail := c.KlineTail(market.Binance, "BTC/USDT", 2)
	require.Len(t, tail, 2)
	assert.Equal(t, 2.0, tail[0].Close, "forming bar should have been replaced")
	assert.Equal(t, 3.0, tail[1].Close)
}

func TestCache_KlineCapDropsOldest(t *testing.T) {
	c := New(5)

	for i := 0; i < 8; i++ {
		c.PushKline(kline(int64(i*100), float64(i)))
	}

	require.Equal(t, 5, c.KlineCount(market.Binance, "BTC/USDT"))
	tail := c.KlineTail(market.Binance, "BTC/USDT", 5)
	assert.Equal(t, int64(300), tail[0].OpenTime, "oldest surviving bar")
	assert.Equal(t, int64(700), tail[4].OpenTime)
}

func TestCache_KlineTailIsACopy(t *testing.T) {
	c := New(10)
	c.PushKline(kline(100, 1))

	tail := c.KlineTail(market.Binance, "BTC/USDT", 1)
	require.Len(t, tail, 1)
	tail[0].Close = 999

	fresh := c.KlineTail(market.Binance, "BTC/USDT", 1)
	assert.Equal(t, 1.0, fresh[0].Close, "mutating a tail must not touch the cache")
}

func TestCache_KlineTailShorterThanAsked(t *testing.T) {
	c := New(10)
	c.PushKline(kline(100, 1))
	c.PushKline(kline(200, 2))

	tail := c.KlineTail(market.Binance, "BTC/USDT", 50)
	assert.Len(t, tail, 2)
	assert.Nil(t, c.KlineTail(market.OKX, "BTC/USDT", 50))
}

package market

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifiedTimestamp_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 10000; i++ {
		a := rng.Int63n(2_000_000_000_000) + 1
		b := rng.Int63n(2_000_000_000_000) + 1

		u := UnifiedTimestamp(a, b)

		lo, hi := a, b
		if lo > hi {
			lo, hi = hi, lo
		}
		require.GreaterOrEqual(t, u, lo, "unified below both inputs (a=%d b=%d)", a, b)
		require.LessOrEqual(t, u, hi, "unified above both inputs (a=%d b=%d)", a, b)
	}
}

func TestUnifiedTimestamp_MissingExchangeTime(t *testing.T) {
	local := time.Now().UnixMilli()

	assert.Equal(t, local, UnifiedTimestamp(0, local), "zero exchange time should fall back to local")
	assert.Equal(t, local, UnifiedTimestamp(-1, local), "negative exchange time should fall back to local")
}

func TestUnifiedTimestamp_EqualInputs(t *testing.T) {
	ts := int64(1700000000000)
	assert.Equal(t, ts, UnifiedTimestamp(ts, ts))
}

func TestUnifiedTimestamp_RoundsAverage(t *testing.T) {
	// exact midpoint when the sum is even, rounded up when odd
	assert.Equal(t, int64(150), UnifiedTimestamp(100, 200))
	assert.Equal(t, int64(151), UnifiedTimestamp(101, 200))
}

func TestStamp(t *testing.T) {
	tk := &Ticker{RecordMeta: RecordMeta{Venue: Binance, Symbol: "BTC/USDT", ExchangeTimestamp: 1700000000000}}

	before := time.Now().UnixMilli()
	Stamp(tk)
	after := time.Now().UnixMilli()

	require.GreaterOrEqual(t, tk.LocalTimestamp, before)
	require.LessOrEqual(t, tk.LocalTimestamp, after)
	assert.Equal(t, UnifiedTimestamp(tk.ExchangeTimestamp, tk.LocalTimestamp), tk.UnifiedTimestamp)
}

func TestStamp_NoExchangeTime(t *testing.T) {
	tr := &Trade{RecordMeta: RecordMeta{Venue: OKX, Symbol: "ETH/USDT"}}

	Stamp(tr)

	assert.Equal(t, tr.LocalTimestamp, tr.UnifiedTimestamp, "unified should equal local when venue time is absent")
}

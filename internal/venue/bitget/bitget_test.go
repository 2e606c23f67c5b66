package bitget

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/venue"
)

func TestSubscribeFrames_InstTypes(t *testing.T) {
	a := New()

	frames, err := a.SubscribeFrames(market.Spot, []market.Subscription{
		{Kind: market.KindTicker, Symbol: "BTC/USDT"},
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)

	var op struct {
		Op   string `json:"op"`
		Args []struct {
			InstType string `json:"instType"`
			Channel  string `json:"channel"`
			InstID   string `json:"instId"`
		} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &op))
	assert.Equal(t, "SPOT", op.Args[0].InstType)
	assert.Equal(t, "ticker", op.Args[0].Channel)
	assert.Equal(t, "BTCUSDT", op.Args[0].InstID)

	frames, err = a.SubscribeFrames(market.LinearPerpetual, []market.Subscription{
		{Kind: market.KindTicker, Symbol: "BTC/USDT"},
		{Kind: market.KindFundingRate, Symbol: "BTC/USDT"},
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(frames[0], &op))
	// funding dedups onto the ticker arg
	require.Len(t, op.Args, 1)
	assert.Equal(t, "USDT-FUTURES", op.Args[0].InstType)
}

func TestParse_FuturesTickerEmitsFunding(t *testing.T) {
	a := New()
	frame := []byte(`{"action":"snapshot","arg":{"instType":"USDT-FUTURES","channel":"ticker","instId":"BTCUSDT"},"data":[{
		"instId":"BTCUSDT","lastPr":"50000","askPr":"50001","bidPr":"49999","bidSz":"2","askSz":"1",
		"open24h":"49000","high24h":"50500","low24h":"48800","change24h":"0.0204",
		"baseVolume":"1200","quoteVolume":"60000000",
		"fundingRate":"0.0001","nextFundingTime":"1700028800000",
		"markPrice":"50002","indexPrice":"50003","ts":"1700000000000"
	}],"ts":1700000000050}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Equal(t, venue.Data, in.Class)
	require.Len(t, in.Records, 2)

	tk, ok := in.Records[0].(*market.Ticker)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", tk.Symbol)
	assert.Equal(t, int64(1700000000000), tk.ExchangeTimestamp)
	assert.InDelta(t, 2.04, tk.ChangePercent, 1e-9)
	assert.InDelta(t, 1000.0, tk.Change, 1e-9)

	fr, ok := in.Records[1].(*market.FundingRate)
	require.True(t, ok)
	assert.Equal(t, 0.0001, fr.FundingRate)
	require.NotNil(t, fr.NextFundingTime)
	assert.Equal(t, int64(1700028800000), *fr.NextFundingTime)
}

func TestParse_SpotTickerNoFunding(t *testing.T) {
	a := New()
	frame := []byte(`{"action":"snapshot","arg":{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"},"data":[{
		"instId":"BTCUSDT","lastPr":"50000","open24h":"49000","ts":"1700000000000"
	}],"ts":1700000000050}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)
	assert.IsType(t, &market.Ticker{}, in.Records[0])
}

func TestParse_Books(t *testing.T) {
	a := New()
	frame := []byte(`{"action":"snapshot","arg":{"instType":"SPOT","channel":"books15","instId":"ETHUSDT"},"data":[{
		"asks":[["3001","5"]],"bids":[["2999","3"],["2998","10"]],"ts":"1700000000100"
	}],"ts":1700000000150}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	d, ok := in.Records[0].(*market.Depth)
	require.True(t, ok)
	assert.Equal(t, "ETH/USDT", d.Symbol)
	assert.Equal(t, int64(1700000000100), d.ExchangeTimestamp)
	require.Len(t, d.Bids, 2)
	assert.Equal(t, market.PriceLevel{Price: 2999, Size: 3}, d.Bids[0])
}

func TestParse_Trades(t *testing.T) {
	a := New()
	frame := []byte(`{"action":"update","arg":{"instType":"USDT-FUTURES","channel":"trade","instId":"BTCUSDT"},"data":[
		{"ts":"1700000000200","price":"50000","size":"0.1","side":"buy","tradeId":"t100"},
		{"ts":"1700000000201","price":"49999","size":"0.2","side":"sell","tradeId":"t101"}
	],"ts":1700000000250}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 2)
	assert.Equal(t, market.SideBuy, in.Records[0].(*market.Trade).Side)
	assert.Equal(t, market.SideSell, in.Records[1].(*market.Trade).Side)
}

func TestParse_Candles(t *testing.T) {
	a := New()
	frame := []byte(`{"action":"update","arg":{"instType":"SPOT","channel":"candle1H","instId":"BTCUSDT"},"data":[
		["1699996800000","49800","50100","49700","50000","321.5","16000000"]
	],"ts":1700000000300}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	k, ok := in.Records[0].(*market.Kline)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", k.Symbol)
	assert.Equal(t, int64(1699996800000), k.OpenTime)
	assert.Equal(t, 50100.0, k.High)
	assert.Equal(t, 16000000.0, k.QuoteVolume)
}

func TestParse_ControlFrames(t *testing.T) {
	a := New()

	in, err := a.Parse(market.Spot, []byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, venue.Pong, in.Class)

	in, err = a.Parse(market.Spot, []byte(`{"event":"subscribe","arg":{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"}}`))
	require.NoError(t, err)
	assert.Equal(t, venue.Ack, in.Class)

	in, err = a.Parse(market.Spot, []byte(`{"event":"error","code":30001,"msg":"channel does not exist"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.ErrorFrame, in.Class)
	assert.ErrorContains(t, in.Err, "channel does not exist")
}

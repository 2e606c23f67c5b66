package okx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/venue"
)

func TestSubscribeFrames(t *testing.T) {
	a := New()
	frames, err := a.SubscribeFrames(market.LinearPerpetual, []market.Subscription{
		{Kind: market.KindDepth, Symbol: "BTC/USDT"},
		{Kind: market.KindFundingRate, Symbol: "ETH/USDT"},
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)

	var op struct {
		Op   string `json:"op"`
		Args []struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &op))
	assert.Equal(t, "subscribe", op.Op)
	require.Len(t, op.Args, 2)
	assert.Equal(t, "books5", op.Args[0].Channel)
	assert.Equal(t, "BTC-USDT-SWAP", op.Args[0].InstID)
	assert.Equal(t, "funding-rate", op.Args[1].Channel)
	assert.Equal(t, "ETH-USDT-SWAP", op.Args[1].InstID)
}

func TestSubscribeFrames_SpotInstIDs(t *testing.T) {
	a := New()
	frames, err := a.SubscribeFrames(market.Spot, []market.Subscription{
		{Kind: market.KindTicker, Symbol: "BTC/USDT"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(frames[0]), `"instId":"BTC-USDT"`)

	_, err = a.SubscribeFrames(market.Spot, []market.Subscription{
		{Kind: market.KindFundingRate, Symbol: "BTC/USDT"},
	})
	assert.ErrorIs(t, err, venue.ErrUnsupported)
}

func TestParse_Pong(t *testing.T) {
	a := New()
	in, err := a.Parse(market.Spot, []byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, venue.Pong, in.Class)
}

func TestParse_Ticker(t *testing.T) {
	a := New()
	frame := []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{
		"instId":"BTC-USDT","last":"50000","askPx":"50001","askSz":"1.2",
		"bidPx":"49999","bidSz":"2.5","open24h":"49000","high24h":"50500",
		"low24h":"48800","vol24h":"1200","volCcy24h":"60000000","ts":"1700000000000"
	}]}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Equal(t, venue.Data, in.Class)
	require.Len(t, in.Records, 1)

	tk, ok := in.Records[0].(*market.Ticker)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", tk.Symbol)
	assert.Equal(t, 50000.0, tk.Last)
	assert.Equal(t, int64(1700000000000), tk.ExchangeTimestamp)
	assert.InDelta(t, 1000.0, tk.Change, 1e-9)
	assert.InDelta(t, 1000.0/49000*100, tk.ChangePercent, 1e-9)
}

func TestParse_Books5(t *testing.T) {
	a := New()
	frame := []byte(`{"arg":{"channel":"books5","instId":"BTC-USDT-SWAP"},"data":[{
		"asks":[["50001","2","0","4"]],
		"bids":[["50000","1","0","2"]],
		"ts":"1700000000100","seqId":123
	}]}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Equal(t, venue.Data, in.Class)
	require.Len(t, in.Records, 1)

	d, ok := in.Records[0].(*market.Depth)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", d.Symbol)
	assert.Equal(t, int64(1700000000100), d.ExchangeTimestamp)
	require.Len(t, d.Bids, 1)
	assert.Equal(t, market.PriceLevel{Price: 50000, Size: 1}, d.Bids[0])
	require.Len(t, d.Asks, 1)
	assert.Equal(t, market.PriceLevel{Price: 50001, Size: 2}, d.Asks[0])
}

func TestParse_Trades(t *testing.T) {
	a := New()
	frame := []byte(`{"arg":{"channel":"trades","instId":"ETH-USDT"},"data":[
		{"instId":"ETH-USDT","tradeId":"55","px":"3000","sz":"0.5","side":"sell","ts":"1700000000200"}
	]}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	tr, ok := in.Records[0].(*market.Trade)
	require.True(t, ok)
	assert.Equal(t, "ETH/USDT", tr.Symbol)
	assert.Equal(t, "55", tr.TradeID)
	assert.Equal(t, market.SideSell, tr.Side)
}

func TestParse_Funding(t *testing.T) {
	a := New()
	frame := []byte(`{"arg":{"channel":"funding-rate","instId":"BTC-USDT-SWAP"},"data":[
		{"instId":"BTC-USDT-SWAP","fundingRate":"0.0001","fundingTime":"1700028800000","nextFundingRate":"0.00012","ts":"1700000000300"}
	]}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	fr, ok := in.Records[0].(*market.FundingRate)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", fr.Symbol)
	assert.Equal(t, 0.0001, fr.FundingRate)
	require.NotNil(t, fr.NextFundingTime)
	assert.Equal(t, int64(1700028800000), *fr.NextFundingTime)
	require.NotNil(t, fr.PredictedNextFundingRate)
	assert.Equal(t, 0.00012, *fr.PredictedNextFundingRate)
}

func TestParse_Candle(t *testing.T) {
	a := New()
	frame := []byte(`{"arg":{"channel":"candle1H","instId":"BTC-USDT"},"data":[
		["1699996800000","49800","50100","49700","50000","321.5","16000000","16050000","0"]
	]}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	k, ok := in.Records[0].(*market.Kline)
	require.True(t, ok)
	assert.Equal(t, int64(1699996800000), k.OpenTime)
	assert.Equal(t, int64(1700000399999), k.CloseTime)
	assert.Equal(t, 50100.0, k.High)
	assert.Equal(t, 49700.0, k.Low)
	assert.Equal(t, 16050000.0, k.QuoteVolume)
	assert.False(t, k.IsClosed)
}

func TestParse_AckAndError(t *testing.T) {
	a := New()

	in, err := a.Parse(market.Spot, []byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"},"connId":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.Ack, in.Class)
	assert.Equal(t, "tickers:BTC-USDT", in.Channel)

	in, err = a.Parse(market.Spot, []byte(`{"event":"error","code":"60012","msg":"Invalid request"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.ErrorFrame, in.Class)
	assert.ErrorContains(t, in.Err, "60012")
}

package bybit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/venue"
)

func TestEndpoint(t *testing.T) {
	a := New()

	ep, err := a.Endpoint(context.Background(), market.Spot, nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://stream.bybit.com/v5/public/spot", ep.URL)

	ep, err = a.Endpoint(context.Background(), market.LinearPerpetual, nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://stream.bybit.com/v5/public/linear", ep.URL)
}

func TestSubscribeFrames_DedupsFundingTopic(t *testing.T) {
	a := New()
	frames, err := a.SubscribeFrames(market.LinearPerpetual, []market.Subscription{
		{Kind: market.KindTicker, Symbol: "BTC/USDT"},
		{Kind: market.KindFundingRate, Symbol: "BTC/USDT"},
		{Kind: market.KindTrade, Symbol: "BTC/USDT"},
	})
	require.NoError(t, err)
	require.Len(t, frames, 1)

	var op struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &op))
	assert.Equal(t, "subscribe", op.Op)
	assert.Equal(t, []string{"tickers.BTCUSDT", "publicTrade.BTCUSDT"}, op.Args)
}

func TestUnsubscribeFrames_KeepsSharedTickerTopic(t *testing.T) {
	a := New()
	frames, err := a.UnsubscribeFrames(market.LinearPerpetual, []market.Subscription{
		{Kind: market.KindFundingRate, Symbol: "BTC/USDT"},
	})
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestHeartbeat(t *testing.T) {
	a := New()
	hb := a.Heartbeat(market.Spot)
	assert.False(t, hb.Transport)
	require.NotNil(t, hb.Payload)
	assert.JSONEq(t, `{"op":"ping"}`, string(hb.Payload()))
}

func TestParse_TickerSnapshotAndDelta(t *testing.T) {
	a := New()

	snap := []byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{
		"symbol":"BTCUSDT","lastPrice":"50000","bid1Price":"49999","bid1Size":"2",
		"ask1Price":"50001","ask1Size":"1","prevPrice24h":"49000","highPrice24h":"50500",
		"lowPrice24h":"48800","volume24h":"1000","turnover24h":"49000000","price24hPcnt":"0.0204",
		"markPrice":"50002","indexPrice":"50003","fundingRate":"0.0001","nextFundingTime":"1700028800000"
	}}`)

	in, err := a.Parse(market.LinearPerpetual, snap)
	require.NoError(t, err)
	require.Equal(t, venue.Data, in.Class)
	require.Len(t, in.Records, 2)

	tk, ok := in.Records[0].(*market.Ticker)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", tk.Symbol)
	assert.Equal(t, 50000.0, tk.Last)
	assert.InDelta(t, 1000.0, tk.Change, 1e-9)
	assert.InDelta(t, 2.04, tk.ChangePercent, 1e-9)

	fr, ok := in.Records[1].(*market.FundingRate)
	require.True(t, ok)
	assert.Equal(t, 0.0001, fr.FundingRate)
	require.NotNil(t, fr.NextFundingTime)
	assert.Equal(t, int64(1700028800000), *fr.NextFundingTime)

	// delta updates only the last price; everything else must persist
	delta := []byte(`{"topic":"tickers.BTCUSDT","type":"delta","ts":1700000001000,"data":{"symbol":"BTCUSDT","lastPrice":"50100"}}`)
	in, err = a.Parse(market.LinearPerpetual, delta)
	require.NoError(t, err)
	require.Len(t, in.Records, 2)

	tk, ok = in.Records[0].(*market.Ticker)
	require.True(t, ok)
	assert.Equal(t, 50100.0, tk.Last)
	assert.Equal(t, 49999.0, tk.Bid)
	assert.Equal(t, 50001.0, tk.Ask)
	assert.Equal(t, int64(1700000001000), tk.ExchangeTimestamp)
}

func TestParse_SpotTickerHasNoFunding(t *testing.T) {
	a := New()
	frame := []byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{
		"symbol":"BTCUSDT","lastPrice":"50000","prevPrice24h":"49000","highPrice24h":"50500",
		"lowPrice24h":"48800","volume24h":"1000","turnover24h":"49000000","price24hPcnt":"0.0204"
	}}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)
	assert.IsType(t, &market.Ticker{}, in.Records[0])
}

func TestParse_Depth(t *testing.T) {
	a := New()
	frame := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000500,"data":{
		"s":"BTCUSDT","b":[["50000","1.5"],["49999","3"]],"a":[["50001","0.7"]],"u":1,"seq":100
	}}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	d, ok := in.Records[0].(*market.Depth)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", d.Symbol)
	assert.Equal(t, int64(1700000000500), d.ExchangeTimestamp)
	require.Len(t, d.Bids, 2)
	assert.Equal(t, market.PriceLevel{Price: 50000, Size: 1.5}, d.Bids[0])
}

func TestParse_TradeBatch(t *testing.T) {
	a := New()
	frame := []byte(`{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1700000000600,"data":[
		{"T":1700000000601,"s":"BTCUSDT","S":"Buy","v":"0.1","p":"50000","i":"t1"},
		{"T":1700000000602,"s":"BTCUSDT","S":"Sell","v":"0.2","p":"49999","i":"t2"}
	]}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 2)

	first, ok := in.Records[0].(*market.Trade)
	require.True(t, ok)
	assert.Equal(t, market.SideBuy, first.Side)
	assert.Equal(t, "t1", first.TradeID)

	second, ok := in.Records[1].(*market.Trade)
	require.True(t, ok)
	assert.Equal(t, market.SideSell, second.Side)
	assert.Equal(t, int64(1700000000602), second.ExchangeTimestamp)
}

func TestParse_Kline(t *testing.T) {
	a := New()
	frame := []byte(`{"topic":"kline.60.BTCUSDT","type":"snapshot","ts":1700000000700,"data":[
		{"start":1699996800000,"end":1700000399999,"interval":"60","open":"49800","close":"50000",
		 "high":"50100","low":"49700","volume":"321.5","turnover":"16000000","confirm":false}
	]}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	k, ok := in.Records[0].(*market.Kline)
	require.True(t, ok)
	assert.Equal(t, "1h", k.Interval)
	assert.Equal(t, int64(1699996800000), k.OpenTime)
	assert.False(t, k.IsClosed)
}

func TestParse_ControlFrames(t *testing.T) {
	a := New()

	in, err := a.Parse(market.Spot, []byte(`{"success":true,"ret_msg":"pong","conn_id":"c1","op":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.Pong, in.Class)

	in, err = a.Parse(market.Spot, []byte(`{"success":true,"ret_msg":"","conn_id":"c1","op":"subscribe"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.Ack, in.Class)

	in, err = a.Parse(market.Spot, []byte(`{"success":false,"ret_msg":"topic not exist","conn_id":"c1","op":"subscribe"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.ErrorFrame, in.Class)
	assert.ErrorContains(t, in.Err, "topic not exist")
}

package kucoin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/venue"
)

func bulletServer(t *testing.T, endpoint string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"code": "200000",
			"data": map[string]interface{}{
				"token": "tok-123",
				"instanceServers": []map[string]interface{}{
					{"endpoint": endpoint, "protocol": "websocket", "pingInterval": 18000, "pingTimeout": 10000},
				},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestEndpoint_BulletHandshake(t *testing.T) {
	srv := bulletServer(t, "wss://ws-api-spot.kucoin.com/")
	defer srv.Close()

	a := New()
	a.spotBullet = srv.URL

	ep, err := a.Endpoint(context.Background(), market.Spot, nil)
	require.NoError(t, err)
	assert.Contains(t, ep.URL, "wss://ws-api-spot.kucoin.com/?token=tok-123&connectId=")
	assert.Equal(t, 18*time.Second, ep.HeartbeatInterval)

	// two handshakes must not reuse a connect id
	ep2, err := a.Endpoint(context.Background(), market.Spot, nil)
	require.NoError(t, err)
	assert.NotEqual(t, ep.URL, ep2.URL)
}

func TestEndpoint_BulletFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := New()
	a.futuresBullet = srv.URL

	_, err := a.Endpoint(context.Background(), market.LinearPerpetual, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestSubscribeFrames_TopicsPerClass(t *testing.T) {
	a := New()

	frames, err := a.SubscribeFrames(market.Spot, []market.Subscription{
		{Kind: market.KindTicker, Symbol: "BTC/USDT"},
		{Kind: market.KindKline, Symbol: "BTC/USDT"},
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)

	var op struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Topic    string `json:"topic"`
		Response bool   `json:"response"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &op))
	assert.Equal(t, "subscribe", op.Type)
	assert.Equal(t, "/market/ticker:BTC-USDT", op.Topic)
	assert.True(t, op.Response)
	assert.NotEmpty(t, op.ID)

	require.NoError(t, json.Unmarshal(frames[1], &op))
	assert.Equal(t, "/market/candles:BTC-USDT_1hour", op.Topic)

	frames, err = a.SubscribeFrames(market.LinearPerpetual, []market.Subscription{
		{Kind: market.KindTrade, Symbol: "BTC/USDT"},
		{Kind: market.KindFundingRate, Symbol: "BTC/USDT"},
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.NoError(t, json.Unmarshal(frames[0], &op))
	assert.Equal(t, "/contractMarket/execution:XBTUSDTM", op.Topic)
	require.NoError(t, json.Unmarshal(frames[1], &op))
	assert.Equal(t, "/contract/instrument:XBTUSDTM", op.Topic)
}

func TestSubscribeFrames_SpotFundingUnsupported(t *testing.T) {
	a := New()
	_, err := a.SubscribeFrames(market.Spot, []market.Subscription{
		{Kind: market.KindFundingRate, Symbol: "BTC/USDT"},
	})
	assert.ErrorIs(t, err, venue.ErrUnsupported)
}

func TestParse_SpotTicker(t *testing.T) {
	a := New()
	frame := []byte(`{"type":"message","topic":"/market/ticker:BTC-USDT","subject":"trade.ticker","data":{
		"sequence":"1545896668986","price":"50000","size":"0.01",
		"bestAsk":"50001","bestAskSize":"0.5","bestBid":"49999","bestBidSize":"1.2",
		"time":1700000000000
	}}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Equal(t, venue.Data, in.Class)
	require.Len(t, in.Records, 1)

	tk, ok := in.Records[0].(*market.Ticker)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", tk.Symbol)
	assert.Equal(t, 50000.0, tk.Last)
	assert.Equal(t, 49999.0, tk.Bid)
	assert.Equal(t, int64(1700000000000), tk.ExchangeTimestamp)
}

func TestParse_SpotMatchNanosecondTime(t *testing.T) {
	a := New()
	frame := []byte(`{"type":"message","topic":"/market/match:BTC-USDT","subject":"trade.l3match","data":{
		"symbol":"BTC-USDT","side":"sell","price":"50000","size":"0.25",
		"tradeId":"5efab07a4ee4c7000a82d081","time":"1700000000123456789"
	}}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	tr, ok := in.Records[0].(*market.Trade)
	require.True(t, ok)
	assert.Equal(t, market.SideSell, tr.Side)
	assert.Equal(t, int64(1700000000123), tr.ExchangeTimestamp)
}

func TestParse_SpotCandles(t *testing.T) {
	a := New()
	frame := []byte(`{"type":"message","topic":"/market/candles:BTC-USDT_1hour","subject":"trade.candles.add","data":{
		"symbol":"BTC-USDT",
		"candles":["1699996800","49800","50000","50100","49700","321.5","16000000"],
		"time":1700000000123456789
	}}`)

	in, err := a.Parse(market.Spot, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	k, ok := in.Records[0].(*market.Kline)
	require.True(t, ok)
	assert.Equal(t, int64(1699996800000), k.OpenTime)
	// candle rows put close before high and low
	assert.Equal(t, 50000.0, k.Close)
	assert.Equal(t, 50100.0, k.High)
	assert.Equal(t, 49700.0, k.Low)
	assert.True(t, k.IsClosed)
	assert.Equal(t, int64(1700000000123), k.ExchangeTimestamp)
}

func TestParse_FuturesTicker(t *testing.T) {
	a := New()
	frame := []byte(`{"type":"message","topic":"/contractMarket/ticker:XBTUSDTM","subject":"ticker","data":{
		"symbol":"XBTUSDTM","sequence":45,"side":"sell","price":50000.5,"size":10,
		"bestBidSize":20,"bestBidPrice":"50000","bestAskPrice":"50001","bestAskSize":30,
		"ts":1700000000123456789
	}}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	tk, ok := in.Records[0].(*market.Ticker)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", tk.Symbol)
	assert.Equal(t, 50000.5, tk.Last)
	assert.Equal(t, 50000.0, tk.Bid)
	assert.Equal(t, int64(1700000000123), tk.ExchangeTimestamp)
}

func TestParse_FuturesDepthNumericLevels(t *testing.T) {
	a := New()
	frame := []byte(`{"type":"message","topic":"/contractMarket/level2Depth50:XBTUSDTM","subject":"level2","data":{
		"sequence":100,"asks":[[50001.0,7]],"bids":[[50000.0,15],[49999.5,3]],
		"ts":1700000000123456789,"timestamp":1700000000123
	}}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	d, ok := in.Records[0].(*market.Depth)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", d.Symbol)
	assert.Equal(t, int64(1700000000123), d.ExchangeTimestamp)
	require.Len(t, d.Bids, 2)
	assert.Equal(t, market.PriceLevel{Price: 50000, Size: 15}, d.Bids[0])
}

func TestParse_FundingRate(t *testing.T) {
	a := New()
	frame := []byte(`{"type":"message","topic":"/contract/instrument:XBTUSDTM","subject":"funding.rate","data":{
		"granularity":28800000,"fundingRate":0.0001,"timestamp":1700000000123
	}}`)

	in, err := a.Parse(market.LinearPerpetual, frame)
	require.NoError(t, err)
	require.Len(t, in.Records, 1)

	fr, ok := in.Records[0].(*market.FundingRate)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", fr.Symbol)
	assert.Equal(t, 0.0001, fr.FundingRate)

	// mark.index.price updates on the same topic are not records
	other := []byte(`{"type":"message","topic":"/contract/instrument:XBTUSDTM","subject":"mark.index.price","data":{
		"granularity":1000,"indexPrice":50003,"markPrice":50002,"timestamp":1700000000124
	}}`)
	in, err = a.Parse(market.LinearPerpetual, other)
	require.NoError(t, err)
	assert.Equal(t, venue.Ignore, in.Class)
}

func TestParse_ControlFrames(t *testing.T) {
	a := New()

	in, err := a.Parse(market.Spot, []byte(`{"id":"h1","type":"welcome"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.Ack, in.Class)

	in, err = a.Parse(market.Spot, []byte(`{"id":"h2","type":"ack"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.Ack, in.Class)

	in, err = a.Parse(market.Spot, []byte(`{"id":"h3","type":"pong"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.Pong, in.Class)

	in, err = a.Parse(market.Spot, []byte(`{"id":"h4","type":"error","code":404,"data":"topic /market/tickers is not found"}`))
	require.NoError(t, err)
	assert.Equal(t, venue.ErrorFrame, in.Class)
	assert.ErrorContains(t, in.Err, "404")
}

// Package kraken adapts both Kraken websocket dialects. Spot (ws.kraken.com)
// pushes positional array frames tagged with a channel name and pair, and
// still spells bitcoin XBT. Futures (futures.kraken.com) pushes flat objects
// tagged with a feed name, and its perpetual ticker carries funding inline.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/symbols"
	"marketflow-engine/internal/venue"
)

const (
	spotWSURL    = "wss://ws.kraken.com"
	futuresWSURL = "wss://futures.kraken.com/ws/v1"
)

// Adapter implements venue.Adapter for Kraken
type Adapter struct {
	codec symbols.Codec
}

// New creates the Kraken adapter
func New() *Adapter {
	codec, _ := symbols.For(market.Kraken)
	return &Adapter{codec: codec}
}

// Venue returns the venue identifier
func (a *Adapter) Venue() market.Venue { return market.Kraken }

// Endpoint returns the per-class websocket host
func (a *Adapter) Endpoint(_ context.Context, class market.TradingClass, _ []market.Subscription) (venue.Endpoint, error) {
	if class == market.Spot {
		return venue.Endpoint{URL: spotWSURL}, nil
	}
	return venue.Endpoint{URL: futuresWSURL}, nil
}

func spotSubscription(kind market.DataKind) (map[string]interface{}, error) {
	switch kind {
	case market.KindTicker:
		return map[string]interface{}{"name": "ticker"}, nil
	case market.KindDepth:
		return map[string]interface{}{"name": "book", "depth": 10}, nil
	case market.KindTrade:
		return map[string]interface{}{"name": "trade"}, nil
	case market.KindFundingRate:
		return nil, fmt.Errorf("%w: kraken spot has no funding data", venue.ErrUnsupported)
	case market.KindKline:
		return map[string]interface{}{"name": "ohlc", "interval": 60}, nil
	}
	return nil, fmt.Errorf("%w: %s", market.ErrInvalidKind, kind)
}

func futuresFeed(kind market.DataKind) (string, error) {
	switch kind {
	case market.KindTicker, market.KindFundingRate:
		// funding rides the ticker feed
		return "ticker", nil
	case market.KindDepth:
		return "book", nil
	case market.KindTrade:
		return "trade", nil
	case market.KindKline:
		return "candles_trade_1h", nil
	}
	return "", fmt.Errorf("%w: %s", market.ErrInvalidKind, kind)
}

func (a *Adapter) spotFrames(event string, subs []market.Subscription) ([][]byte, error) {
	type group struct {
		kind  market.DataKind
		pairs []string
	}
	var groups []group
	index := make(map[market.DataKind]int)
	seen := make(map[string]struct{})

	for _, sub := range subs {
		pair, err := a.codec.ToVenue(sub.Symbol, sub.Kind, market.Spot)
		if err != nil {
			return nil, err
		}
		key := string(sub.Kind) + "|" + pair
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		i, ok := index[sub.Kind]
		if !ok {
			i = len(groups)
			index[sub.Kind] = i
			groups = append(groups, group{kind: sub.Kind})
		}
		groups[i].pairs = append(groups[i].pairs, pair)
	}

	frames := make([][]byte, 0, len(groups))
	for _, g := range groups {
		subscription, err := spotSubscription(g.kind)
		if err != nil {
			return nil, err
		}
		frame, err := json.Marshal(map[string]interface{}{
			"event":        event,
			"pair":         g.pairs,
			"subscription": subscription,
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (a *Adapter) futuresFrames(event string, subs []market.Subscription) ([][]byte, error) {
	type group struct {
		feed string
		ids  []string
	}
	var groups []group
	index := make(map[string]int)
	seen := make(map[string]struct{})

	for _, sub := range subs {
		feed, err := futuresFeed(sub.Kind)
		if err != nil {
			return nil, err
		}
		id, err := a.codec.ToVenue(sub.Symbol, sub.Kind, market.LinearPerpetual)
		if err != nil {
			return nil, err
		}
		key := feed + "|" + id
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		i, ok := index[feed]
		if !ok {
			i = len(groups)
			index[feed] = i
			groups = append(groups, group{feed: feed})
		}
		groups[i].ids = append(groups[i].ids, id)
	}

	frames := make([][]byte, 0, len(groups))
	for _, g := range groups {
		frame, err := json.Marshal(struct {
			Event      string   `json:"event"`
			Feed       string   `json:"feed"`
			ProductIDs []string `json:"product_ids"`
		}{Event: event, Feed: g.feed, ProductIDs: g.ids})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// SubscribeFrames builds one subscribe frame per channel group
func (a *Adapter) SubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	if class == market.Spot {
		return a.spotFrames("subscribe", subs)
	}
	return a.futuresFrames("subscribe", subs)
}

// UnsubscribeFrames builds unsubscribe frames; futures funding subs are
// skipped because they share the ticker feed.
func (a *Adapter) UnsubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	if class == market.Spot {
		return a.spotFrames("unsubscribe", subs)
	}
	kept := make([]market.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Kind == market.KindFundingRate {
			continue
		}
		kept = append(kept, sub)
	}
	return a.futuresFrames("unsubscribe", kept)
}

// Heartbeat is an application ping on spot and a transport ping on futures
func (a *Adapter) Heartbeat(class market.TradingClass) venue.Heartbeat {
	if class == market.Spot {
		return venue.Heartbeat{Payload: func() []byte { return []byte(`{"event":"ping"}`) }}
	}
	return venue.Heartbeat{Transport: true}
}

// Parse classifies one frame and normalizes its records
func (a *Adapter) Parse(class market.TradingClass, frame []byte) (*venue.Inbound, error) {
	if class == market.Spot {
		return a.parseSpot(frame)
	}
	return a.parseFutures(frame)
}

func (a *Adapter) parseSpot(frame []byte) (*venue.Inbound, error) {
	trimmed := strings.TrimSpace(string(frame))
	if strings.HasPrefix(trimmed, "[") {
		return a.parseSpotData(frame)
	}

	var msg struct {
		Event        string `json:"event"`
		Status       string `json:"status"`
		Pair         string `json:"pair"`
		ErrorMessage string `json:"errorMessage"`
		ChannelName  string `json:"channelName"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kraken spot frame: %w", err)
	}
	switch msg.Event {
	case "heartbeat", "pong":
		return &venue.Inbound{Class: venue.Pong}, nil
	case "subscriptionStatus":
		if msg.Status == "error" {
			return &venue.Inbound{Class: venue.ErrorFrame, Err: fmt.Errorf("kraken subscription %s: %s", msg.Pair, msg.ErrorMessage)}, nil
		}
		return &venue.Inbound{Class: venue.Ack, Channel: msg.ChannelName + ":" + msg.Pair}, nil
	}
	return &venue.Inbound{Class: venue.Ignore}, nil
}

// spot data frames are positional: [channelID, payload..., channelName, pair]
func (a *Adapter) parseSpotData(frame []byte) (*venue.Inbound, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		return nil, fmt.Errorf("kraken spot data: %w", err)
	}
	if len(parts) < 4 {
		return &venue.Inbound{Class: venue.Ignore}, nil
	}

	var channelName, pair string
	if err := json.Unmarshal(parts[len(parts)-2], &channelName); err != nil {
		return nil, fmt.Errorf("kraken channel name: %w", err)
	}
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		return nil, fmt.Errorf("kraken pair: %w", err)
	}
	symbol, err := a.codec.FromVenue(pair)
	if err != nil {
		return nil, err
	}

	middles := parts[1 : len(parts)-2]
	channel := channelName + ":" + pair
	switch {
	case channelName == "ticker":
		return a.parseSpotTicker(channel, symbol, middles)
	case strings.HasPrefix(channelName, "book"):
		return a.parseSpotBook(channel, symbol, middles)
	case channelName == "trade":
		return a.parseSpotTrades(channel, symbol, middles)
	case strings.HasPrefix(channelName, "ohlc"):
		return a.parseSpotOHLC(channel, symbol, middles)
	}
	return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
}

// at reads one element of a mixed string/number stat array
func at(arr []interface{}, i int) float64 {
	if i >= len(arr) {
		return 0
	}
	return venue.Float(arr[i])
}

func (a *Adapter) parseSpotTicker(channel, symbol string, middles []json.RawMessage) (*venue.Inbound, error) {
	if len(middles) == 0 {
		return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
	}
	// stat arrays pair today's value with the rolling 24h value at index 1
	var d struct {
		A []interface{} `json:"a"`
		B []interface{} `json:"b"`
		C []interface{} `json:"c"`
		V []interface{} `json:"v"`
		L []interface{} `json:"l"`
		H []interface{} `json:"h"`
		O []interface{} `json:"o"`
	}
	if err := json.Unmarshal(middles[0], &d); err != nil {
		return nil, fmt.Errorf("kraken ticker: %w", err)
	}

	last := at(d.C, 0)
	open := at(d.O, 1)
	tk := &market.Ticker{
		RecordMeta: market.RecordMeta{Venue: market.Kraken, Symbol: symbol},
		Last:       last,
		Bid:        at(d.B, 0),
		BidSize:    at(d.B, 2),
		Ask:        at(d.A, 0),
		AskSize:    at(d.A, 2),
		Open:       open,
		High:       at(d.H, 1),
		Low:        at(d.L, 1),
		Volume:     at(d.V, 1),
		Change:     last - open,
	}
	if open > 0 {
		tk.ChangePercent = (last - open) / open * 100
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{tk}}, nil
}

// book frames may carry the snapshot dict or up to two update dicts
func (a *Adapter) parseSpotBook(channel, symbol string, middles []json.RawMessage) (*venue.Inbound, error) {
	var bids, asks []market.PriceLevel
	for _, mid := range middles {
		var bk struct {
			As [][]interface{} `json:"as"`
			Bs [][]interface{} `json:"bs"`
			A  [][]interface{} `json:"a"`
			B  [][]interface{} `json:"b"`
		}
		if err := json.Unmarshal(mid, &bk); err != nil {
			return nil, fmt.Errorf("kraken book: %w", err)
		}
		asks = append(asks, venue.LevelsAny(bk.As)...)
		asks = append(asks, venue.LevelsAny(bk.A)...)
		bids = append(bids, venue.LevelsAny(bk.Bs)...)
		bids = append(bids, venue.LevelsAny(bk.B)...)
	}
	if len(bids) == 0 && len(asks) == 0 {
		return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
	}

	d := &market.Depth{
		RecordMeta: market.RecordMeta{Venue: market.Kraken, Symbol: symbol},
		Bids:       bids,
		Asks:       asks,
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{d}}, nil
}

// trade rows are positional: [price, volume, time(sec), side, orderType, misc]
func (a *Adapter) parseSpotTrades(channel, symbol string, middles []json.RawMessage) (*venue.Inbound, error) {
	if len(middles) == 0 {
		return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
	}
	var rows [][]interface{}
	if err := json.Unmarshal(middles[0], &rows); err != nil {
		return nil, fmt.Errorf("kraken trades: %w", err)
	}

	records := make([]market.Record, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		side := market.SideBuy
		if s, ok := row[3].(string); ok && s == "s" {
			side = market.SideSell
		}
		records = append(records, &market.Trade{
			RecordMeta: market.RecordMeta{
				Venue:             market.Kraken,
				Symbol:            symbol,
				ExchangeTimestamp: int64(venue.Float(row[2]) * 1000),
			},
			TradeID: fmt.Sprintf("%v", row[2]),
			Price:   venue.Float(row[0]),
			Amount:  venue.Float(row[1]),
			Side:    side,
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

// ohlc rows are positional: [time, etime, open, high, low, close, vwap, volume, count]
func (a *Adapter) parseSpotOHLC(channel, symbol string, middles []json.RawMessage) (*venue.Inbound, error) {
	if len(middles) == 0 {
		return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
	}
	var row []interface{}
	if err := json.Unmarshal(middles[0], &row); err != nil {
		return nil, fmt.Errorf("kraken ohlc: %w", err)
	}
	if len(row) < 8 {
		return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
	}

	// etime is the interval end; the open time sits one interval earlier
	etime := int64(venue.Float(row[1]) * 1000)
	k := &market.Kline{
		RecordMeta: market.RecordMeta{
			Venue:             market.Kraken,
			Symbol:            symbol,
			ExchangeTimestamp: int64(venue.Float(row[0]) * 1000),
		},
		Interval:  "1h",
		OpenTime:  etime - 3_600_000,
		CloseTime: etime - 1,
		Open:      venue.Float(row[2]),
		High:      venue.Float(row[3]),
		Low:       venue.Float(row[4]),
		Close:     venue.Float(row[5]),
		Volume:    venue.Float(row[7]),
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{k}}, nil
}

func (a *Adapter) parseFutures(frame []byte) (*venue.Inbound, error) {
	var head struct {
		Event     string `json:"event"`
		Feed      string `json:"feed"`
		Message   string `json:"message"`
		ProductID string `json:"product_id"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, fmt.Errorf("kraken futures frame: %w", err)
	}

	switch head.Event {
	case "error":
		return &venue.Inbound{Class: venue.ErrorFrame, Err: fmt.Errorf("kraken futures error: %s", head.Message)}, nil
	case "subscribed", "unsubscribed":
		return &venue.Inbound{Class: venue.Ack, Channel: head.Feed}, nil
	case "info":
		return &venue.Inbound{Class: venue.Ignore}, nil
	}

	channel := head.Feed + ":" + head.ProductID
	switch head.Feed {
	case "heartbeat":
		return &venue.Inbound{Class: venue.Pong}, nil
	case "ticker":
		return a.parseFuturesTicker(channel, frame)
	case "trade":
		return a.parseFuturesTrade(channel, frame)
	case "trade_snapshot":
		return a.parseFuturesTradeSnapshot(channel, frame)
	case "book_snapshot":
		return a.parseFuturesBookSnapshot(channel, frame)
	case "book":
		return a.parseFuturesBookDelta(channel, frame)
	case "candles_trade_1h":
		return a.parseFuturesCandle(channel, frame)
	}
	return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
}

func (a *Adapter) parseFuturesTicker(channel string, frame []byte) (*venue.Inbound, error) {
	var msg struct {
		ProductID             string   `json:"product_id"`
		Bid                   float64  `json:"bid"`
		Ask                   float64  `json:"ask"`
		BidSize               float64  `json:"bid_size"`
		AskSize               float64  `json:"ask_size"`
		Volume                float64  `json:"volume"`
		VolumeQuote           float64  `json:"volumeQuote"`
		Last                  float64  `json:"last"`
		Time                  int64    `json:"time"`
		Change                float64  `json:"change"`
		FundingRate           *float64 `json:"funding_rate"`
		FundingRatePrediction *float64 `json:"funding_rate_prediction"`
		NextFundingRateTime   int64    `json:"next_funding_rate_time"`
		MarkPrice             float64  `json:"markPrice"`
		Index                 float64  `json:"index"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kraken futures ticker: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.ProductID)
	if err != nil {
		return nil, err
	}

	tk := &market.Ticker{
		RecordMeta: market.RecordMeta{
			Venue:             market.Kraken,
			Symbol:            symbol,
			ExchangeTimestamp: msg.Time,
		},
		Last:          msg.Last,
		Bid:           msg.Bid,
		BidSize:       msg.BidSize,
		Ask:           msg.Ask,
		AskSize:       msg.AskSize,
		Volume:        msg.Volume,
		QuoteVolume:   msg.VolumeQuote,
		ChangePercent: msg.Change,
	}
	if msg.Change > -100 {
		open := msg.Last / (1 + msg.Change/100)
		tk.Open = open
		tk.Change = msg.Last - open
	}
	if msg.MarkPrice > 0 {
		tk.MarkPrice = market.Float(msg.MarkPrice)
	}
	if msg.Index > 0 {
		tk.IndexPrice = market.Float(msg.Index)
	}

	records := []market.Record{tk}
	if msg.FundingRate != nil {
		tk.FundingRate = msg.FundingRate
		fr := &market.FundingRate{
			RecordMeta: market.RecordMeta{
				Venue:             market.Kraken,
				Symbol:            symbol,
				ExchangeTimestamp: msg.Time,
			},
			FundingRate:              *msg.FundingRate,
			PredictedNextFundingRate: msg.FundingRatePrediction,
			MarkPrice:                tk.MarkPrice,
			IndexPrice:               tk.IndexPrice,
		}
		if msg.NextFundingRateTime > 0 {
			fr.NextFundingTime = market.Int(msg.NextFundingRateTime)
			tk.NextFundingTime = market.Int(msg.NextFundingRateTime)
		}
		records = append(records, fr)
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

type futuresTrade struct {
	ProductID string  `json:"product_id"`
	UID       string  `json:"uid"`
	Side      string  `json:"side"`
	Seq       int64   `json:"seq"`
	Time      int64   `json:"time"`
	Qty       float64 `json:"qty"`
	Price     float64 `json:"price"`
}

func (a *Adapter) futuresTradeRecord(t futuresTrade) (market.Record, error) {
	symbol, err := a.codec.FromVenue(t.ProductID)
	if err != nil {
		return nil, err
	}
	side := market.SideBuy
	if t.Side == "sell" {
		side = market.SideSell
	}
	id := t.UID
	if id == "" {
		id = fmt.Sprintf("%d", t.Seq)
	}
	return &market.Trade{
		RecordMeta: market.RecordMeta{
			Venue:             market.Kraken,
			Symbol:            symbol,
			ExchangeTimestamp: t.Time,
		},
		TradeID: id,
		Price:   t.Price,
		Amount:  t.Qty,
		Side:    side,
	}, nil
}

func (a *Adapter) parseFuturesTrade(channel string, frame []byte) (*venue.Inbound, error) {
	var msg futuresTrade
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kraken futures trade: %w", err)
	}
	rec, err := a.futuresTradeRecord(msg)
	if err != nil {
		return nil, err
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{rec}}, nil
}

func (a *Adapter) parseFuturesTradeSnapshot(channel string, frame []byte) (*venue.Inbound, error) {
	var msg struct {
		Trades []futuresTrade `json:"trades"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kraken trade snapshot: %w", err)
	}

	records := make([]market.Record, 0, len(msg.Trades))
	for _, t := range msg.Trades {
		rec, err := a.futuresTradeRecord(t)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

func (a *Adapter) parseFuturesBookSnapshot(channel string, frame []byte) (*venue.Inbound, error) {
	var msg struct {
		ProductID string `json:"product_id"`
		Timestamp int64  `json:"timestamp"`
		Bids      []struct {
			Price float64 `json:"price"`
			Qty   float64 `json:"qty"`
		} `json:"bids"`
		Asks []struct {
			Price float64 `json:"price"`
			Qty   float64 `json:"qty"`
		} `json:"asks"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kraken book snapshot: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.ProductID)
	if err != nil {
		return nil, err
	}

	bids := make([]market.PriceLevel, 0, len(msg.Bids))
	for _, lvl := range msg.Bids {
		bids = append(bids, market.PriceLevel{Price: lvl.Price, Size: lvl.Qty})
	}
	asks := make([]market.PriceLevel, 0, len(msg.Asks))
	for _, lvl := range msg.Asks {
		asks = append(asks, market.PriceLevel{Price: lvl.Price, Size: lvl.Qty})
	}
	d := &market.Depth{
		RecordMeta: market.RecordMeta{
			Venue:             market.Kraken,
			Symbol:            symbol,
			ExchangeTimestamp: msg.Timestamp,
		},
		Bids: bids,
		Asks: asks,
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{d}}, nil
}

// book deltas adjust one level on one side
func (a *Adapter) parseFuturesBookDelta(channel string, frame []byte) (*venue.Inbound, error) {
	var msg struct {
		ProductID string  `json:"product_id"`
		Side      string  `json:"side"`
		Price     float64 `json:"price"`
		Qty       float64 `json:"qty"`
		Timestamp int64   `json:"timestamp"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kraken book delta: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.ProductID)
	if err != nil {
		return nil, err
	}

	d := &market.Depth{
		RecordMeta: market.RecordMeta{
			Venue:             market.Kraken,
			Symbol:            symbol,
			ExchangeTimestamp: msg.Timestamp,
		},
	}
	level := market.PriceLevel{Price: msg.Price, Size: msg.Qty}
	if msg.Side == "buy" {
		d.Bids = []market.PriceLevel{level}
	} else {
		d.Asks = []market.PriceLevel{level}
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{d}}, nil
}

func (a *Adapter) parseFuturesCandle(channel string, frame []byte) (*venue.Inbound, error) {
	var msg struct {
		ProductID string `json:"product_id"`
		Candle    struct {
			Time   int64       `json:"time"`
			Open   interface{} `json:"open"`
			High   interface{} `json:"high"`
			Low    interface{} `json:"low"`
			Close  interface{} `json:"close"`
			Volume interface{} `json:"volume"`
		} `json:"candle"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kraken futures candle: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.ProductID)
	if err != nil {
		return nil, err
	}

	k := &market.Kline{
		RecordMeta: market.RecordMeta{
			Venue:             market.Kraken,
			Symbol:            symbol,
			ExchangeTimestamp: msg.Candle.Time,
		},
		Interval:  "1h",
		OpenTime:  msg.Candle.Time,
		CloseTime: msg.Candle.Time + 3_600_000 - 1,
		Open:      venue.Float(msg.Candle.Open),
		High:      venue.Float(msg.Candle.High),
		Low:       venue.Float(msg.Candle.Low),
		Close:     venue.Float(msg.Candle.Close),
		Volume:    venue.Float(msg.Candle.Volume),
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{k}}, nil
}

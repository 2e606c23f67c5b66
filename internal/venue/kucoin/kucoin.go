// Package kucoin adapts KuCoin spot and futures websockets. Connecting is a
// two-step dance: a bullet-public REST call issues a token plus the socket
// endpoint and the server-dictated ping interval, and the socket URL carries
// the token and a fresh connect id.
package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/symbols"
	"marketflow-engine/internal/venue"
)

const (
	spotBulletURL    = "https://api.kucoin.com/api/v1/bullet-public"
	futuresBulletURL = "https://api-futures.kucoin.com/api/v1/bullet-public"
)

// Adapter implements venue.Adapter for KuCoin
type Adapter struct {
	codec      symbols.Codec
	httpClient *http.Client

	spotBullet    string
	futuresBullet string
}

// New creates the KuCoin adapter
func New() *Adapter {
	codec, _ := symbols.For(market.KuCoin)
	return &Adapter{
		codec:         codec,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		spotBullet:    spotBulletURL,
		futuresBullet: futuresBulletURL,
	}
}

// Venue returns the venue identifier
func (a *Adapter) Venue() market.Venue { return market.KuCoin }

// Endpoint performs the bullet-public handshake and assembles the socket URL
func (a *Adapter) Endpoint(ctx context.Context, class market.TradingClass, _ []market.Subscription) (venue.Endpoint, error) {
	bullet := a.spotBullet
	if class != market.Spot {
		bullet = a.futuresBullet
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bullet, nil)
	if err != nil {
		return venue.Endpoint{}, fmt.Errorf("kucoin bullet request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return venue.Endpoint{}, fmt.Errorf("kucoin bullet: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return venue.Endpoint{}, fmt.Errorf("kucoin bullet: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Code string `json:"code"`
		Data struct {
			Token           string `json:"token"`
			InstanceServers []struct {
				Endpoint     string `json:"endpoint"`
				PingInterval int64  `json:"pingInterval"`
			} `json:"instanceServers"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return venue.Endpoint{}, fmt.Errorf("kucoin bullet decode: %w", err)
	}
	if body.Code != "200000" || len(body.Data.InstanceServers) == 0 {
		return venue.Endpoint{}, fmt.Errorf("kucoin bullet: code %s with %d servers", body.Code, len(body.Data.InstanceServers))
	}

	srv := body.Data.InstanceServers[0]
	return venue.Endpoint{
		URL:               srv.Endpoint + "?token=" + body.Data.Token + "&connectId=" + uuid.NewString(),
		HeartbeatInterval: time.Duration(srv.PingInterval) * time.Millisecond,
	}, nil
}

func (a *Adapter) topic(class market.TradingClass, sub market.Subscription) (string, error) {
	native, err := a.codec.ToVenue(sub.Symbol, sub.Kind, class)
	if err != nil {
		return "", err
	}
	if class == market.Spot {
		switch sub.Kind {
		case market.KindTicker:
			return "/market/ticker:" + native, nil
		case market.KindDepth:
			return "/spotMarket/level2Depth50:" + native, nil
		case market.KindTrade:
			return "/market/match:" + native, nil
		case market.KindFundingRate:
			return "", fmt.Errorf("%w: kucoin spot has no funding data", venue.ErrUnsupported)
		case market.KindKline:
			return "/market/candles:" + native + "_1hour", nil
		}
		return "", fmt.Errorf("%w: %s", market.ErrInvalidKind, sub.Kind)
	}
	switch sub.Kind {
	case market.KindTicker:
		return "/contractMarket/ticker:" + native, nil
	case market.KindDepth:
		return "/contractMarket/level2Depth50:" + native, nil
	case market.KindTrade:
		return "/contractMarket/execution:" + native, nil
	case market.KindFundingRate:
		return "/contract/instrument:" + native, nil
	case market.KindKline:
		return "/contractMarket/limitCandle:" + native + "_1hour", nil
	}
	return "", fmt.Errorf("%w: %s", market.ErrInvalidKind, sub.Kind)
}

type opFrame struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic"`
	PrivateChannel bool   `json:"privateChannel"`
	Response       bool   `json:"response"`
}

func (a *Adapter) opFrames(typ string, class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	frames := make([][]byte, 0, len(subs))
	seen := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		topic, err := a.topic(class, sub)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		frame, err := json.Marshal(opFrame{
			ID:       uuid.NewString(),
			Type:     typ,
			Topic:    topic,
			Response: true,
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// SubscribeFrames builds one subscribe frame per topic
func (a *Adapter) SubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	return a.opFrames("subscribe", class, subs)
}

// UnsubscribeFrames builds one unsubscribe frame per topic
func (a *Adapter) UnsubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	return a.opFrames("unsubscribe", class, subs)
}

// Heartbeat sends KuCoin ping frames at the server-dictated interval
func (a *Adapter) Heartbeat(market.TradingClass) venue.Heartbeat {
	return venue.Heartbeat{Payload: func() []byte {
		frame, _ := json.Marshal(struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		}{ID: uuid.NewString(), Type: "ping"})
		return frame
	}}
}

// topicSymbol cuts the native symbol out of a topic, dropping any candle
// interval suffix.
func topicSymbol(topic string) string {
	s := topic
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, "_"); i > 0 {
		s = s[:i]
	}
	return s
}

// toMillis folds KuCoin's mixed clocks onto milliseconds. Nanosecond
// stamps read around 1.7e18, millisecond stamps around 1.7e12.
func toMillis(n int64) int64 {
	if n > 1e14 {
		return n / 1_000_000
	}
	return n
}

// Parse classifies one frame and normalizes its records
func (a *Adapter) Parse(class market.TradingClass, frame []byte) (*venue.Inbound, error) {
	var msg struct {
		ID      string          `json:"id"`
		Type    string          `json:"type"`
		Topic   string          `json:"topic"`
		Subject string          `json:"subject"`
		Code    int             `json:"code"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kucoin frame: %w", err)
	}

	switch msg.Type {
	case "welcome", "ack":
		return &venue.Inbound{Class: venue.Ack, Channel: msg.Topic}, nil
	case "pong":
		return &venue.Inbound{Class: venue.Pong}, nil
	case "error":
		var detail string
		_ = json.Unmarshal(msg.Data, &detail)
		return &venue.Inbound{Class: venue.ErrorFrame, Err: fmt.Errorf("kucoin error %d: %s", msg.Code, detail)}, nil
	case "message":
	default:
		return &venue.Inbound{Class: venue.Ignore, Channel: msg.Topic}, nil
	}

	switch {
	case strings.HasPrefix(msg.Topic, "/market/ticker:"):
		return a.parseSpotTicker(msg.Topic, msg.Data)
	case strings.HasPrefix(msg.Topic, "/spotMarket/level2Depth50:"):
		return a.parseSpotDepth(msg.Topic, msg.Data)
	case strings.HasPrefix(msg.Topic, "/market/match:"):
		return a.parseSpotMatch(msg.Topic, msg.Data)
	case strings.HasPrefix(msg.Topic, "/market/candles:"):
		return a.parseCandles(msg.Topic, msg.Subject, msg.Data)
	case strings.HasPrefix(msg.Topic, "/contractMarket/ticker:"):
		return a.parseFuturesTicker(msg.Topic, msg.Data)
	case strings.HasPrefix(msg.Topic, "/contractMarket/level2Depth50:"):
		return a.parseFuturesDepth(msg.Topic, msg.Data)
	case strings.HasPrefix(msg.Topic, "/contractMarket/execution:"):
		return a.parseExecution(msg.Topic, msg.Data)
	case strings.HasPrefix(msg.Topic, "/contractMarket/limitCandle:"):
		return a.parseCandles(msg.Topic, msg.Subject, msg.Data)
	case strings.HasPrefix(msg.Topic, "/contract/instrument:"):
		if msg.Subject != "funding.rate" {
			return &venue.Inbound{Class: venue.Ignore, Channel: msg.Topic}, nil
		}
		return a.parseFundingRate(msg.Topic, msg.Data)
	}
	return &venue.Inbound{Class: venue.Ignore, Channel: msg.Topic}, nil
}

func (a *Adapter) parseSpotTicker(topic string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		Price       string `json:"price"`
		Size        string `json:"size"`
		BestAsk     string `json:"bestAsk"`
		BestAskSize string `json:"bestAskSize"`
		BestBid     string `json:"bestBid"`
		BestBidSize string `json:"bestBidSize"`
		Time        int64  `json:"time"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("kucoin ticker: %w", err)
	}
	symbol, err := a.codec.FromVenue(topicSymbol(topic))
	if err != nil {
		return nil, err
	}

	tk := &market.Ticker{
		RecordMeta: market.RecordMeta{
			Venue:             market.KuCoin,
			Symbol:            symbol,
			ExchangeTimestamp: toMillis(msg.Time),
		},
		Last:    venue.F(msg.Price),
		Bid:     venue.F(msg.BestBid),
		BidSize: venue.F(msg.BestBidSize),
		Ask:     venue.F(msg.BestAsk),
		AskSize: venue.F(msg.BestAskSize),
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: []market.Record{tk}}, nil
}

func (a *Adapter) parseSpotDepth(topic string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		Asks      [][]string `json:"asks"`
		Bids      [][]string `json:"bids"`
		Timestamp int64      `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("kucoin depth: %w", err)
	}
	symbol, err := a.codec.FromVenue(topicSymbol(topic))
	if err != nil {
		return nil, err
	}

	d := &market.Depth{
		RecordMeta: market.RecordMeta{
			Venue:             market.KuCoin,
			Symbol:            symbol,
			ExchangeTimestamp: toMillis(msg.Timestamp),
		},
		Bids: venue.Levels(msg.Bids),
		Asks: venue.Levels(msg.Asks),
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: []market.Record{d}}, nil
}

func (a *Adapter) parseSpotMatch(topic string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		Symbol  string `json:"symbol"`
		Side    string `json:"side"`
		Price   string `json:"price"`
		Size    string `json:"size"`
		TradeID string `json:"tradeId"`
		Time    string `json:"time"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("kucoin match: %w", err)
	}
	native := msg.Symbol
	if native == "" {
		native = topicSymbol(topic)
	}
	symbol, err := a.codec.FromVenue(native)
	if err != nil {
		return nil, err
	}

	side := market.SideBuy
	if msg.Side == "sell" {
		side = market.SideSell
	}
	tr := &market.Trade{
		RecordMeta: market.RecordMeta{
			Venue:             market.KuCoin,
			Symbol:            symbol,
			ExchangeTimestamp: toMillis(venue.Int64(msg.Time)),
		},
		TradeID: msg.TradeID,
		Price:   venue.F(msg.Price),
		Amount:  venue.F(msg.Size),
		Side:    side,
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: []market.Record{tr}}, nil
}

// candles rows are positional: [time(sec), open, close, high, low, volume, turnover]
func (a *Adapter) parseCandles(topic, subject string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		Symbol  string   `json:"symbol"`
		Candles []string `json:"candles"`
		Time    int64    `json:"time"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("kucoin candles: %w", err)
	}
	native := msg.Symbol
	if native == "" {
		native = topicSymbol(topic)
	}
	symbol, err := a.codec.FromVenue(native)
	if err != nil {
		return nil, err
	}
	if len(msg.Candles) < 6 {
		return &venue.Inbound{Class: venue.Ignore, Channel: topic}, nil
	}

	openTime := venue.Int64(msg.Candles[0]) * 1000
	k := &market.Kline{
		RecordMeta: market.RecordMeta{
			Venue:             market.KuCoin,
			Symbol:            symbol,
			ExchangeTimestamp: toMillis(msg.Time),
		},
		Interval:  "1h",
		OpenTime:  openTime,
		CloseTime: openTime + 3_600_000 - 1,
		Open:      venue.F(msg.Candles[1]),
		Close:     venue.F(msg.Candles[2]),
		High:      venue.F(msg.Candles[3]),
		Low:       venue.F(msg.Candles[4]),
		Volume:    venue.F(msg.Candles[5]),
		IsClosed:  strings.HasSuffix(subject, ".add"),
	}
	if len(msg.Candles) > 6 {
		k.QuoteVolume = venue.F(msg.Candles[6])
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: []market.Record{k}}, nil
}

func (a *Adapter) parseFuturesTicker(topic string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		Symbol      string      `json:"symbol"`
		Price       interface{} `json:"price"`
		Size        interface{} `json:"size"`
		BestBidSize interface{} `json:"bestBidSize"`
		BestBid     interface{} `json:"bestBidPrice"`
		BestAskSize interface{} `json:"bestAskSize"`
		BestAsk     interface{} `json:"bestAskPrice"`
		TS          int64       `json:"ts"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("kucoin futures ticker: %w", err)
	}
	native := msg.Symbol
	if native == "" {
		native = topicSymbol(topic)
	}
	symbol, err := a.codec.FromVenue(native)
	if err != nil {
		return nil, err
	}

	tk := &market.Ticker{
		RecordMeta: market.RecordMeta{
			Venue:             market.KuCoin,
			Symbol:            symbol,
			ExchangeTimestamp: toMillis(msg.TS),
		},
		Last:    venue.Float(msg.Price),
		Bid:     venue.Float(msg.BestBid),
		BidSize: venue.Float(msg.BestBidSize),
		Ask:     venue.Float(msg.BestAsk),
		AskSize: venue.Float(msg.BestAskSize),
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: []market.Record{tk}}, nil
}

func (a *Adapter) parseFuturesDepth(topic string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		Asks      [][]interface{} `json:"asks"`
		Bids      [][]interface{} `json:"bids"`
		TS        int64           `json:"ts"`
		Timestamp int64           `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("kucoin futures depth: %w", err)
	}
	symbol, err := a.codec.FromVenue(topicSymbol(topic))
	if err != nil {
		return nil, err
	}

	ts := msg.Timestamp
	if ts == 0 {
		ts = toMillis(msg.TS)
	}
	d := &market.Depth{
		RecordMeta: market.RecordMeta{
			Venue:             market.KuCoin,
			Symbol:            symbol,
			ExchangeTimestamp: ts,
		},
		Bids: venue.LevelsAny(msg.Bids),
		Asks: venue.LevelsAny(msg.Asks),
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: []market.Record{d}}, nil
}

func (a *Adapter) parseExecution(topic string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		Symbol  string      `json:"symbol"`
		Side    string      `json:"side"`
		Price   interface{} `json:"price"`
		Size    interface{} `json:"size"`
		TradeID string      `json:"tradeId"`
		TS      int64       `json:"ts"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("kucoin execution: %w", err)
	}
	native := msg.Symbol
	if native == "" {
		native = topicSymbol(topic)
	}
	symbol, err := a.codec.FromVenue(native)
	if err != nil {
		return nil, err
	}

	side := market.SideBuy
	if msg.Side == "sell" {
		side = market.SideSell
	}
	tr := &market.Trade{
		RecordMeta: market.RecordMeta{
			Venue:             market.KuCoin,
			Symbol:            symbol,
			ExchangeTimestamp: toMillis(msg.TS),
		},
		TradeID: msg.TradeID,
		Price:   venue.Float(msg.Price),
		Amount:  venue.Float(msg.Size),
		Side:    side,
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: []market.Record{tr}}, nil
}

func (a *Adapter) parseFundingRate(topic string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		FundingRate float64 `json:"fundingRate"`
		Timestamp   int64   `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("kucoin funding: %w", err)
	}
	symbol, err := a.codec.FromVenue(topicSymbol(topic))
	if err != nil {
		return nil, err
	}

	fr := &market.FundingRate{
		RecordMeta: market.RecordMeta{
			Venue:             market.KuCoin,
			Symbol:            symbol,
			ExchangeTimestamp: toMillis(msg.Timestamp),
		},
		FundingRate: msg.FundingRate,
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: []market.Record{fr}}, nil
}

// Package binance adapts Binance spot and USDT-margined futures streams.
// Both expose the same multiplexed protocol: SUBSCRIBE/UNSUBSCRIBE ops on
// a live socket, or stream names baked into a combined-stream URL.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/symbols"
	"marketflow-engine/internal/venue"
)

const (
	spotWSBase    = "wss://stream.binance.com:9443"
	futuresWSBase = "wss://fstream.binance.com"
)

// Adapter implements venue.Adapter for Binance
type Adapter struct {
	codec  symbols.Codec
	nextID atomic.Int64
}

// New creates the Binance adapter
func New() *Adapter {
	codec, _ := symbols.For(market.Binance)
	return &Adapter{codec: codec}
}

// Venue returns the venue identifier
func (a *Adapter) Venue() market.Venue { return market.Binance }

func wsBase(class market.TradingClass) string {
	if class == market.Spot {
		return spotWSBase
	}
	return futuresWSBase
}

// Endpoint always uses the combined-stream form. Combined frames carry the
// stream name, which the spot partial book needs for symbol recovery.
func (a *Adapter) Endpoint(_ context.Context, class market.TradingClass, preload []market.Subscription) (venue.Endpoint, error) {
	base := wsBase(class)
	if len(preload) == 0 {
		return venue.Endpoint{URL: base + "/stream"}, nil
	}

	streams := make([]string, 0, len(preload))
	loaded := make([]market.Subscription, 0, len(preload))
	for _, sub := range preload {
		name, err := a.streamName(class, sub)
		if err != nil {
			return venue.Endpoint{}, err
		}
		streams = append(streams, name)
		loaded = append(loaded, sub)
	}
	return venue.Endpoint{
		URL:       base + "/stream?streams=" + strings.Join(streams, "/"),
		Preloaded: loaded,
	}, nil
}

// streamName builds the lowercase stream id for one subscription
func (a *Adapter) streamName(class market.TradingClass, sub market.Subscription) (string, error) {
	native, err := a.codec.ToVenue(sub.Symbol, sub.Kind, class)
	if err != nil {
		return "", err
	}
	sym := strings.ToLower(native)
	switch sub.Kind {
	case market.KindTicker:
		return sym + "@ticker", nil
	case market.KindDepth:
		return sym + "@depth20@100ms", nil
	case market.KindTrade:
		return sym + "@trade", nil
	case market.KindFundingRate:
		if class == market.Spot {
			return "", fmt.Errorf("%w: binance spot has no funding stream", venue.ErrUnsupported)
		}
		return sym + "@markPrice@1s", nil
	case market.KindKline:
		return sym + "@kline_1h", nil
	}
	return "", fmt.Errorf("%w: %s", market.ErrInvalidKind, sub.Kind)
}

type opFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (a *Adapter) opFrames(method string, class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	params := make([]string, 0, len(subs))
	for _, sub := range subs {
		name, err := a.streamName(class, sub)
		if err != nil {
			return nil, err
		}
		params = append(params, name)
	}
	if len(params) == 0 {
		return nil, nil
	}
	frame, err := json.Marshal(opFrame{Method: method, Params: params, ID: a.nextID.Add(1)})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

// SubscribeFrames builds one SUBSCRIBE op covering subs
func (a *Adapter) SubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	return a.opFrames("SUBSCRIBE", class, subs)
}

// UnsubscribeFrames builds one UNSUBSCRIBE op covering subs
func (a *Adapter) UnsubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	return a.opFrames("UNSUBSCRIBE", class, subs)
}

// Heartbeat is a transport-level ping; Binance answers with a pong frame
func (a *Adapter) Heartbeat(market.TradingClass) venue.Heartbeat {
	return venue.Heartbeat{Transport: true}
}

// combined is the /stream wrapper envelope
type combined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type ackOrError struct {
	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
	Code *int   `json:"code"`
	Msg  string `json:"msg"`
}

// Parse classifies one frame and normalizes its records
func (a *Adapter) Parse(class market.TradingClass, frame []byte) (*venue.Inbound, error) {
	payload := frame
	channel := ""

	var wrap combined
	if err := json.Unmarshal(frame, &wrap); err == nil && wrap.Stream != "" && len(wrap.Data) > 0 {
		payload = wrap.Data
		channel = wrap.Stream
	}

	var ctl ackOrError
	if err := json.Unmarshal(payload, &ctl); err != nil {
		return nil, fmt.Errorf("binance frame: %w", err)
	}
	if ctl.Error != nil {
		return &venue.Inbound{Class: venue.ErrorFrame, Err: fmt.Errorf("binance error %d: %s", ctl.Error.Code, ctl.Error.Msg)}, nil
	}
	if ctl.Code != nil && ctl.Msg != "" {
		return &venue.Inbound{Class: venue.ErrorFrame, Err: fmt.Errorf("binance error %d: %s", *ctl.Code, ctl.Msg)}, nil
	}
	if ctl.ID != nil {
		return &venue.Inbound{Class: venue.Ack, Channel: channel}, nil
	}

	var head struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("binance frame: %w", err)
	}

	switch head.Event {
	case "24hrTicker":
		return a.parseTicker(channel, payload)
	case "trade":
		return a.parseTrade(channel, payload)
	case "markPriceUpdate":
		return a.parseMarkPrice(channel, payload)
	case "kline":
		return a.parseKline(channel, payload)
	case "depthUpdate":
		return a.parseFuturesDepth(channel, payload)
	case "":
		// spot partial book frames carry no event tag; the symbol rides
		// on the combined stream name
		if channel != "" && strings.Contains(channel, "@depth") {
			return a.parseSpotDepth(channel, payload)
		}
		return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
	}
	return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
}

// canonical maps a native symbol from a frame back to BASE/QUOTE
func (a *Adapter) canonical(native string) (string, error) {
	return a.codec.FromVenue(native)
}

func streamSymbol(channel string) string {
	if i := strings.Index(channel, "@"); i > 0 {
		return strings.ToUpper(channel[:i])
	}
	return ""
}

func (a *Adapter) parseTicker(channel string, payload []byte) (*venue.Inbound, error) {
	var msg struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Last      string `json:"c"`
		Bid       string `json:"b"`
		BidQty    string `json:"B"`
		Ask       string `json:"a"`
		AskQty    string `json:"A"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Quote     string `json:"q"`
		Change    string `json:"p"`
		ChangePct string `json:"P"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("binance ticker: %w", err)
	}
	symbol, err := a.canonical(msg.Symbol)
	if err != nil {
		return nil, err
	}

	t := &market.Ticker{
		RecordMeta: market.RecordMeta{
			Venue:             market.Binance,
			Symbol:            symbol,
			ExchangeTimestamp: msg.EventTime,
		},
		Last:          venue.F(msg.Last),
		Bid:           venue.F(msg.Bid),
		BidSize:       venue.F(msg.BidQty),
		Ask:           venue.F(msg.Ask),
		AskSize:       venue.F(msg.AskQty),
		Open:          venue.F(msg.Open),
		High:          venue.F(msg.High),
		Low:           venue.F(msg.Low),
		Volume:        venue.F(msg.Volume),
		QuoteVolume:   venue.F(msg.Quote),
		Change:        venue.F(msg.Change),
		ChangePercent: venue.F(msg.ChangePct),
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{t}}, nil
}

func (a *Adapter) parseTrade(channel string, payload []byte) (*venue.Inbound, error) {
	var msg struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		TradeID   int64  `json:"t"`
		Price     string `json:"p"`
		Qty       string `json:"q"`
		TradeTime int64  `json:"T"`
		BuyerMkr  bool   `json:"m"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("binance trade: %w", err)
	}
	symbol, err := a.canonical(msg.Symbol)
	if err != nil {
		return nil, err
	}

	side := market.SideBuy
	if msg.BuyerMkr {
		side = market.SideSell // buyer was the maker, so the taker sold
	}
	ts := msg.TradeTime
	if ts == 0 {
		ts = msg.EventTime
	}
	tr := &market.Trade{
		RecordMeta: market.RecordMeta{
			Venue:             market.Binance,
			Symbol:            symbol,
			ExchangeTimestamp: ts,
		},
		TradeID: fmt.Sprintf("%d", msg.TradeID),
		Price:   venue.F(msg.Price),
		Amount:  venue.F(msg.Qty),
		Side:    side,
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{tr}}, nil
}

func (a *Adapter) parseMarkPrice(channel string, payload []byte) (*venue.Inbound, error) {
	var msg struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Mark      string `json:"p"`
		Index     string `json:"i"`
		Rate      string `json:"r"`
		NextTime  int64  `json:"T"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("binance markPrice: %w", err)
	}
	symbol, err := a.canonical(msg.Symbol)
	if err != nil {
		return nil, err
	}

	fr := &market.FundingRate{
		RecordMeta: market.RecordMeta{
			Venue:             market.Binance,
			Symbol:            symbol,
			ExchangeTimestamp: msg.EventTime,
		},
		FundingRate: venue.F(msg.Rate),
	}
	if v := venue.F(msg.Mark); v > 0 {
		fr.MarkPrice = market.Float(v)
	}
	if v := venue.F(msg.Index); v > 0 {
		fr.IndexPrice = market.Float(v)
	}
	if msg.NextTime > 0 {
		fr.NextFundingTime = market.Int(msg.NextTime)
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{fr}}, nil
}

func (a *Adapter) parseKline(channel string, payload []byte) (*venue.Inbound, error) {
	var msg struct {
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		K         struct {
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Interval  string `json:"i"`
			Open      string `json:"o"`
			Close     string `json:"c"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Volume    string `json:"v"`
			Trades    int64  `json:"n"`
			Closed    bool   `json:"x"`
			Quote     string `json:"q"`
		} `json:"k"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("binance kline: %w", err)
	}
	symbol, err := a.canonical(msg.Symbol)
	if err != nil {
		return nil, err
	}

	k := &market.Kline{
		RecordMeta: market.RecordMeta{
			Venue:             market.Binance,
			Symbol:            symbol,
			ExchangeTimestamp: msg.EventTime,
		},
		Interval:    msg.K.Interval,
		OpenTime:    msg.K.OpenTime,
		CloseTime:   msg.K.CloseTime,
		Open:        venue.F(msg.K.Open),
		High:        venue.F(msg.K.High),
		Low:         venue.F(msg.K.Low),
		Close:       venue.F(msg.K.Close),
		Volume:      venue.F(msg.K.Volume),
		QuoteVolume: venue.F(msg.K.Quote),
		Trades:      msg.K.Trades,
		IsClosed:    msg.K.Closed,
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{k}}, nil
}

func (a *Adapter) parseSpotDepth(channel string, payload []byte) (*venue.Inbound, error) {
	var msg struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("binance depth: %w", err)
	}
	native := streamSymbol(channel)
	if native == "" {
		return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
	}
	symbol, err := a.canonical(native)
	if err != nil {
		return nil, err
	}

	d := &market.Depth{
		RecordMeta: market.RecordMeta{Venue: market.Binance, Symbol: symbol},
		Bids:       venue.Levels(msg.Bids),
		Asks:       venue.Levels(msg.Asks),
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{d}}, nil
}

func (a *Adapter) parseFuturesDepth(channel string, payload []byte) (*venue.Inbound, error) {
	var msg struct {
		EventTime int64      `json:"E"`
		TradeTime int64      `json:"T"`
		Symbol    string     `json:"s"`
		Bids      [][]string `json:"b"`
		Asks      [][]string `json:"a"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("binance depth: %w", err)
	}
	symbol, err := a.canonical(msg.Symbol)
	if err != nil {
		return nil, err
	}

	d := &market.Depth{
		RecordMeta: market.RecordMeta{
			Venue:             market.Binance,
			Symbol:            symbol,
			ExchangeTimestamp: msg.EventTime,
		},
		Bids: venue.Levels(msg.Bids),
		Asks: venue.Levels(msg.Asks),
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{d}}, nil
}

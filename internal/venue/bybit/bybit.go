// Package bybit adapts Bybit v5 public streams. Linear tickers arrive as a
// snapshot followed by sparse deltas, so the adapter keeps a per-symbol merge
// state and always emits fully populated records.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/symbols"
	"marketflow-engine/internal/venue"
)

const (
	spotWSURL   = "wss://stream.bybit.com/v5/public/spot"
	linearWSURL = "wss://stream.bybit.com/v5/public/linear"
)

// Adapter implements venue.Adapter for Bybit
type Adapter struct {
	codec symbols.Codec

	mu      sync.Mutex
	tickers map[string]tickerState
}

type tickerState struct {
	LastPrice       string `json:"lastPrice"`
	Bid1Price       string `json:"bid1Price"`
	Bid1Size        string `json:"bid1Size"`
	Ask1Price       string `json:"ask1Price"`
	Ask1Size        string `json:"ask1Size"`
	PrevPrice24h    string `json:"prevPrice24h"`
	HighPrice24h    string `json:"highPrice24h"`
	LowPrice24h     string `json:"lowPrice24h"`
	Volume24h       string `json:"volume24h"`
	Turnover24h     string `json:"turnover24h"`
	Price24hPcnt    string `json:"price24hPcnt"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
}

// New creates the Bybit adapter
func New() *Adapter {
	codec, _ := symbols.For(market.Bybit)
	return &Adapter{codec: codec, tickers: make(map[string]tickerState)}
}

// Venue returns the venue identifier
func (a *Adapter) Venue() market.Venue { return market.Bybit }

// Endpoint returns the public stream URL for the trading class
func (a *Adapter) Endpoint(_ context.Context, class market.TradingClass, _ []market.Subscription) (venue.Endpoint, error) {
	if class == market.Spot {
		return venue.Endpoint{URL: spotWSURL}, nil
	}
	return venue.Endpoint{URL: linearWSURL}, nil
}

func (a *Adapter) topic(class market.TradingClass, sub market.Subscription) (string, error) {
	native, err := a.codec.ToVenue(sub.Symbol, sub.Kind, class)
	if err != nil {
		return "", err
	}
	switch sub.Kind {
	case market.KindTicker:
		return "tickers." + native, nil
	case market.KindDepth:
		return "orderbook.50." + native, nil
	case market.KindTrade:
		return "publicTrade." + native, nil
	case market.KindFundingRate:
		if class == market.Spot {
			return "", fmt.Errorf("%w: bybit spot has no funding data", venue.ErrUnsupported)
		}
		// funding rides on the linear tickers topic
		return "tickers." + native, nil
	case market.KindKline:
		return "kline.60." + native, nil
	}
	return "", fmt.Errorf("%w: %s", market.ErrInvalidKind, sub.Kind)
}

type opFrame struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (a *Adapter) opFrames(op string, class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	args := make([]string, 0, len(subs))
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
		args = append(args, topic)
	}
	if len(args) == 0 {
		return nil, nil
	}
	frame, err := json.Marshal(opFrame{Op: op, Args: args})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

// SubscribeFrames builds one subscribe op covering subs
func (a *Adapter) SubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	return a.opFrames("subscribe", class, subs)
}

// UnsubscribeFrames builds one unsubscribe op covering subs. Funding subs
// are skipped: they share the tickers topic, which a live ticker sub may
// still need. Dropping the ticker sub drops funding with it.
func (a *Adapter) UnsubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	kept := make([]market.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Kind == market.KindFundingRate {
			continue
		}
		kept = append(kept, sub)
	}
	return a.opFrames("unsubscribe", class, kept)
}

// Heartbeat sends the Bybit application-level ping op
func (a *Adapter) Heartbeat(market.TradingClass) venue.Heartbeat {
	return venue.Heartbeat{Payload: func() []byte { return []byte(`{"op":"ping"}`) }}
}

// Parse classifies one frame and normalizes its records
func (a *Adapter) Parse(class market.TradingClass, frame []byte) (*venue.Inbound, error) {
	var msg struct {
		Topic   string          `json:"topic"`
		Type    string          `json:"type"`
		TS      int64           `json:"ts"`
		Data    json.RawMessage `json:"data"`
		Op      string          `json:"op"`
		Success *bool           `json:"success"`
		RetMsg  string          `json:"ret_msg"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("bybit frame: %w", err)
	}

	if msg.Op != "" || msg.Success != nil {
		if msg.Op == "pong" || msg.RetMsg == "pong" {
			return &venue.Inbound{Class: venue.Pong}, nil
		}
		if msg.Success != nil && !*msg.Success {
			return &venue.Inbound{Class: venue.ErrorFrame, Err: fmt.Errorf("bybit %s failed: %s", msg.Op, msg.RetMsg)}, nil
		}
		return &venue.Inbound{Class: venue.Ack}, nil
	}
	if msg.Topic == "" {
		return &venue.Inbound{Class: venue.Ignore}, nil
	}

	switch {
	case strings.HasPrefix(msg.Topic, "tickers."):
		return a.parseTicker(class, msg.Topic, msg.Type, msg.TS, msg.Data)
	case strings.HasPrefix(msg.Topic, "orderbook."):
		return a.parseDepth(msg.Topic, msg.TS, msg.Data)
	case strings.HasPrefix(msg.Topic, "publicTrade."):
		return a.parseTrades(msg.Topic, msg.Data)
	case strings.HasPrefix(msg.Topic, "kline."):
		return a.parseKlines(msg.Topic, msg.TS, msg.Data)
	}
	return &venue.Inbound{Class: venue.Ignore, Channel: msg.Topic}, nil
}

func topicSymbol(topic string) string {
	if i := strings.LastIndex(topic, "."); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

func overlay(dst *tickerState, src tickerState) {
	if src.LastPrice != "" {
		dst.LastPrice = src.LastPrice
	}
	if src.Bid1Price != "" {
		dst.Bid1Price = src.Bid1Price
	}
	if src.Bid1Size != "" {
		dst.Bid1Size = src.Bid1Size
	}
	if src.Ask1Price != "" {
		dst.Ask1Price = src.Ask1Price
	}
	if src.Ask1Size != "" {
		dst.Ask1Size = src.Ask1Size
	}
	if src.PrevPrice24h != "" {
		dst.PrevPrice24h = src.PrevPrice24h
	}
	if src.HighPrice24h != "" {
		dst.HighPrice24h = src.HighPrice24h
	}
	if src.LowPrice24h != "" {
		dst.LowPrice24h = src.LowPrice24h
	}
	if src.Volume24h != "" {
		dst.Volume24h = src.Volume24h
	}
	if src.Turnover24h != "" {
		dst.Turnover24h = src.Turnover24h
	}
	if src.Price24hPcnt != "" {
		dst.Price24hPcnt = src.Price24hPcnt
	}
	if src.MarkPrice != "" {
		dst.MarkPrice = src.MarkPrice
	}
	if src.IndexPrice != "" {
		dst.IndexPrice = src.IndexPrice
	}
	if src.FundingRate != "" {
		dst.FundingRate = src.FundingRate
	}
	if src.NextFundingTime != "" {
		dst.NextFundingTime = src.NextFundingTime
	}
}

func (a *Adapter) parseTicker(class market.TradingClass, topic, typ string, ts int64, data json.RawMessage) (*venue.Inbound, error) {
	var upd tickerState
	if err := json.Unmarshal(data, &upd); err != nil {
		return nil, fmt.Errorf("bybit ticker: %w", err)
	}
	native := topicSymbol(topic)
	symbol, err := a.codec.FromVenue(native)
	if err != nil {
		return nil, err
	}

	key := string(class) + ":" + native
	a.mu.Lock()
	st := a.tickers[key]
	if typ == "snapshot" {
		st = upd
	} else {
		overlay(&st, upd)
	}
	a.tickers[key] = st
	a.mu.Unlock()

	last := venue.F(st.LastPrice)
	open := venue.F(st.PrevPrice24h)
	tk := &market.Ticker{
		RecordMeta: market.RecordMeta{
			Venue:             market.Bybit,
			Symbol:            symbol,
			ExchangeTimestamp: ts,
		},
		Last:          last,
		Bid:           venue.F(st.Bid1Price),
		BidSize:       venue.F(st.Bid1Size),
		Ask:           venue.F(st.Ask1Price),
		AskSize:       venue.F(st.Ask1Size),
		Open:          open,
		High:          venue.F(st.HighPrice24h),
		Low:           venue.F(st.LowPrice24h),
		Volume:        venue.F(st.Volume24h),
		QuoteVolume:   venue.F(st.Turnover24h),
		Change:        last - open,
		ChangePercent: venue.F(st.Price24hPcnt) * 100,
	}
	if v := venue.F(st.MarkPrice); v > 0 {
		tk.MarkPrice = market.Float(v)
	}
	if v := venue.F(st.IndexPrice); v > 0 {
		tk.IndexPrice = market.Float(v)
	}

	records := []market.Record{tk}
	if class == market.LinearPerpetual && st.FundingRate != "" {
		tk.FundingRate = market.Float(venue.F(st.FundingRate))
		fr := &market.FundingRate{
			RecordMeta: market.RecordMeta{
				Venue:             market.Bybit,
				Symbol:            symbol,
				ExchangeTimestamp: ts,
			},
			FundingRate: venue.F(st.FundingRate),
			MarkPrice:   tk.MarkPrice,
			IndexPrice:  tk.IndexPrice,
		}
		if t := venue.Int64(st.NextFundingTime); t > 0 {
			fr.NextFundingTime = market.Int(t)
			tk.NextFundingTime = market.Int(t)
		}
		records = append(records, fr)
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: records}, nil
}

func (a *Adapter) parseDepth(topic string, ts int64, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("bybit orderbook: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.Symbol)
	if err != nil {
		return nil, err
	}

	d := &market.Depth{
		RecordMeta: market.RecordMeta{
			Venue:             market.Bybit,
			Symbol:            symbol,
			ExchangeTimestamp: ts,
		},
		Bids: venue.Levels(msg.Bids),
		Asks: venue.Levels(msg.Asks),
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: []market.Record{d}}, nil
}

func (a *Adapter) parseTrades(topic string, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		Time    int64  `json:"T"`
		Symbol  string `json:"s"`
		Side    string `json:"S"`
		Size    string `json:"v"`
		Price   string `json:"p"`
		TradeID string `json:"i"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("bybit trades: %w", err)
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		symbol, err := a.codec.FromVenue(it.Symbol)
		if err != nil {
			return nil, err
		}
		side := market.SideBuy
		if strings.EqualFold(it.Side, "Sell") {
			side = market.SideSell
		}
		records = append(records, &market.Trade{
			RecordMeta: market.RecordMeta{
				Venue:             market.Bybit,
				Symbol:            symbol,
				ExchangeTimestamp: it.Time,
			},
			TradeID: it.TradeID,
			Price:   venue.F(it.Price),
			Amount:  venue.F(it.Size),
			Side:    side,
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: records}, nil
}

func (a *Adapter) parseKlines(topic string, ts int64, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		Start    int64  `json:"start"`
		End      int64  `json:"end"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
		Turnover string `json:"turnover"`
		Confirm  bool   `json:"confirm"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("bybit kline: %w", err)
	}
	symbol, err := a.codec.FromVenue(topicSymbol(topic))
	if err != nil {
		return nil, err
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		records = append(records, &market.Kline{
			RecordMeta: market.RecordMeta{
				Venue:             market.Bybit,
				Symbol:            symbol,
				ExchangeTimestamp: ts,
			},
			Interval:    "1h",
			OpenTime:    it.Start,
			CloseTime:   it.End,
			Open:        venue.F(it.Open),
			High:        venue.F(it.High),
			Low:         venue.F(it.Low),
			Close:       venue.F(it.Close),
			Volume:      venue.F(it.Volume),
			QuoteVolume: venue.F(it.Turnover),
			IsClosed:    it.Confirm,
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: topic, Records: records}, nil
}

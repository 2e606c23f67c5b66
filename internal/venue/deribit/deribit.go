// Package deribit adapts the Deribit JSON-RPC v2 websocket. Perpetual
// funding has no dedicated channel; it rides the ticker notification, so a
// funding subscription maps onto the ticker channel and the parser splits
// the composite payload into separate records.
package deribit

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

const wsURL = "wss://www.deribit.com/ws/api/v2"

// Adapter implements venue.Adapter for Deribit
type Adapter struct {
	codec  symbols.Codec
	nextID atomic.Int64
}

// New creates the Deribit adapter
func New() *Adapter {
	codec, _ := symbols.For(market.Deribit)
	return &Adapter{codec: codec}
}

// Venue returns the venue identifier
func (a *Adapter) Venue() market.Venue { return market.Deribit }

// Endpoint returns the shared JSON-RPC endpoint
func (a *Adapter) Endpoint(context.Context, market.TradingClass, []market.Subscription) (venue.Endpoint, error) {
	return venue.Endpoint{URL: wsURL}, nil
}

func (a *Adapter) channel(class market.TradingClass, sub market.Subscription) (string, error) {
	inst, err := a.codec.ToVenue(sub.Symbol, sub.Kind, class)
	if err != nil {
		return "", err
	}
	switch sub.Kind {
	case market.KindTicker:
		return "ticker." + inst + ".100ms", nil
	case market.KindDepth:
		return "book." + inst + ".none.10.100ms", nil
	case market.KindTrade:
		return "trades." + inst + ".100ms", nil
	case market.KindFundingRate:
		if class == market.Spot {
			return "", fmt.Errorf("%w: deribit spot has no funding data", venue.ErrUnsupported)
		}
		return "ticker." + inst + ".100ms", nil
	case market.KindKline:
		return "chart.trades." + inst + ".60", nil
	}
	return "", fmt.Errorf("%w: %s", market.ErrInvalidKind, sub.Kind)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func (a *Adapter) rpcFrames(method string, class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	channels := make([]string, 0, len(subs))
	seen := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		ch, err := a.channel(class, sub)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, nil
	}
	frame, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      a.nextID.Add(1),
		Method:  method,
		Params:  map[string][]string{"channels": channels},
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

// SubscribeFrames builds one public/subscribe call covering subs
func (a *Adapter) SubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	return a.rpcFrames("public/subscribe", class, subs)
}

// UnsubscribeFrames builds one public/unsubscribe call covering subs.
// Funding subs are skipped because they share the ticker channel.
func (a *Adapter) UnsubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	kept := make([]market.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Kind == market.KindFundingRate {
			continue
		}
		kept = append(kept, sub)
	}
	return a.rpcFrames("public/unsubscribe", class, kept)
}

// Heartbeat issues public/test calls; the server answers with a result frame
func (a *Adapter) Heartbeat(market.TradingClass) venue.Heartbeat {
	return venue.Heartbeat{Payload: func() []byte {
		frame, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: a.nextID.Add(1), Method: "public/test"})
		return frame
	}}
}

// Parse classifies one frame and normalizes its records
func (a *Adapter) Parse(class market.TradingClass, frame []byte) (*venue.Inbound, error) {
	var msg struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Params struct {
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		} `json:"params"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("deribit frame: %w", err)
	}

	if msg.Error != nil {
		return &venue.Inbound{Class: venue.ErrorFrame, Err: fmt.Errorf("deribit error %d: %s", msg.Error.Code, msg.Error.Message)}, nil
	}
	if msg.ID != nil {
		return &venue.Inbound{Class: venue.Ack}, nil
	}
	if msg.Method == "heartbeat" {
		return &venue.Inbound{Class: venue.Pong}, nil
	}
	if msg.Method != "subscription" || msg.Params.Channel == "" {
		return &venue.Inbound{Class: venue.Ignore}, nil
	}

	ch := msg.Params.Channel
	switch {
	case strings.HasPrefix(ch, "chart.trades."):
		return a.parseChart(class, ch, msg.Params.Data)
	case strings.HasPrefix(ch, "ticker."):
		return a.parseTicker(class, ch, msg.Params.Data)
	case strings.HasPrefix(ch, "book."):
		return a.parseBook(ch, msg.Params.Data)
	case strings.HasPrefix(ch, "trades."):
		return a.parseTrades(ch, msg.Params.Data)
	}
	return &venue.Inbound{Class: venue.Ignore, Channel: ch}, nil
}

// chart data frames carry no instrument name, so it is cut from the channel
func chartInstrument(channel string) string {
	parts := strings.Split(channel, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func (a *Adapter) parseTicker(class market.TradingClass, channel string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		InstrumentName string   `json:"instrument_name"`
		LastPrice      float64  `json:"last_price"`
		BestBidPrice   float64  `json:"best_bid_price"`
		BestBidAmount  float64  `json:"best_bid_amount"`
		BestAskPrice   float64  `json:"best_ask_price"`
		BestAskAmount  float64  `json:"best_ask_amount"`
		MarkPrice      float64  `json:"mark_price"`
		IndexPrice     float64  `json:"index_price"`
		CurrentFunding *float64 `json:"current_funding"`
		Funding8h      *float64 `json:"funding_8h"`
		Timestamp      int64    `json:"timestamp"`
		Stats          struct {
			High        float64  `json:"high"`
			Low         float64  `json:"low"`
			Volume      float64  `json:"volume"`
			VolumeUSD   float64  `json:"volume_usd"`
			PriceChange *float64 `json:"price_change"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("deribit ticker: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.InstrumentName)
	if err != nil {
		return nil, err
	}

	tk := &market.Ticker{
		RecordMeta: market.RecordMeta{
			Venue:             market.Deribit,
			Symbol:            symbol,
			ExchangeTimestamp: msg.Timestamp,
		},
		Last:        msg.LastPrice,
		Bid:         msg.BestBidPrice,
		BidSize:     msg.BestBidAmount,
		Ask:         msg.BestAskPrice,
		AskSize:     msg.BestAskAmount,
		High:        msg.Stats.High,
		Low:         msg.Stats.Low,
		Volume:      msg.Stats.Volume,
		QuoteVolume: msg.Stats.VolumeUSD,
	}
	if msg.MarkPrice > 0 {
		tk.MarkPrice = market.Float(msg.MarkPrice)
	}
	if msg.IndexPrice > 0 {
		tk.IndexPrice = market.Float(msg.IndexPrice)
	}
	// stats.price_change is a 24h percentage; recover the open from it
	if pc := msg.Stats.PriceChange; pc != nil && *pc > -100 {
		open := msg.LastPrice / (1 + *pc/100)
		tk.Open = open
		tk.Change = msg.LastPrice - open
		tk.ChangePercent = *pc
	}

	records := []market.Record{tk}
	if class == market.LinearPerpetual && msg.CurrentFunding != nil {
		tk.FundingRate = msg.CurrentFunding
		fr := &market.FundingRate{
			RecordMeta: market.RecordMeta{
				Venue:             market.Deribit,
				Symbol:            symbol,
				ExchangeTimestamp: msg.Timestamp,
			},
			FundingRate:              *msg.CurrentFunding,
			PredictedNextFundingRate: msg.Funding8h,
			MarkPrice:                tk.MarkPrice,
			IndexPrice:               tk.IndexPrice,
		}
		records = append(records, fr)
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

func (a *Adapter) parseBook(channel string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		InstrumentName string      `json:"instrument_name"`
		Timestamp      int64       `json:"timestamp"`
		Bids           [][]float64 `json:"bids"`
		Asks           [][]float64 `json:"asks"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("deribit book: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.InstrumentName)
	if err != nil {
		return nil, err
	}

	toLevels := func(rows [][]float64) []market.PriceLevel {
		levels := make([]market.PriceLevel, 0, len(rows))
		for _, row := range rows {
			if len(row) < 2 {
				continue
			}
			levels = append(levels, market.PriceLevel{Price: row[0], Size: row[1]})
		}
		return levels
	}
	d := &market.Depth{
		RecordMeta: market.RecordMeta{
			Venue:             market.Deribit,
			Symbol:            symbol,
			ExchangeTimestamp: msg.Timestamp,
		},
		Bids: toLevels(msg.Bids),
		Asks: toLevels(msg.Asks),
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{d}}, nil
}

func (a *Adapter) parseTrades(channel string, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		TradeID        string  `json:"trade_id"`
		InstrumentName string  `json:"instrument_name"`
		Price          float64 `json:"price"`
		Amount         float64 `json:"amount"`
		Direction      string  `json:"direction"`
		Timestamp      int64   `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("deribit trades: %w", err)
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		symbol, err := a.codec.FromVenue(it.InstrumentName)
		if err != nil {
			return nil, err
		}
		side := market.SideBuy
		if it.Direction == "sell" {
			side = market.SideSell
		}
		records = append(records, &market.Trade{
			RecordMeta: market.RecordMeta{
				Venue:             market.Deribit,
				Symbol:            symbol,
				ExchangeTimestamp: it.Timestamp,
			},
			TradeID: it.TradeID,
			Price:   it.Price,
			Amount:  it.Amount,
			Side:    side,
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

func (a *Adapter) parseChart(_ market.TradingClass, channel string, data json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		Tick   int64   `json:"tick"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
		Cost   float64 `json:"cost"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("deribit chart: %w", err)
	}
	inst := chartInstrument(channel)
	if inst == "" {
		return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
	}
	symbol, err := a.codec.FromVenue(inst)
	if err != nil {
		return nil, err
	}

	k := &market.Kline{
		RecordMeta: market.RecordMeta{
			Venue:             market.Deribit,
			Symbol:            symbol,
			ExchangeTimestamp: msg.Tick,
		},
		Interval:    "1h",
		OpenTime:    msg.Tick,
		CloseTime:   msg.Tick + 3_600_000 - 1,
		Open:        msg.Open,
		High:        msg.High,
		Low:         msg.Low,
		Close:       msg.Close,
		Volume:      msg.Volume,
		QuoteVolume: msg.Cost,
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{k}}, nil
}

// Package okx adapts OKX v5 public websocket channels. Spot and perpetual
// share one endpoint; the instrument id carries the class (BTC-USDT vs
// BTC-USDT-SWAP).
package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/symbols"
	"marketflow-engine/internal/venue"
)

const wsURL = "wss://ws.okx.com:8443/ws/v5/public"

// Adapter implements venue.Adapter for OKX
type Adapter struct {
	codec symbols.Codec
}

// New creates the OKX adapter
func New() *Adapter {
	codec, _ := symbols.For(market.OKX)
	return &Adapter{codec: codec}
}

// Venue returns the venue identifier
func (a *Adapter) Venue() market.Venue { return market.OKX }

// Endpoint returns the shared public channel URL
func (a *Adapter) Endpoint(context.Context, market.TradingClass, []market.Subscription) (venue.Endpoint, error) {
	return venue.Endpoint{URL: wsURL}, nil
}

func channelFor(kind market.DataKind, class market.TradingClass) (string, error) {
	switch kind {
	case market.KindTicker:
		return "tickers", nil
	case market.KindDepth:
		return "books5", nil
	case market.KindTrade:
		return "trades", nil
	case market.KindFundingRate:
		if class == market.Spot {
			return "", fmt.Errorf("%w: okx spot has no funding channel", venue.ErrUnsupported)
		}
		return "funding-rate", nil
	case market.KindKline:
		return "candle1H", nil
	}
	return "", fmt.Errorf("%w: %s", market.ErrInvalidKind, kind)
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type opFrame struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

func (a *Adapter) opFrames(op string, class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	args := make([]wsArg, 0, len(subs))
	for _, sub := range subs {
		ch, err := channelFor(sub.Kind, class)
		if err != nil {
			return nil, err
		}
		instID, err := a.codec.ToVenue(sub.Symbol, sub.Kind, class)
		if err != nil {
			return nil, err
		}
		args = append(args, wsArg{Channel: ch, InstID: instID})
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

// UnsubscribeFrames builds one unsubscribe op covering subs
func (a *Adapter) UnsubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	return a.opFrames("unsubscribe", class, subs)
}

// Heartbeat sends the literal "ping" text; OKX answers with "pong"
func (a *Adapter) Heartbeat(market.TradingClass) venue.Heartbeat {
	return venue.Heartbeat{Payload: func() []byte { return []byte("ping") }}
}

// Parse classifies one frame and normalizes its records
func (a *Adapter) Parse(class market.TradingClass, frame []byte) (*venue.Inbound, error) {
	if bytes.Equal(frame, []byte("pong")) {
		return &venue.Inbound{Class: venue.Pong}, nil
	}

	var msg struct {
		Event string          `json:"event"`
		Code  string          `json:"code"`
		Msg   string          `json:"msg"`
		Arg   wsArg           `json:"arg"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("okx frame: %w", err)
	}

	switch msg.Event {
	case "error":
		return &venue.Inbound{Class: venue.ErrorFrame, Err: fmt.Errorf("okx error %s: %s", msg.Code, msg.Msg)}, nil
	case "subscribe", "unsubscribe":
		return &venue.Inbound{Class: venue.Ack, Channel: msg.Arg.Channel + ":" + msg.Arg.InstID}, nil
	}
	if msg.Arg.Channel == "" || len(msg.Data) == 0 {
		return &venue.Inbound{Class: venue.Ignore}, nil
	}

	channel := msg.Arg.Channel + ":" + msg.Arg.InstID
	switch msg.Arg.Channel {
	case "tickers":
		return a.parseTickers(channel, msg.Data)
	case "books5":
		return a.parseBooks(channel, msg.Arg.InstID, msg.Data)
	case "trades":
		return a.parseTrades(channel, msg.Data)
	case "funding-rate":
		return a.parseFunding(channel, msg.Data)
	case "candle1H":
		return a.parseCandles(channel, msg.Arg.InstID, msg.Data)
	}
	return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
}

func (a *Adapter) parseTickers(channel string, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		InstID  string `json:"instId"`
		Last    string `json:"last"`
		AskPx   string `json:"askPx"`
		AskSz   string `json:"askSz"`
		BidPx   string `json:"bidPx"`
		BidSz   string `json:"bidSz"`
		Open24h string `json:"open24h"`
		High24h string `json:"high24h"`
		Low24h  string `json:"low24h"`
		Vol24h  string `json:"vol24h"`
		VolCcy  string `json:"volCcy24h"`
		TS      string `json:"ts"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("okx ticker: %w", err)
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		symbol, err := a.codec.FromVenue(it.InstID)
		if err != nil {
			return nil, err
		}
		last := venue.F(it.Last)
		open := venue.F(it.Open24h)
		tk := &market.Ticker{
			RecordMeta: market.RecordMeta{
				Venue:             market.OKX,
				Symbol:            symbol,
				ExchangeTimestamp: venue.Int64(it.TS),
			},
			Last:        last,
			Bid:         venue.F(it.BidPx),
			BidSize:     venue.F(it.BidSz),
			Ask:         venue.F(it.AskPx),
			AskSize:     venue.F(it.AskSz),
			Open:        open,
			High:        venue.F(it.High24h),
			Low:         venue.F(it.Low24h),
			Volume:      venue.F(it.Vol24h),
			QuoteVolume: venue.F(it.VolCcy),
			Change:      last - open,
		}
		if open > 0 {
			tk.ChangePercent = (last - open) / open * 100
		}
		records = append(records, tk)
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

func (a *Adapter) parseBooks(channel, instID string, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		TS   string     `json:"ts"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("okx books: %w", err)
	}
	symbol, err := a.codec.FromVenue(instID)
	if err != nil {
		return nil, err
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		records = append(records, &market.Depth{
			RecordMeta: market.RecordMeta{
				Venue:             market.OKX,
				Symbol:            symbol,
				ExchangeTimestamp: venue.Int64(it.TS),
			},
			Bids: venue.Levels(it.Bids),
			Asks: venue.Levels(it.Asks),
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

func (a *Adapter) parseTrades(channel string, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		InstID  string `json:"instId"`
		TradeID string `json:"tradeId"`
		Px      string `json:"px"`
		Sz      string `json:"sz"`
		Side    string `json:"side"`
		TS      string `json:"ts"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("okx trades: %w", err)
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		symbol, err := a.codec.FromVenue(it.InstID)
		if err != nil {
			return nil, err
		}
		side := market.SideBuy
		if it.Side == "sell" {
			side = market.SideSell
		}
		records = append(records, &market.Trade{
			RecordMeta: market.RecordMeta{
				Venue:             market.OKX,
				Symbol:            symbol,
				ExchangeTimestamp: venue.Int64(it.TS),
			},
			TradeID: it.TradeID,
			Price:   venue.F(it.Px),
			Amount:  venue.F(it.Sz),
			Side:    side,
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

func (a *Adapter) parseFunding(channel string, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		InstID      string `json:"instId"`
		FundingRate string `json:"fundingRate"`
		FundingTime string `json:"fundingTime"`
		NextRate    string `json:"nextFundingRate"`
		TS          string `json:"ts"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("okx funding: %w", err)
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		symbol, err := a.codec.FromVenue(it.InstID)
		if err != nil {
			return nil, err
		}
		fr := &market.FundingRate{
			RecordMeta: market.RecordMeta{
				Venue:             market.OKX,
				Symbol:            symbol,
				ExchangeTimestamp: venue.Int64(it.TS),
			},
			FundingRate: venue.F(it.FundingRate),
		}
		if t := venue.Int64(it.FundingTime); t > 0 {
			fr.NextFundingTime = market.Int(t)
		}
		if it.NextRate != "" {
			fr.PredictedNextFundingRate = market.Float(venue.F(it.NextRate))
		}
		records = append(records, fr)
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

// candle1H rows are positional: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
func (a *Adapter) parseCandles(channel, instID string, data json.RawMessage) (*venue.Inbound, error) {
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("okx candle: %w", err)
	}
	symbol, err := a.codec.FromVenue(instID)
	if err != nil {
		return nil, err
	}

	records := make([]market.Record, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime := venue.Int64(row[0])
		k := &market.Kline{
			RecordMeta: market.RecordMeta{
				Venue:             market.OKX,
				Symbol:            symbol,
				ExchangeTimestamp: openTime,
			},
			Interval:  "1h",
			OpenTime:  openTime,
			CloseTime: openTime + 3_600_000 - 1,
			Open:      venue.F(row[1]),
			High:      venue.F(row[2]),
			Low:       venue.F(row[3]),
			Close:     venue.F(row[4]),
			Volume:    venue.F(row[5]),
		}
		if len(row) > 7 {
			k.QuoteVolume = venue.F(row[7])
		}
		if len(row) > 8 {
			k.IsClosed = row[8] == "1"
		}
		records = append(records, k)
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

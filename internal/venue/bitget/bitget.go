// Package bitget adapts the Bitget v2 public websocket. One endpoint serves
// both classes; the instType field in each subscription arg selects SPOT or
// USDT-FUTURES, and the futures ticker carries funding inline.
package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/symbols"
	"marketflow-engine/internal/venue"
)

const wsURL = "wss://ws.bitget.com/v2/ws/public"

// Adapter implements venue.Adapter for Bitget
type Adapter struct {
	codec symbols.Codec
}

// New creates the Bitget adapter
func New() *Adapter {
	codec, _ := symbols.For(market.Bitget)
	return &Adapter{codec: codec}
}

// Venue returns the venue identifier
func (a *Adapter) Venue() market.Venue { return market.Bitget }

// Endpoint returns the shared v2 public URL
func (a *Adapter) Endpoint(context.Context, market.TradingClass, []market.Subscription) (venue.Endpoint, error) {
	return venue.Endpoint{URL: wsURL}, nil
}

func instType(class market.TradingClass) string {
	if class == market.Spot {
		return "SPOT"
	}
	return "USDT-FUTURES"
}

func channelFor(kind market.DataKind, class market.TradingClass) (string, error) {
	switch kind {
	case market.KindTicker:
		return "ticker", nil
	case market.KindDepth:
		return "books15", nil
	case market.KindTrade:
		return "trade", nil
	case market.KindFundingRate:
		if class == market.Spot {
			return "", fmt.Errorf("%w: bitget spot has no funding data", venue.ErrUnsupported)
		}
		// funding rides the futures ticker channel
		return "ticker", nil
	case market.KindKline:
		return "candle1H", nil
	}
	return "", fmt.Errorf("%w: %s", market.ErrInvalidKind, kind)
}

type wsArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type opFrame struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

func (a *Adapter) opFrames(op string, class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	args := make([]wsArg, 0, len(subs))
	seen := make(map[wsArg]struct{}, len(subs))
	for _, sub := range subs {
		ch, err := channelFor(sub.Kind, class)
		if err != nil {
			return nil, err
		}
		instID, err := a.codec.ToVenue(sub.Symbol, sub.Kind, class)
		if err != nil {
			return nil, err
		}
		arg := wsArg{InstType: instType(class), Channel: ch, InstID: instID}
		if _, dup := seen[arg]; dup {
			continue
		}
		seen[arg] = struct{}{}
		args = append(args, arg)
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

// UnsubscribeFrames builds one unsubscribe op; funding subs are skipped
// because they share the ticker channel.
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

// Heartbeat sends the literal "ping" text; Bitget answers with "pong"
func (a *Adapter) Heartbeat(market.TradingClass) venue.Heartbeat {
	return venue.Heartbeat{Payload: func() []byte { return []byte("ping") }}
}

// Parse classifies one frame and normalizes its records
func (a *Adapter) Parse(class market.TradingClass, frame []byte) (*venue.Inbound, error) {
	if bytes.Equal(frame, []byte("pong")) {
		return &venue.Inbound{Class: venue.Pong}, nil
	}

	var msg struct {
		Event  string          `json:"event"`
		Code   interface{}     `json:"code"`
		Msg    string          `json:"msg"`
		Action string          `json:"action"`
		Arg    wsArg           `json:"arg"`
		Data   json.RawMessage `json:"data"`
		TS     int64           `json:"ts"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("bitget frame: %w", err)
	}

	switch msg.Event {
	case "error":
		return &venue.Inbound{Class: venue.ErrorFrame, Err: fmt.Errorf("bitget error %v: %s", msg.Code, msg.Msg)}, nil
	case "subscribe", "unsubscribe":
		return &venue.Inbound{Class: venue.Ack, Channel: msg.Arg.Channel + ":" + msg.Arg.InstID}, nil
	}
	if msg.Arg.Channel == "" || len(msg.Data) == 0 {
		return &venue.Inbound{Class: venue.Ignore}, nil
	}

	channel := msg.Arg.Channel + ":" + msg.Arg.InstID
	switch msg.Arg.Channel {
	case "ticker":
		return a.parseTickers(class, channel, msg.TS, msg.Data)
	case "books15":
		return a.parseBooks(channel, msg.Arg.InstID, msg.TS, msg.Data)
	case "trade":
		return a.parseTrades(channel, msg.Arg.InstID, msg.Data)
	case "candle1H":
		return a.parseCandles(channel, msg.Arg.InstID, msg.TS, msg.Data)
	}
	return &venue.Inbound{Class: venue.Ignore, Channel: channel}, nil
}

func (a *Adapter) parseTickers(class market.TradingClass, channel string, frameTS int64, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		InstID          string `json:"instId"`
		LastPr          string `json:"lastPr"`
		AskPr           string `json:"askPr"`
		BidPr           string `json:"bidPr"`
		BidSz           string `json:"bidSz"`
		AskSz           string `json:"askSz"`
		Open24h         string `json:"open24h"`
		High24h         string `json:"high24h"`
		Low24h          string `json:"low24h"`
		Change24h       string `json:"change24h"`
		BaseVolume      string `json:"baseVolume"`
		QuoteVolume     string `json:"quoteVolume"`
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
		MarkPrice       string `json:"markPrice"`
		IndexPrice      string `json:"indexPrice"`
		TS              string `json:"ts"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("bitget ticker: %w", err)
	}

	records := make([]market.Record, 0, 2*len(items))
	for _, it := range items {
		symbol, err := a.codec.FromVenue(it.InstID)
		if err != nil {
			return nil, err
		}
		ts := venue.Int64(it.TS)
		if ts == 0 {
			ts = frameTS
		}
		last := venue.F(it.LastPr)
		open := venue.F(it.Open24h)
		tk := &market.Ticker{
			RecordMeta: market.RecordMeta{
				Venue:             market.Bitget,
				Symbol:            symbol,
				ExchangeTimestamp: ts,
			},
			Last:          last,
			Bid:           venue.F(it.BidPr),
			BidSize:       venue.F(it.BidSz),
			Ask:           venue.F(it.AskPr),
			AskSize:       venue.F(it.AskSz),
			Open:          open,
			High:          venue.F(it.High24h),
			Low:           venue.F(it.Low24h),
			Volume:        venue.F(it.BaseVolume),
			QuoteVolume:   venue.F(it.QuoteVolume),
			Change:        last - open,
			ChangePercent: venue.F(it.Change24h) * 100,
		}
		if v := venue.F(it.MarkPrice); v > 0 {
			tk.MarkPrice = market.Float(v)
		}
		if v := venue.F(it.IndexPrice); v > 0 {
			tk.IndexPrice = market.Float(v)
		}
		records = append(records, tk)

		if class == market.LinearPerpetual && it.FundingRate != "" {
			rate := venue.F(it.FundingRate)
			tk.FundingRate = market.Float(rate)
			fr := &market.FundingRate{
				RecordMeta: market.RecordMeta{
					Venue:             market.Bitget,
					Symbol:            symbol,
					ExchangeTimestamp: ts,
				},
				FundingRate: rate,
				MarkPrice:   tk.MarkPrice,
				IndexPrice:  tk.IndexPrice,
			}
			if t := venue.Int64(it.NextFundingTime); t > 0 {
				fr.NextFundingTime = market.Int(t)
				tk.NextFundingTime = market.Int(t)
			}
			records = append(records, fr)
		}
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

func (a *Adapter) parseBooks(channel, instID string, frameTS int64, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		TS   string     `json:"ts"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("bitget books: %w", err)
	}
	symbol, err := a.codec.FromVenue(instID)
	if err != nil {
		return nil, err
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		ts := venue.Int64(it.TS)
		if ts == 0 {
			ts = frameTS
		}
		records = append(records, &market.Depth{
			RecordMeta: market.RecordMeta{
				Venue:             market.Bitget,
				Symbol:            symbol,
				ExchangeTimestamp: ts,
			},
			Bids: venue.Levels(it.Bids),
			Asks: venue.Levels(it.Asks),
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

func (a *Adapter) parseTrades(channel, instID string, data json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		TS      string `json:"ts"`
		Price   string `json:"price"`
		Size    string `json:"size"`
		Side    string `json:"side"`
		TradeID string `json:"tradeId"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("bitget trades: %w", err)
	}
	symbol, err := a.codec.FromVenue(instID)
	if err != nil {
		return nil, err
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		side := market.SideBuy
		if it.Side == "sell" {
			side = market.SideSell
		}
		records = append(records, &market.Trade{
			RecordMeta: market.RecordMeta{
				Venue:             market.Bitget,
				Symbol:            symbol,
				ExchangeTimestamp: venue.Int64(it.TS),
			},
			TradeID: it.TradeID,
			Price:   venue.F(it.Price),
			Amount:  venue.F(it.Size),
			Side:    side,
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

// candle rows are positional: [ts, o, h, l, c, baseVol, quoteVol]
func (a *Adapter) parseCandles(channel, instID string, frameTS int64, data json.RawMessage) (*venue.Inbound, error) {
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("bitget candle: %w", err)
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
				Venue:             market.Bitget,
				Symbol:            symbol,
				ExchangeTimestamp: frameTS,
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
		if len(row) > 6 {
			k.QuoteVolume = venue.F(row[6])
		}
		records = append(records, k)
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

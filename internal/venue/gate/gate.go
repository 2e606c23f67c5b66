// Package gate adapts Gate.io v4 websocket channels. Spot and USDT futures
// run on separate hosts and disagree about result shapes: spot pushes single
// objects where futures pushes arrays, and futures trade sizes are signed
// contract counts.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/symbols"
	"marketflow-engine/internal/venue"
)

const (
	spotWSURL    = "wss://api.gateio.ws/ws/v4/"
	futuresWSURL = "wss://fx-ws.gateio.ws/v4/ws/usdt"

	fundingPeriodMs = 8 * 60 * 60 * 1000
)

// Adapter implements venue.Adapter for Gate.io
type Adapter struct {
	codec symbols.Codec
	now   func() time.Time
}

// New creates the Gate adapter
func New() *Adapter {
	codec, _ := symbols.For(market.Gate)
	return &Adapter{codec: codec, now: time.Now}
}

// Venue returns the venue identifier
func (a *Adapter) Venue() market.Venue { return market.Gate }

// Endpoint returns the per-class websocket host
func (a *Adapter) Endpoint(_ context.Context, class market.TradingClass, _ []market.Subscription) (venue.Endpoint, error) {
	if class == market.Spot {
		return venue.Endpoint{URL: spotWSURL}, nil
	}
	return venue.Endpoint{URL: futuresWSURL}, nil
}

func classPrefix(class market.TradingClass) string {
	if class == market.Spot {
		return "spot."
	}
	return "futures."
}

// channelAndPayload resolves one subscription to its channel and payload
func (a *Adapter) channelAndPayload(class market.TradingClass, sub market.Subscription) (string, []string, error) {
	pair, err := a.codec.ToVenue(sub.Symbol, sub.Kind, class)
	if err != nil {
		return "", nil, err
	}
	prefix := classPrefix(class)
	switch sub.Kind {
	case market.KindTicker:
		return prefix + "tickers", []string{pair}, nil
	case market.KindDepth:
		if class == market.Spot {
			return "spot.order_book", []string{pair, "20", "1000ms"}, nil
		}
		return "futures.order_book", []string{pair, "20", "0"}, nil
	case market.KindTrade:
		return prefix + "trades", []string{pair}, nil
	case market.KindFundingRate:
		if class == market.Spot {
			return "", nil, fmt.Errorf("%w: gate spot has no funding data", venue.ErrUnsupported)
		}
		// funding rides the futures tickers channel
		return "futures.tickers", []string{pair}, nil
	case market.KindKline:
		return prefix + "candlesticks", []string{"1h", pair}, nil
	}
	return "", nil, fmt.Errorf("%w: %s", market.ErrInvalidKind, sub.Kind)
}

type opFrame struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload"`
}

func (a *Adapter) opFrames(event string, class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	frames := make([][]byte, 0, len(subs))
	seen := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		channel, payload, err := a.channelAndPayload(class, sub)
		if err != nil {
			return nil, err
		}
		key := channel + "|" + strings.Join(payload, ",")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		frame, err := json.Marshal(opFrame{
			Time:    a.now().Unix(),
			Channel: channel,
			Event:   event,
			Payload: payload,
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// SubscribeFrames builds one subscribe frame per channel
func (a *Adapter) SubscribeFrames(class market.TradingClass, subs []market.Subscription) ([][]byte, error) {
	return a.opFrames("subscribe", class, subs)
}

// UnsubscribeFrames builds unsubscribe frames; funding subs are skipped
// because they share the tickers channel.
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

// Heartbeat sends the class-specific ping channel frame
func (a *Adapter) Heartbeat(class market.TradingClass) venue.Heartbeat {
	channel := classPrefix(class) + "ping"
	return venue.Heartbeat{Payload: func() []byte {
		frame, _ := json.Marshal(struct {
			Time    int64  `json:"time"`
			Channel string `json:"channel"`
		}{Time: a.now().Unix(), Channel: channel})
		return frame
	}}
}

// Parse classifies one frame and normalizes its records
func (a *Adapter) Parse(class market.TradingClass, frame []byte) (*venue.Inbound, error) {
	var msg struct {
		Time    int64  `json:"time"`
		TimeMs  int64  `json:"time_ms"`
		Channel string `json:"channel"`
		Event   string `json:"event"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("gate frame: %w", err)
	}

	if msg.Error != nil {
		return &venue.Inbound{Class: venue.ErrorFrame, Channel: msg.Channel, Err: fmt.Errorf("gate error %d: %s", msg.Error.Code, msg.Error.Message)}, nil
	}
	if strings.HasSuffix(msg.Channel, ".pong") {
		return &venue.Inbound{Class: venue.Pong}, nil
	}
	switch msg.Event {
	case "subscribe", "unsubscribe":
		return &venue.Inbound{Class: venue.Ack, Channel: msg.Channel}, nil
	case "update":
	default:
		return &venue.Inbound{Class: venue.Ignore, Channel: msg.Channel}, nil
	}

	ts := msg.TimeMs
	if ts == 0 {
		ts = msg.Time * 1000
	}
	switch msg.Channel {
	case "spot.tickers":
		return a.parseSpotTicker(msg.Channel, ts, msg.Result)
	case "futures.tickers":
		return a.parseFuturesTickers(msg.Channel, ts, msg.Result)
	case "spot.order_book":
		return a.parseSpotBook(msg.Channel, msg.Result)
	case "futures.order_book":
		return a.parseFuturesBook(msg.Channel, msg.Result)
	case "spot.trades":
		return a.parseSpotTrade(msg.Channel, msg.Result)
	case "futures.trades":
		return a.parseFuturesTrades(msg.Channel, msg.Result)
	case "spot.candlesticks":
		return a.parseSpotCandle(msg.Channel, ts, msg.Result)
	case "futures.candlesticks":
		return a.parseFuturesCandles(msg.Channel, ts, msg.Result)
	}
	return &venue.Inbound{Class: venue.Ignore, Channel: msg.Channel}, nil
}

func (a *Adapter) parseSpotTicker(channel string, ts int64, result json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		CurrencyPair string `json:"currency_pair"`
		Last         string `json:"last"`
		LowestAsk    string `json:"lowest_ask"`
		HighestBid   string `json:"highest_bid"`
		ChangePct    string `json:"change_percentage"`
		BaseVolume   string `json:"base_volume"`
		QuoteVolume  string `json:"quote_volume"`
		High24h      string `json:"high_24h"`
		Low24h       string `json:"low_24h"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("gate spot ticker: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.CurrencyPair)
	if err != nil {
		return nil, err
	}

	last := venue.F(msg.Last)
	pct := venue.F(msg.ChangePct)
	tk := &market.Ticker{
		RecordMeta: market.RecordMeta{
			Venue:             market.Gate,
			Symbol:            symbol,
			ExchangeTimestamp: ts,
		},
		Last:          last,
		Bid:           venue.F(msg.HighestBid),
		Ask:           venue.F(msg.LowestAsk),
		High:          venue.F(msg.High24h),
		Low:           venue.F(msg.Low24h),
		Volume:        venue.F(msg.BaseVolume),
		QuoteVolume:   venue.F(msg.QuoteVolume),
		ChangePercent: pct,
	}
	if pct > -100 {
		open := last / (1 + pct/100)
		tk.Open = open
		tk.Change = last - open
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{tk}}, nil
}

func (a *Adapter) parseFuturesTickers(channel string, ts int64, result json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		Contract      string `json:"contract"`
		Last          string `json:"last"`
		ChangePct     string `json:"change_percentage"`
		Volume24Base  string `json:"volume_24h_base"`
		Volume24Quote string `json:"volume_24h_quote"`
		MarkPrice     string `json:"mark_price"`
		IndexPrice    string `json:"index_price"`
		FundingRate   string `json:"funding_rate"`
		FundingNext   string `json:"funding_rate_indicative"`
		High24h       string `json:"high_24h"`
		Low24h        string `json:"low_24h"`
	}
	if err := json.Unmarshal(result, &items); err != nil {
		return nil, fmt.Errorf("gate futures ticker: %w", err)
	}

	records := make([]market.Record, 0, 2*len(items))
	for _, it := range items {
		symbol, err := a.codec.FromVenue(it.Contract)
		if err != nil {
			return nil, err
		}
		last := venue.F(it.Last)
		pct := venue.F(it.ChangePct)
		tk := &market.Ticker{
			RecordMeta: market.RecordMeta{
				Venue:             market.Gate,
				Symbol:            symbol,
				ExchangeTimestamp: ts,
			},
			Last:          last,
			High:          venue.F(it.High24h),
			Low:           venue.F(it.Low24h),
			Volume:        venue.F(it.Volume24Base),
			QuoteVolume:   venue.F(it.Volume24Quote),
			ChangePercent: pct,
		}
		if pct > -100 {
			open := last / (1 + pct/100)
			tk.Open = open
			tk.Change = last - open
		}
		if v := venue.F(it.MarkPrice); v > 0 {
			tk.MarkPrice = market.Float(v)
		}
		if v := venue.F(it.IndexPrice); v > 0 {
			tk.IndexPrice = market.Float(v)
		}
		records = append(records, tk)

		if it.FundingRate != "" {
			rate := venue.F(it.FundingRate)
			tk.FundingRate = market.Float(rate)
			next := (ts/fundingPeriodMs + 1) * fundingPeriodMs
			tk.NextFundingTime = market.Int(next)
			fr := &market.FundingRate{
				RecordMeta: market.RecordMeta{
					Venue:             market.Gate,
					Symbol:            symbol,
					ExchangeTimestamp: ts,
				},
				FundingRate:     rate,
				NextFundingTime: market.Int(next),
				MarkPrice:       tk.MarkPrice,
				IndexPrice:      tk.IndexPrice,
			}
			if it.FundingNext != "" {
				fr.PredictedNextFundingRate = market.Float(venue.F(it.FundingNext))
			}
			records = append(records, fr)
		}
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

func (a *Adapter) parseSpotBook(channel string, result json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		T    int64      `json:"t"`
		Pair string     `json:"s"`
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("gate spot book: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.Pair)
	if err != nil {
		return nil, err
	}

	d := &market.Depth{
		RecordMeta: market.RecordMeta{
			Venue:             market.Gate,
			Symbol:            symbol,
			ExchangeTimestamp: msg.T,
		},
		Bids: venue.Levels(msg.Bids),
		Asks: venue.Levels(msg.Asks),
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{d}}, nil
}

func (a *Adapter) parseFuturesBook(channel string, result json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		T        int64  `json:"t"`
		Contract string `json:"contract"`
		Bids     []struct {
			P string  `json:"p"`
			S float64 `json:"s"`
		} `json:"bids"`
		Asks []struct {
			P string  `json:"p"`
			S float64 `json:"s"`
		} `json:"asks"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("gate futures book: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.Contract)
	if err != nil {
		return nil, err
	}

	bids := make([]market.PriceLevel, 0, len(msg.Bids))
	for _, lvl := range msg.Bids {
		bids = append(bids, market.PriceLevel{Price: venue.F(lvl.P), Size: lvl.S})
	}
	asks := make([]market.PriceLevel, 0, len(msg.Asks))
	for _, lvl := range msg.Asks {
		asks = append(asks, market.PriceLevel{Price: venue.F(lvl.P), Size: lvl.S})
	}
	d := &market.Depth{
		RecordMeta: market.RecordMeta{
			Venue:             market.Gate,
			Symbol:            symbol,
			ExchangeTimestamp: msg.T,
		},
		Bids: bids,
		Asks: asks,
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{d}}, nil
}

func (a *Adapter) parseSpotTrade(channel string, result json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		ID           int64  `json:"id"`
		CreateTime   int64  `json:"create_time"`
		CreateTimeMs string `json:"create_time_ms"`
		Side         string `json:"side"`
		CurrencyPair string `json:"currency_pair"`
		Amount       string `json:"amount"`
		Price        string `json:"price"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("gate spot trade: %w", err)
	}
	symbol, err := a.codec.FromVenue(msg.CurrencyPair)
	if err != nil {
		return nil, err
	}

	ts := venue.Int64(msg.CreateTimeMs)
	if ts == 0 {
		ts = msg.CreateTime * 1000
	}
	side := market.SideBuy
	if msg.Side == "sell" {
		side = market.SideSell
	}
	tr := &market.Trade{
		RecordMeta: market.RecordMeta{
			Venue:             market.Gate,
			Symbol:            symbol,
			ExchangeTimestamp: ts,
		},
		TradeID: fmt.Sprintf("%d", msg.ID),
		Price:   venue.F(msg.Price),
		Amount:  venue.F(msg.Amount),
		Side:    side,
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{tr}}, nil
}

func (a *Adapter) parseFuturesTrades(channel string, result json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		Size         float64 `json:"size"`
		ID           int64   `json:"id"`
		CreateTime   int64   `json:"create_time"`
		CreateTimeMs int64   `json:"create_time_ms"`
		Price        string  `json:"price"`
		Contract     string  `json:"contract"`
	}
	if err := json.Unmarshal(result, &items); err != nil {
		return nil, fmt.Errorf("gate futures trades: %w", err)
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		symbol, err := a.codec.FromVenue(it.Contract)
		if err != nil {
			return nil, err
		}
		ts := it.CreateTimeMs
		if ts == 0 {
			ts = it.CreateTime * 1000
		}
		side := market.SideBuy
		size := it.Size
		if size < 0 {
			side = market.SideSell
			size = -size
		}
		records = append(records, &market.Trade{
			RecordMeta: market.RecordMeta{
				Venue:             market.Gate,
				Symbol:            symbol,
				ExchangeTimestamp: ts,
			},
			TradeID: fmt.Sprintf("%d", it.ID),
			Price:   venue.F(it.Price),
			Amount:  size,
			Side:    side,
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

// candleSymbol strips the interval prefix from names like "1h_BTC_USDT"
func candleSymbol(n string) string {
	if i := strings.Index(n, "_"); i > 0 {
		return n[i+1:]
	}
	return n
}

func (a *Adapter) parseSpotCandle(channel string, ts int64, result json.RawMessage) (*venue.Inbound, error) {
	var msg struct {
		T      string `json:"t"`
		V      string `json:"v"`
		C      string `json:"c"`
		H      string `json:"h"`
		L      string `json:"l"`
		O      string `json:"o"`
		N      string `json:"n"`
		Amount string `json:"a"`
		Closed bool   `json:"w"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("gate spot candle: %w", err)
	}
	symbol, err := a.codec.FromVenue(candleSymbol(msg.N))
	if err != nil {
		return nil, err
	}

	openTime := venue.Int64(msg.T) * 1000
	k := &market.Kline{
		RecordMeta: market.RecordMeta{
			Venue:             market.Gate,
			Symbol:            symbol,
			ExchangeTimestamp: ts,
		},
		Interval:    "1h",
		OpenTime:    openTime,
		CloseTime:   openTime + 3_600_000 - 1,
		Open:        venue.F(msg.O),
		High:        venue.F(msg.H),
		Low:         venue.F(msg.L),
		Close:       venue.F(msg.C),
		Volume:      venue.F(msg.Amount),
		QuoteVolume: venue.F(msg.V),
		IsClosed:    msg.Closed,
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: []market.Record{k}}, nil
}

func (a *Adapter) parseFuturesCandles(channel string, ts int64, result json.RawMessage) (*venue.Inbound, error) {
	var items []struct {
		T int64   `json:"t"`
		V float64 `json:"v"`
		C string  `json:"c"`
		H string  `json:"h"`
		L string  `json:"l"`
		O string  `json:"o"`
		N string  `json:"n"`
	}
	if err := json.Unmarshal(result, &items); err != nil {
		return nil, fmt.Errorf("gate futures candle: %w", err)
	}

	records := make([]market.Record, 0, len(items))
	for _, it := range items {
		symbol, err := a.codec.FromVenue(candleSymbol(it.N))
		if err != nil {
			return nil, err
		}
		openTime := it.T * 1000
		records = append(records, &market.Kline{
			RecordMeta: market.RecordMeta{
				Venue:             market.Gate,
				Symbol:            symbol,
				ExchangeTimestamp: ts,
			},
			Interval:  "1h",
			OpenTime:  openTime,
			CloseTime: openTime + 3_600_000 - 1,
			Open:      venue.F(it.O),
			High:      venue.F(it.H),
			Low:       venue.F(it.L),
			Close:     venue.F(it.C),
			Volume:    it.V,
		})
	}
	return &venue.Inbound{Class: venue.Data, Channel: channel, Records: records}, nil
}

package market

import (
	"errors"
	"fmt"
	"strings"
)

// Venue identifies a supported exchange
type Venue string

const (
	Binance Venue = "binance"
	Bybit   Venue = "bybit"
	OKX     Venue = "okx"
	Deribit Venue = "deribit"
	Gate    Venue = "gate"
	Bitget  Venue = "bitget"
	KuCoin  Venue = "kucoin"
	Kraken  Venue = "kraken"
)

// Venues returns all supported venues in stable order
func Venues() []Venue {
	return []Venue{Binance, Bybit, OKX, Deribit, Gate, Bitget, KuCoin, Kraken}
}

// ErrUnknownVenue is returned when a venue identifier is not supported
var ErrUnknownVenue = errors.New("unknown venue")

// ParseVenue validates a venue identifier
func ParseVenue(s string) (Venue, error) {
	v := Venue(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Venues() {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVenue, s)
}

// TradingClass selects the instrument family a venue session serves
type TradingClass string

const (
	Spot            TradingClass = "spot"
	LinearPerpetual TradingClass = "linear"
)

// ParseClass maps a configured trading type onto a TradingClass.
// Perpetual aliases used by venue docs (swap, futures) are accepted.
func ParseClass(s string) (TradingClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return Spot, nil
	case "linear", "perpetual", "swap", "futures":
		return LinearPerpetual, nil
	}
	return "", fmt.Errorf("unknown trading type %q", s)
}

// DataKind identifies a canonical record kind
type DataKind string

const (
	KindTicker      DataKind = "ticker"
	KindDepth       DataKind = "depth"
	KindTrade       DataKind = "trade"
	KindFundingRate DataKind = "fundingRate"
	KindKline       DataKind = "kline"
)

// Kinds returns all data kinds in stable order
func Kinds() []DataKind {
	return []DataKind{KindTicker, KindDepth, KindTrade, KindFundingRate, KindKline}
}

// ErrInvalidKind is returned when a data kind string is not recognized
var ErrInvalidKind = errors.New("invalid data kind")

// ParseKind validates a data kind string
func ParseKind(s string) (DataKind, error) {
	k := DataKind(strings.TrimSpace(s))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Subscription is one desired data stream: a kind for a canonical symbol.
// The zero value is not valid; use the engine facade to build them.
type Subscription struct {
	Kind   DataKind
	Symbol string
}

func (s Subscription) String() string {
	return string(s.Kind) + ":" + s.Symbol
}

// ErrBadSymbol is returned when a symbol is not in BASE/QUOTE form
var ErrBadSymbol = errors.New("malformed symbol")

// CanonicalSymbol normalizes raw user input to the canonical BASE/QUOTE form.
// A trailing perpetual settle suffix (BTC/USDT:USDT) is stripped.
func CanonicalSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	if _, _, ok := SplitSymbol(s); !ok {
		return "", fmt.Errorf("%w: %q", ErrBadSymbol, raw)
	}
	return s, nil
}

// SplitSymbol returns the base and quote of a canonical BASE/QUOTE symbol
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	i := strings.Index(symbol, "/")
	if i <= 0 || i == len(symbol)-1 || strings.Count(symbol, "/") != 1 {
		return "", "", false
	}
	return symbol[:i], symbol[i+1:], true
}

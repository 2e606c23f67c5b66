// Package symbols maps canonical BASE/QUOTE symbols to and from each
// venue's native instrument identifier.
package symbols

import (
	"errors"
	"fmt"
	"strings"

	"marketflow-engine/internal/market"
)

// Codec converts symbols for one venue. FromVenue accepts any native form
// the venue uses (spot or perpetual); the shapes are disjoint per venue.
type Codec interface {
	Venue() market.Venue
	ToVenue(symbol string, kind market.DataKind, class market.TradingClass) (string, error)
	FromVenue(native string) (string, error)
	// Universe returns the canonical symbols this codec declares supported
	// for a trading class. Round-tripping any of them through ToVenue and
	// FromVenue yields the input.
	Universe(class market.TradingClass) []string
}

// ErrUnmapped is returned when a symbol cannot be converted for a venue
var ErrUnmapped = errors.New("symbol not mappable")

var codecs = map[market.Venue]Codec{
	market.Binance: binanceCodec{},
	market.Bybit:   bybitCodec{},
	market.OKX:     okxCodec{},
	market.Deribit: deribitCodec{},
	market.Gate:    gateCodec{},
	market.Bitget:  bitgetCodec{},
	market.KuCoin:  kucoinCodec{},
	market.Kraken:  krakenCodec{},
}

// For returns the codec for a venue
func For(v market.Venue) (Codec, error) {
	c, ok := codecs[v]
	if !ok {
		return nil, fmt.Errorf("%w: %q", market.ErrUnknownVenue, v)
	}
	return c, nil
}

// quoteProbe is the ordered trailing-match list used to split
// concatenated pairs like BTCUSDT that carry no separator.
var quoteProbe = []string{"USDT", "USDC", "USD", "BTC", "ETH", "EUR"}

func splitConcat(native string) (base, quote string, err error) {
	s := strings.ToUpper(native)
	for _, q := range quoteProbe {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, nil
		}
	}
	return "", "", fmt.Errorf("%w: no quote suffix in %q", ErrUnmapped, native)
}

func splitCanonical(symbol string) (base, quote string, err error) {
	base, quote, ok := market.SplitSymbol(symbol)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not BASE/QUOTE", ErrUnmapped, symbol)
	}
	return base, quote, nil
}

// majors is the universe most venues share for both trading classes
var majors = []string{
	"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT",
	"DOGE/USDT", "ADA/USDT", "LTC/USDT", "LINK/USDT",
}

func copyUniverse(src []string) []string {
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// XBT is the legacy Bitcoin ticker Kraken and KuCoin futures still use

func toXBT(base string) string {
	if base == "BTC" {
		return "XBT"
	}
	return base
}

func fromXBT(base string) string {
	if base == "XBT" {
		return "BTC"
	}
	return base
}

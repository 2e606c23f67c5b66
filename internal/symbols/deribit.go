package symbols

import (
	"strings"

	"marketflow-engine/internal/market"
)

// deribitCodec handles Deribit instruments. Perpetuals are USD-settled and
// carry no quote in the name (BTC-PERPETUAL); the engine's canonical quote
// for them is USDT, so USDT and USD both map onto the same instrument and
// the reverse direction always produces /USDT. Spot pairs use an underscore
// (BTC_USDT).
type deribitCodec struct{}

func (deribitCodec) Venue() market.Venue { return market.Deribit }

func (deribitCodec) ToVenue(symbol string, _ market.DataKind, class market.TradingClass) (string, error) {
	base, quote, err := splitCanonical(symbol)
	if err != nil {
		return "", err
	}
	if class == market.LinearPerpetual {
		if quote != "USDT" && quote != "USD" {
			return "", ErrUnmapped
		}
		return base + "-PERPETUAL", nil
	}
	return base + "_" + quote, nil
}

func (deribitCodec) FromVenue(native string) (string, error) {
	s := strings.ToUpper(native)
	if base, ok := strings.CutSuffix(s, "-PERPETUAL"); ok {
		if base == "" {
			return "", ErrUnmapped
		}
		return base + "/USDT", nil
	}
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrUnmapped
	}
	return parts[0] + "/" + parts[1], nil
}

func (deribitCodec) Universe(class market.TradingClass) []string {
	if class == market.LinearPerpetual {
		return []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT"}
	}
	return []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
}

package symbols

import (
	"strings"

	"marketflow-engine/internal/market"
)

// krakenCodec handles Kraken's two dialects. Spot websocket pairs keep the
// slash but use the legacy XBT ticker (XBT/USDT). Futures products are
// USD-quoted perpetuals named PF_XBTUSD; the engine's canonical quote for
// them is USDT, rewritten both directions.
type krakenCodec struct{}

func (krakenCodec) Venue() market.Venue { return market.Kraken }

func (krakenCodec) ToVenue(symbol string, _ market.DataKind, class market.TradingClass) (string, error) {
	base, quote, err := splitCanonical(symbol)
	if err != nil {
		return "", err
	}
	if class == market.LinearPerpetual {
		if quote == "USDT" {
			quote = "USD"
		}
		if quote != "USD" {
			return "", ErrUnmapped
		}
		return "PF_" + toXBT(base) + quote, nil
	}
	return toXBT(base) + "/" + quote, nil
}

func (krakenCodec) FromVenue(native string) (string, error) {
	s := strings.ToUpper(native)
	if concat, ok := strings.CutPrefix(s, "PF_"); ok {
		base, quote, err := splitConcat(concat)
		if err != nil {
			return "", err
		}
		if quote == "USD" {
			quote = "USDT"
		}
		return fromXBT(base) + "/" + quote, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrUnmapped
	}
	return fromXBT(parts[0]) + "/" + parts[1], nil
}

func (krakenCodec) Universe(class market.TradingClass) []string {
	if class == market.LinearPerpetual {
		return []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT", "LTC/USDT"}
	}
	return []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "BTC/USD", "ETH/USD"}
}

package symbols

import (
	"strings"

	"marketflow-engine/internal/market"
)

// kucoinCodec handles KuCoin's two dialects: spot uses dashed BTC-USDT,
// futures uses the legacy XBT ticker concatenated with an M suffix
// (XBTUSDTM).
type kucoinCodec struct{}

func (kucoinCodec) Venue() market.Venue { return market.KuCoin }

func (kucoinCodec) ToVenue(symbol string, _ market.DataKind, class market.TradingClass) (string, error) {
	base, quote, err := splitCanonical(symbol)
	if err != nil {
		return "", err
	}
	if class == market.LinearPerpetual {
		return toXBT(base) + quote + "M", nil
	}
	return base + "-" + quote, nil
}

func (kucoinCodec) FromVenue(native string) (string, error) {
	s := strings.ToUpper(native)
	if strings.Contains(s, "-") {
		parts := strings.Split(s, "-")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", ErrUnmapped
		}
		return fromXBT(parts[0]) + "/" + parts[1], nil
	}
	concat, ok := strings.CutSuffix(s, "M")
	if !ok {
		return "", ErrUnmapped
	}
	base, quote, err := splitConcat(concat)
	if err != nil {
		return "", err
	}
	return fromXBT(base) + "/" + quote, nil
}

func (kucoinCodec) Universe(_ market.TradingClass) []string {
	return copyUniverse(majors)
}

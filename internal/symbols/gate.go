package symbols

import (
	"strings"

	"marketflow-engine/internal/market"
)

// gateCodec handles Gate's underscore form, BTC_USDT for both classes
type gateCodec struct{}

func (gateCodec) Venue() market.Venue { return market.Gate }

func (gateCodec) ToVenue(symbol string, _ market.DataKind, _ market.TradingClass) (string, error) {
	base, quote, err := splitCanonical(symbol)
	if err != nil {
		return "", err
	}
	return base + "_" + quote, nil
}

func (gateCodec) FromVenue(native string) (string, error) {
	parts := strings.Split(strings.ToUpper(native), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrUnmapped
	}
	return parts[0] + "/" + parts[1], nil
}

func (gateCodec) Universe(_ market.TradingClass) []string {
	return copyUniverse(majors)
}

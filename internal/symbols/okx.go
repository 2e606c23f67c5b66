package symbols

import (
	"strings"

	"marketflow-engine/internal/market"
)

// okxCodec handles OKX instIds: BTC-USDT for spot, BTC-USDT-SWAP for
// USDT-margined perpetuals.
type okxCodec struct{}

func (okxCodec) Venue() market.Venue { return market.OKX }

func (okxCodec) ToVenue(symbol string, _ market.DataKind, class market.TradingClass) (string, error) {
	base, quote, err := splitCanonical(symbol)
	if err != nil {
		return "", err
	}
	instID := base + "-" + quote
	if class == market.LinearPerpetual {
		instID += "-SWAP"
	}
	return instID, nil
}

func (okxCodec) FromVenue(native string) (string, error) {
	s := strings.ToUpper(native)
	s = strings.TrimSuffix(s, "-SWAP")
	parts := strings.Split(s, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrUnmapped
	}
	return parts[0] + "/" + parts[1], nil
}

func (okxCodec) Universe(_ market.TradingClass) []string {
	return copyUniverse(majors)
}

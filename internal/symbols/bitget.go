package symbols

import "marketflow-engine/internal/market"

// bitgetCodec handles Bitget v2 instIds, concatenated BTCUSDT for both
// SPOT and USDT-FUTURES instrument types.
type bitgetCodec struct{}

func (bitgetCodec) Venue() market.Venue { return market.Bitget }

func (bitgetCodec) ToVenue(symbol string, _ market.DataKind, _ market.TradingClass) (string, error) {
	base, quote, err := splitCanonical(symbol)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

func (bitgetCodec) FromVenue(native string) (string, error) {
	base, quote, err := splitConcat(native)
	if err != nil {
		return "", err
	}
	return base + "/" + quote, nil
}

func (bitgetCodec) Universe(_ market.TradingClass) []string {
	return copyUniverse(majors)
}

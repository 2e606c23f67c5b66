package symbols

import "marketflow-engine/internal/market"

// bybitCodec handles Bybit v5, concatenated BTCUSDT for both spot and linear
type bybitCodec struct{}

func (bybitCodec) Venue() market.Venue { return market.Bybit }

func (bybitCodec) ToVenue(symbol string, _ market.DataKind, _ market.TradingClass) (string, error) {
	base, quote, err := splitCanonical(symbol)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

func (bybitCodec) FromVenue(native string) (string, error) {
	base, quote, err := splitConcat(native)
	if err != nil {
		return "", err
	}
	return base + "/" + quote, nil
}

func (bybitCodec) Universe(_ market.TradingClass) []string {
	return copyUniverse(majors)
}

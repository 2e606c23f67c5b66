package symbols

import "marketflow-engine/internal/market"

// binanceCodec handles Binance's concatenated BTCUSDT form, identical for
// spot and USDT-margined perpetuals. Stream names lowercase the instrument;
// that is the adapter's concern, the codec stays uppercase.
type binanceCodec struct{}

func (binanceCodec) Venue() market.Venue { return market.Binance }

func (binanceCodec) ToVenue(symbol string, _ market.DataKind, _ market.TradingClass) (string, error) {
	base, quote, err := splitCanonical(symbol)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

func (binanceCodec) FromVenue(native string) (string, error) {
	base, quote, err := splitConcat(native)
	if err != nil {
		return "", err
	}
	return base + "/" + quote, nil
}

func (binanceCodec) Universe(_ market.TradingClass) []string {
	return copyUniverse(majors)
}

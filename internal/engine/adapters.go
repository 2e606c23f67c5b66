package engine

import (
	"marketflow-engine/internal/market"
	"marketflow-engine/internal/venue"
	"marketflow-engine/internal/venue/binance"
	"marketflow-engine/internal/venue/bitget"
	"marketflow-engine/internal/venue/bybit"
	"marketflow-engine/internal/venue/deribit"
	"marketflow-engine/internal/venue/gate"
	"marketflow-engine/internal/venue/kraken"
	"marketflow-engine/internal/venue/kucoin"
	"marketflow-engine/internal/venue/okx"
)

// multiplexedVenues spread subscriptions across capped sockets. Everyone
// else carries the whole set on one uncapped connection.
var multiplexedVenues = map[market.Venue]bool{
	market.Binance: true,
}

func defaultAdapter(vn market.Venue) (venue.Adapter, bool) {
	switch vn {
	case market.Binance:
		return binance.New(), true
	case market.Bybit:
		return bybit.New(), true
	case market.OKX:
		return okx.New(), true
	case market.Deribit:
		return deribit.New(), true
	case market.Gate:
		return gate.New(), true
	case market.Bitget:
		return bitget.New(), true
	case market.KuCoin:
		return kucoin.New(), true
	case market.Kraken:
		return kraken.New(), true
	}
	return nil, false
}

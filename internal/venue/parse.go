package venue

import (
	"strconv"

	"marketflow-engine/internal/market"
)

// Float parses a venue numeric that may arrive as a JSON string, number,
// or be absent. Unparseable values become zero; venues that mean "absent"
// send empty strings and the normalizers treat zero accordingly.
func Float(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	case int64:
		return float64(x)
	case int:
		return float64(x)
	}
	return 0
}

// Int64 parses a venue integer that may arrive as string or number
func Int64(v interface{}) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			// some venues stringify with decimals
			f, ferr := strconv.ParseFloat(x, 64)
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return n
	case int64:
		return x
	case int:
		return int64(x)
	}
	return 0
}

// F is shorthand for parsing a string price or size
func F(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// Levels converts the ubiquitous [["price","size",...], ...] array shape.
// Extra per-level elements (order counts, timestamps) are ignored.
func Levels(raw [][]string) []market.PriceLevel {
	out := make([]market.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, market.PriceLevel{Price: F(lvl[0]), Size: F(lvl[1])})
	}
	return out
}

// LevelsAny converts level arrays whose elements are mixed strings and
// numbers, which KuCoin futures and Deribit push.
func LevelsAny(raw [][]interface{}) []market.PriceLevel {
	out := make([]market.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, market.PriceLevel{Price: Float(lvl[0]), Size: Float(lvl[1])})
	}
	return out
}

package market

import "time"

// NowMillis returns local wall time as Unix milliseconds
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// UnifiedTimestamp blends a venue-reported timestamp with local wall time:
// the rounded average when the venue supplied one, local time otherwise.
// Averaging halves one-sided network skew without assuming either clock is
// right; cross-venue ordering is never derived from it.
func UnifiedTimestamp(exchangeTS, localTS int64) int64 {
	if exchangeTS <= 0 {
		return localTS
	}
	return (exchangeTS + localTS + 1) / 2
}

// Stamp fills the local and unified timestamps on a freshly normalized
// record. Adapters set ExchangeTimestamp during parsing; everything after
// runs through here exactly once.
func Stamp(r Record) {
	m := r.Meta()
	m.LocalTimestamp = NowMillis()
	m.UnifiedTimestamp = UnifiedTimestamp(m.ExchangeTimestamp, m.LocalTimestamp)
}

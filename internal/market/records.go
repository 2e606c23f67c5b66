package market

// RecordMeta carries the fields every canonical record shares
type RecordMeta struct {
	Venue             Venue  `json:"venue"`
	Symbol            string `json:"symbol"` // canonical BASE/QUOTE
	ExchangeTimestamp int64  `json:"exchangeTimestamp,omitempty"`
	LocalTimestamp    int64  `json:"localTimestamp"`
	UnifiedTimestamp  int64  `json:"unifiedTimestamp"`
}

// Record is implemented by every canonical market record
type Record interface {
	Kind() DataKind
	Meta() *RecordMeta
}

// PriceLevel is a single resting level in the book
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Trade sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Ticker is a 24h rolling quote snapshot. Optional fields are nil when the
// venue frame does not carry them; perpetual tickers may include mark/index
// price and funding hints.
type Ticker struct {
	RecordMeta
	Last            float64  `json:"last"`
	Bid             float64  `json:"bid"`
	BidSize         float64  `json:"bidSize,omitempty"`
	Ask             float64  `json:"ask"`
	AskSize         float64  `json:"askSize,omitempty"`
	Open            float64  `json:"open,omitempty"`
	High            float64  `json:"high,omitempty"`
	Low             float64  `json:"low,omitempty"`
	Volume          float64  `json:"volume,omitempty"`
	QuoteVolume     float64  `json:"quoteVolume,omitempty"`
	Change          float64  `json:"change,omitempty"`
	ChangePercent   float64  `json:"changePercent,omitempty"`
	MarkPrice       *float64 `json:"markPrice,omitempty"`
	IndexPrice      *float64 `json:"indexPrice,omitempty"`
	FundingRate     *float64 `json:"fundingRate,omitempty"`
	NextFundingTime *int64   `json:"nextFundingTime,omitempty"`
}

// Depth is the book slice a venue pushes at the subscribed channel depth.
// Bids are sorted descending, asks ascending, as received.
type Depth struct {
	RecordMeta
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// Trade is a single public execution
type Trade struct {
	RecordMeta
	TradeID string  `json:"tradeId"`
	Price   float64 `json:"price"`
	Amount  float64 `json:"amount"`
	Side    string  `json:"side"` // "buy" or "sell"
}

// FundingRate is a perpetual funding update
type FundingRate struct {
	RecordMeta
	FundingRate              float64  `json:"fundingRate"`
	MarkPrice                *float64 `json:"markPrice,omitempty"`
	IndexPrice               *float64 `json:"indexPrice,omitempty"`
	NextFundingTime          *int64   `json:"nextFundingTime,omitempty"`
	PredictedNextFundingRate *float64 `json:"predictedNextFundingRate,omitempty"`
}

// Kline is one OHLCV bar
type Kline struct {
	RecordMeta
	Interval    string  `json:"interval"`
	OpenTime    int64   `json:"openTime"`
	CloseTime   int64   `json:"closeTime,omitempty"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	QuoteVolume float64 `json:"quoteVolume,omitempty"`
	Trades      int64   `json:"trades,omitempty"`
	IsClosed    bool    `json:"isClosed"`
}

func (t *Ticker) Kind() DataKind { return KindTicker }

func (t *Ticker) Meta() *RecordMeta { return &t.RecordMeta }

func (d *Depth) Kind() DataKind { return KindDepth }

func (d *Depth) Meta() *RecordMeta { return &d.RecordMeta }

func (t *Trade) Kind() DataKind { return KindTrade }

func (t *Trade) Meta() *RecordMeta { return &t.RecordMeta }

func (f *FundingRate) Kind() DataKind { return KindFundingRate }

func (f *FundingRate) Meta() *RecordMeta { return &f.RecordMeta }

func (k *Kline) Kind() DataKind { return KindKline }

func (k *Kline) Meta() *RecordMeta { return &k.RecordMeta }

// Float returns a pointer to v, for optional record fields
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional record fields
func Int(v int64) *int64 { return &v }

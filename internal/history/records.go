package history

// TradeRecord mirrors SPEC_FULL §3 Trade exactly: price/size as decimal
// atom strings, timestamp as millis since epoch.
type TradeRecord struct {
	ID            int64  `json:"id"`
	MarketID      string `json:"market_id"`
	BuyerAddress  string `json:"buyer_address"`
	SellerAddress string `json:"seller_address"`
	BuyerOrderID  int64  `json:"buyer_order_id"`
	SellerOrderID int64  `json:"seller_order_id"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	AggressorSide string `json:"aggressor_side"`
	BuyerFee      string `json:"buyer_fee"`
	SellerFee     string `json:"seller_fee"`
	Timestamp     int64  `json:"timestamp"`
}

// OrderRecord is a point-in-time snapshot of one order, rewritten on
// every status change per SPEC_FULL §6.
type OrderRecord struct {
	ID        int64  `json:"id"`
	User      string `json:"user"`
	MarketID  string `json:"market_id"`
	Side      string `json:"side"`
	Kind      string `json:"kind"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Filled    string `json:"filled"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// BalanceUpdate is one balance snapshot. The matching engine publishes
// one on the user_balances topic after each fill and cancel.
type BalanceUpdate struct {
	User      string `json:"user"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Locked    string `json:"locked"`
	UpdatedAt int64  `json:"updated_at"`
}

// TokenRecord is an immutable token definition.
type TokenRecord struct {
	Ticker   string `json:"ticker"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
}

// MarketRecord is an immutable market definition snapshot (status may
// change over time and is re-saved, but the parameters themselves do not).
type MarketRecord struct {
	ID            string `json:"id"`
	BaseTicker    string `json:"base_ticker"`
	QuoteTicker   string `json:"quote_ticker"`
	BaseDecimals  int    `json:"base_decimals"`
	QuoteDecimals int    `json:"quote_decimals"`
	TickSize      string `json:"tick_size"`
	LotSize       string `json:"lot_size"`
	MinSize       string `json:"min_size"`
	MakerFeeBps   int32  `json:"maker_fee_bps"`
	TakerFeeBps   int32  `json:"taker_fee_bps"`
	Status        string `json:"status"`
}

// CandleInterval names one OHLCV aggregation window.
type CandleInterval string

const (
	Interval1m  CandleInterval = "1m"
	Interval5m  CandleInterval = "5m"
	Interval15m CandleInterval = "15m"
	Interval1h  CandleInterval = "1h"
	Interval1d  CandleInterval = "1d"
)

// AllIntervals is every interval a trade is aggregated into, per
// SPEC_FULL §6.3.
var AllIntervals = []CandleInterval{Interval1m, Interval5m, Interval15m, Interval1h, Interval1d}

func (iv CandleInterval) durationMs() int64 {
	switch iv {
	case Interval1m:
		return 60_000
	case Interval5m:
		return 5 * 60_000
	case Interval15m:
		return 15 * 60_000
	case Interval1h:
		return 60 * 60_000
	case Interval1d:
		return 24 * 60 * 60_000
	default:
		return 60_000
	}
}

// Candle is one OHLCV bucket.
type Candle struct {
	MarketID    string `json:"market_id"`
	Interval    string `json:"interval"`
	BucketStart int64  `json:"bucket_start"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
}

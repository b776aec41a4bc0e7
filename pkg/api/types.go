package api

import (
	"math/big"

	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
	"github.com/shopspring/decimal"
)

// atomsFromWire parses a human decimal string ("1.5") into its atom
// amount at the given number of decimals, using shopspring/decimal to
// validate and shift the string before handing off to fixedpoint, which
// never itself parses wire input.
func atomsFromWire(s string, decimals int) (fixedpoint.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fixedpoint.Amount{}, kernelerr.E(kernelerr.InvalidOrder, "api.atomsFromWire", err)
	}
	if d.IsNegative() {
		return fixedpoint.Amount{}, kernelerr.E(kernelerr.InvalidOrder, "api.atomsFromWire", err)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return fixedpoint.Amount{}, kernelerr.E(kernelerr.InvalidOrder, "api.atomsFromWire", err)
	}
	return fixedpoint.FromBigInt(shifted.BigInt())
}

// atomsToWire renders atoms back to a human decimal string for the wire.
func atomsToWire(a fixedpoint.Amount, decimals int) string {
	return a.ToDecimalString(decimals)
}

// atomStringToWire converts a raw atom string, as HistoryStore persists
// price/size/filled fields, to a human decimal string at the given
// number of decimals. Used when rendering OrderRecord/TradeRecord onto
// the wire, since the store itself stays decimals-agnostic.
func atomStringToWire(raw string, decimals int) string {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	a, err := fixedpoint.FromBigInt(n)
	if err != nil {
		return raw
	}
	return a.ToDecimalString(decimals)
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenView struct {
	Ticker   string `json:"ticker"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
}

type marketView struct {
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

type priceLevelView struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type orderbookView struct {
	MarketID string           `json:"market_id"`
	Bids     []priceLevelView `json:"bids"`
	Asks     []priceLevelView `json:"asks"`
}

type balanceView struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Locked    string `json:"locked"`
	Available string `json:"available"`
}

type placeOrderBody struct {
	User       string  `json:"user"`
	MarketID   string  `json:"market_id"`
	Side       string  `json:"side"` // "buy" | "sell"
	Kind       string  `json:"kind"` // "limit" | "market"
	Price      string  `json:"price"`
	Size       string  `json:"size"`
	FundingCap *string `json:"funding_cap,omitempty"`
	Signature  string  `json:"signature"`
}

type cancelAllBody struct {
	User      string `json:"user"`
	MarketID  string `json:"market_id,omitempty"`
	Signature string `json:"signature"`
}

type createTokenBody struct {
	Ticker   string `json:"ticker"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name"`
}

type createMarketBody struct {
	ID            string `json:"id"`
	BaseTicker    string `json:"base_ticker"`
	QuoteTicker   string `json:"quote_ticker"`
	TickSize      string `json:"tick_size"`
	LotSize       string `json:"lot_size"`
	MinSize       string `json:"min_size"`
	MakerFeeBps   int32  `json:"maker_fee_bps"`
	TakerFeeBps   int32  `json:"taker_fee_bps"`
}

type orderView struct {
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

type tradeView struct {
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

type placeOrderResponse struct {
	Order  orderView   `json:"order"`
	Trades []tradeView `json:"trades"`
}

type faucetBody struct {
	User   string `json:"user"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

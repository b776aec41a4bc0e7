package matching

import (
	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/orderbook"
)

// PlaceOrderRequest is the input to place_order, SPEC_FULL §4.4.1.
type PlaceOrderRequest struct {
	User      string
	MarketID  string
	Side      orderbook.Side
	Kind      orderbook.Kind
	Price     fixedpoint.Amount // ignored for Kind == Market
	Size      fixedpoint.Amount
	// FundingCap is required for a market buy: the maximum quote the
	// caller will spend. Nil means "not provided".
	FundingCap *fixedpoint.Amount
	Signature  string // trusted opaque string; see SPEC_FULL §1/§7/§9
}

// PlaceOrderResult is the synchronous return of place_order.
type PlaceOrderResult struct {
	Order  *orderbook.Order
	Trades []TradeResult
}

// TradeResult is one fill produced during a place_order call.
type TradeResult struct {
	TradeID       int64
	MarketID      string
	BuyerUser     string
	SellerUser    string
	BuyerOrderID  int64
	SellerOrderID int64
	Price         fixedpoint.Amount
	Size          fixedpoint.Amount
	AggressorSide orderbook.Side
	// BuyerFee/SellerFee are magnitudes; the IsRebate flags say whether the
	// amount was paid by that side (false) or credited to them (true). Amount
	// has no negative representation, so sign is carried out-of-band here.
	BuyerFee          fixedpoint.Amount
	BuyerFeeIsRebate  bool
	SellerFee         fixedpoint.Amount
	SellerFeeIsRebate bool
	TimestampMs       int64
}

type requestKind uint8

const (
	reqPlace requestKind = iota
	reqCancel
	reqCancelAll
)

// request is the envelope the engine's single-writer loop drains from
// its queue; resp carries the synchronous result back to the caller
// that submitted it, per SPEC_FULL §5's "single logical execution
// context draining a bounded request queue."
type request struct {
	kind    requestKind
	place   PlaceOrderRequest
	user    string
	orderID int64
	resp    chan response
}

type response struct {
	placeResult  *PlaceOrderResult
	cancelResult *orderbook.Order
	cancelCount  int
	err          error
}

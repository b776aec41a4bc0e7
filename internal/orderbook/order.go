package orderbook

import "github.com/exchange-kernel/spotkernel/internal/fixedpoint"

// Side is which side of the book an order rests on or which side an
// aggressor trades from.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Kind distinguishes limit orders, which may rest, from market orders,
// which never do.
type Kind uint8

const (
	Limit Kind = iota
	Market
)

func (k Kind) String() string {
	if k == Limit {
		return "limit"
	}
	return "market"
}

// Status is an order's lifecycle state.
type Status uint8

const (
	Pending Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Order is one resting or aggressor order. Price is zero for a market
// order. Filled is the cumulative matched size; Size-Filled is always
// the order's remaining quantity.
type Order struct {
	ID        int64
	User      string
	MarketID  string
	Side      Side
	Kind      Kind
	Price     fixedpoint.Amount
	Size      fixedpoint.Amount
	Filled    fixedpoint.Amount
	Status    Status
	CreatedAt int64 // unix millis
}

// Remaining returns Size - Filled.
func (o *Order) Remaining() fixedpoint.Amount {
	r, err := o.Size.CheckedSub(o.Filled)
	if err != nil {
		return fixedpoint.Zero()
	}
	return r
}

// Terminal reports whether the order can never be mutated again.
func (o *Order) Terminal() bool {
	switch o.Status {
	case Filled, Cancelled, Rejected:
		return true
	default:
		return false
	}
}

// Fill describes one match produced by the book's match loop.
type Fill struct {
	MakerOrderID int64
	MakerUser    string
	Price        fixedpoint.Amount
	Size         fixedpoint.Amount
	MakerFilled  bool // true if this fill exhausted the maker order
}

// PriceLevel is a read-only view of the aggregate size resting at one
// price, used for depth snapshots.
type PriceLevel struct {
	Price fixedpoint.Amount
	Size  fixedpoint.Amount
}

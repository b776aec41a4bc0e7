package orderbook

import (
	"testing"

	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
)

func amt(n int64) fixedpoint.Amount { return fixedpoint.FromInt64(n) }

func newOrder(id int64, side Side, price, size int64) *Order {
	return &Order{ID: id, Side: side, Kind: Limit, Price: amt(price), Size: amt(size), CreatedAt: id}
}

func TestBestPriceBuySideIsHighest(t *testing.T) {
	ob := New()
	ob.Insert(newOrder(1, Buy, 100, 1))
	ob.Insert(newOrder(2, Buy, 105, 1))
	ob.Insert(newOrder(3, Buy, 102, 1))

	price, ok := ob.BestPrice(Buy)
	if !ok || price.Cmp(amt(105)) != 0 {
		t.Fatalf("best bid = %v (ok=%v), want 105", price.BigInt(), ok)
	}
}

func TestBestPriceSellSideIsLowest(t *testing.T) {
	ob := New()
	ob.Insert(newOrder(1, Sell, 110, 1))
	ob.Insert(newOrder(2, Sell, 95, 1))
	ob.Insert(newOrder(3, Sell, 100, 1))

	price, ok := ob.BestPrice(Sell)
	if !ok || price.Cmp(amt(95)) != 0 {
		t.Fatalf("best ask = %v (ok=%v), want 95", price.BigInt(), ok)
	}
}

func TestFIFOWithinPriceLevel(t *testing.T) {
	ob := New()
	ob.Insert(newOrder(1, Sell, 100, 1))
	ob.Insert(newOrder(2, Sell, 100, 1))
	ob.Insert(newOrder(3, Sell, 100, 1))

	top, ok := ob.MatchTop(Buy, amt(100), true)
	if !ok || top.ID != 1 {
		t.Fatalf("expected order 1 (time priority), got %+v (ok=%v)", top, ok)
	}
}

func TestMatchTopRespectsLimitPrice(t *testing.T) {
	ob := New()
	ob.Insert(newOrder(1, Sell, 110, 1))

	if _, ok := ob.MatchTop(Buy, amt(100), true); ok {
		t.Fatal("expected no match: resting ask 110 does not cross buy limit 100")
	}
	if _, ok := ob.MatchTop(Buy, amt(110), true); !ok {
		t.Fatal("expected a match at the exact crossing price")
	}
}

func TestMatchTopMarketOrderCrossesAnyPrice(t *testing.T) {
	ob := New()
	ob.Insert(newOrder(1, Sell, 999_999, 1))
	top, ok := ob.MatchTop(Buy, fixedpoint.Zero(), false)
	if !ok || top.ID != 1 {
		t.Fatalf("expected market buy to cross any resting ask, got %+v (ok=%v)", top, ok)
	}
}

func TestCancelRemovesOrderAndEmptiesLevel(t *testing.T) {
	ob := New()
	ob.Insert(newOrder(1, Buy, 100, 1))

	removed, err := ob.Cancel(1)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if removed.ID != 1 {
		t.Fatalf("cancelled wrong order: %+v", removed)
	}
	if _, ok := ob.BestPrice(Buy); ok {
		t.Fatal("expected no resting bids after cancelling the only one")
	}
	if _, ok := ob.OrderLocation(1); ok {
		t.Fatal("expected order 1 no longer indexed after cancel")
	}
}

func TestCancelUnknownOrderFails(t *testing.T) {
	ob := New()
	if _, err := ob.Cancel(42); err == nil {
		t.Fatal("expected an error cancelling an order that was never inserted")
	}
}

func TestApplyMakerFillPopsExhaustedHeadOrder(t *testing.T) {
	ob := New()
	o := newOrder(1, Sell, 100, 1)
	ob.Insert(o)

	o.Filled = amt(1) // fully filled
	ob.ApplyMakerFill(o)

	if _, ok := ob.BestPrice(Sell); ok {
		t.Fatal("expected level to be empty after the only order filled")
	}
}

func TestApplyMakerFillLeavesPartiallyFilledOrderResting(t *testing.T) {
	ob := New()
	o := newOrder(1, Sell, 100, 2)
	ob.Insert(o)

	o.Filled = amt(1) // half filled
	ob.ApplyMakerFill(o)

	price, ok := ob.BestPrice(Sell)
	if !ok || price.Cmp(amt(100)) != 0 {
		t.Fatal("expected the partially filled order to remain resting")
	}
}

func TestDepthSnapshotAggregatesAndCaps(t *testing.T) {
	ob := New()
	ob.Insert(newOrder(1, Buy, 100, 1))
	ob.Insert(newOrder(2, Buy, 100, 2))
	ob.Insert(newOrder(3, Buy, 99, 5))
	ob.Insert(newOrder(4, Sell, 101, 3))

	bids, asks := ob.DepthSnapshot(0)
	if len(bids) != 2 || bids[0].Price.Cmp(amt(100)) != 0 || bids[0].Size.Cmp(amt(3)) != 0 {
		t.Fatalf("unexpected bid depth: %+v", bids)
	}
	if bids[1].Price.Cmp(amt(99)) != 0 || bids[1].Size.Cmp(amt(5)) != 0 {
		t.Fatalf("unexpected second bid level: %+v", bids[1])
	}
	if len(asks) != 1 || asks[0].Size.Cmp(amt(3)) != 0 {
		t.Fatalf("unexpected ask depth: %+v", asks)
	}

	capped, _ := ob.DepthSnapshot(1)
	if len(capped) != 1 {
		t.Fatalf("expected depth capped at 1 level, got %d", len(capped))
	}
}

func TestLastPrice(t *testing.T) {
	ob := New()
	if _, ok := ob.LastPrice(); ok {
		t.Fatal("expected no last price on an empty book")
	}
	ob.RecordLastPrice(amt(42))
	p, ok := ob.LastPrice()
	if !ok || p.Cmp(amt(42)) != 0 {
		t.Fatalf("last price = %v (ok=%v), want 42", p.BigInt(), ok)
	}
}

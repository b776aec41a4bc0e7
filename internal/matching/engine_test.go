package matching

import (
	"testing"

	"github.com/exchange-kernel/spotkernel/internal/eventbus"
	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/history"
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
	"github.com/exchange-kernel/spotkernel/internal/ledger"
	"github.com/exchange-kernel/spotkernel/internal/market"
	"github.com/exchange-kernel/spotkernel/internal/orderbook"
)

// fakeClock hands out a strictly increasing millisecond counter so test
// assertions about timestamps never depend on wall-clock jitter.
type fakeClock struct{ ms int64 }

func (c *fakeClock) NowMs() int64 {
	c.ms++
	return c.ms
}

func amt(n int64) fixedpoint.Amount { return fixedpoint.FromInt64(n) }

// btcUsdcMarket mirrors the shape of SPEC_FULL §8's literal scenarios
// (same tick/lot/min-size/fee-bps), but at 6 decimals rather than 18 so
// the worked notional/fee atoms in the tests below stay human-checkable
// under the kernel's actual `price * size / 10^base_decimals` formula.
func btcUsdcMarket() *market.Market {
	return &market.Market{
		ID: "BTC/USDC", BaseTicker: "BTC", QuoteTicker: "USDC",
		BaseDecimals: 6, QuoteDecimals: 6,
		TickSize: amt(1000), LotSize: amt(1_000_000), MinSize: amt(1_000_000),
		MakerFeeBps: 10, TakerFeeBps: 20,
		Status: market.Active,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := history.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	e := New(btcUsdcMarket(), ledger.New(nil), eventbus.New(nil), store, nil, NewIDGenerator())
	e.clock = &fakeClock{}
	return e
}

func seed(t *testing.T, e *Engine, user, token string, n int64) {
	t.Helper()
	e.ledg.Credit(user, token, amt(n))
}

func mustPlace(t *testing.T, e *Engine, req PlaceOrderRequest) *PlaceOrderResult {
	t.Helper()
	res, err := e.placeOrder(req)
	if err != nil {
		t.Fatalf("placeOrder: %v", err)
	}
	return res
}

// price is 50 quote-tokens per base-token at 6 decimals on both legs;
// notional on a 1-token (1_000_000 atom) fill is 50_000_000.
const testPrice = 50_000_000

func TestSimpleCross(t *testing.T) {
	e := newTestEngine(t)
	seed(t, e, "alice", "BTC", 10_000_000)
	seed(t, e, "bob", "USDC", 100_000_000)

	price := amt(testPrice)
	mustPlace(t, e, PlaceOrderRequest{User: "alice", MarketID: e.mkt.ID, Side: orderbook.Sell, Kind: orderbook.Limit, Price: price, Size: amt(1_000_000)})
	bobRes := mustPlace(t, e, PlaceOrderRequest{User: "bob", MarketID: e.mkt.ID, Side: orderbook.Buy, Kind: orderbook.Limit, Price: price, Size: amt(1_000_000)})

	if len(bobRes.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(bobRes.Trades))
	}
	tr := bobRes.Trades[0]
	if tr.Price.Cmp(price) != 0 || tr.Size.Cmp(amt(1_000_000)) != 0 {
		t.Fatalf("unexpected trade price/size: %+v", tr)
	}
	if tr.BuyerFee.Cmp(amt(100_000)) != 0 || tr.BuyerFeeIsRebate {
		t.Fatalf("unexpected taker fee: %+v", tr)
	}
	if tr.SellerFee.Cmp(amt(50_000)) != 0 || tr.SellerFeeIsRebate {
		t.Fatalf("unexpected maker fee: %+v", tr)
	}
	if bobRes.Order.Status != orderbook.Filled {
		t.Fatalf("expected bob order filled, got %v", bobRes.Order.Status)
	}

	bobQuote := e.ledg.Balance("bob", "USDC")
	if bobQuote.Amount.Cmp(amt(100_000_000-50_100_000)) != 0 {
		t.Fatalf("unexpected bob USDC balance: %+v", bobQuote)
	}
	aliceQuote := e.ledg.Balance("alice", "USDC")
	if aliceQuote.Amount.Cmp(amt(49_950_000)) != 0 {
		t.Fatalf("unexpected alice USDC balance: %+v", aliceQuote)
	}
	if e.ledg.Balance("alice", "BTC").Amount.Cmp(amt(9_000_000)) != 0 {
		t.Fatalf("unexpected alice BTC balance")
	}
	if e.ledg.Balance("bob", "BTC").Amount.Cmp(amt(1_000_000)) != 0 {
		t.Fatalf("unexpected bob BTC balance")
	}
}

func TestPartialFillRests(t *testing.T) {
	e := newTestEngine(t)
	seed(t, e, "alice", "BTC", 10_000_000)
	seed(t, e, "bob", "USDC", 100_000_000)
	price := amt(testPrice)

	aliceRes := mustPlace(t, e, PlaceOrderRequest{User: "alice", MarketID: e.mkt.ID, Side: orderbook.Sell, Kind: orderbook.Limit, Price: price, Size: amt(2_000_000)})
	bobRes := mustPlace(t, e, PlaceOrderRequest{User: "bob", MarketID: e.mkt.ID, Side: orderbook.Buy, Kind: orderbook.Limit, Price: price, Size: amt(1_000_000)})

	if len(bobRes.Trades) != 1 || bobRes.Trades[0].Size.Cmp(amt(1_000_000)) != 0 {
		t.Fatalf("expected single 1_000_000 trade, got %+v", bobRes.Trades)
	}
	if aliceRes.Order.Status != orderbook.PartiallyFilled {
		t.Fatalf("expected alice order partially_filled, got %v", aliceRes.Order.Status)
	}
	if aliceRes.Order.Filled.Cmp(amt(1_000_000)) != 0 {
		t.Fatalf("expected alice filled 1_000_000, got %s", aliceRes.Order.Filled.BigInt())
	}
	if bobRes.Order.Status != orderbook.Filled {
		t.Fatalf("expected bob order filled, got %v", bobRes.Order.Status)
	}
}

func TestTimePriority(t *testing.T) {
	e := newTestEngine(t)
	seed(t, e, "alice", "BTC", 10_000_000)
	seed(t, e, "carol", "BTC", 10_000_000)
	seed(t, e, "bob", "USDC", 1_000_000_000)
	price := amt(testPrice)

	mustPlace(t, e, PlaceOrderRequest{User: "alice", MarketID: e.mkt.ID, Side: orderbook.Sell, Kind: orderbook.Limit, Price: price, Size: amt(1_000_000)})
	mustPlace(t, e, PlaceOrderRequest{User: "carol", MarketID: e.mkt.ID, Side: orderbook.Sell, Kind: orderbook.Limit, Price: price, Size: amt(1_000_000)})
	bobRes := mustPlace(t, e, PlaceOrderRequest{User: "bob", MarketID: e.mkt.ID, Side: orderbook.Buy, Kind: orderbook.Limit, Price: price, Size: amt(1_500_000)})

	if len(bobRes.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(bobRes.Trades))
	}
	if bobRes.Trades[0].SellerUser != "alice" || bobRes.Trades[0].Size.Cmp(amt(1_000_000)) != 0 {
		t.Fatalf("expected first trade against alice for 1_000_000, got %+v", bobRes.Trades[0])
	}
	if bobRes.Trades[1].SellerUser != "carol" || bobRes.Trades[1].Size.Cmp(amt(500_000)) != 0 {
		t.Fatalf("expected second trade against carol for 500_000, got %+v", bobRes.Trades[1])
	}
}

func TestCancelReleasesLock(t *testing.T) {
	e := newTestEngine(t)
	seed(t, e, "alice", "BTC", 5_000_000)
	price := amt(testPrice)

	res := mustPlace(t, e, PlaceOrderRequest{User: "alice", MarketID: e.mkt.ID, Side: orderbook.Sell, Kind: orderbook.Limit, Price: price, Size: amt(1_000_000)})
	if snap := e.ledg.Balance("alice", "BTC"); snap.Locked.Cmp(amt(1_000_000)) != 0 {
		t.Fatalf("expected 1_000_000 locked after place, got %s", snap.Locked.BigInt())
	}

	if _, err := e.cancelOrder("alice", res.Order.ID); err != nil {
		t.Fatalf("cancelOrder: %v", err)
	}
	snap := e.ledg.Balance("alice", "BTC")
	if !snap.Locked.IsZero() {
		t.Fatalf("expected 0 locked after cancel, got %s", snap.Locked.BigInt())
	}
	if snap.Amount.Cmp(amt(5_000_000)) != 0 {
		t.Fatalf("expected amount unchanged at 5_000_000, got %s", snap.Amount.BigInt())
	}
}

func TestRejectUnderfunded(t *testing.T) {
	e := newTestEngine(t)
	seed(t, e, "bob", "USDC", 50_099_999) // one atom short of notional + taker fee
	price := amt(testPrice)

	_, err := e.placeOrder(PlaceOrderRequest{User: "bob", MarketID: e.mkt.ID, Side: orderbook.Buy, Kind: orderbook.Limit, Price: price, Size: amt(1_000_000)})
	if kernelerr.KindOf(err) != kernelerr.InsufficientFunds {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if snap := e.ledg.Balance("bob", "USDC"); snap.Amount.Cmp(amt(50_099_999)) != 0 || !snap.Locked.IsZero() {
		t.Fatalf("expected no balance change on rejection, got %+v", snap)
	}
}

func TestMarketBuyRequiresFundingCap(t *testing.T) {
	e := newTestEngine(t)
	seed(t, e, "alice", "BTC", 10_000_000)
	seed(t, e, "bob", "USDC", 100_000_000)
	price := amt(testPrice)

	_, err := e.placeOrder(PlaceOrderRequest{User: "bob", MarketID: e.mkt.ID, Side: orderbook.Buy, Kind: orderbook.Market, Size: amt(1_000_000)})
	if kernelerr.KindOf(err) != kernelerr.InvalidOrder {
		t.Fatalf("expected InvalidOrder with no funding cap, got %v", err)
	}

	mustPlace(t, e, PlaceOrderRequest{User: "alice", MarketID: e.mkt.ID, Side: orderbook.Sell, Kind: orderbook.Limit, Price: price, Size: amt(1_000_000)})
	cap := amt(50_100_000) // notional + taker fee, exactly covering one lot
	res := mustPlace(t, e, PlaceOrderRequest{User: "bob", MarketID: e.mkt.ID, Side: orderbook.Buy, Kind: orderbook.Market, Size: amt(1_000_000), FundingCap: &cap})
	if len(res.Trades) != 1 || res.Order.Status != orderbook.Filled {
		t.Fatalf("expected market buy to fill exactly one lot, got %+v", res)
	}
}

func TestZeroLiquidityMarketOrderReleasesFunds(t *testing.T) {
	e := newTestEngine(t)
	seed(t, e, "bob", "USDC", 100_000_000)
	cap := amt(testPrice)

	_, err := e.placeOrder(PlaceOrderRequest{User: "bob", MarketID: e.mkt.ID, Side: orderbook.Buy, Kind: orderbook.Market, Size: amt(1_000_000), FundingCap: &cap})
	if kernelerr.KindOf(err) != kernelerr.InsufficientLiquidity {
		t.Fatalf("expected InsufficientLiquidity, got %v", err)
	}
	snap := e.ledg.Balance("bob", "USDC")
	if !snap.Locked.IsZero() || snap.Amount.Cmp(amt(100_000_000)) != 0 {
		t.Fatalf("expected funds fully released, got %+v", snap)
	}
}

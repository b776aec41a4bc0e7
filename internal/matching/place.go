package matching

import (
	"fmt"

	"github.com/exchange-kernel/spotkernel/internal/eventbus"
	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/history"
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
	"github.com/exchange-kernel/spotkernel/internal/ledger"
	"github.com/exchange-kernel/spotkernel/internal/market"
	"github.com/exchange-kernel/spotkernel/internal/orderbook"
	"go.uber.org/zap"
)

// requiredLock computes the funds place_order must reserve before the
// match loop runs, per SPEC_FULL §4.4.1: a limit buy locks notional plus
// a positive taker fee margin (a rebate needs no extra margin); a limit
// sell locks size in base; a market buy locks the caller's funding cap;
// a market sell locks size in base.
func requiredLock(mkt *market.Market, side orderbook.Side, kind orderbook.Kind, price, size fixedpoint.Amount, fundingCap *fixedpoint.Amount) (token string, amount fixedpoint.Amount, err error) {
	switch {
	case side == orderbook.Buy && kind == orderbook.Limit:
		notional := fixedpoint.Notional(price, size, mkt.BaseDecimals)
		fee, isRebate := fixedpoint.SignedFeeBps(mkt.TakerFeeBps, notional)
		amt := notional
		if !isRebate {
			amt = notional.Add(fee)
		}
		return mkt.QuoteTicker, amt, nil
	case side == orderbook.Sell && kind == orderbook.Limit:
		return mkt.BaseTicker, size, nil
	case side == orderbook.Buy && kind == orderbook.Market:
		if fundingCap == nil || fundingCap.IsZero() {
			return "", fixedpoint.Zero(), kernelerr.E(kernelerr.InvalidOrder, "matching.requiredLock", fmt.Errorf("funding_cap required for market buy"))
		}
		return mkt.QuoteTicker, *fundingCap, nil
	default: // Sell, Market
		return mkt.BaseTicker, size, nil
	}
}

// makerRequiredLock recomputes a resting limit buy's lock requirement
// against the maker fee instead of the taker fee it was sized against at
// intake, per SPEC_FULL §4.4.4 (resolved in SPEC_FULL §9 to refund the
// excess immediately rather than on first maker fill).
func makerRequiredLock(mkt *market.Market, remaining, price fixedpoint.Amount) fixedpoint.Amount {
	notional := fixedpoint.Notional(price, remaining, mkt.BaseDecimals)
	fee, isRebate := fixedpoint.SignedFeeBps(mkt.MakerFeeBps, notional)
	if isRebate {
		return notional
	}
	return notional.Add(fee)
}

func (e *Engine) trackUser(user string, orderID int64) {
	set, ok := e.byUser[user]
	if !ok {
		set = make(map[int64]struct{})
		e.byUser[user] = set
	}
	set[orderID] = struct{}{}
}

func (e *Engine) untrackUser(user string, orderID int64) {
	set, ok := e.byUser[user]
	if !ok {
		return
	}
	delete(set, orderID)
	if len(set) == 0 {
		delete(e.byUser, user)
	}
}

func (e *Engine) toOrderRecord(o *orderbook.Order) history.OrderRecord {
	return history.OrderRecord{
		ID: o.ID, User: o.User, MarketID: o.MarketID,
		Side: o.Side.String(), Kind: o.Kind.String(),
		Price: o.Price.BigInt().String(), Size: o.Size.BigInt().String(),
		Filled: o.Filled.BigInt().String(), Status: o.Status.String(),
		CreatedAt: o.CreatedAt,
	}
}

func (e *Engine) persistOrder(o *orderbook.Order, open bool) {
	if err := e.store.SaveOrder(e.toOrderRecord(o), open); err != nil {
		e.log.Error("failed to persist order", zap.Int64("order_id", o.ID), zap.Error(err))
	}
}

func (e *Engine) publishOrderUpdate(o *orderbook.Order) {
	e.bus.Publish(eventbus.UserOrders, o.User, e.toOrderRecord(o))
	e.bus.Publish(eventbus.Orderbook, o.MarketID, struct{}{})
}

func (e *Engine) publishBalance(user, token string) {
	snap := e.ledg.Balance(user, token)
	e.bus.Publish(eventbus.UserBalances, user, history.BalanceUpdate{
		User: user, Token: token,
		Amount: snap.Amount.BigInt().String(), Locked: snap.Locked.BigInt().String(),
		UpdatedAt: e.clock.NowMs(),
	})
}

func (e *Engine) persistAndPublishTrade(tr TradeResult) {
	rec := history.TradeRecord{
		ID: tr.TradeID, MarketID: tr.MarketID,
		BuyerAddress: tr.BuyerUser, SellerAddress: tr.SellerUser,
		BuyerOrderID: tr.BuyerOrderID, SellerOrderID: tr.SellerOrderID,
		Price: tr.Price.BigInt().String(), Size: tr.Size.BigInt().String(),
		AggressorSide: tr.AggressorSide.String(),
		BuyerFee:      tr.BuyerFee.BigInt().String(),
		SellerFee:     tr.SellerFee.BigInt().String(),
		Timestamp:     tr.TimestampMs,
	}
	if err := e.store.AppendTrade(rec); err != nil {
		e.log.Error("failed to persist trade", zap.Int64("trade_id", tr.TradeID), zap.Error(err))
	}
	e.bus.Publish(eventbus.Trades, tr.MarketID, rec)
	e.bus.Publish(eventbus.UserFills, tr.BuyerUser, rec)
	e.bus.Publish(eventbus.UserFills, tr.SellerUser, rec)
}

// settleFill applies one match's accounting per SPEC_FULL §4.4.3: the
// buyer's locked quote is consumed for notional plus (or minus, if a
// rebate) their own fee, the seller's locked base is consumed for size,
// and the seller is credited notional net of their own fee. Whichever
// side is the resting maker pays the maker fee; the aggressor pays the
// taker fee. A positive fee is swept to FeeCollectorUser; a rebate is
// credited directly to the trader instead of drawn from the collector,
// see the FeeCollectorUser doc comment.
func (e *Engine) settleFill(aggressor, maker *orderbook.Order, aggressorSide orderbook.Side, size, price fixedpoint.Amount) (aggConsumed, makerConsumed fixedpoint.Amount, tr TradeResult, err error) {
	notional := fixedpoint.Notional(price, size, e.mkt.BaseDecimals)

	var buyerUser, sellerUser string
	var buyerOrderID, sellerOrderID int64
	var buyerFeeBps, sellerFeeBps int32
	if aggressorSide == orderbook.Buy {
		buyerUser, sellerUser = aggressor.User, maker.User
		buyerOrderID, sellerOrderID = aggressor.ID, maker.ID
		buyerFeeBps, sellerFeeBps = e.mkt.TakerFeeBps, e.mkt.MakerFeeBps
	} else {
		buyerUser, sellerUser = maker.User, aggressor.User
		buyerOrderID, sellerOrderID = maker.ID, aggressor.ID
		buyerFeeBps, sellerFeeBps = e.mkt.MakerFeeBps, e.mkt.TakerFeeBps
	}

	buyerFeeAmt, buyerIsRebate := fixedpoint.SignedFeeBps(buyerFeeBps, notional)
	sellerFeeAmt, sellerIsRebate := fixedpoint.SignedFeeBps(sellerFeeBps, notional)

	buyerLockConsumed := notional
	if !buyerIsRebate {
		buyerLockConsumed = notional.Add(buyerFeeAmt)
	}

	keys := []ledger.Key{
		{User: buyerUser, Token: e.mkt.QuoteTicker},
		{User: buyerUser, Token: e.mkt.BaseTicker},
		{User: sellerUser, Token: e.mkt.QuoteTicker},
		{User: sellerUser, Token: e.mkt.BaseTicker},
		{User: FeeCollectorUser, Token: e.mkt.QuoteTicker},
	}

	settleErr := e.ledg.WithLocked(keys, func(tx *ledger.Tx) error {
		if err := tx.SettleLocked(buyerUser, e.mkt.QuoteTicker, buyerLockConsumed); err != nil {
			return err
		}
		if buyerIsRebate {
			tx.Credit(buyerUser, e.mkt.QuoteTicker, buyerFeeAmt)
		}
		tx.Credit(buyerUser, e.mkt.BaseTicker, size)

		if err := tx.SettleLocked(sellerUser, e.mkt.BaseTicker, size); err != nil {
			return err
		}
		sellerReceive := notional
		if sellerIsRebate {
			sellerReceive = notional.Add(sellerFeeAmt)
		} else {
			var serr error
			sellerReceive, serr = notional.CheckedSub(sellerFeeAmt)
			if serr != nil {
				return serr
			}
		}
		tx.Credit(sellerUser, e.mkt.QuoteTicker, sellerReceive)

		if !buyerIsRebate {
			tx.Credit(FeeCollectorUser, e.mkt.QuoteTicker, buyerFeeAmt)
		}
		if !sellerIsRebate {
			tx.Credit(FeeCollectorUser, e.mkt.QuoteTicker, sellerFeeAmt)
		}
		return nil
	})
	if settleErr != nil {
		return fixedpoint.Zero(), fixedpoint.Zero(), TradeResult{}, settleErr
	}

	tr = TradeResult{
		TradeID: e.tradeIDs.Next(), MarketID: e.mkt.ID,
		BuyerUser: buyerUser, SellerUser: sellerUser,
		BuyerOrderID: buyerOrderID, SellerOrderID: sellerOrderID,
		Price: price, Size: size, AggressorSide: aggressorSide,
		BuyerFee: buyerFeeAmt, BuyerFeeIsRebate: buyerIsRebate,
		SellerFee: sellerFeeAmt, SellerFeeIsRebate: sellerIsRebate,
		TimestampMs: e.clock.NowMs(),
	}
	e.persistAndPublishTrade(tr)
	e.publishBalance(buyerUser, e.mkt.QuoteTicker)
	e.publishBalance(buyerUser, e.mkt.BaseTicker)
	e.publishBalance(sellerUser, e.mkt.QuoteTicker)
	e.publishBalance(sellerUser, e.mkt.BaseTicker)

	if aggressorSide == orderbook.Buy {
		return buyerLockConsumed, size, tr, nil
	}
	return size, buyerLockConsumed, tr, nil
}

// placeOrder implements place_order (SPEC_FULL §4.4.1/§4.4.2): validate,
// lock funds, run the match loop against the book, then either finish
// (fully filled), reject (market order with unmet remainder), or rest
// (limit order with remainder), per §4.4.4.
func (e *Engine) placeOrder(req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if req.MarketID != e.mkt.ID {
		return nil, kernelerr.E(kernelerr.UnknownMarket, "matching.placeOrder", nil)
	}
	if req.Kind == orderbook.Limit {
		if err := e.mkt.ValidateLimitPrice(req.Price); err != nil {
			return nil, err
		}
	}
	if err := e.mkt.ValidateSize(req.Size); err != nil {
		return nil, err
	}

	lockToken, lockAmt, err := requiredLock(e.mkt, req.Side, req.Kind, req.Price, req.Size, req.FundingCap)
	if err != nil {
		return nil, err
	}
	if _, err := e.ledg.Lock(req.User, lockToken, lockAmt); err != nil {
		return nil, err
	}

	orderID := e.orderIDs.Next()
	o := &orderbook.Order{
		ID: orderID, User: req.User, MarketID: req.MarketID,
		Side: req.Side, Kind: req.Kind, Price: req.Price, Size: req.Size,
		Status: orderbook.Pending, CreatedAt: e.clock.NowMs(),
	}
	st := &orderState{order: o, lockToken: lockToken, lockedRemaining: lockAmt}
	e.states[orderID] = st
	e.trackUser(req.User, orderID)

	limitSet := req.Kind == orderbook.Limit
	var trades []TradeResult

	for !o.Remaining().IsZero() {
		maker, ok := e.book.MatchTop(req.Side, req.Price, limitSet)
		if !ok {
			break
		}
		tradeSize := o.Remaining()
		if maker.Remaining().Cmp(tradeSize) < 0 {
			tradeSize = maker.Remaining()
		}
		tradePrice := maker.Price
		if req.Side == orderbook.Buy && req.Kind == orderbook.Market {
			notional := fixedpoint.Notional(tradePrice, tradeSize, e.mkt.BaseDecimals)
			cost := notional
			if fee, isRebate := fixedpoint.SignedFeeBps(e.mkt.TakerFeeBps, notional); !isRebate {
				cost = notional.Add(fee)
			}
			if cost.Cmp(st.lockedRemaining) > 0 {
				break // the rest of the funding cap cannot pay for this fill
			}
		}

		aggConsumed, makerConsumed, tr, err := e.settleFill(o, maker, req.Side, tradeSize, tradePrice)
		if err != nil {
			e.setDegraded()
			return nil, err
		}
		trades = append(trades, tr)

		o.Filled = o.Filled.Add(tradeSize)
		maker.Filled = maker.Filled.Add(tradeSize)
		e.book.RecordLastPrice(tradePrice)

		st.lockedRemaining, _ = st.lockedRemaining.CheckedSub(aggConsumed)
		if makerState, ok := e.states[maker.ID]; ok {
			makerState.lockedRemaining, _ = makerState.lockedRemaining.CheckedSub(makerConsumed)
		}

		if maker.Remaining().IsZero() {
			maker.Status = orderbook.Filled
			e.book.ApplyMakerFill(maker)
			e.untrackUser(maker.User, maker.ID)
			delete(e.states, maker.ID)
			e.persistOrder(maker, false)
		} else {
			maker.Status = orderbook.PartiallyFilled
			e.persistOrder(maker, true)
		}
		e.publishOrderUpdate(maker)
	}

	switch {
	case o.Remaining().IsZero():
		o.Status = orderbook.Filled
		delete(e.states, orderID)
		e.untrackUser(req.User, orderID)
		e.persistOrder(o, false)
		e.publishOrderUpdate(o)

	case req.Kind == orderbook.Market:
		delete(e.states, orderID)
		e.untrackUser(req.User, orderID)
		if _, err := e.ledg.Unlock(req.User, lockToken, st.lockedRemaining); err != nil {
			e.setDegraded()
			return nil, err
		}
		if o.Filled.IsZero() {
			o.Status = orderbook.Rejected
			return nil, kernelerr.E(kernelerr.InsufficientLiquidity, "matching.placeOrder", nil)
		}
		o.Status = orderbook.Cancelled
		e.persistOrder(o, false)
		e.publishOrderUpdate(o)
		return &PlaceOrderResult{Order: o, Trades: trades}, kernelerr.E(kernelerr.InsufficientLiquidity, "matching.placeOrder", nil)

	default: // resting limit order
		if req.Side == orderbook.Buy {
			e.trimRestingBuyLock(req.User, lockToken, st, req.Price)
		}
		if o.Filled.IsZero() {
			o.Status = orderbook.Pending
		} else {
			o.Status = orderbook.PartiallyFilled
		}
		e.book.Insert(o)
		e.persistOrder(o, true)
		e.publishOrderUpdate(o)
	}

	return &PlaceOrderResult{Order: o, Trades: trades}, nil
}

// trimRestingBuyLock releases the gap between a resting limit buy's
// taker-priced intake lock and its lower maker-priced requirement,
// per SPEC_FULL §4.4.4/§9. If the maker requirement were ever larger
// (an unusual fee schedule with maker fee above taker fee) the order
// simply keeps its existing, larger lock rather than attempting to
// lock additional funds mid-match.
func (e *Engine) trimRestingBuyLock(user, lockToken string, st *orderState, price fixedpoint.Amount) {
	required := makerRequiredLock(e.mkt, st.order.Remaining(), price)
	if st.lockedRemaining.Cmp(required) <= 0 {
		return
	}
	diff, err := st.lockedRemaining.CheckedSub(required)
	if err != nil {
		return
	}
	if _, err := e.ledg.Unlock(user, lockToken, diff); err != nil {
		e.log.Error("failed to release resting-order lock surplus", zap.Int64("order_id", st.order.ID), zap.Error(err))
		return
	}
	st.lockedRemaining = required
}

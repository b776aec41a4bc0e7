package matching

import (
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
	"github.com/exchange-kernel/spotkernel/internal/orderbook"
	"go.uber.org/zap"
)

// cancelOrder implements cancel_order, SPEC_FULL §4.4.5: only the owner
// may cancel a non-terminal order; any unfilled locked funds are
// released in full.
func (e *Engine) cancelOrder(user string, orderID int64) (*orderbook.Order, error) {
	st, ok := e.states[orderID]
	if !ok {
		return nil, kernelerr.E(kernelerr.NotFound, "matching.cancelOrder", nil)
	}
	if st.order.User != user {
		return nil, kernelerr.E(kernelerr.NotOwner, "matching.cancelOrder", nil)
	}
	if st.order.Terminal() {
		return nil, kernelerr.E(kernelerr.NotCancellable, "matching.cancelOrder", nil)
	}

	// Every order still present in e.states is, by construction, the
	// book's resting copy (placeOrder deletes the states entry the moment
	// an order stops resting), so this can only fail on a state/book
	// inconsistency.
	if _, err := e.book.Cancel(orderID); err != nil {
		e.setDegraded()
		return nil, err
	}
	if _, err := e.ledg.Unlock(user, st.lockToken, st.lockedRemaining); err != nil {
		e.setDegraded()
		return nil, err
	}

	st.order.Status = orderbook.Cancelled
	delete(e.states, orderID)
	e.untrackUser(user, orderID)
	e.persistOrder(st.order, false)
	e.publishOrderUpdate(st.order)
	e.publishBalance(user, st.lockToken)
	return st.order, nil
}

// cancelAll implements cancel_all, SPEC_FULL §4.4.6: cancel every order
// this engine holds open for user, releasing each one's locked funds.
func (e *Engine) cancelAll(user string) (int, error) {
	set, ok := e.byUser[user]
	if !ok || len(set) == 0 {
		return 0, nil
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	n := 0
	for _, id := range ids {
		if _, err := e.cancelOrder(user, id); err != nil {
			e.log.Error("cancel_all: failed to cancel order", zap.Int64("order_id", id), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

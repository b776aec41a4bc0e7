// Package orderbook implements the per-market two-sided price-level book:
// insertion, cancellation, best-price lookup and depth iteration, with
// FIFO time priority within a price level, grounded on the sibling
// kernel's heap-indexed FIFO-slice book.
package orderbook

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
)

type level struct {
	price  fixedpoint.Amount
	orders []*Order // FIFO: index 0 is the head (oldest, next to match)
}

type orderLoc struct {
	side     Side
	priceKey string
}

// OrderBook is one market's two-sided book. Not safe for use without
// external synchronization beyond its own mutex — MatchingEngine is the
// book's only writer, per the single-writer-per-market model, but the
// mutex also lets read-only snapshot calls (depth, best price) run
// concurrently with that writer goroutine from API read paths.
type OrderBook struct {
	mu sync.RWMutex

	bidHeap maxPriceHeap
	askHeap minPriceHeap

	bids map[string]*level // price-string -> level
	asks map[string]*level

	index map[int64]orderLoc

	lastPrice fixedpoint.Amount
	hasLast   bool
}

// New returns an empty book.
func New() *OrderBook {
	ob := &OrderBook{
		bids:  make(map[string]*level),
		asks:  make(map[string]*level),
		index: make(map[int64]orderLoc),
	}
	heap.Init(&ob.bidHeap)
	heap.Init(&ob.askHeap)
	return ob
}

func priceKey(p fixedpoint.Amount) string { return p.BigInt().String() }

func (ob *OrderBook) sideMaps(side Side) map[string]*level {
	if side == Buy {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) pushHeap(side Side, price fixedpoint.Amount) {
	if side == Buy {
		heap.Push(&ob.bidHeap, price)
	} else {
		heap.Push(&ob.askHeap, price)
	}
}

func (ob *OrderBook) removeFromHeap(side Side, price fixedpoint.Amount) {
	if side == Buy {
		for i := 0; i < ob.bidHeap.Len(); i++ {
			if ob.bidHeap[i].Cmp(price) == 0 {
				heap.Remove(&ob.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < ob.askHeap.Len(); i++ {
		if ob.askHeap[i].Cmp(price) == 0 {
			heap.Remove(&ob.askHeap, i)
			return
		}
	}
}

// Insert appends order to the tail of its price level, creating the
// level if absent. Caller must have already validated the order.
func (ob *OrderBook) Insert(o *Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	m := ob.sideMaps(o.Side)
	key := priceKey(o.Price)
	lv, ok := m[key]
	if !ok {
		lv = &level{price: o.Price}
		m[key] = lv
		ob.pushHeap(o.Side, o.Price)
	}
	lv.orders = append(lv.orders, o)
	ob.index[o.ID] = orderLoc{side: o.Side, priceKey: key}
}

// Cancel removes an order by id, returning it. Fails NotFound if unknown.
func (ob *OrderBook) Cancel(id int64) (*Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	loc, ok := ob.index[id]
	if !ok {
		return nil, kernelerr.E(kernelerr.NotFound, "orderbook.Cancel", nil)
	}
	m := ob.sideMaps(loc.side)
	lv, ok := m[loc.priceKey]
	if !ok {
		return nil, kernelerr.E(kernelerr.InvariantViolation, "orderbook.Cancel", nil)
	}
	for i, o := range lv.orders {
		if o.ID == id {
			lv.orders = append(lv.orders[:i], lv.orders[i+1:]...)
			delete(ob.index, id)
			if len(lv.orders) == 0 {
				delete(m, loc.priceKey)
				ob.removeFromHeap(loc.side, lv.price)
			}
			return o, nil
		}
	}
	return nil, kernelerr.E(kernelerr.InvariantViolation, "orderbook.Cancel", nil)
}

// BestPrice returns the best resting price on side, if any.
func (ob *OrderBook) BestPrice(side Side) (fixedpoint.Amount, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bestPriceLocked(side)
}

func (ob *OrderBook) bestPriceLocked(side Side) (fixedpoint.Amount, bool) {
	if side == Buy {
		for ob.bidHeap.Len() > 0 {
			p := ob.bidHeap.Peek()
			if lv, ok := ob.bids[priceKey(p)]; ok && len(lv.orders) > 0 {
				return p, true
			}
			heap.Pop(&ob.bidHeap)
		}
		return fixedpoint.Zero(), false
	}
	for ob.askHeap.Len() > 0 {
		p := ob.askHeap.Peek()
		if lv, ok := ob.asks[priceKey(p)]; ok && len(lv.orders) > 0 {
			return p, true
		}
		heap.Pop(&ob.askHeap)
	}
	return fixedpoint.Zero(), false
}

// crosses reports whether a resting price on the opposite side crosses
// an aggressor limit. limitSet is false for a market order, which
// crosses at any price.
func crosses(aggressorSide Side, restingPrice fixedpoint.Amount, limitPrice fixedpoint.Amount, limitSet bool) bool {
	if !limitSet {
		return true
	}
	if aggressorSide == Buy {
		return restingPrice.Cmp(limitPrice) <= 0
	}
	return restingPrice.Cmp(limitPrice) >= 0
}

// MatchTop returns the head order of the best level on the opposite side
// of aggressorSide, only if it crosses limitPrice (ignored when
// limitSet is false, i.e. a market order aggressor).
func (ob *OrderBook) MatchTop(aggressorSide Side, limitPrice fixedpoint.Amount, limitSet bool) (*Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	opp := aggressorSide.Opposite()
	price, ok := ob.bestPriceLocked(opp)
	if !ok {
		return nil, false
	}
	if !crosses(aggressorSide, price, limitPrice, limitSet) {
		return nil, false
	}
	lv := ob.sideMaps(opp)[priceKey(price)]
	if lv == nil || len(lv.orders) == 0 {
		return nil, false
	}
	return lv.orders[0], true
}

// ApplyMakerFill applies a fill to the head maker order of its level: if
// it is now fully filled, pops it from the book entirely. Caller (the
// MatchingEngine) has already mutated maker.Filled before calling this.
func (ob *OrderBook) ApplyMakerFill(maker *Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if !maker.Remaining().IsZero() {
		return
	}
	loc, ok := ob.index[maker.ID]
	if !ok {
		return
	}
	m := ob.sideMaps(loc.side)
	lv, ok := m[loc.priceKey]
	if !ok || len(lv.orders) == 0 {
		return
	}
	if lv.orders[0].ID != maker.ID {
		return
	}
	lv.orders = lv.orders[1:]
	delete(ob.index, maker.ID)
	if len(lv.orders) == 0 {
		delete(m, loc.priceKey)
		ob.removeFromHeap(loc.side, lv.price)
	}
}

// RecordLastPrice records the price of the most recent fill.
func (ob *OrderBook) RecordLastPrice(p fixedpoint.Amount) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.lastPrice = p
	ob.hasLast = true
}

// LastPrice returns the most recent fill price, or false if none yet.
func (ob *OrderBook) LastPrice() (fixedpoint.Amount, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastPrice, ob.hasLast
}

// DepthSnapshot aggregates size per price on both sides, best-first,
// capped at maxLevels per side (0 means unlimited).
func (ob *OrderBook) DepthSnapshot(maxLevels int) (bids, asks []PriceLevel) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bids = aggregateLevels(ob.bids, true)
	asks = aggregateLevels(ob.asks, false)
	if maxLevels > 0 {
		if len(bids) > maxLevels {
			bids = bids[:maxLevels]
		}
		if len(asks) > maxLevels {
			asks = asks[:maxLevels]
		}
	}
	return bids, asks
}

func aggregateLevels(m map[string]*level, descending bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(m))
	for _, lv := range m {
		if len(lv.orders) == 0 {
			continue
		}
		total := fixedpoint.Zero()
		for _, o := range lv.orders {
			total = total.Add(o.Remaining())
		}
		out = append(out, PriceLevel{Price: lv.price, Size: total})
	}
	sort.Slice(out, func(i, j int) bool {
		c := out[i].Price.Cmp(out[j].Price)
		if descending {
			return c > 0
		}
		return c < 0
	})
	return out
}

// OrderLocation reports whether id is currently resting, and on which side.
func (ob *OrderBook) OrderLocation(id int64) (Side, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	loc, ok := ob.index[id]
	return loc.side, ok
}

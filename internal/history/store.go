// Package history implements the HistoryStore collaborator contract from
// SPEC_FULL §2/§6: an append-only sink for orders, trades and balance
// snapshots, plus the derived candle aggregation, backed by a single
// embedded pebble.DB. Consolidates what the sibling kernel split across
// two duplicate persistence packages (account/store.go and
// storage/pebble_store.go) into one store, and drops their
// consensus-only methods since this kernel has no consensus component.
package history

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
	"go.uber.org/zap"
)

// Store wraps a pebble.DB with the kernel's record shapes.
type Store struct {
	db  *pebble.DB
	log *zap.Logger
}

// Open opens (creating if absent) a pebble database at dir.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, kernelerr.E(kernelerr.InternalError, "history.Open", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) setJSON(key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return kernelerr.E(kernelerr.InternalError, "history.setJSON", err)
	}
	if err := s.db.Set(key, b, pebble.Sync); err != nil {
		return kernelerr.E(kernelerr.InternalError, "history.setJSON", err)
	}
	return nil
}

func (s *Store) getJSON(key []byte, v interface{}) (bool, error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, kernelerr.E(kernelerr.InternalError, "history.getJSON", err)
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return false, kernelerr.E(kernelerr.InternalError, "history.getJSON", err)
	}
	return true, nil
}

// SaveToken persists an immutable token definition.
func (s *Store) SaveToken(t TokenRecord) error { return s.setJSON(tokenKey(t.Ticker), t) }

// LoadAllTokens range-scans every token record.
func (s *Store) LoadAllTokens() ([]TokenRecord, error) {
	var out []TokenRecord
	err := s.scan(tokenPrefix(), func(_, val []byte) error {
		var t TokenRecord
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// SaveMarket persists a market definition/status snapshot.
func (s *Store) SaveMarket(m MarketRecord) error { return s.setJSON(marketKey(m.ID), m) }

// LoadAllMarkets range-scans every market record.
func (s *Store) LoadAllMarkets() ([]MarketRecord, error) {
	var out []MarketRecord
	err := s.scan(marketPrefix(), func(_, val []byte) error {
		var m MarketRecord
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// SaveBalance rewrites a balance snapshot. No kernel path calls it; the
// matching engine publishes balance snapshots on the event bus only.
func (s *Store) SaveBalance(b BalanceUpdate) error {
	return s.setJSON(balanceKey(b.User, b.Token), b)
}

// LoadBalancesForUser range-scans every balance entry for one user.
func (s *Store) LoadBalancesForUser(user string) ([]BalanceUpdate, error) {
	var out []BalanceUpdate
	err := s.scan(balancePrefixForUser(user), func(_, val []byte) error {
		var b BalanceUpdate
		if err := json.Unmarshal(val, &b); err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

// SaveOrder rewrites an order's snapshot and maintains the open-order
// marker set used to recover the book on restart.
func (s *Store) SaveOrder(o OrderRecord, open bool) error {
	if err := s.setJSON(orderKey(o.MarketID, o.ID), o); err != nil {
		return err
	}
	if open {
		if err := s.db.Set(openOrderKey(o.MarketID, o.ID), []byte{1}, pebble.Sync); err != nil {
			return kernelerr.E(kernelerr.InternalError, "history.SaveOrder", err)
		}
	} else {
		if err := s.db.Delete(openOrderKey(o.MarketID, o.ID), pebble.Sync); err != nil {
			return kernelerr.E(kernelerr.InternalError, "history.SaveOrder", err)
		}
	}
	return nil
}

// LoadOpenOrders range-scans the open-order marker set for a market and
// returns the corresponding order snapshots, for book recovery on restart.
func (s *Store) LoadOpenOrders(marketID string) ([]OrderRecord, error) {
	var ids []int64
	err := s.scan(openOrderPrefix(marketID), func(key, _ []byte) error {
		var id int64
		_, scanErr := fmt.Sscanf(string(key), "ordopen:"+marketID+":%d", &id)
		if scanErr != nil {
			return nil
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]OrderRecord, 0, len(ids))
	for _, id := range ids {
		var o OrderRecord
		ok, err := s.getJSON(orderKey(marketID, id), &o)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// LoadOrdersForUser range-scans every order belonging to marketID and
// filters by user. SPEC_FULL does not require a secondary per-user
// index for orders; this is a linear scan acceptable at kernel scale.
func (s *Store) LoadOrdersForUser(marketID, user string) ([]OrderRecord, error) {
	var out []OrderRecord
	err := s.scan(orderPrefix(marketID), func(_, val []byte) error {
		var o OrderRecord
		if err := json.Unmarshal(val, &o); err != nil {
			return err
		}
		if o.User == user {
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// AppendTrade persists a trade record (append-only) and updates every
// candle interval's bucket for it, per SPEC_FULL §6.3.
func (s *Store) AppendTrade(t TradeRecord) error {
	if err := s.setJSON(tradeKey(t.MarketID, t.ID), t); err != nil {
		return err
	}
	for _, iv := range AllIntervals {
		if err := s.updateCandle(t, iv); err != nil {
			return err
		}
	}
	return nil
}

// LoadRecentTrades range-scans trades for a market, newest last (scan
// order matches key order, i.e. ascending trade id).
func (s *Store) LoadRecentTrades(marketID string, limit int) ([]TradeRecord, error) {
	var out []TradeRecord
	err := s.scan(tradePrefix(marketID), func(_, val []byte) error {
		var t TradeRecord
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) updateCandle(t TradeRecord, iv CandleInterval) error {
	dur := iv.durationMs()
	bucketStart := (t.Timestamp / dur) * dur
	key := candleKey(t.MarketID, string(iv), bucketStart)

	var c Candle
	ok, err := s.getJSON(key, &c)
	if err != nil {
		return err
	}
	price, perr := fixedpoint.FromDecimalString(t.Price, 0)
	if perr != nil {
		return kernelerr.E(kernelerr.InternalError, "history.updateCandle", perr)
	}
	size, serr := fixedpoint.FromDecimalString(t.Size, 0)
	if serr != nil {
		return kernelerr.E(kernelerr.InternalError, "history.updateCandle", serr)
	}

	if !ok {
		c = Candle{
			MarketID:    t.MarketID,
			Interval:    string(iv),
			BucketStart: bucketStart,
			Open:        t.Price,
			High:        t.Price,
			Low:         t.Price,
			Close:       t.Price,
			Volume:      t.Size,
		}
		return s.setJSON(key, c)
	}

	high, _ := fixedpoint.FromDecimalString(c.High, 0)
	low, _ := fixedpoint.FromDecimalString(c.Low, 0)
	volume, _ := fixedpoint.FromDecimalString(c.Volume, 0)

	if price.Cmp(high) > 0 {
		c.High = t.Price
	}
	if price.Cmp(low) < 0 {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = volume.Add(size).ToDecimalString(0)
	return s.setJSON(key, c)
}

// LoadCandles range-scans candle buckets for a market+interval.
func (s *Store) LoadCandles(marketID string, interval CandleInterval) ([]Candle, error) {
	var out []Candle
	err := s.scan(candlePrefix(marketID, string(interval)), func(_, val []byte) error {
		var c Candle
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func (s *Store) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return kernelerr.E(kernelerr.InternalError, "history.scan", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return kernelerr.E(kernelerr.InternalError, "history.scan", err)
		}
	}
	return nil
}

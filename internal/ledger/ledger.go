// Package ledger implements the kernel's balance store: per-(user, token)
// entries split into available and locked funds, with atomic credit,
// debit, lock, unlock and settle_locked operations.
package ledger

import (
	"sync"

	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
	"go.uber.org/zap"
)

// Key identifies one balance entry.
type Key struct {
	User  string
	Token string
}

// Less gives the deterministic (token, then user) ordering multi-key
// operations must acquire entries in, to avoid deadlock when two
// markets touch the same pair of users concurrently.
func (k Key) Less(o Key) bool {
	if k.Token != o.Token {
		return k.Token < o.Token
	}
	return k.User < o.User
}

type entry struct {
	mu     sync.Mutex
	amount fixedpoint.Amount
	locked fixedpoint.Amount
}

// Snapshot is a point-in-time, race-free copy of one balance entry.
type Snapshot struct {
	Amount    fixedpoint.Amount
	Locked    fixedpoint.Amount
	Available fixedpoint.Amount
}

// Ledger is the kernel's balance store. Safe for concurrent use; callers
// needing cross-key atomicity use WithLocked, which acquires the keys in
// Key.Less order itself (MatchingEngine does this for settlement).
type Ledger struct {
	log *zap.Logger

	mu      sync.RWMutex // guards the entries map itself, not individual entries
	entries map[Key]*entry
}

// New builds an empty ledger.
func New(log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{log: log, entries: make(map[Key]*entry)}
}

func (l *Ledger) getOrCreate(k Key) *entry {
	l.mu.RLock()
	e, ok := l.entries[k]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[k]; ok {
		return e
	}
	e = &entry{}
	l.entries[k] = e
	return e
}

// Balance returns a snapshot of one key's balance; zero if never touched.
func (l *Ledger) Balance(user, token string) Snapshot {
	e := l.getOrCreate(Key{User: user, Token: token})
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotOf(e)
}

func snapshotOf(e *entry) Snapshot {
	available, err := e.amount.CheckedSub(e.locked)
	if err != nil {
		// locked > amount would itself be an invariant violation; surface
		// zero rather than panicking a read path.
		available = fixedpoint.Zero()
	}
	return Snapshot{Amount: e.amount, Locked: e.locked, Available: available}
}

// Credit increases amount unconditionally (deposits, rebates, fill proceeds).
func (l *Ledger) Credit(user, token string, delta fixedpoint.Amount) Snapshot {
	e := l.getOrCreate(Key{User: user, Token: token})
	e.mu.Lock()
	defer e.mu.Unlock()
	e.amount = e.amount.Add(delta)
	return snapshotOf(e)
}

// Debit decreases amount, failing InsufficientFunds if delta exceeds
// available (amount - locked).
func (l *Ledger) Debit(user, token string, delta fixedpoint.Amount) (Snapshot, error) {
	e := l.getOrCreate(Key{User: user, Token: token})
	e.mu.Lock()
	defer e.mu.Unlock()
	available, _ := e.amount.CheckedSub(e.locked)
	if delta.Cmp(available) > 0 {
		return Snapshot{}, kernelerr.E(kernelerr.InsufficientFunds, "ledger.Debit", nil)
	}
	e.amount, _ = e.amount.CheckedSub(delta)
	return snapshotOf(e), nil
}

// Lock reserves delta out of available funds, failing InsufficientFunds
// if unavailable.
func (l *Ledger) Lock(user, token string, delta fixedpoint.Amount) (Snapshot, error) {
	e := l.getOrCreate(Key{User: user, Token: token})
	e.mu.Lock()
	defer e.mu.Unlock()
	available, _ := e.amount.CheckedSub(e.locked)
	if delta.Cmp(available) > 0 {
		return Snapshot{}, kernelerr.E(kernelerr.InsufficientFunds, "ledger.Lock", nil)
	}
	e.locked = e.locked.Add(delta)
	return snapshotOf(e), nil
}

// Unlock releases delta of previously locked funds back to available,
// failing InvariantViolation if delta exceeds what is currently locked.
func (l *Ledger) Unlock(user, token string, delta fixedpoint.Amount) (Snapshot, error) {
	e := l.getOrCreate(Key{User: user, Token: token})
	e.mu.Lock()
	defer e.mu.Unlock()
	if delta.Cmp(e.locked) > 0 {
		l.log.Error("unlock exceeds locked balance",
			zap.String("user", user), zap.String("token", token))
		return Snapshot{}, kernelerr.E(kernelerr.InvariantViolation, "ledger.Unlock", nil)
	}
	e.locked, _ = e.locked.CheckedSub(delta)
	return snapshotOf(e), nil
}

// SettleLocked atomically reduces both locked and amount by delta,
// consuming previously locked funds (the base side of a fill, or the
// quote side when a lock is consumed without ever having been debited
// separately). Fails InvariantViolation if delta exceeds locked.
func (l *Ledger) SettleLocked(user, token string, delta fixedpoint.Amount) (Snapshot, error) {
	e := l.getOrCreate(Key{User: user, Token: token})
	e.mu.Lock()
	defer e.mu.Unlock()
	if delta.Cmp(e.locked) > 0 {
		l.log.Error("settle_locked exceeds locked balance",
			zap.String("user", user), zap.String("token", token))
		return Snapshot{}, kernelerr.E(kernelerr.InvariantViolation, "ledger.SettleLocked", nil)
	}
	e.locked, _ = e.locked.CheckedSub(delta)
	e.amount, _ = e.amount.CheckedSub(delta)
	return snapshotOf(e), nil
}

// lockKeys orders and de-duplicates keys for deterministic multi-key
// acquisition, per SPEC_FULL §9 "shared mutable balances".
func lockKeys(keys []Key) []Key {
	out := append([]Key(nil), keys...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	dedup := out[:0]
	for i, k := range out {
		if i == 0 || k != out[i-1] {
			dedup = append(dedup, k)
		}
	}
	return dedup
}

// WithLocked acquires the per-entry mutex for every distinct key in keys,
// in deterministic order, then runs fn with all of them held. fn must not
// call back into the Ledger for any of the same keys (it would deadlock);
// it operates directly on the held entries through the Tx it is given. Used by
// MatchingEngine to apply a whole fill's settlement as one atomic group.
func (l *Ledger) WithLocked(keys []Key, fn func(tx *Tx) error) error {
	ordered := lockKeys(keys)
	entries := make([]*entry, len(ordered))
	for i, k := range ordered {
		entries[i] = l.getOrCreate(k)
	}
	for _, e := range entries {
		e.mu.Lock()
	}
	defer func() {
		for _, e := range entries {
			e.mu.Unlock()
		}
	}()

	index := make(map[Key]*entry, len(ordered))
	for i, k := range ordered {
		index[k] = entries[i]
	}
	tx := &Tx{index: index}
	return fn(tx)
}

// Tx is the set of already-locked entries passed to a WithLocked
// callback. All operations are lock-free against the entries already
// held by the enclosing WithLocked call.
type Tx struct {
	index map[Key]*entry
}

func (t *Tx) entry(user, token string) *entry {
	e, ok := t.index[Key{User: user, Token: token}]
	if !ok {
		panic("ledger: Tx used with a key not passed to WithLocked")
	}
	return e
}

func (t *Tx) Credit(user, token string, delta fixedpoint.Amount) {
	e := t.entry(user, token)
	e.amount = e.amount.Add(delta)
}

func (t *Tx) Debit(user, token string, delta fixedpoint.Amount) error {
	e := t.entry(user, token)
	available, _ := e.amount.CheckedSub(e.locked)
	if delta.Cmp(available) > 0 {
		return kernelerr.E(kernelerr.InvariantViolation, "ledger.Tx.Debit", nil)
	}
	e.amount, _ = e.amount.CheckedSub(delta)
	return nil
}

func (t *Tx) Unlock(user, token string, delta fixedpoint.Amount) error {
	e := t.entry(user, token)
	if delta.Cmp(e.locked) > 0 {
		return kernelerr.E(kernelerr.InvariantViolation, "ledger.Tx.Unlock", nil)
	}
	e.locked, _ = e.locked.CheckedSub(delta)
	return nil
}

func (t *Tx) SettleLocked(user, token string, delta fixedpoint.Amount) error {
	e := t.entry(user, token)
	if delta.Cmp(e.locked) > 0 {
		return kernelerr.E(kernelerr.InvariantViolation, "ledger.Tx.SettleLocked", nil)
	}
	e.locked, _ = e.locked.CheckedSub(delta)
	e.amount, _ = e.amount.CheckedSub(delta)
	return nil
}

func (t *Tx) Snapshot(user, token string) Snapshot {
	return snapshotOf(t.entry(user, token))
}

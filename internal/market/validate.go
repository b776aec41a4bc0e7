package market

import (
	"github.com/exchange-kernel/spotkernel/internal/fixedpoint"
	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
)

// ValidateLimitPrice enforces SPEC_FULL §4.4.1.2: price > 0 and a
// multiple of tick size.
func (m *Market) ValidateLimitPrice(price fixedpoint.Amount) error {
	if price.IsZero() || price.Cmp(fixedpoint.Zero()) <= 0 {
		return kernelerr.E(kernelerr.InvalidPrice, "market.ValidateLimitPrice", nil)
	}
	if !isMultiple(price, m.TickSize) {
		return kernelerr.E(kernelerr.InvalidPrice, "market.ValidateLimitPrice", nil)
	}
	return nil
}

// ValidateSize enforces SPEC_FULL §4.4.1.3: size > 0, a multiple of lot
// size, and >= min size.
func (m *Market) ValidateSize(size fixedpoint.Amount) error {
	if size.IsZero() {
		return kernelerr.E(kernelerr.InvalidSize, "market.ValidateSize", nil)
	}
	if !isMultiple(size, m.LotSize) {
		return kernelerr.E(kernelerr.InvalidSize, "market.ValidateSize", nil)
	}
	if size.Cmp(m.MinSize) < 0 {
		return kernelerr.E(kernelerr.InvalidSize, "market.ValidateSize", nil)
	}
	return nil
}

func isMultiple(v, step fixedpoint.Amount) bool {
	if step.IsZero() {
		return true
	}
	q := v.FloorDiv(step)
	return q.Mul(step).Cmp(v) == 0
}

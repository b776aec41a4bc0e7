// Package fixedpoint implements the arbitrary-precision integer atom type
// every settlement computation in the kernel uses in place of floats.
package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
)

// Amount is a non-negative integer number of atoms. The zero value is 0.
// Amount is never mutated in place by its own methods; every operation
// returns a new value, matching big.Int's own idiom of "caller owns the
// receiver."
type Amount struct {
	v big.Int
}

var bigZero = big.NewInt(0)
var bigTen = big.NewInt(10)

// Zero is the additive identity.
func Zero() Amount { return Amount{} }

// FromInt64 builds an Amount from a non-negative int64, for tests and
// constants; it panics on a negative argument since Amount is unsigned
// by contract.
func FromInt64(n int64) Amount {
	if n < 0 {
		panic("fixedpoint: negative FromInt64")
	}
	var a Amount
	a.v.SetInt64(n)
	return a
}

// FromBigInt wraps a big.Int, which must be non-negative.
func FromBigInt(n *big.Int) (Amount, error) {
	if n.Sign() < 0 {
		return Amount{}, kernelerr.E(kernelerr.InvalidOrder, "fixedpoint.FromBigInt", fmt.Errorf("negative amount"))
	}
	var a Amount
	a.v.Set(n)
	return a, nil
}

// FromDecimalString parses a human decimal string (e.g. "1.5") at the
// given number of atomic decimals and returns the atom amount. Only a
// single optional "." is permitted; negative strings are rejected.
func FromDecimalString(s string, decimals int) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, kernelerr.E(kernelerr.InvalidOrder, "fixedpoint.FromDecimalString", fmt.Errorf("empty string"))
	}
	if strings.HasPrefix(s, "-") {
		return Amount{}, kernelerr.E(kernelerr.InvalidOrder, "fixedpoint.FromDecimalString", fmt.Errorf("negative amount %q", s))
	}

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if strings.Contains(fracPart, ".") {
		return Amount{}, kernelerr.E(kernelerr.InvalidOrder, "fixedpoint.FromDecimalString", fmt.Errorf("malformed decimal %q", s))
	}
	if !hasFrac {
		fracPart = ""
	}
	if len(fracPart) > decimals {
		return Amount{}, kernelerr.E(kernelerr.InvalidOrder, "fixedpoint.FromDecimalString", fmt.Errorf("too many fractional digits in %q for %d decimals", s, decimals))
	}
	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	digits := intPart + fracPart
	if digits == "" {
		digits = "0"
	}

	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Amount{}, kernelerr.E(kernelerr.InvalidOrder, "fixedpoint.FromDecimalString", fmt.Errorf("invalid digits in %q", s))
	}
	return FromBigInt(n)
}

// ToDecimalString renders the atom amount back to a human decimal string
// at the given number of decimals. Trailing zeros of the fractional part
// are removed, and the decimal point is dropped when no digit remains.
func (a Amount) ToDecimalString(decimals int) string {
	s := a.v.String()
	if decimals == 0 {
		return s
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	for len(s) <= decimals {
		s = "0" + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := s[len(s)-decimals:]
	fracPart = strings.TrimRight(fracPart, "0")
	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

// BigInt exposes the underlying value; the returned pointer must not be
// mutated by the caller.
func (a Amount) BigInt() *big.Int { return &a.v }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.v.Sign() == 0 }

// Cmp compares two amounts: -1, 0, 1 as per big.Int.Cmp.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.v.Add(&a.v, &b.v)
	return out
}

// CheckedSub returns a - b, failing if the result would be negative.
func (a Amount) CheckedSub(b Amount) (Amount, error) {
	if a.v.Cmp(&b.v) < 0 {
		return Amount{}, kernelerr.E(kernelerr.InvariantViolation, "fixedpoint.CheckedSub", fmt.Errorf("%s - %s underflows", a.v.String(), b.v.String()))
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

// Mul returns a * b with a full-width big.Int intermediate; overflow is
// structurally impossible since big.Int grows as needed.
func (a Amount) Mul(b Amount) Amount {
	var out Amount
	out.v.Mul(&a.v, &b.v)
	return out
}

// FloorDiv returns floor(a / b), truncating toward zero (equivalent for
// non-negative operands). Panics if b is zero — callers must never divide
// by an attacker-controlled zero divisor without checking first.
func (a Amount) FloorDiv(b Amount) Amount {
	if b.v.Sign() == 0 {
		panic("fixedpoint: division by zero")
	}
	var out Amount
	out.v.Quo(&a.v, &b.v)
	return out
}

// Pow10 returns 10^n as an Amount.
func Pow10(n int) Amount {
	var out Amount
	out.v.Exp(bigTen, big.NewInt(int64(n)), nil)
	return out
}

// Notional computes price * size / 10^baseDecimals, truncated toward
// zero, per the kernel's fee/notional definition.
func Notional(price, size Amount, baseDecimals int) Amount {
	return price.Mul(size).FloorDiv(Pow10(baseDecimals))
}

// SignedFeeBps computes the fee on notional N at signed bps b: a positive
// fee is owed by the payer, a negative fee (rebate) is owed to them. The
// magnitude is |b| * N / 10000, truncated. The returned fee is always that
// non-negative magnitude; isRebate reports whether bps was negative.
func SignedFeeBps(bps int32, notional Amount) (fee Amount, isRebate bool) {
	b := bps
	isRebate = b < 0
	if isRebate {
		b = -b
	}
	magnitude := FromInt64(int64(b)).Mul(notional).FloorDiv(FromInt64(10_000))
	return magnitude, isRebate
}

package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/exchange-kernel/spotkernel/internal/kernelerr"
)

func TestFromDecimalStringRoundTrip(t *testing.T) {
	cases := []struct {
		s        string
		decimals int
		atoms    int64
	}{
		{"1.5", 6, 1_500_000},
		{"1", 6, 1_000_000},
		{"0.000001", 6, 1},
		{"123", 0, 123},
	}
	for _, c := range cases {
		got, err := FromDecimalString(c.s, c.decimals)
		if err != nil {
			t.Fatalf("FromDecimalString(%q, %d): %v", c.s, c.decimals, err)
		}
		if got.Cmp(FromInt64(c.atoms)) != 0 {
			t.Fatalf("FromDecimalString(%q, %d) = %s, want %d", c.s, c.decimals, got.BigInt(), c.atoms)
		}
		if back := got.ToDecimalString(c.decimals); back != c.s {
			t.Fatalf("ToDecimalString round trip = %q, want %q", back, c.s)
		}
	}
}

func TestFromDecimalStringRejectsNegativeAndMalformed(t *testing.T) {
	if _, err := FromDecimalString("-1", 6); kernelerr.KindOf(err) != kernelerr.InvalidOrder {
		t.Fatalf("expected InvalidOrder for negative input, got %v", err)
	}
	if _, err := FromDecimalString("1.2.3", 6); kernelerr.KindOf(err) != kernelerr.InvalidOrder {
		t.Fatalf("expected InvalidOrder for malformed input, got %v", err)
	}
	if _, err := FromDecimalString("1.1234567", 6); kernelerr.KindOf(err) != kernelerr.InvalidOrder {
		t.Fatalf("expected InvalidOrder for too many fractional digits, got %v", err)
	}
	if _, err := FromDecimalString("", 6); kernelerr.KindOf(err) != kernelerr.InvalidOrder {
		t.Fatalf("expected InvalidOrder for empty input, got %v", err)
	}
}

func TestArithmetic(t *testing.T) {
	a, b := FromInt64(7), FromInt64(3)
	if a.Add(b).Cmp(FromInt64(10)) != 0 {
		t.Fatalf("7 + 3 != 10")
	}
	sum, err := a.CheckedSub(b)
	if err != nil || sum.Cmp(FromInt64(4)) != 0 {
		t.Fatalf("7 - 3 != 4: %v, %v", sum.BigInt(), err)
	}
	if _, err := b.CheckedSub(a); kernelerr.KindOf(err) != kernelerr.InvariantViolation {
		t.Fatalf("expected InvariantViolation on underflow, got %v", err)
	}
	if a.Mul(b).Cmp(FromInt64(21)) != 0 {
		t.Fatalf("7 * 3 != 21")
	}
	if FromInt64(10).FloorDiv(FromInt64(3)).Cmp(FromInt64(3)) != 0 {
		t.Fatalf("floor(10/3) != 3")
	}
}

func TestFloorDivPanicsOnZeroDivisor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic dividing by zero")
		}
	}()
	FromInt64(1).FloorDiv(Zero())
}

func TestNotional(t *testing.T) {
	// price 50 (at 6 decimals: 50_000_000) * size 1 token (1_000_000 atoms)
	// / 10^6 = 50_000_000.
	price := FromInt64(50_000_000)
	size := FromInt64(1_000_000)
	n := Notional(price, size, 6)
	if n.Cmp(FromInt64(50_000_000)) != 0 {
		t.Fatalf("notional = %s, want 50000000", n.BigInt())
	}
}

func TestSignedFeeBpsFeeAndRebate(t *testing.T) {
	notional := FromInt64(50_000_000)

	fee, isRebate := SignedFeeBps(20, notional) // 20 bps taker fee
	if isRebate || fee.Cmp(FromInt64(100_000)) != 0 {
		t.Fatalf("taker fee = %s (rebate=%v), want 100000 (rebate=false)", fee.BigInt(), isRebate)
	}

	rebate, isRebate := SignedFeeBps(-10, notional) // 10 bps maker rebate
	if !isRebate || rebate.Cmp(FromInt64(50_000)) != 0 {
		t.Fatalf("maker rebate = %s (rebate=%v), want 50000 (rebate=true)", rebate.BigInt(), isRebate)
	}
}

func TestPow10(t *testing.T) {
	if Pow10(0).Cmp(FromInt64(1)) != 0 {
		t.Fatalf("10^0 != 1")
	}
	if Pow10(6).Cmp(FromInt64(1_000_000)) != 0 {
		t.Fatalf("10^6 != 1000000")
	}
}

func TestFromBigIntRejectsNegative(t *testing.T) {
	if _, err := FromBigInt(big.NewInt(5)); err != nil {
		t.Fatalf("unexpected error on non-negative input: %v", err)
	}
	if _, err := FromBigInt(big.NewInt(-5)); kernelerr.KindOf(err) != kernelerr.InvalidOrder {
		t.Fatalf("expected InvalidOrder for negative big.Int, got %v", err)
	}
}

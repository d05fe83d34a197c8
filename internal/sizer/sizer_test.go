package sizer

import "testing"

func TestSizeHappyPath(t *testing.T) {
	// equity 10_000_000, entry 100, target 10% -> raw qty = 10000
	qty, cost, ok := Size(10_000_000, 100, 0.10, 10_000_000, 0)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if qty != 10000 {
		t.Errorf("qty = %d, want 10000", qty)
	}
	if cost != 1_000_000 {
		t.Errorf("cost = %d, want 1_000_000", cost)
	}
}

func TestSizeRejectsInsufficientCash(t *testing.T) {
	_, _, ok := Size(10_000_000, 100, 0.50, 100, 0) // would cost 5_000_000, cash only 100
	if ok {
		t.Fatal("expected ok=false when cost exceeds available cash")
	}
}

func TestSizeRejectsZeroQty(t *testing.T) {
	// target pct tiny relative to a large entry price -> floors to 0
	_, _, ok := Size(1000, 1_000_000, 0.001, 1000, 0)
	if ok {
		t.Fatal("expected ok=false when qty would floor to 0")
	}
}

func TestSizeAppliesFee(t *testing.T) {
	qty, cost, ok := Size(10_000_000, 100, 0.10, 1_000_500, 500)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if qty != 10000 {
		t.Errorf("qty = %d, want 10000", qty)
	}
	if cost != 1_000_500 {
		t.Errorf("cost = %d, want 1_000_500 (includes fee)", cost)
	}
}

func TestSizeFeeExceedsCash(t *testing.T) {
	_, _, ok := Size(10_000_000, 100, 0.10, 1_000_000, 1000)
	if ok {
		t.Fatal("expected ok=false when fee pushes cost over available cash")
	}
}

func TestClamp(t *testing.T) {
	cases := []struct {
		v, lo, hi, want float64
	}{
		{0.5, 0.03, 0.15, 0.15},
		{0.01, 0.03, 0.15, 0.03},
		{0.08, 0.03, 0.15, 0.08},
	}
	for _, c := range cases {
		if got := Clamp(c.v, c.lo, c.hi); got != c.want {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v", c.v, c.lo, c.hi, got, c.want)
		}
	}
}

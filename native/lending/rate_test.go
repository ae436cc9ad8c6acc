package lending

import "testing"

func TestBorrowRateAtKink(t *testing.T) {
	config := ReserveConfig{
		OptimalUtilizationRate: 50,
		MinBorrowRate:          0,
		OptimalBorrowRate:      10,
		MaxBorrowRate:          300,
	}
	rate, err := config.BorrowRate(DecimalFromPercent(50))
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if rate.Cmp(DecimalFromPercent(10)) != 0 {
		t.Fatalf("rate at kink = %s, want exactly 0.10", rate)
	}
}

func TestBorrowRateSegments(t *testing.T) {
	config := ReserveConfig{
		OptimalUtilizationRate: 80,
		MinBorrowRate:          2,
		OptimalBorrowRate:      10,
		MaxBorrowRate:          50,
	}
	// Halfway to the kink: 2% + (40/80)*(10%-2%) = 6%.
	rate, err := config.BorrowRate(DecimalFromPercent(40))
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if rate.Cmp(DecimalFromPercent(6)) != 0 {
		t.Fatalf("rate below kink = %s, want 0.06", rate)
	}
	// Halfway past the kink: 10% + ((90-80)/(100-80))*(50%-10%) = 30%.
	rate, err = config.BorrowRate(DecimalFromPercent(90))
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if rate.Cmp(DecimalFromPercent(30)) != 0 {
		t.Fatalf("rate above kink = %s, want 0.30", rate)
	}
	// Full utilization hits the max.
	rate, err = config.BorrowRate(OneDecimal())
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if rate.Cmp(DecimalFromPercent(50)) != 0 {
		t.Fatalf("rate at full utilization = %s, want 0.50", rate)
	}
}

func TestBorrowRateOptimalAtFull(t *testing.T) {
	config := ReserveConfig{
		OptimalUtilizationRate: 100,
		MinBorrowRate:          3,
		OptimalBorrowRate:      3,
		MaxBorrowRate:          120,
	}
	rate, err := config.BorrowRate(DecimalFromPercent(99))
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if rate.Cmp(DecimalFromPercent(3)) != 0 {
		t.Fatalf("rate below full = %s, want min", rate)
	}
	rate, err = config.BorrowRate(OneDecimal())
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if rate.Cmp(DecimalFromBps(120*100)) != 0 {
		t.Fatalf("rate at full = %s, want max", rate)
	}
}

func TestCompoundedInterestFactor(t *testing.T) {
	// Zero heights elapsed compounds to exactly one.
	factor, err := compoundedInterestFactor(DecimalFromPercent(10), 0, 63_072_000)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	if factor.Cmp(OneDecimal()) != 0 {
		t.Fatalf("zero-delta factor = %s, want 1", factor)
	}
	// One height at 10% APR adds one slot's worth of rate.
	factor, err = compoundedInterestFactor(DecimalFromPercent(10), 1, 63_072_000)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	slotRate, err := DecimalFromPercent(10).DivUint(63_072_000)
	if err != nil {
		t.Fatalf("slot rate: %v", err)
	}
	want, err := OneDecimal().Add(slotRate)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if factor.Cmp(want) != 0 {
		t.Fatalf("one-slot factor = %s, want %s", factor, want)
	}
	// Compounding is monotonic in the delta.
	longer, err := compoundedInterestFactor(DecimalFromPercent(10), 1_000_000, 63_072_000)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	if longer.Cmp(factor) <= 0 {
		t.Fatalf("longer delta did not grow: %s <= %s", longer, factor)
	}
}

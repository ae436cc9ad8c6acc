package lending

import "testing"

func TestLastUpdateStaleness(t *testing.T) {
	lu := NewLastUpdate()
	if !lu.IsStale(0, 0) {
		t.Fatal("new state must start stale")
	}
	lu.Update(10)
	if lu.IsStale(10, 0) {
		t.Fatal("fresh at its own height")
	}
	if !lu.IsStale(11, 0) {
		t.Fatal("strict check must reject one height of drift")
	}
	if lu.IsStale(11, 1) {
		t.Fatal("slack of one must tolerate one height of drift")
	}
	if !lu.IsStale(12, 1) {
		t.Fatal("slack of one must reject two heights of drift")
	}
	lu.MarkStale()
	if !lu.IsStale(10, 0) {
		t.Fatal("marked state must read stale at any height")
	}
}

func TestLastUpdateSlotsElapsed(t *testing.T) {
	lu := NewLastUpdate()
	lu.Update(10)
	elapsed, err := lu.SlotsElapsed(15)
	if err != nil {
		t.Fatalf("elapsed: %v", err)
	}
	if elapsed != 5 {
		t.Fatalf("elapsed = %d, want 5", elapsed)
	}
	if _, err := lu.SlotsElapsed(9); err == nil {
		t.Fatal("time going backwards must fail")
	}
}

func TestAmountSentinel(t *testing.T) {
	exact := ExactAmount(42)
	if exact.IsMax() || exact.Value() != 42 || exact.IsZero() {
		t.Fatalf("exact amount misbehaves: %+v", exact)
	}
	max := MaxAmount()
	if !max.IsMax() {
		t.Fatal("max sentinel not flagged")
	}
	if ExactAmount(0).IsZero() != true {
		t.Fatal("zero amount not detected")
	}
}

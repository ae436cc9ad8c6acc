package lending

// Amount selects between an exact token quantity and "as much as possible".
// It replaces the u64 max-value sentinel so that callers state their intent
// explicitly and zero never collides with a magic number.
type Amount struct {
	value uint64
	max   bool
}

// ExactAmount wraps a concrete token quantity.
func ExactAmount(value uint64) Amount { return Amount{value: value} }

// MaxAmount requests the largest quantity the operation permits.
func MaxAmount() Amount { return Amount{max: true} }

// IsMax reports whether the full available quantity was requested.
func (a Amount) IsMax() bool { return a.max }

// Value returns the exact quantity. Meaningless when IsMax is true.
func (a Amount) Value() uint64 { return a.value }

// IsZero reports whether the request carries no quantity at all.
func (a Amount) IsZero() bool { return !a.max && a.value == 0 }

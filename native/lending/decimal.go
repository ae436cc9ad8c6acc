package lending

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// wadScale is the 10^18 scale factor shared by every decimal quantity in the
// protocol. All prices, rates and value aggregates are wads so that repeated
// integer division never loses precision mid-computation.
const wadScale = 1_000_000_000_000_000_000

var (
	wad     = uint256.NewInt(wadScale)
	halfWad = uint256.NewInt(wadScale / 2)
	wadLess = uint256.NewInt(wadScale - 1)
)

// Decimal is an unsigned fixed-point number scaled by 10^18, backed by a
// 256-bit integer. It can hold the product of two uint64 amounts scaled by
// wad without overflow. Subtraction below zero is an error, never wraparound.
type Decimal struct {
	val uint256.Int
}

// ZeroDecimal returns the zero value.
func ZeroDecimal() Decimal { return Decimal{} }

// OneDecimal returns 1.0 as a wad.
func OneDecimal() Decimal {
	var d Decimal
	d.val.Set(wad)
	return d
}

// NewDecimal converts a token amount into its wad representation.
func NewDecimal(amount uint64) Decimal {
	var d Decimal
	d.val.Mul(uint256.NewInt(amount), wad)
	return d
}

// DecimalFromWad interprets raw as an already wad-scaled value. Used for
// configuration fields that store fee rates as scaled uint64s.
func DecimalFromWad(raw uint64) Decimal {
	var d Decimal
	d.val.SetUint64(raw)
	return d
}

// DecimalFromPercent converts a whole percentage into a wad fraction.
func DecimalFromPercent(pct uint8) Decimal {
	var d Decimal
	d.val.Mul(uint256.NewInt(uint64(pct)), uint256.NewInt(wadScale/100))
	return d
}

// DecimalFromBps converts basis points into a wad fraction.
func DecimalFromBps(bps uint64) Decimal {
	var d Decimal
	d.val.Mul(uint256.NewInt(bps), uint256.NewInt(wadScale/10_000))
	return d
}

// DecimalFromBig converts a non-negative wad-scaled big integer. Values that
// do not fit in 256 bits or are negative fail with ErrMathOverflow.
func DecimalFromBig(raw *big.Int) (Decimal, error) {
	var d Decimal
	if raw == nil {
		return d, nil
	}
	if raw.Sign() < 0 {
		return Decimal{}, ErrMathOverflow
	}
	if overflow := d.val.SetFromBig(raw); overflow {
		return Decimal{}, ErrMathOverflow
	}
	return d, nil
}

// BigInt returns the wad-scaled value as a big integer copy.
func (d Decimal) BigInt() *big.Int { return d.val.ToBig() }

// Add returns d + o, failing on 256-bit overflow.
func (d Decimal) Add(o Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.val.AddOverflow(&d.val, &o.val); overflow {
		return Decimal{}, ErrMathOverflow
	}
	return out, nil
}

// Sub returns d - o, failing when the result would be negative.
func (d Decimal) Sub(o Decimal) (Decimal, error) {
	var out Decimal
	if _, underflow := out.val.SubOverflow(&d.val, &o.val); underflow {
		return Decimal{}, ErrMathOverflow
	}
	return out, nil
}

// Mul returns d * o with the intermediate product held in 256 bits before
// scaling back down by wad.
func (d Decimal) Mul(o Decimal) (Decimal, error) {
	var product uint256.Int
	if _, overflow := product.MulOverflow(&d.val, &o.val); overflow {
		return Decimal{}, ErrMathOverflow
	}
	var out Decimal
	out.val.Div(&product, wad)
	return out, nil
}

// Div returns d / o, failing on division by zero.
func (d Decimal) Div(o Decimal) (Decimal, error) {
	if o.val.IsZero() {
		return Decimal{}, ErrDivideByZero
	}
	var scaled uint256.Int
	if _, overflow := scaled.MulOverflow(&d.val, wad); overflow {
		return Decimal{}, ErrMathOverflow
	}
	var out Decimal
	out.val.Div(&scaled, &o.val)
	return out, nil
}

// MulUint returns d * n without rescaling. Mirrors the unscaled integer
// multiply used when converting between value and token amounts.
func (d Decimal) MulUint(n uint64) (Decimal, error) {
	var out Decimal
	if _, overflow := out.val.MulOverflow(&d.val, uint256.NewInt(n)); overflow {
		return Decimal{}, ErrMathOverflow
	}
	return out, nil
}

// DivUint returns d / n, failing on division by zero.
func (d Decimal) DivUint(n uint64) (Decimal, error) {
	if n == 0 {
		return Decimal{}, ErrDivideByZero
	}
	var out Decimal
	out.val.Div(&d.val, uint256.NewInt(n))
	return out, nil
}

// FloorU64 truncates to an integer token amount.
func (d Decimal) FloorU64() (uint64, error) {
	var q uint256.Int
	q.Div(&d.val, wad)
	if !q.IsUint64() {
		return 0, ErrMathOverflow
	}
	return q.Uint64(), nil
}

// CeilU64 rounds up to an integer token amount.
func (d Decimal) CeilU64() (uint64, error) {
	var sum uint256.Int
	if _, overflow := sum.AddOverflow(&d.val, wadLess); overflow {
		return 0, ErrMathOverflow
	}
	sum.Div(&sum, wad)
	if !sum.IsUint64() {
		return 0, ErrMathOverflow
	}
	return sum.Uint64(), nil
}

// RoundU64 rounds half-up to an integer token amount.
func (d Decimal) RoundU64() (uint64, error) {
	var sum uint256.Int
	if _, overflow := sum.AddOverflow(&d.val, halfWad); overflow {
		return 0, ErrMathOverflow
	}
	sum.Div(&sum, wad)
	if !sum.IsUint64() {
		return 0, ErrMathOverflow
	}
	return sum.Uint64(), nil
}

// Cmp returns -1, 0 or 1 comparing d against o.
func (d Decimal) Cmp(o Decimal) int { return d.val.Cmp(&o.val) }

// IsZero reports whether d is exactly zero.
func (d Decimal) IsZero() bool { return d.val.IsZero() }

// Min returns the smaller of d and o.
func (d Decimal) Min(o Decimal) Decimal {
	if d.Cmp(o) <= 0 {
		return d
	}
	return o
}

// Max returns the larger of d and o.
func (d Decimal) Max(o Decimal) Decimal {
	if d.Cmp(o) >= 0 {
		return d
	}
	return o
}

// SaturatingSub returns d - o, or zero when o exceeds d.
func (d Decimal) SaturatingSub(o Decimal) Decimal {
	out, err := d.Sub(o)
	if err != nil {
		return Decimal{}
	}
	return out
}

// String renders the value with its full 18 fractional digits.
func (d Decimal) String() string {
	var whole, frac uint256.Int
	whole.Div(&d.val, wad)
	frac.Mod(&d.val, wad)
	return fmt.Sprintf("%s.%018s", whole.Dec(), frac.Dec())
}

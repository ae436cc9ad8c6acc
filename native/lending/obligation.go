package lending

// obligationVersion is the current obligation schema version understood by
// the persistence codec.
const obligationVersion uint8 = 1

// ObligationCollateral is one collateral position inside an obligation.
type ObligationCollateral struct {
	// DepositReserve references the reserve whose collateral shares are
	// pledged.
	DepositReserve string
	// DepositedAmount is the pledged share amount.
	DepositedAmount uint64
	// MarketValue is the position's quote-currency value cached at the last
	// refresh.
	MarketValue Decimal
}

// ObligationLiquidity is one borrow position inside an obligation.
type ObligationLiquidity struct {
	// BorrowReserve references the reserve the liquidity was borrowed from.
	BorrowReserve string
	// CumulativeBorrowRateWads is the reserve's interest index snapshot from
	// the last time this position accrued.
	CumulativeBorrowRateWads Decimal
	// BorrowedAmountWads is the outstanding debt at full precision.
	BorrowedAmountWads Decimal
	// MarketValue is the position's quote-currency value cached at the last
	// refresh, priced at spot.
	MarketValue Decimal
}

// AccrueInterest rolls the position's debt forward to the reserve's current
// interest index. The index never decreases; a regression means corrupted
// state.
func (l *ObligationLiquidity) AccrueInterest(cumulativeBorrowRate Decimal) error {
	switch cumulativeBorrowRate.Cmp(l.CumulativeBorrowRateWads) {
	case -1:
		return ErrNegativeInterestRate
	case 0:
		return nil
	}
	ratio, err := cumulativeBorrowRate.Div(l.CumulativeBorrowRateWads)
	if err != nil {
		return err
	}
	borrowed, err := l.BorrowedAmountWads.Mul(ratio)
	if err != nil {
		return err
	}
	l.BorrowedAmountWads = borrowed
	l.CumulativeBorrowRateWads = cumulativeBorrowRate
	return nil
}

// Borrow adds newly borrowed debt to the position.
func (l *ObligationLiquidity) Borrow(borrowAmount Decimal) error {
	borrowed, err := l.BorrowedAmountWads.Add(borrowAmount)
	if err != nil {
		return err
	}
	l.BorrowedAmountWads = borrowed
	return nil
}

// Repay settles debt against the position.
func (l *ObligationLiquidity) Repay(settleAmount Decimal) error {
	borrowed, err := l.BorrowedAmountWads.Sub(settleAmount)
	if err != nil {
		return err
	}
	l.BorrowedAmountWads = borrowed
	return nil
}

// Obligation is a borrower account: collateral pledged across reserves and
// liquidity borrowed against it, with solvency values cached at the last
// refresh.
type Obligation struct {
	Version       uint8
	LastUpdate    LastUpdate
	LendingMarket string
	Owner         string
	Deposits      []ObligationCollateral
	Borrows       []ObligationLiquidity

	// DepositedValue is the total collateral value at spot.
	DepositedValue Decimal
	// BorrowedValue is the total risk-weighted debt value at spot.
	BorrowedValue Decimal
	// BorrowedValueUpperBound is the risk-weighted debt value at the price
	// upper bound, used when gating new borrows and withdrawals.
	BorrowedValueUpperBound Decimal
	// AllowedBorrowValue is the borrow power granted by collateral LTVs at
	// the price lower bound.
	AllowedBorrowValue Decimal
	// UnhealthyBorrowValue is the debt value at which liquidation opens.
	UnhealthyBorrowValue Decimal
	// SuperUnhealthyBorrowValue is the debt value at which the max
	// liquidation tier applies. Equal to UnhealthyBorrowValue when no
	// reserve defines a second tier.
	SuperUnhealthyBorrowValue Decimal
}

// NewObligation builds an empty obligation. It starts stale and must be
// refreshed before any value-dependent operation.
func NewObligation(lendingMarket, owner string) *Obligation {
	return &Obligation{
		Version:       obligationVersion,
		LastUpdate:    NewLastUpdate(),
		LendingMarket: lendingMarket,
		Owner:         owner,
	}
}

// ReserveCount returns the combined number of distinct reserves referenced.
func (o *Obligation) ReserveCount() int {
	return len(o.Deposits) + len(o.Borrows)
}

// FindCollateral locates the collateral position for a deposit reserve.
func (o *Obligation) FindCollateral(depositReserve string) (*ObligationCollateral, int, error) {
	for i := range o.Deposits {
		if o.Deposits[i].DepositReserve == depositReserve {
			return &o.Deposits[i], i, nil
		}
	}
	if len(o.Deposits) == 0 {
		return nil, 0, ErrObligationDepositsEmpty
	}
	return nil, 0, ErrInvalidObligationCollateral
}

// FindOrAddCollateral locates the collateral position for a deposit reserve,
// appending an empty one if absent.
func (o *Obligation) FindOrAddCollateral(depositReserve string, maxReserves int) (*ObligationCollateral, error) {
	for i := range o.Deposits {
		if o.Deposits[i].DepositReserve == depositReserve {
			return &o.Deposits[i], nil
		}
	}
	if o.ReserveCount() >= maxReserves {
		return nil, ErrObligationReserveLimit
	}
	o.Deposits = append(o.Deposits, ObligationCollateral{DepositReserve: depositReserve})
	return &o.Deposits[len(o.Deposits)-1], nil
}

// FindLiquidity locates the borrow position for a borrow reserve.
func (o *Obligation) FindLiquidity(borrowReserve string) (*ObligationLiquidity, int, error) {
	for i := range o.Borrows {
		if o.Borrows[i].BorrowReserve == borrowReserve {
			return &o.Borrows[i], i, nil
		}
	}
	if len(o.Borrows) == 0 {
		return nil, 0, ErrObligationBorrowsEmpty
	}
	return nil, 0, ErrInvalidObligationLiquidity
}

// FindOrAddLiquidity locates the borrow position for a borrow reserve,
// appending an empty one seeded with the reserve's current interest index if
// absent.
func (o *Obligation) FindOrAddLiquidity(borrowReserve string, cumulativeBorrowRate Decimal, maxReserves int) (*ObligationLiquidity, error) {
	for i := range o.Borrows {
		if o.Borrows[i].BorrowReserve == borrowReserve {
			return &o.Borrows[i], nil
		}
	}
	if o.ReserveCount() >= maxReserves {
		return nil, ErrObligationReserveLimit
	}
	o.Borrows = append(o.Borrows, ObligationLiquidity{
		BorrowReserve:            borrowReserve,
		CumulativeBorrowRateWads: cumulativeBorrowRate,
	})
	return &o.Borrows[len(o.Borrows)-1], nil
}

// Withdraw releases collateral shares from the position at index, removing
// the position when it empties.
func (o *Obligation) Withdraw(index int, amount uint64) error {
	c := &o.Deposits[index]
	if amount > c.DepositedAmount {
		return ErrInvalidAmount
	}
	if amount == c.DepositedAmount {
		o.Deposits = append(o.Deposits[:index], o.Deposits[index+1:]...)
		return nil
	}
	c.DepositedAmount -= amount
	return nil
}

// RepayLiquidity settles debt on the borrow position at index, removing the
// position when it is fully cleared.
func (o *Obligation) RepayLiquidity(index int, settleAmount Decimal) error {
	l := &o.Borrows[index]
	if settleAmount.Cmp(l.BorrowedAmountWads) == 0 {
		o.Borrows = append(o.Borrows[:index], o.Borrows[index+1:]...)
		return nil
	}
	return l.Repay(settleAmount)
}

// RemainingBorrowValue is the weighted borrow value still available before
// the obligation hits its allowed borrow value, comparing debt at the price
// upper bound.
func (o *Obligation) RemainingBorrowValue() Decimal {
	return o.AllowedBorrowValue.SaturatingSub(o.BorrowedValueUpperBound)
}

// MaxWithdrawValue is the collateral value that can be withdrawn before the
// upper-bound debt would exceed the borrow power of what remains.
// withdrawCollateralLTV is the LTV of the reserve being withdrawn from.
func (o *Obligation) MaxWithdrawValue(withdrawCollateralLTV Decimal) (Decimal, error) {
	if o.AllowedBorrowValue.Cmp(o.BorrowedValueUpperBound) <= 0 {
		return ZeroDecimal(), nil
	}
	if withdrawCollateralLTV.IsZero() {
		return o.DepositedValue, nil
	}
	excess, err := o.AllowedBorrowValue.Sub(o.BorrowedValueUpperBound)
	if err != nil {
		return Decimal{}, err
	}
	return excess.Div(withdrawCollateralLTV)
}

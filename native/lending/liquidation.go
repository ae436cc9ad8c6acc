package lending

// LiquidationResult carries the resolved amounts for a liquidation call.
type LiquidationResult struct {
	// SettleAmount is the debt settled against the obligation, in repay
	// reserve token units at full precision.
	SettleAmount Decimal
	// RepayAmount is the token amount the liquidator pays in, the ceiling of
	// SettleAmount so the pool never under-collects.
	RepayAmount uint64
	// WithdrawAmount is the collateral share amount seized, floored so the
	// pool never over-pays.
	WithdrawAmount uint64
}

// SeverelyUnhealthy reports whether the obligation is far enough past its
// unhealthy threshold that the full debt becomes closeable in one call:
// either the withdraw reserve tier (borrowed value at or past the
// super-unhealthy value) or the global full-close margin triggers it.
func (o *Obligation) SeverelyUnhealthy(params Params) (bool, error) {
	if o.SuperUnhealthyBorrowValue.Cmp(o.UnhealthyBorrowValue) > 0 &&
		o.BorrowedValue.Cmp(o.SuperUnhealthyBorrowValue) >= 0 {
		return true, nil
	}
	if params.FullCloseMarginBps == 0 {
		return false, nil
	}
	margin, err := OneDecimal().Add(DecimalFromBps(params.FullCloseMarginBps))
	if err != nil {
		return false, err
	}
	threshold, err := o.UnhealthyBorrowValue.Mul(margin)
	if err != nil {
		return false, err
	}
	return o.BorrowedValue.Cmp(threshold) >= 0, nil
}

// LiquidationBonusRate selects the liquidator premium: the max tier applies
// when the obligation is in the severe bracket and the reserve defines one.
func (c ReserveConfig) LiquidationBonusRate(severe bool) Decimal {
	if severe && c.MaxLiquidationBonus > c.LiquidationBonus {
		return DecimalFromPercent(c.MaxLiquidationBonus)
	}
	return DecimalFromPercent(c.LiquidationBonus)
}

// CalculateLiquidation prices a liquidation of the given borrow position
// against the given collateral position. amount is the liquidator's requested
// repay in repay-reserve token units, max meaning "as much as allowed". The
// obligation must already be known unhealthy; this only resolves amounts.
//
// The close factor caps how much of the position's debt one call may settle
// unless the obligation is severely unhealthy, in which case the whole debt
// is closeable. The seized collateral value is the settled debt value scaled
// by one plus the bonus; when that exceeds the collateral available on the
// withdraw reserve, the liquidator seizes all of it and the settled debt is
// reduced proportionally.
func CalculateLiquidation(
	params Params,
	amount Amount,
	obligation *Obligation,
	liquidity *ObligationLiquidity,
	collateral *ObligationCollateral,
	bonusRate Decimal,
) (LiquidationResult, error) {
	if liquidity.BorrowedAmountWads.IsZero() || liquidity.MarketValue.IsZero() {
		return LiquidationResult{}, ErrObligationLiquidityEmpty
	}
	if collateral.DepositedAmount == 0 || collateral.MarketValue.IsZero() {
		return LiquidationResult{}, ErrObligationCollateralEmpty
	}

	maxAmount := liquidity.BorrowedAmountWads
	if !amount.IsMax() {
		maxAmount = NewDecimal(amount.Value()).Min(maxAmount)
	}
	severe, err := obligation.SeverelyUnhealthy(params)
	if err != nil {
		return LiquidationResult{}, err
	}
	if !severe {
		closeable, err := liquidity.BorrowedAmountWads.Mul(DecimalFromBps(params.CloseFactorBps))
		if err != nil {
			return LiquidationResult{}, err
		}
		maxAmount = maxAmount.Min(closeable)
	}

	bonusMultiplier, err := OneDecimal().Add(bonusRate)
	if err != nil {
		return LiquidationResult{}, err
	}

	settleAmount := maxAmount
	debtValue, err := settleAmount.Mul(liquidity.MarketValue)
	if err != nil {
		return LiquidationResult{}, err
	}
	settleValue, err := debtValue.Div(liquidity.BorrowedAmountWads)
	if err != nil {
		return LiquidationResult{}, err
	}
	withdrawValue, err := settleValue.Mul(bonusMultiplier)
	if err != nil {
		return LiquidationResult{}, err
	}

	var withdrawAmount uint64
	if withdrawValue.Cmp(collateral.MarketValue) >= 0 {
		// Not enough collateral on this reserve: seize all of it and reduce
		// the settled debt proportionally.
		ratio, err := collateral.MarketValue.Div(withdrawValue)
		if err != nil {
			return LiquidationResult{}, err
		}
		settleAmount, err = settleAmount.Mul(ratio)
		if err != nil {
			return LiquidationResult{}, err
		}
		withdrawAmount = collateral.DepositedAmount
	} else {
		withdrawPct, err := withdrawValue.Div(collateral.MarketValue)
		if err != nil {
			return LiquidationResult{}, err
		}
		seized, err := NewDecimal(collateral.DepositedAmount).Mul(withdrawPct)
		if err != nil {
			return LiquidationResult{}, err
		}
		withdrawAmount, err = seized.FloorU64()
		if err != nil {
			return LiquidationResult{}, err
		}
	}

	repayAmount, err := settleAmount.CeilU64()
	if err != nil {
		return LiquidationResult{}, err
	}
	if repayAmount == 0 || withdrawAmount == 0 {
		return LiquidationResult{}, ErrLiquidationTooSmall
	}
	return LiquidationResult{
		SettleAmount:   settleAmount,
		RepayAmount:    repayAmount,
		WithdrawAmount: withdrawAmount,
	}, nil
}

package lending

// BorrowRate derives the annual borrow rate for the given utilization from
// the reserve's kinked curve. Below the optimal utilization point the rate
// interpolates between the min and optimal rates; at or above it between the
// optimal and max rates, normalised so the two segments meet at the kink.
// An optimal utilization of 100% pins the rate to the minimum until the pool
// is fully utilised, where it jumps to the maximum.
func (c ReserveConfig) BorrowRate(utilization Decimal) (Decimal, error) {
	minRate := DecimalFromBps(c.MinBorrowRate * 100)
	optimalRate := DecimalFromBps(c.OptimalBorrowRate * 100)
	maxRate := DecimalFromBps(c.MaxBorrowRate * 100)

	if c.OptimalUtilizationRate == 100 {
		if utilization.Cmp(OneDecimal()) < 0 {
			return minRate, nil
		}
		return maxRate, nil
	}

	optimal := DecimalFromPercent(c.OptimalUtilizationRate)
	if c.OptimalUtilizationRate > 0 && utilization.Cmp(optimal) < 0 {
		normalized, err := utilization.Div(optimal)
		if err != nil {
			return Decimal{}, err
		}
		rateRange, err := optimalRate.Sub(minRate)
		if err != nil {
			return Decimal{}, err
		}
		scaled, err := normalized.Mul(rateRange)
		if err != nil {
			return Decimal{}, err
		}
		return scaled.Add(minRate)
	}

	denom, err := OneDecimal().Sub(optimal)
	if err != nil {
		return Decimal{}, err
	}
	normalized, err := utilization.SaturatingSub(optimal).Div(denom)
	if err != nil {
		return Decimal{}, err
	}
	rateRange, err := maxRate.Sub(optimalRate)
	if err != nil {
		return Decimal{}, err
	}
	scaled, err := normalized.Mul(rateRange)
	if err != nil {
		return Decimal{}, err
	}
	return scaled.Add(optimalRate)
}

// compoundedInterestFactor returns (1 + borrowRate/slotsPerYear)^slotsElapsed
// computed by repeated multiplication over wads so the result matches the
// on-chain fixed-point compounding exactly.
func compoundedInterestFactor(borrowRate Decimal, slotsElapsed, slotsPerYear uint64) (Decimal, error) {
	slotRate, err := borrowRate.DivUint(slotsPerYear)
	if err != nil {
		return Decimal{}, err
	}
	base, err := OneDecimal().Add(slotRate)
	if err != nil {
		return Decimal{}, err
	}
	return decimalPow(base, slotsElapsed)
}

func decimalPow(base Decimal, exp uint64) (Decimal, error) {
	result := OneDecimal()
	var err error
	for exp > 0 {
		if exp&1 == 1 {
			if result, err = result.Mul(base); err != nil {
				return Decimal{}, err
			}
		}
		exp >>= 1
		if exp > 0 {
			if base, err = base.Mul(base); err != nil {
				return Decimal{}, err
			}
		}
	}
	return result, nil
}

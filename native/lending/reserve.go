package lending

// reserveVersion is the current reserve schema version understood by the
// persistence codec.
const reserveVersion uint8 = 1

// ReserveLiquidity is the deposit-token side of one asset pool.
type ReserveLiquidity struct {
	// Mint identifies the underlying token.
	Mint string
	// MintDecimals is the token's decimal precision, at most 18.
	MintDecimals uint8
	// Supply references the vault holding the pool's on-hand tokens.
	Supply string
	// OracleRef identifies the price feed for the underlying token.
	OracleRef string
	// AvailableAmount is the on-hand liquidity in token units.
	AvailableAmount uint64
	// BorrowedAmountWads is the outstanding borrowed principal, interest
	// included, as a wad decimal.
	BorrowedAmountWads Decimal
	// CumulativeBorrowRateWads is the monotonically non-decreasing interest
	// index. Always at least one.
	CumulativeBorrowRateWads Decimal
	// AccumulatedProtocolFeesWads is the unclaimed protocol fee balance
	// skimmed from accrued interest.
	AccumulatedProtocolFeesWads Decimal
	// MarketPrice is the latest oracle spot price in quote currency per
	// whole token, wad scaled.
	MarketPrice Decimal
	// SmoothedMarketPrice is the oracle's EMA price used to bound borrow
	// power against short price spikes.
	SmoothedMarketPrice Decimal
}

// TotalSupply returns the liquidity owned by depositors: on-hand plus
// borrowed, minus the protocol's unclaimed fee balance.
func (l *ReserveLiquidity) TotalSupply() (Decimal, error) {
	total, err := NewDecimal(l.AvailableAmount).Add(l.BorrowedAmountWads)
	if err != nil {
		return Decimal{}, err
	}
	return total.Sub(l.AccumulatedProtocolFeesWads)
}

// UtilizationRate returns borrowed / (available + borrowed), zero for an
// empty pool.
func (l *ReserveLiquidity) UtilizationRate() (Decimal, error) {
	denom, err := NewDecimal(l.AvailableAmount).Add(l.BorrowedAmountWads)
	if err != nil {
		return Decimal{}, err
	}
	if denom.IsZero() {
		return ZeroDecimal(), nil
	}
	return l.BorrowedAmountWads.Div(denom)
}

// Deposit adds liquidity to the pool.
func (l *ReserveLiquidity) Deposit(amount uint64) error {
	next := l.AvailableAmount + amount
	if next < l.AvailableAmount {
		return ErrMathOverflow
	}
	l.AvailableAmount = next
	return nil
}

// Withdraw removes on-hand liquidity from the pool.
func (l *ReserveLiquidity) Withdraw(amount uint64) error {
	if amount > l.AvailableAmount {
		return ErrInsufficientLiquidity
	}
	l.AvailableAmount -= amount
	return nil
}

// Borrow moves liquidity from on-hand into the borrowed principal. The
// decimal carries the fee-inclusive owed amount while only its floor leaves
// the pool.
func (l *ReserveLiquidity) Borrow(borrowDecimal Decimal) error {
	borrowAmount, err := borrowDecimal.FloorU64()
	if err != nil {
		return err
	}
	if borrowAmount > l.AvailableAmount {
		return ErrInsufficientLiquidity
	}
	borrowed, err := l.BorrowedAmountWads.Add(borrowDecimal)
	if err != nil {
		return err
	}
	l.AvailableAmount -= borrowAmount
	l.BorrowedAmountWads = borrowed
	return nil
}

// Repay returns repayAmount tokens to the pool and settles settleAmount of
// decimal-precise debt.
func (l *ReserveLiquidity) Repay(repayAmount uint64, settleAmount Decimal) error {
	next := l.AvailableAmount + repayAmount
	if next < l.AvailableAmount {
		return ErrMathOverflow
	}
	// Ceiling on the final repay can overshoot the decimal debt by less than
	// one unit; clamp instead of failing.
	borrowed := l.BorrowedAmountWads.SaturatingSub(settleAmount)
	l.AvailableAmount = next
	l.BorrowedAmountWads = borrowed
	return nil
}

// RedeemFees claims amount of the accumulated protocol fee balance out of
// on-hand liquidity.
func (l *ReserveLiquidity) RedeemFees(amount uint64) error {
	if amount > l.AvailableAmount {
		return ErrInsufficientLiquidity
	}
	fees, err := l.AccumulatedProtocolFeesWads.Sub(NewDecimal(amount))
	if err != nil {
		return err
	}
	l.AvailableAmount -= amount
	l.AccumulatedProtocolFeesWads = fees
	return nil
}

// ReserveCollateral tracks the share token minted against reserve liquidity.
type ReserveCollateral struct {
	// Mint identifies the collateral share token.
	Mint string
	// Supply references the vault holding shares pledged to obligations.
	Supply string
	// MintTotalSupply is the total shares outstanding.
	MintTotalSupply uint64
}

// MintShares issues new collateral shares.
func (c *ReserveCollateral) MintShares(amount uint64) error {
	next := c.MintTotalSupply + amount
	if next < c.MintTotalSupply {
		return ErrMathOverflow
	}
	c.MintTotalSupply = next
	return nil
}

// Burn retires collateral shares.
func (c *ReserveCollateral) Burn(amount uint64) error {
	if amount > c.MintTotalSupply {
		return ErrInvalidAmount
	}
	c.MintTotalSupply -= amount
	return nil
}

// CollateralExchangeRate converts between collateral shares and underlying
// liquidity. The rate is collateral shares per liquidity token.
type CollateralExchangeRate struct {
	rate Decimal
}

// LiquidityToCollateral floors the share amount minted for a liquidity
// deposit.
func (e CollateralExchangeRate) LiquidityToCollateral(amount uint64) (uint64, error) {
	shares, err := NewDecimal(amount).Mul(e.rate)
	if err != nil {
		return 0, err
	}
	return shares.FloorU64()
}

// CollateralToLiquidity floors the liquidity released for a share amount.
func (e CollateralExchangeRate) CollateralToLiquidity(amount uint64) (uint64, error) {
	liquidity, err := e.DecimalCollateralToLiquidity(NewDecimal(amount))
	if err != nil {
		return 0, err
	}
	return liquidity.FloorU64()
}

// DecimalCollateralToLiquidity converts shares to liquidity at full
// precision.
func (e CollateralExchangeRate) DecimalCollateralToLiquidity(amount Decimal) (Decimal, error) {
	return amount.Div(e.rate)
}

// ReserveConfig holds the per-reserve risk parameters.
type ReserveConfig struct {
	// OptimalUtilizationRate is the kink point of the rate curve, percent.
	OptimalUtilizationRate uint8
	// LoanToValueRatio is the max borrow power per unit of collateral value,
	// percent.
	LoanToValueRatio uint8
	// LiquidationThreshold is the LTV at which the position becomes
	// liquidatable, percent. Strictly above LoanToValueRatio.
	LiquidationThreshold uint8
	// MaxLiquidationThreshold, when above LiquidationThreshold, marks the
	// super-unhealthy tier where full closes and the max bonus apply.
	MaxLiquidationThreshold uint8
	// LiquidationBonus is the base liquidator premium, percent.
	LiquidationBonus uint8
	// MaxLiquidationBonus applies in the super-unhealthy tier, percent.
	MaxLiquidationBonus uint8
	// MinBorrowRate, OptimalBorrowRate and MaxBorrowRate define the kinked
	// borrow curve, annual percent. May exceed 100.
	MinBorrowRate     uint64
	OptimalBorrowRate uint64
	MaxBorrowRate     uint64
	// Fees configures origination and flash loan fees.
	Fees ReserveFees
	// DepositLimit caps total liquidity supply, token units.
	DepositLimit uint64
	// BorrowLimit caps outstanding borrows, token units.
	BorrowLimit uint64
	// FeeReceiver is the account collecting protocol fee transfers.
	FeeReceiver string
	// ProtocolTakeRate is the share of accrued interest skimmed into the
	// protocol fee balance, percent.
	ProtocolTakeRate uint8
	// AddedBorrowWeightBps scales this asset's borrow value upward for risk
	// weighting. Zero means weight one.
	AddedBorrowWeightBps uint64
	// RateLimiter bounds redemption and borrow outflow per window.
	RateLimiter RateLimiterConfig
}

// Validate rejects economically inconsistent parameter sets before they can
// reach reserve state.
func (c ReserveConfig) Validate() error {
	switch {
	case c.OptimalUtilizationRate > 100,
		c.LoanToValueRatio >= 100,
		c.LiquidationThreshold <= c.LoanToValueRatio,
		c.LiquidationThreshold > 100,
		c.MaxLiquidationThreshold != 0 && c.MaxLiquidationThreshold < c.LiquidationThreshold,
		c.MaxLiquidationThreshold > 100,
		c.LiquidationBonus > 100,
		c.MaxLiquidationBonus != 0 && c.MaxLiquidationBonus < c.LiquidationBonus,
		c.MaxLiquidationBonus > 100,
		c.MinBorrowRate > c.OptimalBorrowRate,
		c.OptimalBorrowRate > c.MaxBorrowRate,
		c.Fees.HostFeePercentage > 100,
		c.ProtocolTakeRate > 100:
		return ErrInvalidConfig
	}
	return nil
}

// BorrowWeight returns the multiplier applied to this asset's borrow value.
func (c ReserveConfig) BorrowWeight() (Decimal, error) {
	return OneDecimal().Add(DecimalFromBps(c.AddedBorrowWeightBps))
}

// superUnhealthyEnabled reports whether the config defines a second
// liquidation tier.
func (c ReserveConfig) superUnhealthyEnabled() bool {
	return c.MaxLiquidationThreshold > c.LiquidationThreshold
}

// Reserve is the owning aggregate for a single asset pool.
type Reserve struct {
	Version       uint8
	LastUpdate    LastUpdate
	LendingMarket string
	Liquidity     ReserveLiquidity
	Collateral    ReserveCollateral
	Config        ReserveConfig
	RateLimiter   RateLimiter
}

// InitReserveParams collects the inputs for creating a reserve.
type InitReserveParams struct {
	CurrentSlot           uint64
	LendingMarket         string
	LiquidityMint         string
	LiquidityMintDecimals uint8
	LiquiditySupply       string
	LiquidityOracle       string
	CollateralMint        string
	CollateralSupply      string
	MarketPrice           Decimal
	SmoothedMarketPrice   Decimal
	Config                ReserveConfig
}

// NewReserve builds an empty reserve. The cumulative borrow rate starts at
// one and the reserve starts stale so it must be refreshed before use.
func NewReserve(p InitReserveParams) *Reserve {
	return &Reserve{
		Version:       reserveVersion,
		LastUpdate:    NewLastUpdate(),
		LendingMarket: p.LendingMarket,
		Liquidity: ReserveLiquidity{
			Mint:                     p.LiquidityMint,
			MintDecimals:             p.LiquidityMintDecimals,
			Supply:                   p.LiquiditySupply,
			OracleRef:                p.LiquidityOracle,
			CumulativeBorrowRateWads: OneDecimal(),
			MarketPrice:              p.MarketPrice,
			SmoothedMarketPrice:      p.SmoothedMarketPrice,
		},
		Collateral: ReserveCollateral{
			Mint:   p.CollateralMint,
			Supply: p.CollateralSupply,
		},
		Config:      p.Config,
		RateLimiter: NewRateLimiter(p.Config.RateLimiter, p.CurrentSlot),
	}
}

// CurrentBorrowRate evaluates the rate curve at the pool's utilization.
func (r *Reserve) CurrentBorrowRate() (Decimal, error) {
	utilization, err := r.Liquidity.UtilizationRate()
	if err != nil {
		return Decimal{}, err
	}
	return r.Config.BorrowRate(utilization)
}

// CollateralExchangeRate returns the share/liquidity conversion rate,
// falling back to the fixed bootstrap ratio while no shares exist.
func (r *Reserve) CollateralExchangeRate(initialRatio uint64) (CollateralExchangeRate, error) {
	total, err := r.Liquidity.TotalSupply()
	if err != nil {
		return CollateralExchangeRate{}, err
	}
	if r.Collateral.MintTotalSupply == 0 || total.IsZero() {
		return CollateralExchangeRate{rate: NewDecimal(initialRatio)}, nil
	}
	rate, err := NewDecimal(r.Collateral.MintTotalSupply).Div(total)
	if err != nil {
		return CollateralExchangeRate{}, err
	}
	return CollateralExchangeRate{rate: rate}, nil
}

// AccrueInterest compounds the borrow index over the heights elapsed since
// the last update and skims the protocol's take of the new interest. A zero
// delta is a no-op.
func (r *Reserve) AccrueInterest(currentSlot uint64, slotsPerYear uint64) error {
	slotsElapsed, err := r.LastUpdate.SlotsElapsed(currentSlot)
	if err != nil {
		return err
	}
	if slotsElapsed == 0 {
		return nil
	}
	borrowRate, err := r.CurrentBorrowRate()
	if err != nil {
		return err
	}
	factor, err := compoundedInterestFactor(borrowRate, slotsElapsed, slotsPerYear)
	if err != nil {
		return err
	}

	cumulative, err := r.Liquidity.CumulativeBorrowRateWads.Mul(factor)
	if err != nil {
		return err
	}
	newBorrowed, err := r.Liquidity.BorrowedAmountWads.Mul(factor)
	if err != nil {
		return err
	}
	netNewDebt, err := newBorrowed.Sub(r.Liquidity.BorrowedAmountWads)
	if err != nil {
		return err
	}
	take, err := netNewDebt.Mul(DecimalFromPercent(r.Config.ProtocolTakeRate))
	if err != nil {
		return err
	}
	fees, err := r.Liquidity.AccumulatedProtocolFeesWads.Add(take)
	if err != nil {
		return err
	}

	r.Liquidity.CumulativeBorrowRateWads = cumulative
	r.Liquidity.BorrowedAmountWads = newBorrowed
	r.Liquidity.AccumulatedProtocolFeesWads = fees
	return nil
}

// DepositLiquidity adds liquidity and mints collateral shares at the current
// exchange rate. Returns the share amount minted.
func (r *Reserve) DepositLiquidity(amount uint64, initialRatio uint64) (uint64, error) {
	total, err := r.Liquidity.TotalSupply()
	if err != nil {
		return 0, err
	}
	newTotal, err := total.Add(NewDecimal(amount))
	if err != nil {
		return 0, err
	}
	if newTotal.Cmp(NewDecimal(r.Config.DepositLimit)) > 0 {
		return 0, ErrDepositLimitExceeded
	}

	exchangeRate, err := r.CollateralExchangeRate(initialRatio)
	if err != nil {
		return 0, err
	}
	collateralAmount, err := exchangeRate.LiquidityToCollateral(amount)
	if err != nil {
		return 0, err
	}
	if err := r.Liquidity.Deposit(amount); err != nil {
		return 0, err
	}
	if err := r.Collateral.MintShares(collateralAmount); err != nil {
		return 0, err
	}
	return collateralAmount, nil
}

// RedeemCollateral burns collateral shares and releases the matching
// liquidity, floored so the pool never over-pays. Returns the liquidity
// released.
func (r *Reserve) RedeemCollateral(collateralAmount uint64, initialRatio uint64) (uint64, error) {
	exchangeRate, err := r.CollateralExchangeRate(initialRatio)
	if err != nil {
		return 0, err
	}
	liquidityAmount, err := exchangeRate.CollateralToLiquidity(collateralAmount)
	if err != nil {
		return 0, err
	}
	if err := r.Collateral.Burn(collateralAmount); err != nil {
		return 0, err
	}
	if err := r.Liquidity.Withdraw(liquidityAmount); err != nil {
		return 0, err
	}
	return liquidityAmount, nil
}

// BorrowResult carries the resolved amounts for a borrow operation.
type BorrowResult struct {
	// BorrowAmount is the fee-inclusive debt added to the pool and the
	// obligation, at full precision.
	BorrowAmount Decimal
	// ReceiveAmount is what the borrower is handed.
	ReceiveAmount uint64
	// BorrowFee is the total origination fee, host portion included.
	BorrowFee uint64
	// HostFee is the portion of BorrowFee owed to the host integrator.
	HostFee uint64
}

// CalculateBorrow resolves a borrow request against the obligation's
// remaining borrow value in quote currency. A max request converts the
// remaining value into token units at the upper-bound price, de-weighted and
// fee-adjusted downward so the post-fee debt still fits.
func (r *Reserve) CalculateBorrow(amount Amount, maxBorrowValue Decimal) (BorrowResult, error) {
	if amount.IsMax() {
		weight, err := r.Config.BorrowWeight()
		if err != nil {
			return BorrowResult{}, err
		}
		unweightedValue, err := maxBorrowValue.Div(weight)
		if err != nil {
			return BorrowResult{}, err
		}
		price := r.Liquidity.MarketPrice.Max(r.Liquidity.SmoothedMarketPrice)
		scaled, err := unweightedValue.MulUint(tokenScale(r.Liquidity.MintDecimals))
		if err != nil {
			return BorrowResult{}, err
		}
		borrowAmount, err := scaled.Div(price)
		if err != nil {
			return BorrowResult{}, err
		}
		borrowAmount = borrowAmount.Min(NewDecimal(r.Liquidity.AvailableAmount))
		borrowFee, hostFee, err := r.Config.Fees.CalculateBorrowFees(borrowAmount, FeeInclusive)
		if err != nil {
			return BorrowResult{}, err
		}
		principal, err := borrowAmount.FloorU64()
		if err != nil {
			return BorrowResult{}, err
		}
		if principal < borrowFee {
			return BorrowResult{}, ErrBorrowTooSmall
		}
		return BorrowResult{
			BorrowAmount:  borrowAmount,
			ReceiveAmount: principal - borrowFee,
			BorrowFee:     borrowFee,
			HostFee:       hostFee,
		}, nil
	}

	receiveAmount := amount.Value()
	borrowFee, hostFee, err := r.Config.Fees.CalculateBorrowFees(NewDecimal(receiveAmount), FeeExclusive)
	if err != nil {
		return BorrowResult{}, err
	}
	owed := receiveAmount + borrowFee
	if owed < receiveAmount {
		return BorrowResult{}, ErrMathOverflow
	}
	return BorrowResult{
		BorrowAmount:  NewDecimal(owed),
		ReceiveAmount: receiveAmount,
		BorrowFee:     borrowFee,
		HostFee:       hostFee,
	}, nil
}

// CalculateRepay resolves a repay request against the obligation's
// outstanding debt. The settle amount is decimal-precise; the token amount is
// its ceiling so a full repay always clears the debt.
func (r *Reserve) CalculateRepay(amount Amount, borrowedAmount Decimal) (Decimal, uint64, error) {
	var settleAmount Decimal
	if amount.IsMax() {
		settleAmount = borrowedAmount
	} else {
		settleAmount = NewDecimal(amount.Value()).Min(borrowedAmount)
	}
	repayAmount, err := settleAmount.CeilU64()
	if err != nil {
		return Decimal{}, 0, err
	}
	return settleAmount, repayAmount, nil
}

// CalculateRedeemFees returns the protocol fee amount currently claimable,
// capped to on-hand liquidity.
func (r *Reserve) CalculateRedeemFees() (uint64, error) {
	fees, err := r.Liquidity.AccumulatedProtocolFeesWads.FloorU64()
	if err != nil {
		return 0, err
	}
	if fees > r.Liquidity.AvailableAmount {
		fees = r.Liquidity.AvailableAmount
	}
	return fees, nil
}

// MarketValue prices a liquidity amount in quote currency at spot.
func (r *Reserve) MarketValue(liquidityAmount Decimal) (Decimal, error) {
	return r.marketValueAt(liquidityAmount, r.Liquidity.MarketPrice)
}

// MarketValueLowerBound prices at the lower of spot and EMA, used when
// granting borrow power.
func (r *Reserve) MarketValueLowerBound(liquidityAmount Decimal) (Decimal, error) {
	return r.marketValueAt(liquidityAmount, r.Liquidity.MarketPrice.Min(r.Liquidity.SmoothedMarketPrice))
}

// MarketValueUpperBound prices at the higher of spot and EMA, used when
// valuing debt for solvency checks.
func (r *Reserve) MarketValueUpperBound(liquidityAmount Decimal) (Decimal, error) {
	return r.marketValueAt(liquidityAmount, r.Liquidity.MarketPrice.Max(r.Liquidity.SmoothedMarketPrice))
}

func (r *Reserve) marketValueAt(liquidityAmount Decimal, price Decimal) (Decimal, error) {
	value, err := liquidityAmount.Mul(price)
	if err != nil {
		return Decimal{}, err
	}
	return value.DivUint(tokenScale(r.Liquidity.MintDecimals))
}

func tokenScale(decimals uint8) uint64 {
	scale := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		scale *= 10
	}
	return scale
}

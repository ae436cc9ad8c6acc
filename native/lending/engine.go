package lending

import (
	"strings"

	nativecommon "lendex/native/common"
)

const moduleName = "lending"

// engineState is the persistence surface the engine needs. Implementations
// return a nil value (without error) when the requested record does not
// exist.
type engineState interface {
	GetMarket(marketID string) (*LendingMarket, error)
	PutMarket(marketID string, market *LendingMarket) error
	GetReserve(marketID, reserveID string) (*Reserve, error)
	PutReserve(marketID, reserveID string, reserve *Reserve) error
	GetObligation(marketID, obligationID string) (*Obligation, error)
	PutObligation(marketID, obligationID string, obligation *Obligation) error
}

// TokenMover executes the token movements the engine decides on. Vaults,
// accounts and mints are opaque references; the mover enforces balances and
// fails the whole operation when a movement cannot be made.
type TokenMover interface {
	Transfer(mint, from, to string, amount uint64) error
	MintTo(mint, to string, amount uint64) error
	Burn(mint, from string, amount uint64) error
}

// PriceSource supplies the spot and EMA prices for a reserve's underlying
// token, quote currency per whole token, wad scaled.
type PriceSource interface {
	Price(oracleRef string) (spot Decimal, ema Decimal, err error)
}

type flashSession struct {
	borrower  string
	principal uint64
	fee       uint64
	hostFee   uint64
}

// Engine orchestrates the state transitions of the lending module. All
// operations are height-gated: callers advance the height with
// SetBlockHeight and refresh state before value-sensitive calls.
type Engine struct {
	state       engineState
	tokens      TokenMover
	prices      PriceSource
	params      Params
	marketID    string
	blockHeight uint64
	pauses      nativecommon.PauseView
	flash       map[string]*flashSession
}

// NewEngine constructs an engine with the given protocol parameters.
func NewEngine(params Params) *Engine {
	return &Engine{
		params: params,
		flash:  map[string]*flashSession{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenMover wires the engine to the token transfer executor.
func (e *Engine) SetTokenMover(tokens TokenMover) {
	if e == nil {
		return
	}
	e.tokens = tokens
}

// SetPriceSource wires the engine to the oracle adapter used on refresh.
func (e *Engine) SetPriceSource(prices PriceSource) {
	if e == nil {
		return
	}
	e.prices = prices
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetBlockHeight records the height used for accrual deltas and staleness
// checks.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

// SetMarketID assigns the lending market that subsequent operations will
// operate against.
func (e *Engine) SetMarketID(marketID string) {
	if e == nil {
		return
	}
	e.marketID = strings.TrimSpace(marketID)
}

// MarketID returns the currently configured market identifier.
func (e *Engine) MarketID() string {
	if e == nil {
		return ""
	}
	return e.marketID
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.tokens == nil {
		return ErrNilTokens
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) loadMarket() (*LendingMarket, error) {
	market, err := e.state.GetMarket(e.marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	return market, nil
}

func (e *Engine) loadReserve(reserveID string, slack uint64) (*Reserve, error) {
	reserve, err := e.state.GetReserve(e.marketID, reserveID)
	if err != nil {
		return nil, err
	}
	if reserve == nil {
		return nil, ErrReserveNotFound
	}
	if reserve.LendingMarket != e.marketID {
		return nil, ErrMarketMismatch
	}
	if reserve.LastUpdate.IsStale(e.blockHeight, slack) {
		return nil, ErrReserveStale
	}
	return reserve, nil
}

func (e *Engine) loadObligation(obligationID string, requireFresh bool) (*Obligation, error) {
	obligation, err := e.state.GetObligation(e.marketID, obligationID)
	if err != nil {
		return nil, err
	}
	if obligation == nil {
		return nil, ErrObligationNotFound
	}
	if obligation.LendingMarket != e.marketID {
		return nil, ErrMarketMismatch
	}
	if requireFresh && obligation.LastUpdate.IsStale(e.blockHeight, 0) {
		return nil, ErrObligationStale
	}
	return obligation, nil
}

// InitMarket creates the lending market the engine is pointed at.
func (e *Engine) InitMarket(owner, quoteCurrency string, limiter RateLimiterConfig) error {
	if err := e.ready(); err != nil {
		return err
	}
	if owner == "" || quoteCurrency == "" {
		return ErrInvalidConfig
	}
	market := NewLendingMarket(owner, quoteCurrency, limiter, e.blockHeight)
	return e.state.PutMarket(e.marketID, market)
}

// InitReserve creates a reserve for a new asset in the market. Only the
// market owner may add reserves. The reserve starts empty and stale.
func (e *Engine) InitReserve(caller, reserveID string, p InitReserveParams) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := p.Config.Validate(); err != nil {
		return err
	}
	market, err := e.loadMarket()
	if err != nil {
		return err
	}
	if caller != market.Owner {
		return ErrUnauthorized
	}
	if e.prices == nil {
		return ErrNilPrices
	}
	spot, ema, err := e.prices.Price(p.LiquidityOracle)
	if err != nil {
		return err
	}
	p.CurrentSlot = e.blockHeight
	p.LendingMarket = e.marketID
	p.MarketPrice = spot
	p.SmoothedMarketPrice = ema
	return e.state.PutReserve(e.marketID, reserveID, NewReserve(p))
}

// RefreshReserve accrues interest to the current height, pulls fresh oracle
// prices and clears the staleness flag.
func (e *Engine) RefreshReserve(reserveID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.prices == nil {
		return ErrNilPrices
	}
	reserve, err := e.state.GetReserve(e.marketID, reserveID)
	if err != nil {
		return err
	}
	if reserve == nil {
		return ErrReserveNotFound
	}
	spot, ema, err := e.prices.Price(reserve.Liquidity.OracleRef)
	if err != nil {
		return err
	}
	if err := reserve.AccrueInterest(e.blockHeight, e.params.SlotsPerYear); err != nil {
		return err
	}
	reserve.Liquidity.MarketPrice = spot
	reserve.Liquidity.SmoothedMarketPrice = ema
	reserve.LastUpdate.Update(e.blockHeight)
	return e.state.PutReserve(e.marketID, reserveID, reserve)
}

// DepositReserveLiquidity deposits liquidity into a reserve and mints
// collateral shares to the depositor. Returns the share amount minted.
func (e *Engine) DepositReserveLiquidity(depositor, reserveID string, amount uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(reserveID, 0)
	if err != nil {
		return 0, err
	}
	collateralAmount, err := reserve.DepositLiquidity(amount, e.params.InitialCollateralRatio)
	if err != nil {
		return 0, err
	}
	if err := e.tokens.Transfer(reserve.Liquidity.Mint, depositor, reserve.Liquidity.Supply, amount); err != nil {
		return 0, err
	}
	if err := e.tokens.MintTo(reserve.Collateral.Mint, depositor, collateralAmount); err != nil {
		return 0, err
	}
	reserve.LastUpdate.MarkStale()
	if err := e.state.PutReserve(e.marketID, reserveID, reserve); err != nil {
		return 0, err
	}
	return collateralAmount, nil
}

// RedeemReserveCollateral burns collateral shares and pays out the matching
// liquidity. Outflow is charged against both the reserve and market rate
// limiters. Returns the liquidity released.
func (e *Engine) RedeemReserveCollateral(redeemer, reserveID string, collateralAmount uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if collateralAmount == 0 {
		return 0, ErrInvalidAmount
	}
	market, err := e.loadMarket()
	if err != nil {
		return 0, err
	}
	reserve, err := e.loadReserve(reserveID, 0)
	if err != nil {
		return 0, err
	}
	liquidityAmount, err := reserve.RedeemCollateral(collateralAmount, e.params.InitialCollateralRatio)
	if err != nil {
		return 0, err
	}
	outflowValue, err := reserve.MarketValue(NewDecimal(liquidityAmount))
	if err != nil {
		return 0, err
	}
	if err := market.RateLimiter.Update(e.blockHeight, outflowValue); err != nil {
		return 0, err
	}
	if err := reserve.RateLimiter.Update(e.blockHeight, NewDecimal(liquidityAmount)); err != nil {
		return 0, err
	}
	if err := e.tokens.Burn(reserve.Collateral.Mint, redeemer, collateralAmount); err != nil {
		return 0, err
	}
	if err := e.tokens.Transfer(reserve.Liquidity.Mint, reserve.Liquidity.Supply, redeemer, liquidityAmount); err != nil {
		return 0, err
	}
	reserve.LastUpdate.MarkStale()
	if err := e.state.PutReserve(e.marketID, reserveID, reserve); err != nil {
		return 0, err
	}
	if err := e.state.PutMarket(e.marketID, market); err != nil {
		return 0, err
	}
	return liquidityAmount, nil
}

// InitObligation creates an empty obligation for owner.
func (e *Engine) InitObligation(owner, obligationID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.loadMarket(); err != nil {
		return err
	}
	return e.state.PutObligation(e.marketID, obligationID, NewObligation(e.marketID, owner))
}

// RefreshObligation re-prices every position and recomputes the cached
// solvency values. Positions are processed in the order they were added so
// the same inputs always reproduce the same cached state. Every referenced
// reserve must be fresh within the configured slack.
func (e *Engine) RefreshObligation(obligationID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	obligation, err := e.loadObligation(obligationID, false)
	if err != nil {
		return err
	}

	depositedValue := ZeroDecimal()
	allowedBorrowValue := ZeroDecimal()
	unhealthyBorrowValue := ZeroDecimal()
	superUnhealthyBorrowValue := ZeroDecimal()
	for i := range obligation.Deposits {
		deposit := &obligation.Deposits[i]
		reserve, err := e.loadReserve(deposit.DepositReserve, e.params.StaleSlack)
		if err != nil {
			return err
		}
		exchangeRate, err := reserve.CollateralExchangeRate(e.params.InitialCollateralRatio)
		if err != nil {
			return err
		}
		liquidityAmount, err := exchangeRate.DecimalCollateralToLiquidity(NewDecimal(deposit.DepositedAmount))
		if err != nil {
			return err
		}
		marketValue, err := reserve.MarketValue(liquidityAmount)
		if err != nil {
			return err
		}
		lowerBoundValue, err := reserve.MarketValueLowerBound(liquidityAmount)
		if err != nil {
			return err
		}
		deposit.MarketValue = marketValue

		if depositedValue, err = depositedValue.Add(marketValue); err != nil {
			return err
		}
		allowed, err := lowerBoundValue.Mul(DecimalFromPercent(reserve.Config.LoanToValueRatio))
		if err != nil {
			return err
		}
		if allowedBorrowValue, err = allowedBorrowValue.Add(allowed); err != nil {
			return err
		}
		unhealthy, err := marketValue.Mul(DecimalFromPercent(reserve.Config.LiquidationThreshold))
		if err != nil {
			return err
		}
		if unhealthyBorrowValue, err = unhealthyBorrowValue.Add(unhealthy); err != nil {
			return err
		}
		maxThreshold := reserve.Config.LiquidationThreshold
		if reserve.Config.superUnhealthyEnabled() {
			maxThreshold = reserve.Config.MaxLiquidationThreshold
		}
		superUnhealthy, err := marketValue.Mul(DecimalFromPercent(maxThreshold))
		if err != nil {
			return err
		}
		if superUnhealthyBorrowValue, err = superUnhealthyBorrowValue.Add(superUnhealthy); err != nil {
			return err
		}
	}

	borrowedValue := ZeroDecimal()
	borrowedValueUpperBound := ZeroDecimal()
	for i := range obligation.Borrows {
		borrow := &obligation.Borrows[i]
		reserve, err := e.loadReserve(borrow.BorrowReserve, e.params.StaleSlack)
		if err != nil {
			return err
		}
		if err := borrow.AccrueInterest(reserve.Liquidity.CumulativeBorrowRateWads); err != nil {
			return err
		}
		marketValue, err := reserve.MarketValue(borrow.BorrowedAmountWads)
		if err != nil {
			return err
		}
		upperBoundValue, err := reserve.MarketValueUpperBound(borrow.BorrowedAmountWads)
		if err != nil {
			return err
		}
		borrow.MarketValue = marketValue

		weight, err := reserve.Config.BorrowWeight()
		if err != nil {
			return err
		}
		weighted, err := marketValue.Mul(weight)
		if err != nil {
			return err
		}
		if borrowedValue, err = borrowedValue.Add(weighted); err != nil {
			return err
		}
		weightedUpper, err := upperBoundValue.Mul(weight)
		if err != nil {
			return err
		}
		if borrowedValueUpperBound, err = borrowedValueUpperBound.Add(weightedUpper); err != nil {
			return err
		}
	}

	obligation.DepositedValue = depositedValue
	obligation.BorrowedValue = borrowedValue
	obligation.BorrowedValueUpperBound = borrowedValueUpperBound
	obligation.AllowedBorrowValue = allowedBorrowValue
	obligation.UnhealthyBorrowValue = unhealthyBorrowValue
	obligation.SuperUnhealthyBorrowValue = superUnhealthyBorrowValue
	obligation.LastUpdate.Update(e.blockHeight)
	return e.state.PutObligation(e.marketID, obligationID, obligation)
}

// DepositObligationCollateral pledges collateral shares to an obligation.
func (e *Engine) DepositObligationCollateral(owner, obligationID, reserveID string, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	reserve, err := e.loadReserve(reserveID, 0)
	if err != nil {
		return err
	}
	obligation, err := e.loadObligation(obligationID, false)
	if err != nil {
		return err
	}
	if obligation.Owner != owner {
		return ErrUnauthorized
	}
	collateral, err := obligation.FindOrAddCollateral(reserveID, e.params.MaxObligationReserves)
	if err != nil {
		return err
	}
	next := collateral.DepositedAmount + amount
	if next < collateral.DepositedAmount {
		return ErrMathOverflow
	}
	collateral.DepositedAmount = next
	if err := e.tokens.Transfer(reserve.Collateral.Mint, owner, reserve.Collateral.Supply, amount); err != nil {
		return err
	}
	obligation.LastUpdate.MarkStale()
	return e.state.PutObligation(e.marketID, obligationID, obligation)
}

// WithdrawObligationCollateral releases collateral shares from an obligation.
// An explicit amount fails with ErrWithdrawTooLarge when the remaining
// collateral could no longer cover the upper-bound debt; the max sentinel
// resolves to the largest withdrawal that keeps the obligation solvent.
// Returns the share amount withdrawn.
func (e *Engine) WithdrawObligationCollateral(owner, obligationID, reserveID string, amount Amount) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if !amount.IsMax() && amount.Value() == 0 {
		return 0, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(reserveID, 0)
	if err != nil {
		return 0, err
	}
	obligation, err := e.loadObligation(obligationID, true)
	if err != nil {
		return 0, err
	}
	if obligation.Owner != owner {
		return 0, ErrUnauthorized
	}
	collateral, index, err := obligation.FindCollateral(reserveID)
	if err != nil {
		return 0, err
	}
	if collateral.DepositedAmount == 0 {
		return 0, ErrObligationCollateralEmpty
	}

	withdrawAmount := collateral.DepositedAmount
	if !amount.IsMax() {
		withdrawAmount = amount.Value()
	}
	if withdrawAmount > collateral.DepositedAmount {
		return 0, ErrInvalidAmount
	}

	if len(obligation.Borrows) > 0 {
		maxWithdrawValue, err := obligation.MaxWithdrawValue(DecimalFromPercent(reserve.Config.LoanToValueRatio))
		if err != nil {
			return 0, err
		}
		if collateral.MarketValue.IsZero() {
			return 0, ErrWithdrawTooLarge
		}
		if amount.IsMax() {
			if maxWithdrawValue.Cmp(collateral.MarketValue) < 0 {
				pct, err := maxWithdrawValue.Div(collateral.MarketValue)
				if err != nil {
					return 0, err
				}
				capped, err := NewDecimal(collateral.DepositedAmount).Mul(pct)
				if err != nil {
					return 0, err
				}
				withdrawAmount, err = capped.FloorU64()
				if err != nil {
					return 0, err
				}
			}
			if withdrawAmount == 0 {
				return 0, ErrWithdrawTooLarge
			}
		} else {
			pct, err := NewDecimal(withdrawAmount).DivUint(collateral.DepositedAmount)
			if err != nil {
				return 0, err
			}
			withdrawValue, err := collateral.MarketValue.Mul(pct)
			if err != nil {
				return 0, err
			}
			if withdrawValue.Cmp(maxWithdrawValue) > 0 {
				return 0, ErrWithdrawTooLarge
			}
		}
	}

	if err := obligation.Withdraw(index, withdrawAmount); err != nil {
		return 0, err
	}
	if err := e.tokens.Transfer(reserve.Collateral.Mint, reserve.Collateral.Supply, owner, withdrawAmount); err != nil {
		return 0, err
	}
	obligation.LastUpdate.MarkStale()
	if err := e.state.PutObligation(e.marketID, obligationID, obligation); err != nil {
		return 0, err
	}
	return withdrawAmount, nil
}

// BorrowObligationLiquidity borrows against an obligation's collateral.
// hostFeeReceiver may be empty, in which case the host share stays with the
// protocol fee receiver. Returns the amount handed to the borrower.
func (e *Engine) BorrowObligationLiquidity(owner, obligationID, reserveID string, amount Amount, hostFeeReceiver string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if !amount.IsMax() && amount.Value() == 0 {
		return 0, ErrInvalidAmount
	}
	market, err := e.loadMarket()
	if err != nil {
		return 0, err
	}
	reserve, err := e.loadReserve(reserveID, 0)
	if err != nil {
		return 0, err
	}
	obligation, err := e.loadObligation(obligationID, true)
	if err != nil {
		return 0, err
	}
	if obligation.Owner != owner {
		return 0, ErrUnauthorized
	}
	if len(obligation.Deposits) == 0 {
		return 0, ErrObligationDepositsEmpty
	}

	remainingBorrowValue := obligation.RemainingBorrowValue()
	if remainingBorrowValue.IsZero() {
		return 0, ErrBorrowTooLarge
	}
	result, err := reserve.CalculateBorrow(amount, remainingBorrowValue)
	if err != nil {
		return 0, err
	}
	newBorrowed, err := reserve.Liquidity.BorrowedAmountWads.Add(result.BorrowAmount)
	if err != nil {
		return 0, err
	}
	if newBorrowed.Cmp(NewDecimal(reserve.Config.BorrowLimit)) > 0 {
		return 0, ErrBorrowLimitExceeded
	}
	if !amount.IsMax() {
		upperBoundValue, err := reserve.MarketValueUpperBound(result.BorrowAmount)
		if err != nil {
			return 0, err
		}
		weight, err := reserve.Config.BorrowWeight()
		if err != nil {
			return 0, err
		}
		borrowValue, err := upperBoundValue.Mul(weight)
		if err != nil {
			return 0, err
		}
		if borrowValue.Cmp(remainingBorrowValue) > 0 {
			return 0, ErrBorrowTooLarge
		}
	}

	outflowValue, err := reserve.MarketValue(result.BorrowAmount)
	if err != nil {
		return 0, err
	}
	if err := market.RateLimiter.Update(e.blockHeight, outflowValue); err != nil {
		return 0, err
	}
	if err := reserve.RateLimiter.Update(e.blockHeight, result.BorrowAmount); err != nil {
		return 0, err
	}

	if err := reserve.Liquidity.Borrow(result.BorrowAmount); err != nil {
		return 0, err
	}
	entry, err := obligation.FindOrAddLiquidity(reserveID, reserve.Liquidity.CumulativeBorrowRateWads, e.params.MaxObligationReserves)
	if err != nil {
		return 0, err
	}
	if err := entry.AccrueInterest(reserve.Liquidity.CumulativeBorrowRateWads); err != nil {
		return 0, err
	}
	if err := entry.Borrow(result.BorrowAmount); err != nil {
		return 0, err
	}

	protocolFee := result.BorrowFee - result.HostFee
	if hostFeeReceiver == "" {
		protocolFee = result.BorrowFee
	}
	if protocolFee > 0 {
		if err := e.tokens.Transfer(reserve.Liquidity.Mint, reserve.Liquidity.Supply, reserve.Config.FeeReceiver, protocolFee); err != nil {
			return 0, err
		}
	}
	if hostFeeReceiver != "" && result.HostFee > 0 {
		if err := e.tokens.Transfer(reserve.Liquidity.Mint, reserve.Liquidity.Supply, hostFeeReceiver, result.HostFee); err != nil {
			return 0, err
		}
	}
	if err := e.tokens.Transfer(reserve.Liquidity.Mint, reserve.Liquidity.Supply, owner, result.ReceiveAmount); err != nil {
		return 0, err
	}

	reserve.LastUpdate.MarkStale()
	obligation.LastUpdate.MarkStale()
	if err := e.state.PutReserve(e.marketID, reserveID, reserve); err != nil {
		return 0, err
	}
	if err := e.state.PutObligation(e.marketID, obligationID, obligation); err != nil {
		return 0, err
	}
	if err := e.state.PutMarket(e.marketID, market); err != nil {
		return 0, err
	}
	return result.ReceiveAmount, nil
}

// RepayObligationLiquidity settles debt on an obligation. Anyone may repay
// on behalf of the owner. Returns the token amount collected from the payer.
func (e *Engine) RepayObligationLiquidity(payer, obligationID, reserveID string, amount Amount) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if !amount.IsMax() && amount.Value() == 0 {
		return 0, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(reserveID, 0)
	if err != nil {
		return 0, err
	}
	obligation, err := e.loadObligation(obligationID, false)
	if err != nil {
		return 0, err
	}
	entry, index, err := obligation.FindLiquidity(reserveID)
	if err != nil {
		return 0, err
	}
	if entry.BorrowedAmountWads.IsZero() {
		return 0, ErrObligationLiquidityEmpty
	}
	if err := entry.AccrueInterest(reserve.Liquidity.CumulativeBorrowRateWads); err != nil {
		return 0, err
	}
	settleAmount, repayAmount, err := reserve.CalculateRepay(amount, entry.BorrowedAmountWads)
	if err != nil {
		return 0, err
	}
	if repayAmount == 0 {
		return 0, ErrInvalidAmount
	}
	if err := reserve.Liquidity.Repay(repayAmount, settleAmount); err != nil {
		return 0, err
	}
	if err := obligation.RepayLiquidity(index, settleAmount); err != nil {
		return 0, err
	}
	if err := e.tokens.Transfer(reserve.Liquidity.Mint, payer, reserve.Liquidity.Supply, repayAmount); err != nil {
		return 0, err
	}
	reserve.LastUpdate.MarkStale()
	obligation.LastUpdate.MarkStale()
	if err := e.state.PutReserve(e.marketID, reserveID, reserve); err != nil {
		return 0, err
	}
	if err := e.state.PutObligation(e.marketID, obligationID, obligation); err != nil {
		return 0, err
	}
	return repayAmount, nil
}

// LiquidateObligation repays debt on an unhealthy obligation in exchange for
// a bonus-priced share of its collateral. The obligation and both reserves
// must be fresh at the current height.
func (e *Engine) LiquidateObligation(liquidator, obligationID, repayReserveID, withdrawReserveID string, amount Amount) (LiquidationResult, error) {
	if err := e.ready(); err != nil {
		return LiquidationResult{}, err
	}
	if !amount.IsMax() && amount.Value() == 0 {
		return LiquidationResult{}, ErrInvalidAmount
	}
	repayReserve, err := e.loadReserve(repayReserveID, 0)
	if err != nil {
		return LiquidationResult{}, err
	}
	withdrawReserve, err := e.loadReserve(withdrawReserveID, 0)
	if err != nil {
		return LiquidationResult{}, err
	}
	obligation, err := e.loadObligation(obligationID, true)
	if err != nil {
		return LiquidationResult{}, err
	}
	if obligation.BorrowedValue.Cmp(obligation.UnhealthyBorrowValue) <= 0 {
		return LiquidationResult{}, ErrObligationHealthy
	}
	entry, liquidityIndex, err := obligation.FindLiquidity(repayReserveID)
	if err != nil {
		return LiquidationResult{}, err
	}
	collateral, collateralIndex, err := obligation.FindCollateral(withdrawReserveID)
	if err != nil {
		return LiquidationResult{}, err
	}

	severe, err := obligation.SeverelyUnhealthy(e.params)
	if err != nil {
		return LiquidationResult{}, err
	}
	bonus := withdrawReserve.Config.LiquidationBonusRate(severe)
	result, err := CalculateLiquidation(e.params, amount, obligation, entry, collateral, bonus)
	if err != nil {
		return LiquidationResult{}, err
	}

	if err := repayReserve.Liquidity.Repay(result.RepayAmount, result.SettleAmount); err != nil {
		return LiquidationResult{}, err
	}
	if err := obligation.RepayLiquidity(liquidityIndex, result.SettleAmount); err != nil {
		return LiquidationResult{}, err
	}
	if err := obligation.Withdraw(collateralIndex, result.WithdrawAmount); err != nil {
		return LiquidationResult{}, err
	}

	if err := e.tokens.Transfer(repayReserve.Liquidity.Mint, liquidator, repayReserve.Liquidity.Supply, result.RepayAmount); err != nil {
		return LiquidationResult{}, err
	}
	if err := e.tokens.Transfer(withdrawReserve.Collateral.Mint, withdrawReserve.Collateral.Supply, liquidator, result.WithdrawAmount); err != nil {
		return LiquidationResult{}, err
	}

	repayReserve.LastUpdate.MarkStale()
	withdrawReserve.LastUpdate.MarkStale()
	obligation.LastUpdate.MarkStale()
	if err := e.state.PutReserve(e.marketID, repayReserveID, repayReserve); err != nil {
		return LiquidationResult{}, err
	}
	if err := e.state.PutReserve(e.marketID, withdrawReserveID, withdrawReserve); err != nil {
		return LiquidationResult{}, err
	}
	if err := e.state.PutObligation(e.marketID, obligationID, obligation); err != nil {
		return LiquidationResult{}, err
	}
	return result, nil
}

// FlashBorrow lends amount uncollateralized for the duration of the current
// batch. The fee is fixed at borrow time; exactly one flash borrow may be
// outstanding per reserve. The reserve is persisted with the principal gone,
// so the host must run the whole batch against a transactional state and
// discard the writes when EndBatch fails.
func (e *Engine) FlashBorrow(borrower, reserveID string, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if _, ok := e.flash[reserveID]; ok {
		return ErrFlashBorrowOutstanding
	}
	reserve, err := e.state.GetReserve(e.marketID, reserveID)
	if err != nil {
		return err
	}
	if reserve == nil {
		return ErrReserveNotFound
	}
	fee, hostFee, err := reserve.Config.Fees.CalculateFlashLoanFees(NewDecimal(amount))
	if err != nil {
		return err
	}
	if err := reserve.Liquidity.Borrow(NewDecimal(amount)); err != nil {
		return err
	}
	if err := e.tokens.Transfer(reserve.Liquidity.Mint, reserve.Liquidity.Supply, borrower, amount); err != nil {
		return err
	}
	e.flash[reserveID] = &flashSession{
		borrower:  borrower,
		principal: amount,
		fee:       fee,
		hostFee:   hostFee,
	}
	reserve.LastUpdate.MarkStale()
	return e.state.PutReserve(e.marketID, reserveID, reserve)
}

// FlashRepay returns a flash-borrowed principal plus its fee within the same
// batch. amount must cover principal plus fee; direct reports whether the
// call arrived as a top-level operation rather than nested inside another.
func (e *Engine) FlashRepay(borrower, reserveID string, amount uint64, direct bool, hostFeeReceiver string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !direct {
		return ErrFlashRepayIndirect
	}
	session, ok := e.flash[reserveID]
	if !ok || session.borrower != borrower {
		return ErrFlashRepayMismatch
	}
	owed := session.principal + session.fee
	if owed < session.principal {
		return ErrMathOverflow
	}
	if amount < owed {
		return ErrFlashRepayInsufficient
	}
	reserve, err := e.state.GetReserve(e.marketID, reserveID)
	if err != nil {
		return err
	}
	if reserve == nil {
		return ErrReserveNotFound
	}
	if err := e.tokens.Transfer(reserve.Liquidity.Mint, borrower, reserve.Liquidity.Supply, session.principal); err != nil {
		return err
	}
	protocolFee := session.fee - session.hostFee
	if hostFeeReceiver == "" {
		protocolFee = session.fee
	}
	if protocolFee > 0 {
		if err := e.tokens.Transfer(reserve.Liquidity.Mint, borrower, reserve.Config.FeeReceiver, protocolFee); err != nil {
			return err
		}
	}
	if hostFeeReceiver != "" && session.hostFee > 0 {
		if err := e.tokens.Transfer(reserve.Liquidity.Mint, borrower, hostFeeReceiver, session.hostFee); err != nil {
			return err
		}
	}
	if err := reserve.Liquidity.Repay(session.principal, NewDecimal(session.principal)); err != nil {
		return err
	}
	delete(e.flash, reserveID)
	reserve.LastUpdate.MarkStale()
	return e.state.PutReserve(e.marketID, reserveID, reserve)
}

// EndBatch closes the current execution batch. An unrepaid flash borrow
// fails the batch; the host must then discard the batch's state writes, since
// the borrow already persisted the reserve without its principal.
func (e *Engine) EndBatch() error {
	if e == nil {
		return ErrNilState
	}
	if len(e.flash) > 0 {
		e.flash = map[string]*flashSession{}
		return ErrFlashRepayMissing
	}
	return nil
}

// UpdateReserveConfig replaces a reserve's risk parameters. Only the market
// owner may call it. The reserve rate limiter restarts with the new config.
func (e *Engine) UpdateReserveConfig(caller, reserveID string, config ReserveConfig) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}
	market, err := e.loadMarket()
	if err != nil {
		return err
	}
	if caller != market.Owner {
		return ErrUnauthorized
	}
	reserve, err := e.state.GetReserve(e.marketID, reserveID)
	if err != nil {
		return err
	}
	if reserve == nil {
		return ErrReserveNotFound
	}
	reserve.Config = config
	reserve.RateLimiter = NewRateLimiter(config.RateLimiter, e.blockHeight)
	reserve.LastUpdate.MarkStale()
	return e.state.PutReserve(e.marketID, reserveID, reserve)
}

// RedeemFees pays the accumulated protocol fee balance out to the reserve's
// fee receiver. Callable by anyone. Returns the amount paid out.
func (e *Engine) RedeemFees(reserveID string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	reserve, err := e.loadReserve(reserveID, 0)
	if err != nil {
		return 0, err
	}
	feeAmount, err := reserve.CalculateRedeemFees()
	if err != nil {
		return 0, err
	}
	if feeAmount == 0 {
		return 0, ErrNoFeesToRedeem
	}
	if err := reserve.Liquidity.RedeemFees(feeAmount); err != nil {
		return 0, err
	}
	if err := e.tokens.Transfer(reserve.Liquidity.Mint, reserve.Liquidity.Supply, reserve.Config.FeeReceiver, feeAmount); err != nil {
		return 0, err
	}
	reserve.LastUpdate.MarkStale()
	if err := e.state.PutReserve(e.marketID, reserveID, reserve); err != nil {
		return 0, err
	}
	return feeAmount, nil
}

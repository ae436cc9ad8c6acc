package lending

import "errors"

// Arithmetic errors. These are always fatal for the operation that produced
// them and indicate either hostile input or a configuration bug.
var (
	ErrMathOverflow = errors.New("lending: math overflow")
	ErrDivideByZero = errors.New("lending: division by zero")
)

// Input validation errors. Rejected before any state change.
var (
	ErrInvalidAmount = errors.New("lending: amount must be positive")
	ErrInvalidConfig = errors.New("lending: invalid reserve config")
	ErrUnauthorized  = errors.New("lending: caller is not the market owner")
)

// State errors. The caller must refresh or correct its references and retry.
var (
	ErrReserveStale                = errors.New("lending: reserve state is stale")
	ErrObligationStale             = errors.New("lending: obligation state is stale")
	ErrMarketMismatch              = errors.New("lending: reserve belongs to a different market")
	ErrObligationReserveLimit      = errors.New("lending: obligation reserve limit reached")
	ErrInvalidObligationCollateral = errors.New("lending: collateral reserve not found in obligation")
	ErrInvalidObligationLiquidity  = errors.New("lending: borrow reserve not found in obligation")
	ErrObligationDepositsEmpty     = errors.New("lending: obligation has no deposits")
	ErrObligationBorrowsEmpty      = errors.New("lending: obligation has no borrows")
	ErrObligationCollateralEmpty   = errors.New("lending: obligation collateral is empty")
	ErrObligationLiquidityEmpty    = errors.New("lending: obligation borrow is empty")
	ErrNegativeInterestRate        = errors.New("lending: cumulative borrow rate regressed")
	ErrMarketNotFound              = errors.New("lending: market not found")
	ErrReserveNotFound             = errors.New("lending: reserve not found")
	ErrObligationNotFound          = errors.New("lending: obligation not found")
)

// Economic constraint errors. Expected and frequent; the operation aborts
// without any partial state change.
var (
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	ErrDepositLimitExceeded  = errors.New("lending: deposit limit exceeded")
	ErrBorrowLimitExceeded   = errors.New("lending: borrow limit exceeded")
	ErrOutflowRateLimit      = errors.New("lending: outflow rate limit exceeded")
	ErrWithdrawTooLarge      = errors.New("lending: withdraw would leave obligation undercollateralized")
	ErrBorrowTooLarge        = errors.New("lending: borrow exceeds allowed borrow value")
	ErrBorrowTooSmall        = errors.New("lending: borrow amount too small to cover fees")
	ErrObligationHealthy     = errors.New("lending: obligation is healthy and cannot be liquidated")
	ErrLiquidationTooSmall   = errors.New("lending: liquidation amount rounds to zero")
	ErrNoFeesToRedeem        = errors.New("lending: no protocol fees available to redeem")
)

// Flash loan errors.
var (
	ErrFlashBorrowOutstanding = errors.New("lending: flash borrow already outstanding for reserve")
	ErrFlashRepayMismatch     = errors.New("lending: flash repay does not match outstanding borrow")
	ErrFlashRepayInsufficient = errors.New("lending: flash repay below principal plus fee")
	ErrFlashRepayIndirect     = errors.New("lending: flash repay must be a direct call")
	ErrFlashRepayMissing      = errors.New("lending: flash borrow was not repaid in batch")
)

// Collaborator wiring errors.
var (
	ErrNilState  = errors.New("lending engine: state not configured")
	ErrNilTokens = errors.New("lending engine: token mover not configured")
	ErrNilPrices = errors.New("lending engine: price source not configured")
)

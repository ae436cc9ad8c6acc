package lending

// Params groups the protocol-wide constants. They are threaded explicitly
// into the engine rather than living as package globals so tests and
// alternative deployments can vary them.
type Params struct {
	// SlotsPerYear converts annual borrow rates into per-height compounding
	// steps. The default assumes two heights per second.
	SlotsPerYear uint64
	// StaleSlack is the height slack tolerated when an obligation refresh
	// checks its referenced reserves. Strict operations always use zero.
	StaleSlack uint64
	// MaxObligationReserves bounds the combined number of distinct deposit
	// and borrow reserves a single obligation may reference.
	MaxObligationReserves int
	// CloseFactorBps is the share of an unhealthy obligation's debt a single
	// liquidation call may settle when the position is only mildly unhealthy.
	CloseFactorBps uint64
	// FullCloseMarginBps, when non-zero, makes the entire debt closeable once
	// the borrowed value exceeds the unhealthy threshold by this margin. Zero
	// leaves full closes to the per-reserve super-unhealthy tier.
	FullCloseMarginBps uint64
	// InitialCollateralRatio is the collateral shares minted per liquidity
	// token when a reserve bootstraps with zero collateral supply.
	InitialCollateralRatio uint64
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		SlotsPerYear:           63_072_000,
		StaleSlack:             1,
		MaxObligationReserves:  10,
		CloseFactorBps:         2_000,
		FullCloseMarginBps:     0,
		InitialCollateralRatio: 1,
	}
}

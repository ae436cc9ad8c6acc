package lending

// FeeCalculation selects whether the fee is assessed on top of the requested
// amount or carved out of it.
type FeeCalculation int

const (
	// FeeExclusive adds the fee on top of the borrowed amount.
	FeeExclusive FeeCalculation = iota
	// FeeInclusive carves the fee out of an amount that already includes it,
	// used when resolving a max-sentinel borrow against remaining borrow
	// power.
	FeeInclusive
)

// ReserveFees configures the origination and flash-loan fees of one reserve.
type ReserveFees struct {
	// BorrowFeeWad is the origination fee as a wad-scaled fraction of the
	// borrowed amount, e.g. 1% is 10_000_000_000_000_000.
	BorrowFeeWad uint64
	// FlashLoanFeeWad is the flash loan fee as a wad-scaled fraction.
	FlashLoanFeeWad uint64
	// HostFeePercentage is the share of each fee routed to an optional host
	// integrator, as a whole percentage of the fee.
	HostFeePercentage uint8
}

// CalculateBorrowFees splits the origination fee for a borrow into the total
// fee and the host portion. A non-zero fee rate on a non-zero amount always
// charges at least one token unit (two when a host share must be assessed),
// and a fee that would consume the whole amount is rejected.
func (f ReserveFees) CalculateBorrowFees(amount Decimal, calc FeeCalculation) (uint64, uint64, error) {
	return f.calculateFees(amount, f.BorrowFeeWad, calc)
}

// CalculateFlashLoanFees computes the fee owed on a flash borrow principal.
func (f ReserveFees) CalculateFlashLoanFees(amount Decimal) (uint64, uint64, error) {
	return f.calculateFees(amount, f.FlashLoanFeeWad, FeeExclusive)
}

func (f ReserveFees) calculateFees(amount Decimal, feeWad uint64, calc FeeCalculation) (uint64, uint64, error) {
	feeRate := DecimalFromWad(feeWad)
	if feeRate.IsZero() || amount.IsZero() {
		return 0, 0, nil
	}

	hostFeeRate := DecimalFromPercent(f.HostFeePercentage)
	minimumFee := uint64(1)
	if !hostFeeRate.IsZero() {
		// Both receivers must end up with at least one unit.
		minimumFee = 2
	}

	var feeAmount Decimal
	var err error
	switch calc {
	case FeeInclusive:
		denom, derr := feeRate.Add(OneDecimal())
		if derr != nil {
			return 0, 0, derr
		}
		inclusiveRate, derr := feeRate.Div(denom)
		if derr != nil {
			return 0, 0, derr
		}
		feeAmount, err = amount.Mul(inclusiveRate)
	default:
		feeAmount, err = amount.Mul(feeRate)
	}
	if err != nil {
		return 0, 0, err
	}

	feeAmount = feeAmount.Max(NewDecimal(minimumFee))
	if feeAmount.Cmp(amount) >= 0 {
		return 0, 0, ErrBorrowTooSmall
	}
	fee, err := feeAmount.RoundU64()
	if err != nil {
		return 0, 0, err
	}

	var hostFee uint64
	if !hostFeeRate.IsZero() {
		hostPortion, err := feeAmount.Mul(hostFeeRate)
		if err != nil {
			return 0, 0, err
		}
		hostFee, err = hostPortion.RoundU64()
		if err != nil {
			return 0, 0, err
		}
		if hostFee == 0 {
			hostFee = 1
		}
	}
	return fee, hostFee, nil
}

package lending

import (
	"testing"
)

func TestObligationFindOrAddMergesPositions(t *testing.T) {
	obligation := NewObligation("main", "alice")

	first, err := obligation.FindOrAddCollateral("res-a", 3)
	if err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	first.DepositedAmount = 10
	again, err := obligation.FindOrAddCollateral("res-a", 3)
	if err != nil {
		t.Fatalf("find collateral: %v", err)
	}
	if again.DepositedAmount != 10 || len(obligation.Deposits) != 1 {
		t.Fatalf("repeated reserve was not merged: %+v", obligation.Deposits)
	}

	if _, err := obligation.FindOrAddLiquidity("res-b", OneDecimal(), 3); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	if _, err := obligation.FindOrAddLiquidity("res-c", OneDecimal(), 3); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	if _, err := obligation.FindOrAddLiquidity("res-d", OneDecimal(), 3); err != ErrObligationReserveLimit {
		t.Fatalf("over reserve limit: got %v", err)
	}
}

func TestObligationFindErrors(t *testing.T) {
	obligation := NewObligation("main", "alice")
	if _, _, err := obligation.FindCollateral("res-a"); err != ErrObligationDepositsEmpty {
		t.Fatalf("empty deposits: got %v", err)
	}
	if _, _, err := obligation.FindLiquidity("res-a"); err != ErrObligationBorrowsEmpty {
		t.Fatalf("empty borrows: got %v", err)
	}

	if _, err := obligation.FindOrAddCollateral("res-a", 10); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, err := obligation.FindCollateral("res-b"); err != ErrInvalidObligationCollateral {
		t.Fatalf("wrong reserve: got %v", err)
	}
}

func TestObligationWithdrawRemovesEmptyPosition(t *testing.T) {
	obligation := NewObligation("main", "alice")
	collateral, err := obligation.FindOrAddCollateral("res-a", 10)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	collateral.DepositedAmount = 100

	if err := obligation.Withdraw(0, 40); err != nil {
		t.Fatalf("partial withdraw: %v", err)
	}
	if obligation.Deposits[0].DepositedAmount != 60 {
		t.Fatalf("remaining = %d", obligation.Deposits[0].DepositedAmount)
	}
	if err := obligation.Withdraw(0, 60); err != nil {
		t.Fatalf("full withdraw: %v", err)
	}
	if len(obligation.Deposits) != 0 {
		t.Fatalf("empty position not removed: %+v", obligation.Deposits)
	}
}

func TestObligationRepayRemovesClearedPosition(t *testing.T) {
	obligation := NewObligation("main", "alice")
	entry, err := obligation.FindOrAddLiquidity("res-a", OneDecimal(), 10)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := entry.Borrow(NewDecimal(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := obligation.RepayLiquidity(0, NewDecimal(30)); err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	if obligation.Borrows[0].BorrowedAmountWads.Cmp(NewDecimal(70)) != 0 {
		t.Fatalf("remaining debt = %s", obligation.Borrows[0].BorrowedAmountWads)
	}
	if err := obligation.RepayLiquidity(0, NewDecimal(70)); err != nil {
		t.Fatalf("full repay: %v", err)
	}
	if len(obligation.Borrows) != 0 {
		t.Fatalf("cleared position not removed: %+v", obligation.Borrows)
	}
}

func TestObligationLiquidityAccrueInterest(t *testing.T) {
	entry := ObligationLiquidity{
		BorrowReserve:            "res-a",
		CumulativeBorrowRateWads: OneDecimal(),
		BorrowedAmountWads:       NewDecimal(100),
	}
	doubled := NewDecimal(2)
	if err := entry.AccrueInterest(doubled); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if entry.BorrowedAmountWads.Cmp(NewDecimal(200)) != 0 {
		t.Fatalf("debt = %s, want 200", entry.BorrowedAmountWads)
	}
	if entry.CumulativeBorrowRateWads.Cmp(doubled) != 0 {
		t.Fatalf("index snapshot = %s", entry.CumulativeBorrowRateWads)
	}

	// Same index again is a no-op.
	if err := entry.AccrueInterest(doubled); err != nil {
		t.Fatalf("repeat accrue: %v", err)
	}
	if entry.BorrowedAmountWads.Cmp(NewDecimal(200)) != 0 {
		t.Fatalf("no-op accrue changed debt: %s", entry.BorrowedAmountWads)
	}

	// A regressed index is corrupted state.
	if err := entry.AccrueInterest(OneDecimal()); err != ErrNegativeInterestRate {
		t.Fatalf("regressed index: got %v", err)
	}
}

func TestObligationMaxWithdrawValue(t *testing.T) {
	obligation := NewObligation("main", "alice")
	obligation.DepositedValue = NewDecimal(1000)
	obligation.AllowedBorrowValue = NewDecimal(500)
	obligation.BorrowedValueUpperBound = NewDecimal(200)

	// (500 - 200) / 0.5 = 600 of collateral value can leave.
	got, err := obligation.MaxWithdrawValue(DecimalFromPercent(50))
	if err != nil {
		t.Fatalf("max withdraw: %v", err)
	}
	if got.Cmp(NewDecimal(600)) != 0 {
		t.Fatalf("max withdraw = %s, want 600", got)
	}

	// A zero-LTV reserve contributes no borrow power: all of it can leave.
	got, err = obligation.MaxWithdrawValue(ZeroDecimal())
	if err != nil {
		t.Fatalf("max withdraw: %v", err)
	}
	if got.Cmp(obligation.DepositedValue) != 0 {
		t.Fatalf("zero-ltv max withdraw = %s", got)
	}

	// Fully borrowed: nothing can leave.
	obligation.BorrowedValueUpperBound = NewDecimal(500)
	got, err = obligation.MaxWithdrawValue(DecimalFromPercent(50))
	if err != nil {
		t.Fatalf("max withdraw: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("max withdraw = %s, want 0", got)
	}
}

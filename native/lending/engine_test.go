package lending

import (
	"errors"
	"testing"

	nativecommon "lendex/native/common"
)

type mockEngineState struct {
	markets     map[string]*LendingMarket
	reserves    map[string]*Reserve
	obligations map[string]*Obligation
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		markets:     make(map[string]*LendingMarket),
		reserves:    make(map[string]*Reserve),
		obligations: make(map[string]*Obligation),
	}
}

func cloneReserve(r *Reserve) *Reserve {
	cp := *r
	return &cp
}

func cloneObligation(o *Obligation) *Obligation {
	cp := *o
	cp.Deposits = append([]ObligationCollateral(nil), o.Deposits...)
	cp.Borrows = append([]ObligationLiquidity(nil), o.Borrows...)
	return &cp
}

func (m *mockEngineState) GetMarket(marketID string) (*LendingMarket, error) {
	market, ok := m.markets[marketID]
	if !ok {
		return nil, nil
	}
	cp := *market
	return &cp, nil
}

func (m *mockEngineState) PutMarket(marketID string, market *LendingMarket) error {
	cp := *market
	m.markets[marketID] = &cp
	return nil
}

func (m *mockEngineState) GetReserve(marketID, reserveID string) (*Reserve, error) {
	reserve, ok := m.reserves[marketID+"/"+reserveID]
	if !ok {
		return nil, nil
	}
	return cloneReserve(reserve), nil
}

func (m *mockEngineState) PutReserve(marketID, reserveID string, reserve *Reserve) error {
	m.reserves[marketID+"/"+reserveID] = cloneReserve(reserve)
	return nil
}

func (m *mockEngineState) GetObligation(marketID, obligationID string) (*Obligation, error) {
	obligation, ok := m.obligations[marketID+"/"+obligationID]
	if !ok {
		return nil, nil
	}
	return cloneObligation(obligation), nil
}

func (m *mockEngineState) PutObligation(marketID, obligationID string, obligation *Obligation) error {
	m.obligations[marketID+"/"+obligationID] = cloneObligation(obligation)
	return nil
}

type mockTokenMover struct {
	balances map[string]uint64
}

func newMockTokenMover() *mockTokenMover {
	return &mockTokenMover{balances: make(map[string]uint64)}
}

func (m *mockTokenMover) key(mint, account string) string { return mint + "|" + account }

func (m *mockTokenMover) balance(mint, account string) uint64 {
	return m.balances[m.key(mint, account)]
}

func (m *mockTokenMover) fund(mint, account string, amount uint64) {
	m.balances[m.key(mint, account)] += amount
}

func (m *mockTokenMover) Transfer(mint, from, to string, amount uint64) error {
	if m.balances[m.key(mint, from)] < amount {
		return errors.New("mock tokens: insufficient balance")
	}
	m.balances[m.key(mint, from)] -= amount
	m.balances[m.key(mint, to)] += amount
	return nil
}

func (m *mockTokenMover) MintTo(mint, to string, amount uint64) error {
	m.balances[m.key(mint, to)] += amount
	return nil
}

func (m *mockTokenMover) Burn(mint, from string, amount uint64) error {
	if m.balances[m.key(mint, from)] < amount {
		return errors.New("mock tokens: insufficient balance")
	}
	m.balances[m.key(mint, from)] -= amount
	return nil
}

type mockPriceSource struct {
	quotes map[string][2]Decimal
}

func newMockPriceSource() *mockPriceSource {
	return &mockPriceSource{quotes: make(map[string][2]Decimal)}
}

func (m *mockPriceSource) set(ref string, spot, ema Decimal) {
	m.quotes[ref] = [2]Decimal{spot, ema}
}

func (m *mockPriceSource) Price(ref string) (Decimal, Decimal, error) {
	quote, ok := m.quotes[ref]
	if !ok {
		return Decimal{}, Decimal{}, errors.New("mock prices: no quote for " + ref)
	}
	return quote[0], quote[1], nil
}

type mockPauses struct{ paused bool }

func (m mockPauses) IsPaused(string) bool { return m.paused }

type testHarness struct {
	engine *Engine
	state  *mockEngineState
	tokens *mockTokenMover
	prices *mockPriceSource
}

func newTestHarness(t *testing.T, marketLimiter RateLimiterConfig) *testHarness {
	t.Helper()
	h := &testHarness{
		engine: NewEngine(DefaultParams()),
		state:  newMockEngineState(),
		tokens: newMockTokenMover(),
		prices: newMockPriceSource(),
	}
	h.engine.SetState(h.state)
	h.engine.SetTokenMover(h.tokens)
	h.engine.SetPriceSource(h.prices)
	h.engine.SetMarketID("main")
	h.engine.SetBlockHeight(1)
	if err := h.engine.InitMarket("owner", "USD", marketLimiter); err != nil {
		t.Fatalf("init market: %v", err)
	}
	return h
}

func (h *testHarness) initReserve(t *testing.T, reserveID string, config ReserveConfig, spot, ema Decimal) {
	t.Helper()
	h.prices.set("oracle/"+reserveID, spot, ema)
	err := h.engine.InitReserve("owner", reserveID, InitReserveParams{
		LiquidityMint:         reserveID + ".tok",
		LiquidityMintDecimals: 0,
		LiquiditySupply:       "vault/" + reserveID,
		LiquidityOracle:       "oracle/" + reserveID,
		CollateralMint:        reserveID + ".ctok",
		CollateralSupply:      "vault/" + reserveID + ".ctok",
		Config:                config,
	})
	if err != nil {
		t.Fatalf("init reserve %s: %v", reserveID, err)
	}
}

func (h *testHarness) refresh(t *testing.T, reserveIDs ...string) {
	t.Helper()
	for _, id := range reserveIDs {
		if err := h.engine.RefreshReserve(id); err != nil {
			t.Fatalf("refresh reserve %s: %v", id, err)
		}
	}
}

func collateralConfig() ReserveConfig {
	return ReserveConfig{
		OptimalUtilizationRate: 80,
		LoanToValueRatio:       50,
		LiquidationThreshold:   55,
		LiquidationBonus:       5,
		DepositLimit:           1_000_000,
		BorrowLimit:            1_000_000,
		FeeReceiver:            "fees",
	}
}

func debtConfig() ReserveConfig {
	return ReserveConfig{
		OptimalUtilizationRate: 80,
		LoanToValueRatio:       0,
		LiquidationThreshold:   1,
		DepositLimit:           1_000_000,
		BorrowLimit:            1_000_000,
		FeeReceiver:            "fees",
	}
}

// setupBorrowScenario builds a market with a collateral reserve priced at 10
// and a debt reserve priced at 1, deposits 100 collateral tokens ($1,000 at
// LTV 50% / threshold 55%) for alice and funds the debt pool.
func setupBorrowScenario(t *testing.T) *testHarness {
	t.Helper()
	h := newTestHarness(t, RateLimiterConfig{})
	ten := DecimalFromWad(10 * wadScale)
	h.initReserve(t, "coll", collateralConfig(), ten, ten)
	h.initReserve(t, "debt", debtConfig(), OneDecimal(), OneDecimal())
	h.refresh(t, "coll", "debt")

	h.tokens.fund("coll.tok", "alice", 100)
	if _, err := h.engine.DepositReserveLiquidity("alice", "coll", 100); err != nil {
		t.Fatalf("deposit collateral liquidity: %v", err)
	}
	h.tokens.fund("debt.tok", "lp", 10_000)
	if _, err := h.engine.DepositReserveLiquidity("lp", "debt", 10_000); err != nil {
		t.Fatalf("deposit debt liquidity: %v", err)
	}
	h.refresh(t, "coll", "debt")

	if err := h.engine.InitObligation("alice", "alice-ob"); err != nil {
		t.Fatalf("init obligation: %v", err)
	}
	if err := h.engine.DepositObligationCollateral("alice", "alice-ob", "coll", 100); err != nil {
		t.Fatalf("deposit obligation collateral: %v", err)
	}
	if err := h.engine.RefreshObligation("alice-ob"); err != nil {
		t.Fatalf("refresh obligation: %v", err)
	}
	return h
}

func TestEngineBorrowAgainstCollateral(t *testing.T) {
	h := setupBorrowScenario(t)

	received, err := h.engine.BorrowObligationLiquidity("alice", "alice-ob", "debt", ExactAmount(500), "")
	if err != nil {
		t.Fatalf("borrow at limit: %v", err)
	}
	if received != 500 {
		t.Fatalf("received %d, want 500", received)
	}
	if got := h.tokens.balance("debt.tok", "alice"); got != 500 {
		t.Fatalf("alice balance = %d", got)
	}

	// One more unit over the $500 borrow power fails.
	h.engine.SetBlockHeight(2)
	h.refresh(t, "coll", "debt")
	if err := h.engine.RefreshObligation("alice-ob"); err != nil {
		t.Fatalf("refresh obligation: %v", err)
	}
	if _, err := h.engine.BorrowObligationLiquidity("alice", "alice-ob", "debt", ExactAmount(1), ""); err != ErrBorrowTooLarge {
		t.Fatalf("over borrow power: got %v", err)
	}
}

func TestEngineBorrowRequiresFreshState(t *testing.T) {
	h := setupBorrowScenario(t)

	// The obligation refresh from setup is fresh at height 1 but stale at 2.
	h.engine.SetBlockHeight(2)
	h.refresh(t, "debt")
	if _, err := h.engine.BorrowObligationLiquidity("alice", "alice-ob", "debt", ExactAmount(1), ""); err != ErrObligationStale {
		t.Fatalf("stale obligation: got %v", err)
	}
}

func TestEngineLiquidationThreshold(t *testing.T) {
	h := setupBorrowScenario(t)
	if _, err := h.engine.BorrowObligationLiquidity("alice", "alice-ob", "debt", ExactAmount(500), ""); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.tokens.fund("debt.tok", "liq", 200)

	// Debt value 545 is below the 550 threshold: still healthy.
	price := DecimalFromWad(1_090_000_000_000_000_000)
	h.prices.set("oracle/debt", price, price)
	h.engine.SetBlockHeight(2)
	h.refresh(t, "coll", "debt")
	if err := h.engine.RefreshObligation("alice-ob"); err != nil {
		t.Fatalf("refresh obligation: %v", err)
	}
	if _, err := h.engine.LiquidateObligation("liq", "alice-ob", "debt", "coll", ExactAmount(100)); err != ErrObligationHealthy {
		t.Fatalf("healthy obligation: got %v", err)
	}

	// Debt value 560 crosses the threshold: liquidation proceeds.
	price = DecimalFromWad(1_120_000_000_000_000_000)
	h.prices.set("oracle/debt", price, price)
	h.engine.SetBlockHeight(3)
	h.refresh(t, "coll", "debt")
	if err := h.engine.RefreshObligation("alice-ob"); err != nil {
		t.Fatalf("refresh obligation: %v", err)
	}
	result, err := h.engine.LiquidateObligation("liq", "alice-ob", "debt", "coll", ExactAmount(500))
	if err != nil {
		t.Fatalf("liquidation: %v", err)
	}
	// Close factor caps the settle at 20% of the 500 debt; the 5% bonus on
	// $112 of repaid value seizes 11 of the 100 collateral shares.
	if result.RepayAmount != 100 {
		t.Fatalf("repay = %d, want 100", result.RepayAmount)
	}
	if result.WithdrawAmount != 11 {
		t.Fatalf("withdraw = %d, want 11", result.WithdrawAmount)
	}
	if got := h.tokens.balance("coll.ctok", "liq"); got != 11 {
		t.Fatalf("liquidator collateral = %d", got)
	}

	obligation := h.state.obligations["main/alice-ob"]
	if obligation.Borrows[0].BorrowedAmountWads.Cmp(NewDecimal(400)) != 0 {
		t.Fatalf("remaining debt = %s, want 400", obligation.Borrows[0].BorrowedAmountWads)
	}
	if obligation.Deposits[0].DepositedAmount != 89 {
		t.Fatalf("remaining collateral = %d, want 89", obligation.Deposits[0].DepositedAmount)
	}
}

func TestEngineRepayAndWithdraw(t *testing.T) {
	h := setupBorrowScenario(t)
	if _, err := h.engine.BorrowObligationLiquidity("alice", "alice-ob", "debt", ExactAmount(500), ""); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	h.engine.SetBlockHeight(2)
	h.refresh(t, "coll", "debt")
	repaid, err := h.engine.RepayObligationLiquidity("alice", "alice-ob", "debt", MaxAmount())
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid != 500 {
		t.Fatalf("repaid %d, want 500", repaid)
	}
	if got := len(h.state.obligations["main/alice-ob"].Borrows); got != 0 {
		t.Fatalf("borrow position not cleared, %d left", got)
	}

	// With the debt cleared, all collateral can leave.
	h.refresh(t, "coll")
	if err := h.engine.RefreshObligation("alice-ob"); err != nil {
		t.Fatalf("refresh obligation: %v", err)
	}
	withdrawn, err := h.engine.WithdrawObligationCollateral("alice", "alice-ob", "coll", MaxAmount())
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn != 100 {
		t.Fatalf("withdrawn %d, want 100", withdrawn)
	}
	if got := h.tokens.balance("coll.ctok", "alice"); got != 100 {
		t.Fatalf("alice shares = %d", got)
	}
}

func TestEngineWithdrawTooLarge(t *testing.T) {
	h := setupBorrowScenario(t)
	if _, err := h.engine.BorrowObligationLiquidity("alice", "alice-ob", "debt", ExactAmount(500), ""); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.engine.SetBlockHeight(2)
	h.refresh(t, "coll", "debt")
	if err := h.engine.RefreshObligation("alice-ob"); err != nil {
		t.Fatalf("refresh obligation: %v", err)
	}
	// Fully borrowed against: no collateral may leave.
	if _, err := h.engine.WithdrawObligationCollateral("alice", "alice-ob", "coll", ExactAmount(1)); err != ErrWithdrawTooLarge {
		t.Fatalf("withdraw while fully borrowed: got %v", err)
	}
}

func TestEngineFlashLoan(t *testing.T) {
	h := newTestHarness(t, RateLimiterConfig{})
	config := debtConfig()
	config.Fees.FlashLoanFeeWad = 3_000_000_000_000_000 // 0.3%
	h.initReserve(t, "debt", config, OneDecimal(), OneDecimal())
	h.refresh(t, "debt")
	h.tokens.fund("debt.tok", "lp", 10_000)
	if _, err := h.engine.DepositReserveLiquidity("lp", "debt", 10_000); err != nil {
		t.Fatalf("fund pool: %v", err)
	}

	if err := h.engine.FlashBorrow("fb", "debt", 1000); err != nil {
		t.Fatalf("flash borrow: %v", err)
	}
	if got := h.tokens.balance("debt.tok", "fb"); got != 1000 {
		t.Fatalf("borrower balance = %d", got)
	}
	if err := h.engine.FlashBorrow("fb", "debt", 1); err != ErrFlashBorrowOutstanding {
		t.Fatalf("double flash borrow: got %v", err)
	}

	h.tokens.fund("debt.tok", "fb", 3) // cover the fee
	if err := h.engine.FlashRepay("fb", "debt", 1002, true, ""); err != ErrFlashRepayInsufficient {
		t.Fatalf("short repay: got %v", err)
	}
	if err := h.engine.FlashRepay("fb", "debt", 1003, false, ""); err != ErrFlashRepayIndirect {
		t.Fatalf("indirect repay: got %v", err)
	}
	if err := h.engine.FlashRepay("fb", "debt", 1003, true, ""); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if got := h.tokens.balance("debt.tok", "fees"); got != 3 {
		t.Fatalf("fee receiver = %d, want 3", got)
	}
	if err := h.engine.EndBatch(); err != nil {
		t.Fatalf("end batch: %v", err)
	}
}

func TestEngineEndBatchUnrepaidFlash(t *testing.T) {
	h := newTestHarness(t, RateLimiterConfig{})
	h.initReserve(t, "debt", debtConfig(), OneDecimal(), OneDecimal())
	h.refresh(t, "debt")
	h.tokens.fund("debt.tok", "lp", 10_000)
	if _, err := h.engine.DepositReserveLiquidity("lp", "debt", 10_000); err != nil {
		t.Fatalf("fund pool: %v", err)
	}
	if err := h.engine.FlashBorrow("fb", "debt", 1000); err != nil {
		t.Fatalf("flash borrow: %v", err)
	}
	if err := h.engine.EndBatch(); err != ErrFlashRepayMissing {
		t.Fatalf("unrepaid flash: got %v", err)
	}
	// The failed batch clears the session.
	if err := h.engine.EndBatch(); err != nil {
		t.Fatalf("next batch: %v", err)
	}
}

func TestEngineRedeemRateLimited(t *testing.T) {
	h := newTestHarness(t, RateLimiterConfig{WindowDuration: 10, MaxOutflow: 500})
	ten := DecimalFromWad(10 * wadScale)
	h.initReserve(t, "coll", collateralConfig(), ten, ten)
	h.refresh(t, "coll")
	h.tokens.fund("coll.tok", "alice", 100)
	if _, err := h.engine.DepositReserveLiquidity("alice", "coll", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.refresh(t, "coll")

	// Redeeming 60 tokens moves $600 of value, past the $500 window budget.
	if _, err := h.engine.RedeemReserveCollateral("alice", "coll", 60); err != ErrOutflowRateLimit {
		t.Fatalf("over market outflow budget: got %v", err)
	}
	if _, err := h.engine.RedeemReserveCollateral("alice", "coll", 40); err != nil {
		t.Fatalf("within budget: %v", err)
	}
}

func TestEnginePauseGuard(t *testing.T) {
	h := newTestHarness(t, RateLimiterConfig{})
	h.initReserve(t, "debt", debtConfig(), OneDecimal(), OneDecimal())
	h.refresh(t, "debt")
	h.engine.SetPauses(mockPauses{paused: true})
	if _, err := h.engine.DepositReserveLiquidity("alice", "debt", 1); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("paused module: got %v", err)
	}
}

func TestEngineUpdateReserveConfigAuthorization(t *testing.T) {
	h := newTestHarness(t, RateLimiterConfig{})
	h.initReserve(t, "debt", debtConfig(), OneDecimal(), OneDecimal())

	config := debtConfig()
	config.BorrowLimit = 5
	if err := h.engine.UpdateReserveConfig("mallory", "debt", config); err != ErrUnauthorized {
		t.Fatalf("non-owner update: got %v", err)
	}
	if err := h.engine.UpdateReserveConfig("owner", "debt", config); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if got := h.state.reserves["main/debt"].Config.BorrowLimit; got != 5 {
		t.Fatalf("borrow limit = %d, want 5", got)
	}
}

func TestEngineRedeemFees(t *testing.T) {
	h := setupBorrowScenario(t)
	reserve := h.state.reserves["main/debt"]
	reserve.Liquidity.AccumulatedProtocolFeesWads = NewDecimal(7)

	h.refresh(t, "debt")
	paid, err := h.engine.RedeemFees("debt")
	if err != nil {
		t.Fatalf("redeem fees: %v", err)
	}
	if paid != 7 {
		t.Fatalf("paid %d, want 7", paid)
	}
	if got := h.tokens.balance("debt.tok", "fees"); got != 7 {
		t.Fatalf("fee receiver = %d", got)
	}
	h.refresh(t, "debt")
	if _, err := h.engine.RedeemFees("debt"); err != ErrNoFeesToRedeem {
		t.Fatalf("nothing left: got %v", err)
	}
}

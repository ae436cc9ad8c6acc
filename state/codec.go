package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"lendex/native/lending"
)

// Record framing: the first byte is the schema version, the remainder is the
// RLP payload. Legacy v0 reserves predate the outflow rate limiter and the
// second liquidation tier; they are upgraded in place on read and re-encoded
// as v1 on the next write.
const (
	schemaV0 byte = 0
	schemaV1 byte = 1
)

type storedRateLimiter struct {
	WindowDuration uint64
	MaxOutflow     uint64
	PrevSlotStart  uint64
	PrevQty        *big.Int
	CurSlotStart   uint64
	CurQty         *big.Int
}

func toStoredRateLimiter(limiter lending.RateLimiter) storedRateLimiter {
	snap := limiter.Snapshot()
	return storedRateLimiter{
		WindowDuration: limiter.Config.WindowDuration,
		MaxOutflow:     limiter.Config.MaxOutflow,
		PrevSlotStart:  snap.PrevSlotStart,
		PrevQty:        snap.PrevQty.BigInt(),
		CurSlotStart:   snap.CurSlotStart,
		CurQty:         snap.CurQty.BigInt(),
	}
}

func fromStoredRateLimiter(stored storedRateLimiter) (lending.RateLimiter, error) {
	prevQty, err := lending.DecimalFromBig(stored.PrevQty)
	if err != nil {
		return lending.RateLimiter{}, err
	}
	curQty, err := lending.DecimalFromBig(stored.CurQty)
	if err != nil {
		return lending.RateLimiter{}, err
	}
	config := lending.RateLimiterConfig{
		WindowDuration: stored.WindowDuration,
		MaxOutflow:     stored.MaxOutflow,
	}
	return lending.RestoreRateLimiter(config, lending.RateLimiterSnapshot{
		PrevSlotStart: stored.PrevSlotStart,
		PrevQty:       prevQty,
		CurSlotStart:  stored.CurSlotStart,
		CurQty:        curQty,
	}), nil
}

type storedMarket struct {
	Owner         string
	QuoteCurrency string
	RateLimiter   storedRateLimiter
}

type storedReserveConfig struct {
	OptimalUtilizationRate  uint8
	LoanToValueRatio        uint8
	LiquidationThreshold    uint8
	MaxLiquidationThreshold uint8
	LiquidationBonus        uint8
	MaxLiquidationBonus     uint8
	MinBorrowRate           uint64
	OptimalBorrowRate       uint64
	MaxBorrowRate           uint64
	BorrowFeeWad            uint64
	FlashLoanFeeWad         uint64
	HostFeePercentage       uint8
	DepositLimit            uint64
	BorrowLimit             uint64
	FeeReceiver             string
	ProtocolTakeRate        uint8
	AddedBorrowWeightBps    uint64
}

type storedReserve struct {
	LastUpdateSlot              uint64
	LastUpdateStale             bool
	LendingMarket               string
	LiquidityMint               string
	MintDecimals                uint8
	LiquiditySupply             string
	OracleRef                   string
	AvailableAmount             uint64
	BorrowedAmountWads          *big.Int
	CumulativeBorrowRateWads    *big.Int
	AccumulatedProtocolFeesWads *big.Int
	MarketPrice                 *big.Int
	SmoothedMarketPrice         *big.Int
	CollateralMint              string
	CollateralSupply            string
	CollateralMintTotalSupply   uint64
	Config                      storedReserveConfig
	RateLimiter                 storedRateLimiter
}

// storedReserveConfigV0 and storedReserveV0 are the legacy layout without the
// two-tier liquidation fields, the borrow weight and the rate limiter.
type storedReserveConfigV0 struct {
	OptimalUtilizationRate uint8
	LoanToValueRatio       uint8
	LiquidationThreshold   uint8
	LiquidationBonus       uint8
	MinBorrowRate          uint64
	OptimalBorrowRate      uint64
	MaxBorrowRate          uint64
	BorrowFeeWad           uint64
	FlashLoanFeeWad        uint64
	HostFeePercentage      uint8
	DepositLimit           uint64
	BorrowLimit            uint64
	FeeReceiver            string
	ProtocolTakeRate       uint8
}

type storedReserveV0 struct {
	LastUpdateSlot              uint64
	LastUpdateStale             bool
	LendingMarket               string
	LiquidityMint               string
	MintDecimals                uint8
	LiquiditySupply             string
	OracleRef                   string
	AvailableAmount             uint64
	BorrowedAmountWads          *big.Int
	CumulativeBorrowRateWads    *big.Int
	AccumulatedProtocolFeesWads *big.Int
	MarketPrice                 *big.Int
	SmoothedMarketPrice         *big.Int
	CollateralMint              string
	CollateralSupply            string
	CollateralMintTotalSupply   uint64
	Config                      storedReserveConfigV0
}

type storedObligationCollateral struct {
	DepositReserve  string
	DepositedAmount uint64
	MarketValue     *big.Int
}

type storedObligationLiquidity struct {
	BorrowReserve            string
	CumulativeBorrowRateWads *big.Int
	BorrowedAmountWads       *big.Int
	MarketValue              *big.Int
}

type storedObligation struct {
	LastUpdateSlot            uint64
	LastUpdateStale           bool
	LendingMarket             string
	Owner                     string
	Deposits                  []storedObligationCollateral
	Borrows                   []storedObligationLiquidity
	DepositedValue            *big.Int
	BorrowedValue             *big.Int
	BorrowedValueUpperBound   *big.Int
	AllowedBorrowValue        *big.Int
	UnhealthyBorrowValue      *big.Int
	SuperUnhealthyBorrowValue *big.Int
}

func encodeRecord(version byte, payload interface{}) ([]byte, error) {
	body, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, version)
	return append(out, body...), nil
}

func splitRecord(raw []byte) (byte, []byte, error) {
	if len(raw) < 2 {
		return 0, nil, fmt.Errorf("state: record too short")
	}
	return raw[0], raw[1:], nil
}

func encodeMarket(market *lending.LendingMarket) ([]byte, error) {
	return encodeRecord(schemaV1, storedMarket{
		Owner:         market.Owner,
		QuoteCurrency: market.QuoteCurrency,
		RateLimiter:   toStoredRateLimiter(market.RateLimiter),
	})
}

func decodeMarket(raw []byte) (*lending.LendingMarket, error) {
	version, body, err := splitRecord(raw)
	if err != nil {
		return nil, err
	}
	if version != schemaV1 {
		return nil, fmt.Errorf("state: unknown market schema %d", version)
	}
	var stored storedMarket
	if err := rlp.DecodeBytes(body, &stored); err != nil {
		return nil, err
	}
	limiter, err := fromStoredRateLimiter(stored.RateLimiter)
	if err != nil {
		return nil, err
	}
	return &lending.LendingMarket{
		Version:       1,
		Owner:         stored.Owner,
		QuoteCurrency: stored.QuoteCurrency,
		RateLimiter:   limiter,
	}, nil
}

func encodeReserve(reserve *lending.Reserve) ([]byte, error) {
	return encodeRecord(schemaV1, storedReserve{
		LastUpdateSlot:              reserve.LastUpdate.Slot,
		LastUpdateStale:             reserve.LastUpdate.Stale,
		LendingMarket:               reserve.LendingMarket,
		LiquidityMint:               reserve.Liquidity.Mint,
		MintDecimals:                reserve.Liquidity.MintDecimals,
		LiquiditySupply:             reserve.Liquidity.Supply,
		OracleRef:                   reserve.Liquidity.OracleRef,
		AvailableAmount:             reserve.Liquidity.AvailableAmount,
		BorrowedAmountWads:          reserve.Liquidity.BorrowedAmountWads.BigInt(),
		CumulativeBorrowRateWads:    reserve.Liquidity.CumulativeBorrowRateWads.BigInt(),
		AccumulatedProtocolFeesWads: reserve.Liquidity.AccumulatedProtocolFeesWads.BigInt(),
		MarketPrice:                 reserve.Liquidity.MarketPrice.BigInt(),
		SmoothedMarketPrice:         reserve.Liquidity.SmoothedMarketPrice.BigInt(),
		CollateralMint:              reserve.Collateral.Mint,
		CollateralSupply:            reserve.Collateral.Supply,
		CollateralMintTotalSupply:   reserve.Collateral.MintTotalSupply,
		Config: storedReserveConfig{
			OptimalUtilizationRate:  reserve.Config.OptimalUtilizationRate,
			LoanToValueRatio:        reserve.Config.LoanToValueRatio,
			LiquidationThreshold:    reserve.Config.LiquidationThreshold,
			MaxLiquidationThreshold: reserve.Config.MaxLiquidationThreshold,
			LiquidationBonus:        reserve.Config.LiquidationBonus,
			MaxLiquidationBonus:     reserve.Config.MaxLiquidationBonus,
			MinBorrowRate:           reserve.Config.MinBorrowRate,
			OptimalBorrowRate:       reserve.Config.OptimalBorrowRate,
			MaxBorrowRate:           reserve.Config.MaxBorrowRate,
			BorrowFeeWad:            reserve.Config.Fees.BorrowFeeWad,
			FlashLoanFeeWad:         reserve.Config.Fees.FlashLoanFeeWad,
			HostFeePercentage:       reserve.Config.Fees.HostFeePercentage,
			DepositLimit:            reserve.Config.DepositLimit,
			BorrowLimit:             reserve.Config.BorrowLimit,
			FeeReceiver:             reserve.Config.FeeReceiver,
			ProtocolTakeRate:        reserve.Config.ProtocolTakeRate,
			AddedBorrowWeightBps:    reserve.Config.AddedBorrowWeightBps,
		},
		RateLimiter: toStoredRateLimiter(reserve.RateLimiter),
	})
}

func decodeReserve(raw []byte) (*lending.Reserve, error) {
	version, body, err := splitRecord(raw)
	if err != nil {
		return nil, err
	}
	switch version {
	case schemaV1:
		var stored storedReserve
		if err := rlp.DecodeBytes(body, &stored); err != nil {
			return nil, err
		}
		return reserveFromStored(stored)
	case schemaV0:
		var stored storedReserveV0
		if err := rlp.DecodeBytes(body, &stored); err != nil {
			return nil, err
		}
		return reserveFromStored(upgradeReserveV0(stored))
	default:
		return nil, fmt.Errorf("state: unknown reserve schema %d", version)
	}
}

// upgradeReserveV0 lifts a legacy record into the current layout: no second
// liquidation tier, weight one, and a disabled rate limiter anchored at the
// record's last update height.
func upgradeReserveV0(stored storedReserveV0) storedReserve {
	return storedReserve{
		LastUpdateSlot:              stored.LastUpdateSlot,
		LastUpdateStale:             stored.LastUpdateStale,
		LendingMarket:               stored.LendingMarket,
		LiquidityMint:               stored.LiquidityMint,
		MintDecimals:                stored.MintDecimals,
		LiquiditySupply:             stored.LiquiditySupply,
		OracleRef:                   stored.OracleRef,
		AvailableAmount:             stored.AvailableAmount,
		BorrowedAmountWads:          stored.BorrowedAmountWads,
		CumulativeBorrowRateWads:    stored.CumulativeBorrowRateWads,
		AccumulatedProtocolFeesWads: stored.AccumulatedProtocolFeesWads,
		MarketPrice:                 stored.MarketPrice,
		SmoothedMarketPrice:         stored.SmoothedMarketPrice,
		CollateralMint:              stored.CollateralMint,
		CollateralSupply:            stored.CollateralSupply,
		CollateralMintTotalSupply:   stored.CollateralMintTotalSupply,
		Config: storedReserveConfig{
			OptimalUtilizationRate: stored.Config.OptimalUtilizationRate,
			LoanToValueRatio:       stored.Config.LoanToValueRatio,
			LiquidationThreshold:   stored.Config.LiquidationThreshold,
			LiquidationBonus:       stored.Config.LiquidationBonus,
			MinBorrowRate:          stored.Config.MinBorrowRate,
			OptimalBorrowRate:      stored.Config.OptimalBorrowRate,
			MaxBorrowRate:          stored.Config.MaxBorrowRate,
			BorrowFeeWad:           stored.Config.BorrowFeeWad,
			FlashLoanFeeWad:        stored.Config.FlashLoanFeeWad,
			HostFeePercentage:      stored.Config.HostFeePercentage,
			DepositLimit:           stored.Config.DepositLimit,
			BorrowLimit:            stored.Config.BorrowLimit,
			FeeReceiver:            stored.Config.FeeReceiver,
			ProtocolTakeRate:       stored.Config.ProtocolTakeRate,
		},
		RateLimiter: storedRateLimiter{
			PrevSlotStart: stored.LastUpdateSlot,
			CurSlotStart:  stored.LastUpdateSlot,
			PrevQty:       new(big.Int),
			CurQty:        new(big.Int),
		},
	}
}

func reserveFromStored(stored storedReserve) (*lending.Reserve, error) {
	borrowed, err := lending.DecimalFromBig(stored.BorrowedAmountWads)
	if err != nil {
		return nil, err
	}
	cumulative, err := lending.DecimalFromBig(stored.CumulativeBorrowRateWads)
	if err != nil {
		return nil, err
	}
	fees, err := lending.DecimalFromBig(stored.AccumulatedProtocolFeesWads)
	if err != nil {
		return nil, err
	}
	price, err := lending.DecimalFromBig(stored.MarketPrice)
	if err != nil {
		return nil, err
	}
	smoothed, err := lending.DecimalFromBig(stored.SmoothedMarketPrice)
	if err != nil {
		return nil, err
	}
	limiter, err := fromStoredRateLimiter(stored.RateLimiter)
	if err != nil {
		return nil, err
	}
	return &lending.Reserve{
		Version:       1,
		LastUpdate:    lending.LastUpdate{Slot: stored.LastUpdateSlot, Stale: stored.LastUpdateStale},
		LendingMarket: stored.LendingMarket,
		Liquidity: lending.ReserveLiquidity{
			Mint:                        stored.LiquidityMint,
			MintDecimals:                stored.MintDecimals,
			Supply:                      stored.LiquiditySupply,
			OracleRef:                   stored.OracleRef,
			AvailableAmount:             stored.AvailableAmount,
			BorrowedAmountWads:          borrowed,
			CumulativeBorrowRateWads:    cumulative,
			AccumulatedProtocolFeesWads: fees,
			MarketPrice:                 price,
			SmoothedMarketPrice:         smoothed,
		},
		Collateral: lending.ReserveCollateral{
			Mint:            stored.CollateralMint,
			Supply:          stored.CollateralSupply,
			MintTotalSupply: stored.CollateralMintTotalSupply,
		},
		Config: lending.ReserveConfig{
			OptimalUtilizationRate:  stored.Config.OptimalUtilizationRate,
			LoanToValueRatio:        stored.Config.LoanToValueRatio,
			LiquidationThreshold:    stored.Config.LiquidationThreshold,
			MaxLiquidationThreshold: stored.Config.MaxLiquidationThreshold,
			LiquidationBonus:        stored.Config.LiquidationBonus,
			MaxLiquidationBonus:     stored.Config.MaxLiquidationBonus,
			MinBorrowRate:           stored.Config.MinBorrowRate,
			OptimalBorrowRate:       stored.Config.OptimalBorrowRate,
			MaxBorrowRate:           stored.Config.MaxBorrowRate,
			Fees: lending.ReserveFees{
				BorrowFeeWad:      stored.Config.BorrowFeeWad,
				FlashLoanFeeWad:   stored.Config.FlashLoanFeeWad,
				HostFeePercentage: stored.Config.HostFeePercentage,
			},
			DepositLimit:         stored.Config.DepositLimit,
			BorrowLimit:          stored.Config.BorrowLimit,
			FeeReceiver:          stored.Config.FeeReceiver,
			ProtocolTakeRate:     stored.Config.ProtocolTakeRate,
			AddedBorrowWeightBps: stored.Config.AddedBorrowWeightBps,
			RateLimiter:          limiter.Config,
		},
		RateLimiter: limiter,
	}, nil
}

func encodeObligation(obligation *lending.Obligation) ([]byte, error) {
	stored := storedObligation{
		LastUpdateSlot:            obligation.LastUpdate.Slot,
		LastUpdateStale:           obligation.LastUpdate.Stale,
		LendingMarket:             obligation.LendingMarket,
		Owner:                     obligation.Owner,
		DepositedValue:            obligation.DepositedValue.BigInt(),
		BorrowedValue:             obligation.BorrowedValue.BigInt(),
		BorrowedValueUpperBound:   obligation.BorrowedValueUpperBound.BigInt(),
		AllowedBorrowValue:        obligation.AllowedBorrowValue.BigInt(),
		UnhealthyBorrowValue:      obligation.UnhealthyBorrowValue.BigInt(),
		SuperUnhealthyBorrowValue: obligation.SuperUnhealthyBorrowValue.BigInt(),
	}
	for _, deposit := range obligation.Deposits {
		stored.Deposits = append(stored.Deposits, storedObligationCollateral{
			DepositReserve:  deposit.DepositReserve,
			DepositedAmount: deposit.DepositedAmount,
			MarketValue:     deposit.MarketValue.BigInt(),
		})
	}
	for _, borrow := range obligation.Borrows {
		stored.Borrows = append(stored.Borrows, storedObligationLiquidity{
			BorrowReserve:            borrow.BorrowReserve,
			CumulativeBorrowRateWads: borrow.CumulativeBorrowRateWads.BigInt(),
			BorrowedAmountWads:       borrow.BorrowedAmountWads.BigInt(),
			MarketValue:              borrow.MarketValue.BigInt(),
		})
	}
	return encodeRecord(schemaV1, stored)
}

func decodeObligation(raw []byte) (*lending.Obligation, error) {
	version, body, err := splitRecord(raw)
	if err != nil {
		return nil, err
	}
	if version != schemaV1 {
		return nil, fmt.Errorf("state: unknown obligation schema %d", version)
	}
	var stored storedObligation
	if err := rlp.DecodeBytes(body, &stored); err != nil {
		return nil, err
	}

	obligation := &lending.Obligation{
		Version:       1,
		LastUpdate:    lending.LastUpdate{Slot: stored.LastUpdateSlot, Stale: stored.LastUpdateStale},
		LendingMarket: stored.LendingMarket,
		Owner:         stored.Owner,
	}
	if obligation.DepositedValue, err = lending.DecimalFromBig(stored.DepositedValue); err != nil {
		return nil, err
	}
	if obligation.BorrowedValue, err = lending.DecimalFromBig(stored.BorrowedValue); err != nil {
		return nil, err
	}
	if obligation.BorrowedValueUpperBound, err = lending.DecimalFromBig(stored.BorrowedValueUpperBound); err != nil {
		return nil, err
	}
	if obligation.AllowedBorrowValue, err = lending.DecimalFromBig(stored.AllowedBorrowValue); err != nil {
		return nil, err
	}
	if obligation.UnhealthyBorrowValue, err = lending.DecimalFromBig(stored.UnhealthyBorrowValue); err != nil {
		return nil, err
	}
	if obligation.SuperUnhealthyBorrowValue, err = lending.DecimalFromBig(stored.SuperUnhealthyBorrowValue); err != nil {
		return nil, err
	}
	for _, deposit := range stored.Deposits {
		value, err := lending.DecimalFromBig(deposit.MarketValue)
		if err != nil {
			return nil, err
		}
		obligation.Deposits = append(obligation.Deposits, lending.ObligationCollateral{
			DepositReserve:  deposit.DepositReserve,
			DepositedAmount: deposit.DepositedAmount,
			MarketValue:     value,
		})
	}
	for _, borrow := range stored.Borrows {
		cumulative, err := lending.DecimalFromBig(borrow.CumulativeBorrowRateWads)
		if err != nil {
			return nil, err
		}
		borrowed, err := lending.DecimalFromBig(borrow.BorrowedAmountWads)
		if err != nil {
			return nil, err
		}
		value, err := lending.DecimalFromBig(borrow.MarketValue)
		if err != nil {
			return nil, err
		}
		obligation.Borrows = append(obligation.Borrows, lending.ObligationLiquidity{
			BorrowReserve:            borrow.BorrowReserve,
			CumulativeBorrowRateWads: cumulative,
			BorrowedAmountWads:       borrowed,
			MarketValue:              value,
		})
	}
	return obligation, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lendex/native/lending"
)

// Config is the top-level daemon configuration.
type Config struct {
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	LogLevel       string `toml:"LogLevel"`
	LogFile        string `toml:"LogFile,omitempty"`

	MarketID      string `toml:"MarketID"`
	MarketOwner   string `toml:"MarketOwner"`
	QuoteCurrency string `toml:"QuoteCurrency"`

	MarketRateLimiter RateLimiterSettings `toml:"MarketRateLimiter"`
	Oracle            OracleSettings      `toml:"Oracle"`
	Reserves          []ReserveSettings   `toml:"Reserves"`
}

// RateLimiterSettings mirrors the engine's outflow limiter configuration.
type RateLimiterSettings struct {
	WindowDuration uint64 `toml:"WindowDuration"`
	MaxOutflow     uint64 `toml:"MaxOutflow"`
}

// OracleSettings configures the price aggregator.
type OracleSettings struct {
	Priority         []string `toml:"Priority"`
	MaxQuoteAge      string   `toml:"MaxQuoteAge"`
	MaxConfidenceBps uint64   `toml:"MaxConfidenceBps"`
}

// ReserveSettings declares one reserve and its risk parameters.
type ReserveSettings struct {
	ID                    string `toml:"ID"`
	LiquidityMint         string `toml:"LiquidityMint"`
	LiquidityMintDecimals uint8  `toml:"LiquidityMintDecimals"`
	LiquiditySupply       string `toml:"LiquiditySupply"`
	Oracle                string `toml:"Oracle"`
	CollateralMint        string `toml:"CollateralMint"`
	CollateralSupply      string `toml:"CollateralSupply"`

	// InitialPrice seeds the manual price feed at startup so a freshly created
	// reserve has a quote before any operator pushes one. Decimal string in
	// quote currency per whole token.
	InitialPrice string `toml:"InitialPrice,omitempty"`

	OptimalUtilizationRate  uint8  `toml:"OptimalUtilizationRate"`
	LoanToValueRatio        uint8  `toml:"LoanToValueRatio"`
	LiquidationThreshold    uint8  `toml:"LiquidationThreshold"`
	MaxLiquidationThreshold uint8  `toml:"MaxLiquidationThreshold,omitempty"`
	LiquidationBonus        uint8  `toml:"LiquidationBonus"`
	MaxLiquidationBonus     uint8  `toml:"MaxLiquidationBonus,omitempty"`
	MinBorrowRate           uint64 `toml:"MinBorrowRate"`
	OptimalBorrowRate       uint64 `toml:"OptimalBorrowRate"`
	MaxBorrowRate           uint64 `toml:"MaxBorrowRate"`
	BorrowFeeWad            uint64 `toml:"BorrowFeeWad"`
	FlashLoanFeeWad         uint64 `toml:"FlashLoanFeeWad"`
	HostFeePercentage       uint8  `toml:"HostFeePercentage"`
	DepositLimit            uint64 `toml:"DepositLimit"`
	BorrowLimit             uint64 `toml:"BorrowLimit"`
	FeeReceiver             string `toml:"FeeReceiver"`
	ProtocolTakeRate        uint8  `toml:"ProtocolTakeRate"`
	AddedBorrowWeightBps    uint64 `toml:"AddedBorrowWeightBps,omitempty"`

	RateLimiter RateLimiterSettings `toml:"RateLimiter"`
}

// ReserveConfig converts the settings into the engine's risk parameter type.
func (r ReserveSettings) ReserveConfig() lending.ReserveConfig {
	return lending.ReserveConfig{
		OptimalUtilizationRate:  r.OptimalUtilizationRate,
		LoanToValueRatio:        r.LoanToValueRatio,
		LiquidationThreshold:    r.LiquidationThreshold,
		MaxLiquidationThreshold: r.MaxLiquidationThreshold,
		LiquidationBonus:        r.LiquidationBonus,
		MaxLiquidationBonus:     r.MaxLiquidationBonus,
		MinBorrowRate:           r.MinBorrowRate,
		OptimalBorrowRate:       r.OptimalBorrowRate,
		MaxBorrowRate:           r.MaxBorrowRate,
		Fees: lending.ReserveFees{
			BorrowFeeWad:      r.BorrowFeeWad,
			FlashLoanFeeWad:   r.FlashLoanFeeWad,
			HostFeePercentage: r.HostFeePercentage,
		},
		DepositLimit:         r.DepositLimit,
		BorrowLimit:          r.BorrowLimit,
		FeeReceiver:          r.FeeReceiver,
		ProtocolTakeRate:     r.ProtocolTakeRate,
		AddedBorrowWeightBps: r.AddedBorrowWeightBps,
		RateLimiter: lending.RateLimiterConfig{
			WindowDuration: r.RateLimiter.WindowDuration,
			MaxOutflow:     r.RateLimiter.MaxOutflow,
		},
	}
}

// InitParams converts the settings into the engine's reserve creation
// parameters.
func (r ReserveSettings) InitParams() lending.InitReserveParams {
	return lending.InitReserveParams{
		LiquidityMint:         r.LiquidityMint,
		LiquidityMintDecimals: r.LiquidityMintDecimals,
		LiquiditySupply:       r.LiquiditySupply,
		LiquidityOracle:       r.Oracle,
		CollateralMint:        r.CollateralMint,
		CollateralSupply:      r.CollateralSupply,
		Config:                r.ReserveConfig(),
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg, path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9464"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.MarketID) == "" {
		cfg.MarketID = "main"
	}
	if strings.TrimSpace(cfg.QuoteCurrency) == "" {
		cfg.QuoteCurrency = "USD"
	}
	if cfg.Oracle.Priority == nil {
		cfg.Oracle.Priority = []string{}
	}
	if strings.TrimSpace(cfg.Oracle.MaxQuoteAge) == "" {
		cfg.Oracle.MaxQuoteAge = "1m"
	}
}

// Validate rejects configurations that the engine would refuse at runtime so
// the operator finds out at startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MarketOwner) == "" {
		return fmt.Errorf("config: MarketOwner required")
	}
	seen := make(map[string]struct{}, len(c.Reserves))
	for _, reserve := range c.Reserves {
		id := strings.TrimSpace(reserve.ID)
		if id == "" {
			return fmt.Errorf("config: reserve ID required")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate reserve %s", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(reserve.Oracle) == "" {
			return fmt.Errorf("config: reserve %s: Oracle required", id)
		}
		if err := reserve.ReserveConfig().Validate(); err != nil {
			return fmt.Errorf("config: reserve %s: %w", id, err)
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{MarketOwner: "owner"}
	applyDefaults(cfg, path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

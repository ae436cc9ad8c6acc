package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendex/config"
	"lendex/native/lending"
	"lendex/observability"
	"lendex/observability/logging"
	"lendex/oracle"
	"lendex/state"
	"lendex/storage"
	"lendex/token"
)

const refreshInterval = 5 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("lendexd", logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	feeds := oracle.NewManualOracle()
	maxAge, err := time.ParseDuration(cfg.Oracle.MaxQuoteAge)
	if err != nil {
		logger.Error("invalid oracle max quote age", "value", cfg.Oracle.MaxQuoteAge, "err", err)
		os.Exit(1)
	}
	priority := cfg.Oracle.Priority
	if len(priority) == 0 {
		priority = []string{"manual"}
	}
	agg := oracle.NewAggregator(priority, maxAge)
	if cfg.Oracle.MaxConfidenceBps > 0 {
		agg.SetMaxConfidenceBps(cfg.Oracle.MaxConfidenceBps)
	}
	agg.Register("manual", feeds)
	if err := seedPrices(feeds, cfg.Reserves); err != nil {
		logger.Error("failed to seed prices", "err", err)
		os.Exit(1)
	}

	store := state.NewStore(db)
	ledger := token.NewLedger(db)

	engine := lending.NewEngine(lending.DefaultParams())
	engine.SetState(store)
	engine.SetTokenMover(ledger)
	engine.SetPriceSource(oracle.NewPriceAdapter(agg))
	engine.SetMarketID(cfg.MarketID)
	engine.SetBlockHeight(currentHeight())

	if err := bootstrap(engine, store, cfg); err != nil {
		logger.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsMux()}
	go func() {
		logger.Info("metrics listener started", "addr", cfg.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("lendexd started", "market", cfg.MarketID, "reserves", len(cfg.Reserves))
	runRefreshLoop(ctx, engine, store, cfg, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", "err", err)
	}
	logger.Info("lendexd stopped")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// currentHeight maps wall-clock time onto the engine's height axis at the
// compounding cadence DefaultParams assumes, two heights per second.
func currentHeight() uint64 {
	return uint64(time.Now().Unix()) * 2
}

func seedPrices(feeds *oracle.ManualOracle, reserves []config.ReserveSettings) error {
	now := time.Now()
	for _, reserve := range reserves {
		price := strings.TrimSpace(reserve.InitialPrice)
		if price == "" {
			continue
		}
		if err := feeds.SetDecimal(reserve.Oracle, price, price, now); err != nil {
			return fmt.Errorf("reserve %s: %w", reserve.ID, err)
		}
	}
	return nil
}

// bootstrap creates the market and any configured reserves that do not exist
// yet. Existing records are left untouched so restarts are idempotent.
func bootstrap(engine *lending.Engine, store *state.Store, cfg *config.Config) error {
	market, err := store.GetMarket(cfg.MarketID)
	if err != nil {
		return err
	}
	if market == nil {
		limiter := lending.RateLimiterConfig{
			WindowDuration: cfg.MarketRateLimiter.WindowDuration,
			MaxOutflow:     cfg.MarketRateLimiter.MaxOutflow,
		}
		if err := engine.InitMarket(cfg.MarketOwner, cfg.QuoteCurrency, limiter); err != nil {
			return fmt.Errorf("init market: %w", err)
		}
	}
	for _, reserve := range cfg.Reserves {
		existing, err := store.GetReserve(cfg.MarketID, reserve.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := engine.InitReserve(cfg.MarketOwner, reserve.ID, reserve.InitParams()); err != nil {
			return fmt.Errorf("init reserve %s: %w", reserve.ID, err)
		}
	}
	return nil
}

// runRefreshLoop keeps reserve interest accrual and price snapshots current
// and feeds the engine gauges until the context is cancelled.
func runRefreshLoop(ctx context.Context, engine *lending.Engine, store *state.Store, cfg *config.Config, logger *slog.Logger) {
	metrics := observability.Engine()
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		engine.SetBlockHeight(currentHeight())
		for _, reserve := range cfg.Reserves {
			start := time.Now()
			err := engine.RefreshReserve(reserve.ID)
			metrics.Observe("refresh_reserve", time.Since(start), err)
			if err != nil {
				logger.Warn("reserve refresh failed", "reserve", reserve.ID, "err", err)
				continue
			}
			recordReserveGauges(metrics, store, cfg.MarketID, reserve.ID, logger)
		}
	}
}

func recordReserveGauges(metrics *observability.EngineMetrics, store *state.Store, marketID, reserveID string, logger *slog.Logger) {
	reserve, err := store.GetReserve(marketID, reserveID)
	if err != nil || reserve == nil {
		return
	}
	utilization, err := reserve.Liquidity.UtilizationRate()
	if err != nil {
		logger.Warn("utilization unavailable", "reserve", reserveID, "err", err)
		return
	}
	rate, err := reserve.CurrentBorrowRate()
	if err != nil {
		logger.Warn("borrow rate unavailable", "reserve", reserveID, "err", err)
		return
	}
	metrics.RecordReserveState(reserveID, wadToFloat(utilization), wadToFloat(rate))
}

func wadToFloat(d lending.Decimal) float64 {
	value := new(big.Float).SetInt(d.BigInt())
	value.Quo(value, big.NewFloat(1e18))
	out, _ := value.Float64()
	return out
}

package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngineMetricsSingleton(t *testing.T) {
	require.Same(t, Engine(), Engine())
	require.Same(t, Oracle(), Oracle())
}

func TestEngineObserve(t *testing.T) {
	m := Engine()

	before := testutil.ToFloat64(m.operations.WithLabelValues("borrow", "success"))
	m.Observe("borrow", 5*time.Millisecond, nil)
	require.Equal(t, before+1, testutil.ToFloat64(m.operations.WithLabelValues("borrow", "success")))

	m.Observe("borrow", 5*time.Millisecond, errors.New("insufficient liquidity"))
	require.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues("borrow", "insufficient liquidity")))

	// Blank operations collapse onto a stable label.
	m.Observe("  ", time.Millisecond, nil)
	require.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues("unknown", "success")))
}

func TestEngineCounters(t *testing.T) {
	m := Engine()

	m.RecordThrottle("usdc")
	m.RecordThrottle("")
	require.Equal(t, float64(1), testutil.ToFloat64(m.throttles.WithLabelValues("usdc")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.throttles.WithLabelValues("market")))

	m.RecordLiquidation(false)
	m.RecordLiquidation(true)
	require.Equal(t, float64(1), testutil.ToFloat64(m.liquidations.WithLabelValues("standard")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.liquidations.WithLabelValues("severe")))

	m.RecordFlashLoan(true)
	m.RecordFlashLoan(false)
	require.Equal(t, float64(1), testutil.ToFloat64(m.flashLoans.WithLabelValues("repaid")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.flashLoans.WithLabelValues("defaulted")))

	m.RecordReserveState("usdc", 0.8, 0.12)
	require.Equal(t, 0.8, testutil.ToFloat64(m.utilization.WithLabelValues("usdc")))
	require.Equal(t, 0.12, testutil.ToFloat64(m.borrowRate.WithLabelValues("usdc")))
}

func TestOracleMetrics(t *testing.T) {
	m := Oracle()

	m.RecordQuote("manual", "oracle/usdc", 2*time.Second)
	require.Equal(t, float64(1), testutil.ToFloat64(m.quotes.WithLabelValues("manual")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.freshness.WithLabelValues("oracle/usdc")))

	m.RecordReject("manual", "stale")
	m.RecordReject("", "")
	require.Equal(t, float64(1), testutil.ToFloat64(m.rejects.WithLabelValues("manual", "stale")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.rejects.WithLabelValues("unknown", "unspecified")))
}

func TestNilReceiversAreSafe(t *testing.T) {
	var engine *EngineMetrics
	engine.Observe("x", 0, nil)
	engine.RecordThrottle("x")
	engine.RecordLiquidation(true)
	engine.RecordFlashLoan(true)
	engine.RecordReserveState("x", 0, 0)

	var oracle *OracleMetrics
	oracle.RecordQuote("x", "y", 0)
	oracle.RecordReject("x", "y")
}

package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics bundles the collectors tracking lending engine activity.
type EngineMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	throttles    *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	flashLoans   *prometheus.CounterVec
	utilization  *prometheus.GaugeVec
	borrowRate   *prometheus.GaugeVec
}

// OracleMetrics bundles the collectors tracking price feed health.
type OracleMetrics struct {
	quotes    *prometheus.CounterVec
	rejects   *prometheus.CounterVec
	freshness *prometheus.GaugeVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Engine returns the lazily-initialised metrics registry used to record
// lending engine operations.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendex",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total lending engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendex",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for lending engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendex",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Count of lending engine failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendex",
				Subsystem: "engine",
				Name:      "throttles_total",
				Help:      "Count of operations rejected by the outflow rate limiter.",
			}, []string{"reserve"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendex",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Count of executed liquidations segmented by severity bracket.",
			}, []string{"severity"}),
			flashLoans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendex",
				Subsystem: "engine",
				Name:      "flash_loans_total",
				Help:      "Count of flash loan sessions segmented by outcome.",
			}, []string{"outcome"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendex",
				Subsystem: "reserve",
				Name:      "utilization_ratio",
				Help:      "Current utilisation ratio per reserve (0-1).",
			}, []string{"reserve"}),
			borrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendex",
				Subsystem: "reserve",
				Name:      "borrow_rate",
				Help:      "Current annual borrow rate per reserve as a ratio (1.0 = 100%).",
			}, []string{"reserve"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.latency,
			engineRegistry.errors,
			engineRegistry.throttles,
			engineRegistry.liquidations,
			engineRegistry.flashLoans,
			engineRegistry.utilization,
			engineRegistry.borrowRate,
		)
	})
	return engineRegistry
}

// Observe records the outcome of an engine operation.
func (m *EngineMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := strings.TrimSpace(err.Error())
		if reason == "" {
			reason = "unknown"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordThrottle increments the outflow limiter rejection counter. An empty
// reserve label marks a market-level rejection.
func (m *EngineMetrics) RecordThrottle(reserve string) {
	if m == nil {
		return
	}
	if reserve = strings.TrimSpace(reserve); reserve == "" {
		reserve = "market"
	}
	m.throttles.WithLabelValues(reserve).Inc()
}

// RecordLiquidation counts a completed liquidation. Severity should be
// "standard" or "severe" so dashboards and alerts remain consistent.
func (m *EngineMetrics) RecordLiquidation(severe bool) {
	if m == nil {
		return
	}
	severity := "standard"
	if severe {
		severity = "severe"
	}
	m.liquidations.WithLabelValues(severity).Inc()
}

// RecordFlashLoan counts a flash loan session outcome.
func (m *EngineMetrics) RecordFlashLoan(repaid bool) {
	if m == nil {
		return
	}
	outcome := "repaid"
	if !repaid {
		outcome = "defaulted"
	}
	m.flashLoans.WithLabelValues(outcome).Inc()
}

// RecordReserveState updates the per-reserve gauges after a refresh.
func (m *EngineMetrics) RecordReserveState(reserve string, utilization, borrowRate float64) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(reserve)
	if label == "" {
		label = "unknown"
	}
	m.utilization.WithLabelValues(label).Set(utilization)
	m.borrowRate.WithLabelValues(label).Set(borrowRate)
}

// Oracle returns the metrics registry for price feed instrumentation.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendex",
				Subsystem: "oracle",
				Name:      "quotes_total",
				Help:      "Count of price quotes served segmented by source.",
			}, []string{"source"}),
			rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendex",
				Subsystem: "oracle",
				Name:      "rejects_total",
				Help:      "Count of quotes rejected segmented by source and reason.",
			}, []string{"source", "reason"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendex",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age in seconds of the most recently served quote per feed.",
			}, []string{"feed"}),
		}
		prometheus.MustRegister(
			oracleRegistry.quotes,
			oracleRegistry.rejects,
			oracleRegistry.freshness,
		)
	})
	return oracleRegistry
}

// RecordQuote counts a successfully served quote and its age.
func (m *OracleMetrics) RecordQuote(source, feed string, age time.Duration) {
	if m == nil {
		return
	}
	m.quotes.WithLabelValues(labelOrUnknown(source)).Inc()
	m.freshness.WithLabelValues(labelOrUnknown(feed)).Set(age.Seconds())
}

// RecordReject counts a quote rejected during validation.
func (m *OracleMetrics) RecordReject(source, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.rejects.WithLabelValues(labelOrUnknown(source), reason).Inc()
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

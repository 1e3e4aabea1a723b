package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registryOnce sync.Once
	registry     *prometheus.Registry

	executorMetricsOnce sync.Once
	executorRegistry    *ExecutorMetrics
)

// Registry returns the process-wide registry executor collectors are attached to. It is
// separate from the default registry so a push only carries run metrics.
func Registry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
	return registry
}

// ExecutorMetrics wraps collectors describing executor runs.
type ExecutorMetrics struct {
	runs          *prometheus.CounterVec
	stageLatency  *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	lastRun       prometheus.Gauge
	gasUnits      prometheus.Gauge
	costFiat      prometheus.Gauge
	allocation    *prometheus.GaugeVec
	vaultDebt     prometheus.Gauge
	prices        *prometheus.GaugeVec
	routeRequests *prometheus.CounterVec
}

// Executor exposes the lazily-initialised executor metrics registry.
func Executor() *ExecutorMetrics {
	executorMetricsOnce.Do(func() {
		executorRegistry = &ExecutorMetrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "runs_total",
				Help:      "Executor invocations segmented by terminal status and reason.",
			}, []string{"status", "reason"}),
			stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "stage_duration_seconds",
				Help:      "Latency distribution of executor stages.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"stage"}),
			stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "stage_errors_total",
				Help:      "Count of executor stage failures.",
			}, []string{"stage"}),
			lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix timestamp of the most recent executor run.",
			}),
			gasUnits: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "gas_estimate_units",
				Help:      "Gas units estimated for the most recent execute payload.",
			}),
			costFiat: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "gas_cost_usd",
				Help:      "Estimated fiat gas cost of the most recent execute payload.",
			}),
			allocation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "allocation_eure",
				Help:      "EURe allocated to each leg by the most recent run.",
			}, []string{"leg"}),
			vaultDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "vault_debt_usdc",
				Help:      "Vault debt observed by the most recent run.",
			}),
			prices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "oracle_price_usd",
				Help:      "Oracle prices observed by the most recent run.",
			}, []string{"feed"}),
			routeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rebalancer",
				Subsystem: "executor",
				Name:      "route_requests_total",
				Help:      "Aggregator route requests segmented by leg and outcome.",
			}, []string{"leg", "outcome"}),
		}
		Registry().MustRegister(
			executorRegistry.runs,
			executorRegistry.stageLatency,
			executorRegistry.stageErrors,
			executorRegistry.lastRun,
			executorRegistry.gasUnits,
			executorRegistry.costFiat,
			executorRegistry.allocation,
			executorRegistry.vaultDebt,
			executorRegistry.prices,
			executorRegistry.routeRequests,
		)
	})
	return executorRegistry
}

// RecordRun counts a terminal result.
func (m *ExecutorMetrics) RecordRun(status, reason string, at time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(label(status), label(reason)).Inc()
	m.lastRun.Set(float64(at.Unix()))
}

// ObserveStage records how long a stage took and whether it failed.
func (m *ExecutorMetrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageLatency.WithLabelValues(label(stage)).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(label(stage)).Inc()
	}
}

// RecordEstimate stores the gas figures of the latest payload. costFiat carries 8 decimals.
func (m *ExecutorMetrics) RecordEstimate(units uint64, costFiat *big.Int) {
	if m == nil {
		return
	}
	m.gasUnits.Set(float64(units))
	m.costFiat.Set(scaled(costFiat, 8))
}

// RecordAllocation stores the EURe (18 decimals) assigned to each leg.
func (m *ExecutorMetrics) RecordAllocation(forUSDC, forETH *big.Int) {
	if m == nil {
		return
	}
	m.allocation.WithLabelValues("usdc").Set(scaled(forUSDC, 18))
	m.allocation.WithLabelValues("eth").Set(scaled(forETH, 18))
}

// RecordDebt stores the observed vault debt (6 decimals).
func (m *ExecutorMetrics) RecordDebt(debt *big.Int) {
	if m == nil {
		return
	}
	m.vaultDebt.Set(scaled(debt, 6))
}

// RecordPrice stores an 8-decimal oracle answer.
func (m *ExecutorMetrics) RecordPrice(feed string, price *big.Int) {
	if m == nil {
		return
	}
	m.prices.WithLabelValues(label(feed)).Set(scaled(price, 8))
}

// RecordRoute counts an aggregator request for leg.
func (m *ExecutorMetrics) RecordRoute(leg string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.routeRequests.WithLabelValues(label(leg), result).Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "none"
	}
	return strings.ToLower(trimmed)
}

func scaled(value *big.Int, decimals int) float64 {
	f := bigToFloat(value)
	return f / math.Pow10(decimals)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}

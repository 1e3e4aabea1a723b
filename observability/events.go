package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	transactions *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking on-chain transaction lifecycle events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rebalancer",
				Subsystem: "events",
				Name:      "transactions_total",
				Help:      "Count of execute transactions segmented by lifecycle event.",
			}, []string{"event"}),
		}
		Registry().MustRegister(eventRegistry.transactions)
	})
	return eventRegistry
}

// RecordTransaction increments the counter for a lifecycle event such as "submitted",
// "confirmed", "reverted" or "timeout".
func (m *eventMetrics) RecordTransaction(event string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(event))
	if normalized == "" {
		normalized = "unknown"
	}
	m.transactions.WithLabelValues(normalized).Inc()
}

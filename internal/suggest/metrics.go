package suggest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeDelivered = "delivered"
	outcomeStale     = "stale"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
	outcomeCoalesced = "coalesced"
)

type searchMetrics struct {
	outcomes *prometheus.CounterVec
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	searchMetricsInstance *searchMetrics
	searchMetricsOnce     sync.Once
	searchDefaultRegistry = prometheus.DefaultRegisterer
)

func newSearchMetrics() *searchMetrics {
	searchMetricsOnce.Do(func() {
		searchMetricsInstance = &searchMetrics{
			outcomes: promauto.With(searchDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "ticker_search_queries_total",
				Help: "Ticker search queries by outcome",
			}, []string{"outcome"}),
		}
	})
	return searchMetricsInstance
}

// resetSearchMetricsForTesting swaps in a fresh registry. Tests only.
func resetSearchMetricsForTesting() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	searchDefaultRegistry = reg
	searchMetricsInstance = nil
	searchMetricsOnce = sync.Once{}
	return reg
}

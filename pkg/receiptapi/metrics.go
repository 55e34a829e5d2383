package receiptapi

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type clientMetrics struct {
	duration *prometheus.HistogramVec
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	clientMetricsInstance *clientMetrics
	clientMetricsOnce     sync.Once
	clientDefaultRegistry = prometheus.DefaultRegisterer
)

func newClientMetrics() *clientMetrics {
	clientMetricsOnce.Do(func() {
		clientMetricsInstance = &clientMetrics{
			duration: promauto.With(clientDefaultRegistry).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "receipt_api_request_duration_seconds",
				Help:    "Duration of receipt backend calls",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			}, []string{"endpoint", "outcome"}),
		}
	})
	return clientMetricsInstance
}

func (m *clientMetrics) observe(endpoint string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.duration.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
}

// resetClientMetricsForTesting swaps in a fresh registry. Tests only.
func resetClientMetricsForTesting() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	clientDefaultRegistry = reg
	clientMetricsInstance = nil
	clientMetricsOnce = sync.Once{}
	return reg
}

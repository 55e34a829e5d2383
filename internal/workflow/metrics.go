package workflow

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type workflowMetrics struct {
	transitions   *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	autoAccepted  prometheus.Counter
	droppedEvents prometheus.Counter
}

// Singleton pattern for metrics (avoid double registration in tests).
var (
	wfMetricsInstance *workflowMetrics
	wfMetricsOnce     sync.Once
	wfDefaultRegistry = prometheus.DefaultRegisterer
)

func newWorkflowMetrics() *workflowMetrics {
	wfMetricsOnce.Do(func() {
		wfMetricsInstance = &workflowMetrics{
			transitions: promauto.With(wfDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "receipt_workflow_transitions_total",
				Help: "Workflow state transitions",
			}, []string{"from", "to"}),
			confirmations: promauto.With(wfDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "receipt_workflow_confirmations_total",
				Help: "Transaction confirmations by outcome",
			}, []string{"outcome"}),
			autoAccepted: promauto.With(wfDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "receipt_workflow_auto_accepted_total",
				Help: "Ticker suggestions applied without confirmation",
			}),
			droppedEvents: promauto.With(wfDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "receipt_workflow_dropped_events_total",
				Help: "Events not delivered to slow subscribers",
			}),
		}
	})
	return wfMetricsInstance
}

// resetWorkflowMetricsForTesting swaps in a fresh registry. Tests only.
func resetWorkflowMetricsForTesting() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	wfDefaultRegistry = reg
	wfMetricsInstance = nil
	wfMetricsOnce = sync.Once{}
	return reg
}

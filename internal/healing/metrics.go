package healing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// workflowsTotal counts finished workflows by result.
	workflowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healdash_workflows_total",
		Help: "Self-healing workflows by result",
	}, []string{"result"})

	// workflowDuration tracks commit-to-terminal latency.
	workflowDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "healdash_workflow_duration_seconds",
		Help:    "Self-healing workflow duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// workflowsInFlight is the number of services currently being healed.
	workflowsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "healdash_workflows_in_flight",
		Help: "Services with a running self-healing workflow",
	})

	// webhookTotal counts engine notifications by result.
	webhookTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healdash_workflow_webhook_total",
		Help: "Workflow webhook notifications by result",
	}, []string{"result"})
)

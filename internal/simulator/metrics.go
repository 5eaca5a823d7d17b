package simulator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ticksTotal counts service ticks applied to the registry.
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healdash_simulator_ticks_total",
		Help: "Service metric ticks applied",
	})

	// logsTotal counts synthetic log lines by level.
	logsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healdash_simulator_logs_total",
		Help: "Synthetic service logs emitted by level",
	}, []string{"level"})

	// demoSamplesTotal counts demo host samples by outcome.
	demoSamplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healdash_demo_samples_total",
		Help: "Demo system metric samples by result",
	}, []string{"result"})
)

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BlockHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollup",
		Name:      "block_height",
		Help:      "Number of the last sealed block.",
	})

	WitnessQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollup",
		Name:      "witness_queue_length",
		Help:      "Sealed blocks waiting for witness generation.",
	})

	WitnessesGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "witnesses_generated_total",
		Help:      "Total block witnesses generated.",
	})

	JobsPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rollup",
		Name:      "prover_jobs_pending",
		Help:      "Idle prover jobs by type.",
	}, []string{"type"})

	JobsAssigned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "prover_jobs_assigned_total",
		Help:      "Prover job assignments by type.",
	}, []string{"type"})

	ProofsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "proofs_published_total",
		Help:      "Proofs accepted from workers by type.",
	}, []string{"type"})

	ProofsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "proofs_rejected_total",
		Help:      "Proof publications rejected by reason.",
	}, []string{"reason"})

	StaleJobsReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rollup",
		Name:      "stale_jobs_reclaimed_total",
		Help:      "Jobs returned to idle after their lease expired.",
	})

	WorkersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollup",
		Name:      "prover_workers_connected",
		Help:      "Workers holding at least one active lease.",
	})
)

func init() {
	prometheus.MustRegister(
		BlockHeight,
		WitnessQueueLength,
		WitnessesGenerated,
		JobsPending,
		JobsAssigned,
		ProofsPublished,
		ProofsRejected,
		StaleJobsReclaimed,
		WorkersConnected,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

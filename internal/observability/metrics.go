package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Business metrics. Label values are drawn from small fixed sets (kinds,
// outcomes, job names) so cardinality stays bounded.
var (
	// Generations counts finished image jobs by kind and outcome
	// (succeeded|failed|insufficient_credits|replayed).
	Generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_generations_total",
			Help: "Image generation requests by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// GenerationDuration observes the upstream round trip, download and
	// re-hosting included.
	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagegen_generation_duration_seconds",
			Help:    "Duration of image jobs in seconds.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 240},
		},
		[]string{"kind"},
	)

	// CreditsGranted sums credits added to balances by ledger reason.
	CreditsGranted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_credits_granted_total",
			Help: "Credits granted by reason.",
		},
		[]string{"reason"},
	)

	// CreditsSpent sums credits debited for generations.
	CreditsSpent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagegen_credits_spent_total",
			Help: "Credits debited for image jobs.",
		},
	)

	// Checkouts counts checkout sessions by kind (topup|subscription) and
	// stage (created|settled).
	Checkouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_checkouts_total",
			Help: "Checkout sessions by kind and stage.",
		},
		[]string{"kind", "stage"},
	)

	// JobRuns counts periodic job runs by job and result (ok|error).
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_job_runs_total",
			Help: "Periodic job runs by job and result.",
		},
		[]string{"job", "result"},
	)

	// JobItems counts items processed by periodic jobs.
	JobItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagegen_job_items_total",
			Help: "Items processed by periodic jobs.",
		},
		[]string{"job"},
	)

	// JobLastSuccess is the unix time of each job's last clean run.
	JobLastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "imagegen_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		},
		[]string{"job"},
	)
)

func init() {
	prometheus.MustRegister(
		Generations, GenerationDuration,
		CreditsGranted, CreditsSpent,
		Checkouts,
		JobRuns, JobItems, JobLastSuccess,
	)
}

// ObserveJob records one job run.
func ObserveJob(job string, items int, err error) {
	if err != nil {
		JobRuns.WithLabelValues(job, "error").Inc()
	} else {
		JobRuns.WithLabelValues(job, "ok").Inc()
		JobLastSuccess.WithLabelValues(job).Set(float64(time.Now().Unix()))
	}
	if items > 0 {
		JobItems.WithLabelValues(job).Add(float64(items))
	}
}

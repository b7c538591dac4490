package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(storeValidationDuration) }

var storeValidationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "store_validation_duration_seconds",
		Help:    "Latency of store receipt and subscription status checks.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"op", "outcome"}, // op: transaction|subscription, outcome: valid|invalid|error
)

func ObserveStoreValidation(op, outcome string, d time.Duration) {
	storeValidationDuration.WithLabelValues(norm(op), norm(outcome)).Observe(d.Seconds())
}

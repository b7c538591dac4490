package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		dailyRefillAccountsTotal,
		dailyRefillBatchDuration,
	)
}

var (
	dailyRefillAccountsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_refill_accounts_total",
			Help: "Accounts processed by the daily refill, labeled by result.",
		},
		[]string{"result"}, // 'refilled', 'skipped', 'failed', 'dry_run'
	)

	dailyRefillBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daily_refill_batch_duration_seconds",
			Help:    "Wall time of one full daily refill batch run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)
)

func AddDailyRefill(result string, n int) {
	if n <= 0 {
		return
	}
	dailyRefillAccountsTotal.WithLabelValues(norm(result)).Add(float64(n))
}

func ObserveDailyRefillBatch(d time.Duration) {
	dailyRefillBatchDuration.Observe(d.Seconds())
}

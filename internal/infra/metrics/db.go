package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConnections, dbPoolAcquireTotal) }

var (
	dbPoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_connections",
			Help: "Current state of the Postgres connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'acquired', 'max'
	)

	dbPoolAcquireTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_acquire_count",
			Help: "Cumulative successful acquires reported by the pool.",
		},
	)
)

func SetDBPoolStats(total, idle, acquired, maxConns int32, acquireCount int64) {
	dbPoolConnections.WithLabelValues("total").Set(float64(total))
	dbPoolConnections.WithLabelValues("idle").Set(float64(idle))
	dbPoolConnections.WithLabelValues("acquired").Set(float64(acquired))
	dbPoolConnections.WithLabelValues("max").Set(float64(maxConns))
	dbPoolAcquireTotal.Set(float64(acquireCount))
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Cache lookup outcomes. A redis failure is counted apart from a plain miss
// so a dead cache shows up on dashboards.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

var cacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "catalog_cache_lookups_total",
		Help: "Catalog cache lookups by cache key family and outcome.",
	},
	[]string{"cache", "result"},
)

func init() { register(cacheLookups) }

func IncCacheRequest(cache, result string) {
	cacheLookups.WithLabelValues(norm(cache), norm(result)).Inc()
}

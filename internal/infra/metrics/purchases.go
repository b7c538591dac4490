package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(purchasesTotal) }

var purchasesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inapp_purchases_total",
		Help: "In-app purchase steps by stage and result.",
	},
	[]string{"stage", "result"}, // stage: init|complete|refund, result: ok or an error code
)

func IncPurchase(stage, result string) {
	purchasesTotal.WithLabelValues(norm(stage), norm(result)).Inc()
}

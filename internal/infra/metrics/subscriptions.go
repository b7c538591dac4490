package metrics

import (
	"inapp-token-ledger/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionTransitionsTotal,
		subscriptionsTotal,
	)
}

var (
	subscriptionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Subscription state machine transitions.",
		},
		[]string{"transition"}, // 'activated', 'upgraded', 'downgrade_scheduled', 'renewed', 'downgraded', 'completed', 'canceled'
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)
)

func IncSubscriptionTransition(transition string) {
	subscriptionTransitionsTotal.WithLabelValues(norm(transition)).Inc()
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusActive,
		model.SubscriptionStatusScheduled,
		model.SubscriptionStatusUpgraded,
		model.SubscriptionStatusDowngraded,
		model.SubscriptionStatusCanceled,
		model.SubscriptionStatusComplete,
	}
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

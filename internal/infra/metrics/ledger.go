package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		ledgerTransactionsTotal,
		ledgerTokensTotal,
		ledgerInvariantViolationsTotal,
	)
}

var (
	ledgerTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Ledger rows appended, labeled by transaction kind.",
		},
		[]string{"kind"},
	)

	ledgerTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_tokens_total",
			Help: "Absolute token volume appended, labeled by kind and direction.",
		},
		[]string{"kind", "direction"}, // 'credit', 'debit'
	)

	ledgerInvariantViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_invariant_violations_total",
			Help: "Balance replays that produced a negative bucket.",
		},
	)
)

func IncLedgerAppend(kind string, amount int64) {
	ledgerTransactionsTotal.WithLabelValues(norm(kind)).Inc()
	direction := "credit"
	if amount < 0 {
		direction = "debit"
		amount = -amount
	}
	ledgerTokensTotal.WithLabelValues(norm(kind), direction).Add(float64(amount))
}

func IncLedgerInvariantViolation() {
	ledgerInvariantViolationsTotal.Inc()
}

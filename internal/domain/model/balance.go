package model

import (
	"sort"
	"time"
)

// Balance is the derived state of an account's ledger. It is never persisted.
type Balance struct {
	Daily        int64
	Subscription int64
	Permanent    int64
}

func (b Balance) Total() int64 {
	return b.Daily + b.Subscription + b.Permanent
}

// Valid reports whether every bucket is non-negative.
func (b Balance) Valid() bool {
	return b.Daily >= 0 && b.Subscription >= 0 && b.Permanent >= 0
}

// Apply folds a single transaction into the balance.
//
// Debits drain daily, then subscription, then permanent. Monthly* rows move the
// subscription bucket and Daily* rows move the daily bucket; a burnout never
// exceeds its own bucket so the others stay put. Any other credit lands in
// permanent.
func (b Balance) Apply(kind TransactionKind, amount int64) Balance {
	d, s, p := b.Daily, b.Subscription, b.Permanent

	switch {
	case kind.IsMonthly():
		if amount < 0 {
			p = min(p, p+s+d+amount)
		}
		s = max(0, s+amount)
	case kind.IsDaily():
		if amount < 0 {
			p = min(p, p+s+d+amount)
			s = max(0, s+min(0, d+amount))
		}
		d += amount
	case amount < 0:
		p = min(p, p+s+d+amount)
		s = max(0, s+min(0, d+amount))
		d = max(0, d+amount)
	default:
		p += amount
	}

	return Balance{Daily: d, Subscription: s, Permanent: p}
}

// Replay computes the balance of a transaction sequence in ascending ID order.
// The input slice is not modified.
func Replay(txs []LedgerTransaction) Balance {
	ordered := txs
	if !sort.SliceIsSorted(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID }) {
		ordered = make([]LedgerTransaction, len(txs))
		copy(ordered, txs)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	}

	var b Balance
	for _, tx := range ordered {
		b = b.Apply(tx.Kind, tx.Amount)
	}
	return b
}

// BalanceView is the account balance as shown to clients.
type BalanceView struct {
	Balance
	Total                        int64
	MaxDailyTokens               int64
	MaxSubscriptionTokens        *int64
	ActiveSubscriptionTitle      string
	NextSubscriptionTokenRefresh *time.Time
	NextDailyTokenRefresh        time.Time
}

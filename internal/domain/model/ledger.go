package model

import (
	"time"

	"inapp-token-ledger/internal/domain"
)

type TransactionKind string

const (
	KindInitialBalance TransactionKind = "InitialBalance"
	KindPurchase       TransactionKind = "Purchase"
	KindPurchaseRefund TransactionKind = "PurchaseRefund"
	KindWorkflowDebit  TransactionKind = "WorkflowDebit"
	KindDailyRefill    TransactionKind = "DailyRefill"
	KindDailyBurnout   TransactionKind = "DailyBurnout"
	KindMonthlyRefill  TransactionKind = "MonthlyRefill"
	KindMonthlyBurnout TransactionKind = "MonthlyBurnout"
)

var allKinds = []TransactionKind{
	KindInitialBalance,
	KindPurchase,
	KindPurchaseRefund,
	KindWorkflowDebit,
	KindDailyRefill,
	KindDailyBurnout,
	KindMonthlyRefill,
	KindMonthlyBurnout,
}

func (k TransactionKind) Valid() bool {
	for _, v := range allKinds {
		if v == k {
			return true
		}
	}
	return false
}

func (k TransactionKind) IsMonthly() bool {
	return k == KindMonthlyRefill || k == KindMonthlyBurnout
}

func (k TransactionKind) IsDaily() bool {
	return k == KindDailyRefill || k == KindDailyBurnout
}

// LedgerTransaction is an immutable signed token delta. Replay order is ID order.
type LedgerTransaction struct {
	ID             int64
	AccountID      int64
	CreatedAt      time.Time
	Kind           TransactionKind
	Amount         int64
	SubscriptionID *int64  // set for Monthly* rows
	OrderID        *string // set for rows produced by a purchase order
	Reference      string  // store order id, workflow run id, refund marker
}

// AppendRequest is what callers hand to the ledger; ID and CreatedAt are assigned on write.
type AppendRequest struct {
	AccountID      int64
	Kind           TransactionKind
	Amount         int64
	SubscriptionID *int64
	OrderID        *string
	Reference      string
}

func (r AppendRequest) Validate() error {
	if r.AccountID <= 0 {
		return domain.ErrInvalidArgument
	}
	if !r.Kind.Valid() {
		return domain.ErrUnknownKind
	}
	return nil
}

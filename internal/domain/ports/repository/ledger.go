package repository

import (
	"context"
	"time"

	"inapp-token-ledger/internal/domain/model"
)

// LedgerRepository is the append-only token transaction store.
// There is intentionally no update or delete.
type LedgerRepository interface {
	Append(ctx context.Context, tx Tx, req model.AppendRequest) (*model.LedgerTransaction, error)
	// ListByAccount returns every transaction of the account in ascending id order.
	ListByAccount(ctx context.Context, tx Tx, accountID int64) ([]model.LedgerTransaction, error)
	FindByID(ctx context.Context, tx Tx, id int64) (*model.LedgerTransaction, error)
	// LastOfKind returns the latest transaction of kind, optionally scoped to a subscription.
	LastOfKind(ctx context.Context, tx Tx, accountID int64, kind model.TransactionKind, subscriptionID *int64) (*model.LedgerTransaction, error)
	// ExistsOnDate reports whether a transaction of kind was created on the UTC date of day.
	ExistsOnDate(ctx context.Context, tx Tx, accountID int64, kind model.TransactionKind, day time.Time) (bool, error)
	ExistsByReference(ctx context.Context, tx Tx, accountID int64, kind model.TransactionKind, reference string) (bool, error)
}

package repository

import "context"

// AccountRepository exposes the account listing and the per-account writer lock.
type AccountRepository interface {
	// Lock serializes writers of one account until tx ends. It must be called inside a transaction.
	Lock(ctx context.Context, tx Tx, accountID int64) error
	// ListRefillable pages active accounts by descending id; beforeID <= 0 starts from the top.
	ListRefillable(ctx context.Context, tx Tx, beforeID int64, limit int) ([]int64, error)
}

package repository

import (
	"context"
	"time"

	"inapp-token-ledger/internal/domain/model"
)

// PendingOrderRepository is the port for purchase orders.
type PendingOrderRepository interface {
	Save(ctx context.Context, tx Tx, o *model.PendingOrder) error
	FindByID(ctx context.Context, tx Tx, accountID int64, id string) (*model.PendingOrder, error)
	// FindPendingByProduct returns the live pending orders of the account for product.
	FindPendingByProduct(ctx context.Context, tx Tx, accountID, productID int64) ([]*model.PendingOrder, error)
	// FindCompletedByStoreOrderID returns the successful order that redeemed storeOrderID.
	FindCompletedByStoreOrderID(ctx context.Context, tx Tx, storeOrderID string) (*model.PendingOrder, error)
	// DiscardStale flips pending orders created before cutoff to not pending and returns how many.
	DiscardStale(ctx context.Context, tx Tx, cutoff time.Time, limit int) (int, error)
}

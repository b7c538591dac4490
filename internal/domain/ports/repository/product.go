package repository

import (
	"context"

	"inapp-token-ledger/internal/domain/model"
)

// ProductRepository is the read-only in-app product catalog.
type ProductRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*model.InAppProduct, error)
	FindByOfferKey(ctx context.Context, tx Tx, offerKey string) (*model.InAppProduct, error)
	FindBySKU(ctx context.Context, tx Tx, platform model.Platform, sku string) (*model.InAppProduct, error)
	// FindFreeSubscription returns the catalog's free subscription tier, if any.
	FindFreeSubscription(ctx context.Context, tx Tx) (*model.InAppProduct, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.InAppProduct, error)
}

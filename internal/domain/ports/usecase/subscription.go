package usecase

import (
	"context"

	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
)

// SubscriptionManager is what the purchase flow and the background workers need
// from the subscription state machine.
type SubscriptionManager interface {
	ActivateTx(ctx context.Context, tx repository.Tx, accountID int64, orderID string, productID int64) error
	CancelAllTx(ctx context.Context, tx repository.Tx, accountID int64) error
	RenewSubscriptionTokens(ctx context.Context, accountID int64) (*model.BalanceView, error)
}

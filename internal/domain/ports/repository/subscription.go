package repository

import (
	"context"
	"time"

	"inapp-token-ledger/internal/domain/model"
)

// SubscriptionRepository is the port for subscription terms.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	// FindOpenByAccount returns the active term with no completion stamp.
	FindOpenByAccount(ctx context.Context, tx Tx, accountID int64) (*model.Subscription, error)
	FindScheduledByAccount(ctx context.Context, tx Tx, accountID int64) (*model.Subscription, error)
	ListByAccount(ctx context.Context, tx Tx, accountID int64) ([]*model.Subscription, error)
	// ListOpenStartedBefore pages open terms for the renewal sweep, ordered by id.
	ListOpenStartedBefore(ctx context.Context, tx Tx, before time.Time, afterID int64, limit int) ([]*model.Subscription, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}

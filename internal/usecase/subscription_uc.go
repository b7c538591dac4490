// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inapp-token-ledger/internal/clock"
	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/adapter"
	"inapp-token-ledger/internal/domain/ports/repository"
	ucport "inapp-token-ledger/internal/domain/ports/usecase"
	"inapp-token-ledger/internal/infra/logging"
	"inapp-token-ledger/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time checks
var (
	_ SubscriptionUseCase        = (*subscriptionUC)(nil)
	_ ucport.SubscriptionManager = (*subscriptionUC)(nil)
)

// SubscriptionUseCase runs the subscription state machine.
//
// Rules:
//   - An account has at most one open term and at most one scheduled successor.
//   - A pricier plan (higher monthly allotment) replaces the open term at once and
//     its monthly tokens stack on top of what is left.
//   - A cheaper or equal plan is queued and takes over at the next renewal.
//   - Renewal burns what is left of the subscription bucket and refills it, at most
//     once per period, after the store confirms the subscription is still active.
//
// The *Tx variants expect the caller to hold the account lock.
type SubscriptionUseCase interface {
	ActivateSubscription(ctx context.Context, accountID int64, orderID string, productID int64) error
	ActivateTx(ctx context.Context, tx repository.Tx, accountID int64, orderID string, productID int64) error
	CancelAllSubscriptions(ctx context.Context, accountID int64) error
	CancelAllTx(ctx context.Context, tx repository.Tx, accountID int64) error
	RenewSubscriptionTokens(ctx context.Context, accountID int64) (*model.BalanceView, error)
	// RenewDue walks open terms and renews the ones whose period rolled over.
	RenewDue(ctx context.Context, pageSize int) (int, error)
	History(ctx context.Context, accountID int64) ([]*model.Subscription, error)
	RefreshStats(ctx context.Context) error
}

type subscriptionUC struct {
	tm       repository.TransactionManager
	accounts repository.AccountRepository
	subs     repository.SubscriptionRepository
	products repository.ProductRepository
	orders   repository.PendingOrderRepository
	ledger   repository.LedgerRepository
	writer   LedgerUseCase
	store    adapter.StoreValidator // optional
	allot    *allotments
	policy   TokenPolicy
	clock    clock.Clock
	log      *zerolog.Logger
}

func NewSubscriptionUseCase(
	tm repository.TransactionManager,
	accounts repository.AccountRepository,
	subs repository.SubscriptionRepository,
	products repository.ProductRepository,
	orders repository.PendingOrderRepository,
	ledger repository.LedgerRepository,
	writer LedgerUseCase,
	store adapter.StoreValidator,
	policy TokenPolicy,
	clk clock.Clock,
	logger *zerolog.Logger,
) *subscriptionUC {
	if clk == nil {
		clk = clock.System()
	}
	policy = policy.withDefaults()
	l := logger.With().Str("component", "SubscriptionUC").Logger()
	return &subscriptionUC{
		tm:       tm,
		accounts: accounts,
		subs:     subs,
		products: products,
		orders:   orders,
		ledger:   ledger,
		writer:   writer,
		store:    store,
		allot:    &allotments{subs: subs, products: products, policy: policy},
		policy:   policy,
		clock:    clk,
		log:      &l,
	}
}

func (u *subscriptionUC) ActivateSubscription(ctx context.Context, accountID int64, orderID string, productID int64) error {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ActivateSubscription")()
	return u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.accounts.Lock(ctx, tx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		return u.ActivateTx(ctx, tx, accountID, orderID, productID)
	})
}

func (u *subscriptionUC) ActivateTx(ctx context.Context, tx repository.Tx, accountID int64, orderID string, productID int64) error {
	if accountID <= 0 {
		return domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument)
	}
	log := logging.With(ctx, u.log)

	product, err := u.products.FindByID(ctx, tx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewAppError(domain.CodeInvalidProduct, domain.ErrInvalidProduct)
		}
		return fmt.Errorf("find product: %w", err)
	}
	if !product.IsSubscription || product.IsFree || !product.IsActive {
		return domain.NewAppError(domain.CodeInvalidProduct, domain.ErrInvalidProduct)
	}

	order, err := u.orders.FindByID(ctx, tx, accountID, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewAppError(domain.CodeInvalidPendingOrder, domain.ErrInvalidPendingOrder)
		}
		return fmt.Errorf("find order: %w", err)
	}
	if !order.Succeeded() || order.WasRefunded {
		return domain.NewAppError(domain.CodeInvalidPendingOrder, domain.ErrInvalidPendingOrder)
	}

	now := u.clock.Now()
	open, err := u.allot.openSubscription(ctx, tx, accountID)
	if err != nil {
		return err
	}

	if open == nil {
		if err := u.dropScheduled(ctx, tx, accountID, now); err != nil {
			return err
		}
		next, err := u.startTerm(ctx, tx, accountID, product, order, now)
		if err != nil {
			return err
		}
		metrics.IncSubscriptionTransition("activated")
		log.Info().Int64("account_id", accountID).Int64("subscription_id", next.ID).Str("product", product.Ref()).Msg("subscription activated")
		return nil
	}

	if open.ProductID == product.ID {
		log.Debug().Int64("account_id", accountID).Int64("subscription_id", open.ID).Msg("same product already active")
		return nil
	}

	if product.MonthlyTokens <= open.MonthlyAllotment {
		if err := u.dropScheduled(ctx, tx, accountID, now); err != nil {
			return err
		}
		queued, err := model.NewSubscription(accountID, product, order, now)
		if err != nil {
			return err
		}
		queued.Status = model.SubscriptionStatusScheduled
		if err := u.subs.Save(ctx, tx, queued); err != nil {
			return fmt.Errorf("save scheduled subscription: %w", err)
		}
		metrics.IncSubscriptionTransition("downgrade_scheduled")
		log.Info().
			Int64("account_id", accountID).
			Int64("current_id", open.ID).
			Str("next_product", product.Ref()).
			Msg("downgrade queued for next renewal")
		return nil
	}

	open.Close(model.SubscriptionStatusUpgraded, now)
	if err := u.subs.Save(ctx, tx, open); err != nil {
		return fmt.Errorf("close upgraded subscription: %w", err)
	}
	if err := u.dropScheduled(ctx, tx, accountID, now); err != nil {
		return err
	}
	next, err := u.startTerm(ctx, tx, accountID, product, order, now)
	if err != nil {
		return err
	}
	metrics.IncSubscriptionTransition("upgraded")
	log.Info().
		Int64("account_id", accountID).
		Int64("from_id", open.ID).
		Int64("to_id", next.ID).
		Msg("subscription upgraded")
	return nil
}

// startTerm opens a new term and credits its monthly allotment.
func (u *subscriptionUC) startTerm(ctx context.Context, tx repository.Tx, accountID int64, product *model.InAppProduct, order *model.PendingOrder, now time.Time) (*model.Subscription, error) {
	s, err := model.NewSubscription(accountID, product, order, now)
	if err != nil {
		return nil, err
	}
	if err := u.subs.Save(ctx, tx, s); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	if err := u.refill(ctx, tx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (u *subscriptionUC) refill(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if s.MonthlyAllotment <= 0 {
		return nil
	}
	id := s.ID
	_, err := u.writer.Append(ctx, tx, model.AppendRequest{
		AccountID:      s.AccountID,
		Kind:           model.KindMonthlyRefill,
		Amount:         s.MonthlyAllotment,
		SubscriptionID: &id,
	})
	return err
}

// burnout zeroes the subscription bucket against term s.
func (u *subscriptionUC) burnout(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	b, err := foldAccount(ctx, u.ledger, tx, s.AccountID, u.log)
	if err != nil {
		return err
	}
	if b.Subscription <= 0 {
		return nil
	}
	id := s.ID
	_, err = u.writer.Append(ctx, tx, model.AppendRequest{
		AccountID:      s.AccountID,
		Kind:           model.KindMonthlyBurnout,
		Amount:         -b.Subscription,
		SubscriptionID: &id,
	})
	return err
}

func (u *subscriptionUC) dropScheduled(ctx context.Context, tx repository.Tx, accountID int64, now time.Time) error {
	queued, err := u.subs.FindScheduledByAccount(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find scheduled subscription: %w", err)
	}
	queued.Close(model.SubscriptionStatusCanceled, now)
	if err := u.subs.Save(ctx, tx, queued); err != nil {
		return fmt.Errorf("cancel scheduled subscription: %w", err)
	}
	return nil
}

func (u *subscriptionUC) CancelAllSubscriptions(ctx context.Context, accountID int64) error {
	return u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.accounts.Lock(ctx, tx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		return u.CancelAllTx(ctx, tx, accountID)
	})
}

// CancelAllTx closes the open and scheduled terms. Tokens already credited stay
// until the next renewal sweep would have burned them.
func (u *subscriptionUC) CancelAllTx(ctx context.Context, tx repository.Tx, accountID int64) error {
	now := u.clock.Now()
	open, err := u.allot.openSubscription(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if open != nil {
		open.Close(model.SubscriptionStatusCanceled, now)
		if err := u.subs.Save(ctx, tx, open); err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}
		metrics.IncSubscriptionTransition("canceled")
	}
	if err := u.dropScheduled(ctx, tx, accountID, now); err != nil {
		return err
	}
	logging.With(ctx, u.log).Info().Int64("account_id", accountID).Bool("had_open", open != nil).Msg("subscriptions canceled")
	return nil
}

func (u *subscriptionUC) RenewSubscriptionTokens(ctx context.Context, accountID int64) (*model.BalanceView, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.RenewSubscriptionTokens")()
	_, view, err := u.renewAccount(ctx, accountID)
	return view, err
}

func (u *subscriptionUC) renewAccount(ctx context.Context, accountID int64) (bool, *model.BalanceView, error) {
	if accountID <= 0 {
		return false, nil, domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument)
	}
	var (
		renewed bool
		view    *model.BalanceView
	)
	err := u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.accounts.Lock(ctx, tx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		var err error
		if renewed, err = u.renewTx(ctx, tx, accountID); err != nil {
			return err
		}
		b, err := foldAccount(ctx, u.ledger, tx, accountID, u.log)
		if err != nil {
			return err
		}
		open, err := u.allot.openSubscription(ctx, tx, accountID)
		if err != nil {
			return err
		}
		view, err = u.allot.view(ctx, tx, b, open, u.clock.Now())
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return renewed, view, nil
}

// renewTx renews the open term if its current period has not been funded yet.
func (u *subscriptionUC) renewTx(ctx context.Context, tx repository.Tx, accountID int64) (bool, error) {
	log := logging.With(ctx, u.log)
	open, err := u.allot.openSubscription(ctx, tx, accountID)
	if err != nil || open == nil {
		return false, err
	}

	now := u.clock.Now()
	period := open.Period(now, u.policy.PeriodDays)
	if period < 0 {
		return false, nil
	}
	last, err := u.ledger.LastOfKind(ctx, tx, accountID, model.KindMonthlyRefill, &open.ID)
	switch {
	case err == nil && !last.CreatedAt.Before(open.PeriodStart(period, u.policy.PeriodDays)):
		return false, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return false, fmt.Errorf("last monthly refill: %w", err)
	}

	active, err := u.storeActive(ctx, open)
	if err != nil {
		return false, err
	}

	if !active {
		open.Close(model.SubscriptionStatusComplete, now)
		if err := u.subs.Save(ctx, tx, open); err != nil {
			return false, fmt.Errorf("complete subscription: %w", err)
		}
		if err := u.dropScheduled(ctx, tx, accountID, now); err != nil {
			return false, err
		}
		if err := u.burnout(ctx, tx, open); err != nil {
			return false, err
		}
		metrics.IncSubscriptionTransition("completed")
		log.Info().Int64("account_id", accountID).Int64("subscription_id", open.ID).Msg("store reports subscription inactive; term completed")
		return true, nil
	}

	queued, err := u.subs.FindScheduledByAccount(ctx, tx, accountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("find scheduled subscription: %w", err)
	}
	if queued != nil {
		open.Close(model.SubscriptionStatusDowngraded, now)
		if err := u.subs.Save(ctx, tx, open); err != nil {
			return false, fmt.Errorf("close downgraded subscription: %w", err)
		}
		queued.Status = model.SubscriptionStatusActive
		queued.StartedAt = now
		if err := u.subs.Save(ctx, tx, queued); err != nil {
			return false, fmt.Errorf("promote scheduled subscription: %w", err)
		}
		if err := u.burnout(ctx, tx, open); err != nil {
			return false, err
		}
		if err := u.refill(ctx, tx, queued); err != nil {
			return false, err
		}
		metrics.IncSubscriptionTransition("downgraded")
		log.Info().Int64("account_id", accountID).Int64("from_id", open.ID).Int64("to_id", queued.ID).Msg("scheduled downgrade applied")
		return true, nil
	}

	if err := u.burnout(ctx, tx, open); err != nil {
		return false, err
	}
	if err := u.refill(ctx, tx, open); err != nil {
		return false, err
	}
	metrics.IncSubscriptionTransition("renewed")
	log.Info().Int64("account_id", accountID).Int64("subscription_id", open.ID).Int("period", period).Msg("subscription tokens renewed")
	return true, nil
}

// storeActive asks the store whether the term is still paid for.
// Terms without a store order id are never checked.
func (u *subscriptionUC) storeActive(ctx context.Context, s *model.Subscription) (bool, error) {
	if s.StoreOrderID == "" || u.store == nil {
		return true, nil
	}
	cctx, cancel := context.WithTimeout(ctx, u.policy.StoreTimeout)
	defer cancel()

	start := time.Now()
	status, err := u.store.ValidateSubscription(cctx, s.Platform, s.StoreOrderID)
	if err != nil {
		metrics.ObserveStoreValidation("subscription", "error", time.Since(start))
		return false, domain.NewAppError(domain.CodeStoreUnavailable, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err))
	}
	outcome := "inactive"
	if status.IsActive {
		outcome = "active"
	}
	metrics.ObserveStoreValidation("subscription", outcome, time.Since(start))
	return status.IsActive, nil
}

func (u *subscriptionUC) RenewDue(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	log := logging.With(logging.WithJob(ctx, "subscription-renewal"), u.log)

	// terms started today cannot have rolled over yet
	before := model.StartOfDay(u.clock.Now())
	var afterID int64
	renewed := 0
	for {
		if err := ctx.Err(); err != nil {
			return renewed, err
		}
		page, err := u.subs.ListOpenStartedBefore(ctx, nil, before, afterID, pageSize)
		if err != nil {
			return renewed, fmt.Errorf("list open subscriptions: %w", err)
		}
		for _, s := range page {
			ok, _, err := u.renewAccount(ctx, s.AccountID)
			if err != nil {
				log.Warn().Err(err).Int64("account_id", s.AccountID).Bool("retryable", domain.IsRetryable(err)).Msg("renewal failed")
				continue
			}
			if ok {
				renewed++
			}
		}
		if len(page) < pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}
	if renewed > 0 {
		log.Info().Int("renewed", renewed).Msg("renewal sweep finished")
	}
	return renewed, nil
}

func (u *subscriptionUC) History(ctx context.Context, accountID int64) ([]*model.Subscription, error) {
	return u.subs.ListByAccount(ctx, nil, accountID)
}

func (u *subscriptionUC) RefreshStats(ctx context.Context) error {
	counts, err := u.subs.CountByStatus(ctx, nil)
	if err != nil {
		return err
	}
	metrics.SetSubscriptionsTotal(counts)
	return nil
}

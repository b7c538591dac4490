// File: internal/usecase/purchase_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inapp-token-ledger/internal/clock"
	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/adapter"
	"inapp-token-ledger/internal/domain/ports/repository"
	ucport "inapp-token-ledger/internal/domain/ports/usecase"
	"inapp-token-ledger/internal/infra/logging"
	"inapp-token-ledger/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Compile-time check
var _ PurchaseUseCase = (*purchaseUC)(nil)

// PurchaseUseCase turns a store receipt into ledger effects.
type PurchaseUseCase interface {
	// InitPurchase records a pending order for offerKey and returns its id.
	InitPurchase(ctx context.Context, accountID int64, offerKey, currency string, price decimal.Decimal) (string, error)
	// CompletePurchase validates the receipt and applies the order exactly once.
	CompletePurchase(ctx context.Context, accountID int64, orderID string, platform model.Platform, transactionData string) error
	GetOrder(ctx context.Context, accountID int64, orderID string) (*model.PendingOrder, error)
	// SweepStaleOrders discards orders left pending for longer than olderThan.
	SweepStaleOrders(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type purchaseUC struct {
	tm       repository.TransactionManager
	accounts repository.AccountRepository
	orders   repository.PendingOrderRepository
	products repository.ProductRepository
	writer   LedgerUseCase
	subs     ucport.SubscriptionManager
	store    adapter.StoreValidator
	policy   TokenPolicy
	clock    clock.Clock
	log      *zerolog.Logger
}

func NewPurchaseUseCase(
	tm repository.TransactionManager,
	accounts repository.AccountRepository,
	orders repository.PendingOrderRepository,
	products repository.ProductRepository,
	writer LedgerUseCase,
	subs ucport.SubscriptionManager,
	store adapter.StoreValidator,
	policy TokenPolicy,
	clk clock.Clock,
	logger *zerolog.Logger,
) *purchaseUC {
	if clk == nil {
		clk = clock.System()
	}
	l := logger.With().Str("component", "PurchaseUC").Logger()
	return &purchaseUC{
		tm:       tm,
		accounts: accounts,
		orders:   orders,
		products: products,
		writer:   writer,
		subs:     subs,
		store:    store,
		policy:   policy.withDefaults(),
		clock:    clk,
		log:      &l,
	}
}

func (u *purchaseUC) InitPurchase(ctx context.Context, accountID int64, offerKey, currency string, price decimal.Decimal) (string, error) {
	defer logging.TraceDuration(u.log, "PurchaseUC.InitPurchase")()
	log := logging.With(ctx, u.log)

	if accountID <= 0 || price.IsNegative() {
		metrics.IncPurchase("init", domain.CodeInvalidArgument)
		return "", domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument)
	}

	// refresh the subscription bucket before the client decides what to buy
	if u.subs != nil {
		if _, err := u.subs.RenewSubscriptionTokens(ctx, accountID); err != nil {
			log.Warn().Err(err).Int64("account_id", accountID).Msg("renewal before purchase failed")
		}
	}

	product, err := u.products.FindByOfferKey(ctx, nil, strings.TrimSpace(offerKey))
	if err != nil || !product.IsActive {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("find product: %w", err)
		}
		metrics.IncPurchase("init", domain.CodeInvalidProduct)
		return "", domain.NewAppError(domain.CodeInvalidProduct, domain.ErrInvalidProduct)
	}

	order := &model.PendingOrder{
		ID:             ulid.Make().String(),
		AccountID:      accountID,
		ProductID:      product.ID,
		OfferKey:       product.OfferKey,
		IsSubscription: product.IsSubscription,
		ClientCurrency: strings.ToUpper(strings.TrimSpace(currency)),
		ClientPrice:    price,
		IsPending:      true,
	}
	err = u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.accounts.Lock(ctx, tx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		now := u.clock.Now()
		live, err := u.orders.FindPendingByProduct(ctx, tx, accountID, product.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("find pending orders: %w", err)
		}
		for _, old := range live {
			old.Discard(now)
			if err := u.orders.Save(ctx, tx, old); err != nil {
				return fmt.Errorf("discard order %s: %w", old.ID, err)
			}
		}
		order.CreatedAt = now
		if err := u.orders.Save(ctx, tx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		if len(live) > 0 {
			log.Debug().Int64("account_id", accountID).Int("discarded", len(live)).Msg("superseded pending orders")
		}
		return nil
	})
	if err != nil {
		metrics.IncPurchase("init", "error")
		return "", err
	}
	metrics.IncPurchase("init", "ok")
	log.Info().
		Int64("account_id", accountID).
		Str("order_id", order.ID).
		Str("offer_key", product.OfferKey).
		Str("price", price.String()).
		Str("currency", order.ClientCurrency).
		Msg("purchase initiated")
	return order.ID, nil
}

func (u *purchaseUC) CompletePurchase(ctx context.Context, accountID int64, orderID string, platform model.Platform, transactionData string) error {
	defer logging.TraceDuration(u.log, "PurchaseUC.CompletePurchase")()
	log := logging.With(ctx, u.log)

	if accountID <= 0 || orderID == "" || strings.TrimSpace(transactionData) == "" {
		metrics.IncPurchase("complete", domain.CodeInvalidArgument)
		return domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument)
	}
	platform, err := model.ParsePlatform(string(platform))
	if err != nil {
		metrics.IncPurchase("complete", domain.CodeInvalidArgument)
		return domain.NewAppError(domain.CodeInvalidArgument, err)
	}

	// rejected receipts still commit the errored order; the rejection is returned after commit
	var rejected error
	err = u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
		rejected = nil
		if err := u.accounts.Lock(ctx, tx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		order, err := u.orders.FindByID(ctx, tx, accountID, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewAppError(domain.CodeInvalidPendingOrder, domain.ErrInvalidPendingOrder)
			}
			return fmt.Errorf("find order: %w", err)
		}
		if !order.IsPending {
			return domain.NewAppError(domain.CodeCompletedPendingOrder, domain.ErrOrderNotPending)
		}
		product, err := u.products.FindByID(ctx, tx, order.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewAppError(domain.CodeInvalidProduct, domain.ErrInvalidProduct)
			}
			return fmt.Errorf("find product: %w", err)
		}
		order.IsSubscription = product.IsSubscription

		if product.IsFree {
			return u.completeFree(ctx, tx, order, product, platform)
		}

		res, err := u.validate(ctx, platform, transactionData, product)
		if err != nil {
			return err
		}
		now := u.clock.Now()
		if !res.IsValid {
			if err := u.reject(ctx, tx, order, platform, res.StoreOrderIdentifier, domain.CodeInvalidStoreReceipt); err != nil {
				return err
			}
			rejected = domain.NewAppError(domain.CodeInvalidStoreReceipt, domain.ErrInvalidReceipt)
			log.Warn().
				Str("order_id", order.ID).
				Str("store_order_id", logging.Redact(res.StoreOrderIdentifier)).
				Str("receipt", logging.Redact(transactionData)).
				Str("store_error", res.Error).
				Msg("store rejected receipt")
			return nil
		}

		if product.IsSubscription {
			order.Complete(platform, res.StoreOrderIdentifier, res.Environment, now)
			if err := u.settle(ctx, tx, order, "complete order"); err != nil {
				return err
			}
			return u.applySubscription(ctx, tx, accountID, order, platform, res.ActiveSubscriptionProductSku)
		}

		if !product.MatchesSKU(platform, res.AppProductSku) {
			if err := u.reject(ctx, tx, order, platform, res.StoreOrderIdentifier, domain.CodeAnotherProduct); err != nil {
				return err
			}
			rejected = domain.NewAppError(domain.CodeAnotherProduct, domain.ErrReceiptProductMatch)
			log.Warn().
				Str("order_id", order.ID).
				Str("store_order_id", logging.Redact(res.StoreOrderIdentifier)).
				Str("store_sku", res.AppProductSku).
				Str("expected", product.SKU(platform)).
				Msg("receipt is for another product")
			return nil
		}
		prior, err := u.orders.FindCompletedByStoreOrderID(ctx, tx, res.StoreOrderIdentifier)
		switch {
		case err == nil:
			if err := u.reject(ctx, tx, order, platform, res.StoreOrderIdentifier, domain.CodeStoreOrderReused); err != nil {
				return err
			}
			rejected = domain.NewAppError(domain.CodeStoreOrderReused, domain.ErrStoreOrderReused)
			log.Warn().
				Str("order_id", order.ID).
				Str("prior_order_id", prior.ID).
				Str("store_order_id", logging.Redact(res.StoreOrderIdentifier)).
				Msg("store order id already redeemed")
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("find redeemed store order: %w", err)
		}

		order.Complete(platform, res.StoreOrderIdentifier, res.Environment, now)
		if err := u.settle(ctx, tx, order, "complete order"); err != nil {
			return err
		}
		if product.Tokens > 0 {
			id := order.ID
			if _, err := u.writer.Append(ctx, tx, model.AppendRequest{
				AccountID: accountID,
				Kind:      model.KindPurchase,
				Amount:    product.Tokens,
				OrderID:   &id,
				Reference: res.StoreOrderIdentifier,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.IncPurchase("complete", resultCode(err))
		return err
	}
	if rejected != nil {
		metrics.IncPurchase("complete", resultCode(rejected))
		return rejected
	}
	metrics.IncPurchase("complete", "ok")
	log.Info().Int64("account_id", accountID).Str("order_id", orderID).Str("platform", string(platform)).Msg("purchase completed")
	return nil
}

func (u *purchaseUC) completeFree(ctx context.Context, tx repository.Tx, order *model.PendingOrder, product *model.InAppProduct, platform model.Platform) error {
	order.Complete(platform, "free_product_"+uuid.NewString(), "", u.clock.Now())
	if err := u.settle(ctx, tx, order, "complete free order"); err != nil {
		return err
	}
	if product.Tokens <= 0 {
		return nil
	}
	id := order.ID
	_, err := u.writer.Append(ctx, tx, model.AppendRequest{
		AccountID: order.AccountID,
		Kind:      model.KindPurchase,
		Amount:    product.Tokens,
		OrderID:   &id,
		Reference: order.StoreOrderIdentifier,
	})
	return err
}

// applySubscription follows the store: its active SKU decides which plan the account is on.
func (u *purchaseUC) applySubscription(ctx context.Context, tx repository.Tx, accountID int64, order *model.PendingOrder, platform model.Platform, activeSKU string) error {
	if u.subs == nil {
		return fmt.Errorf("subscription manager not configured: %w", domain.ErrInvalidExecContext)
	}
	if activeSKU == "" {
		return u.subs.CancelAllTx(ctx, tx, accountID)
	}
	active, err := u.products.FindBySKU(ctx, tx, platform, activeSKU)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logging.With(ctx, u.log).Warn().Str("sku", activeSKU).Str("order_id", order.ID).Msg("store reports an unknown subscription sku")
			return nil
		}
		return fmt.Errorf("find product by sku: %w", err)
	}
	return u.subs.ActivateTx(ctx, tx, accountID, order.ID, active.ID)
}

// reject marks the order errored with code.
func (u *purchaseUC) reject(ctx context.Context, tx repository.Tx, order *model.PendingOrder, platform model.Platform, storeOrderID, code string) error {
	order.Fail(platform, storeOrderID, code, u.clock.Now())
	return u.settle(ctx, tx, order, "fail order")
}

// settle persists the final state of order. An order the stale sweep closed
// in the meantime stays closed.
func (u *purchaseUC) settle(ctx context.Context, tx repository.Tx, order *model.PendingOrder, op string) error {
	if err := u.orders.Save(ctx, tx, order); err != nil {
		if errors.Is(err, domain.ErrOrderNotPending) {
			return domain.NewAppError(domain.CodeCompletedPendingOrder, domain.ErrOrderNotPending)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (u *purchaseUC) validate(ctx context.Context, platform model.Platform, transactionData string, product *model.InAppProduct) (*adapter.ValidationResult, error) {
	if u.store == nil {
		return nil, domain.NewAppError(domain.CodeStoreUnavailable, domain.ErrStoreUnavailable)
	}
	cctx, cancel := context.WithTimeout(ctx, u.policy.StoreTimeout)
	defer cancel()

	start := time.Now()
	res, err := u.store.ValidateStoreTransaction(cctx, adapter.ValidateRequest{
		TransactionData:      transactionData,
		Platform:             platform,
		IsSubscription:       product.IsSubscription,
		AppStoreProductRef:   product.AppStoreProductRef,
		PlayMarketProductRef: product.PlayMarketProductRef,
	})
	if err != nil {
		metrics.ObserveStoreValidation("transaction", "error", time.Since(start))
		logging.With(ctx, u.log).Warn().Err(err).
			Str("platform", string(platform)).
			Str("receipt", logging.Redact(transactionData)).
			Msg("store validation failed")
		return nil, domain.NewAppError(domain.CodeStoreUnavailable, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err))
	}
	outcome := "valid"
	if !res.IsValid {
		outcome = "invalid"
	}
	metrics.ObserveStoreValidation("transaction", outcome, time.Since(start))
	return res, nil
}

func (u *purchaseUC) GetOrder(ctx context.Context, accountID int64, orderID string) (*model.PendingOrder, error) {
	return u.orders.FindByID(ctx, nil, accountID, orderID)
}

func (u *purchaseUC) SweepStaleOrders(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, domain.ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 500
	}
	cutoff := u.clock.Now().Add(-olderThan)
	total := 0
	for {
		n, err := u.orders.DiscardStale(ctx, nil, cutoff, limit)
		total += n
		if err != nil {
			return total, fmt.Errorf("discard stale orders: %w", err)
		}
		if n < limit {
			break
		}
	}
	if total > 0 {
		logging.With(ctx, u.log).Info().Int("discarded", total).Time("cutoff", cutoff).Msg("stale pending orders discarded")
	}
	return total, nil
}

func resultCode(err error) string {
	if code := domain.CodeOf(err); code != "" {
		return code
	}
	return "error"
}

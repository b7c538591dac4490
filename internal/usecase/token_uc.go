// File: internal/usecase/token_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
	"inapp-token-ledger/internal/infra/logging"
	"inapp-token-ledger/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ TokenUseCase = (*tokenUC)(nil)

// TokenUseCase covers the ledger writes that do not come from refills or purchases.
type TokenUseCase interface {
	// Spend debits amount for a workflow run and returns the transaction id.
	Spend(ctx context.Context, accountID, amount int64, reference string) (int64, error)
	// RefundSpend gives back a WorkflowDebit as permanent tokens. Repeated calls are no-ops.
	RefundSpend(ctx context.Context, accountID, txID int64) (int64, error)
	// RefundStoreOrder claws back the tokens of a consumable the store refunded.
	RefundStoreOrder(ctx context.Context, accountID int64, orderID string) (int64, error)
	// GrantInitialBalance credits the signup bonus once per account.
	GrantInitialBalance(ctx context.Context, accountID, amount int64) (bool, error)
}

type tokenUC struct {
	tm       repository.TransactionManager
	accounts repository.AccountRepository
	ledger   repository.LedgerRepository
	orders   repository.PendingOrderRepository
	products repository.ProductRepository
	writer   LedgerUseCase
	log      *zerolog.Logger
}

func NewTokenUseCase(
	tm repository.TransactionManager,
	accounts repository.AccountRepository,
	ledger repository.LedgerRepository,
	orders repository.PendingOrderRepository,
	products repository.ProductRepository,
	writer LedgerUseCase,
	logger *zerolog.Logger,
) *tokenUC {
	l := logger.With().Str("component", "TokenUC").Logger()
	return &tokenUC{
		tm:       tm,
		accounts: accounts,
		ledger:   ledger,
		orders:   orders,
		products: products,
		writer:   writer,
		log:      &l,
	}
}

func (u *tokenUC) Spend(ctx context.Context, accountID, amount int64, reference string) (int64, error) {
	if accountID <= 0 || amount <= 0 {
		return 0, domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument)
	}
	var id int64
	err := u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.accounts.Lock(ctx, tx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		b, err := foldAccount(ctx, u.ledger, tx, accountID, u.log)
		if err != nil {
			return err
		}
		if b.Total() < amount {
			return domain.NewAppError(domain.CodeInsufficientTokens, domain.ErrInsufficientTokens)
		}
		id, err = u.writer.Append(ctx, tx, model.AppendRequest{
			AccountID: accountID,
			Kind:      model.KindWorkflowDebit,
			Amount:    -amount,
			Reference: reference,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	logging.With(ctx, u.log).Debug().Int64("account_id", accountID).Int64("amount", amount).Str("reference", reference).Msg("tokens spent")
	return id, nil
}

func refundMarker(txID int64) string { return "refund:" + strconv.FormatInt(txID, 10) }

func (u *tokenUC) RefundSpend(ctx context.Context, accountID, txID int64) (int64, error) {
	if accountID <= 0 || txID <= 0 {
		return 0, domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument)
	}
	var id int64
	err := u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.accounts.Lock(ctx, tx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		debit, err := u.ledger.FindByID(ctx, tx, txID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewAppError(domain.CodeInvalidArgument, err)
			}
			return fmt.Errorf("find debit: %w", err)
		}
		if debit.AccountID != accountID || debit.Kind != model.KindWorkflowDebit || debit.Amount >= 0 {
			return domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument)
		}
		marker := refundMarker(txID)
		done, err := u.ledger.ExistsByReference(ctx, tx, accountID, model.KindPurchaseRefund, marker)
		if err != nil {
			return fmt.Errorf("check refund: %w", err)
		}
		if done {
			return nil
		}
		id, err = u.writer.Append(ctx, tx, model.AppendRequest{
			AccountID: accountID,
			Kind:      model.KindPurchaseRefund,
			Amount:    -debit.Amount,
			Reference: marker,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if id != 0 {
		metrics.IncPurchase("refund", "spend")
	}
	return id, nil
}

// RefundStoreOrder debits the purchased tokens. The debit follows the usual bucket
// priority so it may drain daily and subscription tokens first.
func (u *tokenUC) RefundStoreOrder(ctx context.Context, accountID int64, orderID string) (int64, error) {
	if accountID <= 0 || orderID == "" {
		return 0, domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument)
	}
	var id int64
	err := u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
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
		if !order.Succeeded() {
			return domain.NewAppError(domain.CodeInvalidPendingOrder, domain.ErrInvalidPendingOrder)
		}
		if order.WasRefunded {
			return nil
		}
		product, err := u.products.FindByID(ctx, tx, order.ProductID)
		if err != nil {
			return fmt.Errorf("find product: %w", err)
		}

		order.WasRefunded = true
		if err := u.orders.Save(ctx, tx, order); err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}
		if product.IsSubscription || product.Tokens <= 0 {
			return nil
		}

		b, err := foldAccount(ctx, u.ledger, tx, accountID, u.log)
		if err != nil {
			return err
		}
		// never push the account below zero
		amount := min(product.Tokens, b.Total())
		if amount <= 0 {
			return nil
		}
		oid := order.ID
		id, err = u.writer.Append(ctx, tx, model.AppendRequest{
			AccountID: accountID,
			Kind:      model.KindPurchaseRefund,
			Amount:    -amount,
			OrderID:   &oid,
			Reference: order.StoreOrderIdentifier,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	metrics.IncPurchase("refund", "store")
	logging.With(ctx, u.log).Info().Int64("account_id", accountID).Str("order_id", orderID).Int64("tx_id", id).Msg("store order refunded")
	return id, nil
}

func (u *tokenUC) GrantInitialBalance(ctx context.Context, accountID, amount int64) (bool, error) {
	if accountID <= 0 || amount <= 0 {
		return false, domain.NewAppError(domain.CodeInvalidArgument, domain.ErrInvalidArgument)
	}
	var granted bool
	err := u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
		granted = false
		if err := u.accounts.Lock(ctx, tx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		_, err := u.ledger.LastOfKind(ctx, tx, accountID, model.KindInitialBalance, nil)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("find initial balance: %w", err)
		}
		if _, err := u.writer.Append(ctx, tx, model.AppendRequest{
			AccountID: accountID,
			Kind:      model.KindInitialBalance,
			Amount:    amount,
		}); err != nil {
			return err
		}
		granted = true
		return nil
	})
	return granted, err
}

package usecase

import (
	"context"

	"inapp-token-ledger/internal/clock"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
	"inapp-token-ledger/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ BalanceUseCase = (*balanceUC)(nil)

// BalanceUseCase answers "what is the balance now". Nothing is cached.
type BalanceUseCase interface {
	ComputeBalance(ctx context.Context, accountID int64) (model.Balance, error)
	GetBalance(ctx context.Context, accountID int64) (*model.BalanceView, error)
}

type balanceUC struct {
	ledger repository.LedgerRepository
	allot  *allotments
	clock  clock.Clock
	log    *zerolog.Logger
}

func NewBalanceUseCase(
	ledger repository.LedgerRepository,
	subs repository.SubscriptionRepository,
	products repository.ProductRepository,
	policy TokenPolicy,
	clk clock.Clock,
	logger *zerolog.Logger,
) *balanceUC {
	if clk == nil {
		clk = clock.System()
	}
	l := logger.With().Str("component", "BalanceUC").Logger()
	return &balanceUC{
		ledger: ledger,
		allot:  &allotments{subs: subs, products: products, policy: policy.withDefaults()},
		clock:  clk,
		log:    &l,
	}
}

// ComputeBalance folds the account's ledger. Accounts with no rows have a zero balance.
func (u *balanceUC) ComputeBalance(ctx context.Context, accountID int64) (model.Balance, error) {
	return foldAccount(ctx, u.ledger, nil, accountID, logging.With(ctx, u.log))
}

func (u *balanceUC) GetBalance(ctx context.Context, accountID int64) (*model.BalanceView, error) {
	defer logging.TraceDuration(u.log, "BalanceUC.GetBalance")()

	b, err := u.ComputeBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	open, err := u.allot.openSubscription(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	return u.allot.view(ctx, nil, b, open, u.clock.Now())
}

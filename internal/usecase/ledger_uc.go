package usecase

import (
	"context"
	"fmt"

	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
	"inapp-token-ledger/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase is the only writer of token transactions.
// It checks the request shape; whether an amount is allowed is the caller's call.
type LedgerUseCase interface {
	// Append writes one transaction inside tx and returns its id.
	Append(ctx context.Context, tx repository.Tx, req model.AppendRequest) (int64, error)
	History(ctx context.Context, accountID int64) ([]model.LedgerTransaction, error)
}

type ledgerUC struct {
	ledger repository.LedgerRepository
	log    *zerolog.Logger
}

func NewLedgerUseCase(ledger repository.LedgerRepository, logger *zerolog.Logger) *ledgerUC {
	l := logger.With().Str("component", "LedgerUC").Logger()
	return &ledgerUC{ledger: ledger, log: &l}
}

func (u *ledgerUC) Append(ctx context.Context, tx repository.Tx, req model.AppendRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	row, err := u.ledger.Append(ctx, tx, req)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", req.Kind, err)
	}
	metrics.IncLedgerAppend(string(req.Kind), req.Amount)
	u.log.Debug().
		Int64("account_id", req.AccountID).
		Int64("tx_id", row.ID).
		Str("kind", string(req.Kind)).
		Int64("amount", req.Amount).
		Msg("ledger append")
	return row.ID, nil
}

func (u *ledgerUC) History(ctx context.Context, accountID int64) ([]model.LedgerTransaction, error) {
	return u.ledger.ListByAccount(ctx, nil, accountID)
}

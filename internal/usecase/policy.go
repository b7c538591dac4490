package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
	"inapp-token-ledger/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// TokenPolicy holds the token economy settings shared by the use cases.
type TokenPolicy struct {
	DailyDefault       int64
	PeriodDays         int
	DailyRefillHourUTC int
	StoreTimeout       time.Duration
}

func (p TokenPolicy) withDefaults() TokenPolicy {
	if p.DailyDefault <= 0 {
		p.DailyDefault = 30
	}
	if p.PeriodDays <= 0 {
		p.PeriodDays = 30
	}
	if p.StoreTimeout <= 0 {
		p.StoreTimeout = 10 * time.Second
	}
	return p
}

// NextDailyRefresh is the next daily refill instant after now.
func (p TokenPolicy) NextDailyRefresh(now time.Time) time.Time {
	next := model.StartOfDay(now).Add(time.Duration(p.DailyRefillHourUTC) * time.Hour)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

var writeTx = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// foldAccount replays the account's ledger inside tx.
func foldAccount(ctx context.Context, ledger repository.LedgerRepository, tx repository.Tx, accountID int64, log *zerolog.Logger) (model.Balance, error) {
	txs, err := ledger.ListByAccount(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return model.Balance{}, nil
		}
		return model.Balance{}, fmt.Errorf("list ledger: %w", err)
	}
	b := model.Replay(txs)
	if !b.Valid() {
		metrics.IncLedgerInvariantViolation()
		log.Error().
			Int64("account_id", accountID).
			Int64("daily", b.Daily).
			Int64("subscription", b.Subscription).
			Int64("permanent", b.Permanent).
			Int("transactions", len(txs)).
			Msg("ledger replay produced a negative bucket")
		return b, domain.ErrLedgerInvariant
	}
	return b, nil
}

// allotments resolves per-account allotments from the open subscription and the catalog.
type allotments struct {
	subs     repository.SubscriptionRepository
	products repository.ProductRepository
	policy   TokenPolicy
}

func (a *allotments) openSubscription(ctx context.Context, tx repository.Tx, accountID int64) (*model.Subscription, error) {
	s, err := a.subs.FindOpenByAccount(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open subscription: %w", err)
	}
	return s, nil
}

// daily returns the allotment credited by the daily refill.
func (a *allotments) daily(ctx context.Context, tx repository.Tx, open *model.Subscription) (int64, error) {
	if open != nil && open.DailyAllotment > 0 {
		return open.DailyAllotment, nil
	}
	if a.products != nil {
		free, err := a.products.FindFreeSubscription(ctx, tx)
		switch {
		case err == nil && free != nil && free.DailyTokens > 0:
			return free.DailyTokens, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return 0, fmt.Errorf("find free subscription: %w", err)
		}
	}
	return a.policy.DailyDefault, nil
}

func (a *allotments) view(ctx context.Context, tx repository.Tx, b model.Balance, open *model.Subscription, now time.Time) (*model.BalanceView, error) {
	maxDaily, err := a.daily(ctx, tx, open)
	if err != nil {
		return nil, err
	}
	v := &model.BalanceView{
		Balance:               b,
		Total:                 b.Total(),
		MaxDailyTokens:        maxDaily,
		NextDailyTokenRefresh: a.policy.NextDailyRefresh(now),
	}
	if open != nil {
		monthly := open.MonthlyAllotment
		next := open.NextRefresh(now, a.policy.PeriodDays)
		v.MaxSubscriptionTokens = &monthly
		v.ActiveSubscriptionTitle = open.Title
		v.NextSubscriptionTokenRefresh = &next
	}
	return v, nil
}

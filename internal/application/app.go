package application

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"inapp-token-ledger/internal/clock"
	"inapp-token-ledger/internal/config"
	"inapp-token-ledger/internal/domain/ports/adapter"
	"inapp-token-ledger/internal/domain/ports/repository"
	"inapp-token-ledger/internal/infra/adapters/store"
	pg "inapp-token-ledger/internal/infra/db/postgres"
	red "inapp-token-ledger/internal/infra/redis"
	"inapp-token-ledger/internal/usecase"
)

// App is the wired object graph shared by the server and the operator CLI.
type App struct {
	Config *config.Config
	Log    *zerolog.Logger
	Clock  clock.Clock
	Pool   *pgxpool.Pool
	Redis  *red.Client // nil when redis is not configured or unreachable

	Products repository.ProductRepository

	Ledger       usecase.LedgerUseCase
	Balance      usecase.BalanceUseCase
	Refill       usecase.RefillUseCase
	Subscription usecase.SubscriptionUseCase
	Purchase     usecase.PurchaseUseCase
	Tokens       usecase.TokenUseCase
}

// New connects to Postgres (and Redis when configured) and builds every use case.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	pool, err := pg.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	a := &App{Config: cfg, Log: logger, Clock: clock.System(), Pool: pool}

	var locker adapter.Locker
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable; running without product cache and refill lock")
		} else {
			a.Redis = rc
			locker = red.NewLocker(rc)
		}
	}

	validator, err := store.New(cfg.Store)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store validator: %w", err)
	}

	tm := pg.NewTxManager(pool)
	accounts := pg.NewAccountRepo(pool)
	ledgerRepo := pg.NewLedgerRepo(pool)
	subs := pg.NewSubscriptionRepo(pool)
	orders := pg.NewOrderRepo(pool)

	var products repository.ProductRepository = pg.NewProductRepo(pool)
	if a.Redis != nil {
		products = pg.NewProductRepoCacheDecorator(products, a.Redis, cfg.Redis.TTL, logger)
	}
	a.Products = products

	policy := usecase.TokenPolicy{
		DailyDefault:       cfg.Tokens.DailyDefault,
		PeriodDays:         cfg.Tokens.SubscriptionPeriodDays,
		DailyRefillHourUTC: cfg.Tokens.DailyRefillHourUTC,
		StoreTimeout:       cfg.Store.Timeout,
	}

	a.Ledger = usecase.NewLedgerUseCase(ledgerRepo, logger)
	a.Balance = usecase.NewBalanceUseCase(ledgerRepo, subs, products, policy, a.Clock, logger)
	a.Refill = usecase.NewRefillUseCase(tm, accounts, ledgerRepo, a.Ledger, subs, products, locker, policy,
		usecase.RefillOptions{
			BatchSize: cfg.Refill.BatchSize,
			Attempts:  cfg.Refill.Attempts,
			Workers:   cfg.Refill.Workers,
			LockTTL:   cfg.Refill.LockTTL,
		}, a.Clock, logger)
	subUC := usecase.NewSubscriptionUseCase(tm, accounts, subs, products, orders, ledgerRepo, a.Ledger, validator, policy, a.Clock, logger)
	a.Subscription = subUC
	a.Purchase = usecase.NewPurchaseUseCase(tm, accounts, orders, products, a.Ledger, subUC, validator, policy, a.Clock, logger)
	a.Tokens = usecase.NewTokenUseCase(tm, accounts, ledgerRepo, orders, products, a.Ledger, logger)

	return a, nil
}

// Close releases the database pool and the redis client.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("redis close")
		}
	}
	a.Pool.Close()
}

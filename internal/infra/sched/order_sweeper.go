package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"inapp-token-ledger/internal/infra/logging"
	"inapp-token-ledger/internal/usecase"
)

// OrderSweeper discards purchase orders that were never completed, so a client
// that abandoned the store sheet does not leave them pending forever.
type OrderSweeper struct {
	uc         usecase.PurchaseUseCase
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending order must be to discard
	batch      int
	log        *zerolog.Logger
}

func NewOrderSweeper(uc usecase.PurchaseUseCase, interval, staleAfter time.Duration, logger *zerolog.Logger) *OrderSweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	l := logger.With().Str("component", "OrderSweeper").Logger()
	return &OrderSweeper{uc: uc, interval: interval, staleAfter: staleAfter, batch: 200, log: &l}
}

func (w *OrderSweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

func (w *OrderSweeper) Tick(ctx context.Context) int {
	ctx = logging.WithJob(ctx, "order_sweep")
	n, err := w.uc.SweepStaleOrders(ctx, w.staleAfter, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("order sweep error")
	}
	if n > 0 {
		w.log.Info().Int("count", n).Dur("older_than", w.staleAfter).Msg("stale orders discarded")
	}
	return n
}

package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"inapp-token-ledger/internal/clock"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/infra/logging"
	"inapp-token-ledger/internal/usecase"
)

// RefillWorker runs the daily batch refill once the configured UTC hour has passed.
// RefillBatch is a no-op for accounts already refilled today, so ticking
// several times a day only picks up the accounts a previous run missed.
type RefillWorker struct {
	interval time.Duration
	hourUTC  int
	uc       usecase.RefillUseCase
	clock    clock.Clock
	log      *zerolog.Logger
}

func NewRefillWorker(interval time.Duration, hourUTC int, uc usecase.RefillUseCase, clk clock.Clock, logger *zerolog.Logger) *RefillWorker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if clk == nil {
		clk = clock.System()
	}
	l := logger.With().Str("component", "RefillWorker").Logger()
	return &RefillWorker{interval: interval, hourUTC: hourUTC, uc: uc, clock: clk, log: &l}
}

func (w *RefillWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Int("hour_utc", w.hourUTC).Msg("Starting refill worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping refill worker")
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one batch if the refill hour of the current day has passed.
// It reports whether a batch was started.
func (w *RefillWorker) Tick(ctx context.Context) bool {
	now := w.clock.Now()
	if now.Before(model.StartOfDay(now).Add(time.Duration(w.hourUTC) * time.Hour)) {
		return false
	}
	ctx = logging.WithJob(ctx, "daily_refill")
	report, err := w.uc.RefillBatch(ctx, false)
	if err != nil {
		w.log.Error().Err(err).Msg("daily refill batch failed")
		return true
	}
	if report.Refilled > 0 || report.Failed > 0 {
		w.log.Info().
			Int("refilled", report.Refilled).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Dur("duration", report.Duration).
			Msg("daily refill batch done")
	}
	return true
}

package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"inapp-token-ledger/internal/infra/logging"
	"inapp-token-ledger/internal/usecase"
)

// RenewalWorker periodically renews subscription terms whose period rolled over
// and refreshes the subscription gauges.
type RenewalWorker struct {
	interval time.Duration
	pageSize int
	subUC    usecase.SubscriptionUseCase
	log      *zerolog.Logger
}

func NewRenewalWorker(interval time.Duration, pageSize int, subUC usecase.SubscriptionUseCase, logger *zerolog.Logger) *RenewalWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	l := logger.With().Str("component", "RenewalWorker").Logger()
	return &RenewalWorker{interval: interval, pageSize: pageSize, subUC: subUC, log: &l}
}

func (w *RenewalWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting renewal worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping renewal worker")
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick renews every due term once and returns how many changed.
func (w *RenewalWorker) Tick(ctx context.Context) int {
	ctx = logging.WithJob(ctx, "subscription_renewal")
	n, err := w.subUC.RenewDue(ctx, w.pageSize)
	if err != nil {
		w.log.Error().Err(err).Msg("renewal sweep error")
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("subscriptions renewed")
	}
	if err := w.subUC.RefreshStats(ctx); err != nil {
		w.log.Warn().Err(err).Msg("refresh subscription stats")
	}
	return n
}

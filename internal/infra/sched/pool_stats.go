package sched

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"inapp-token-ledger/internal/infra/metrics"
)

// PoolStatsReporter copies pgx pool statistics into the db_pool gauges.
type PoolStatsReporter struct {
	pool     *pgxpool.Pool
	interval time.Duration
}

func NewPoolStatsReporter(pool *pgxpool.Pool, interval time.Duration) *PoolStatsReporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &PoolStatsReporter{pool: pool, interval: interval}
}

func (r *PoolStatsReporter) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		r.report()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *PoolStatsReporter) report() {
	s := r.pool.Stat()
	metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns(), s.MaxConns(), s.AcquireCount())
}

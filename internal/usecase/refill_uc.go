package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"inapp-token-ledger/internal/clock"
	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/adapter"
	"inapp-token-ledger/internal/domain/ports/repository"
	"inapp-token-ledger/internal/infra/logging"
	"inapp-token-ledger/internal/infra/metrics"
	"inapp-token-ledger/internal/infra/worker"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ RefillUseCase = (*refillUC)(nil)

// RefillReport summarizes one batch run.
type RefillReport struct {
	DryRun   bool          `json:"dry_run"`
	Scanned  int           `json:"scanned"`
	Refilled int           `json:"refilled"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// RefillUseCase tops up the daily bucket at most once per UTC day.
type RefillUseCase interface {
	// RefillOne returns true when a refill was written.
	RefillOne(ctx context.Context, accountID int64) (bool, error)
	RefillBatch(ctx context.Context, dryRun bool) (*RefillReport, error)
}

type RefillOptions struct {
	BatchSize int
	Attempts  int
	Workers   int
	LockTTL   time.Duration
}

type refillUC struct {
	tm       repository.TransactionManager
	accounts repository.AccountRepository
	ledger   repository.LedgerRepository
	writer   LedgerUseCase
	allot    *allotments
	locker   adapter.Locker // optional
	opts     RefillOptions
	clock    clock.Clock
	log      *zerolog.Logger
}

func NewRefillUseCase(
	tm repository.TransactionManager,
	accounts repository.AccountRepository,
	ledger repository.LedgerRepository,
	writer LedgerUseCase,
	subs repository.SubscriptionRepository,
	products repository.ProductRepository,
	locker adapter.Locker,
	policy TokenPolicy,
	opts RefillOptions,
	clk clock.Clock,
	logger *zerolog.Logger,
) *refillUC {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if clk == nil {
		clk = clock.System()
	}
	l := logger.With().Str("component", "RefillUC").Logger()
	return &refillUC{
		tm:       tm,
		accounts: accounts,
		ledger:   ledger,
		writer:   writer,
		allot:    &allotments{subs: subs, products: products, policy: policy.withDefaults()},
		locker:   locker,
		opts:     opts,
		clock:    clk,
		log:      &l,
	}
}

func (u *refillUC) RefillOne(ctx context.Context, accountID int64) (bool, error) {
	if accountID <= 0 {
		return false, domain.ErrInvalidArgument
	}
	var refilled bool
	err := u.tm.WithTx(ctx, writeTx, func(ctx context.Context, tx repository.Tx) error {
		refilled = false
		if err := u.accounts.Lock(ctx, tx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		now := u.clock.Now()
		done, err := u.ledger.ExistsOnDate(ctx, tx, accountID, model.KindDailyRefill, now)
		if err != nil {
			return fmt.Errorf("check daily refill: %w", err)
		}
		if done {
			return nil
		}

		open, err := u.allot.openSubscription(ctx, tx, accountID)
		if err != nil {
			return err
		}
		amount, err := u.allot.daily(ctx, tx, open)
		if err != nil {
			return err
		}
		b, err := foldAccount(ctx, u.ledger, tx, accountID, u.log)
		if err != nil {
			return err
		}

		// leftover daily tokens do not carry over; the bucket is capped at the allotment
		if b.Daily > 0 {
			if _, err := u.writer.Append(ctx, tx, model.AppendRequest{
				AccountID: accountID,
				Kind:      model.KindDailyBurnout,
				Amount:    -b.Daily,
			}); err != nil {
				return err
			}
		}
		if _, err := u.writer.Append(ctx, tx, model.AppendRequest{
			AccountID: accountID,
			Kind:      model.KindDailyRefill,
			Amount:    amount,
		}); err != nil {
			return err
		}
		refilled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return refilled, nil
}

// needsRefill is the read-only half of RefillOne used by dry runs.
func (u *refillUC) needsRefill(ctx context.Context, accountID int64) (bool, error) {
	done, err := u.ledger.ExistsOnDate(ctx, nil, accountID, model.KindDailyRefill, u.clock.Now())
	if err != nil {
		return false, err
	}
	return !done, nil
}

func (u *refillUC) RefillBatch(ctx context.Context, dryRun bool) (*RefillReport, error) {
	ctx = logging.WithJob(ctx, "daily-refill")
	log := logging.With(ctx, u.log)
	start := time.Now()
	report := &RefillReport{DryRun: dryRun}

	if u.locker != nil && !dryRun {
		key := "daily-refill:" + u.clock.Now().Format("2006-01-02")
		token, err := u.locker.TryLock(ctx, key, u.opts.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLocked):
			log.Info().Str("key", key).Msg("another refill run holds the lock; skipping")
			return report, nil
		case err != nil:
			// per-account locking keeps the run correct without the distributed lock
			log.Warn().Err(err).Msg("refill lock unavailable; continuing without it")
		default:
			defer func() {
				if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn().Err(err).Msg("refill unlock failed")
				}
			}()
		}
	}

	var beforeID int64
	for ctx.Err() == nil {
		ids, err := u.accounts.ListRefillable(ctx, nil, beforeID, u.opts.BatchSize)
		if err != nil {
			return report, fmt.Errorf("list refillable accounts: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		report.Scanned += len(ids)

		pending := ids
		for attempt := 1; attempt <= u.opts.Attempts && len(pending) > 0 && ctx.Err() == nil; attempt++ {
			var refilled, skipped int
			pending, refilled, skipped = u.runPage(ctx, pending, dryRun)
			report.Refilled += refilled
			report.Skipped += skipped
			if len(pending) > 0 {
				log.Warn().Int("attempt", attempt).Int("failed", len(pending)).Msg("refill page had failures")
			}
		}
		report.Failed += len(pending)

		beforeID = ids[len(ids)-1]
		if len(ids) < u.opts.BatchSize {
			break
		}
	}

	report.Duration = time.Since(start)
	if dryRun {
		metrics.AddDailyRefill("dry_run", report.Refilled)
	} else {
		metrics.AddDailyRefill("refilled", report.Refilled)
	}
	metrics.AddDailyRefill("skipped", report.Skipped)
	metrics.AddDailyRefill("failed", report.Failed)
	metrics.ObserveDailyRefillBatch(report.Duration)

	log.Info().
		Bool("dry_run", dryRun).
		Int("scanned", report.Scanned).
		Int("refilled", report.Refilled).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("daily refill batch finished")
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("daily refill interrupted: %w", err)
	}
	return report, nil
}

// runPage refills ids in parallel and returns the ids that failed.
func (u *refillUC) runPage(ctx context.Context, ids []int64, dryRun bool) (failed []int64, refilled, skipped int) {
	var mu sync.Mutex
	ran := make(map[int64]bool, len(ids))
	pool := worker.NewPool(u.opts.Workers, u.log)
	pool.Start(ctx)

	for _, id := range ids {
		accountID := id
		err := pool.Submit(ctx, func(ctx context.Context) error {
			var did bool
			var err error
			if dryRun {
				did, err = u.needsRefill(ctx, accountID)
			} else {
				did, err = u.RefillOne(ctx, accountID)
			}

			mu.Lock()
			defer mu.Unlock()
			ran[accountID] = true
			switch {
			case err != nil:
				failed = append(failed, accountID)
				u.log.Error().Err(err).Int64("account_id", accountID).Msg("refill failed")
			case did:
				refilled++
			default:
				skipped++
			}
			return err
		})
		if err != nil {
			mu.Lock()
			ran[accountID] = true
			failed = append(failed, accountID)
			mu.Unlock()
		}
	}
	pool.Stop()
	// the pool drains queued tasks without running them once ctx is done
	for _, id := range ids {
		if !ran[id] {
			failed = append(failed, id)
		}
	}
	return failed, refilled, skipped
}

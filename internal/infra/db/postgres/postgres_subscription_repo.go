package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, account_id, product_id, product_ref, title, order_id, platform, store_order_id,
  daily_allotment, monthly_allotment, started_at, completed_at, status, created_at`

// Save inserts when s.ID is zero and assigns the new id, otherwise updates the mutable columns.
func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if s.ID == 0 {
		const q = `
INSERT INTO subscriptions (
  account_id, product_id, product_ref, title, order_id, platform, store_order_id,
  daily_allotment, monthly_allotment, started_at, completed_at, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id;`
		row, err := pickRow(ctx, r.pool, tx, q,
			s.AccountID, s.ProductID, s.ProductRef, s.Title, s.OrderID, string(s.Platform), s.StoreOrderID,
			s.DailyAllotment, s.MonthlyAllotment, s.StartedAt, s.CompletedAt, string(s.Status), s.CreatedAt)
		if err != nil {
			return err
		}
		if err := row.Scan(&s.ID); err != nil {
			return mapErr("insert subscription", err)
		}
		return nil
	}

	const q = `
UPDATE subscriptions
   SET started_at=$2, completed_at=$3, status=$4
 WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, s.ID, s.StartedAt, s.CompletedAt, string(s.Status))
	if err != nil {
		return mapErr("update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) FindOpenByAccount(ctx context.Context, tx repository.Tx, accountID int64) (*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE account_id=$1 AND status='active' AND completed_at IS NULL
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, accountID)
}

func (r *subscriptionRepo) FindScheduledByAccount(ctx context.Context, tx repository.Tx, accountID int64) (*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE account_id=$1 AND status='scheduled'
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, accountID)
}

func (r *subscriptionRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID int64) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE account_id=$1
 ORDER BY id ASC;`
	return r.queryMany(ctx, tx, q, accountID)
}

func (r *subscriptionRepo) ListOpenStartedBefore(ctx context.Context, tx repository.Tx, before time.Time, afterID int64, limit int) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE status='active' AND completed_at IS NULL
   AND started_at < $1 AND id > $2
 ORDER BY id ASC
 LIMIT $3;`
	return r.queryMany(ctx, tx, q, before, afterID, limit)
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapErr("count subscriptions", err)
	}
	defer rows.Close()

	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.SubscriptionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSub(row)
	if err != nil {
		return nil, mapErr("find subscription", err)
	}
	return s, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr("list subscriptions", err)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSub(row pgx.Row) (*model.Subscription, error) {
	var (
		s                model.Subscription
		platform, status string
	)
	if err := row.Scan(
		&s.ID, &s.AccountID, &s.ProductID, &s.ProductRef, &s.Title, &s.OrderID, &platform, &s.StoreOrderID,
		&s.DailyAllotment, &s.MonthlyAllotment, &s.StartedAt, &s.CompletedAt, &status, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.Platform = model.Platform(platform)
	s.Status = model.SubscriptionStatus(status)
	s.StartedAt = s.StartedAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	if s.CompletedAt != nil {
		t := s.CompletedAt.UTC()
		s.CompletedAt = &t
	}
	return &s, nil
}

package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
)

var _ repository.PendingOrderRepository = (*orderRepo)(nil)

type orderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *orderRepo {
	return &orderRepo{pool: pool}
}

const orderColumns = `id, account_id, product_id, offer_key, is_subscription, client_currency, client_price::text,
  is_pending, created_at, completed_at, platform, store_order_identifier, environment, error_code, was_refunded`

// Save inserts o or updates its completion state. A row that has already
// left the pending state is only rewritten with the same outcome, so a
// discarded order cannot be completed afterwards; that case returns
// domain.ErrOrderNotPending.
func (r *orderRepo) Save(ctx context.Context, tx repository.Tx, o *model.PendingOrder) error {
	const q = `
INSERT INTO pending_orders (
  id, account_id, product_id, offer_key, is_subscription, client_currency, client_price,
  is_pending, created_at, completed_at, platform, store_order_identifier, environment, error_code, was_refunded
) VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
  is_subscription=$5, is_pending=$8, completed_at=$10, platform=$11, store_order_identifier=$12,
  environment=$13, error_code=$14, was_refunded=$15
WHERE pending_orders.is_pending
   OR (NOT EXCLUDED.is_pending
       AND pending_orders.error_code = EXCLUDED.error_code
       AND pending_orders.store_order_identifier = EXCLUDED.store_order_identifier);`

	tag, err := execSQL(ctx, r.pool, tx, q,
		o.ID, o.AccountID, o.ProductID, o.OfferKey, o.IsSubscription, o.ClientCurrency, o.ClientPrice.String(),
		o.IsPending, o.CreatedAt, o.CompletedAt, string(o.Platform), o.StoreOrderIdentifier,
		o.Environment, o.ErrorCode, o.WasRefunded)
	if err != nil {
		return mapErr("save order", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotPending
	}
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, tx repository.Tx, accountID int64, id string) (*model.PendingOrder, error) {
	const q = `SELECT ` + orderColumns + ` FROM pending_orders WHERE id=$1 AND account_id=$2;`
	row, err := pickRow(ctx, r.pool, tx, q, id, accountID)
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(row)
	if err != nil {
		return nil, mapErr("find order", err)
	}
	return o, nil
}

func (r *orderRepo) FindPendingByProduct(ctx context.Context, tx repository.Tx, accountID, productID int64) ([]*model.PendingOrder, error) {
	const q = `
SELECT ` + orderColumns + `
  FROM pending_orders
 WHERE account_id=$1 AND product_id=$2 AND is_pending
 ORDER BY created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, accountID, productID)
	if err != nil {
		return nil, mapErr("list pending orders", err)
	}
	defer rows.Close()

	var out []*model.PendingOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *orderRepo) FindCompletedByStoreOrderID(ctx context.Context, tx repository.Tx, storeOrderID string) (*model.PendingOrder, error) {
	const q = `
SELECT ` + orderColumns + `
  FROM pending_orders
 WHERE store_order_identifier=$1 AND NOT is_pending AND NOT is_subscription AND error_code=''
 LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, storeOrderID)
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(row)
	if err != nil {
		return nil, mapErr("find order by store id", err)
	}
	return o, nil
}

func (r *orderRepo) DiscardStale(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) (int, error) {
	const q = `
UPDATE pending_orders
   SET is_pending=FALSE, completed_at=NOW(), error_code=$3
 WHERE id IN (
   SELECT id FROM pending_orders
    WHERE is_pending AND created_at < $1
    ORDER BY created_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
 );`
	tag, err := execSQL(ctx, r.pool, tx, q, cutoff, limit, model.OrderDiscarded)
	if err != nil {
		return 0, mapErr("discard stale orders", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanOrder(row pgx.Row) (*model.PendingOrder, error) {
	var (
		o               model.PendingOrder
		price, platform string
	)
	if err := row.Scan(
		&o.ID, &o.AccountID, &o.ProductID, &o.OfferKey, &o.IsSubscription, &o.ClientCurrency, &price,
		&o.IsPending, &o.CreatedAt, &o.CompletedAt, &platform, &o.StoreOrderIdentifier,
		&o.Environment, &o.ErrorCode, &o.WasRefunded,
	); err != nil {
		return nil, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, err
	}
	o.ClientPrice = p
	o.Platform = model.Platform(platform)
	o.CreatedAt = o.CreatedAt.UTC()
	if o.CompletedAt != nil {
		t := o.CompletedAt.UTC()
		o.CompletedAt = &t
	}
	return &o, nil
}

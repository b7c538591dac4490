package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.ProductRepository = (*productRepo)(nil)

// productRepo reads in_app_products. The catalog is managed outside this service;
// Upsert exists for operator seeding only.
type productRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *productRepo {
	return &productRepo{pool: pool}
}

const productColumns = `id, offer_key, title, app_store_product_ref, play_market_product_ref,
  is_subscription, is_free, is_active, tokens, daily_tokens, monthly_tokens`

func (r *productRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.InAppProduct, error) {
	const q = `SELECT ` + productColumns + ` FROM in_app_products WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *productRepo) FindByOfferKey(ctx context.Context, tx repository.Tx, offerKey string) (*model.InAppProduct, error) {
	const q = `SELECT ` + productColumns + ` FROM in_app_products WHERE offer_key=$1;`
	return r.queryOne(ctx, tx, q, offerKey)
}

// FindBySKU matches the store product ref of platform case-insensitively, active products only.
func (r *productRepo) FindBySKU(ctx context.Context, tx repository.Tx, platform model.Platform, sku string) (*model.InAppProduct, error) {
	var q string
	switch platform {
	case model.PlatformIOS:
		q = `SELECT ` + productColumns + ` FROM in_app_products
 WHERE is_active AND lower(app_store_product_ref)=$1 LIMIT 1;`
	case model.PlatformAndroid:
		q = `SELECT ` + productColumns + ` FROM in_app_products
 WHERE is_active AND lower(play_market_product_ref)=$1 LIMIT 1;`
	default:
		return nil, domain.ErrInvalidArgument
	}
	return r.queryOne(ctx, tx, q, strings.ToLower(sku))
}

func (r *productRepo) FindFreeSubscription(ctx context.Context, tx repository.Tx) (*model.InAppProduct, error) {
	const q = `
SELECT ` + productColumns + `
  FROM in_app_products
 WHERE is_active AND is_free AND is_subscription
 ORDER BY id ASC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q)
}

func (r *productRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.InAppProduct, error) {
	const q = `SELECT ` + productColumns + ` FROM in_app_products WHERE is_active ORDER BY id ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapErr("list products", err)
	}
	defer rows.Close()

	var out []*model.InAppProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// Upsert inserts p or overwrites the row with the same offer key, setting p.ID.
func (r *productRepo) Upsert(ctx context.Context, tx repository.Tx, p *model.InAppProduct) error {
	if p == nil || strings.TrimSpace(p.OfferKey) == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO in_app_products (offer_key, title, app_store_product_ref, play_market_product_ref,
  is_subscription, is_free, is_active, tokens, daily_tokens, monthly_tokens)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (offer_key) DO UPDATE SET
  title=EXCLUDED.title,
  app_store_product_ref=EXCLUDED.app_store_product_ref,
  play_market_product_ref=EXCLUDED.play_market_product_ref,
  is_subscription=EXCLUDED.is_subscription,
  is_free=EXCLUDED.is_free,
  is_active=EXCLUDED.is_active,
  tokens=EXCLUDED.tokens,
  daily_tokens=EXCLUDED.daily_tokens,
  monthly_tokens=EXCLUDED.monthly_tokens
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q,
		p.OfferKey, p.Title, p.AppStoreProductRef, p.PlayMarketProductRef,
		p.IsSubscription, p.IsFree, p.IsActive, p.Tokens, p.DailyTokens, p.MonthlyTokens,
	)
	if err != nil {
		return err
	}
	if err := row.Scan(&p.ID); err != nil {
		return mapErr("upsert product", err)
	}
	return nil
}

func (r *productRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.InAppProduct, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanProduct(row)
	if err != nil {
		return nil, mapErr("find product", err)
	}
	return p, nil
}

func scanProduct(row pgx.Row) (*model.InAppProduct, error) {
	var p model.InAppProduct
	err := row.Scan(
		&p.ID, &p.OfferKey, &p.Title, &p.AppStoreProductRef, &p.PlayMarketProductRef,
		&p.IsSubscription, &p.IsFree, &p.IsActive, &p.Tokens, &p.DailyTokens, &p.MonthlyTokens,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

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

var _ repository.LedgerRepository = (*ledgerRepo)(nil)

// ledgerRepo writes token_transactions. Rows are only ever inserted.
type ledgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *ledgerRepo {
	return &ledgerRepo{pool: pool}
}

const ledgerColumns = `id, account_id, created_at, kind, amount, subscription_id, order_id, reference`

func (r *ledgerRepo) Append(ctx context.Context, tx repository.Tx, req model.AppendRequest) (*model.LedgerTransaction, error) {
	const q = `
INSERT INTO token_transactions (account_id, kind, amount, subscription_id, order_id, reference)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING ` + ledgerColumns + `;`

	row, err := pickRow(ctx, r.pool, tx, q, req.AccountID, string(req.Kind), req.Amount, req.SubscriptionID, req.OrderID, req.Reference)
	if err != nil {
		return nil, err
	}
	t, err := scanLedger(row)
	if err != nil {
		return nil, mapErr("append transaction", err)
	}
	return t, nil
}

func (r *ledgerRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID int64) ([]model.LedgerTransaction, error) {
	const q = `
SELECT ` + ledgerColumns + `
  FROM token_transactions
 WHERE account_id=$1
 ORDER BY id ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, accountID)
	if err != nil {
		return nil, mapErr("list transactions", err)
	}
	defer rows.Close()

	var out []model.LedgerTransaction
	for rows.Next() {
		t, err := scanLedger(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *ledgerRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.LedgerTransaction, error) {
	const q = `SELECT ` + ledgerColumns + ` FROM token_transactions WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *ledgerRepo) LastOfKind(ctx context.Context, tx repository.Tx, accountID int64, kind model.TransactionKind, subscriptionID *int64) (*model.LedgerTransaction, error) {
	const q = `
SELECT ` + ledgerColumns + `
  FROM token_transactions
 WHERE account_id=$1 AND kind=$2
   AND ($3::bigint IS NULL OR subscription_id=$3)
 ORDER BY id DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, accountID, string(kind), subscriptionID)
}

func (r *ledgerRepo) ExistsOnDate(ctx context.Context, tx repository.Tx, accountID int64, kind model.TransactionKind, day time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM token_transactions
   WHERE account_id=$1 AND kind=$2 AND created_at >= $3 AND created_at < $4
);`
	from := model.StartOfDay(day)
	return r.exists(ctx, tx, q, accountID, string(kind), from, from.AddDate(0, 0, 1))
}

func (r *ledgerRepo) ExistsByReference(ctx context.Context, tx repository.Tx, accountID int64, kind model.TransactionKind, reference string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM token_transactions
   WHERE account_id=$1 AND kind=$2 AND reference=$3
);`
	return r.exists(ctx, tx, q, accountID, string(kind), reference)
}

func (r *ledgerRepo) exists(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, mapErr("check transaction", err)
	}
	return ok, nil
}

func (r *ledgerRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.LedgerTransaction, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	t, err := scanLedger(row)
	if err != nil {
		return nil, mapErr("find transaction", err)
	}
	return t, nil
}

func scanLedger(row pgx.Row) (*model.LedgerTransaction, error) {
	var (
		t    model.LedgerTransaction
		kind string
	)
	if err := row.Scan(&t.ID, &t.AccountID, &t.CreatedAt, &kind, &t.Amount, &t.SubscriptionID, &t.OrderID, &t.Reference); err != nil {
		return nil, err
	}
	t.Kind = model.TransactionKind(kind)
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

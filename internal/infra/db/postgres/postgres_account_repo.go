package postgres

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/ports/repository"
)

var _ repository.AccountRepository = (*accountRepo)(nil)

type accountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *accountRepo {
	return &accountRepo{pool: pool}
}

// Lock takes a transaction-scoped advisory lock for the account. It is released
// on commit or rollback and is reentrant within the same transaction.
func (r *accountRepo) Lock(ctx context.Context, tx repository.Tx, accountID int64) error {
	if _, ok := tx.(pgx.Tx); !ok {
		return domain.ErrInvalidExecContext
	}
	const q = `SELECT pg_advisory_xact_lock($1);`
	if _, err := execSQL(ctx, r.pool, tx, q, lockKey(accountID)); err != nil {
		return mapErr("advisory lock", err)
	}
	return nil
}

// ListRefillable pages ids of accounts that are neither blocked nor deleted, newest first.
func (r *accountRepo) ListRefillable(ctx context.Context, tx repository.Tx, beforeID int64, limit int) ([]int64, error) {
	const q = `
SELECT id
  FROM accounts
 WHERE NOT is_blocked AND deleted_at IS NULL
   AND ($1::bigint <= 0 OR id < $1)
 ORDER BY id DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, beforeID, limit)
	if err != nil {
		return nil, mapErr("list refillable accounts", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ids, nil
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return ids, nil
}

// lockKey namespaces account ids so they do not collide with other advisory lock users.
func lockKey(accountID int64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("account:" + strconv.FormatInt(accountID, 10)))
	return int64(h.Sum64())
}

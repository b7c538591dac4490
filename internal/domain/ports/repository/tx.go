package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle owned by the storage adapter. nil means
// "no transaction": each statement autocommits on the pool.
type Tx interface{}

// NoTX is the explicit spelling of a nil handle.
var NoTX Tx

// TransactionManager scopes a unit of work. Every repository call made with
// the handle fn receives lands in the same transaction, which commits when
// fn returns nil. fn may run again after a serialization conflict and must
// reset anything it captures from the enclosing scope.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

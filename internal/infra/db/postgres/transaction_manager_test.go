//go:build !integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"

	"inapp-token-ledger/internal/domain"
)

func TestRetryableTxErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: serializationFailure}, true},
		{"deadlock", &pgconn.PgError{Code: deadlockDetected}, true},
		{"wrapped deadlock", fmt.Errorf("append: %w", &pgconn.PgError{Code: deadlockDetected}), true},
		{"unique violation", &pgconn.PgError{Code: uniqueViolation}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retryableTxErr(tc.err))
		})
	}
}

func TestMapErr(t *testing.T) {
	t.Run("unique violations become ErrAlreadyExists", func(t *testing.T) {
		err := mapErr("insert", &pgconn.PgError{Code: uniqueViolation, ConstraintName: "uq_x"})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("deadlocks stay visible to the tx manager", func(t *testing.T) {
		err := mapErr("insert", &pgconn.PgError{Code: deadlockDetected})
		assert.True(t, retryableTxErr(err))
	})

	t.Run("cancellation is passed through", func(t *testing.T) {
		assert.ErrorIs(t, mapErr("select", context.Canceled), context.Canceled)
	})

	t.Run("anything else is an operation failure", func(t *testing.T) {
		assert.ErrorIs(t, mapErr("select", errors.New("conn reset")), domain.ErrOperationFailed)
	})
}

func TestGetExecutor(t *testing.T) {
	_, err := getExecutor(nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = getExecutor(nil, "not a tx")
	assert.ErrorIs(t, err, domain.ErrInvalidExecContext)
}

//go:build !integration

package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inapp-token-ledger/internal/infra/worker"
)

func TestPool(t *testing.T) {
	ctx := context.Background()

	t.Run("should run every submitted task before Stop returns", func(t *testing.T) {
		p := worker.NewPool(3, nil)
		p.Start(ctx)
		var ran int32
		for i := 0; i < 50; i++ {
			require.NoError(t, p.Submit(ctx, func(ctx context.Context) error {
				atomic.AddInt32(&ran, 1)
				if i%7 == 0 {
					return errors.New("boom")
				}
				return nil
			}))
		}
		p.Stop()

		assert.Equal(t, int32(50), atomic.LoadInt32(&ran))
	})

	t.Run("should refuse work after Stop", func(t *testing.T) {
		p := worker.NewPool(1, nil)
		p.Start(ctx)
		p.Stop()
		p.Stop()

		err := p.Submit(ctx, func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, worker.ErrPoolStopped)
	})

	t.Run("should reject a nil task", func(t *testing.T) {
		p := worker.NewPool(1, nil)
		assert.Error(t, p.Submit(ctx, nil))
	})

	t.Run("a panicking task should not take the worker down", func(t *testing.T) {
		p := worker.NewPool(1, nil)
		p.Start(ctx)

		var ran int32
		require.NoError(t, p.Submit(ctx, func(ctx context.Context) error { panic("boom") }))
		require.NoError(t, p.Submit(ctx, func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}))
		p.Stop()

		assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
	})
}

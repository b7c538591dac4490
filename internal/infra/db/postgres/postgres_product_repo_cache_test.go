//go:build !integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
)

func catalog() []*model.InAppProduct {
	return []*model.InAppProduct{
		{ID: 1, OfferKey: "free", Title: "Free", IsSubscription: true, IsFree: true, IsActive: true, DailyTokens: 50},
		{ID: 2, OfferKey: "pro_monthly", Title: "Pro", AppStoreProductRef: "com.app.pro", PlayMarketProductRef: "pro_android",
			IsSubscription: true, IsActive: true, DailyTokens: 60, MonthlyTokens: 1500},
		{ID: 3, OfferKey: "legacy", Title: "Legacy", AppStoreProductRef: "com.app.legacy", IsActive: false, Tokens: 10},
	}
}

func TestProductRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	nop := zerolog.Nop()

	t.Run("FindByID should serve the second read from cache", func(t *testing.T) {
		inner := newMockInnerProductRepo(catalog()...)
		cache := newMockRedisClient()
		repo := NewProductRepoCacheDecorator(inner, cache, 0, &nop)

		first, err := repo.FindByID(ctx, nil, 2)
		require.NoError(t, err)
		second, err := repo.FindByID(ctx, nil, 2)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, "Pro", second.Title)
		assert.Equal(t, 1, inner.Calls("FindByID"))
		assert.True(t, cache.Has("product:id:2"))
	})

	t.Run("not found results should not be cached", func(t *testing.T) {
		inner := newMockInnerProductRepo(catalog()...)
		cache := newMockRedisClient()
		repo := NewProductRepoCacheDecorator(inner, cache, 0, &nop)

		_, err := repo.FindByOfferKey(ctx, nil, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = repo.FindByOfferKey(ctx, nil, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		assert.Equal(t, 2, inner.Calls("FindByOfferKey"))
		assert.False(t, cache.Has("product:offer:nope"))
	})

	t.Run("FindBySKU should match the active list case-insensitively", func(t *testing.T) {
		inner := newMockInnerProductRepo(catalog()...)
		repo := NewProductRepoCacheDecorator(inner, newMockRedisClient(), 0, &nop)

		p, err := repo.FindBySKU(ctx, nil, model.PlatformIOS, "COM.APP.PRO")
		require.NoError(t, err)
		assert.Equal(t, int64(2), p.ID)

		_, err = repo.FindBySKU(ctx, nil, model.PlatformIOS, "com.app.legacy")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		assert.Equal(t, 1, inner.Calls("ListActive"))
		assert.Zero(t, inner.Calls("FindBySKU"))
	})

	t.Run("FindFreeSubscription should come from the cached list", func(t *testing.T) {
		inner := newMockInnerProductRepo(catalog()...)
		repo := NewProductRepoCacheDecorator(inner, newMockRedisClient(), 0, &nop)

		for i := 0; i < 3; i++ {
			p, err := repo.FindFreeSubscription(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(50), p.DailyTokens)
		}
		assert.Equal(t, 1, inner.Calls("ListActive"))
	})

	t.Run("a redis outage should fall through to the database", func(t *testing.T) {
		inner := newMockInnerProductRepo(catalog()...)
		cache := newMockRedisClient()
		cache.GetErr = errors.New("redis: connection refused")
		cache.SetErr = cache.GetErr
		repo := NewProductRepoCacheDecorator(inner, cache, 0, &nop)

		p, err := repo.FindByID(ctx, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, "Free", p.Title)
		list, err := repo.ListActive(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})
}

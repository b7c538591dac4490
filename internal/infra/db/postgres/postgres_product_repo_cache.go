package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
	"inapp-token-ledger/internal/infra/metrics"
	red "inapp-token-ledger/internal/infra/redis"
)

var _ repository.ProductRepository = (*productRepoCacheDecorator)(nil)

const productListKey = "products:active"

// productRepoCacheDecorator is a read-through redis cache in front of the catalog.
// Misses and redis failures fall through to inner; not-found results are never cached.
type productRepoCacheDecorator struct {
	inner repository.ProductRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewProductRepoCacheDecorator(inner repository.ProductRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.ProductRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "ProductCache").Logger()
	return &productRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func (d *productRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.InAppProduct, error) {
	return d.one(ctx, "product", fmt.Sprintf("product:id:%d", id), func() (*model.InAppProduct, error) {
		return d.inner.FindByID(ctx, tx, id)
	})
}

func (d *productRepoCacheDecorator) FindByOfferKey(ctx context.Context, tx repository.Tx, offerKey string) (*model.InAppProduct, error) {
	return d.one(ctx, "product", "product:offer:"+offerKey, func() (*model.InAppProduct, error) {
		return d.inner.FindByOfferKey(ctx, tx, offerKey)
	})
}

// FindBySKU and FindFreeSubscription scan the active list, which is the only
// place either can match.
func (d *productRepoCacheDecorator) FindBySKU(ctx context.Context, tx repository.Tx, platform model.Platform, sku string) (*model.InAppProduct, error) {
	list, err := d.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.MatchesSKU(platform, sku) {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (d *productRepoCacheDecorator) FindFreeSubscription(ctx context.Context, tx repository.Tx) (*model.InAppProduct, error) {
	list, err := d.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.IsFree && p.IsSubscription {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (d *productRepoCacheDecorator) ListActive(ctx context.Context, tx repository.Tx) ([]*model.InAppProduct, error) {
	if list, ok := d.cachedList(ctx); ok {
		return list, nil
	}
	list, err := d.inner.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		d.store(ctx, productListKey, list)
	}
	return list, nil
}

func (d *productRepoCacheDecorator) cachedList(ctx context.Context) ([]*model.InAppProduct, bool) {
	val, err := d.cache.Get(ctx, productListKey)
	if err != nil {
		d.miss("product_list", err)
		return nil, false
	}
	var list []*model.InAppProduct
	if json.Unmarshal([]byte(val), &list) != nil {
		metrics.IncCacheRequest("product_list", metrics.CacheMiss)
		return nil, false
	}
	metrics.IncCacheRequest("product_list", metrics.CacheHit)
	return list, true
}

func (d *productRepoCacheDecorator) one(ctx context.Context, cacheName, key string, load func() (*model.InAppProduct, error)) (*model.InAppProduct, error) {
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var p model.InAppProduct
		if json.Unmarshal([]byte(val), &p) == nil {
			metrics.IncCacheRequest(cacheName, metrics.CacheHit)
			return &p, nil
		}
	}
	d.miss(cacheName, err)

	p, err := load()
	if err != nil {
		return nil, err
	}
	d.store(ctx, key, p)
	return p, nil
}

func (d *productRepoCacheDecorator) miss(cacheName string, err error) {
	if err == nil || errors.Is(err, red.ErrCacheMiss) {
		metrics.IncCacheRequest(cacheName, metrics.CacheMiss)
		return
	}
	metrics.IncCacheRequest(cacheName, metrics.CacheError)
	d.log.Warn().Err(err).Str("cache", cacheName).Msg("redis get failed")
}

func (d *productRepoCacheDecorator) store(ctx context.Context, key string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

//go:build !integration

package postgres

import (
	"context"
	"sync"
	"time"

	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/repository"
	red "inapp-token-ledger/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerProductRepo serves a fixed catalog and counts calls.
type mockInnerProductRepo struct {
	mu       sync.Mutex
	products []*model.InAppProduct
	calls    map[string]int
}

func newMockInnerProductRepo(products ...*model.InAppProduct) *mockInnerProductRepo {
	return &mockInnerProductRepo{products: products, calls: map[string]int{}}
}

func (m *mockInnerProductRepo) hit(name string) {
	m.mu.Lock()
	m.calls[name]++
	m.mu.Unlock()
}

func (m *mockInnerProductRepo) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockInnerProductRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.InAppProduct, error) {
	m.hit("FindByID")
	for _, p := range m.products {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockInnerProductRepo) FindByOfferKey(ctx context.Context, tx repository.Tx, offerKey string) (*model.InAppProduct, error) {
	m.hit("FindByOfferKey")
	for _, p := range m.products {
		if p.OfferKey == offerKey {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockInnerProductRepo) FindBySKU(ctx context.Context, tx repository.Tx, platform model.Platform, sku string) (*model.InAppProduct, error) {
	m.hit("FindBySKU")
	return nil, domain.ErrNotFound
}

func (m *mockInnerProductRepo) FindFreeSubscription(ctx context.Context, tx repository.Tx) (*model.InAppProduct, error) {
	m.hit("FindFreeSubscription")
	return nil, domain.ErrNotFound
}

func (m *mockInnerProductRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.InAppProduct, error) {
	m.hit("ListActive")
	var out []*model.InAppProduct
	for _, p := range m.products {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// mockRedisClient is a map-backed RedisClient. GetErr forces every Get to fail.
type mockRedisClient struct {
	mu     sync.Mutex
	data   map[string]string
	GetErr error
	SetErr error
}

var _ red.RedisClient = (*mockRedisClient)(nil)

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{data: map[string]string{}}
}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", m.GetErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", red.ErrCacheMiss
	}
	return v, nil
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	return nil
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mockRedisClient) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Close() error                   { return nil }

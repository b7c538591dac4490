//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"inapp-token-ledger/internal/clock"
	"inapp-token-ledger/internal/domain"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/adapter"
	"inapp-token-ledger/internal/domain/ports/repository"
)

// -----------------------------
// In-memory database
// -----------------------------

// memStore keeps every table in memory. MockTxManager snapshots it before a
// transaction and restores the snapshot when the transaction fails.
type memStore struct {
	mu    sync.Mutex
	clock clock.Clock

	nextTxID  int64
	nextSubID int64
	ledger    []model.LedgerTransaction
	subs      map[int64]*model.Subscription
	orders    map[string]*model.PendingOrder
	products  map[int64]*model.InAppProduct
	accounts  map[int64]*memAccount
	locks     map[int64]int

	// failure injection
	appendErr     func(req model.AppendRequest) error
	listLedgerErr error
}

func newMemStore(clk clock.Clock) *memStore {
	return &memStore{
		clock:    clk,
		subs:     make(map[int64]*model.Subscription),
		orders:   make(map[string]*model.PendingOrder),
		products: make(map[int64]*model.InAppProduct),
		accounts: make(map[int64]*memAccount),
		locks:    make(map[int64]int),
	}
}

type memSnapshot struct {
	nextTxID  int64
	nextSubID int64
	ledger    []model.LedgerTransaction
	subs      map[int64]model.Subscription
	orders    map[string]model.PendingOrder
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		nextTxID:  s.nextTxID,
		nextSubID: s.nextSubID,
		ledger:    append([]model.LedgerTransaction(nil), s.ledger...),
		subs:      make(map[int64]model.Subscription, len(s.subs)),
		orders:    make(map[string]model.PendingOrder, len(s.orders)),
	}
	for k, v := range s.subs {
		snap.subs[k] = *v
	}
	for k, v := range s.orders {
		snap.orders[k] = *v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTxID = snap.nextTxID
	s.nextSubID = snap.nextSubID
	s.ledger = snap.ledger
	s.subs = make(map[int64]*model.Subscription, len(snap.subs))
	for k, v := range snap.subs {
		cp := v
		s.subs[k] = &cp
	}
	s.orders = make(map[string]*model.PendingOrder, len(snap.orders))
	for k, v := range snap.orders {
		cp := v
		s.orders[k] = &cp
	}
}

// seeding helpers

func (s *memStore) addAccount(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.accounts[id] = &memAccount{}
	}
}

func (s *memStore) addProduct(p model.InAppProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.products[p.ID] = &cp
}

func (s *memStore) removeProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

func (s *memStore) addOrder(o model.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := o
	s.orders[o.ID] = &cp
}

func (s *memStore) order(id string) model.PendingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *memStore) txs(accountID int64) []model.LedgerTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LedgerTransaction
	for _, t := range s.ledger {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) countKind(accountID int64, kind model.TransactionKind) int {
	n := 0
	for _, t := range s.txs(accountID) {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

func (s *memStore) subscriptions(accountID int64) []model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Subscription
	for _, v := range s.subs {
		if v.AccountID == accountID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) lockCount(accountID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[accountID]
}

// ---- LedgerRepository ----

type memLedgerRepo struct{ s *memStore }

var _ repository.LedgerRepository = (*memLedgerRepo)(nil)

func (r *memLedgerRepo) Append(ctx context.Context, tx repository.Tx, req model.AppendRequest) (*model.LedgerTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.appendErr != nil {
		if err := r.s.appendErr(req); err != nil {
			return nil, err
		}
	}
	r.s.nextTxID++
	t := model.LedgerTransaction{
		ID:        r.s.nextTxID,
		AccountID: req.AccountID,
		CreatedAt: r.s.clock.Now(),
		Kind:      req.Kind,
		Amount:    req.Amount,
		Reference: req.Reference,
	}
	if req.SubscriptionID != nil {
		v := *req.SubscriptionID
		t.SubscriptionID = &v
	}
	if req.OrderID != nil {
		v := *req.OrderID
		t.OrderID = &v
	}
	r.s.ledger = append(r.s.ledger, t)
	return &t, nil
}

func (r *memLedgerRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID int64) ([]model.LedgerTransaction, error) {
	if r.s.listLedgerErr != nil {
		return nil, r.s.listLedgerErr
	}
	return r.s.txs(accountID), nil
}

func (r *memLedgerRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.LedgerTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.ledger {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memLedgerRepo) LastOfKind(ctx context.Context, tx repository.Tx, accountID int64, kind model.TransactionKind, subscriptionID *int64) (*model.LedgerTransaction, error) {
	txs := r.s.txs(accountID)
	for i := len(txs) - 1; i >= 0; i-- {
		t := txs[i]
		if t.Kind != kind {
			continue
		}
		if subscriptionID != nil && (t.SubscriptionID == nil || *t.SubscriptionID != *subscriptionID) {
			continue
		}
		return &t, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memLedgerRepo) ExistsOnDate(ctx context.Context, tx repository.Tx, accountID int64, kind model.TransactionKind, day time.Time) (bool, error) {
	want := model.StartOfDay(day)
	for _, t := range r.s.txs(accountID) {
		if t.Kind == kind && model.StartOfDay(t.CreatedAt).Equal(want) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memLedgerRepo) ExistsByReference(ctx context.Context, tx repository.Tx, accountID int64, kind model.TransactionKind, reference string) (bool, error) {
	for _, t := range r.s.txs(accountID) {
		if t.Kind == kind && t.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

// ---- SubscriptionRepository ----

type memSubscriptionRepo struct{ s *memStore }

var _ repository.SubscriptionRepository = (*memSubscriptionRepo)(nil)

func (r *memSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub.ID == 0 {
		r.s.nextSubID++
		sub.ID = r.s.nextSubID
	}
	cp := *sub
	r.s.subs[sub.ID] = &cp
	return nil
}

func (r *memSubscriptionRepo) find(accountID int64, match func(*model.Subscription) bool) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *model.Subscription
	for _, v := range r.s.subs {
		if v.AccountID == accountID && match(v) && (found == nil || v.ID > found.ID) {
			found = v
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (r *memSubscriptionRepo) FindOpenByAccount(ctx context.Context, tx repository.Tx, accountID int64) (*model.Subscription, error) {
	return r.find(accountID, func(s *model.Subscription) bool { return s.IsOpen() })
}

func (r *memSubscriptionRepo) FindScheduledByAccount(ctx context.Context, tx repository.Tx, accountID int64) (*model.Subscription, error) {
	return r.find(accountID, func(s *model.Subscription) bool { return s.Status == model.SubscriptionStatusScheduled })
}

func (r *memSubscriptionRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID int64) ([]*model.Subscription, error) {
	var out []*model.Subscription
	for _, v := range r.s.subscriptions(accountID) {
		cp := v
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memSubscriptionRepo) ListOpenStartedBefore(ctx context.Context, tx repository.Tx, before time.Time, afterID int64, limit int) ([]*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Subscription
	for _, v := range r.s.subs {
		if v.IsOpen() && v.StartedAt.Before(before) && v.ID > afterID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, v := range r.s.subs {
		out[v.Status]++
	}
	return out, nil
}

// ---- PendingOrderRepository ----

type memOrderRepo struct{ s *memStore }

var _ repository.PendingOrderRepository = (*memOrderRepo)(nil)

// Save mirrors the postgres upsert guard and the partial unique index on
// redeemed consumable store ids.
func (r *memOrderRepo) Save(ctx context.Context, tx repository.Tx, o *model.PendingOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, ok := r.s.orders[o.ID]; ok && !cur.IsPending {
		if o.IsPending || cur.ErrorCode != o.ErrorCode || cur.StoreOrderIdentifier != o.StoreOrderIdentifier {
			return domain.ErrOrderNotPending
		}
	}
	if o.Succeeded() && !o.IsSubscription && o.StoreOrderIdentifier != "" {
		for id, other := range r.s.orders {
			if id != o.ID && other.Succeeded() && !other.IsSubscription && other.StoreOrderIdentifier == o.StoreOrderIdentifier {
				return domain.ErrAlreadyExists
			}
		}
	}
	cp := *o
	r.s.orders[o.ID] = &cp
	return nil
}

func (r *memOrderRepo) FindByID(ctx context.Context, tx repository.Tx, accountID int64, id string) (*model.PendingOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok || o.AccountID != accountID {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memOrderRepo) FindPendingByProduct(ctx context.Context, tx repository.Tx, accountID, productID int64) ([]*model.PendingOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.PendingOrder
	for _, o := range r.s.orders {
		if o.AccountID == accountID && o.ProductID == productID && o.IsPending {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memOrderRepo) FindCompletedByStoreOrderID(ctx context.Context, tx repository.Tx, storeOrderID string) (*model.PendingOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.Succeeded() && !o.IsSubscription && o.StoreOrderIdentifier == storeOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memOrderRepo) DiscardStale(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, o := range r.s.orders {
		if n >= limit {
			break
		}
		if o.IsPending && o.CreatedAt.Before(cutoff) {
			o.Discard(r.s.clock.Now())
			n++
		}
	}
	return n, nil
}

// ---- ProductRepository ----

type memProductRepo struct{ s *memStore }

var _ repository.ProductRepository = (*memProductRepo)(nil)

func (r *memProductRepo) first(match func(*model.InAppProduct) bool) (*model.InAppProduct, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]int64, 0, len(r.s.products))
	for id := range r.s.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if p := r.s.products[id]; match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memProductRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.InAppProduct, error) {
	return r.first(func(p *model.InAppProduct) bool { return p.ID == id })
}

func (r *memProductRepo) FindByOfferKey(ctx context.Context, tx repository.Tx, offerKey string) (*model.InAppProduct, error) {
	return r.first(func(p *model.InAppProduct) bool { return p.OfferKey == offerKey })
}

func (r *memProductRepo) FindBySKU(ctx context.Context, tx repository.Tx, platform model.Platform, sku string) (*model.InAppProduct, error) {
	return r.first(func(p *model.InAppProduct) bool { return p.MatchesSKU(platform, sku) })
}

func (r *memProductRepo) FindFreeSubscription(ctx context.Context, tx repository.Tx) (*model.InAppProduct, error) {
	return r.first(func(p *model.InAppProduct) bool { return p.IsFree && p.IsSubscription && p.IsActive })
}

func (r *memProductRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.InAppProduct, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.InAppProduct
	for _, p := range r.s.products {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- AccountRepository ----

// memAccount is a row of the accounts table.
type memAccount struct {
	IsBlocked bool
	DeletedAt *time.Time
}

type memAccountRepo struct {
	s *memStore

	// failing account ids; a value > 0 fails that many Lock calls
	failLocks map[int64]int
	// onLock, when set, runs before every successful Lock
	onLock func(accountID int64)
	mu     sync.Mutex
}

var _ repository.AccountRepository = (*memAccountRepo)(nil)

func (r *memAccountRepo) Lock(ctx context.Context, tx repository.Tx, accountID int64) error {
	r.mu.Lock()
	if n := r.failLocks[accountID]; n > 0 {
		r.failLocks[accountID] = n - 1
		r.mu.Unlock()
		return errors.New("lock timeout")
	}
	r.mu.Unlock()
	if r.onLock != nil {
		r.onLock(accountID)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.locks[accountID]++
	return nil
}

func (r *memAccountRepo) ListRefillable(ctx context.Context, tx repository.Tx, beforeID int64, limit int) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []int64
	for id, a := range r.s.accounts {
		if a.IsBlocked || a.DeletedAt != nil {
			continue
		}
		if beforeID > 0 && id >= beforeID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// -----------------------------
// Transactions
// -----------------------------

type MockTxManager struct {
	mu    sync.Mutex
	store *memStore

	Commits   int
	Rollbacks int
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager(store *memStore) *MockTxManager {
	return &MockTxManager{store: store}
}

// WithTx runs transactions one at a time and undoes the writes of a failed one.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.store.snapshot()
	if err := fn(ctx, repository.NoTX); err != nil {
		m.store.restore(snap)
		m.Rollbacks++
		return err
	}
	m.Commits++
	return nil
}

// -----------------------------
// Adapters
// -----------------------------

// MockStoreValidator accepts every receipt for the requested product unless told otherwise.
type MockStoreValidator struct {
	mu sync.Mutex

	ValidateFunc     func(ctx context.Context, req adapter.ValidateRequest) (*adapter.ValidationResult, error)
	SubscriptionFunc func(ctx context.Context, platform model.Platform, storeOrderID string) (*adapter.SubscriptionStatus, error)

	ValidateCalls     int
	SubscriptionCalls int
}

var _ adapter.StoreValidator = (*MockStoreValidator)(nil)

func (m *MockStoreValidator) ValidateStoreTransaction(ctx context.Context, req adapter.ValidateRequest) (*adapter.ValidationResult, error) {
	m.mu.Lock()
	m.ValidateCalls++
	m.mu.Unlock()
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, req)
	}
	sku := req.AppStoreProductRef
	if req.Platform == model.PlatformAndroid {
		sku = req.PlayMarketProductRef
	}
	res := &adapter.ValidationResult{
		IsValid:              true,
		AppProductSku:        sku,
		StoreOrderIdentifier: "store-" + req.TransactionData,
		Environment:          "Sandbox",
		IsSubscription:       req.IsSubscription,
	}
	if req.IsSubscription {
		res.ActiveSubscriptionProductSku = sku
	}
	return res, nil
}

func (m *MockStoreValidator) ValidateSubscription(ctx context.Context, platform model.Platform, storeOrderID string) (*adapter.SubscriptionStatus, error) {
	m.mu.Lock()
	m.SubscriptionCalls++
	m.mu.Unlock()
	if m.SubscriptionFunc != nil {
		return m.SubscriptionFunc(ctx, platform, storeOrderID)
	}
	return &adapter.SubscriptionStatus{IsActive: true}, nil
}

// MockLocker is an in-memory adapter.Locker.
type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	Err   error
	Calls int
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]string)}
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return "", m.Err
	}
	if _, ok := m.held[key]; ok {
		return "", domain.ErrLocked
	}
	token := "tok-" + strings.ReplaceAll(key, ":", "-")
	m.held[key] = token
	return token, nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

func (m *MockLocker) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
// logBuffer collects log lines written from concurrent goroutines.
type logBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *logBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *logBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func newTestLogger(w io.Writer) *zerolog.Logger {
	logger := zerolog.New(w)
	return &logger
}

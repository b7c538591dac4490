//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"inapp-token-ledger/internal/clock"
	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/usecase"
)

const (
	productFree     int64 = 1
	productBasic    int64 = 2
	productPro      int64 = 3
	productTokens   int64 = 4
	productGift     int64 = 5
	productRetired  int64 = 6
	productStandard int64 = 7
)

var testStart = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

func catalog() []model.InAppProduct {
	return []model.InAppProduct{
		{ID: productFree, OfferKey: "free", Title: "Free", IsSubscription: true, IsFree: true, IsActive: true, DailyTokens: 50},
		{ID: productBasic, OfferKey: "basic_monthly", Title: "Basic", AppStoreProductRef: "com.app.basic", PlayMarketProductRef: "basic_android",
			IsSubscription: true, IsActive: true, DailyTokens: 40, MonthlyTokens: 500},
		{ID: productPro, OfferKey: "pro_monthly", Title: "Pro", AppStoreProductRef: "com.app.pro", PlayMarketProductRef: "pro_android",
			IsSubscription: true, IsActive: true, DailyTokens: 60, MonthlyTokens: 1500},
		{ID: productTokens, OfferKey: "tokens_1000", Title: "1000 tokens", AppStoreProductRef: "com.app.tokens1000", PlayMarketProductRef: "tokens_1000",
			IsActive: true, Tokens: 1000},
		{ID: productGift, OfferKey: "gift", Title: "Gift", IsFree: true, IsActive: true, Tokens: 100},
		{ID: productRetired, OfferKey: "retired", Title: "Retired", AppStoreProductRef: "com.app.retired", Tokens: 10},
		{ID: productStandard, OfferKey: "standard_monthly", Title: "Standard", AppStoreProductRef: "com.app.standard", PlayMarketProductRef: "standard_android",
			IsSubscription: true, IsActive: true, DailyTokens: 45, MonthlyTokens: 500},
	}
}

type testEnv struct {
	store     *memStore
	clock     *clock.FakeClock
	tm        *MockTxManager
	accounts  *memAccountRepo
	validator *MockStoreValidator
	locker    *MockLocker
	logs      *logBuffer

	ledger   usecase.LedgerUseCase
	balance  usecase.BalanceUseCase
	refill   usecase.RefillUseCase
	subs     usecase.SubscriptionUseCase
	purchase usecase.PurchaseUseCase
	tokens   usecase.TokenUseCase
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewFakeClock(testStart)
	store := newMemStore(clk)
	for _, p := range catalog() {
		store.addProduct(p)
	}
	store.addAccount(1, 2, 3)

	e := &testEnv{
		store:     store,
		clock:     clk,
		tm:        NewMockTxManager(store),
		accounts:  &memAccountRepo{s: store, failLocks: map[int64]int{}},
		validator: &MockStoreValidator{},
		locker:    NewMockLocker(),
		logs:      &logBuffer{},
	}
	logger := newTestLogger(e.logs)
	ledgerRepo := &memLedgerRepo{s: store}
	subRepo := &memSubscriptionRepo{s: store}
	orderRepo := &memOrderRepo{s: store}
	productRepo := &memProductRepo{s: store}
	policy := usecase.TokenPolicy{DailyDefault: 30, PeriodDays: 30, DailyRefillHourUTC: 1, StoreTimeout: time.Second}

	e.ledger = usecase.NewLedgerUseCase(ledgerRepo, logger)
	e.balance = usecase.NewBalanceUseCase(ledgerRepo, subRepo, productRepo, policy, clk, logger)
	e.refill = usecase.NewRefillUseCase(e.tm, e.accounts, ledgerRepo, e.ledger, subRepo, productRepo, e.locker, policy,
		usecase.RefillOptions{BatchSize: 2, Attempts: 3, Workers: 2, LockTTL: time.Minute}, clk, logger)
	e.subs = usecase.NewSubscriptionUseCase(e.tm, e.accounts, subRepo, productRepo, orderRepo, ledgerRepo, e.ledger, e.validator, policy, clk, logger)
	e.purchase = usecase.NewPurchaseUseCase(e.tm, e.accounts, orderRepo, productRepo, e.ledger, e.subs, e.validator, policy, clk, logger)
	e.tokens = usecase.NewTokenUseCase(e.tm, e.accounts, ledgerRepo, orderRepo, productRepo, e.ledger, logger)
	return e
}

func (e *testEnv) balanceOf(t *testing.T, accountID int64) model.Balance {
	t.Helper()
	b, err := e.balance.ComputeBalance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) credit(t *testing.T, accountID int64, kind model.TransactionKind, amount int64) {
	t.Helper()
	_, err := e.ledger.Append(context.Background(), nil, model.AppendRequest{AccountID: accountID, Kind: kind, Amount: amount})
	require.NoError(t, err)
}

// paidOrder seeds a completed order for productID, as the purchase flow leaves it.
func (e *testEnv) paidOrder(accountID, productID int64, id string) string {
	at := e.clock.Now()
	e.store.addOrder(model.PendingOrder{
		ID:                   id,
		AccountID:            accountID,
		ProductID:            productID,
		CreatedAt:            at,
		CompletedAt:          &at,
		Platform:             model.PlatformIOS,
		StoreOrderIdentifier: "store-" + id,
	})
	return id
}

// buy runs InitPurchase and CompletePurchase for offerKey on iOS.
func (e *testEnv) buy(t *testing.T, accountID int64, offerKey, receipt string) string {
	t.Helper()
	ctx := context.Background()
	orderID, err := e.purchase.InitPurchase(ctx, accountID, offerKey, "usd", mustPrice("4.99"))
	require.NoError(t, err)
	require.NoError(t, e.purchase.CompletePurchase(ctx, accountID, orderID, model.PlatformIOS, receipt))
	return orderID
}

func (e *testEnv) openSubscription(accountID int64) *model.Subscription {
	for _, s := range e.store.subscriptions(accountID) {
		if s.IsOpen() {
			cp := s
			return &cp
		}
	}
	return nil
}

func mustPrice(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const day = 24 * time.Hour

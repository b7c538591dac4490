package store

import (
	"context"
	"strings"
	"sync"

	"inapp-token-ledger/internal/domain/model"
	"inapp-token-ledger/internal/domain/ports/adapter"
)

var _ adapter.StoreValidator = (*StaticValidator)(nil)

// InvalidPrefix marks transaction data the static validator rejects.
const InvalidPrefix = "invalid"

// StaticValidator accepts every receipt without calling a store. It is meant
// for local runs and sandbox environments.
//
// Transaction data starting with InvalidPrefix is rejected. Every accepted
// receipt reports the requested product, and subscriptions stay active until
// Expire is called for their store order id.
type StaticValidator struct {
	mu      sync.Mutex
	expired map[string]bool
}

func NewStaticValidator() *StaticValidator {
	return &StaticValidator{expired: make(map[string]bool)}
}

func (v *StaticValidator) ValidateStoreTransaction(ctx context.Context, req adapter.ValidateRequest) (*adapter.ValidationResult, error) {
	if strings.HasPrefix(req.TransactionData, InvalidPrefix) {
		return &adapter.ValidationResult{IsValid: false, Error: "rejected by static validator"}, nil
	}
	sku := req.AppStoreProductRef
	if req.Platform == model.PlatformAndroid {
		sku = req.PlayMarketProductRef
	}
	res := &adapter.ValidationResult{
		IsValid:              true,
		AppProductSku:        sku,
		StoreOrderIdentifier: "static-" + req.TransactionData,
		Environment:          "Sandbox",
		IsSubscription:       req.IsSubscription,
	}
	if req.IsSubscription {
		res.ActiveSubscriptionProductSku = sku
	}
	return res, nil
}

func (v *StaticValidator) ValidateSubscription(ctx context.Context, platform model.Platform, storeOrderIdentifier string) (*adapter.SubscriptionStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return &adapter.SubscriptionStatus{IsActive: !v.expired[storeOrderIdentifier]}, nil
}

// Expire makes later status checks for storeOrderIdentifier report inactive.
func (v *StaticValidator) Expire(storeOrderIdentifier string) {
	v.mu.Lock()
	v.expired[storeOrderIdentifier] = true
	v.mu.Unlock()
}

package adapter

import (
	"context"

	"inapp-token-ledger/internal/domain/model"
)

// ValidateRequest is what the store validator needs to check one receipt.
type ValidateRequest struct {
	// TransactionData is the transaction id for the App Store and the purchase token for Google Play.
	TransactionData      string
	Platform             model.Platform
	IsSubscription       bool
	AppStoreProductRef   string
	PlayMarketProductRef string
}

type ValidationResult struct {
	IsValid       bool
	AppProductSku string
	// StoreOrderIdentifier is the original transaction id on the App Store, usable for status checks.
	StoreOrderIdentifier         string
	Environment                  string
	IsSubscription               bool
	ActiveSubscriptionProductSku string
	Error                        string
}

type SubscriptionStatus struct {
	IsActive bool
}

// StoreValidator checks receipts against the App Store / Google Play.
// A returned error means the store could not be reached; an invalid receipt is a
// result with IsValid=false.
type StoreValidator interface {
	ValidateStoreTransaction(ctx context.Context, req ValidateRequest) (*ValidationResult, error)
	ValidateSubscription(ctx context.Context, platform model.Platform, storeOrderIdentifier string) (*SubscriptionStatus, error)
}

package model

import (
	"strings"
	"time"

	"inapp-token-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

type Platform string

const (
	PlatformIOS     Platform = "iOS"
	PlatformAndroid Platform = "Android"
)

// ParsePlatform accepts the platform names clients send, case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ios", "appstore", "app_store":
		return PlatformIOS, nil
	case "android", "playmarket", "play_market", "googleplay":
		return PlatformAndroid, nil
	default:
		return "", domain.ErrInvalidArgument
	}
}

// OrderDiscarded is the error code of orders superseded by a newer init or swept as stale.
const OrderDiscarded = "Discarded"

// PendingOrder bridges a purchase intent and its store confirmation.
type PendingOrder struct {
	ID                   string // ULID
	AccountID            int64
	ProductID            int64
	OfferKey             string
	IsSubscription       bool
	ClientCurrency       string
	ClientPrice          decimal.Decimal
	IsPending            bool
	CreatedAt            time.Time
	CompletedAt          *time.Time
	Platform             Platform
	StoreOrderIdentifier string
	Environment          string
	ErrorCode            string
	WasRefunded          bool
}

// Complete marks the order as successfully fulfilled.
func (o *PendingOrder) Complete(platform Platform, storeOrderID, environment string, at time.Time) {
	o.IsPending = false
	t := at
	o.CompletedAt = &t
	o.Platform = platform
	o.StoreOrderIdentifier = storeOrderID
	o.Environment = environment
}

// Fail marks the order as errored with a client code.
func (o *PendingOrder) Fail(platform Platform, storeOrderID, code string, at time.Time) {
	o.IsPending = false
	t := at
	o.CompletedAt = &t
	o.Platform = platform
	o.StoreOrderIdentifier = storeOrderID
	o.ErrorCode = code
}

// Discard closes a still-pending order without fulfilling it.
func (o *PendingOrder) Discard(at time.Time) {
	o.IsPending = false
	t := at
	o.CompletedAt = &t
	o.ErrorCode = OrderDiscarded
}

// Succeeded reports whether the order completed without an error.
func (o *PendingOrder) Succeeded() bool {
	return !o.IsPending && o.CompletedAt != nil && o.ErrorCode == ""
}

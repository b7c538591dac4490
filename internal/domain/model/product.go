package model

import "strings"

// InAppProduct is a read-only catalog entry.
type InAppProduct struct {
	ID                   int64  `json:"id"`
	OfferKey             string `json:"offer_key"`
	Title                string `json:"title"`
	AppStoreProductRef   string `json:"app_store_product_ref"`
	PlayMarketProductRef string `json:"play_market_product_ref"`
	IsSubscription       bool   `json:"is_subscription"`
	IsFree               bool   `json:"is_free"`
	IsActive             bool   `json:"is_active"`
	Tokens               int64  `json:"tokens"` // consumables
	DailyTokens          int64  `json:"daily_tokens"`
	MonthlyTokens        int64  `json:"monthly_tokens"`
}

// SKU returns the store product identifier for platform.
func (p *InAppProduct) SKU(platform Platform) string {
	switch platform {
	case PlatformIOS:
		return p.AppStoreProductRef
	case PlatformAndroid:
		return p.PlayMarketProductRef
	default:
		return ""
	}
}

// MatchesSKU compares a store SKU with the product ref for platform, ignoring case.
func (p *InAppProduct) MatchesSKU(platform Platform, sku string) bool {
	ref := p.SKU(platform)
	return ref != "" && strings.EqualFold(ref, sku)
}

// Ref is a platform independent handle used on subscription rows.
func (p *InAppProduct) Ref() string {
	if p.AppStoreProductRef != "" {
		return p.AppStoreProductRef
	}
	return p.PlayMarketProductRef
}

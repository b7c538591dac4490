package model

import (
	"time"

	"inapp-token-ledger/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusScheduled  SubscriptionStatus = "scheduled" // queued downgrade, not open
	SubscriptionStatusUpgraded   SubscriptionStatus = "upgraded"
	SubscriptionStatusDowngraded SubscriptionStatus = "downgraded"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusComplete   SubscriptionStatus = "complete"
)

// Subscription is one subscription term of an account.
type Subscription struct {
	ID               int64
	AccountID        int64
	ProductID        int64
	ProductRef       string
	Title            string
	OrderID          string
	Platform         Platform
	StoreOrderID     string
	DailyAllotment   int64
	MonthlyAllotment int64
	StartedAt        time.Time
	CompletedAt      *time.Time
	Status           SubscriptionStatus
	CreatedAt        time.Time
}

// NewSubscription builds an active term for product bought through order.
func NewSubscription(accountID int64, product *InAppProduct, order *PendingOrder, now time.Time) (*Subscription, error) {
	if accountID <= 0 || product == nil || !product.IsSubscription {
		return nil, domain.ErrInvalidArgument
	}
	s := &Subscription{
		AccountID:        accountID,
		ProductID:        product.ID,
		ProductRef:       product.Ref(),
		Title:            product.Title,
		DailyAllotment:   product.DailyTokens,
		MonthlyAllotment: product.MonthlyTokens,
		StartedAt:        now,
		Status:           SubscriptionStatusActive,
		CreatedAt:        now,
	}
	if order != nil {
		s.OrderID = order.ID
		s.Platform = order.Platform
		s.StoreOrderID = order.StoreOrderIdentifier
	}
	return s, nil
}

// IsOpen reports whether the term currently funds the account.
func (s *Subscription) IsOpen() bool {
	return s != nil && s.Status == SubscriptionStatusActive && s.CompletedAt == nil
}

// Close stamps the term with a terminal status.
func (s *Subscription) Close(status SubscriptionStatus, at time.Time) {
	s.Status = status
	t := at
	s.CompletedAt = &t
}

// Period returns the zero-based renewal period that contains at.
// Periods are counted in whole UTC days from the start date.
func (s *Subscription) Period(at time.Time, periodDays int) int {
	if periodDays <= 0 {
		periodDays = 30
	}
	days := int(truncateDay(at).Sub(truncateDay(s.StartedAt)).Hours() / 24)
	if days < 0 {
		return -1
	}
	return days / periodDays
}

// PeriodStart returns the first instant of the given period.
func (s *Subscription) PeriodStart(period, periodDays int) time.Time {
	if periodDays <= 0 {
		periodDays = 30
	}
	return truncateDay(s.StartedAt).AddDate(0, 0, period*periodDays)
}

// NextRefresh returns the start of the period after the one containing at.
func (s *Subscription) NextRefresh(at time.Time, periodDays int) time.Time {
	p := s.Period(at, periodDays)
	if p < 0 {
		p = -1
	}
	return s.PeriodStart(p+1, periodDays)
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns midnight UTC of t's calendar date.
func StartOfDay(t time.Time) time.Time { return truncateDay(t) }

package models

import (
	"time"
)

type Tier string

const (
	TierBasic    Tier = "BASIC"
	TierPremium  Tier = "PREMIUM"
	TierUltimate Tier = "ULTIMATE"
)

func (t Tier) Valid() bool {
	return t == TierBasic || t == TierPremium || t == TierUltimate
}

type SubscriptionStatus string

const (
	SubActive    SubscriptionStatus = "ACTIVE"
	SubExpiring  SubscriptionStatus = "EXPIRING"
	SubCancelled SubscriptionStatus = "CANCELLED"
)

// Subscription is the single recurring-billing record per account. A tier
// change replaces the record atomically.
type Subscription struct {
	AccountID string             `json:"account_id"`
	Tier      Tier               `json:"tier"`
	Price     int64              `json:"price"` // per period, regular credits
	StartDate time.Time          `json:"start_date"`
	EndDate   time.Time          `json:"end_date"`
	AutoRenew bool               `json:"auto_renew"`
	Status    SubscriptionStatus `json:"status"`
}

package models

import (
	"time"
)

// Currency identifies one of the two independently tracked credit balances.
type Currency string

const (
	CurrencyRegular Currency = "REGULAR"
	CurrencySpecial Currency = "SPECIAL"
)

// Valid reports whether c is a known currency.
func (c Currency) Valid() bool {
	return c == CurrencyRegular || c == CurrencySpecial
}

// EntryKind is the closed set of balance-changing event types.
type EntryKind string

const (
	EntryPurchase        EntryKind = "PURCHASE"
	EntrySale            EntryKind = "SALE"
	EntryReward          EntryKind = "REWARD"
	EntryGift            EntryKind = "GIFT"
	EntryDeposit         EntryKind = "DEPOSIT"
	EntryWithdrawal      EntryKind = "WITHDRAWAL"
	EntrySubscriptionFee EntryKind = "SUBSCRIPTION_FEE"
	EntryRefund          EntryKind = "REFUND"
	EntryFee             EntryKind = "FEE"
)

type EntryStatus string

const (
	EntryCommitted EntryStatus = "COMMITTED"
	EntryReversed  EntryStatus = "REVERSED"
)

// LedgerEntry is a single immutable balance-changing event. Entries sharing
// a correlation id commit or fail together. Corrections are new offsetting
// entries, never edits.
type LedgerEntry struct {
	ID            int64       `json:"id" db:"id"`
	CorrelationID string      `json:"correlation_id" db:"correlation_id"`
	AccountID     string      `json:"account_id" db:"account_id"`
	Currency      Currency    `json:"currency" db:"currency"`
	Amount        int64       `json:"amount" db:"amount"` // signed, in credits
	Kind          EntryKind   `json:"kind" db:"kind"`
	Status        EntryStatus `json:"status" db:"status"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// Account is a derived snapshot; balances are the sum of committed entries.
type Account struct {
	ID             string    `json:"id" db:"id"`
	RegularBalance int64     `json:"regular_balance" db:"regular_balance"`
	SpecialBalance int64     `json:"special_balance" db:"special_balance"`
	Version        int64     `json:"version" db:"version"` // bumped per committed batch
	Active         bool      `json:"active" db:"active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

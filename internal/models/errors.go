package models

import (
	"errors"
)

// Sentinel errors returned by the transaction core. Handlers map these to
// HTTP status codes; callers match with errors.Is.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrConflict           = errors.New("listing state changed concurrently")
	ErrNotFound           = errors.New("not found")
	ErrBidTooLow          = errors.New("bid below minimum increment")
	ErrAuctionClosed      = errors.New("auction closed")
	ErrAuctionOpen        = errors.New("auction still open")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAccountInactive    = errors.New("account not active")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidTier        = errors.New("invalid subscription tier")
	ErrSubscriptionExists = errors.New("account already has an active subscription")
)

package models

import (
	"time"
)

// Bid is immutable once accepted; bid history is append-only per auction.
type Bid struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// AuctionState is one-to-one with an auction-mode listing. MinIncrementBps
// is the minimum step over the highest bid in basis points (500 = 5%).
type AuctionState struct {
	ListingID       string    `json:"listing_id"`
	HighestBid      *Bid      `json:"highest_bid,omitempty"`
	EndTime         time.Time `json:"end_time"`
	MinIncrementBps int64     `json:"min_increment_bps"`
	Bids            []Bid     `json:"bids"`
	Version         int64     `json:"version"` // bumps on every accepted bid
}

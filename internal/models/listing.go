package models

import (
	"time"
)

// SellingMode determines how a listing can be bought.
type SellingMode string

const (
	ModeFixed   SellingMode = "FIXED"
	ModeAuction SellingMode = "AUCTION"
	ModeOffer   SellingMode = "OFFER"
)

func (m SellingMode) Valid() bool {
	return m == ModeFixed || m == ModeAuction || m == ModeOffer
}

// ListingStatus transitions only forward: ACTIVE is the sole non-terminal
// state.
type ListingStatus string

const (
	ListingActive    ListingStatus = "ACTIVE"
	ListingSold      ListingStatus = "SOLD"
	ListingCancelled ListingStatus = "CANCELLED"
	ListingExpired   ListingStatus = "EXPIRED"
)

// Rarity ranks, lowest to highest. Unknown rarities rank below COMMON.
var rarityRank = map[string]int{
	"COMMON":    1,
	"UNCOMMON":  2,
	"RARE":      3,
	"EPIC":      4,
	"LEGENDARY": 5,
}

// RarityRank returns a total order over rarity labels for sorting.
func RarityRank(rarity string) int {
	return rarityRank[rarity]
}

// Listing is a sellable pixel offered under a selling mode.
type Listing struct {
	ID       string        `json:"id"`
	X        int           `json:"x"`
	Y        int           `json:"y"`
	Region   string        `json:"region"`
	Mode     SellingMode   `json:"mode"`
	Price    int64         `json:"price"` // fixed price, or auction reserve
	SellerID string        `json:"seller_id"`
	BuyerID  string        `json:"buyer_id,omitempty"`
	Status   ListingStatus `json:"status"`
	Rarity   string        `json:"rarity"`
	Tags     []string      `json:"tags,omitempty"`

	// Non-financial counters, eventually consistent.
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Watchers int64 `json:"watchers"`

	EndTime   *time.Time `json:"end_time,omitempty"` // auction mode only
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Popularity is views+likes+watchers, the catalog's popularity sort key.
func (l *Listing) Popularity() int64 {
	return l.Views + l.Likes + l.Watchers
}

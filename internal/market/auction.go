package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelplaza/backend/internal/models"
)

// DefaultMinIncrementBps is the default minimum bid step: 5% over the
// current highest bid.
const DefaultMinIncrementBps = 500

type auction struct {
	mu      sync.Mutex
	state   models.AuctionState
	reserve int64
	settled bool
}

// AuctionEngine admits bids and tracks the highest bid per auction. Each
// auction has single-writer semantics: the check-and-update of the highest
// bid happens under the auction's own lock, so unrelated auctions process
// bids in parallel.
type AuctionEngine struct {
	mu       sync.RWMutex
	auctions map[string]*auction
	now      func() time.Time
}

func NewAuctionEngine() *AuctionEngine {
	return &AuctionEngine{
		auctions: make(map[string]*auction),
		now:      time.Now,
	}
}

// Open creates the auction state for a listing. reserve is the minimum
// acceptable first bid (the listing price). A non-positive minIncrementBps
// falls back to the default.
func (e *AuctionEngine) Open(listingID string, reserve int64, endTime time.Time, minIncrementBps int64) error {
	if listingID == "" || reserve <= 0 {
		return models.ErrInvalidAmount
	}
	if minIncrementBps <= 0 {
		minIncrementBps = DefaultMinIncrementBps
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.auctions[listingID]; ok {
		return fmt.Errorf("auction %s: %w", listingID, models.ErrConflict)
	}
	e.auctions[listingID] = &auction{
		state: models.AuctionState{
			ListingID:       listingID,
			EndTime:         endTime,
			MinIncrementBps: minIncrementBps,
		},
		reserve: reserve,
	}
	return nil
}

// PlaceBid admits a bid. Rejections: ErrAuctionClosed once the end time has
// passed or the auction settled, ErrBidTooLow below the reserve (first bid)
// or below highest*(1+minIncrementBps/10000). The threshold is computed in
// integer math so e.g. highest 100 at 500bps admits 105 and rejects 104.
func (e *AuctionEngine) PlaceBid(listingID, bidderID string, amount int64) (models.Bid, error) {
	if bidderID == "" || amount <= 0 {
		return models.Bid{}, models.ErrInvalidAmount
	}
	a, err := e.auction(listingID)
	if err != nil {
		return models.Bid{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.settled || !e.now().Before(a.state.EndTime) {
		return models.Bid{}, models.ErrAuctionClosed
	}

	minimum := a.reserve
	if h := a.state.HighestBid; h != nil {
		minimum = h.Amount + h.Amount*a.state.MinIncrementBps/10000
	}
	if amount < minimum {
		return models.Bid{}, fmt.Errorf("minimum acceptable bid is %d: %w", minimum, models.ErrBidTooLow)
	}

	bid := models.Bid{
		ID:        uuid.New().String(),
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: e.now(),
	}
	a.state.Bids = append(a.state.Bids, bid)
	a.state.HighestBid = &a.state.Bids[len(a.state.Bids)-1]
	a.state.Version++
	return bid, nil
}

// Snapshot returns a copy of the auction state.
func (e *AuctionEngine) Snapshot(listingID string) (models.AuctionState, error) {
	a, err := e.auction(listingID)
	if err != nil {
		return models.AuctionState{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state
	st.Bids = append([]models.Bid(nil), a.state.Bids...)
	if a.state.HighestBid != nil {
		h := *a.state.HighestBid
		st.HighestBid = &h
	}
	return st, nil
}

// MarkSettled stops further bids permanently. Called after the listing's own
// state transition has committed, which is what makes close idempotent.
func (e *AuctionEngine) MarkSettled(listingID string) {
	a, err := e.auction(listingID)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.settled = true
	a.mu.Unlock()
}

// Due lists auctions whose end time has passed and that have not settled.
// Used by the periodic close sweep; closing is idempotent so listing an
// auction twice is harmless.
func (e *AuctionEngine) Due(now time.Time) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var due []string
	for id, a := range e.auctions {
		a.mu.Lock()
		if !a.settled && !now.Before(a.state.EndTime) {
			due = append(due, id)
		}
		a.mu.Unlock()
	}
	return due
}

func (e *AuctionEngine) auction(listingID string) (*auction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.auctions[listingID]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", listingID, models.ErrNotFound)
	}
	return a, nil
}

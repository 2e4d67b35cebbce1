// Package marketplace orchestrates multi-component operations — purchase,
// bidding, auction settlement, transfers, subscriptions — as atomic units
// over the ledger, catalog, auction engine and billing manager, and emits
// domain events for external consumers.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pixelplaza/backend/internal/billing"
	"github.com/pixelplaza/backend/internal/ledger"
	"github.com/pixelplaza/backend/internal/market"
	"github.com/pixelplaza/backend/internal/models"
)

// Publisher delivers domain events. Implementations must not block; the
// Redis-backed publisher queues.
type Publisher interface {
	Publish(event models.Event)
}

// Config carries marketplace fee and auction policy.
type Config struct {
	// FeeAccount receives the marketplace cut of every settlement.
	FeeAccount string
	// FeeBps is the percentage part of the fee in basis points.
	FeeBps int64
	// FeeFixed is the flat part of the fee in credits.
	FeeFixed int64
	// MinIncrementBps is the default auction bid step.
	MinIncrementBps int64
}

// DefaultConfig takes a 2.5% cut with no flat part.
func DefaultConfig(feeAccount string) Config {
	return Config{
		FeeAccount:      feeAccount,
		FeeBps:          250,
		FeeFixed:        0,
		MinIncrementBps: market.DefaultMinIncrementBps,
	}
}

// Marketplace is the facade consumed by the HTTP layer.
type Marketplace struct {
	ledger    *ledger.Ledger
	catalog   *market.Catalog
	auctions  *market.AuctionEngine
	billing   *billing.Manager
	publisher Publisher
	cfg       Config
	now       func() time.Time
}

func New(l *ledger.Ledger, catalog *market.Catalog, auctions *market.AuctionEngine, subs *billing.Manager, cfg Config) *Marketplace {
	m := &Marketplace{
		ledger:   l,
		catalog:  catalog,
		auctions: auctions,
		billing:  subs,
		cfg:      cfg,
		now:      time.Now,
	}
	subs.SetPublisher(m.emit)
	return m
}

// SetPublisher attaches the event sink. Events are dropped (with a log line)
// while no publisher is attached.
func (m *Marketplace) SetPublisher(p Publisher) {
	m.publisher = p
}

// Catalog exposes read access for the query endpoints.
func (m *Marketplace) Catalog() *market.Catalog {
	return m.catalog
}

// Ledger exposes balance and history reads.
func (m *Marketplace) Ledger() *ledger.Ledger {
	return m.ledger
}

// CreateListingParams are the seller-supplied listing fields.
type CreateListingParams struct {
	X        int
	Y        int
	Region   string
	Mode     models.SellingMode
	Price    int64
	SellerID string
	Rarity   string
	Tags     []string
	// Duration of the auction; auction mode only.
	Duration time.Duration
}

// CreateListing registers a listing and, for auction mode, opens its
// auction state.
func (m *Marketplace) CreateListing(p CreateListingParams) (models.Listing, error) {
	if p.Mode == models.ModeAuction && p.Duration <= 0 {
		return models.Listing{}, models.ErrInvalidAmount
	}

	l := models.Listing{
		ID:       uuid.New().String(),
		X:        p.X,
		Y:        p.Y,
		Region:   p.Region,
		Mode:     p.Mode,
		Price:    p.Price,
		SellerID: p.SellerID,
		Rarity:   p.Rarity,
		Tags:     p.Tags,
	}
	if p.Mode == models.ModeAuction {
		end := m.now().Add(p.Duration)
		l.EndTime = &end
	}

	if err := m.catalog.Add(l); err != nil {
		return models.Listing{}, err
	}
	if p.Mode == models.ModeAuction {
		if err := m.auctions.Open(l.ID, p.Price, *l.EndTime, m.cfg.MinIncrementBps); err != nil {
			return models.Listing{}, err
		}
	}
	return m.catalog.Get(l.ID)
}

// PurchaseResult reports a completed fixed/offer purchase.
type PurchaseResult struct {
	Listing    models.Listing
	NewBalance int64
	Fee        int64
}

// Purchase buys an ACTIVE fixed-price or offer listing. The whole
// validate-and-settle sequence runs under the listing's lock, so exactly one
// of several concurrent attempts wins; the rest observe a non-ACTIVE status
// and fail with ErrConflict.
func (m *Marketplace) Purchase(listingID, buyerID string) (*PurchaseResult, error) {
	var result PurchaseResult
	err := m.catalog.WithListing(listingID, func(l *models.Listing) error {
		if l.Status != models.ListingActive {
			return fmt.Errorf("listing %s is %s: %w", listingID, l.Status, models.ErrConflict)
		}
		if l.Mode == models.ModeAuction {
			return fmt.Errorf("listing %s accepts bids only: %w", listingID, models.ErrConflict)
		}
		if l.SellerID == buyerID {
			return fmt.Errorf("listing %s belongs to the buyer: %w", listingID, models.ErrConflict)
		}

		fee := m.calculateFee(l.Price)
		if _, err := m.ledger.Append(m.settlementBatch(buyerID, l.SellerID, l.Price, fee)); err != nil {
			return err
		}

		l.Status = models.ListingSold
		l.BuyerID = buyerID
		result.Listing = *l
		result.Fee = fee
		return nil
	})
	if err != nil {
		return nil, err
	}

	balance, err := m.ledger.Balance(buyerID, models.CurrencyRegular)
	if err != nil {
		return nil, err
	}
	result.NewBalance = balance

	m.emit(models.Event{
		ID:         uuid.New().String(),
		Type:       models.EventListingSold,
		OccurredAt: m.now(),
		Data: map[string]any{
			"listing_id": listingID,
			"seller_id":  result.Listing.SellerID,
			"buyer_id":   buyerID,
			"price":      result.Listing.Price,
			"fee":        result.Fee,
		},
	})
	return &result, nil
}

// PlaceBid admits a bid on an ACTIVE auction listing.
func (m *Marketplace) PlaceBid(listingID, bidderID string, amount int64) (models.Bid, error) {
	l, err := m.catalog.Get(listingID)
	if err != nil {
		return models.Bid{}, err
	}
	if l.Mode != models.ModeAuction {
		return models.Bid{}, fmt.Errorf("listing %s: %w", listingID, models.ErrNotFound)
	}
	if l.Status != models.ListingActive {
		return models.Bid{}, models.ErrAuctionClosed
	}
	if l.SellerID == bidderID {
		return models.Bid{}, fmt.Errorf("listing %s belongs to the bidder: %w", listingID, models.ErrConflict)
	}

	bid, err := m.auctions.PlaceBid(listingID, bidderID, amount)
	if err != nil {
		return models.Bid{}, err
	}

	m.emit(models.Event{
		ID:         uuid.New().String(),
		Type:       models.EventBidPlaced,
		OccurredAt: m.now(),
		Data: map[string]any{
			"listing_id": listingID,
			"bid_id":     bid.ID,
			"bidder_id":  bidderID,
			"amount":     amount,
		},
	})
	return bid, nil
}

// CloseResult reports the outcome of an auction close.
type CloseResult struct {
	Listing  models.Listing
	Settled  bool
	WinnerID string
	Price    int64
}

// CloseAuction finalizes an ended auction. Idempotent: the settlement runs
// at most once because it is guarded by the listing's single ACTIVE ->
// terminal transition; repeat calls return the recorded outcome. With no
// bids the listing expires and no ledger entries are written. If the winner
// can no longer cover the bid (funds are not escrowed), the listing also
// expires unsold.
func (m *Marketplace) CloseAuction(listingID string) (*CloseResult, error) {
	var result CloseResult
	var settledNow bool

	err := m.catalog.WithListing(listingID, func(l *models.Listing) error {
		if l.Mode != models.ModeAuction {
			return fmt.Errorf("listing %s has no auction: %w", listingID, models.ErrNotFound)
		}
		if l.Status != models.ListingActive {
			// Already closed; report the recorded outcome.
			result.Listing = *l
			result.Settled = l.Status == models.ListingSold
			result.WinnerID = l.BuyerID
			return nil
		}

		st, err := m.auctions.Snapshot(listingID)
		if err != nil {
			return err
		}
		if m.now().Before(st.EndTime) {
			return models.ErrAuctionOpen
		}

		if st.HighestBid == nil {
			l.Status = models.ListingExpired
			result.Listing = *l
			settledNow = true
			return nil
		}

		winner, price := st.HighestBid.BidderID, st.HighestBid.Amount
		fee := m.calculateFee(price)
		if _, err := m.ledger.Append(m.settlementBatch(winner, l.SellerID, price, fee)); err != nil {
			if errors.Is(err, models.ErrInsufficientFunds) || errors.Is(err, models.ErrAccountInactive) {
				log.Printf("[MARKET] Winner %s cannot settle auction %s, expiring: %v", winner, listingID, err)
				l.Status = models.ListingExpired
				result.Listing = *l
				settledNow = true
				return nil
			}
			return err
		}

		l.Status = models.ListingSold
		l.BuyerID = winner
		result.Listing = *l
		result.Settled = true
		result.WinnerID = winner
		result.Price = price
		settledNow = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if settledNow {
		m.auctions.MarkSettled(listingID)
		m.emit(models.Event{
			ID:         uuid.New().String(),
			Type:       models.EventAuctionSettled,
			OccurredAt: m.now(),
			Data: map[string]any{
				"listing_id": listingID,
				"settled":    result.Settled,
				"winner_id":  result.WinnerID,
				"price":      result.Price,
			},
		})
	}
	return &result, nil
}

// Transfer moves credits between two accounts as one correlated batch.
func (m *Marketplace) Transfer(fromID, toID string, amount int64, currency models.Currency) error {
	if amount <= 0 || !currency.Valid() || fromID == toID {
		return models.ErrInvalidAmount
	}

	corr := "transfer-" + uuid.New().String()
	_, err := m.ledger.Append([]models.LedgerEntry{
		{CorrelationID: corr, AccountID: fromID, Currency: currency, Amount: -amount, Kind: models.EntryGift},
		{CorrelationID: corr, AccountID: toID, Currency: currency, Amount: amount, Kind: models.EntryGift},
	})
	if err != nil {
		return err
	}

	m.emit(models.Event{
		ID:         uuid.New().String(),
		Type:       models.EventTransferCompleted,
		OccurredAt: m.now(),
		Data: map[string]any{
			"from_id":  fromID,
			"to_id":    toID,
			"amount":   amount,
			"currency": string(currency),
		},
	})
	return nil
}

// Subscription operations delegate to billing; the manager emits renewal
// and cancellation events through this facade.

func (m *Marketplace) Subscribe(accountID string, tier models.Tier) (*models.Subscription, error) {
	return m.billing.Subscribe(accountID, tier)
}

func (m *Marketplace) CancelAutoRenew(accountID string) (*models.Subscription, error) {
	return m.billing.CancelAutoRenew(accountID)
}

func (m *Marketplace) Upgrade(accountID string, tier models.Tier) (*models.Subscription, error) {
	return m.billing.Upgrade(accountID, tier)
}

func (m *Marketplace) Subscription(accountID string) (*models.Subscription, error) {
	return m.billing.Get(accountID)
}

// SweepAuctions closes every due auction once. Closing is idempotent, so
// overlapping sweeps are safe.
func (m *Marketplace) SweepAuctions() {
	for _, id := range m.auctions.Due(m.now()) {
		if _, err := m.CloseAuction(id); err != nil {
			log.Printf("[MARKET] Sweep close failed for %s: %v", id, err)
		}
	}
}

// Start runs the auction and billing sweeps until the context is cancelled.
func (m *Marketplace) Start(ctx context.Context, interval time.Duration) {
	m.billing.Start(ctx, interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepAuctions()
			}
		}
	}()
}

func (m *Marketplace) calculateFee(price int64) int64 {
	fee := price*m.cfg.FeeBps/10000 + m.cfg.FeeFixed
	if fee > price {
		fee = price
	}
	return fee
}

// settlementBatch is the single money-moving shape shared by fixed
// purchases and auction settlements: debit buyer, credit seller minus fee,
// credit the fee account. Zero-amount legs are skipped; with the fee capped
// at the price the seller leg drops out entirely.
func (m *Marketplace) settlementBatch(buyerID, sellerID string, price, fee int64) []models.LedgerEntry {
	corr := "settle-" + uuid.New().String()
	batch := []models.LedgerEntry{
		{CorrelationID: corr, AccountID: buyerID, Currency: models.CurrencyRegular, Amount: -price, Kind: models.EntryPurchase},
	}
	if price-fee > 0 {
		batch = append(batch, models.LedgerEntry{
			CorrelationID: corr, AccountID: sellerID, Currency: models.CurrencyRegular, Amount: price - fee, Kind: models.EntrySale,
		})
	}
	if fee > 0 {
		batch = append(batch, models.LedgerEntry{
			CorrelationID: corr, AccountID: m.cfg.FeeAccount, Currency: models.CurrencyRegular, Amount: fee, Kind: models.EntryFee,
		})
	}
	return batch
}

func (m *Marketplace) emit(event models.Event) {
	if m.publisher == nil {
		log.Printf("[EVENTS] No publisher attached, dropping %s", event.Type)
		return
	}
	m.publisher.Publish(event)
}

// Package market holds the listing catalog and the auction engine. Listings
// move through a forward-only state machine and are serialized per listing;
// unrelated listings are processed in parallel.
package market

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pixelplaza/backend/internal/models"
)

// SortKey selects the ordering of Find results. All keys are total orders:
// ties are broken by listing id ascending so results are deterministic.
type SortKey string

const (
	SortPrice      SortKey = "price"
	SortRarity     SortKey = "rarity"
	SortRecency    SortKey = "recency"
	SortPopularity SortKey = "popularity"
	SortEndingSoon SortKey = "ending_soon"
)

// Filter narrows a Find query. Zero values match everything.
type Filter struct {
	Region   string
	Mode     models.SellingMode
	Status   models.ListingStatus
	Rarity   string
	Tag      string
	SellerID string
	MinPrice int64
	MaxPrice int64
}

// Page bounds a Find result window.
type Page struct {
	Offset int
	Limit  int
}

type listingEntry struct {
	mu      sync.Mutex
	listing models.Listing
}

// Catalog stores listings and guards each with its own lock.
type Catalog struct {
	mu       sync.RWMutex
	listings map[string]*listingEntry
	now      func() time.Time
}

func NewCatalog() *Catalog {
	return &Catalog{
		listings: make(map[string]*listingEntry),
		now:      time.Now,
	}
}

// Add registers a new listing. The listing starts ACTIVE regardless of the
// status on the argument.
func (c *Catalog) Add(l models.Listing) error {
	if l.ID == "" || l.SellerID == "" {
		return models.ErrInvalidAmount
	}
	if !l.Mode.Valid() {
		return models.ErrInvalidAmount
	}
	if l.Price <= 0 {
		return models.ErrInvalidAmount
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.listings[l.ID]; ok {
		return fmt.Errorf("listing %s: %w", l.ID, models.ErrConflict)
	}

	now := c.now()
	l.Status = models.ListingActive
	l.CreatedAt = now
	l.UpdatedAt = now
	c.listings[l.ID] = &listingEntry{listing: l}
	return nil
}

// Get returns a copy of the listing.
func (c *Catalog) Get(id string) (models.Listing, error) {
	e, err := c.entry(id)
	if err != nil {
		return models.Listing{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyListing(&e.listing), nil
}

// WithListing runs fn while holding the listing's lock. fn receives the live
// record and may transition its status; the update timestamp is maintained
// here. This is the serialization point for purchase and auction close: the
// status compare inside fn is atomic with respect to other callers.
func (c *Catalog) WithListing(id string, fn func(l *models.Listing) error) error {
	e, err := c.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.listing.Status
	if err := fn(&e.listing); err != nil {
		return err
	}
	if e.listing.Status != before {
		if before != models.ListingActive {
			// Terminal states are immutable; fn must not resurrect them.
			e.listing.Status = before
			return fmt.Errorf("listing %s: %w", id, models.ErrConflict)
		}
		e.listing.UpdatedAt = c.now()
	}
	return nil
}

// Cancel moves an ACTIVE listing to CANCELLED. Only the seller may cancel.
func (c *Catalog) Cancel(id, sellerID string) error {
	return c.WithListing(id, func(l *models.Listing) error {
		if l.SellerID != sellerID {
			return fmt.Errorf("listing %s: %w", id, models.ErrNotFound)
		}
		if l.Status != models.ListingActive {
			return fmt.Errorf("listing %s: %w", id, models.ErrConflict)
		}
		l.Status = models.ListingCancelled
		return nil
	})
}

// Counter bumps. These are non-financial and eventually consistent; they
// only feed the popularity sort key.

func (c *Catalog) AddView(id string) error    { return c.bump(id, func(l *models.Listing) { l.Views++ }) }
func (c *Catalog) AddLike(id string) error    { return c.bump(id, func(l *models.Listing) { l.Likes++ }) }
func (c *Catalog) AddWatcher(id string) error { return c.bump(id, func(l *models.Listing) { l.Watchers++ }) }

func (c *Catalog) bump(id string, fn func(l *models.Listing)) error {
	e, err := c.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.listing)
	return nil
}

// Find filters, sorts and pages a snapshot of the catalog. It is a pure
// function of the snapshot: identical inputs over unchanged state produce
// identical orderings.
func (c *Catalog) Find(f Filter, key SortKey, page Page) []models.Listing {
	c.mu.RLock()
	entries := make([]*listingEntry, 0, len(c.listings))
	for _, e := range c.listings {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	matched := make([]models.Listing, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		l := copyListing(&e.listing)
		e.mu.Unlock()
		if matches(&l, f) {
			matched = append(matched, l)
		}
	}

	sortListings(matched, key)

	if page.Offset >= len(matched) {
		return []models.Listing{}
	}
	matched = matched[page.Offset:]
	if page.Limit > 0 && page.Limit < len(matched) {
		matched = matched[:page.Limit]
	}
	return matched
}

func matches(l *models.Listing, f Filter) bool {
	if f.Region != "" && !strings.EqualFold(l.Region, f.Region) {
		return false
	}
	if f.Mode != "" && l.Mode != f.Mode {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.Rarity != "" && !strings.EqualFold(l.Rarity, f.Rarity) {
		return false
	}
	if f.SellerID != "" && l.SellerID != f.SellerID {
		return false
	}
	if f.MinPrice > 0 && l.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && l.Price > f.MaxPrice {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range l.Tags {
			if strings.EqualFold(tag, f.Tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortListings(listings []models.Listing, key SortKey) {
	less := func(a, b *models.Listing) int {
		switch key {
		case SortRarity:
			// Highest rarity first.
			return models.RarityRank(b.Rarity) - models.RarityRank(a.Rarity)
		case SortRecency:
			// Newest first.
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			}
			if b.CreatedAt.After(a.CreatedAt) {
				return 1
			}
			return 0
		case SortPopularity:
			// Most popular first.
			return cmpInt64(b.Popularity(), a.Popularity())
		case SortEndingSoon:
			// Soonest end first; listings without an end time sort last.
			switch {
			case a.EndTime == nil && b.EndTime == nil:
				return 0
			case a.EndTime == nil:
				return 1
			case b.EndTime == nil:
				return -1
			case a.EndTime.Before(*b.EndTime):
				return -1
			case b.EndTime.Before(*a.EndTime):
				return 1
			}
			return 0
		default: // SortPrice
			// Cheapest first.
			return cmpInt64(a.Price, b.Price)
		}
	}

	sort.Slice(listings, func(i, j int) bool {
		if d := less(&listings[i], &listings[j]); d != 0 {
			return d < 0
		}
		return listings[i].ID < listings[j].ID
	})
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func copyListing(l *models.Listing) models.Listing {
	out := *l
	if l.Tags != nil {
		out.Tags = append([]string(nil), l.Tags...)
	}
	if l.EndTime != nil {
		end := *l.EndTime
		out.EndTime = &end
	}
	return out
}

func (c *Catalog) entry(id string) (*listingEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %s: %w", id, models.ErrNotFound)
	}
	return e, nil
}

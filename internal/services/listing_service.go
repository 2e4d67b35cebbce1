package services

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pixelplaza/backend/internal/market"
	"github.com/pixelplaza/backend/internal/marketplace"
	"github.com/pixelplaza/backend/internal/models"
)

// ListingService exposes listing creation, search and engagement counters.
type ListingService struct {
	market     *marketplace.Marketplace
	counters   *CounterService
	validation *ValidationHelper
}

// NewListingService creates the listing handlers. counters may be nil; the
// catalog totals still update, only the shared counter cache is skipped.
func NewListingService(m *marketplace.Marketplace, counters *CounterService) *ListingService {
	return &ListingService{
		market:     m,
		counters:   counters,
		validation: NewValidationHelper(),
	}
}

// CreateListingRequest represents the listing creation payload
type CreateListingRequest struct {
	X               int      `json:"x" validate:"gte=0"`
	Y               int      `json:"y" validate:"gte=0"`
	Region          string   `json:"region" validate:"required"`
	Mode            string   `json:"mode" validate:"required,oneof=FIXED AUCTION OFFER"`
	Price           int64    `json:"price" validate:"required,gt=0"`
	Rarity          string   `json:"rarity"`
	Tags            []string `json:"tags"`
	DurationMinutes int      `json:"duration_minutes" validate:"gte=0"`
}

// Create handles POST /listings
func (s *ListingService) Create(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateListingRequest
	if !s.decode(w, r, &req) {
		return
	}

	listing, err := s.market.CreateListing(marketplace.CreateListingParams{
		X:        req.X,
		Y:        req.Y,
		Region:   req.Region,
		Mode:     models.SellingMode(req.Mode),
		Price:    req.Price,
		SellerID: sellerID,
		Rarity:   req.Rarity,
		Tags:     req.Tags,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		log.Printf("[LISTING] Create by %s failed: %v", sellerID, err)
		sendDomainError(w, err)
		return
	}

	log.Printf("[LISTING] Created %s (%s, %d) by %s", listing.ID, listing.Mode, listing.Price, sellerID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(listing)
}

// Get handles GET /listings/{listingId} and counts the view.
func (s *ListingService) Get(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")

	if err := s.market.Catalog().AddView(listingID); err != nil {
		sendDomainError(w, err)
		return
	}
	s.bumpCounter(r, listingID, "views")

	listing, err := s.market.Catalog().Get(listingID)
	if err != nil {
		sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listing)
}

// Find handles GET /listings with filter, sort and paging query parameters.
func (s *ListingService) Find(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := market.Filter{
		Region:   q.Get("region"),
		Rarity:   q.Get("rarity"),
		Tag:      q.Get("tag"),
		SellerID: q.Get("seller_id"),
	}
	if mode := q.Get("mode"); mode != "" {
		filter.Mode = models.SellingMode(mode)
	}
	if status := q.Get("status"); status != "" {
		filter.Status = models.ListingStatus(status)
	} else {
		filter.Status = models.ListingActive
	}
	filter.MinPrice = parseInt64(q.Get("min_price"))
	filter.MaxPrice = parseInt64(q.Get("max_price"))

	sortKey := market.SortKey(q.Get("sort"))
	if sortKey == "" {
		sortKey = market.SortRecency
	}

	page := market.Page{
		Offset: int(parseInt64(q.Get("offset"))),
		Limit:  int(parseInt64(q.Get("limit"))),
	}

	listings := s.market.Catalog().Find(filter, sortKey, page)
	if listings == nil {
		listings = []models.Listing{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"listings": listings,
		"count":    len(listings),
	})
}

// Cancel handles POST /listings/{listingId}/cancel; sellers only.
func (s *ListingService) Cancel(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	listingID := chi.URLParam(r, "listingId")

	if err := s.market.Catalog().Cancel(listingID, sellerID); err != nil {
		log.Printf("[LISTING] Cancel of %s by %s failed: %v", listingID, sellerID, err)
		sendDomainError(w, err)
		return
	}

	listing, err := s.market.Catalog().Get(listingID)
	if err != nil {
		sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listing)
}

// Like handles POST /listings/{listingId}/like
func (s *ListingService) Like(w http.ResponseWriter, r *http.Request) {
	s.bump(w, r, "likes", s.market.Catalog().AddLike)
}

// Watch handles POST /listings/{listingId}/watch
func (s *ListingService) Watch(w http.ResponseWriter, r *http.Request) {
	s.bump(w, r, "watchers", s.market.Catalog().AddWatcher)
}

func (s *ListingService) bump(w http.ResponseWriter, r *http.Request, counter string, fn func(string) error) {
	listingID := chi.URLParam(r, "listingId")
	if err := fn(listingID); err != nil {
		sendDomainError(w, err)
		return
	}
	s.bumpCounter(r, listingID, counter)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
}

func (s *ListingService) bumpCounter(r *http.Request, listingID, counter string) {
	if s.counters == nil {
		return
	}
	if err := s.counters.Increment(r.Context(), listingID, counter); err != nil {
		log.Printf("[LISTING] Counter %s for %s not recorded: %v", counter, listingID, err)
	}
}

func (s *ListingService) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := s.validation.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

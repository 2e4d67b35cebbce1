package services

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pixelplaza/backend/internal/marketplace"
	"github.com/pixelplaza/backend/internal/models"
)

// MarketplaceService exposes the transactional endpoints: purchases, bids,
// auction closes and credit transfers. The authenticated account always acts
// as the spending side.
type MarketplaceService struct {
	market     *marketplace.Marketplace
	validation *ValidationHelper
}

func NewMarketplaceService(m *marketplace.Marketplace) *MarketplaceService {
	return &MarketplaceService{
		market:     m,
		validation: NewValidationHelper(),
	}
}

// BidRequest represents the bid request payload
type BidRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// TransferRequest represents the transfer request payload
type TransferRequest struct {
	ToAccountID string `json:"to_account_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Currency    string `json:"currency" validate:"required,currency"`
}

// Purchase handles POST /listings/{listingId}/purchase
func (s *MarketplaceService) Purchase(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	listingID := chi.URLParam(r, "listingId")

	res, err := s.market.Purchase(listingID, buyerID)
	if err != nil {
		log.Printf("[MARKET] Purchase of %s by %s failed: %v", listingID, buyerID, err)
		sendDomainError(w, err)
		return
	}

	log.Printf("[MARKET] Listing %s sold to %s for %d", listingID, buyerID, res.Listing.Price)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"listing":     res.Listing,
		"new_balance": res.NewBalance,
		"fee":         res.Fee,
	})
}

// PlaceBid handles POST /listings/{listingId}/bids
func (s *MarketplaceService) PlaceBid(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	listingID := chi.URLParam(r, "listingId")

	var req BidRequest
	if !s.decode(w, r, &req) {
		return
	}

	bid, err := s.market.PlaceBid(listingID, bidderID, req.Amount)
	if err != nil {
		log.Printf("[MARKET] Bid of %d on %s by %s rejected: %v", req.Amount, listingID, bidderID, err)
		sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bid)
}

// CloseAuction handles POST /listings/{listingId}/close
func (s *MarketplaceService) CloseAuction(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingId")

	res, err := s.market.CloseAuction(listingID)
	if err != nil {
		log.Printf("[MARKET] Close of %s failed: %v", listingID, err)
		sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"listing":   res.Listing,
		"settled":   res.Settled,
		"winner_id": res.WinnerID,
		"price":     res.Price,
	})
}

// Transfer handles POST /transfers
func (s *MarketplaceService) Transfer(w http.ResponseWriter, r *http.Request) {
	fromID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req TransferRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.market.Transfer(fromID, req.ToAccountID, req.Amount, models.Currency(req.Currency))
	if err != nil {
		log.Printf("[MARKET] Transfer of %d %s from %s to %s failed: %v", req.Amount, req.Currency, fromID, req.ToAccountID, err)
		sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
}

func (s *MarketplaceService) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
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

func accountFromContext(r *http.Request) (string, bool) {
	id, ok := r.Context().Value("userID").(string)
	return id, ok && id != ""
}

// sendDomainError maps domain sentinel errors onto HTTP statuses.
func sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient funds", http.StatusPaymentRequired, nil)
	case errors.Is(err, models.ErrNotFound):
		SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrSubscriptionExists):
		SendErrorResponse(w, "Conflict", http.StatusConflict, nil)
	case errors.Is(err, models.ErrAccountInactive):
		SendErrorResponse(w, "Account inactive", http.StatusForbidden, nil)
	case errors.Is(err, models.ErrBidTooLow),
		errors.Is(err, models.ErrAuctionClosed),
		errors.Is(err, models.ErrAuctionOpen),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidTier):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

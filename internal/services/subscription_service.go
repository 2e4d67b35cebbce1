package services

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/pixelplaza/backend/internal/marketplace"
	"github.com/pixelplaza/backend/internal/models"
)

// SubscriptionService exposes the subscription lifecycle endpoints.
type SubscriptionService struct {
	market     *marketplace.Marketplace
	validation *ValidationHelper
}

func NewSubscriptionService(m *marketplace.Marketplace) *SubscriptionService {
	return &SubscriptionService{
		market:     m,
		validation: NewValidationHelper(),
	}
}

// SubscribeRequest represents the subscription payload
type SubscribeRequest struct {
	Tier string `json:"tier" validate:"required,tier"`
}

// Subscribe handles POST /subscriptions
func (s *SubscriptionService) Subscribe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SubscribeRequest
	if !s.decode(w, r, &req) {
		return
	}

	sub, err := s.market.Subscribe(accountID, models.Tier(req.Tier))
	if err != nil {
		log.Printf("[BILLING] Subscribe %s to %s failed: %v", accountID, req.Tier, err)
		sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sub)
}

// Get handles GET /subscriptions/me
func (s *SubscriptionService) Get(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, err := s.market.Subscription(accountID)
	if err != nil {
		sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub)
}

// Cancel handles POST /subscriptions/cancel; the period keeps running.
func (s *SubscriptionService) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, err := s.market.CancelAutoRenew(accountID)
	if err != nil {
		log.Printf("[BILLING] Cancel for %s failed: %v", accountID, err)
		sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub)
}

// Upgrade handles POST /subscriptions/upgrade
func (s *SubscriptionService) Upgrade(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SubscribeRequest
	if !s.decode(w, r, &req) {
		return
	}

	sub, err := s.market.Upgrade(accountID, models.Tier(req.Tier))
	if err != nil {
		log.Printf("[BILLING] Upgrade %s to %s failed: %v", accountID, req.Tier, err)
		sendDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub)
}

func (s *SubscriptionService) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
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

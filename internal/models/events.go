package models

import (
	"time"
)

// EventType enumerates domain events emitted for external consumers.
type EventType string

const (
	EventListingSold           EventType = "ListingSold"
	EventBidPlaced             EventType = "BidPlaced"
	EventAuctionSettled        EventType = "AuctionSettled"
	EventSubscriptionRenewed   EventType = "SubscriptionRenewed"
	EventSubscriptionCancelled EventType = "SubscriptionCancelled"
	EventTransferCompleted     EventType = "TransferCompleted"
)

// Event is the envelope pushed to the domain event queue.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

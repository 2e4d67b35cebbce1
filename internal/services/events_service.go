package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"

	"github.com/pixelplaza/backend/internal/models"
)

const eventQueueKey = "domain_events"

// EventPublisher pushes domain events onto a Redis list consumed by
// downstream workers (notifications, analytics). Delivery is best effort;
// a failed push is logged and the transaction outcome stands.
type EventPublisher struct {
	redis *redis.Client
}

func NewEventPublisher(redisClient *redis.Client) *EventPublisher {
	return &EventPublisher{redis: redisClient}
}

func (p *EventPublisher) Publish(event models.Event) {
	if p.redis == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[EVENTS] Failed to encode event %s: %v", event.Type, err)
		return
	}

	ctx := context.Background()
	if err := p.redis.RPush(ctx, eventQueueKey, payload).Err(); err != nil {
		log.Printf("[EVENTS] Failed to queue event %s: %v", event.Type, err)
		return
	}
	log.Printf("[EVENTS] Queued %s event %s", event.Type, event.ID)
}

// CounterService keeps per-listing engagement counters in Redis. The
// catalog's own totals remain authoritative for popularity sorting; these
// keys feed dashboards and are eventually consistent.
type CounterService struct {
	redis *redis.Client
}

func NewCounterService(redisClient *redis.Client) *CounterService {
	return &CounterService{redis: redisClient}
}

// Increment bumps one counter (views, likes, watchers) for a listing.
func (c *CounterService) Increment(ctx context.Context, listingID, counter string) error {
	if c.redis == nil {
		return nil
	}
	key := fmt.Sprintf("listing:%s:%s", listingID, counter)
	return c.redis.Incr(ctx, key).Err()
}

// Get reads one counter; missing keys read as zero.
func (c *CounterService) Get(ctx context.Context, listingID, counter string) (int64, error) {
	if c.redis == nil {
		return 0, nil
	}
	key := fmt.Sprintf("listing:%s:%s", listingID, counter)
	v, err := c.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Package billing runs the recurring subscription state machine. Renewals
// and upgrades are ledger-debiting operations: service is only granted when
// the corresponding fee batch commits.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelplaza/backend/internal/ledger"
	"github.com/pixelplaza/backend/internal/models"
)

// Config carries tier pricing and billing cadence.
type Config struct {
	// RevenueAccount receives all subscription fees.
	RevenueAccount string
	// Prices per tier per period, in regular credits.
	Prices map[models.Tier]int64
	// Period is the length of one billing period.
	Period time.Duration
	// RenewalWindow is how close to the end date a non-renewing
	// subscription moves to EXPIRING.
	RenewalWindow time.Duration
}

// DefaultConfig prices the three tiers and bills every 30 days.
func DefaultConfig(revenueAccount string) Config {
	return Config{
		RevenueAccount: revenueAccount,
		Prices: map[models.Tier]int64{
			models.TierBasic:    100,
			models.TierPremium:  250,
			models.TierUltimate: 600,
		},
		Period:        30 * 24 * time.Hour,
		RenewalWindow: 24 * time.Hour,
	}
}

// Manager owns all subscription records. One record per account; a tier
// change replaces the record atomically under the manager lock.
type Manager struct {
	mu      sync.Mutex
	subs    map[string]*models.Subscription
	ledger  *ledger.Ledger
	cfg     Config
	publish func(models.Event)
	now     func() time.Time
}

func NewManager(l *ledger.Ledger, cfg Config) *Manager {
	return &Manager{
		subs:   make(map[string]*models.Subscription),
		ledger: l,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetPublisher wires domain event emission for renewals and cancellations.
func (m *Manager) SetPublisher(publish func(models.Event)) {
	m.publish = publish
}

// Subscribe charges the first period and activates a subscription. An
// account can hold at most one non-cancelled subscription; tier changes go
// through Upgrade.
func (m *Manager) Subscribe(accountID string, tier models.Tier) (*models.Subscription, error) {
	if !tier.Valid() {
		return nil, models.ErrInvalidTier
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.subs[accountID]; ok && existing.Status != models.SubCancelled {
		return nil, models.ErrSubscriptionExists
	}

	price := m.cfg.Prices[tier]
	if err := m.charge(accountID, price); err != nil {
		return nil, err
	}

	now := m.now()
	sub := &models.Subscription{
		AccountID: accountID,
		Tier:      tier,
		Price:     price,
		StartDate: now,
		EndDate:   now.Add(m.cfg.Period),
		AutoRenew: true,
		Status:    models.SubActive,
	}
	m.subs[accountID] = sub
	log.Printf("[BILLING] Subscribed account %s to %s until %s", accountID, tier, sub.EndDate.Format(time.RFC3339))
	return copySub(sub), nil
}

// CancelAutoRenew only flips the flag; the current period stays active until
// its end date.
func (m *Manager) CancelAutoRenew(accountID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[accountID]
	if !ok {
		return nil, fmt.Errorf("subscription for %s: %w", accountID, models.ErrNotFound)
	}
	sub.AutoRenew = false
	return copySub(sub), nil
}

// Upgrade replaces the record with a more expensive tier, debiting the price
// difference prorated over the remainder of the current period. The period
// dates are unchanged. Downgrades are rejected; cancel auto-renew and
// resubscribe instead.
func (m *Manager) Upgrade(accountID string, tier models.Tier) (*models.Subscription, error) {
	if !tier.Valid() {
		return nil, models.ErrInvalidTier
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[accountID]
	if !ok || sub.Status == models.SubCancelled {
		return nil, fmt.Errorf("subscription for %s: %w", accountID, models.ErrNotFound)
	}

	newPrice := m.cfg.Prices[tier]
	if newPrice <= sub.Price {
		return nil, models.ErrInvalidTier
	}

	remaining := sub.EndDate.Sub(m.now())
	if remaining < 0 {
		remaining = 0
	}
	prorated := (newPrice - sub.Price) * int64(remaining) / int64(m.cfg.Period)
	if prorated > 0 {
		if err := m.charge(accountID, prorated); err != nil {
			return nil, err
		}
	}

	replaced := *sub
	replaced.Tier = tier
	replaced.Price = newPrice
	replaced.Status = models.SubActive
	m.subs[accountID] = &replaced
	log.Printf("[BILLING] Upgraded account %s to %s (prorated charge %d)", accountID, tier, prorated)
	return copySub(&replaced), nil
}

// Get returns a copy of the account's subscription record.
func (m *Manager) Get(accountID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[accountID]
	if !ok {
		return nil, fmt.Errorf("subscription for %s: %w", accountID, models.ErrNotFound)
	}
	return copySub(sub), nil
}

// Process advances every subscription against the given clock. Safe to call
// repeatedly; it is the body of the periodic billing sweep.
//
//	active + autoRenew + period over   -> charge; renewed, or EXPIRING on
//	                                      insufficient funds
//	active + !autoRenew + window hit   -> EXPIRING
//	expiring + period over             -> CANCELLED
func (m *Manager) Process(now time.Time) {
	m.mu.Lock()
	var due []models.Event

	for accountID, sub := range m.subs {
		switch sub.Status {
		case models.SubActive:
			if sub.AutoRenew {
				if now.Before(sub.EndDate) {
					continue
				}
				if err := m.charge(accountID, sub.Price); err != nil {
					if errors.Is(err, models.ErrInsufficientFunds) || errors.Is(err, models.ErrAccountInactive) {
						log.Printf("[BILLING] Renewal failed for %s, expiring: %v", accountID, err)
						sub.Status = models.SubExpiring
						continue
					}
					log.Printf("[BILLING] Renewal error for %s: %v", accountID, err)
					continue
				}
				sub.StartDate = sub.EndDate
				sub.EndDate = sub.EndDate.Add(m.cfg.Period)
				due = append(due, m.newEvent(models.EventSubscriptionRenewed, sub))
				continue
			}
			if now.Add(m.cfg.RenewalWindow).After(sub.EndDate) {
				sub.Status = models.SubExpiring
			}
			if sub.Status == models.SubExpiring && !now.Before(sub.EndDate) {
				sub.Status = models.SubCancelled
				due = append(due, m.newEvent(models.EventSubscriptionCancelled, sub))
			}
		case models.SubExpiring:
			if !now.Before(sub.EndDate) {
				sub.Status = models.SubCancelled
				due = append(due, m.newEvent(models.EventSubscriptionCancelled, sub))
			}
		}
	}
	m.mu.Unlock()

	// Publishing may block on I/O; never do it with the manager lock held.
	for _, event := range due {
		m.emit(event)
	}
}

// Start runs the billing sweep until the context is cancelled.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Process(m.now())
			}
		}
	}()
}

func (m *Manager) charge(accountID string, amount int64) error {
	corr := "sub-" + uuid.New().String()
	_, err := m.ledger.Append([]models.LedgerEntry{
		{CorrelationID: corr, AccountID: accountID, Currency: models.CurrencyRegular, Amount: -amount, Kind: models.EntrySubscriptionFee},
		{CorrelationID: corr, AccountID: m.cfg.RevenueAccount, Currency: models.CurrencyRegular, Amount: amount, Kind: models.EntrySubscriptionFee},
	})
	return err
}

func (m *Manager) newEvent(eventType models.EventType, sub *models.Subscription) models.Event {
	return models.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: m.now(),
		Data: map[string]any{
			"account_id": sub.AccountID,
			"tier":       string(sub.Tier),
			"end_date":   sub.EndDate.Format(time.RFC3339),
		},
	}
}

func (m *Manager) emit(event models.Event) {
	if m.publish == nil {
		return
	}
	m.publish(event)
}

func copySub(sub *models.Subscription) *models.Subscription {
	out := *sub
	return &out
}

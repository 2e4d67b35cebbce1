// Package ledger holds the append-only dual-currency ledger that is the sole
// source of truth for account balances. Every balance change is a committed
// LedgerEntry; running totals are maintained synchronously so balance reads
// are O(1), and the sum-of-entries invariant can be re-checked at any time
// with Reconcile.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pixelplaza/backend/internal/models"
)

// Journal receives committed entries for durable audit storage. Record is
// called after all entity locks are released and must not block; the journal
// implementation is expected to queue and flush in the background.
type Journal interface {
	Record(entries []models.LedgerEntry)
}

type accountState struct {
	mu        sync.Mutex
	active    bool
	version   int64
	balances  map[models.Currency]int64
	createdAt time.Time
	updatedAt time.Time
}

// Ledger serializes all balance mutations per account. Multi-account batches
// acquire the accounts' locks in ascending id order, so concurrent batches
// touching the same accounts cannot deadlock or interleave.
type Ledger struct {
	mu       sync.RWMutex // guards accounts map, entries slice, nextID
	accounts map[string]*accountState
	entries  []models.LedgerEntry
	nextID   int64
	journal  Journal
	now      func() time.Time
}

func New() *Ledger {
	return &Ledger{
		accounts: make(map[string]*accountState),
		now:      time.Now,
	}
}

// SetJournal attaches the audit journal. Safe to leave unset; the in-process
// ledger remains authoritative either way.
func (l *Ledger) SetJournal(j Journal) {
	l.journal = j
}

// CreateAccount registers a new account with zero balances in both
// currencies. Accounts are never deleted, only deactivated.
func (l *Ledger) CreateAccount(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[id]; ok {
		return models.ErrAccountExists
	}

	now := l.now()
	l.accounts[id] = &accountState{
		active: true,
		// version starts at 1 so a snapshot of a fresh account is
		// distinguishable from a missing one
		version: 1,
		balances: map[models.Currency]int64{
			models.CurrencyRegular: 0,
			models.CurrencySpecial: 0,
		},
		createdAt: now,
		updatedAt: now,
	}
	return nil
}

// Deactivate blocks further ledger activity on the account. The entry
// history and balances remain readable.
func (l *Ledger) Deactivate(id string) error {
	st, err := l.state(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active = false
	st.updatedAt = l.now()
	return nil
}

// Balance returns the running total for (account, currency).
func (l *Ledger) Balance(id string, currency models.Currency) (int64, error) {
	if !currency.Valid() {
		return 0, models.ErrInvalidAmount
	}
	st, err := l.state(id)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.balances[currency], nil
}

// Snapshot returns a point-in-time copy of the account's derived state.
func (l *Ledger) Snapshot(id string) (*models.Account, error) {
	st, err := l.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return &models.Account{
		ID:             id,
		RegularBalance: st.balances[models.CurrencyRegular],
		SpecialBalance: st.balances[models.CurrencySpecial],
		Version:        st.version,
		Active:         st.active,
		CreatedAt:      st.createdAt,
		UpdatedAt:      st.updatedAt,
	}, nil
}

// Entries returns the committed entries for one account, oldest first.
func (l *Ledger) Entries(accountID string) []models.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range l.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

// Append commits a batch of entries atomically: either every entry in the
// batch commits, or none do. The batch is rejected with ErrInsufficientFunds
// if any running balance would go negative at any point while applying the
// batch in order. Committed entries (with assigned ids and timestamps) are
// returned and handed to the journal after all locks are released.
func (l *Ledger) Append(batch []models.LedgerEntry) ([]models.LedgerEntry, error) {
	if len(batch) == 0 {
		return nil, models.ErrInvalidAmount
	}
	for i := range batch {
		if batch[i].Amount == 0 {
			return nil, models.ErrInvalidAmount
		}
		if !batch[i].Currency.Valid() {
			return nil, models.ErrInvalidAmount
		}
		if batch[i].AccountID == "" || batch[i].Kind == "" {
			return nil, models.ErrInvalidAmount
		}
	}

	ids := make([]string, 0, len(batch))
	for i := range batch {
		ids = append(ids, batch[i].AccountID)
	}

	var committed []models.LedgerEntry
	err := l.WithAccounts(ids, func() error {
		var err error
		committed, err = l.commitLocked(batch)
		return err
	})
	if err != nil {
		return nil, err
	}

	if l.journal != nil {
		l.journal.Record(committed)
	}
	return committed, nil
}

// WithAccounts runs fn while holding the locks of all named accounts.
// Locks are always taken in ascending account id order to prevent deadlock
// between concurrent multi-account operations.
func (l *Ledger) WithAccounts(accountIDs []string, fn func() error) error {
	uniq := make([]string, 0, len(accountIDs))
	seen := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Strings(uniq)

	states := make([]*accountState, 0, len(uniq))
	l.mu.RLock()
	for _, id := range uniq {
		st, ok := l.accounts[id]
		if !ok {
			l.mu.RUnlock()
			return fmt.Errorf("account %s: %w", id, models.ErrNotFound)
		}
		states = append(states, st)
	}
	l.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
	}
	defer func() {
		for i := len(states) - 1; i >= 0; i-- {
			states[i].mu.Unlock()
		}
	}()

	return fn()
}

// commitLocked validates and applies a batch. Callers must hold the locks of
// every account referenced by the batch.
func (l *Ledger) commitLocked(batch []models.LedgerEntry) ([]models.LedgerEntry, error) {
	l.mu.RLock()
	states := make(map[string]*accountState, len(batch))
	for i := range batch {
		states[batch[i].AccountID] = l.accounts[batch[i].AccountID]
	}
	l.mu.RUnlock()

	for id, st := range states {
		if st == nil {
			return nil, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
		}
		if !st.active {
			return nil, fmt.Errorf("account %s: %w", id, models.ErrAccountInactive)
		}
	}

	// Project the batch over current balances before touching anything. No
	// running total may dip below zero mid-batch.
	type balKey struct {
		account  string
		currency models.Currency
	}
	projected := make(map[balKey]int64)
	for i := range batch {
		k := balKey{batch[i].AccountID, batch[i].Currency}
		if _, ok := projected[k]; !ok {
			projected[k] = states[k.account].balances[k.currency]
		}
		projected[k] += batch[i].Amount
		if projected[k] < 0 {
			return nil, fmt.Errorf("account %s %s: %w",
				k.account, k.currency, models.ErrInsufficientFunds)
		}
	}

	now := l.now()
	committed := make([]models.LedgerEntry, len(batch))

	l.mu.Lock()
	for i := range batch {
		e := batch[i]
		l.nextID++
		e.ID = l.nextID
		e.Status = models.EntryCommitted
		e.CreatedAt = now
		l.entries = append(l.entries, e)
		committed[i] = e
	}
	l.mu.Unlock()

	for k, v := range projected {
		states[k.account].balances[k.currency] = v
	}
	for _, st := range states {
		st.version++
		st.updatedAt = now
	}
	return committed, nil
}

// Reconcile recomputes every balance from the entry history and compares it
// with the maintained running totals. It takes every account lock (ascending)
// so the view is consistent even under concurrent appends.
func (l *Ledger) Reconcile() error {
	l.mu.RLock()
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)

	return l.WithAccounts(ids, func() error {
		l.mu.RLock()
		defer l.mu.RUnlock()

		sums := make(map[string]map[models.Currency]int64, len(ids))
		for _, id := range ids {
			sums[id] = map[models.Currency]int64{}
		}
		for _, e := range l.entries {
			if e.Status != models.EntryCommitted {
				continue
			}
			if _, ok := sums[e.AccountID]; !ok {
				return fmt.Errorf("entry %d references unknown account %s", e.ID, e.AccountID)
			}
			sums[e.AccountID][e.Currency] += e.Amount
		}
		for _, id := range ids {
			st := l.accounts[id]
			for _, c := range []models.Currency{models.CurrencyRegular, models.CurrencySpecial} {
				if st.balances[c] != sums[id][c] {
					return fmt.Errorf("account %s %s: running total %d != entry sum %d",
						id, c, st.balances[c], sums[id][c])
				}
				if st.balances[c] < 0 {
					return fmt.Errorf("account %s %s: negative balance %d", id, c, st.balances[c])
				}
			}
		}
		return nil
	})
}

func (l *Ledger) state(id string) (*accountState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	return st, nil
}

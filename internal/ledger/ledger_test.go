package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelplaza/backend/internal/models"
)

func deposit(accountID string, amount int64) models.LedgerEntry {
	return models.LedgerEntry{
		CorrelationID: "seed",
		AccountID:     accountID,
		Currency:      models.CurrencyRegular,
		Amount:        amount,
		Kind:          models.EntryDeposit,
	}
}

func newFunded(t *testing.T, balances map[string]int64) *Ledger {
	t.Helper()
	l := New()
	for id, amount := range balances {
		require.NoError(t, l.CreateAccount(id))
		if amount > 0 {
			_, err := l.Append([]models.LedgerEntry{deposit(id, amount)})
			require.NoError(t, err)
		}
	}
	return l
}

func TestLedger_Append(t *testing.T) {
	t.Run("batch commits atomically", func(t *testing.T) {
		l := newFunded(t, map[string]int64{"buyer": 1000, "seller": 0, "fees": 0})

		committed, err := l.Append([]models.LedgerEntry{
			{CorrelationID: "c1", AccountID: "buyer", Currency: models.CurrencyRegular, Amount: -500, Kind: models.EntryPurchase},
			{CorrelationID: "c1", AccountID: "seller", Currency: models.CurrencyRegular, Amount: 475, Kind: models.EntrySale},
			{CorrelationID: "c1", AccountID: "fees", Currency: models.CurrencyRegular, Amount: 25, Kind: models.EntryFee},
		})
		assert.NoError(t, err)
		assert.Len(t, committed, 3)
		for _, e := range committed {
			assert.Equal(t, models.EntryCommitted, e.Status)
			assert.NotZero(t, e.ID)
		}

		buyer, _ := l.Balance("buyer", models.CurrencyRegular)
		seller, _ := l.Balance("seller", models.CurrencyRegular)
		fees, _ := l.Balance("fees", models.CurrencyRegular)
		assert.Equal(t, int64(500), buyer)
		assert.Equal(t, int64(475), seller)
		assert.Equal(t, int64(25), fees)
		assert.NoError(t, l.Reconcile())
	})

	t.Run("insufficient funds rejects the whole batch", func(t *testing.T) {
		l := newFunded(t, map[string]int64{"buyer": 100, "seller": 0})

		_, err := l.Append([]models.LedgerEntry{
			{CorrelationID: "c1", AccountID: "buyer", Currency: models.CurrencyRegular, Amount: -500, Kind: models.EntryPurchase},
			{CorrelationID: "c1", AccountID: "seller", Currency: models.CurrencyRegular, Amount: 500, Kind: models.EntrySale},
		})
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)

		// No partial application.
		buyer, _ := l.Balance("buyer", models.CurrencyRegular)
		seller, _ := l.Balance("seller", models.CurrencyRegular)
		assert.Equal(t, int64(100), buyer)
		assert.Equal(t, int64(0), seller)
		assert.Empty(t, l.Entries("seller"))
		assert.NoError(t, l.Reconcile())
	})

	t.Run("currencies are tracked independently", func(t *testing.T) {
		l := newFunded(t, map[string]int64{"a": 100})

		_, err := l.Append([]models.LedgerEntry{
			{CorrelationID: "c1", AccountID: "a", Currency: models.CurrencySpecial, Amount: -1, Kind: models.EntryWithdrawal},
		})
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)

		_, err = l.Append([]models.LedgerEntry{
			{CorrelationID: "c2", AccountID: "a", Currency: models.CurrencySpecial, Amount: 30, Kind: models.EntryReward},
		})
		assert.NoError(t, err)

		special, _ := l.Balance("a", models.CurrencySpecial)
		regular, _ := l.Balance("a", models.CurrencyRegular)
		assert.Equal(t, int64(30), special)
		assert.Equal(t, int64(100), regular)
	})

	t.Run("rejects malformed entries", func(t *testing.T) {
		l := newFunded(t, map[string]int64{"a": 100})

		_, err := l.Append(nil)
		assert.ErrorIs(t, err, models.ErrInvalidAmount)

		_, err = l.Append([]models.LedgerEntry{
			{CorrelationID: "c", AccountID: "a", Currency: models.CurrencyRegular, Amount: 0, Kind: models.EntryDeposit},
		})
		assert.ErrorIs(t, err, models.ErrInvalidAmount)

		_, err = l.Append([]models.LedgerEntry{
			{CorrelationID: "c", AccountID: "a", Currency: "DOUBLOONS", Amount: 5, Kind: models.EntryDeposit},
		})
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	t.Run("unknown account", func(t *testing.T) {
		l := New()
		_, err := l.Append([]models.LedgerEntry{deposit("ghost", 10)})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("deactivated account rejects activity", func(t *testing.T) {
		l := newFunded(t, map[string]int64{"a": 100})
		require.NoError(t, l.Deactivate("a"))

		_, err := l.Append([]models.LedgerEntry{deposit("a", 10)})
		assert.ErrorIs(t, err, models.ErrAccountInactive)

		// Balance stays readable after deactivation.
		balance, err := l.Balance("a", models.CurrencyRegular)
		assert.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})
}

func TestLedger_CreateAccount(t *testing.T) {
	l := New()
	assert.NoError(t, l.CreateAccount("a"))
	assert.ErrorIs(t, l.CreateAccount("a"), models.ErrAccountExists)

	snap, err := l.Snapshot("a")
	assert.NoError(t, err)
	assert.True(t, snap.Active)
	assert.Equal(t, int64(1), snap.Version)
	assert.Zero(t, snap.RegularBalance)
	assert.Zero(t, snap.SpecialBalance)
}

func TestLedger_VersionBumpsPerBatch(t *testing.T) {
	l := newFunded(t, map[string]int64{"a": 0})

	before, _ := l.Snapshot("a")
	_, err := l.Append([]models.LedgerEntry{deposit("a", 10)})
	require.NoError(t, err)
	_, err = l.Append([]models.LedgerEntry{deposit("a", 10)})
	require.NoError(t, err)

	after, _ := l.Snapshot("a")
	assert.Equal(t, before.Version+2, after.Version)
}

func TestLedger_ConcurrentTransfers(t *testing.T) {
	// Two accounts hammering transfers in both directions. With per-account
	// locks taken in ascending id order this must neither deadlock nor lose
	// updates, and no balance may ever go negative.
	l := newFunded(t, map[string]int64{"alice": 1000, "bob": 1000})

	const workers = 8
	const rounds = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		from, to := "alice", "bob"
		if w%2 == 1 {
			from, to = "bob", "alice"
		}
		wg.Add(1)
		go func(from, to string) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, _ = l.Append([]models.LedgerEntry{
					{CorrelationID: "t", AccountID: from, Currency: models.CurrencyRegular, Amount: -3, Kind: models.EntryGift},
					{CorrelationID: "t", AccountID: to, Currency: models.CurrencyRegular, Amount: 3, Kind: models.EntryGift},
				})
			}
		}(from, to)
	}
	wg.Wait()

	alice, _ := l.Balance("alice", models.CurrencyRegular)
	bob, _ := l.Balance("bob", models.CurrencyRegular)
	assert.Equal(t, int64(2000), alice+bob, "credits are conserved")
	assert.GreaterOrEqual(t, alice, int64(0))
	assert.GreaterOrEqual(t, bob, int64(0))
	assert.NoError(t, l.Reconcile())
}

func TestLedger_ConcurrentDrain(t *testing.T) {
	// Many workers draining one account: the total successfully withdrawn
	// can never exceed the starting balance.
	l := newFunded(t, map[string]int64{"a": 100, "sink": 0})

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, _ = l.Append([]models.LedgerEntry{
					{CorrelationID: "d", AccountID: "a", Currency: models.CurrencyRegular, Amount: -1, Kind: models.EntryGift},
					{CorrelationID: "d", AccountID: "sink", Currency: models.CurrencyRegular, Amount: 1, Kind: models.EntryGift},
				})
			}
		}()
	}
	wg.Wait()

	a, _ := l.Balance("a", models.CurrencyRegular)
	sink, _ := l.Balance("sink", models.CurrencyRegular)
	assert.Equal(t, int64(0), a)
	assert.Equal(t, int64(100), sink)
	assert.NoError(t, l.Reconcile())
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
}

func (j *recordingJournal) Record(entries []models.LedgerEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entries...)
}

func TestLedger_JournalReceivesCommittedOnly(t *testing.T) {
	l := newFunded(t, map[string]int64{"a": 50, "b": 0})
	j := &recordingJournal{}
	l.SetJournal(j)

	_, err := l.Append([]models.LedgerEntry{
		{CorrelationID: "ok", AccountID: "a", Currency: models.CurrencyRegular, Amount: -10, Kind: models.EntryGift},
		{CorrelationID: "ok", AccountID: "b", Currency: models.CurrencyRegular, Amount: 10, Kind: models.EntryGift},
	})
	require.NoError(t, err)

	_, err = l.Append([]models.LedgerEntry{
		{CorrelationID: "bad", AccountID: "a", Currency: models.CurrencyRegular, Amount: -999, Kind: models.EntryGift},
		{CorrelationID: "bad", AccountID: "b", Currency: models.CurrencyRegular, Amount: 999, Kind: models.EntryGift},
	})
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	j.mu.Lock()
	defer j.mu.Unlock()
	assert.Len(t, j.entries, 2)
	for _, e := range j.entries {
		assert.Equal(t, "ok", e.CorrelationID)
	}
}

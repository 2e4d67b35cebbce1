package marketplace

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelplaza/backend/internal/billing"
	"github.com/pixelplaza/backend/internal/ledger"
	"github.com/pixelplaza/backend/internal/market"
	"github.com/pixelplaza/backend/internal/models"
)

const (
	feeAccount     = "marketplace-fees"
	revenueAccount = "platform-revenue"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturePublisher) Publish(event models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) byType(t models.EventType) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestMarketplace(t *testing.T) (*Marketplace, *ledger.Ledger, *capturePublisher) {
	t.Helper()
	l := ledger.New()
	for _, id := range []string{"seller", "buyer", "buyer2", "poor", feeAccount, revenueAccount} {
		require.NoError(t, l.CreateAccount(id))
	}
	seed := []models.LedgerEntry{
		{CorrelationID: "seed", AccountID: "buyer", Currency: models.CurrencyRegular, Amount: 1000, Kind: models.EntryDeposit},
		{CorrelationID: "seed", AccountID: "buyer2", Currency: models.CurrencyRegular, Amount: 1000, Kind: models.EntryDeposit},
		{CorrelationID: "seed", AccountID: "buyer", Currency: models.CurrencySpecial, Amount: 40, Kind: models.EntryReward},
	}
	_, err := l.Append(seed)
	require.NoError(t, err)

	subs := billing.NewManager(l, billing.DefaultConfig(revenueAccount))
	mp := New(l, market.NewCatalog(), market.NewAuctionEngine(), subs, DefaultConfig(feeAccount))

	pub := &capturePublisher{}
	mp.SetPublisher(pub)
	return mp, l, pub
}

func fixedListing(t *testing.T, mp *Marketplace, price int64) models.Listing {
	t.Helper()
	l, err := mp.CreateListing(CreateListingParams{
		X: 4, Y: 9, Region: "north", Mode: models.ModeFixed,
		Price: price, SellerID: "seller", Rarity: "COMMON",
	})
	require.NoError(t, err)
	return l
}

func auctionListing(t *testing.T, mp *Marketplace, reserve int64) models.Listing {
	t.Helper()
	l, err := mp.CreateListing(CreateListingParams{
		X: 1, Y: 2, Region: "south", Mode: models.ModeAuction,
		Price: reserve, SellerID: "seller", Rarity: "RARE",
		Duration: time.Hour,
	})
	require.NoError(t, err)
	return l
}

func TestMarketplace_CreateListing(t *testing.T) {
	mp, _, _ := newTestMarketplace(t)

	t.Run("fixed listing starts active", func(t *testing.T) {
		l := fixedListing(t, mp, 100)
		assert.Equal(t, models.ListingActive, l.Status)
		assert.NotEmpty(t, l.ID)
		assert.Nil(t, l.EndTime)
	})

	t.Run("auction listing opens bidding", func(t *testing.T) {
		l := auctionListing(t, mp, 100)
		require.NotNil(t, l.EndTime)

		_, err := mp.PlaceBid(l.ID, "buyer", 100)
		assert.NoError(t, err)
	})

	t.Run("auction requires a duration", func(t *testing.T) {
		_, err := mp.CreateListing(CreateListingParams{
			Mode: models.ModeAuction, Price: 100, SellerID: "seller",
		})
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})
}

func TestMarketplace_Purchase(t *testing.T) {
	t.Run("settles buyer, seller and fee account", func(t *testing.T) {
		mp, l, pub := newTestMarketplace(t)
		listing := fixedListing(t, mp, 400) // fee at 250bps: 10

		res, err := mp.Purchase(listing.ID, "buyer")
		require.NoError(t, err)
		assert.Equal(t, models.ListingSold, res.Listing.Status)
		assert.Equal(t, "buyer", res.Listing.BuyerID)
		assert.Equal(t, int64(600), res.NewBalance)
		assert.Equal(t, int64(10), res.Fee)

		sellerBal, _ := l.Balance("seller", models.CurrencyRegular)
		feeBal, _ := l.Balance(feeAccount, models.CurrencyRegular)
		assert.Equal(t, int64(390), sellerBal)
		assert.Equal(t, int64(10), feeBal)

		require.Len(t, pub.byType(models.EventListingSold), 1)
	})

	t.Run("fee capped at the price still settles", func(t *testing.T) {
		mp, l, _ := newTestMarketplace(t)
		// A flat fee above a cheap listing's price caps at the price and
		// leaves nothing for the seller.
		mp.cfg.FeeBps = 0
		mp.cfg.FeeFixed = 100
		listing := fixedListing(t, mp, 50)

		res, err := mp.Purchase(listing.ID, "buyer")
		require.NoError(t, err)
		assert.Equal(t, models.ListingSold, res.Listing.Status)
		assert.Equal(t, int64(50), res.Fee)

		sellerBal, _ := l.Balance("seller", models.CurrencyRegular)
		feeBal, _ := l.Balance(feeAccount, models.CurrencyRegular)
		assert.Equal(t, int64(0), sellerBal)
		assert.Equal(t, int64(50), feeBal)
		assert.Empty(t, l.Entries("seller"))
	})

	t.Run("insufficient funds leaves the listing active", func(t *testing.T) {
		mp, _, _ := newTestMarketplace(t)
		listing := fixedListing(t, mp, 5000)

		_, err := mp.Purchase(listing.ID, "buyer")
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)

		got, _ := mp.Catalog().Get(listing.ID)
		assert.Equal(t, models.ListingActive, got.Status)
		assert.Empty(t, got.BuyerID)
	})

	t.Run("self-purchase rejected", func(t *testing.T) {
		mp, _, _ := newTestMarketplace(t)
		listing := fixedListing(t, mp, 100)

		_, err := mp.Purchase(listing.ID, "seller")
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("auction listings accept bids only", func(t *testing.T) {
		mp, _, _ := newTestMarketplace(t)
		listing := auctionListing(t, mp, 100)

		_, err := mp.Purchase(listing.ID, "buyer")
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("exactly one of two concurrent buyers wins", func(t *testing.T) {
		mp, l, _ := newTestMarketplace(t)
		listing := fixedListing(t, mp, 400)

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, buyer := range []string{"buyer", "buyer2"} {
			wg.Add(1)
			go func(i int, buyer string) {
				defer wg.Done()
				_, errs[i] = mp.Purchase(listing.ID, buyer)
			}(i, buyer)
		}
		wg.Wait()

		var wins, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			default:
				assert.ErrorIs(t, err, models.ErrConflict)
				conflicts++
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 1, conflicts)

		// The seller was paid exactly once.
		sellerBal, _ := l.Balance("seller", models.CurrencyRegular)
		assert.Equal(t, int64(390), sellerBal)
	})
}

func TestMarketplace_PlaceBid(t *testing.T) {
	mp, _, pub := newTestMarketplace(t)
	listing := auctionListing(t, mp, 100)

	t.Run("admits and records a bid", func(t *testing.T) {
		bid, err := mp.PlaceBid(listing.ID, "buyer", 150)
		require.NoError(t, err)
		assert.Equal(t, int64(150), bid.Amount)
		require.Len(t, pub.byType(models.EventBidPlaced), 1)
	})

	t.Run("low bid rejected without an event", func(t *testing.T) {
		_, err := mp.PlaceBid(listing.ID, "buyer2", 151)
		assert.ErrorIs(t, err, models.ErrBidTooLow)
		assert.Len(t, pub.byType(models.EventBidPlaced), 1)
	})

	t.Run("seller may not bid", func(t *testing.T) {
		_, err := mp.PlaceBid(listing.ID, "seller", 500)
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("fixed listings have no auction", func(t *testing.T) {
		fixed := fixedListing(t, mp, 100)
		_, err := mp.PlaceBid(fixed.ID, "buyer", 100)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestMarketplace_CloseAuction(t *testing.T) {
	endClock := func(mp *Marketplace) {
		mp.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	}

	t.Run("still open", func(t *testing.T) {
		mp, _, _ := newTestMarketplace(t)
		listing := auctionListing(t, mp, 100)

		_, err := mp.CloseAuction(listing.ID)
		assert.ErrorIs(t, err, models.ErrAuctionOpen)
	})

	t.Run("settles with the highest bidder", func(t *testing.T) {
		mp, l, pub := newTestMarketplace(t)
		listing := auctionListing(t, mp, 100)
		_, err := mp.PlaceBid(listing.ID, "buyer2", 120)
		require.NoError(t, err)
		_, err = mp.PlaceBid(listing.ID, "buyer", 200) // fee at 250bps: 5
		require.NoError(t, err)

		endClock(mp)
		res, err := mp.CloseAuction(listing.ID)
		require.NoError(t, err)
		assert.True(t, res.Settled)
		assert.Equal(t, "buyer", res.WinnerID)
		assert.Equal(t, int64(200), res.Price)
		assert.Equal(t, models.ListingSold, res.Listing.Status)

		buyerBal, _ := l.Balance("buyer", models.CurrencyRegular)
		sellerBal, _ := l.Balance("seller", models.CurrencyRegular)
		feeBal, _ := l.Balance(feeAccount, models.CurrencyRegular)
		assert.Equal(t, int64(800), buyerBal)
		assert.Equal(t, int64(195), sellerBal)
		assert.Equal(t, int64(5), feeBal)

		require.Len(t, pub.byType(models.EventAuctionSettled), 1)
	})

	t.Run("repeated close is idempotent", func(t *testing.T) {
		mp, l, pub := newTestMarketplace(t)
		listing := auctionListing(t, mp, 100)
		_, err := mp.PlaceBid(listing.ID, "buyer", 200)
		require.NoError(t, err)

		endClock(mp)
		first, err := mp.CloseAuction(listing.ID)
		require.NoError(t, err)
		entriesAfterFirst := len(l.Entries("seller"))

		second, err := mp.CloseAuction(listing.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Listing.Status, second.Listing.Status)
		assert.Equal(t, first.WinnerID, second.WinnerID)
		assert.Len(t, l.Entries("seller"), entriesAfterFirst)
		assert.Len(t, pub.byType(models.EventAuctionSettled), 1)
	})

	t.Run("no bids expires the listing without entries", func(t *testing.T) {
		mp, l, _ := newTestMarketplace(t)
		listing := auctionListing(t, mp, 100)
		before := len(l.Entries("seller"))

		endClock(mp)
		res, err := mp.CloseAuction(listing.ID)
		require.NoError(t, err)
		assert.False(t, res.Settled)
		assert.Equal(t, models.ListingExpired, res.Listing.Status)
		assert.Len(t, l.Entries("seller"), before)
	})

	t.Run("winner who cannot pay expires the listing", func(t *testing.T) {
		mp, l, _ := newTestMarketplace(t)
		listing := auctionListing(t, mp, 100)
		_, err := mp.PlaceBid(listing.ID, "poor", 300)
		require.NoError(t, err)
		before := len(l.Entries("seller"))

		endClock(mp)
		res, err := mp.CloseAuction(listing.ID)
		require.NoError(t, err)
		assert.False(t, res.Settled)
		assert.Equal(t, models.ListingExpired, res.Listing.Status)
		assert.Empty(t, res.Listing.BuyerID)
		assert.Len(t, l.Entries("seller"), before)
	})
}

func TestMarketplace_SweepAuctions(t *testing.T) {
	mp, _, _ := newTestMarketplace(t)
	listing := auctionListing(t, mp, 100)
	_, err := mp.PlaceBid(listing.ID, "buyer", 150)
	require.NoError(t, err)

	mp.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	mp.SweepAuctions()

	got, err := mp.Catalog().Get(listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingSold, got.Status)
	assert.Equal(t, "buyer", got.BuyerID)
}

func TestMarketplace_Transfer(t *testing.T) {
	t.Run("moves credits between accounts", func(t *testing.T) {
		mp, l, pub := newTestMarketplace(t)

		require.NoError(t, mp.Transfer("buyer", "seller", 250, models.CurrencyRegular))
		require.NoError(t, mp.Transfer("buyer", "seller", 15, models.CurrencySpecial))

		buyerReg, _ := l.Balance("buyer", models.CurrencyRegular)
		sellerReg, _ := l.Balance("seller", models.CurrencyRegular)
		buyerSpec, _ := l.Balance("buyer", models.CurrencySpecial)
		sellerSpec, _ := l.Balance("seller", models.CurrencySpecial)
		assert.Equal(t, int64(750), buyerReg)
		assert.Equal(t, int64(250), sellerReg)
		assert.Equal(t, int64(25), buyerSpec)
		assert.Equal(t, int64(15), sellerSpec)

		assert.Len(t, pub.byType(models.EventTransferCompleted), 2)
	})

	t.Run("rejects malformed transfers", func(t *testing.T) {
		mp, _, _ := newTestMarketplace(t)

		assert.ErrorIs(t, mp.Transfer("buyer", "seller", 0, models.CurrencyRegular), models.ErrInvalidAmount)
		assert.ErrorIs(t, mp.Transfer("buyer", "seller", -5, models.CurrencyRegular), models.ErrInvalidAmount)
		assert.ErrorIs(t, mp.Transfer("buyer", "buyer", 10, models.CurrencyRegular), models.ErrInvalidAmount)
		assert.ErrorIs(t, mp.Transfer("buyer", "seller", 10, "GEMS"), models.ErrInvalidAmount)
	})

	t.Run("insufficient funds moves nothing", func(t *testing.T) {
		mp, l, _ := newTestMarketplace(t)

		err := mp.Transfer("buyer", "seller", 5000, models.CurrencyRegular)
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)

		buyerReg, _ := l.Balance("buyer", models.CurrencyRegular)
		assert.Equal(t, int64(1000), buyerReg)
	})
}

func TestMarketplace_Subscriptions(t *testing.T) {
	mp, l, _ := newTestMarketplace(t)

	sub, err := mp.Subscribe("buyer", models.TierBasic)
	require.NoError(t, err)
	assert.Equal(t, models.SubActive, sub.Status)

	balance, _ := l.Balance("buyer", models.CurrencyRegular)
	assert.Equal(t, int64(900), balance)

	sub, err = mp.CancelAutoRenew("buyer")
	require.NoError(t, err)
	assert.False(t, sub.AutoRenew)

	got, err := mp.Subscription("buyer")
	require.NoError(t, err)
	assert.Equal(t, models.TierBasic, got.Tier)
}

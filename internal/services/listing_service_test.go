package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelplaza/backend/internal/models"
)

func listingRouter(svc *ListingService) chi.Router {
	r := chi.NewRouter()
	r.Post("/listings", svc.Create)
	r.Get("/listings", svc.Find)
	r.Get("/listings/{listingId}", svc.Get)
	r.Post("/listings/{listingId}/cancel", svc.Cancel)
	r.Post("/listings/{listingId}/like", svc.Like)
	r.Post("/listings/{listingId}/watch", svc.Watch)
	return r
}

func TestListingService_Create(t *testing.T) {
	mp, _ := newTestStack(t)
	svc := NewListingService(mp, nil)
	router := listingRouter(svc)

	t.Run("creates a fixed listing", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodPost, "/listings", "seller", CreateListingRequest{
			X: 10, Y: 20, Region: "north", Mode: "FIXED", Price: 300, Rarity: "RARE", Tags: []string{"corner"},
		}))
		require.Equal(t, http.StatusCreated, w.Code)

		var listing models.Listing
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
		assert.Equal(t, models.ListingActive, listing.Status)
		assert.Equal(t, "seller", listing.SellerID)
		assert.NotEmpty(t, listing.ID)
	})

	t.Run("rejects an unknown mode", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodPost, "/listings", "seller", CreateListingRequest{
			Region: "north", Mode: "RAFFLE", Price: 300,
		}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires authentication", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodPost, "/listings", "", CreateListingRequest{
			Region: "north", Mode: "FIXED", Price: 300,
		}))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestListingService_GetAndCounters(t *testing.T) {
	mp, _ := newTestStack(t)
	svc := NewListingService(mp, nil)
	router := listingRouter(svc)

	created, err := mp.CreateListing(testListingParams(300))
	require.NoError(t, err)

	t.Run("get counts a view", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodGet, "/listings/"+created.ID, "buyer", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var listing models.Listing
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
		assert.Equal(t, int64(1), listing.Views)
	})

	t.Run("like and watch bump totals", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodPost, "/listings/"+created.ID+"/like", "buyer", nil))
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodPost, "/listings/"+created.ID+"/watch", "buyer", nil))
		require.Equal(t, http.StatusOK, w.Code)

		listing, err := mp.Catalog().Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), listing.Likes)
		assert.Equal(t, int64(1), listing.Watchers)
	})

	t.Run("unknown listing", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodGet, "/listings/missing", "buyer", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestListingService_Find(t *testing.T) {
	mp, _ := newTestStack(t)
	svc := NewListingService(mp, nil)
	router := listingRouter(svc)

	cheap, err := mp.CreateListing(testListingParams(100))
	require.NoError(t, err)
	pricey, err := mp.CreateListing(testListingParams(900))
	require.NoError(t, err)

	find := func(t *testing.T, query string) []models.Listing {
		t.Helper()
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodGet, "/listings"+query, "buyer", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Listings []models.Listing `json:"listings"`
			Count    int              `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.Listings
	}

	t.Run("price sort", func(t *testing.T) {
		got := find(t, "?sort=price")
		require.Len(t, got, 2)
		assert.Equal(t, cheap.ID, got[0].ID)
		assert.Equal(t, pricey.ID, got[1].ID)
	})

	t.Run("price window", func(t *testing.T) {
		got := find(t, "?sort=price&min_price=500")
		require.Len(t, got, 1)
		assert.Equal(t, pricey.ID, got[0].ID)
	})

	t.Run("sold listings are excluded by default", func(t *testing.T) {
		_, err := mp.Purchase(cheap.ID, "buyer")
		require.NoError(t, err)

		got := find(t, "?sort=price")
		require.Len(t, got, 1)
		assert.Equal(t, pricey.ID, got[0].ID)
	})
}

func TestListingService_Cancel(t *testing.T) {
	mp, _ := newTestStack(t)
	svc := NewListingService(mp, nil)
	router := listingRouter(svc)

	created, err := mp.CreateListing(testListingParams(300))
	require.NoError(t, err)

	t.Run("stranger cannot cancel", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodPost, "/listings/"+created.ID+"/cancel", "buyer", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("seller cancels once", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodPost, "/listings/"+created.ID+"/cancel", "seller", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var listing models.Listing
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
		assert.Equal(t, models.ListingCancelled, listing.Status)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, authedRequest(t, http.MethodPost, "/listings/"+created.ID+"/cancel", "seller", nil))
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

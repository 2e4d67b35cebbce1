package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/pixelplaza/backend/internal/billing"
	"github.com/pixelplaza/backend/internal/database"
	"github.com/pixelplaza/backend/internal/ledger"
	"github.com/pixelplaza/backend/internal/market"
	"github.com/pixelplaza/backend/internal/marketplace"
	mW "github.com/pixelplaza/backend/internal/middleware"
	"github.com/pixelplaza/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("market.fee_account", "MARKET_FEE_ACCOUNT")
	viper.BindEnv("market.fee_bps", "MARKET_FEE_BPS")
	viper.BindEnv("market.revenue_account", "MARKET_REVENUE_ACCOUNT")
	viper.BindEnv("market.sweep_interval", "MARKET_SWEEP_INTERVAL")

	viper.SetDefault("market.fee_account", "platform-fees")
	viper.SetDefault("market.revenue_account", "platform-revenue")
	viper.SetDefault("market.sweep_interval", 30*time.Second)
	viper.SetDefault("journal.flush_interval", 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core engines
	coreLedger := ledger.New()
	feeAccount := viper.GetString("market.fee_account")
	revenueAccount := viper.GetString("market.revenue_account")
	for _, id := range []string{feeAccount, revenueAccount} {
		if err := coreLedger.CreateAccount(id); err != nil {
			log.Fatalf("Failed to create system account %s: %v", id, err)
		}
	}

	cfg := marketplace.DefaultConfig(feeAccount)
	if bps := viper.GetInt64("market.fee_bps"); bps > 0 {
		cfg.FeeBps = bps
	}

	subs := billing.NewManager(coreLedger, billing.DefaultConfig(revenueAccount))
	mp := marketplace.New(coreLedger, market.NewCatalog(), market.NewAuctionEngine(), subs, cfg)

	// Audit journal (optional) and event queue (optional)
	db := database.InitDatabase()
	if db != nil {
		defer db.Close()
		journal := services.NewJournalService(db)
		coreLedger.SetJournal(journal)
		journal.Start(ctx, viper.GetDuration("journal.flush_interval"))
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
		mp.SetPublisher(services.NewEventPublisher(redisClient))
	}

	// HTTP services
	accountService := services.NewAccountService(coreLedger)
	counterService := services.NewCounterService(redisClient)
	listingService := services.NewListingService(mp, counterService)
	marketService := services.NewMarketplaceService(mp)
	subscriptionService := services.NewSubscriptionService(mp)

	// Background sweeps: auction closes and billing renewals
	mp.Start(ctx, viper.GetDuration("market.sweep_interval"))

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", accountService.Register)
		r.Post("/auth/login", accountService.Login)
		r.Get("/listings", listingService.Find)
		r.Get("/listings/{listingId}", listingService.Get)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", accountService.GetAccount)
			r.Get("/auth/history", accountService.GetHistory)

			r.Post("/listings", listingService.Create)
			r.Post("/listings/{listingId}/cancel", listingService.Cancel)
			r.Post("/listings/{listingId}/like", listingService.Like)
			r.Post("/listings/{listingId}/watch", listingService.Watch)

			r.Post("/listings/{listingId}/purchase", marketService.Purchase)
			r.Post("/listings/{listingId}/bids", marketService.PlaceBid)
			r.Post("/listings/{listingId}/close", marketService.CloseAuction)
			r.Post("/transfers", marketService.Transfer)

			r.Post("/subscriptions", subscriptionService.Subscribe)
			r.Get("/subscriptions/me", subscriptionService.Get)
			r.Post("/subscriptions/cancel", subscriptionService.Cancel)
			r.Post("/subscriptions/upgrade", subscriptionService.Upgrade)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}

package main

// @title Suites Billing API
// @version 1.0
// @description Subscription, trial and entitlement API for the Suites tool platform.

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/suiteshq/suites-backend/config"
	"github.com/suiteshq/suites-backend/pkg/api/handlers"
	custommw "github.com/suiteshq/suites-backend/pkg/api/middleware"
	"github.com/suiteshq/suites-backend/pkg/auth"
	"github.com/suiteshq/suites-backend/pkg/billing"
	"github.com/suiteshq/suites-backend/pkg/cache"
	"github.com/suiteshq/suites-backend/pkg/catalog"
	"github.com/suiteshq/suites-backend/pkg/database"
	"github.com/suiteshq/suites-backend/pkg/jobs"
	"github.com/suiteshq/suites-backend/pkg/metrics"
	custommiddleware "github.com/suiteshq/suites-backend/pkg/middleware"
)

func main() {
	// Load .env if present (development convenience)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()
	log.Printf("🔧 Configuration loaded (environment: %s)", cfg.APIEnvironment)

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Printf("⚠️ Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s)", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Printf("ℹ️ Sentry disabled (no DSN configured)")
	}

	// Initialize database
	db, err := database.NewClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize Redis cache
	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Seed the plan catalog (find-or-create, safe on every boot)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := catalog.Seed(ctx, db.DB); err != nil {
			cancel()
			log.Fatalf("❌ Failed to seed catalog: %v", err)
		}
		cancel()
		log.Printf("✅ Catalog seeded")
	}

	// Services
	catalogService := catalog.NewService(db.DB, redisClient)
	store := billing.NewStore(db.DB)
	provider := billing.NewStripeProvider(cfg)
	billingService := billing.NewService(store, catalogService, provider, cfg)
	reconciler := billing.NewReconciler(store, catalogService, provider)
	reporter := billing.NewReporter(store, provider)

	// Cron jobs
	cronManager := jobs.NewCronManager(reporter, log.Default())
	if err := cronManager.SetupJobs(cfg.UsageReportSchedule); err != nil {
		log.Fatalf("❌ Failed to setup cron jobs: %v", err)
	}
	cronManager.Start()

	// Handlers
	billingHandler := handlers.NewBillingHandler(billingService, reconciler)
	pricingHandler := handlers.NewPricingHandler(catalogService)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Rate limiters
	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst, cfg.RateLimitMaxEntries)
	webhookRateLimiter := custommiddleware.NewRateLimiter(100, 20, cfg.RateLimitMaxEntries) // provider bursts on retry storms

	// Global middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[%s] %s - Status: %d", c.Request().Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true, // let Recover handle the panic after capture
		}))
	}

	e.Use(metrics.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(middleware.Gzip())
	e.Use(middleware.Secure())
	e.Use(globalRateLimiter.RateLimitMiddleware())

	// Public endpoints
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"name":        "Suites Billing API",
			"version":     "0.1.0",
			"status":      "running",
			"environment": cfg.APIEnvironment,
			"timestamp":   time.Now().Unix(),
		})
	})

	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":   "unhealthy",
				"database": "down",
			})
		}
		if err := redisClient.Redis.Ping(ctx).Err(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"cache":  "down",
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status":   "healthy",
			"database": "up",
			"cache":    "up",
		})
	})

	e.GET("/metrics", metrics.Handler())

	// API routes
	api := e.Group("/api")

	// Public pricing
	api.GET("/billing/pricing", pricingHandler.GetPricing)

	// Provider webhook: raw body, signature-verified, higher rate limit
	api.POST("/webhooks/stripe", billingHandler.HandleWebhook, webhookRateLimiter.RateLimitMiddleware())

	// Authenticated billing routes
	billingGroup := api.Group("/billing")
	billingGroup.Use(custommw.JWTMiddleware(cfg.JWTSecret))
	{
		billingGroup.GET("/me/entitlements", billingHandler.GetEntitlements)
		billingGroup.GET("/me/subscriptions", billingHandler.ListSubscriptions)
		billingGroup.GET("/invoices", billingHandler.ListInvoices)
		billingGroup.POST("/trial/start", billingHandler.StartTrial)

		// Purchasing requires the billing capability
		manage := billingGroup.Group("")
		manage.Use(custommw.RequireCapability(auth.CapManageBilling))
		{
			manage.POST("/subscribe", billingHandler.Subscribe)
			manage.POST("/create-checkout-session", billingHandler.CreateCheckoutSession)
			manage.POST("/verify-session", billingHandler.VerifyCheckoutSession)
			manage.POST("/create-portal-session", billingHandler.CreatePortalSession)
		}
	}

	// Start server
	address := cfg.APIHost + ":" + cfg.APIPort
	go func() {
		log.Printf("🚀 Server starting on %s", address)
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	cronManager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}
	log.Println("✅ Server exited")
}

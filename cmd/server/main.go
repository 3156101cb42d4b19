package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/finnet-api/internal/auth"
	"github.com/ksred/finnet-api/internal/database"
	"github.com/ksred/finnet-api/internal/detection"
	"github.com/ksred/finnet-api/internal/market"
	"github.com/ksred/finnet-api/internal/netting"
	"github.com/ksred/finnet-api/internal/session"
	"github.com/ksred/finnet-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const jwtSecret = "finnet-secret-key"

// defaultSeed anchors both the synthetic market feed and the isolation
// forest so identical runs reproduce identical labels.
const defaultSeed = 42

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the settlement pipeline API server with graceful
// shutdown support. It sets up the session store, the anomaly detector, the
// netting engine, and the API routes.
func main() {
	dbPath := os.Getenv("FINNET_DB")
	if dbPath == "" {
		dbPath = "finnet.db"
	}

	db, err := database.NewDatabase(dbPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	seed := int64(defaultSeed)
	if raw := os.Getenv("DETECTOR_SEED"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			zlog.Fatal().Err(err).Str("detector_seed", raw).Msg("Invalid DETECTOR_SEED")
		}
		seed = parsed
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	store := session.NewStore(db)

	marketService := market.NewService(store, seed)
	marketHandlers := market.NewGinHandlers(marketService)

	detectionService := detection.NewService(store, detection.NewIsolationForest(seed))
	detectionHandlers := detection.NewGinHandlers(detectionService)

	nettingService := netting.NewService(store)
	nettingHandlers := netting.NewGinHandlers(nettingService)

	// Create and start the session cache processor
	sessionProcessor := session.NewProcessor(store)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go sessionProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, marketHandlers, detectionHandlers, nettingHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Ledger routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
// Parameters:
//   - router: The main Gin router instance
//   - authHandlers: Handlers for authentication endpoints
//   - marketHandlers: Handlers for ledger generation and retrieval
//   - detectionHandlers: Handlers for anomaly scanning
//   - nettingHandlers: Handlers for netting and settlement reports
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	marketHandlers *market.GinHandlers,
	detectionHandlers *detection.GinHandlers,
	nettingHandlers *netting.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Ledger routes
		ledgers := v1.Group("/ledgers")
		ledgers.Use(middleware.JWTAuth(jwtSecret))
		{
			ledgers.POST("", marketHandlers.CreateLedgerHandler())
			ledgers.GET("/:ledger_id", marketHandlers.GetLedgerHandler())
			ledgers.GET("/:ledger_id/report", nettingHandlers.GetReportHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/scan/:ledger_id", detectionHandlers.ScanLedgerHandler())
			internal.POST("/netting/:ledger_id", nettingHandlers.NetLedgerHandler())
		}
	}
}

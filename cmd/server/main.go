package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/enerdesk/calls-api/internal/auth"
	"github.com/enerdesk/calls-api/internal/calls"
	"github.com/enerdesk/calls-api/internal/ccee"
	"github.com/enerdesk/calls-api/internal/clock"
	"github.com/enerdesk/calls-api/internal/config"
	"github.com/enerdesk/calls-api/internal/database"
	"github.com/enerdesk/calls-api/internal/locks"
	"github.com/enerdesk/calls-api/internal/proposals"
	"github.com/enerdesk/calls-api/internal/registration"
	"github.com/enerdesk/calls-api/internal/resolution"
	"github.com/enerdesk/calls-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the procurement calls API server with graceful
// shutdown support. It sets up all required services, the database connection,
// and API routes.
func main() {
	cfg := config.Load()

	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.Default()

	// One lock registry serializes mutating operations per call across all
	// services; the system clock backs every deadline and timestamp check.
	lockRegistry := locks.NewRegistry()
	systemClock := clock.System()

	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestDeskAPIKey, auth.TestDeskAPISecret,
		auth.PermManageCalls, auth.PermSubmitProposals)
	authService.RegisterAPICredentials(auth.TestCounterpartyAPIKey, auth.TestCounterpartyAPISecret,
		auth.PermSubmitProposals)

	callService := calls.NewService(db, lockRegistry, systemClock)
	callHandlers := calls.NewGinHandlers(callService)

	proposalService := proposals.NewService(db, lockRegistry, systemClock)
	proposalHandlers := proposals.NewGinHandlers(proposalService)

	resolutionService := resolution.NewService(db, lockRegistry, systemClock)
	resolutionHandlers := resolution.NewGinHandlers(resolutionService)

	registryClient := ccee.NewClient()
	registrationService := registration.NewService(db, registryClient, lockRegistry, systemClock)
	registrationHandlers := registration.NewGinHandlers(registrationService)

	// Create and start the proposal expiry processor
	expiryProcessor := proposals.NewExpiryProcessor(proposalService.GetDB(), systemClock, cfg.ExpirySweepInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go expiryProcessor.Start(processorCtx)

	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.JWTSecret, authHandlers, callHandlers, proposalHandlers, resolutionHandlers, registrationHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

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

// setupRoutes configures all API endpoints and their handlers:
// - Auth routes: public endpoints for authentication
// - Call and proposal routes: protected by JWT authentication
// - Internal routes (close, register): back-office, require calls:manage
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	callHandlers *calls.GinHandlers,
	proposalHandlers *proposals.GinHandlers,
	resolutionHandlers *resolution.GinHandlers,
	registrationHandlers *registration.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Call routes
		callRoutes := v1.Group("/calls")
		callRoutes.Use(middleware.JWTAuth(jwtSecret))
		{
			callRoutes.POST("", callHandlers.CreateCallHandler())
			callRoutes.GET("", callHandlers.ListCallsHandler())
			callRoutes.GET("/:call_id", callHandlers.GetCallHandler())
			callRoutes.PUT("/:call_id", callHandlers.EditCallHandler())
			callRoutes.POST("/:call_id/publish", callHandlers.PublishCallHandler())
			callRoutes.POST("/:call_id/cancel", callHandlers.CancelCallHandler())
			callRoutes.POST("/:call_id/proposals", proposalHandlers.SubmitProposalHandler())
			callRoutes.GET("/:call_id/proposals", proposalHandlers.ListByCallHandler())
		}

		// Proposal routes for the acting counterparty
		proposalRoutes := v1.Group("/proposals")
		proposalRoutes.Use(middleware.JWTAuth(jwtSecret))
		{
			proposalRoutes.GET("", proposalHandlers.ListMineHandler())
		}

		// Internal routes (back-office resolution and registration)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/calls/:call_id/close", resolutionHandlers.CloseCallHandler())
			internal.POST("/calls/:call_id/register", registrationHandlers.RegisterCallHandler())
		}
	}
}

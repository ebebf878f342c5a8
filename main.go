package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clubware/membership-backend/shared/monitoring"
	"github.com/clubware/membership-backend/shared/utils"
	v1 "github.com/clubware/membership-backend/v1"
	v1handlers "github.com/clubware/membership-backend/v1/handlers"
	v1middleware "github.com/clubware/membership-backend/v1/middleware"
	v1models "github.com/clubware/membership-backend/v1/models"
	v1services "github.com/clubware/membership-backend/v1/services"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	slog.SetDefault(logger)

	slog.Info("Starting Membership Backend initialization")

	dbConfig := v1.NewDatabaseConfig()
	gormDB, err := v1.ConnectGormDB(dbConfig)
	if err != nil {
		slog.Error("Failed to connect to GORM database", "error", err)
		os.Exit(1)
	}

	if utils.GetEnvOrDefault("DB_AUTO_MIGRATE", "true") == "true" {
		if err := gormDB.AutoMigrate(
			&v1models.Member{},
			&v1models.StatusTransition{},
			&v1models.MembershipPeriod{},
		); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
	}

	v1Handler := v1handlers.NewV1Handler(gormDB)

	// API routes go behind the actor-extraction middleware so every chain
	// mutation carries audit attribution.
	apiMux := http.NewServeMux()
	v1Handler.SetupV1Routes(apiMux)

	authConfig := v1middleware.ActorAuthConfig{
		SigningSecret:  os.Getenv("AUTH_SIGNING_SECRET"),
		ExpectedIssuer: os.Getenv("AUTH_EXPECTED_ISSUER"),
		Leeway:         30 * time.Second,
	}
	if err := authConfig.Validate(); err != nil {
		slog.Error("Invalid auth configuration", "error", err)
		os.Exit(1)
	}
	actorMiddleware := v1middleware.NewActorAuthMiddleware(authConfig)
	protectedAPIHandler := actorMiddleware.ExtractActor(apiMux)

	topLevelMux := http.NewServeMux()
	topLevelMux.Handle("/api/v1/", protectedAPIHandler)
	topLevelMux.Handle("/metrics", monitoring.Handler())

	topLevelMux.Handle("/health", utils.PanicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type DBHealth struct {
			Status   string `json:"status"`
			Error    string `json:"error,omitempty"`
			Database string `json:"database,omitempty"`
		}
		type HealthStatus struct {
			Status   string   `json:"status"`
			Service  string   `json:"service"`
			Database DBHealth `json:"database"`
		}

		status := HealthStatus{
			Status:   "healthy",
			Service:  "membership-backend",
			Database: DBHealth{Status: "unknown"},
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		sqlDB, err := gormDB.DB()
		if err != nil {
			status.Database = DBHealth{Status: "unhealthy", Error: fmt.Sprintf("failed to get sql.DB: %v", err)}
			status.Status = "unhealthy"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			status.Database = DBHealth{Status: "unhealthy", Error: err.Error()}
			status.Status = "unhealthy"
		} else {
			status.Database = DBHealth{Status: "healthy", Database: dbConfig.Database}
		}

		statusCode := http.StatusOK
		if status.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}
		utils.RespondWithJSON(w, statusCode, status)
	})))

	// Background worker terminating memberships whose cancellation date has
	// arrived.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := v1services.NewCancellationWorker(gormDB, v1services.NewStatusService(gormDB))
	go worker.Start(workerCtx)

	port := utils.GetEnvOrDefault("PORT", "3000")
	addr := ":" + port
	server := &http.Server{
		Addr:         addr,
		Handler:      topLevelMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Membership Backend starting", "port", port, "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start Membership Backend", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down Membership Backend...")
	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if sqlDB, err := gormDB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("Failed to close database connection", "error", err)
		}
	}

	slog.Info("Membership Backend exited")
}

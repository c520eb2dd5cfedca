package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/cache"
	"github.com/ezpaylabs/transfer-engine/pkg/database"
	middleware "github.com/ezpaylabs/transfer-engine/pkg/middlewares"
	"github.com/ezpaylabs/transfer-engine/pkg/repositories"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/configs"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/internal/engine"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/internal/handlers"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewApp wires dependencies, builds the Gin engine, and returns an *http.Server and a cleanup func.
// It reads configuration from environment variables via configs.Load.
func NewApp(ctx context.Context, logger *zap.Logger) (*http.Server, func(), error) {
	// Load config
	cfg, err := configs.Load(logger)
	if err != nil {
		return nil, nil, err
	}

	// Initialize postgres db
	dbConfig := database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		ReadDSNs:   []string{cfg.ReplicaDbAddr},
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	}
	db, disconnect, err := database.New(ctx, logger, dbConfig)
	if err != nil {
		return nil, nil, err
	}

	// Run migrations on primary
	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		disconnect()
		return nil, nil, err
	}

	// Redis carries idempotency reservations and the distributed rate limit
	redisClient, redisCloser, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr})
	if err != nil {
		disconnect()
		return nil, nil, err
	}

	// Repositories
	accountRepo := repositories.NewAccountRepository(db)
	userRepo := repositories.NewUserRepository(db)
	transferRepo := repositories.NewTransferRepository(db)
	limitRepo := repositories.NewTransferLimitRepository(db)

	// Transfer engine
	limitChecker := engine.NewLimitChecker(limitRepo, transferRepo)
	guard := engine.NewRedisGuard(redisClient, cfg.IdempotencyTTL, logger)
	publisher := services.NewKafkaPublisher(logger, ctx, cfg)
	transferEngine := engine.New(engine.EngineConfig{
		Logger: logger,
		Config: engine.Config{
			MaxRetries:       cfg.MaxRetryCount,
			RetryBaseBackoff: cfg.RetryBaseBackoff,
			MaxRetryBackoff:  cfg.MaxRetryBackoff,
		},
		Ledger:    accountRepo,
		Transfers: transferRepo,
		Limits:    limitChecker,
		Guard:     guard,
		Locks:     engine.NewLockTable(),
		Publisher: publisher,
	})

	// Services and handlers
	limiter := pkg.NewDistributedLimiter(redisClient, "global:transfer_rate",
		cfg.TransferRatePerSec, cfg.TransferRateBurst, time.Second, logger)
	transferService := services.NewTransferService(logger, transferEngine, accountRepo)
	accountService := services.NewAccountService(logger, cfg, db, accountRepo, userRepo, transferRepo)
	limitService := services.NewLimitService(logger, limitRepo, userRepo, accountRepo, limitChecker)

	baseHandler := handlers.NewBaseHandler(logger)
	transferHandler := handlers.NewTransferHandler(logger, transferService, accountService, limiter)
	accountHandler := handlers.NewAccountHandler(logger, accountService)
	limitHandler := handlers.NewLimitHandler(logger, limitService)

	// Router
	r := gin.Default()

	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	api.Use(middleware.Metrics())

	transferHandler.RegisterRoutes(api)
	accountHandler.RegisterRoutes(api)
	limitHandler.RegisterRoutes(api)
	baseHandler.RegisterRoutes(r)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	cleanup := func() {
		// close kafka producer
		publisher.Close()
		redisCloser()
		// close db pools
		disconnect()
	}

	return srv, cleanup, nil
}

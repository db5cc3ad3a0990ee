package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Freeeeeet/space_booking/internal/app"
	"github.com/Freeeeeet/space_booking/internal/availability"
	"github.com/Freeeeeet/space_booking/internal/config"
	"github.com/Freeeeeet/space_booking/internal/controller/httpapi"
	"github.com/Freeeeeet/space_booking/internal/notification"
	"github.com/Freeeeeet/space_booking/internal/payment"
	"github.com/Freeeeeet/space_booking/internal/ratelimit"
	"github.com/Freeeeeet/space_booking/internal/repository"
	"github.com/Freeeeeet/space_booking/internal/repository/migrations"
	"github.com/Freeeeeet/space_booking/internal/retry"
	"github.com/Freeeeeet/space_booking/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Booking server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting booking server",
		zap.String("environment", cfg.Environment),
		zap.String("http_addr", cfg.HTTPAddr),
	)

	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.MigrateOnStart {
		migrator, err := app.NewMigrator(pool, migrations.FS, logger)
		if err != nil {
			return err
		}
		err = migrator.Run(ctx)
		_ = migrator.Close()
		if err != nil {
			return err
		}
	}

	// Redis общий для инстансов; без него лимитер и идемпотентность локальны для процесса
	var (
		limiter ratelimit.Limiter
		store   payment.IdempotencyStore
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		limiter = ratelimit.NewRedisLimiter(rdb, "booking:rl")
		store = payment.NewRedisStore(rdb, "booking:idem", 0)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory rate limiter and idempotency store")
		limiter = ratelimit.NewMemoryLimiter()
		store = payment.NewMemoryStore()
	}

	exec := retry.NewExecutor(cfg.Retry(), logger)

	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeRPS, logger)
	payments := payment.NewCoordinator(gateway, exec, store, logger)

	var fallback notification.Sender = notification.NopSender{}
	if cfg.RabbitURL != "" {
		amqpSender, err := notification.NewAMQPSender(cfg.RabbitURL, cfg.NotifyExchange)
		if err != nil {
			return err
		}
		defer amqpSender.Close()
		fallback = amqpSender
	} else {
		logger.Warn("RABBIT_URL not set, renter notifications are dropped")
	}

	router := notification.NewRouter(fallback)
	if cfg.TelegramToken != "" {
		tgBot, err := notification.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			return err
		}
		router.Route("tg", notification.NewTelegramSender(tgBot))
	}

	dispatcher := notification.NewDispatcher(router, exec, logger)
	dispatcher.Start(ctx)

	rulesCache, err := availability.NewRulesCache(cfg.RulesCacheSize, cfg.RulesCacheTTL, logger)
	if err != nil {
		return err
	}
	calculator := availability.NewCalculator(cfg.SlotGranularity)

	propertyRepo := repository.NewPropertyRepository(pool)
	ruleRepo := repository.NewAvailabilityRuleRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	reconciliationRepo := repository.NewReconciliationRepository(pool)

	availabilityService := service.NewAvailabilityService(propertyRepo, ruleRepo, bookingRepo, rulesCache, calculator, logger)

	limits := service.DefaultBookingLimits()
	limits.CreatePerUser = cfg.BookingRateLimit
	limits.CreateWindow = cfg.BookingRateWindow
	limits.StatusPerBooking = cfg.StatusRateLimit
	limits.StatusWindow = cfg.StatusRateWindow

	bookingService := service.NewBookingService(
		bookingRepo,
		propertyRepo,
		availabilityService,
		service.NewConflictDetector(),
		payments,
		reconciliationRepo,
		limiter,
		dispatcher,
		limits,
		logger,
	)

	reconciler := app.NewReconciler(
		service.NewReconciliationService(reconciliationRepo, payments, logger),
		cfg.ReconcileInterval,
		logger,
	)
	reconciler.Start(ctx)

	server := httpapi.NewServer(bookingService, availabilityService, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown http: %w", err))
	}
	reconciler.Stop()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("drain notifications: %w", err))
	}

	logger.Info("Booking server stopped")
	return shutdownErr
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jsoonworld/fluxpay-engine/internal/config"
	"github.com/jsoonworld/fluxpay-engine/internal/events"
	"github.com/jsoonworld/fluxpay-engine/internal/httpapi"
	"github.com/jsoonworld/fluxpay-engine/internal/idempotency"
	"github.com/jsoonworld/fluxpay-engine/internal/logger"
	"github.com/jsoonworld/fluxpay-engine/internal/metrics"
	"github.com/jsoonworld/fluxpay-engine/internal/outbox"
	"github.com/jsoonworld/fluxpay-engine/internal/paymentapp"
	"github.com/jsoonworld/fluxpay-engine/internal/pgadapter"
	"github.com/jsoonworld/fluxpay-engine/internal/refundapp"
	"github.com/jsoonworld/fluxpay-engine/internal/repository"
	"github.com/jsoonworld/fluxpay-engine/internal/saga"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.AppEnv, "fluxpay-engine")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting fluxpay-engine", zap.String("port", cfg.Port))

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	if cfg.IsDevelopment() {
		if err := db.AutoMigrate(
			&repository.OrderModel{}, &repository.PaymentModel{}, &repository.RefundModel{},
			&repository.IdempotencyModel{}, &repository.OutboxModel{}, &repository.SagaInstanceModel{},
		); err != nil {
			zapLogger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		zapLogger.Info("database migration completed (dev auto-migrate)")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	kafkaProducer := events.NewProducer(cfg.Kafka.Brokers, zapLogger)
	defer kafkaProducer.Close()
	dispatcher := events.NewOutboxDispatcher(kafkaProducer)

	pgAdapter := pgadapter.NewMockAdapter(zapLogger)

	orderRepo := repository.NewOrderRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	sagaRepo := repository.NewSagaRepository(db)

	idempotencyCache := idempotency.NewRedisStore(redisClient, cfg.Redis.KeyPrefix)
	idempotencyDurable := repository.NewIdempotencyDurableStore(db)
	gate := idempotency.NewGate(idempotencyCache, idempotencyDurable, cfg.Idempotency.TTL, 60*time.Second)

	orchestrator := saga.NewOrchestrator(sagaRepo, zapLogger)
	paymentService := paymentapp.NewService(db, orchestrator, pgAdapter)
	refundService := refundapp.NewService(db, pgAdapter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recovered, err := orchestrator.RecoverNonTerminal(ctx, 100)
	if err != nil {
		zapLogger.Error("saga recovery sweep failed", zap.Error(err))
	} else {
		metrics.SagaNonTerminalAtStartup.Set(float64(recovered))
		if recovered > 0 {
			zapLogger.Info("resumed non-terminal sagas at startup", zap.Int("count", recovered))
		}
	}

	var publisher *outbox.Publisher
	if cfg.Outbox.Enabled {
		publisher = outbox.NewPublisher(outboxRepo, dispatcher, outbox.PublisherConfig{
			BatchSize:            cfg.Outbox.BatchSize,
			PollingInterval:      cfg.Outbox.PollingInterval,
			CleanupEnabled:       cfg.Outbox.CleanupEnabled,
			CleanupRetentionDays: cfg.Outbox.CleanupRetentionDays,
		}, zapLogger)
		publisher.Start(ctx)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Gate: gate, PaymentSaga: paymentService, Refunds: refundService, OrderRepo: orderRepo,
		Logger: zapLogger,
	})

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down fluxpay-engine...")

	if publisher != nil {
		publisher.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("fluxpay-engine stopped")
}

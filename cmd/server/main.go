package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "notifyhub/contracts/mq"
	"notifyhub/internal/broker"
	"notifyhub/internal/config"
	"notifyhub/internal/handler"
	"notifyhub/internal/httpserver"
	"notifyhub/internal/model"
	"notifyhub/internal/mqhandler"
	"notifyhub/internal/repository"
	"notifyhub/internal/service"
	"notifyhub/pkg/circuitbreaker"
	pkgconfig "notifyhub/pkg/config"
	"notifyhub/pkg/db"
	"notifyhub/pkg/logger"
	"notifyhub/pkg/mq"
	"notifyhub/pkg/otel"
	pkgredis "notifyhub/pkg/redis"
	"notifyhub/pkg/util"
)

const notificationCreateQueue = "notification.create.q"

// store 两种存储驱动共同需要的能力
type store interface {
	repository.NotificationStore
	EnsureSchema(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger 依赖配置，这里只能用临时 logger
		logger.NewLogger(false).Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.NewLogger(cfg.Log.Development)
	defer log.Sync()

	log.Info("Starting notifyhub...",
		zap.String("db_driver", cfg.DB.Driver),
		zap.Bool("mq_enabled", cfg.MQ.Enabled),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("port", cfg.Server.Port),
	)

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    cfg.Otel.ServiceName,
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownOtel()

	// Store
	log.Info("Initializing notification store...")
	notificationStore, closeStore, err := openStore(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init store", zap.Error(err))
	}
	defer closeStore()

	if cfg.DB.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := notificationStore.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Fatal("Failed to ensure schema", zap.Error(err))
		}
		log.Info("Database schema ensured")
	}

	// Broker
	policy := broker.ParseOverflowPolicy(cfg.Notification.OverflowPolicy)
	events := broker.New[model.NotificationEvent](
		broker.WithBufferSize(cfg.Notification.BrokerBufferSize),
		broker.WithOverflowPolicy(policy),
		broker.WithLogger(log),
	)

	// Services
	emissionService := service.NewEmissionService(notificationStore, events, log)
	subscriptionService := service.NewSubscriptionService(events, log)
	queryService := service.NewQueryService(notificationStore,
		cfg.Notification.DefaultPageSize, cfg.Notification.MaxPageSize, log)

	// MQ ingress（可选）
	var consumer *mq.Consumer
	var publisher *mq.Publisher
	if cfg.MQ.Enabled {
		consumer, publisher = startConsumer(cfg, emissionService, log)
		defer publisher.Close()
		defer consumer.Close()
	}

	// HTTP Server
	notificationHandler := handler.NewNotificationHandler(queryService, emissionService, log)
	streamHandler := handler.NewStreamHandler(subscriptionService,
		time.Duration(cfg.Notification.HeartbeatSeconds)*time.Second, log)
	router := httpserver.NewRouter(log, notificationHandler, streamHandler, cfg.JWT.Secret, notificationStore.Ping)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("notifyhub is fully initialized and running",
		zap.String("overflow_policy", policy.String()),
		zap.Int("broker_buffer_size", cfg.Notification.BrokerBufferSize),
	)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notifyhub gracefully...")

	if consumer != nil {
		consumer.Stop()
	}

	// 先关闭 broker，SSE / WebSocket 连接随之结束，Shutdown 才不会一直等待
	events.Close()

	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("notifyhub shutdown complete")
}

func openStore(cfg pkgconfig.DBConfig, log *zap.Logger) (store, func(), error) {
	switch cfg.Driver {
	case pkgconfig.DriverSQLite:
		sqlDB, err := db.NewSQLite(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSQLiteNotificationRepository(sqlDB, log), func() { _ = sqlDB.Close() }, nil
	default:
		pool, err := db.NewConnection(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewNotificationRepository(pool, log), pool.Close, nil
	}
}

// startConsumer Redis 不可用时去重和重试计数降级，消息照常处理
func startConsumer(cfg *config.Config, emitter mqhandler.Emitter, log *zap.Logger) (*mq.Consumer, *mq.Publisher) {
	var (
		deduper mqhandler.Deduper
		retries mqhandler.RetryCounter
	)
	if cfg.Redis.Addr != "" {
		rdb := pkgredis.NewRedisClient(cfg.Redis)
		if err := pkgredis.Ping(context.Background(), rdb); err != nil {
			log.Warn("Redis unavailable at startup, dedup will fail open", zap.Error(err))
		}
		ttl := time.Duration(cfg.Notification.DedupTTLSeconds) * time.Second
		breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
		deduper = util.NewDeduper(rdb, ttl, breaker, log)
		retries = util.NewRetryCounter(rdb, ttl)
	}

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	if err := publisher.DeclareDLQ(mqcontracts.RoutingKeyNotificationCreate); err != nil {
		log.Fatal("Failed to declare DLQ", zap.Error(err))
	}

	log.Info("Initializing MQ consumer for notification.create...",
		zap.String("queue", notificationCreateQueue),
		zap.String("routing_key", mqcontracts.RoutingKeyNotificationCreate),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, notificationCreateQueue, mqcontracts.RoutingKeyNotificationCreate, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}

	createHandler := mqhandler.NewNotificationCreateHandler(emitter, deduper, retries, publisher,
		cfg.Notification.RetryMax, log)
	consumer.SetHandler(createHandler.Handle)

	go func() {
		log.Info("Starting notification.create consumer...")
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("Notification consumer failed", zap.Error(err))
		}
	}()

	return consumer, publisher
}

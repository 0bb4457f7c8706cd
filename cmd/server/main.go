package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-order-service/config"
	"chat-order-service/internal/api"
	"chat-order-service/internal/broker"
	"chat-order-service/internal/calendar"
	"chat-order-service/internal/classifier"
	"chat-order-service/internal/notifier"
	"chat-order-service/internal/redisclient"
	"chat-order-service/internal/service"
	"chat-order-service/internal/store"
	"chat-order-service/internal/util"
	"chat-order-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting chat order service",
		zap.String("env", cfg.Server.Env),
		zap.String("ingest_mode", cfg.Server.IngestMode))

	tp, err := util.InitTracer("chat-order-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("Invalid business time zone", zap.Error(err))
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewAsyncProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	cls := classifier.NewClient(classifier.Config{
		BaseURL:  cfg.Classifier.BaseURL,
		APIKey:   cfg.Classifier.APIKey,
		Model:    cfg.Classifier.Model,
		Timeout:  cfg.Classifier.Timeout,
		Location: loc,
	})

	cal, err := calendar.NewGoogleCalendar(context.Background(), calendar.Config{
		CalendarID:      cfg.Calendar.CalendarID,
		CredentialsFile: cfg.Calendar.CredentialsFile,
		TimeZone:        cfg.Business.TimeZone,
		EventDuration:   cfg.Calendar.EventDuration,
	})
	if err != nil {
		logger.Fatal("Failed to initialize calendar", zap.Error(err))
	}

	tg := notifier.NewTelegram(notifier.Config{
		APIURL:        cfg.Telegram.APIURL,
		Token:         cfg.Telegram.BotToken,
		RatePerSecond: cfg.Telegram.RatePerSecond,
	})

	var locker service.Locker
	if cfg.Business.LockBackend == config.LockLocal {
		locker = service.NewLocalLocker()
	} else {
		locker = redisclient.NewLocker(redisClient, cfg.Business.LockTTL, cfg.Business.LockWait)
	}

	engine := service.NewEngine(db, cls, cal, tg, locker, eventPublisher, service.EngineConfig{
		Location:       loc,
		ListWindowDays: cfg.Business.ListWindowDays,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var (
		inboundQueue  api.InboundQueue
		inboundWorker *worker.InboundWorker
	)
	if cfg.Server.IngestMode == config.IngestQueue {
		inboundProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicInbound)
		defer inboundProducer.Close()
		inboundQueue = broker.NewInboundPublisher(inboundProducer)

		inboundConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicInbound, cfg.Kafka.ConsumerGroup)
		inboundWorker = worker.NewInboundWorker(inboundConsumer, engine)
		go func() {
			if err := inboundWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Inbound worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(engine, redisClient, inboundQueue, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	}, api.HandlerConfig{
		QueueMode:     cfg.Server.IngestMode == config.IngestQueue,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		DedupeTTL:     cfg.Business.DedupeTTL,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if inboundWorker != nil {
		if err := inboundWorker.Stop(); err != nil {
			logger.Error("Error stopping inbound worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/Subscription-service/config"
	"github.com/Dhoini/Subscription-service/internal/api/rest"
	"github.com/Dhoini/Subscription-service/internal/app"
	"github.com/Dhoini/Subscription-service/internal/gateway"
	"github.com/Dhoini/Subscription-service/internal/idempotency"
	"github.com/Dhoini/Subscription-service/internal/kafka"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// Инициализируем логгер
	log := initLogger()

	log.Infow("Subscription service starting up...")

	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}
	// Проверка наличия ключей Stripe
	if cfg.Stripe.APIKey == "" || cfg.Stripe.WebhookSecret == "" {
		log.Fatalw("Stripe API key or webhook secret is not configured")
	}
	if cfg.Account.SharedSecret == "" {
		log.Fatalw("Account Service shared secret is not configured")
	}

	// Устанавливаем режим Gin в зависимости от окружения
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Инициализируем хранилище идемпотентности: Redis, если настроен,
	// иначе fallback в памяти процесса (дедуп не переживает рестарт,
	// источником истины остается Account Service).
	var store idempotency.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := idempotency.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.EventRetention(), log)
		if err != nil {
			log.Warnw("Failed to initialize Redis idempotency store, falling back to in-memory", "error", err)
			store = idempotency.NewMemoryStore(cfg.EventRetention(), log)
		} else {
			store = redisStore
			defer func() {
				if err := redisStore.Close(); err != nil {
					log.Errorw("Error closing Redis connection", "error", err)
				}
			}()
			log.Infow("Using Redis idempotency store")
		}
	} else {
		store = idempotency.NewMemoryStore(cfg.EventRetention(), log)
		log.Infow("Redis is not configured, using in-memory idempotency store")
	}

	// Инициализируем Kafka Producer (не критичен для основного флоу)
	var producer kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
			producer = nil
		} else {
			defer func() {
				if err := producer.Close(); err != nil {
					log.Errorw("Error closing Kafka producer", "error", err)
				}
			}()
		}
	} else {
		log.Infow("Kafka brokers are not configured, event publishing disabled")
	}

	// Инициализируем клиент Account Service
	accountClient, err := gateway.NewAccountClient(gateway.Options{
		BaseURL:      cfg.Account.BaseURL,
		SharedSecret: cfg.Account.SharedSecret,
		Timeout:      cfg.AccountTimeout(),
		MaxRetries:   cfg.Account.MaxRetries,
	}, log)
	if err != nil {
		log.Fatalw("Failed to initialize Account Service client", "error", err)
	}

	// Инициализируем application
	application := app.NewApp(cfg, accountClient, store, producer, log)

	// Настраиваем маршруты
	router := rest.SetupRouter(rest.RouterDeps{
		WebhookHandler:  application.WebhookHandler,
		CheckoutHandler: application.CheckoutHandler,
		Registry:        application.Registry,
		Logger:          log,
	})

	server := rest.NewServer(router, cfg.App.Port, log)

	// Запускаем HTTP сервер в горутине
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	// Даем 10 секунд на завершение текущих запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	log.Infow("Cleanup finished. Goodbye!")
}

// initLogger инициализирует новый логгер
func initLogger() *logger.Logger {
	logLevel := logger.INFO
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = logger.DEBUG
	}
	return logger.New(logLevel)
}

package app

import (
	"github.com/Dhoini/Subscription-service/config"
	"github.com/Dhoini/Subscription-service/internal/api/rest/handlers"
	"github.com/Dhoini/Subscription-service/internal/gateway"
	"github.com/Dhoini/Subscription-service/internal/idempotency"
	integration "github.com/Dhoini/Subscription-service/internal/integration/stripe"
	"github.com/Dhoini/Subscription-service/internal/kafka"
	"github.com/Dhoini/Subscription-service/internal/metrics"
	"github.com/Dhoini/Subscription-service/internal/service"
	"github.com/Dhoini/Subscription-service/internal/webhook"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config          *config.Config
	Reconciler      *service.Reconciler
	WebhookHandler  *handlers.WebhookHandler
	CheckoutHandler *handlers.CheckoutHandler
	Registry        *prometheus.Registry
	Logger          *logger.Logger
}

// NewApp создает и инициализирует новый экземпляр приложения
func NewApp(
	cfg *config.Config,
	accountClient gateway.AccountClient,
	store idempotency.Store,
	producer kafka.Producer,
	log *logger.Logger,
) *App {
	// Реестр и метрики
	registry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(registry, log)

	// Верификатор подписи вебхуков
	verifier, err := webhook.NewVerifier(cfg.Stripe.WebhookSecret, cfg.SignatureTolerance(), log)
	if err != nil {
		log.Fatalw("Failed to initialize webhook verifier", "error", err)
	}

	// Клиент Stripe для создания checkout-сессий
	checkoutClient, err := integration.NewClient(cfg.Stripe.APIKey, integration.PriceTable{
		MonthlyCard: cfg.Stripe.Prices.MonthlyCard,
		AnnualCard:  cfg.Stripe.Prices.AnnualCard,
		MonthlyPix:  cfg.Stripe.Prices.MonthlyPix,
		AnnualPix:   cfg.Stripe.Prices.AnnualPix,
	}, log)
	if err != nil {
		log.Fatalw("Failed to initialize Stripe client", "error", err)
	}

	// Ядро сверки
	reconciler := service.NewReconciler(accountClient, store, producer, webhookMetrics, log)

	// Обработчики HTTP
	webhookHandler := handlers.NewWebhookHandler(verifier, reconciler, webhookMetrics, log)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutClient, accountClient, log)

	return &App{
		Config:          cfg,
		Reconciler:      reconciler,
		WebhookHandler:  webhookHandler,
		CheckoutHandler: checkoutHandler,
		Registry:        registry,
		Logger:          log,
	}
}

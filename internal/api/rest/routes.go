package rest

import (
	"github.com/Dhoini/Subscription-service/internal/api/rest/handlers"
	"github.com/Dhoini/Subscription-service/internal/api/rest/middleware"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps зависимости маршрутизатора.
type RouterDeps struct {
	WebhookHandler  *handlers.WebhookHandler
	CheckoutHandler *handlers.CheckoutHandler
	Registry        *prometheus.Registry
	Logger          *logger.Logger
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Подключение middleware
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	// API создания checkout-сессий
	v1 := r.Group("/api/v1")
	{
		checkout := v1.Group("/checkout")
		{
			checkout.POST("/sessions", deps.CheckoutHandler.CreateCheckoutSession)
		}
	}

	// Вебхуки провайдера на корневом уровне роутера.
	// Тело маршрута не трогает никакой парсящий middleware: верификация
	// подписи требует сырых байтов.
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/stripe", deps.WebhookHandler.HandleStripeWebhook)
	}

	return r
}

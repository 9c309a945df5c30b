package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/metrics"
	"github.com/Dhoini/Subscription-service/internal/service"
	"github.com/Dhoini/Subscription-service/internal/webhook"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/Dhoini/Subscription-service/pkg/res"

	"github.com/gin-gonic/gin"
)

const (
	// Ограничение на размер тела запроса вебхука (Stripe рекомендует ~65kb)
	maxRequestBodySize = int64(65536)

	// Заголовок с подписью провайдера
	signatureHeader = "Stripe-Signature"
)

// WebhookHandler обрабатывает входящие вебхуки платежного провайдера.
type WebhookHandler struct {
	verifier   *webhook.Verifier
	reconciler *service.Reconciler
	metrics    metrics.WebhookMetrics
	log        *logger.Logger
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
func NewWebhookHandler(verifier *webhook.Verifier, reconciler *service.Reconciler, m metrics.WebhookMetrics, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		metrics:    m,
		log:        log,
	}
}

// HandleStripeWebhook принимает вебхук провайдера: проверка подписи,
// классификация, сверка. Все ошибки транслируются в код ответа здесь:
// 400 — подпись, 5xx — ретраябельный сбой (провайдер доставит повторно),
// 200 — все остальное, включая постоянные ошибки, которые ретрай не исправит.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	// Тело читаем один раз и целиком: верификация подписи требует
	// нетронутых байтов, JSON-парсинг до нее недопустим.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	event, err := h.verifier.Verify(payload, c.GetHeader(signatureHeader))
	if err != nil {
		var sigErr *webhook.SignatureError
		if errors.As(err, &sigErr) {
			if h.metrics != nil {
				h.metrics.IncSignatureFailure()
			}
			h.log.Warnw("Webhook signature verification failed", "error", err)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed"}, http.StatusBadRequest)
			c.Abort()
			return
		}
		h.log.Errorw("Unexpected verification error", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook verification error"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.log.Infow("Received verified provider event", "eventID", event.ID, "eventType", event.Type)
	if h.metrics != nil {
		h.metrics.IncEventReceived(string(event.Type))
	}

	domainEvent, recognized, err := webhook.Classify(event)
	if err != nil {
		// Неразборчивый payload распознанного типа: ретрай доставки
		// это не исправит, отвечаем 200 и оставляем след в логах.
		h.log.Errorw("Failed to parse recognized event payload", "eventID", event.ID, "eventType", event.Type, "error", err)
		c.JSON(http.StatusOK, res.ReceivedResponse{Received: true})
		return
	}
	if !recognized {
		// Тип вне закрытого набора — не ошибка: подтверждаем прием,
		// чтобы провайдер не ретраил то, на что мы намеренно не реагируем.
		h.log.Debugw("Ignoring event type outside the domain set", "eventID", event.ID, "eventType", event.Type)
		c.JSON(http.StatusOK, res.ReceivedResponse{Received: true})
		return
	}

	// Отсоединяем запись в Account Service от отмены клиентского
	// соединения: оборванная провайдером доставка не должна оставить
	// системы в рассогласованном состоянии.
	ctx := context.WithoutCancel(c.Request.Context())

	outcome := h.reconciler.Reconcile(ctx, domainEvent)

	switch outcome.Kind {
	case domain.OutcomeFailed:
		if outcome.Retryable {
			h.log.Errorw("Reconciliation failed, asking provider to redeliver", "eventID", domainEvent.ID, "kind", domainEvent.Kind, "reason", outcome.Reason)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Temporary failure, please retry"}, http.StatusBadGateway)
			c.Abort()
			return
		}
		// Постоянная ошибка: ретрай провайдера не поможет, но след
		// для оператора обязателен.
		h.log.Errorw("Reconciliation failed permanently", "eventID", domainEvent.ID, "kind", domainEvent.Kind, "reason", outcome.Reason)

	case domain.OutcomeApplied:
		h.log.Infow("Reconciliation applied", "eventID", domainEvent.ID, "kind", domainEvent.Kind)

	default:
		h.log.Infow("Reconciliation finished without state change", "eventID", domainEvent.ID, "kind", domainEvent.Kind, "outcome", outcome.String())
	}

	c.JSON(http.StatusOK, res.ReceivedResponse{Received: true})
}

package metrics

import (
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebhookMetrics интерфейс для метрик обработки вебхуков.
type WebhookMetrics interface {
	IncEventReceived(eventType string)
	IncOutcome(eventKind string, outcome string)
	IncSignatureFailure()
	IncGatewayCall(operation string, result string)
}

type webhookMetrics struct {
	log               *logger.Logger
	eventsReceived    *prometheus.CounterVec
	outcomes          *prometheus.CounterVec
	signatureFailures prometheus.Counter
	gatewayCalls      *prometheus.CounterVec
}

// NewWebhookMetrics создает новые метрики обработки вебхуков.
func NewWebhookMetrics(registry *prometheus.Registry, log *logger.Logger) WebhookMetrics {
	eventsReceived := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "The total number of verified webhook events by provider type",
		},
		[]string{"type"},
	)

	outcomes := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_outcomes_total",
			Help: "The total number of reconciliation outcomes by event kind and result",
		},
		[]string{"event_kind", "outcome"},
	)

	signatureFailures := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "The total number of rejected webhook deliveries with invalid signatures",
		},
	)

	gatewayCalls := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_gateway_calls_total",
			Help: "The total number of Account Service gateway calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	return &webhookMetrics{
		log:               log,
		eventsReceived:    eventsReceived,
		outcomes:          outcomes,
		signatureFailures: signatureFailures,
		gatewayCalls:      gatewayCalls,
	}
}

// IncEventReceived увеличивает счетчик принятых событий.
func (m *webhookMetrics) IncEventReceived(eventType string) {
	m.eventsReceived.WithLabelValues(eventType).Inc()
}

// IncOutcome увеличивает счетчик исходов сверки.
func (m *webhookMetrics) IncOutcome(eventKind string, outcome string) {
	m.outcomes.WithLabelValues(eventKind, outcome).Inc()
}

// IncSignatureFailure увеличивает счетчик отклоненных подписей.
func (m *webhookMetrics) IncSignatureFailure() {
	m.signatureFailures.Inc()
}

// IncGatewayCall увеличивает счетчик вызовов Account Service.
func (m *webhookMetrics) IncGatewayCall(operation string, result string) {
	m.gatewayCalls.WithLabelValues(operation, result).Inc()
}

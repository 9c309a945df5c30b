package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic топик событий жизненного цикла подписок.
const DefaultTopic = "subscription_events"

// StatusEvent событие изменения статуса подписки, публикуемое
// для downstream-консьюмеров после примененного перехода.
type StatusEvent struct {
	EventID          string     `json:"event_id"`           // ID исходного события провайдера
	CorrelationID    string     `json:"correlation_id"`     // ID запроса, в рамках которого применен переход
	StripeCustomerID string     `json:"stripe_customer_id"` // Клиент провайдера
	Status           string     `json:"status"`             // Новый статус подписки
	Plan             string     `json:"plan,omitempty"`     // План (для активаций)
	PaymentMethod    string     `json:"payment_method,omitempty"`
	EndsAt           *time.Time `json:"subscription_ends_at,omitempty"`
	OccurredAt       time.Time  `json:"occurred_at"` // Время события у провайдера
}

// Producer определяет интерфейс для публикации событий подписок в Kafka.
type Producer interface {
	// PublishStatusEvent отправляет событие изменения статуса подписки.
	PublishStatusEvent(ctx context.Context, event *StatusEvent) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewProducer создает и настраивает новый продюсер Kafka.
func NewProducer(brokers []string, topic string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	// RequiredAcks: RequireOne — подтверждение только от лидера партиции,
	// баланс между скоростью и надежностью.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers, "topic", topic)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishStatusEvent преобразует событие в JSON и отправляет в Kafka.
// Ключ сообщения — stripe_customer_id: все события одного клиента попадают
// в одну партицию и сохраняют порядок для консьюмера.
func (k *kafkaProducer) PublishStatusEvent(ctx context.Context, event *StatusEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal status event for Kafka", "error", err, "eventID", event.EventID)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.StripeCustomerID),
		Value: value,
		Time:  time.Now(),
	}

	if err := k.writer.WriteMessages(ctx, message); err != nil {
		k.log.Errorw("Failed to publish status event to Kafka", "error", err, "eventID", event.EventID, "stripeCustomerID", event.StripeCustomerID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Status event published", "eventID", event.EventID, "status", event.Status)
	return nil
}

// Close закрывает соединение продюсера Kafka.
func (k *kafkaProducer) Close() error {
	return k.writer.Close()
}

package webhook

import (
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ErrMissingSignature заголовок с подписью отсутствует в запросе.
var ErrMissingSignature = errors.New("missing signature header")

// SignatureError ошибка проверки подписи вебхука.
// Любая такая ошибка означает полный отказ в доверии к событию:
// обработка прерывается до бизнес-логики, ответ — HTTP 400.
type SignatureError struct {
	Reason string
	Err    error
}

// Error реализует интерфейс error.
func (e *SignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook signature: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("webhook signature: %s", e.Reason)
}

// Unwrap возвращает исходную ошибку.
func (e *SignatureError) Unwrap() error { return e.Err }

// Verifier проверяет подлинность входящих вебхук-событий провайдера.
// Чистая функция от входа и секрета: никакого состояния между вызовами.
type Verifier struct {
	secret    string
	tolerance time.Duration
	log       *logger.Logger
}

// NewVerifier создает новый верификатор подписи вебхуков.
func NewVerifier(secret string, tolerance time.Duration, log *logger.Logger) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is not configured")
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{
		secret:    secret,
		tolerance: tolerance,
		log:       log,
	}, nil
}

// Verify проверяет подпись события над точными байтами тела запроса.
// payload обязан быть нетронутым телом запроса: верификация зависит от
// побайтовой целостности, никакой JSON-middleware не должен его трогать.
func (v *Verifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if sigHeader == "" {
		return stripe.Event{}, &SignatureError{Reason: "header absent", Err: ErrMissingSignature}
	}

	// ConstructEventWithTolerance считает HMAC над payload и отклоняет
	// подписи с таймстампом вне окна допуска (защита от replay).
	event, err := webhook.ConstructEventWithTolerance(payload, sigHeader, v.secret, v.tolerance)
	if err != nil {
		return stripe.Event{}, &SignatureError{Reason: "verification failed", Err: err}
	}

	v.log.Debugw("Webhook signature verified", "eventID", event.ID, "eventType", event.Type)
	return event, nil
}

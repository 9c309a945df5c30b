package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/gateway"
	"github.com/Dhoini/Subscription-service/internal/idempotency"
	"github.com/Dhoini/Subscription-service/internal/kafka"
	"github.com/Dhoini/Subscription-service/internal/metrics"
	"github.com/Dhoini/Subscription-service/internal/requestid"
	"github.com/Dhoini/Subscription-service/pkg/logger"
)

// billingReasonSubscriptionCreate счет, выставленный при создании подписки.
// Активацию по нему уже выполнил checkout-флоу; повторная запись привела бы
// к гонке двойной активации.
const billingReasonSubscriptionCreate = "subscription_create"

// Reconciler ядро сверки: по классифицированному событию провайдера
// определяет и применяет корректный переход статуса подписки, делегируя
// запись во внешний Account Service через гейтвей.
//
// Reconciler не хранит состояние подписок: система учета — единственный
// источник истины, а устойчивость к дублям и перестановкам достигается
// хранилищем идемпотентности и терминальными отметками по клиентам.
type Reconciler struct {
	gateway  gateway.AccountClient
	store    idempotency.Store
	producer kafka.Producer
	metrics  metrics.WebhookMetrics
	log      *logger.Logger
}

// NewReconciler создает новый Reconciler. producer и metrics опциональны.
func NewReconciler(
	gw gateway.AccountClient,
	store idempotency.Store,
	producer kafka.Producer,
	m metrics.WebhookMetrics,
	log *logger.Logger,
) *Reconciler {
	return &Reconciler{
		gateway:  gw,
		store:    store,
		producer: producer,
		metrics:  m,
		log:      log,
	}
}

// Reconcile применяет событие к состоянию подписки ровно один раз.
// Повторная доставка того же event id возвращает сохраненный исход,
// не трогая Account Service.
func (r *Reconciler) Reconcile(ctx context.Context, evt domain.Event) domain.Outcome {
	// Дедупликация по event id провайдера. Недоступность хранилища не
	// валит сверку: Account Service сам идемпотентен к одинаковым записям.
	if evt.ID != "" && r.store != nil {
		cached, seen, err := r.store.Seen(ctx, evt.ID)
		if err != nil {
			r.log.Warnw("Idempotency store unavailable, relying on downstream idempotency", "eventID", evt.ID, "error", err)
		} else if seen {
			r.log.Infow("Duplicate webhook delivery, returning recorded outcome", "eventID", evt.ID, "outcome", cached.Kind)
			return cached
		}
	}

	outcome := r.apply(ctx, evt)

	if r.metrics != nil {
		r.metrics.IncOutcome(string(evt.Kind), string(outcome.Kind))
	}

	// Ретраябельные ошибки не записываем: провайдер доставит событие
	// повторно, и сверка должна выполниться заново.
	if evt.ID != "" && r.store != nil && !outcome.Retryable {
		if err := r.store.Record(ctx, evt.ID, outcome); err != nil {
			r.log.Warnw("Failed to record event outcome", "eventID", evt.ID, "error", err)
		}
	}

	return outcome
}

// apply выбирает обработчик по виду события.
func (r *Reconciler) apply(ctx context.Context, evt domain.Event) domain.Outcome {
	switch evt.Kind {
	case domain.EventCheckoutCompleted, domain.EventCheckoutAsyncSucceeded:
		return r.applyCheckoutSettled(ctx, evt)

	case domain.EventCheckoutAsyncFailed:
		// Оплата не состоялась, состояние не меняем: клиент может
		// попробовать снова через новую checkout-сессию.
		r.log.Warnw("Async checkout payment failed", "eventID", evt.ID)
		return domain.Skipped("async payment failed")

	case domain.EventInvoicePaid:
		return r.applyInvoicePaid(ctx, evt)

	case domain.EventInvoicePaymentFailed:
		if evt.Invoice == nil || evt.Invoice.CustomerID == "" {
			return domain.FailedTerminal("missing customer id")
		}
		return r.setStatus(ctx, evt, evt.Invoice.CustomerID, domain.StatusPastDue, nil)

	case domain.EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, evt)

	case domain.EventSubscriptionUpdated:
		return r.applySubscriptionUpdated(ctx, evt)

	default:
		r.log.Errorw("Unhandled domain event kind", "eventID", evt.ID, "kind", evt.Kind)
		return domain.FailedTerminal("unhandled event kind")
	}
}

// applyCheckoutSettled обрабатывает завершение checkout-сессии:
// create-or-activate подписки по разрешенному ключу сверки.
func (r *Reconciler) applyCheckoutSettled(ctx context.Context, evt domain.Event) domain.Outcome {
	c := evt.Checkout
	if c == nil {
		return domain.FailedTerminal("missing checkout payload")
	}

	// Синхронное завершение без оплаты (pix, boleto): настоящий исход
	// придет отдельным async_payment_* событием.
	if evt.Kind == domain.EventCheckoutCompleted && !c.Paid() {
		r.log.Infow("Checkout completed but not yet paid, awaiting async settlement", "eventID", evt.ID, "sessionID", c.SessionID)
		return domain.Deferred("awaiting async settlement")
	}

	if c.CustomerID == "" {
		return domain.FailedTerminal("missing customer id")
	}
	if c.Mode == "subscription" && c.SubscriptionID == "" {
		return domain.FailedTerminal("missing subscription id")
	}

	key, err := domain.ResolveKey(c.Metadata)
	if err != nil {
		r.log.Errorw("Checkout event carries neither payment token nor user id", "eventID", evt.ID, "sessionID", c.SessionID)
		return domain.FailedTerminal("unresolvable key")
	}

	plan := domain.Plan(c.Metadata[domain.MetadataPlan])
	if !plan.Valid() {
		r.log.Errorw("Checkout event carries unknown plan", "eventID", evt.ID, "plan", c.Metadata[domain.MetadataPlan])
		return domain.FailedTerminal("unknown plan")
	}

	method := domain.PaymentMethod(c.Metadata[domain.MetadataPaymentMethod])
	if !method.Valid() {
		// Разовая оплата без подписки у провайдера означает pix
		if c.SubscriptionID == "" {
			method = domain.PaymentMethodPix
		} else {
			method = domain.PaymentMethodCard
		}
	}

	var subscriptionID *string
	if c.SubscriptionID != "" {
		subscriptionID = &c.SubscriptionID
	}

	switch key.Kind() {
	case domain.KeyToken:
		// Путь новой регистрации: Account Service создает аккаунт
		// и активирует подписку одним вызовом.
		userID, err := r.gateway.CompleteRegistrationPayment(ctx, key.Token(), c.CustomerID, subscriptionID, plan, method)
		if err != nil {
			return r.gatewayFailure(ctx, "CompleteRegistrationPayment", evt, err)
		}
		r.gatewaySuccess("CompleteRegistrationPayment")
		r.log.Infow("Registration completed and subscription activated", "eventID", evt.ID, "userID", userID, "stripeCustomerID", c.CustomerID)

	case domain.KeyAccount:
		// Путь апгрейда: аккаунт уже существует.
		err := r.gateway.ActivateExistingAccountSubscription(ctx, key.UserID(), c.CustomerID, subscriptionID, plan, method)
		if err != nil {
			return r.gatewayFailure(ctx, "ActivateExistingAccountSubscription", evt, err)
		}
		r.gatewaySuccess("ActivateExistingAccountSubscription")
		r.log.Infow("Existing account subscription activated", "eventID", evt.ID, "userID", key.UserID(), "stripeCustomerID", c.CustomerID)
	}

	r.publishStatus(ctx, evt, c.CustomerID, domain.StatusActive, string(plan), string(method), nil)
	return domain.Applied()
}

// applyInvoicePaid обрабатывает оплаченный счет.
func (r *Reconciler) applyInvoicePaid(ctx context.Context, evt domain.Event) domain.Outcome {
	inv := evt.Invoice
	if inv == nil {
		return domain.FailedTerminal("missing invoice payload")
	}

	// Первый счет подписки: активацию выполняет checkout-флоу.
	if inv.BillingReason == billingReasonSubscriptionCreate {
		r.log.Debugw("Invoice for subscription creation, activation handled by checkout flow", "eventID", evt.ID, "invoiceID", inv.InvoiceID)
		return domain.Skipped("activation handled by checkout flow")
	}

	if inv.CustomerID == "" {
		return domain.FailedTerminal("missing customer id")
	}

	return r.setStatus(ctx, evt, inv.CustomerID, domain.StatusActive, nil)
}

// applySubscriptionDeleted переводит подписку в терминальный статус canceled
// и фиксирует конец оплаченного периода.
func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, evt domain.Event) domain.Outcome {
	s := evt.Subscription
	if s == nil || s.CustomerID == "" {
		return domain.FailedTerminal("missing customer id")
	}

	var endsAt *time.Time
	if !s.EndedAt.IsZero() {
		endsAt = &s.EndedAt
	}

	outcome := r.setStatus(ctx, evt, s.CustomerID, domain.StatusCanceled, endsAt)
	if outcome.Kind == domain.OutcomeApplied {
		r.markTerminal(ctx, s.CustomerID)
	}
	return outcome
}

// applySubscriptionUpdated применяет изменение статуса подписки провайдера.
// Терминальная отметка защищает canceled от перезаписи более поздно
// доставленным, но логически более старым update-событием.
func (r *Reconciler) applySubscriptionUpdated(ctx context.Context, evt domain.Event) domain.Outcome {
	s := evt.Subscription
	if s == nil || s.CustomerID == "" {
		return domain.FailedTerminal("missing customer id")
	}

	if r.store != nil {
		terminal, err := r.store.IsTerminal(ctx, s.CustomerID)
		if err != nil {
			r.log.Warnw("Failed to check terminal mark", "eventID", evt.ID, "stripeCustomerID", s.CustomerID, "error", err)
		} else if terminal {
			r.log.Infow("Ignoring subscription update for already canceled customer", "eventID", evt.ID, "stripeCustomerID", s.CustomerID)
			return domain.Skipped("customer already canceled")
		}
	}

	switch s.ProviderStatus {
	case "past_due", "unpaid":
		return r.setStatus(ctx, evt, s.CustomerID, domain.StatusPastDue, nil)

	case "canceled", "incomplete_expired":
		var endsAt *time.Time
		if !s.EndedAt.IsZero() {
			endsAt = &s.EndedAt
		}
		outcome := r.setStatus(ctx, evt, s.CustomerID, domain.StatusCanceled, endsAt)
		if outcome.Kind == domain.OutcomeApplied {
			r.markTerminal(ctx, s.CustomerID)
		}
		return outcome

	case "active", "trialing":
		// Сюда попадает и cancel_at_period_end=true внутри оплаченного
		// периода: отмена запланирована, но подписка еще активна.
		if s.CancelAtPeriodEnd && time.Now().Before(s.CurrentPeriodEnd) {
			r.log.Infow("Cancellation scheduled at period end, subscription stays active", "eventID", evt.ID, "stripeCustomerID", s.CustomerID, "periodEnd", s.CurrentPeriodEnd)
		}
		return r.setStatus(ctx, evt, s.CustomerID, domain.StatusActive, nil)

	default:
		r.log.Debugw("Provider subscription status requires no action", "eventID", evt.ID, "providerStatus", s.ProviderStatus)
		return domain.Skipped("no actionable provider status")
	}
}

// setStatus выставляет статус подписки через гейтвей и публикует событие.
func (r *Reconciler) setStatus(ctx context.Context, evt domain.Event, customerID string, status domain.SubscriptionStatus, endsAt *time.Time) domain.Outcome {
	if err := r.gateway.SetSubscriptionStatus(ctx, customerID, status, endsAt); err != nil {
		return r.gatewayFailure(ctx, "SetSubscriptionStatus", evt, err)
	}
	r.gatewaySuccess("SetSubscriptionStatus")

	r.publishStatus(ctx, evt, customerID, status, "", "", endsAt)
	return domain.Applied()
}

// gatewayFailure классифицирует ошибку гейтвея в исход сверки.
func (r *Reconciler) gatewayFailure(ctx context.Context, op string, evt domain.Event, err error) domain.Outcome {
	var gerr *gateway.Error
	if errors.As(err, &gerr) && !gerr.Transient() {
		if r.metrics != nil {
			r.metrics.IncGatewayCall(op, "permanent")
		}
		r.log.Errorw("Permanent Account Service failure, will not retry", "eventID", evt.ID, "operation", op, "error", err)
		reason := gerr.Reason
		if reason == "" {
			reason = "account service rejected the request"
		}
		return domain.FailedTerminal(reason)
	}

	if r.metrics != nil {
		r.metrics.IncGatewayCall(op, "transient")
	}
	r.log.Errorw("Transient Account Service failure, provider will redeliver", "eventID", evt.ID, "operation", op, "error", err)
	return domain.FailedRetryable("account service unavailable")
}

// gatewaySuccess фиксирует успешный вызов гейтвея в метриках.
func (r *Reconciler) gatewaySuccess(op string) {
	if r.metrics != nil {
		r.metrics.IncGatewayCall(op, "ok")
	}
}

// markTerminal ставит терминальную отметку клиенту.
func (r *Reconciler) markTerminal(ctx context.Context, customerID string) {
	if r.store == nil {
		return
	}
	if err := r.store.MarkTerminal(ctx, customerID); err != nil {
		r.log.Warnw("Failed to mark customer terminal", "stripeCustomerID", customerID, "error", err)
	}
}

// publishStatus отправляет событие изменения статуса в Kafka.
// Ошибка публикации не влияет на исход сверки: Account Service уже
// обновлен, а событие — побочный канал для downstream-консьюмеров.
func (r *Reconciler) publishStatus(ctx context.Context, evt domain.Event, customerID string, status domain.SubscriptionStatus, plan, method string, endsAt *time.Time) {
	if r.producer == nil {
		return
	}

	event := &kafka.StatusEvent{
		EventID:          evt.ID,
		CorrelationID:    requestid.From(ctx),
		StripeCustomerID: customerID,
		Status:           string(status),
		Plan:             plan,
		PaymentMethod:    method,
		EndsAt:           endsAt,
		OccurredAt:       evt.OccurredAt,
	}

	if err := r.producer.PublishStatusEvent(ctx, event); err != nil {
		r.log.Errorw("Failed to publish subscription status event", "eventID", evt.ID, "error", err)
	}
}

package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"

	"github.com/stripe/stripe-go/v78"
)

// eventKindMap закрытое отображение типов событий провайдера на доменные
// виды. Все, чего здесь нет, намеренно игнорируется (не ошибка).
var eventKindMap = map[stripe.EventType]domain.EventKind{
	"checkout.session.completed":               domain.EventCheckoutCompleted,
	"checkout.session.async_payment_succeeded": domain.EventCheckoutAsyncSucceeded,
	"checkout.session.async_payment_failed":    domain.EventCheckoutAsyncFailed,
	"invoice.paid":                             domain.EventInvoicePaid,
	"invoice.payment_failed":                   domain.EventInvoicePaymentFailed,
	"customer.subscription.deleted":            domain.EventSubscriptionDeleted,
	"customer.subscription.updated":            domain.EventSubscriptionUpdated,
}

// checkoutSessionView JSON-представление checkout-сессии из события.
// В вебхук-событиях customer и subscription приходят строковыми ID.
type checkoutSessionView struct {
	ID             string            `json:"id"`
	Mode           string            `json:"mode"`
	PaymentStatus  string            `json:"payment_status"`
	CustomerID     string            `json:"customer"`
	SubscriptionID string            `json:"subscription"`
	Metadata       map[string]string `json:"metadata"`
}

// invoiceView JSON-представление счета из события.
type invoiceView struct {
	ID             string `json:"id"`
	BillingReason  string `json:"billing_reason"`
	CustomerID     string `json:"customer"`
	SubscriptionID string `json:"subscription"`
}

// subscriptionView JSON-представление подписки из события.
type subscriptionView struct {
	ID                string `json:"id"`
	CustomerID        string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	EndedAt           int64  `json:"ended_at"`
}

// Classify отображает проверенное событие провайдера в доменное событие.
// Возвращает ok=false для типов вне закрытого набора — это не ошибка,
// провайдер получит 200 и не будет ретраить. Ошибка возвращается только
// при неразборчивом JSON внутри распознанного типа события.
func Classify(event stripe.Event) (domain.Event, bool, error) {
	kind, recognized := eventKindMap[event.Type]
	if !recognized {
		return domain.Event{}, false, nil
	}

	evt := domain.Event{
		ID:         event.ID,
		Kind:       kind,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch kind {
	case domain.EventCheckoutCompleted, domain.EventCheckoutAsyncSucceeded, domain.EventCheckoutAsyncFailed:
		var view checkoutSessionView
		if err := json.Unmarshal(event.Data.Raw, &view); err != nil {
			return domain.Event{}, false, fmt.Errorf("classify: failed to parse checkout session payload: %w", err)
		}
		evt.Checkout = &domain.CheckoutData{
			SessionID:      view.ID,
			Mode:           view.Mode,
			PaymentStatus:  view.PaymentStatus,
			CustomerID:     view.CustomerID,
			SubscriptionID: view.SubscriptionID,
			Metadata:       view.Metadata,
		}

	case domain.EventInvoicePaid, domain.EventInvoicePaymentFailed:
		var view invoiceView
		if err := json.Unmarshal(event.Data.Raw, &view); err != nil {
			return domain.Event{}, false, fmt.Errorf("classify: failed to parse invoice payload: %w", err)
		}
		evt.Invoice = &domain.InvoiceData{
			InvoiceID:      view.ID,
			BillingReason:  view.BillingReason,
			CustomerID:     view.CustomerID,
			SubscriptionID: view.SubscriptionID,
		}

	case domain.EventSubscriptionDeleted, domain.EventSubscriptionUpdated:
		var view subscriptionView
		if err := json.Unmarshal(event.Data.Raw, &view); err != nil {
			return domain.Event{}, false, fmt.Errorf("classify: failed to parse subscription payload: %w", err)
		}
		data := &domain.SubscriptionData{
			SubscriptionID:    view.ID,
			CustomerID:        view.CustomerID,
			ProviderStatus:    view.Status,
			CancelAtPeriodEnd: view.CancelAtPeriodEnd,
		}
		if view.CurrentPeriodEnd > 0 {
			data.CurrentPeriodEnd = time.Unix(view.CurrentPeriodEnd, 0).UTC()
		}
		if view.EndedAt > 0 {
			data.EndedAt = time.Unix(view.EndedAt, 0).UTC()
		}
		evt.Subscription = data
	}

	return evt, true, nil
}

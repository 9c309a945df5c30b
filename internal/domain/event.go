package domain

import "time"

// EventKind закрытый набор видов событий, на которые реагирует сервис.
// Все остальные типы событий провайдера игнорируются на этапе классификации.
type EventKind string

const (
	EventCheckoutCompleted      EventKind = "checkout_completed"
	EventCheckoutAsyncSucceeded EventKind = "checkout_async_succeeded"
	EventCheckoutAsyncFailed    EventKind = "checkout_async_failed"
	EventInvoicePaid            EventKind = "invoice_paid"
	EventInvoicePaymentFailed   EventKind = "invoice_payment_failed"
	EventSubscriptionDeleted    EventKind = "subscription_deleted"
	EventSubscriptionUpdated    EventKind = "subscription_updated"
)

// Event классифицированное доменное событие платежного провайдера.
// Ровно одно из полей Checkout/Invoice/Subscription заполнено —
// в зависимости от вида события.
type Event struct {
	ID         string    // ID события у провайдера (evt_...)
	Kind       EventKind // Вид события из закрытого набора
	OccurredAt time.Time // Время возникновения события у провайдера

	Checkout     *CheckoutData     // Для checkout.session.* событий
	Invoice      *InvoiceData      // Для invoice.* событий
	Subscription *SubscriptionData // Для customer.subscription.* событий
}

// CheckoutData данные завершенной checkout-сессии.
type CheckoutData struct {
	SessionID      string            // ID сессии (cs_...)
	Mode           string            // "subscription" или "payment" (разовый pix)
	PaymentStatus  string            // "paid" / "unpaid" / "no_payment_required"
	CustomerID     string            // ID клиента у провайдера (cus_...)
	SubscriptionID string            // ID подписки (sub_...), пусто для разовой оплаты
	Metadata       map[string]string // Метаданные, заложенные при создании сессии
}

// Paid сообщает, оплачена ли сессия.
func (c *CheckoutData) Paid() bool {
	return c.PaymentStatus == "paid" || c.PaymentStatus == "no_payment_required"
}

// InvoiceData данные счета за подписку.
type InvoiceData struct {
	InvoiceID      string // ID счета (in_...)
	BillingReason  string // Причина выставления (subscription_create, subscription_cycle, ...)
	CustomerID     string // ID клиента у провайдера
	SubscriptionID string // ID подписки, к которой относится счет
}

// SubscriptionData данные подписки из события провайдера.
type SubscriptionData struct {
	SubscriptionID    string    // ID подписки у провайдера
	CustomerID        string    // ID клиента у провайдера
	ProviderStatus    string    // Статус подписки у провайдера (active, past_due, canceled, ...)
	CancelAtPeriodEnd bool      // Отмена запланирована на конец периода
	CurrentPeriodEnd  time.Time // Конец текущего оплаченного периода
	EndedAt           time.Time // Время фактического завершения подписки (для deleted)
}

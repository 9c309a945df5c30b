package domain

// Plan тарифный план подписки.
type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
)

// Valid проверяет, что план входит в известный набор.
func (p Plan) Valid() bool {
	return p == PlanMonthly || p == PlanAnnual
}

// PaymentMethod способ оплаты подписки.
type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodPix  PaymentMethod = "pix"
)

// Valid проверяет, что способ оплаты входит в известный набор.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCard || m == PaymentMethodPix
}

// SubscriptionStatus статус подписки, видимый внешней системе учета.
// Жизненный цикл: none -> active -> {past_due, canceled},
// past_due -> {active, canceled}; canceled — терминальный статус.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Terminal сообщает, является ли статус терминальным.
// Терминальный статус не должен перезаписываться более поздно
// доставленным, но логически более старым событием.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCanceled
}

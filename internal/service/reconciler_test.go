package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/gateway"
	"github.com/Dhoini/Subscription-service/internal/idempotency"
	"github.com/Dhoini/Subscription-service/internal/kafka"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completeCall аргументы одного вызова CompleteRegistrationPayment.
type completeCall struct {
	token          string
	customerID     string
	subscriptionID *string
	plan           domain.Plan
	method         domain.PaymentMethod
}

// activateCall аргументы одного вызова ActivateExistingAccountSubscription.
type activateCall struct {
	userID         int64
	customerID     string
	subscriptionID *string
	plan           domain.Plan
	method         domain.PaymentMethod
}

// statusCall аргументы одного вызова SetSubscriptionStatus.
type statusCall struct {
	customerID string
	status     domain.SubscriptionStatus
	endsAt     *time.Time
}

// mockAccountClient считает вызовы гейтвея и возвращает настроенную ошибку.
type mockAccountClient struct {
	mu sync.Mutex

	completeCalls []completeCall
	activateCalls []activateCall
	statusCalls   []statusCall

	err error
}

func (m *mockAccountClient) ResolveRegistration(ctx context.Context, token string) (gateway.RegistrationStatus, error) {
	return gateway.RegistrationStatus{Status: gateway.RegistrationPending}, m.err
}

func (m *mockAccountClient) CompleteRegistrationPayment(ctx context.Context, token, customerID string, subscriptionID *string, plan domain.Plan, method domain.PaymentMethod) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.completeCalls = append(m.completeCalls, completeCall{token, customerID, subscriptionID, plan, method})
	return 42, nil
}

func (m *mockAccountClient) ActivateExistingAccountSubscription(ctx context.Context, userID int64, customerID string, subscriptionID *string, plan domain.Plan, method domain.PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.activateCalls = append(m.activateCalls, activateCall{userID, customerID, subscriptionID, plan, method})
	return nil
}

func (m *mockAccountClient) SetSubscriptionStatus(ctx context.Context, customerID string, status domain.SubscriptionStatus, endsAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.statusCalls = append(m.statusCalls, statusCall{customerID, status, endsAt})
	return nil
}

func (m *mockAccountClient) totalWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completeCalls) + len(m.activateCalls) + len(m.statusCalls)
}

// mockProducer собирает опубликованные события.
type mockProducer struct {
	mu     sync.Mutex
	events []*kafka.StatusEvent
}

func (p *mockProducer) PublishStatusEvent(ctx context.Context, event *kafka.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *mockProducer) Close() error { return nil }

func newTestReconciler(t *testing.T) (*Reconciler, *mockAccountClient, *mockProducer) {
	t.Helper()
	gw := &mockAccountClient{}
	producer := &mockProducer{}
	store := idempotency.NewMemoryStore(time.Hour, logger.New(logger.ERROR))
	r := NewReconciler(gw, store, producer, nil, logger.New(logger.ERROR))
	return r, gw, producer
}

func checkoutEvent(id string, checkout *domain.CheckoutData) domain.Event {
	return domain.Event{
		ID:         id,
		Kind:       domain.EventCheckoutCompleted,
		OccurredAt: time.Now().UTC(),
		Checkout:   checkout,
	}
}

func TestReconcileNewRegistrationCheckout(t *testing.T) {
	r, gw, producer := newTestReconciler(t)

	evt := checkoutEvent("evt_1", &domain.CheckoutData{
		SessionID:      "cs_1",
		Mode:           "subscription",
		PaymentStatus:  "paid",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Metadata: map[string]string{
			"payment_token": "tok_abc",
			"plan":          "monthly",
		},
	})

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeApplied, outcome.Kind)
	require.Len(t, gw.completeCalls, 1)
	call := gw.completeCalls[0]
	assert.Equal(t, "tok_abc", call.token)
	assert.Equal(t, "cus_1", call.customerID)
	require.NotNil(t, call.subscriptionID)
	assert.Equal(t, "sub_1", *call.subscriptionID)
	assert.Equal(t, domain.PlanMonthly, call.plan)
	assert.Equal(t, domain.PaymentMethodCard, call.method)

	// Примененный переход публикуется для downstream-консьюмеров
	require.Len(t, producer.events, 1)
	assert.Equal(t, "active", producer.events[0].Status)
}

func TestReconcileDuplicateDeliveryIsIdempotent(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := checkoutEvent("evt_dup", &domain.CheckoutData{
		Mode:           "subscription",
		PaymentStatus:  "paid",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Metadata:       map[string]string{"payment_token": "tok_abc", "plan": "monthly"},
	})

	first := r.Reconcile(context.Background(), evt)
	second := r.Reconcile(context.Background(), evt)

	// Повторная доставка возвращает тот же исход без новой записи
	assert.Equal(t, domain.OutcomeApplied, first.Kind)
	assert.Equal(t, domain.OutcomeApplied, second.Kind)
	assert.Equal(t, 1, gw.totalWrites())
}

func TestReconcileUpgradePath(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := checkoutEvent("evt_2", &domain.CheckoutData{
		Mode:           "subscription",
		PaymentStatus:  "paid",
		CustomerID:     "cus_2",
		SubscriptionID: "sub_2",
		Metadata:       map[string]string{"user_id": "17", "plan": "annual"},
	})

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeApplied, outcome.Kind)
	require.Len(t, gw.activateCalls, 1)
	assert.Equal(t, int64(17), gw.activateCalls[0].userID)
	assert.Equal(t, domain.PlanAnnual, gw.activateCalls[0].plan)
	assert.Empty(t, gw.completeCalls)
}

func TestReconcilePixOneShotCheckout(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := checkoutEvent("evt_3", &domain.CheckoutData{
		Mode:          "payment",
		PaymentStatus: "paid",
		CustomerID:    "cus_3",
		Metadata:      map[string]string{"payment_token": "tok_pix", "plan": "monthly"},
	})

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeApplied, outcome.Kind)
	require.Len(t, gw.completeCalls, 1)
	assert.Nil(t, gw.completeCalls[0].subscriptionID)
	assert.Equal(t, domain.PaymentMethodPix, gw.completeCalls[0].method)
}

func TestReconcileUnpaidCheckoutDeferred(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := checkoutEvent("evt_4", &domain.CheckoutData{
		Mode:          "payment",
		PaymentStatus: "unpaid",
		CustomerID:    "cus_4",
		Metadata:      map[string]string{"payment_token": "tok_x", "plan": "monthly"},
	})

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeDeferred, outcome.Kind)
	assert.Equal(t, "awaiting async settlement", outcome.Reason)
	assert.Zero(t, gw.totalWrites())
}

func TestReconcileUnresolvableKey(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := checkoutEvent("evt_5", &domain.CheckoutData{
		Mode:           "subscription",
		PaymentStatus:  "paid",
		CustomerID:     "cus_5",
		SubscriptionID: "sub_5",
		Metadata:       map[string]string{"plan": "monthly"},
	})

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.False(t, outcome.Retryable)
	assert.Equal(t, "unresolvable key", outcome.Reason)
	assert.Zero(t, gw.totalWrites())
}

func TestReconcileAsyncFailedSkipped(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := domain.Event{
		ID:       "evt_6",
		Kind:     domain.EventCheckoutAsyncFailed,
		Checkout: &domain.CheckoutData{PaymentStatus: "unpaid", CustomerID: "cus_6"},
	}

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
	assert.Zero(t, gw.totalWrites())
}

func TestReconcileInvoiceSubscriptionCreateSkipped(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := domain.Event{
		ID:   "evt_7",
		Kind: domain.EventInvoicePaid,
		Invoice: &domain.InvoiceData{
			InvoiceID:     "in_1",
			BillingReason: "subscription_create",
			CustomerID:    "cus_7",
		},
	}

	outcome := r.Reconcile(context.Background(), evt)

	// Активацию уже выполнил checkout-флоу: ни одной записи в гейтвей
	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
	assert.Zero(t, gw.totalWrites())
}

func TestReconcileInvoiceCycleActivates(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := domain.Event{
		ID:   "evt_8",
		Kind: domain.EventInvoicePaid,
		Invoice: &domain.InvoiceData{
			InvoiceID:     "in_2",
			BillingReason: "subscription_cycle",
			CustomerID:    "cus_8",
		},
	}

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeApplied, outcome.Kind)
	require.Len(t, gw.statusCalls, 1)
	assert.Equal(t, domain.StatusActive, gw.statusCalls[0].status)
}

func TestReconcileInvoicePaymentFailed(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := domain.Event{
		ID:      "evt_9",
		Kind:    domain.EventInvoicePaymentFailed,
		Invoice: &domain.InvoiceData{InvoiceID: "in_3", CustomerID: "cus_1"},
	}

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeApplied, outcome.Kind)
	require.Len(t, gw.statusCalls, 1)
	assert.Equal(t, "cus_1", gw.statusCalls[0].customerID)
	assert.Equal(t, domain.StatusPastDue, gw.statusCalls[0].status)
}

func TestReconcileSubscriptionDeleted(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	endedAt := time.Now().UTC().Truncate(time.Second)
	evt := domain.Event{
		ID:   "evt_10",
		Kind: domain.EventSubscriptionDeleted,
		Subscription: &domain.SubscriptionData{
			SubscriptionID: "sub_1",
			CustomerID:     "cus_10",
			ProviderStatus: "canceled",
			EndedAt:        endedAt,
		},
	}

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeApplied, outcome.Kind)
	require.Len(t, gw.statusCalls, 1)
	assert.Equal(t, domain.StatusCanceled, gw.statusCalls[0].status)
	require.NotNil(t, gw.statusCalls[0].endsAt)
	assert.Equal(t, endedAt, *gw.statusCalls[0].endsAt)
}

func TestReconcileTerminalStateNotOverwritten(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	deleted := domain.Event{
		ID:   "evt_11",
		Kind: domain.EventSubscriptionDeleted,
		Subscription: &domain.SubscriptionData{
			CustomerID:     "cus_11",
			ProviderStatus: "canceled",
			EndedAt:        time.Now().UTC(),
		},
	}
	require.Equal(t, domain.OutcomeApplied, r.Reconcile(context.Background(), deleted).Kind)

	// Поздно доставленный update того же клиента не перезаписывает canceled
	stale := domain.Event{
		ID:   "evt_12",
		Kind: domain.EventSubscriptionUpdated,
		Subscription: &domain.SubscriptionData{
			CustomerID:     "cus_11",
			ProviderStatus: "active",
		},
	}
	outcome := r.Reconcile(context.Background(), stale)

	assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
	require.Len(t, gw.statusCalls, 1)
	assert.Equal(t, domain.StatusCanceled, gw.statusCalls[0].status)
}

func TestReconcileScheduledCancellationStaysActive(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := domain.Event{
		ID:   "evt_13",
		Kind: domain.EventSubscriptionUpdated,
		Subscription: &domain.SubscriptionData{
			CustomerID:        "cus_13",
			ProviderStatus:    "active",
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  time.Now().Add(24 * time.Hour),
		},
	}

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeApplied, outcome.Kind)
	require.Len(t, gw.statusCalls, 1)
	assert.Equal(t, domain.StatusActive, gw.statusCalls[0].status)
}

func TestReconcileSubscriptionUpdatedPastDue(t *testing.T) {
	r, gw, _ := newTestReconciler(t)

	evt := domain.Event{
		ID:   "evt_14",
		Kind: domain.EventSubscriptionUpdated,
		Subscription: &domain.SubscriptionData{
			CustomerID:     "cus_14",
			ProviderStatus: "past_due",
		},
	}

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeApplied, outcome.Kind)
	require.Len(t, gw.statusCalls, 1)
	assert.Equal(t, domain.StatusPastDue, gw.statusCalls[0].status)
}

func TestReconcileTransientGatewayFailureIsRetryable(t *testing.T) {
	r, gw, _ := newTestReconciler(t)
	gw.err = &gateway.Error{Op: "SetSubscriptionStatus", StatusCode: 503}

	evt := domain.Event{
		ID:      "evt_15",
		Kind:    domain.EventInvoicePaymentFailed,
		Invoice: &domain.InvoiceData{CustomerID: "cus_15"},
	}

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.True(t, outcome.Retryable)

	// Ретраябельный исход не фиксируется: передоставка выполняет сверку заново
	gw.err = nil
	second := r.Reconcile(context.Background(), evt)
	assert.Equal(t, domain.OutcomeApplied, second.Kind)
	require.Len(t, gw.statusCalls, 1)
}

func TestReconcilePermanentGatewayFailureIsTerminal(t *testing.T) {
	r, gw, _ := newTestReconciler(t)
	gw.err = &gateway.Error{Op: "CompleteRegistrationPayment", StatusCode: 409, Reason: "token already consumed"}

	evt := checkoutEvent("evt_16", &domain.CheckoutData{
		Mode:           "subscription",
		PaymentStatus:  "paid",
		CustomerID:     "cus_16",
		SubscriptionID: "sub_16",
		Metadata:       map[string]string{"payment_token": "tok_used", "plan": "monthly"},
	})

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.False(t, outcome.Retryable)
	assert.Equal(t, "token already consumed", outcome.Reason)
}

func TestReconcileNetworkErrorIsRetryable(t *testing.T) {
	r, _, _ := newTestReconciler(t)
	gw := &mockAccountClient{err: errors.New("connection refused")}
	r.gateway = gw

	evt := domain.Event{
		ID:      "evt_17",
		Kind:    domain.EventInvoicePaymentFailed,
		Invoice: &domain.InvoiceData{CustomerID: "cus_17"},
	}

	outcome := r.Reconcile(context.Background(), evt)

	assert.Equal(t, domain.OutcomeFailed, outcome.Kind)
	assert.True(t, outcome.Retryable)
}

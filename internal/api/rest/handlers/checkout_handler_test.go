package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/gateway"
	integration "github.com/Dhoini/Subscription-service/internal/integration/stripe"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCheckoutClient запоминает последний запрос на создание сессии.
type fakeCheckoutClient struct {
	lastReq integration.CheckoutRequest
	called  bool
	err     error
}

func (f *fakeCheckoutClient) CreateCheckoutSession(ctx context.Context, req integration.CheckoutRequest) (*integration.CheckoutSession, error) {
	f.called = true
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &integration.CheckoutSession{SessionID: "cs_test", CheckoutURL: "https://checkout.stripe.com/c/cs_test"}, nil
}

// stubAccountClient отвечает фиксированным статусом регистрации.
type stubAccountClient struct {
	status     gateway.RegistrationStatus
	resolveErr error
}

func (s *stubAccountClient) ResolveRegistration(ctx context.Context, token string) (gateway.RegistrationStatus, error) {
	return s.status, s.resolveErr
}

func (s *stubAccountClient) CompleteRegistrationPayment(ctx context.Context, token, customerID string, subscriptionID *string, plan domain.Plan, method domain.PaymentMethod) (int64, error) {
	return 0, errors.New("not expected")
}

func (s *stubAccountClient) ActivateExistingAccountSubscription(ctx context.Context, userID int64, customerID string, subscriptionID *string, plan domain.Plan, method domain.PaymentMethod) error {
	return errors.New("not expected")
}

func (s *stubAccountClient) SetSubscriptionStatus(ctx context.Context, customerID string, status domain.SubscriptionStatus, endsAt *time.Time) error {
	return errors.New("not expected")
}

func newCheckoutRouter(t *testing.T, checkout *fakeCheckoutClient, gw gateway.AccountClient) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handler := NewCheckoutHandler(checkout, gw, logger.New(logger.ERROR))
	r := gin.New()
	r.POST("/api/v1/checkout/sessions", handler.CreateCheckoutSession)
	return r
}

func postCheckout(router *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/sessions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validRequest() map[string]any {
	return map[string]any{
		"payment_token": "tok_abc",
		"plan":          "monthly",
		"success_url":   "https://app.example.com/success",
		"cancel_url":    "https://app.example.com/cancel",
	}
}

func TestCheckoutCreatesSessionForPendingToken(t *testing.T) {
	checkout := &fakeCheckoutClient{}
	gw := &stubAccountClient{status: gateway.RegistrationStatus{Status: gateway.RegistrationPending, Email: "user@example.com"}}
	router := newCheckoutRouter(t, checkout, gw)

	w := postCheckout(router, validRequest())

	require.Equal(t, http.StatusOK, w.Code)
	var resp integration.CheckoutSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cs_test", resp.SessionID)
	assert.NotEmpty(t, resp.CheckoutURL)

	// Email подтягивается из статуса регистрации, если не передан
	assert.Equal(t, "user@example.com", checkout.lastReq.Email)
	assert.Equal(t, domain.PlanMonthly, checkout.lastReq.Plan)
}

func TestCheckoutRejectsInvalidPlan(t *testing.T) {
	checkout := &fakeCheckoutClient{}
	router := newCheckoutRouter(t, checkout, &stubAccountClient{})

	body := validRequest()
	body["plan"] = "lifetime"
	w := postCheckout(router, body)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, checkout.called)
}

func TestCheckoutRequiresExactlyOneKey(t *testing.T) {
	checkout := &fakeCheckoutClient{}
	router := newCheckoutRouter(t, checkout, &stubAccountClient{})

	both := validRequest()
	both["user_id"] = 42
	w := postCheckout(router, both)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	neither := validRequest()
	delete(neither, "payment_token")
	w = postCheckout(router, neither)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	assert.False(t, checkout.called)
}

func TestCheckoutUpgradePathSkipsTokenResolution(t *testing.T) {
	checkout := &fakeCheckoutClient{}
	// Гейтвей вернул бы ошибку: путь апгрейда не должен его трогать
	gw := &stubAccountClient{resolveErr: errors.New("must not be called")}
	router := newCheckoutRouter(t, checkout, gw)

	body := validRequest()
	delete(body, "payment_token")
	body["user_id"] = 42
	w := postCheckout(router, body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(42), checkout.lastReq.UserID)
}

func TestCheckoutRejectsUnknownToken(t *testing.T) {
	checkout := &fakeCheckoutClient{}
	gw := &stubAccountClient{resolveErr: &gateway.Error{Op: "ResolveRegistration", StatusCode: 404, Reason: "unknown token"}}
	router := newCheckoutRouter(t, checkout, gw)

	w := postCheckout(router, validRequest())

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, checkout.called)
}

func TestCheckoutRejectsCompletedRegistration(t *testing.T) {
	checkout := &fakeCheckoutClient{}
	gw := &stubAccountClient{status: gateway.RegistrationStatus{Status: gateway.RegistrationCompleted}}
	router := newCheckoutRouter(t, checkout, gw)

	w := postCheckout(router, validRequest())

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, checkout.called)
}

func TestCheckoutGatewayOutageIsBadGateway(t *testing.T) {
	checkout := &fakeCheckoutClient{}
	gw := &stubAccountClient{resolveErr: &gateway.Error{Op: "ResolveRegistration", StatusCode: 0, Err: errors.New("connection refused")}}
	router := newCheckoutRouter(t, checkout, gw)

	w := postCheckout(router, validRequest())

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, checkout.called)
}

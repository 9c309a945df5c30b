package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// Заголовок, которым сервис аутентифицируется перед Account Service.
const internalTokenHeader = "X-Internal-Token"

// Статусы регистрации, возвращаемые Account Service.
const (
	RegistrationPending   = "pending"
	RegistrationCompleted = "completed"
)

// RegistrationStatus состояние незавершенной регистрации в Account Service.
type RegistrationStatus struct {
	Status string `json:"status"`
	Email  string `json:"email,omitempty"`
}

// Pending сообщает, ожидает ли регистрация оплаты.
func (s RegistrationStatus) Pending() bool { return s.Status == RegistrationPending }

// AccountClient исходящий интерфейс к Account Service — внешней системе
// учета аккаунтов и подписок. Account Service обязан обрабатывать
// повторные одинаковые вызовы идемпотентно; гейтвей лишь гарантирует
// ограниченный ретрай временных сбоев.
type AccountClient interface {
	// ResolveRegistration возвращает состояние регистрации по одноразовому токену.
	ResolveRegistration(ctx context.Context, token string) (RegistrationStatus, error)

	// CompleteRegistrationPayment завершает регистрацию после оплаты:
	// создает аккаунт пользователя и активирует подписку.
	// Возвращает ID созданного аккаунта.
	CompleteRegistrationPayment(ctx context.Context, token, customerID string, subscriptionID *string, plan domain.Plan, method domain.PaymentMethod) (int64, error)

	// ActivateExistingAccountSubscription активирует подписку для уже
	// существующего аккаунта (путь апгрейда).
	ActivateExistingAccountSubscription(ctx context.Context, userID int64, customerID string, subscriptionID *string, plan domain.Plan, method domain.PaymentMethod) error

	// SetSubscriptionStatus выставляет статус подписки по ID клиента
	// у провайдера. endsAt передается для терминальных статусов.
	SetSubscriptionStatus(ctx context.Context, customerID string, status domain.SubscriptionStatus, endsAt *time.Time) error
}

// Options настройки клиента Account Service.
type Options struct {
	BaseURL       string        // Базовый URL Account Service
	SharedSecret  string        // Общий секрет для заголовка аутентификации
	Timeout       time.Duration // Таймаут одного HTTP-запроса
	MaxRetries    int           // Максимум повторов временных сбоев
	RetryInterval time.Duration // Начальный интервал бэкоффа (для тестов)
}

// accountClient реализует AccountClient поверх JSON/HTTP.
type accountClient struct {
	baseURL       string
	secret        string
	httpClient    *http.Client
	maxRetries    uint64
	retryInterval time.Duration
	log           *logger.Logger
}

// NewAccountClient создает новый клиент Account Service.
func NewAccountClient(opts Options, log *logger.Logger) (AccountClient, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("account service base URL is not configured")
	}
	if opts.SharedSecret == "" {
		return nil, errors.New("account service shared secret is not configured")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}

	return &accountClient{
		baseURL:       opts.BaseURL,
		secret:        opts.SharedSecret,
		httpClient:    &http.Client{Timeout: opts.Timeout},
		maxRetries:    uint64(opts.MaxRetries),
		retryInterval: opts.RetryInterval,
		log:           log,
	}, nil
}

// paymentCallbackRequest тело POST /payment-callback.
type paymentCallbackRequest struct {
	PaymentToken         string  `json:"payment_token"`
	StripeCustomerID     string  `json:"stripe_customer_id"`
	StripeSubscriptionID *string `json:"stripe_subscription_id"`
	Plan                 string  `json:"plan"`
	PaymentMethod        string  `json:"payment_method"`
}

// paymentCallbackResponse ответ POST /payment-callback.
type paymentCallbackResponse struct {
	UserID int64 `json:"user_id"`
}

// subscriptionActivateRequest тело POST /subscription-activate.
type subscriptionActivateRequest struct {
	UserID               int64   `json:"user_id"`
	StripeCustomerID     string  `json:"stripe_customer_id"`
	StripeSubscriptionID *string `json:"stripe_subscription_id"`
	Plan                 string  `json:"plan"`
	PaymentMethod        string  `json:"payment_method"`
}

// subscriptionStatusRequest тело POST /subscription-status-update.
type subscriptionStatusRequest struct {
	StripeCustomerID   string     `json:"stripe_customer_id"`
	Status             string     `json:"status"`
	SubscriptionEndsAt *time.Time `json:"subscription_ends_at"`
}

// ResolveRegistration возвращает состояние регистрации по токену.
func (c *accountClient) ResolveRegistration(ctx context.Context, token string) (RegistrationStatus, error) {
	var status RegistrationStatus

	endpoint := fmt.Sprintf("/registration-status?token=%s", url.QueryEscape(token))
	err := c.call(ctx, "ResolveRegistration", http.MethodGet, endpoint, nil, &status)
	if err != nil {
		return RegistrationStatus{}, err
	}

	return status, nil
}

// CompleteRegistrationPayment завершает регистрацию после оплаты.
func (c *accountClient) CompleteRegistrationPayment(ctx context.Context, token, customerID string, subscriptionID *string, plan domain.Plan, method domain.PaymentMethod) (int64, error) {
	req := paymentCallbackRequest{
		PaymentToken:         token,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subscriptionID,
		Plan:                 string(plan),
		PaymentMethod:        string(method),
	}

	var resp paymentCallbackResponse
	err := c.call(ctx, "CompleteRegistrationPayment", http.MethodPost, "/payment-callback", req, &resp)
	if err != nil {
		return 0, err
	}

	c.log.Infow("Registration payment completed", "userID", resp.UserID, "stripeCustomerID", customerID)
	return resp.UserID, nil
}

// ActivateExistingAccountSubscription активирует подписку существующего аккаунта.
func (c *accountClient) ActivateExistingAccountSubscription(ctx context.Context, userID int64, customerID string, subscriptionID *string, plan domain.Plan, method domain.PaymentMethod) error {
	req := subscriptionActivateRequest{
		UserID:               userID,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subscriptionID,
		Plan:                 string(plan),
		PaymentMethod:        string(method),
	}

	err := c.call(ctx, "ActivateExistingAccountSubscription", http.MethodPost, "/subscription-activate", req, nil)
	if err != nil {
		return err
	}

	c.log.Infow("Existing account subscription activated", "userID", userID, "stripeCustomerID", customerID)
	return nil
}

// SetSubscriptionStatus выставляет статус подписки по ID клиента.
func (c *accountClient) SetSubscriptionStatus(ctx context.Context, customerID string, status domain.SubscriptionStatus, endsAt *time.Time) error {
	req := subscriptionStatusRequest{
		StripeCustomerID:   customerID,
		Status:             string(status),
		SubscriptionEndsAt: endsAt,
	}

	err := c.call(ctx, "SetSubscriptionStatus", http.MethodPost, "/subscription-status-update", req, nil)
	if err != nil {
		return err
	}

	c.log.Infow("Subscription status updated", "stripeCustomerID", customerID, "status", status)
	return nil
}

// call выполняет один HTTP-вызов с ограниченным ретраем временных сбоев.
// 4xx оборачивается в backoff.Permanent и возвращается сразу.
func (c *accountClient) call(ctx context.Context, op, method, endpoint string, body, out any) error {
	operation := func() error {
		err := c.doRequest(ctx, op, method, endpoint, body, out)
		if err == nil {
			return nil
		}

		var gerr *Error
		if errors.As(err, &gerr) && !gerr.Transient() {
			return backoff.Permanent(err)
		}

		c.log.Warnw("Transient Account Service failure, will retry", "operation", op, "error", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
}

// doRequest выполняет один HTTP-запрос к Account Service.
func (c *accountClient) doRequest(ctx context.Context, op, method, endpoint string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("account gateway: %s: failed to marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("account gateway: %s: failed to build request: %w", op, err)
	}
	req.Header.Set(internalTokenHeader, c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, StatusCode: resp.StatusCode, Reason: decodeErrorReason(resp.Body)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("account gateway: %s: failed to decode response: %w", op, err)
		}
	}

	return nil
}

// decodeErrorReason пытается извлечь причину из тела ответа об ошибке.
func decodeErrorReason(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error
}

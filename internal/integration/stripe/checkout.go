package stripe

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/pkg/logger"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// PriceTable идентификаторы цен провайдера по плану и способу оплаты.
type PriceTable struct {
	MonthlyCard string
	AnnualCard  string
	MonthlyPix  string
	AnnualPix   string
}

// CheckoutRequest запрос на создание checkout-сессии.
// Заполняется ровно одно из PaymentToken (новая регистрация) и UserID
// (апгрейд существующего аккаунта) — этот же ключ вернется в метаданных
// вебхук-события и будет использован сверкой.
type CheckoutRequest struct {
	PaymentToken  string
	UserID        int64
	Email         string
	Plan          domain.Plan
	PaymentMethod domain.PaymentMethod
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession созданная провайдером сессия оплаты.
type CheckoutSession struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// Client определяет методы для взаимодействия со Stripe API.
type Client interface {
	// CreateCheckoutSession создает размещенную у провайдера сессию оплаты.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// stripeClient реализует интерфейс Client.
// Экземпляр конструируется один раз на старте и передается зависимостью:
// никакого глобального клиента из бизнес-логики.
type stripeClient struct {
	client *client.API
	prices PriceTable
	log    *logger.Logger
}

// NewClient создает новый экземпляр клиента Stripe.
func NewClient(apiKey string, prices PriceTable, log *logger.Logger) (Client, error) {
	if apiKey == "" {
		return nil, errors.New("stripe API key is not configured")
	}

	sc := &client.API{}
	sc.Init(apiKey, nil)

	return &stripeClient{
		client: sc,
		prices: prices,
		log:    log,
	}, nil
}

// CreateCheckoutSession создает checkout-сессию провайдера.
// Карточные планы оформляются подпиской (mode=subscription), pix — разовым
// платежом (mode=payment). Метаданные сессии несут ключ сверки, план и
// способ оплаты: это неявный контракт между созданием сессии и сверкой.
func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if !req.Plan.Valid() {
		return nil, fmt.Errorf("stripe: unknown plan %q", req.Plan)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCard
	}
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("stripe: unknown payment method %q", req.PaymentMethod)
	}
	if req.PaymentToken == "" && req.UserID <= 0 {
		return nil, errors.New("stripe: checkout request carries no reconciliation key")
	}

	priceID, err := sc.priceFor(req.Plan, req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx

	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	// pix не поддерживает рекуррентные списания: оформляем разовой оплатой
	// без provider_subscription_id, сверка создаст подписку с null ID.
	if req.PaymentMethod == domain.PaymentMethodPix {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentMethodTypes = stripe.StringSlice([]string{"pix"})
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
	}

	// Ключ сверки уходит в метаданные и возвращается в вебхук-событии
	key := req.PaymentToken
	if req.PaymentToken != "" {
		params.AddMetadata(domain.MetadataPaymentToken, req.PaymentToken)
	} else {
		key = strconv.FormatInt(req.UserID, 10)
		params.AddMetadata(domain.MetadataUserID, key)
	}
	params.AddMetadata(domain.MetadataPlan, string(req.Plan))
	params.AddMetadata(domain.MetadataPaymentMethod, string(req.PaymentMethod))

	// Повторный запрос с тем же ключом вернет уже созданную сессию
	params.SetIdempotencyKey(fmt.Sprintf("checkout:%s:%s:%s", key, req.Plan, req.PaymentMethod))

	session, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCheckoutSession", err)
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	sc.log.Infow("Checkout session created", "sessionID", session.ID, "plan", req.Plan, "paymentMethod", req.PaymentMethod)
	return &CheckoutSession{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	}, nil
}

// priceFor возвращает ID цены провайдера для пары план/способ оплаты.
func (sc *stripeClient) priceFor(plan domain.Plan, method domain.PaymentMethod) (string, error) {
	var priceID string
	switch {
	case plan == domain.PlanMonthly && method == domain.PaymentMethodCard:
		priceID = sc.prices.MonthlyCard
	case plan == domain.PlanAnnual && method == domain.PaymentMethodCard:
		priceID = sc.prices.AnnualCard
	case plan == domain.PlanMonthly && method == domain.PaymentMethodPix:
		priceID = sc.prices.MonthlyPix
	case plan == domain.PlanAnnual && method == domain.PaymentMethodPix:
		priceID = sc.prices.AnnualPix
	}

	if priceID == "" {
		return "", fmt.Errorf("stripe: no price configured for plan %q with payment method %q", plan, method)
	}
	return priceID, nil
}

// logStripeError логирует ошибку Stripe API с деталями, если они есть.
func logStripeError(log *logger.Logger, op string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error", "operation", op, "code", stripeErr.Code, "type", stripeErr.Type, "message", stripeErr.Msg)
		return
	}
	log.Errorw("Stripe request failed", "operation", op, "error", err)
}

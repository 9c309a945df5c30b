package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Subscription-service/internal/domain"
	"github.com/Dhoini/Subscription-service/internal/gateway"
	integration "github.com/Dhoini/Subscription-service/internal/integration/stripe"
	"github.com/Dhoini/Subscription-service/pkg/logger"
	"github.com/Dhoini/Subscription-service/pkg/res"

	"github.com/gin-gonic/gin"
)

// CheckoutHandler создает checkout-сессии провайдера.
type CheckoutHandler struct {
	checkout integration.Client
	gateway  gateway.AccountClient
	log      *logger.Logger
}

// NewCheckoutHandler создает новый экземпляр CheckoutHandler.
func NewCheckoutHandler(checkout integration.Client, gw gateway.AccountClient, log *logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		gateway:  gw,
		log:      log,
	}
}

// checkoutSessionRequest тело POST /api/v1/checkout/sessions.
type checkoutSessionRequest struct {
	PaymentToken  string `json:"payment_token"`
	UserID        int64  `json:"user_id"`
	Email         string `json:"email" binding:"omitempty,email"`
	Plan          string `json:"plan" binding:"required,oneof=monthly annual"`
	PaymentMethod string `json:"payment_method" binding:"omitempty,oneof=card pix"`
	SuccessURL    string `json:"success_url" binding:"required,url"`
	CancelURL     string `json:"cancel_url" binding:"required,url"`
}

// CreateCheckoutSession создает сессию оплаты.
// Для пути новой регистрации токен сначала проверяется в Account Service:
// сессия не создается для неизвестного или уже завершенного токена.
func (h *CheckoutHandler) CreateCheckoutSession(c *gin.Context) {
	var req checkoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnw("Invalid checkout session request", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Invalid request body", Details: err.Error()}, http.StatusUnprocessableEntity)
		c.Abort()
		return
	}

	// Ровно один ключ сверки: токен регистрации или ID аккаунта
	if (req.PaymentToken == "") == (req.UserID <= 0) {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Exactly one of payment_token and user_id is required"}, http.StatusUnprocessableEntity)
		c.Abort()
		return
	}

	ctx := c.Request.Context()

	if req.PaymentToken != "" {
		status, err := h.gateway.ResolveRegistration(ctx, req.PaymentToken)
		if err != nil {
			var gerr *gateway.Error
			if errors.As(err, &gerr) && !gerr.Transient() {
				h.log.Warnw("Registration token rejected by Account Service", "error", err)
				res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unknown registration token"}, http.StatusNotFound)
				c.Abort()
				return
			}
			h.log.Errorw("Failed to resolve registration status", "error", err)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Account service unavailable"}, http.StatusBadGateway)
			c.Abort()
			return
		}
		if !status.Pending() {
			h.log.Warnw("Checkout requested for non-pending registration", "status", status.Status)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Registration is not awaiting payment"}, http.StatusConflict)
			c.Abort()
			return
		}
		if req.Email == "" {
			req.Email = status.Email
		}
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, integration.CheckoutRequest{
		PaymentToken:  req.PaymentToken,
		UserID:        req.UserID,
		Email:         req.Email,
		Plan:          domain.Plan(req.Plan),
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
	})
	if err != nil {
		h.log.Errorw("Failed to create checkout session", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Failed to create checkout session"}, http.StatusBadGateway)
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, session)
}

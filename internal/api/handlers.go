package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/example/ec-storefront/internal/api/middleware"
	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/command"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/domain/payment"
	"github.com/example/ec-storefront/internal/query"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	webhooks     payment.WebhookVerifier
	logger       *zap.Logger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, webhooks payment.WebhookVerifier, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		webhooks:     webhooks,
		logger:       logger,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Basket Handlers

func (h *Handlers) GetBasket(w http.ResponseWriter, r *http.Request) {
	basket, err := h.queryHandler.GetBasket(r.Context(), chi.URLParam(r, "basketID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, basket)
}

func (h *Handlers) AddBasketItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PriceEntryID string `json:"price_entry_id"`
		Quantity     int    `json:"quantity"`
		ImageURL     string `json:"image_url"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	basket, err := h.cmdHandler.AddBasketItem(r.Context(), command.AddBasketItem{
		BasketID:     chi.URLParam(r, "basketID"),
		PriceEntryID: req.PriceEntryID,
		Quantity:     req.Quantity,
		ImageURL:     req.ImageURL,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, basket)
}

func (h *Handlers) RemoveBasketItem(w http.ResponseWriter, r *http.Request) {
	basket, err := h.cmdHandler.RemoveBasketItem(r.Context(), command.RemoveBasketItem{
		BasketID:     chi.URLParam(r, "basketID"),
		PriceEntryID: chi.URLParam(r, "priceEntryID"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, basket)
}

func (h *Handlers) ChangeBasketCurrency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency string `json:"currency"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	basket, err := h.cmdHandler.ChangeBasketCurrency(r.Context(), command.ChangeBasketCurrency{
		BasketID: chi.URLParam(r, "basketID"),
		Currency: req.Currency,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, basket)
}

func (h *Handlers) DeleteBasket(w http.ResponseWriter, r *http.Request) {
	if err := h.cmdHandler.DeleteBasket(r.Context(), chi.URLParam(r, "basketID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Order Handlers

type createOrderRequest struct {
	BasketID        string                `json:"basket_id"`
	ShippingAddress order.ShippingAddress `json:"shipping_address"`
	Currency        string                `json:"currency"`
	PaymentIntentID string                `json:"payment_intent_id"`
	UsePoints       bool                  `json:"use_points"`
	LanguageCode    string                `json:"language_code"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	claims, _ := middleware.ClaimsFrom(r.Context())
	result, err := h.cmdHandler.CreateOrder(r.Context(), command.CreateOrder{
		UserID:          claims.UserID,
		Email:           claims.Email,
		BasketID:        req.BasketID,
		ShippingAddress: req.ShippingAddress,
		Currency:        req.Currency,
		PaymentIntentID: req.PaymentIntentID,
		UsePoints:       req.UsePoints,
		LanguageCode:    req.LanguageCode,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.queryHandler.ListOrdersByUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.queryHandler.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	// Users can only see their own orders; admins can see all.
	claims, _ := middleware.ClaimsFrom(r.Context())
	if o.UserID != claims.UserID && !claims.IsAdmin() {
		respondJSONError(w, "forbidden", "forbidden", http.StatusForbidden)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	// The body is optional.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondJSONError(w, "invalid request body", string(apperr.KindBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.cmdHandler.CancelOrder(r.Context(), command.CancelOrder{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  middleware.UserID(r.Context()),
		Reason:  req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Reward Handlers

func (h *Handlers) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.queryHandler.GetWallet(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}

// Payment webhook

// PaymentWebhook verifies the gateway signature and reconciles the payment.
// Event types other than success and failure are acknowledged and ignored.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondJSONError(w, "cannot read body", string(apperr.KindBadRequest), http.StatusBadRequest)
		return
	}

	event, err := h.webhooks.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	log := h.logger.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	switch event.Type {
	case payment.EventSucceeded:
		err = h.cmdHandler.ProcessPaymentSuccess(r.Context(), event.PaymentIntentID)
	case payment.EventFailed:
		err = h.cmdHandler.ProcessPaymentFailure(r.Context(), event.PaymentIntentID)
	default:
		log.Debug("ignoring webhook event")
	}
	if err != nil {
		log.Error("webhook processing failed", zap.String("payment_intent_id", event.PaymentIntentID), zap.Error(err))
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Admin Handlers

func (h *Handlers) ShipOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.cmdHandler.ShipOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.cmdHandler.DeliverOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.cmdHandler.RefundPayment(r.Context(), command.RefundPayment{
		TransactionID: chi.URLParam(r, "transactionID"),
		Amount:        req.Amount,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.cmdHandler.AdjustPoints(r.Context(), command.AdjustPoints{
		UserID: chi.URLParam(r, "userID"),
		Amount: req.Amount,
		Reason: req.Reason,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Helper functions

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSONError(w, "invalid request body", string(apperr.KindBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

// respondError renders err by kind. Internal details are logged, not returned.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	respondJSONError(w, msg, string(kind), status)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondJSONError(w http.ResponseWriter, message, kind string, status int) {
	respondJSON(w, status, map[string]string{"error": message, "kind": kind})
}

package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/redis"
	"carpool/internal/service"
)

// WebhookHandler receives payment notifications from the gateway.
type WebhookHandler struct {
	settlement Settlement
	verifier   gateway.EventVerifier     // nil trusts the request body
	events     redis.EventStoreInterface // optional
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(settlement Settlement, verifier gateway.EventVerifier, events redis.EventStoreInterface) *WebhookHandler {
	return &WebhookHandler{settlement: settlement, verifier: verifier, events: events}
}

// PaymentWebhookRequest is the body posted by the gateway. With a verifier
// only ID is read and the event is fetched back from the provider.
type PaymentWebhookRequest struct {
	ID        string       `json:"id" binding:"required"`
	BookingID string       `json:"booking_id"`
	PaymentID string       `json:"payment_id"`
	Amount    domain.Money `json:"amount"`
}

// HandlePayment handles POST /v1/webhooks/payments
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: string(service.KindValidation)})
		return
	}
	ctx := c.Request.Context()

	evt := service.PaymentCompleted{
		BookingID: req.BookingID,
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
	}
	if h.verifier != nil {
		verified, err := h.verifier.VerifyPaymentEvent(ctx, req.ID)
		if err != nil {
			log.Printf("[WEBHOOK] event verification failed: id=%s err=%v", req.ID, err)
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "event could not be verified", Kind: string(service.KindValidation)})
			return
		}
		if !verified.Succeeded {
			log.Printf("[WEBHOOK] ignoring unsuccessful payment event: id=%s booking=%s", req.ID, verified.BookingID)
			c.Status(http.StatusOK)
			return
		}
		evt = service.PaymentCompleted{
			BookingID: verified.BookingID,
			PaymentID: verified.PaymentID,
			Amount:    verified.Amount,
		}
	}

	if h.events != nil {
		first, err := h.events.MarkProcessed(ctx, req.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		if !first {
			c.JSON(http.StatusOK, gin.H{"status": service.PaymentDuplicate})
			return
		}
	}

	result, err := h.settlement.OnPaymentCompleted(ctx, evt)
	if err != nil {
		// Let the gateway's retry through again.
		if h.events != nil && (service.KindOf(err) == service.KindInternal || errors.Is(err, service.ErrTripBusy)) {
			_ = h.events.Forget(context.WithoutCancel(ctx), req.ID)
		}
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

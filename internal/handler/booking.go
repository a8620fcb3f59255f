package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"carpool/internal/service"
)

// BookingHandler handles HTTP requests for bookings.
type BookingHandler struct {
	settlement Settlement
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(settlement Settlement) *BookingHandler {
	return &BookingHandler{settlement: settlement}
}

// ReserveSeatRequest is the HTTP request body for reserving a seat.
type ReserveSeatRequest struct {
	PassengerID string `json:"passenger_id" binding:"required"`
	PayerRef    string `json:"payer_ref" binding:"required"`
}

// ReserveSeat handles POST /v1/trips/:id/bookings
func (h *BookingHandler) ReserveSeat(c *gin.Context) {
	var req ReserveSeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: string(service.KindValidation)})
		return
	}

	booking, err := h.settlement.ReserveSeat(c.Request.Context(), service.ReserveSeatRequest{
		TripID:      c.Param("id"),
		PassengerID: req.PassengerID,
		PayerRef:    req.PayerRef,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, newBookingResponse(booking))
}

// GetBooking handles GET /v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.settlement.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, newBookingResponse(booking))
}

// Pay handles POST /v1/bookings/:id/pay
func (h *BookingHandler) Pay(c *gin.Context) {
	result, err := h.settlement.PayBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	code := http.StatusOK
	if result.Status == service.PaymentPending {
		code = http.StatusAccepted
	}
	respondJSON(c, code, result)
}

// Cancel handles POST /v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	result, err := h.settlement.OnBookingCancelled(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

// Confirm handles POST /v1/bookings/:id/confirm
func (h *BookingHandler) Confirm(c *gin.Context) {
	result, err := h.settlement.OnPassengerConfirmed(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

// RetryRefund handles POST /v1/bookings/:id/refund/retry
func (h *BookingHandler) RetryRefund(c *gin.Context) {
	result, err := h.settlement.RetryRefund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

// GetAudit handles GET /v1/bookings/:id/audit
func (h *BookingHandler) GetAudit(c *gin.Context) {
	entries, err := h.settlement.ListBookingAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, newAuditResponse(entries))
}

// GetReceipt handles GET /v1/bookings/:id/receipt
// ?format=text returns the printable form.
func (h *BookingHandler) GetReceipt(c *gin.Context) {
	receipt, err := h.settlement.GetReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, service.FormatReceipt(receipt))
		return
	}
	respondJSON(c, http.StatusOK, receipt)
}

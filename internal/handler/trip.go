package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/domain"
	"carpool/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	settlement Settlement
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(settlement Settlement) *TripHandler {
	return &TripHandler{settlement: settlement}
}

// PublishTripRequest is the HTTP request body for publishing a trip.
type PublishTripRequest struct {
	DriverID          string       `json:"driver_id" binding:"required"`
	PayoutDestination string       `json:"payout_destination"`
	SeatCapacity      int          `json:"seat_capacity" binding:"required"`
	TotalPrice        domain.Money `json:"total_price" binding:"required"`
	DepartureAt       time.Time    `json:"departure_at" binding:"required"`
}

// UpdatePriceRequest is the HTTP request body for changing a trip's price.
type UpdatePriceRequest struct {
	TotalPrice domain.Money `json:"total_price" binding:"required"`
}

// PublishTrip handles POST /v1/trips
func (h *TripHandler) PublishTrip(c *gin.Context) {
	var req PublishTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: string(service.KindValidation)})
		return
	}

	trip, err := h.settlement.PublishTrip(c.Request.Context(), service.PublishTripRequest{
		DriverID:          req.DriverID,
		PayoutDestination: req.PayoutDestination,
		SeatCapacity:      req.SeatCapacity,
		TotalPrice:        req.TotalPrice,
		DepartureAt:       req.DepartureAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, newTripResponse(trip))
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	summary, err := h.settlement.GetTripSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, summary)
}

// UpdatePrice handles PUT /v1/trips/:id/price
func (h *TripHandler) UpdatePrice(c *gin.Context) {
	var req UpdatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: string(service.KindValidation)})
		return
	}

	trip, err := h.settlement.UpdateTotalPrice(c.Request.Context(), c.Param("id"), req.TotalPrice)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, newTripResponse(trip))
}

// CancelTrip handles POST /v1/trips/:id/cancel
func (h *TripHandler) CancelTrip(c *gin.Context) {
	result, err := h.settlement.OnTripCancelled(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

// ConfirmTrip handles POST /v1/trips/:id/confirm
func (h *TripHandler) ConfirmTrip(c *gin.Context) {
	result, err := h.settlement.OnDriverConfirmed(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

// Reconcile handles POST /v1/trips/:id/reconcile
func (h *TripHandler) Reconcile(c *gin.Context) {
	result, err := h.settlement.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

// RetryPayout handles POST /v1/trips/:id/payout/retry
func (h *TripHandler) RetryPayout(c *gin.Context) {
	result, err := h.settlement.RetryPayout(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, result)
}

// GetAudit handles GET /v1/trips/:id/audit
func (h *TripHandler) GetAudit(c *gin.Context) {
	entries, err := h.settlement.ListTripAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, newAuditResponse(entries))
}

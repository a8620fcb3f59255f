package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carpool/internal/domain"
	"carpool/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	code := mapErrorToHTTPStatus(kind)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps an error kind to an HTTP status code.
func mapErrorToHTTPStatus(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindGateway:
		return http.StatusBadGateway
	case service.KindInconsistency:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// TripResponse is the HTTP response for trip operations.
type TripResponse struct {
	TripID             string       `json:"trip_id"`
	DriverID           string       `json:"driver_id"`
	State              string       `json:"state"`
	SeatCapacity       int          `json:"seat_capacity"`
	SeatsAvailable     int          `json:"seats_available"`
	TotalPrice         domain.Money `json:"total_price"`
	Currency           string       `json:"currency"`
	DepartureAt        string       `json:"departure_at"`
	DriverConfirmed    bool         `json:"driver_confirmed"`
	FundsReleased      bool         `json:"funds_released"`
	DriverPayoutAmount domain.Money `json:"driver_payout_amount"`
	CommissionAmount   domain.Money `json:"commission_amount"`
	ReviewRequired     bool         `json:"review_required"`
}

func newTripResponse(t *domain.Trip) TripResponse {
	return TripResponse{
		TripID:             t.ID,
		DriverID:           t.DriverID,
		State:              string(t.State),
		SeatCapacity:       t.SeatCapacity,
		SeatsAvailable:     t.SeatsAvailable,
		TotalPrice:         t.TotalPrice,
		Currency:           t.Currency,
		DepartureAt:        formatTime(t.DepartureAt),
		DriverConfirmed:    t.DriverConfirmed,
		FundsReleased:      t.FundsReleased,
		DriverPayoutAmount: t.DriverPayoutAmount,
		CommissionAmount:   t.CommissionAmount,
		ReviewRequired:     t.ReviewRequired,
	}
}

// BookingResponse is the HTTP response for booking operations.
type BookingResponse struct {
	BookingID          string       `json:"booking_id"`
	TripID             string       `json:"trip_id"`
	PassengerID        string       `json:"passenger_id"`
	Status             string       `json:"status"`
	AmountPaid         domain.Money `json:"amount_paid"`
	OriginalAmountPaid domain.Money `json:"original_amount_paid"`
	RefundTotal        domain.Money `json:"refund_total"`
	PassengerConfirmed bool         `json:"passenger_confirmed"`
	PaidAt             string       `json:"paid_at,omitempty"`
}

func newBookingResponse(b *domain.Booking) BookingResponse {
	return BookingResponse{
		BookingID:          b.ID,
		TripID:             b.TripID,
		PassengerID:        b.PassengerID,
		Status:             string(b.Status),
		AmountPaid:         b.AmountPaid,
		OriginalAmountPaid: b.OriginalAmountPaid,
		RefundTotal:        b.RefundTotal,
		PassengerConfirmed: b.PassengerConfirmed,
		PaidAt:             formatTime(b.PaidAt),
	}
}

// AuditEntryResponse is one entry of the money log.
type AuditEntryResponse struct {
	ID            string       `json:"id"`
	BookingID     string       `json:"booking_id,omitempty"`
	Operation     string       `json:"operation"`
	Amount        domain.Money `json:"amount"`
	Trigger       string       `json:"trigger"`
	Outcome       string       `json:"outcome"`
	GatewayRef    string       `json:"gateway_ref,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     string       `json:"created_at"`
}

func newAuditResponse(entries []*domain.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:            e.ID,
			BookingID:     e.BookingID,
			Operation:     string(e.Operation),
			Amount:        e.Amount,
			Trigger:       e.Trigger,
			Outcome:       string(e.Outcome),
			GatewayRef:    e.GatewayRef,
			FailureReason: e.FailureReason,
			CreatedAt:     formatTime(e.CreatedAt),
		})
	}
	return out
}

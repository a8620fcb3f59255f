package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/redis"
	"carpool/internal/repository"
	"carpool/internal/service"
)

// fakeSettlement implements the methods a test needs; any other call panics.
type fakeSettlement struct {
	Settlement

	publishReq service.PublishTripRequest
	payResult  *service.PaymentResult
	payErr     error
	events     []service.PaymentCompleted
	eventErr   error
	receipt    *service.Receipt
}

func (f *fakeSettlement) PublishTrip(ctx context.Context, req service.PublishTripRequest) (*domain.Trip, error) {
	f.publishReq = req
	return &domain.Trip{
		ID:             "trip-1",
		DriverID:       req.DriverID,
		State:          domain.SettlementAwaitingPayments,
		SeatCapacity:   req.SeatCapacity,
		SeatsAvailable: req.SeatCapacity,
		TotalPrice:     req.TotalPrice,
		Currency:       "CHF",
		DepartureAt:    req.DepartureAt,
	}, nil
}

func (f *fakeSettlement) PayBooking(ctx context.Context, bookingID string) (*service.PaymentResult, error) {
	return f.payResult, f.payErr
}

func (f *fakeSettlement) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeSettlement) GetReceipt(ctx context.Context, bookingID string) (*service.Receipt, error) {
	return f.receipt, nil
}

func (f *fakeSettlement) OnPaymentCompleted(ctx context.Context, evt service.PaymentCompleted) (*service.PaymentResult, error) {
	f.events = append(f.events, evt)
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	return &service.PaymentResult{BookingID: evt.BookingID, PaymentID: evt.PaymentID, Amount: evt.Amount, Status: service.PaymentRecorded}, nil
}

type fakeEvents struct {
	seen      map[string]bool
	forgotten []string
}

func (f *fakeEvents) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeEvents) Forget(ctx context.Context, eventID string) error {
	delete(f.seen, eventID)
	f.forgotten = append(f.forgotten, eventID)
	return nil
}

type fakeVerifier struct {
	event *gateway.PaymentEvent
	err   error
}

func (f *fakeVerifier) VerifyPaymentEvent(ctx context.Context, eventID string) (*gateway.PaymentEvent, error) {
	return f.event, f.err
}

func newTestRouter(s Settlement, verifier gateway.EventVerifier, events redis.EventStoreInterface) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	trips := NewTripHandler(s)
	bookings := NewBookingHandler(s)
	webhook := NewWebhookHandler(s, verifier, events)
	r.POST("/v1/trips", trips.PublishTrip)
	r.GET("/v1/bookings/:id", bookings.GetBooking)
	r.POST("/v1/bookings/:id/pay", bookings.Pay)
	r.GET("/v1/bookings/:id/receipt", bookings.GetReceipt)
	r.POST("/v1/webhooks/payments", webhook.HandlePayment)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidTripID, http.StatusBadRequest},
		{repository.ErrNotFound, http.StatusNotFound},
		{service.ErrIllegalTransition, http.StatusConflict},
		{service.ErrTripBusy, http.StatusConflict},
		{service.ErrPaymentDeclined, http.StatusBadGateway},
		{service.ErrPaymentMismatch, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		if got := mapErrorToHTTPStatus(service.KindOf(tc.err)); got != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestPublishTrip_ParsesDecimalPrice(t *testing.T) {
	fake := &fakeSettlement{}
	r := newTestRouter(fake, nil, nil)

	w := do(r, http.MethodPost, "/v1/trips",
		`{"driver_id":"driver-1","seat_capacity":3,"total_price":"17.85","departure_at":"2026-03-14T09:00:00Z"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if fake.publishReq.TotalPrice != 1785 {
		t.Errorf("expected 1785 cents, got %d", fake.publishReq.TotalPrice)
	}

	var resp TripResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalPrice != 1785 || resp.State != string(domain.SettlementAwaitingPayments) {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.Contains(w.Body.String(), `"total_price":"17.85"`) {
		t.Errorf("money must be rendered as a decimal string: %s", w.Body.String())
	}
}

func TestPublishTrip_RejectsMissingFields(t *testing.T) {
	r := newTestRouter(&fakeSettlement{}, nil, nil)

	w := do(r, http.MethodPost, "/v1/trips", `{"seat_capacity":3,"total_price":"17.85"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetBooking_NotFound(t *testing.T) {
	r := newTestRouter(&fakeSettlement{}, nil, nil)

	w := do(r, http.MethodGet, "/v1/bookings/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != string(service.KindNotFound) {
		t.Errorf("expected kind not_found, got %s", resp.Kind)
	}
}

func TestPay_StatusCodes(t *testing.T) {
	testCases := []struct {
		name   string
		result *service.PaymentResult
		err    error
		want   int
	}{
		{"recorded", &service.PaymentResult{Status: service.PaymentRecorded}, nil, http.StatusOK},
		{"pending", &service.PaymentResult{Status: service.PaymentPending}, nil, http.StatusAccepted},
		{"declined", nil, service.ErrPaymentDeclined, http.StatusBadGateway},
		{"busy", nil, service.ErrTripBusy, http.StatusConflict},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&fakeSettlement{payResult: tc.result, payErr: tc.err}, nil, nil)
			w := do(r, http.MethodPost, "/v1/bookings/b-1/pay", "")
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestGetReceipt_TextFormat(t *testing.T) {
	fake := &fakeSettlement{receipt: &service.Receipt{
		BookingID: "b-1", TripID: "t-1", Currency: "CHF",
		Charged: 1785, Refunded: 890, Net: 895, Status: domain.PaymentStatusCompleted,
	}}
	r := newTestRouter(fake, nil, nil)

	w := do(r, http.MethodGet, "/v1/bookings/b-1/receipt?format=text", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "NET:      CHF 8.95") {
		t.Errorf("unexpected receipt:\n%s", w.Body.String())
	}
}

func TestWebhook_DeduplicatesEvents(t *testing.T) {
	fake := &fakeSettlement{}
	events := &fakeEvents{seen: map[string]bool{}}
	r := newTestRouter(fake, nil, events)

	body := `{"id":"evt_1","booking_id":"b-1","payment_id":"chrg_1","amount":"8.95"}`
	if w := do(r, http.MethodPost, "/v1/webhooks/payments", body); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w := do(r, http.MethodPost, "/v1/webhooks/payments", body)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), service.PaymentDuplicate) {
		t.Errorf("expected duplicate acknowledgement, got %d %s", w.Code, w.Body.String())
	}
	if len(fake.events) != 1 {
		t.Fatalf("expected one delivery to the engine, got %d", len(fake.events))
	}
	if fake.events[0].Amount != 895 || fake.events[0].PaymentID != "chrg_1" {
		t.Errorf("unexpected event: %+v", fake.events[0])
	}
}

func TestWebhook_TransientFailureAllowsRedelivery(t *testing.T) {
	fake := &fakeSettlement{eventErr: service.ErrTripBusy}
	events := &fakeEvents{seen: map[string]bool{}}
	r := newTestRouter(fake, nil, events)

	w := do(r, http.MethodPost, "/v1/webhooks/payments", `{"id":"evt_1","booking_id":"b-1","payment_id":"chrg_1","amount":"8.95"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if len(events.forgotten) != 1 || events.seen["evt_1"] {
		t.Errorf("event must be forgotten so the retry is processed, got %+v", events)
	}
}

func TestWebhook_VerifiedEventOverridesBody(t *testing.T) {
	fake := &fakeSettlement{}
	verifier := &fakeVerifier{event: &gateway.PaymentEvent{
		EventID: "evt_1", BookingID: "b-real", PaymentID: "chrg_real", Amount: 1000, Succeeded: true,
	}}
	r := newTestRouter(fake, verifier, nil)

	w := do(r, http.MethodPost, "/v1/webhooks/payments", `{"id":"evt_1","booking_id":"b-forged","payment_id":"chrg_forged","amount":"0.05"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fake.events) != 1 || fake.events[0].BookingID != "b-real" || fake.events[0].Amount != 1000 {
		t.Errorf("expected the verified event, got %+v", fake.events)
	}
}

func TestWebhook_UnverifiableEventRejected(t *testing.T) {
	fake := &fakeSettlement{}
	r := newTestRouter(fake, &fakeVerifier{err: errors.New("not found")}, nil)

	w := do(r, http.MethodPost, "/v1/webhooks/payments", `{"id":"evt_1"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if len(fake.events) != 0 {
		t.Error("unverified event reached the engine")
	}
}

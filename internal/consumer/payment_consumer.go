// Package consumer dispatches gateway payment events from the message
// broker to the settlement engine.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"carpool/internal/domain"
	"carpool/internal/redis"
	"carpool/internal/service"
)

// RoutingPaymentPaid is the routing key of captured payments.
const RoutingPaymentPaid = "payment.paid"

// PaymentPaid is the payment.paid message published by the gateway webhook.
type PaymentPaid struct {
	Event      string `json:"event"`   // "payment.paid"
	Version    int    `json:"version"` // 1
	OccurredAt string `json:"occurred_at"`
	Data       struct {
		PaymentID string `json:"payment_id"`
		BookingID string `json:"booking_id"`
		Amount    int64  `json:"amount"` // minor units
		Currency  string `json:"currency"`
	} `json:"data"`
}

// PaymentHandler records completed payments.
type PaymentHandler interface {
	OnPaymentCompleted(ctx context.Context, evt service.PaymentCompleted) (*service.PaymentResult, error)
}

// Ack tells the broker what to do with a delivery.
type Ack int

const (
	AckDone    Ack = iota // processed or permanently rejected
	AckRequeue            // transient failure, deliver again
	AckDrop               // undecodable, never deliver again
)

// PaymentConsumer turns payment.paid deliveries into OnPaymentCompleted calls.
type PaymentConsumer struct {
	handler PaymentHandler
	events  redis.EventStoreInterface
}

// NewPaymentConsumer creates a new PaymentConsumer. events may be nil.
func NewPaymentConsumer(handler PaymentHandler, events redis.EventStoreInterface) *PaymentConsumer {
	return &PaymentConsumer{handler: handler, events: events}
}

// Run acknowledges deliveries as they are handled until ctx is cancelled or
// the channel closes.
func (pc *PaymentConsumer) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				log.Printf("[CONSUMER] delivery channel closed")
				return
			}
			if d.RoutingKey != RoutingPaymentPaid {
				_ = d.Ack(false)
				continue
			}
			switch pc.Handle(ctx, d.Body) {
			case AckRequeue:
				_ = d.Nack(false, true)
			case AckDrop:
				_ = d.Nack(false, false)
			default:
				_ = d.Ack(false)
			}
		}
	}
}

// Handle processes one payment.paid message body.
func (pc *PaymentConsumer) Handle(ctx context.Context, body []byte) Ack {
	var evt PaymentPaid
	if err := json.Unmarshal(body, &evt); err != nil {
		log.Printf("[CONSUMER] unmarshal error: %v", err)
		return AckDrop
	}
	if evt.Data.BookingID == "" || evt.Data.PaymentID == "" || evt.Data.Amount <= 0 {
		log.Printf("[CONSUMER] invalid event payload")
		return AckDone
	}

	eventID := RoutingPaymentPaid + ":" + evt.Data.PaymentID
	if pc.events != nil {
		first, err := pc.events.MarkProcessed(ctx, eventID)
		if err != nil {
			log.Printf("[CONSUMER] dedupe store error: %v", err)
			return AckRequeue
		}
		if !first {
			log.Printf("[CONSUMER] duplicate event: payment=%s", evt.Data.PaymentID)
			return AckDone
		}
	}

	_, err := pc.handler.OnPaymentCompleted(ctx, service.PaymentCompleted{
		BookingID: evt.Data.BookingID,
		PaymentID: evt.Data.PaymentID,
		Amount:    domain.Money(evt.Data.Amount),
	})
	if err == nil {
		log.Printf("[CONSUMER] payment processed: booking=%s payment=%s", evt.Data.BookingID, evt.Data.PaymentID)
		return AckDone
	}

	if transient(err) {
		log.Printf("[CONSUMER] transient error, requeue: booking=%s err=%v", evt.Data.BookingID, err)
		if pc.events != nil {
			_ = pc.events.Forget(context.WithoutCancel(ctx), eventID)
		}
		return AckRequeue
	}

	log.Printf("[CONSUMER] rejected event: booking=%s payment=%s err=%v", evt.Data.BookingID, evt.Data.PaymentID, err)
	return AckDone
}

// transient reports whether redelivery may succeed.
func transient(err error) bool {
	if errors.Is(err, service.ErrTripBusy) || errors.Is(err, service.ErrStaleSnapshot) {
		return true
	}
	return service.KindOf(err) == service.KindInternal
}

package app

import (
	"context"
	"fmt"

	"carpool/internal/config"
	"carpool/internal/consumer"
	"carpool/internal/mq"
)

// NewPublisher connects the settlement notification publisher.
// It returns nil when no broker is configured.
func NewPublisher(cfg config.AMQPConfig) (*mq.Publisher, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	p, err := mq.NewPublisher(cfg.URL, cfg.SettlementExchange)
	if err != nil {
		return nil, fmt.Errorf("failed to connect publisher: %w", err)
	}
	return p, nil
}

// StartPaymentConsumer binds the payment queue and runs pc in the
// background until ctx is cancelled. It returns nil when no broker is
// configured.
func StartPaymentConsumer(ctx context.Context, cfg config.AMQPConfig, pc *consumer.PaymentConsumer) (*mq.Consumer, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	c, err := mq.NewConsumer(cfg.URL, cfg.PaymentExchange, cfg.PaymentQueue, []string{consumer.RoutingPaymentPaid}, cfg.Prefetch)
	if err != nil {
		return nil, fmt.Errorf("failed to connect consumer: %w", err)
	}
	msgs, err := c.Deliveries(ctx)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	go pc.Run(ctx, msgs)
	return c, nil
}

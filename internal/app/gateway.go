package app

import (
	"fmt"

	"carpool/internal/config"
	"carpool/internal/gateway"
)

// NewGateway creates the configured payment gateway. The verifier is nil
// for the sandbox, which has no provider to re-fetch webhook events from.
func NewGateway(cfg config.GatewayConfig) (gateway.Gateway, gateway.EventVerifier, error) {
	switch cfg.Provider {
	case "omise":
		g, err := gateway.NewOmise(cfg.PublicKey, cfg.SecretKey, cfg.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create omise client: %w", err)
		}
		return g, g, nil
	case "sandbox", "":
		return gateway.NewSandbox(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported gateway provider %q", cfg.Provider)
	}
}

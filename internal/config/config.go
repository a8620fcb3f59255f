// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AMQP       AMQPConfig
	NewRelic   NewRelicConfig
	Gateway    GatewayConfig
	Settlement SettlementConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Driver   string `envconfig:"DB_DRIVER" default:"postgres"` // postgres | pgx
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName   string `envconfig:"DB_NAME" default:"carpool"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// DSN returns the connection string understood by both lib/pq and pgx.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// AMQPConfig holds RabbitMQ configuration. An empty URL disables messaging.
type AMQPConfig struct {
	URL                string `envconfig:"RABBIT_URL"`
	SettlementExchange string `envconfig:"SETTLEMENT_EXCHANGE" default:"settlement.events"`
	PaymentExchange    string `envconfig:"PAYMENT_EXCHANGE" default:"payment.exchange"`
	PaymentQueue       string `envconfig:"PAYMENT_QUEUE" default:"settlement.payment.paid"`
	Prefetch           int    `envconfig:"AMQP_PREFETCH" default:"8"`
}

// Enabled reports whether a broker is configured.
func (c AMQPConfig) Enabled() bool {
	return c.URL != ""
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string `envconfig:"NEW_RELIC_APP_NAME" default:"carpool-settlement"`
	LicenseKey string `envconfig:"NEW_RELIC_LICENSE_KEY"`
	Enabled    bool   `envconfig:"NEW_RELIC_ENABLED" default:"false"`
}

// GatewayConfig selects and configures the payment gateway.
type GatewayConfig struct {
	Provider  string        `envconfig:"GATEWAY_PROVIDER" default:"sandbox"` // sandbox | omise
	PublicKey string        `envconfig:"OMISE_PUBLIC_KEY"`
	SecretKey string        `envconfig:"OMISE_SECRET_KEY"`
	Currency  string        `envconfig:"GATEWAY_CURRENCY" default:"CHF"`
	Timeout   time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
}

// SettlementConfig holds the settlement engine tunables.
type SettlementConfig struct {
	CommissionBPS      int           `envconfig:"COMMISSION_BPS" default:"1000"`
	Increment          int64         `envconfig:"PRICE_INCREMENT" default:"5"`
	MinRefundThreshold int64         `envconfig:"MIN_REFUND_THRESHOLD" default:"5"`
	LockTTL            time.Duration `envconfig:"LOCK_TTL" default:"30s"`
	LockWait           time.Duration `envconfig:"LOCK_WAIT" default:"5s"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
}

// Load loads configuration from environment variables, reading a .env file
// first when one exists.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Gateway.Provider {
	case "sandbox":
	case "omise":
		if c.Gateway.PublicKey == "" || c.Gateway.SecretKey == "" {
			return fmt.Errorf("omise gateway requires OMISE_PUBLIC_KEY and OMISE_SECRET_KEY")
		}
	default:
		return fmt.Errorf("unsupported GATEWAY_PROVIDER %q", c.Gateway.Provider)
	}
	if c.Settlement.CommissionBPS < 0 || c.Settlement.CommissionBPS > 10000 {
		return fmt.Errorf("COMMISSION_BPS must be between 0 and 10000")
	}
	if c.Settlement.Increment <= 0 {
		return fmt.Errorf("PRICE_INCREMENT must be positive")
	}
	return nil
}

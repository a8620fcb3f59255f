package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Registers "pgx" driver
	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"

	"carpool/internal/config"
)

// driverName picks the database/sql driver. New Relic instruments lib/pq
// only, so the pgx driver runs untraced.
func driverName(cfg config.DatabaseConfig, nrApp *newrelic.Application) string {
	switch {
	case cfg.Driver == "pgx":
		return "pgx"
	case nrApp != nil:
		return "nrpostgres"
	default:
		return "postgres"
	}
}

// NewDatabase opens the ledger database with the configured driver.
// If nrApp is provided and the driver is lib/pq, it uses the New Relic
// instrumented driver for automatic SQL tracing.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*sql.DB, error) {
	driver := driverName(cfg, nrApp)

	db, err := sql.Open(driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database with %s: %w", driver, err)
	}

	// Pool shared by HTTP, the departure sweeper and the payment consumer.
	db.SetMaxOpenConns(30)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	// Verify connection.
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

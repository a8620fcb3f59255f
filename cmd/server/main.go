package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"carpool/internal/app"
	"carpool/internal/config"
	"carpool/internal/consumer"
	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/handler"
	"carpool/internal/pricing"
	internalRedis "carpool/internal/redis"
	"carpool/internal/repository/postgres"
	"carpool/internal/service"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s (with DB instrumentation)", cfg.NewRelic.AppName)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("Connected to PostgreSQL (driver=%s)", cfg.Database.Driver)

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Connected to Redis")

	gw, verifier, err := app.NewGateway(cfg.Gateway)
	if err != nil {
		log.Fatalf("failed to create payment gateway: %v", err)
	}
	log.Printf("Payment gateway: %s", cfg.Gateway.Provider)

	var publisher service.EventPublisher
	mqPublisher, err := app.NewPublisher(cfg.AMQP)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	if mqPublisher != nil {
		defer mqPublisher.Close()
		publisher = mqPublisher
		log.Printf("Publishing settlement events to %s", cfg.AMQP.SettlementExchange)
	}

	settlement, events := wireSettlement(db, redisClient, gw, publisher, cfg)
	server := wireServer(settlement, verifier, events, redisClient, nrApp, cfg)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	go service.NewDepartureSweeper(settlement, cfg.Settlement.SweepInterval).Run(runCtx)

	mqConsumer, err := app.StartPaymentConsumer(runCtx, cfg.AMQP, consumer.NewPaymentConsumer(settlement, events))
	if err != nil {
		log.Fatalf("failed to start payment consumer: %v", err)
	}
	if mqConsumer != nil {
		defer mqConsumer.Close()
		log.Printf("Consuming %s from %s", consumer.RoutingPaymentPaid, cfg.AMQP.PaymentExchange)
	}

	// Start server in goroutine.
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Println("Server exited")
}

// wireSettlement builds the settlement engine and its stores.
func wireSettlement(db *sql.DB, redisClient *redis.Client, gw gateway.Gateway, publisher service.EventPublisher, cfg *config.Config) (*service.SettlementService, *internalRedis.EventStore) {
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)
	eventStore := internalRedis.NewEventStore(redisClient)

	calc := pricing.NewCalculator(pricing.Config{
		Increment:          domain.Money(cfg.Settlement.Increment),
		CommissionBPS:      cfg.Settlement.CommissionBPS,
		MinRefundThreshold: domain.Money(cfg.Settlement.MinRefundThreshold),
	})

	settlement := service.NewSettlementService(service.SettlementDeps{
		Ledger:   postgres.NewLedger(db),
		Gateway:  gw,
		Locks:    lockStore,
		Cache:    cacheStore,
		Notifier: service.NewNotificationService(publisher),
		Pricing:  calc,
		Config: service.SettlementConfig{
			Currency: cfg.Gateway.Currency,
			LockTTL:  cfg.Settlement.LockTTL,
			LockWait: cfg.Settlement.LockWait,
		},
	})

	return settlement, eventStore
}

// wireServer wires the HTTP layer and returns the server.
func wireServer(settlement *service.SettlementService, verifier gateway.EventVerifier, events *internalRedis.EventStore, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config) *http.Server {
	router := app.NewRouter(app.RouterDeps{
		TripHandler:    handler.NewTripHandler(settlement),
		BookingHandler: handler.NewBookingHandler(settlement),
		WebhookHandler: handler.NewWebhookHandler(settlement, verifier, events),
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"carpool/internal/handler"
	"carpool/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	TripHandler    *handler.TripHandler
	BookingHandler *handler.BookingHandler
	WebhookHandler *handler.WebhookHandler
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	if deps.RedisClient != nil {
		router.Use(middleware.IdempotencyMiddleware(deps.RedisClient))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Trip routes.
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.PublishTrip)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.PUT("/:id/price", deps.TripHandler.UpdatePrice)
			trips.POST("/:id/cancel", deps.TripHandler.CancelTrip)
			trips.POST("/:id/confirm", deps.TripHandler.ConfirmTrip)
			trips.POST("/:id/reconcile", deps.TripHandler.Reconcile)
			trips.POST("/:id/payout/retry", deps.TripHandler.RetryPayout)
			trips.GET("/:id/audit", deps.TripHandler.GetAudit)
			trips.POST("/:id/bookings", deps.BookingHandler.ReserveSeat)
		}

		// Booking routes.
		bookings := v1.Group("/bookings")
		{
			bookings.GET("/:id", deps.BookingHandler.GetBooking)
			bookings.POST("/:id/pay", deps.BookingHandler.Pay)
			bookings.POST("/:id/cancel", deps.BookingHandler.Cancel)
			bookings.POST("/:id/confirm", deps.BookingHandler.Confirm)
			bookings.POST("/:id/refund/retry", deps.BookingHandler.RetryRefund)
			bookings.GET("/:id/audit", deps.BookingHandler.GetAudit)
			bookings.GET("/:id/receipt", deps.BookingHandler.GetReceipt)
		}

		// Gateway webhooks.
		v1.POST("/webhooks/payments", deps.WebhookHandler.HandlePayment)
	}

	return router
}

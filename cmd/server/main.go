package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/santosh227/airline-booking-service/internal/config"
	"github.com/santosh227/airline-booking-service/internal/database"
	"github.com/santosh227/airline-booking-service/internal/handlers"
	"github.com/santosh227/airline-booking-service/internal/middleware"
	"github.com/santosh227/airline-booking-service/internal/migrations"
	"github.com/santosh227/airline-booking-service/internal/services"
	"github.com/santosh227/airline-booking-service/pkg/jwt"
	"github.com/santosh227/airline-booking-service/pkg/messaging"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting airline booking service")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	// middleware that logs through the package-level logger gets the same format
	logrus.SetFormatter(logger.Formatter)
	logrus.SetLevel(logLevel)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Database
	logger.Info("Connecting to database...")
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	db, err := database.NewConnection(startupCtx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if cfg.Database.RunMigrations {
		if err := migrations.Apply(startupCtx, db, logger); err != nil {
			logger.Fatalf("Failed to apply migrations: %v", err)
		}
	}
	cancelStartup()

	// Repositories
	bookingRepository := database.NewBookingRepository(db)
	paymentRepository := database.NewPaymentRepository(db)
	paymentAuditRepository := database.NewPaymentAuditRepository(db, logger)
	idempotencyRepository := database.NewIdempotencyRepository(db)
	inventoryRepository := database.NewInventoryRepository(db)
	logger.Info("Repositories initialized")

	// Collaborators
	localInventory := services.NewLocalInventory(inventoryRepository, cfg.Inventory.Timeout)
	var ledger services.InventoryLedger = localInventory
	if cfg.Inventory.ServiceURL != "" {
		ledger = services.NewInventoryClient(cfg.Inventory, logger)
		logger.WithField("url", cfg.Inventory.ServiceURL).Info("Using remote inventory service")
	} else {
		logger.Info("Using in-process seat ledger")
	}

	var gateway services.PaymentGateway
	if cfg.Payment.GatewayMode == "remote" {
		gateway = services.NewPaymentServiceClient(cfg.Payment, logger)
		logger.WithField("url", cfg.Payment.ServiceURL).Info("Using remote payment service")
	} else {
		gateway = services.NewSimulatedPaymentGateway(logger)
		logger.Warn("Using SIMULATED payment gateway - payments always succeed")
	}

	var events services.EventPublisher = services.NewLogEventPublisher(logger)
	var broker *messaging.Client
	if cfg.Messaging.RabbitMQURL != "" {
		broker = messaging.NewClient(messaging.Config{
			URL:        cfg.Messaging.RabbitMQURL,
			Exchange:   cfg.Messaging.Exchange,
			RetryCount: cfg.Messaging.RetryCount,
			RetryDelay: cfg.Messaging.RetryDelay,
		}, logger)
		if err := broker.Connect(); err != nil {
			// events are best effort, the client keeps reconnecting
			logger.WithError(err).Error("Failed to connect to RabbitMQ, booking events will not be published until it is reachable")
		}
		events = services.NewBrokerEventPublisher(broker, logger)
	}

	// Services
	idempotencyService := services.NewIdempotencyService(idempotencyRepository, cfg.Idempotency, logger)
	refundWorker := services.NewRefundWorkerService(
		bookingRepository,
		paymentRepository,
		paymentAuditRepository,
		gateway,
		events,
		cfg.Refund,
		cfg.Payment.Timeout,
		logger,
	)
	orchestrator := services.NewBookingOrchestratorService(
		bookingRepository,
		paymentRepository,
		paymentAuditRepository,
		ledger,
		gateway,
		events,
		refundWorker,
		services.NewBookingOrchestratorConfig(cfg),
		logger,
	)
	reconciler := services.NewPaymentReconcilerService(
		paymentRepository,
		paymentAuditRepository,
		orchestrator,
		cfg.Payment.WebhookSecret,
		logger,
	)
	jwtService := jwt.NewService(cfg.JWT.Secret, time.Hour)
	logger.Info("Services initialized")

	// Background work
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		refundWorker.Run(workerCtx)
	}()

	cronService := services.NewCronService(orchestrator, idempotencyService, cfg, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}

	// Handlers
	bookingHandler := handlers.NewBookingOrchestratorHandler(orchestrator, logger)
	inventoryHandler := handlers.NewInventoryHandler(localInventory, cfg.Payment.DefaultCurrency, logger)
	paymentHandler := handlers.NewPaymentWebhookHandler(reconciler, logger)

	// Router
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Security.EnableRequestLog {
		router.Use(middleware.RequestLogger(logger))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.ReplayedHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(db))

	v1 := router.Group("/api/v1")
	{
		// Bookings (JWT, mutations are idempotent)
		bookings := v1.Group("/bookings")
		bookings.Use(middleware.AuthMiddleware(jwtService))
		{
			idempotent := middleware.Idempotency(idempotencyService, logger)
			bookings.POST("", idempotent, bookingHandler.CreateBooking)
			bookings.PATCH("/:booking_id/cancel", idempotent, bookingHandler.CancelBooking)
			bookings.GET("", bookingHandler.ListBookings)
			bookings.GET("/reference/:reference", bookingHandler.GetBookingByReference)
			bookings.GET("/:booking_id", bookingHandler.GetBooking)
			bookings.GET("/:booking_id/status", bookingHandler.GetBookingStatus)
			bookings.GET("/:booking_id/status-history", bookingHandler.GetStatusHistory)
		}

		flights := v1.Group("/flights")
		flights.Use(middleware.AuthMiddleware(jwtService))
		{
			flights.GET("/:flight_id/availability", bookingHandler.GetFlightAvailability)
		}

		// Seat ledger for other services (API key)
		inventory := v1.Group("/inventory/flights")
		inventory.Use(middleware.RequireAPIKey(cfg.Security.InternalAPIKeyHash, logger))
		{
			inventory.PUT("/:flight_id", inventoryHandler.UpsertFlight)
			inventory.GET("/:flight_id", inventoryHandler.GetFlight)
			inventory.POST("/:flight_id/reserve", inventoryHandler.ReserveSeats)
			inventory.POST("/:flight_id/release", inventoryHandler.ReleaseSeats)
		}

		// Payment events (HMAC signed, verified by the reconciler)
		payments := v1.Group("/payments")
		{
			payments.POST("/webhook", paymentHandler.HandleWebhook)
			payments.GET("/:payment_id/audit",
				middleware.AuthMiddleware(jwtService),
				middleware.RequireRole(middleware.RoleAdmin),
				paymentHandler.ListPaymentAudit,
			)
		}

		// Admin job triggers
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService), middleware.RequireRole(middleware.RoleAdmin))
		{
			admin.GET("/cron/status", func(c *gin.Context) {
				c.JSON(http.StatusOK, cronService.GetJobStatus())
			})
			admin.POST("/cron/sweep-idempotency", func(c *gin.Context) {
				cronService.RunSweepNow()
				c.JSON(http.StatusOK, gin.H{"message": "Idempotency sweep triggered"})
			})
			admin.POST("/cron/complete-bookings", func(c *gin.Context) {
				cronService.RunCompletionNow()
				c.JSON(http.StatusOK, gin.H{"message": "Booking completion triggered"})
			})
			admin.POST("/refunds/process", func(c *gin.Context) {
				refundWorker.Notify()
				c.JSON(http.StatusAccepted, gin.H{"message": "Refund worker notified"})
			})
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	cronService.Stop()

	stopWorkers()
	workers.Wait()

	if broker != nil {
		if err := broker.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close RabbitMQ connection")
		}
	}

	logger.Info("Server exited successfully")
}

// healthCheckHandler reports service and database health
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}

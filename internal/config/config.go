package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the booking service
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration (tokens are issued by the auth service, only validated here)
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Idempotency coordinator configuration
	Idempotency IdempotencyConfig

	// Seat inventory ledger configuration
	Inventory InventoryConfig

	// Payment collaborator configuration
	Payment PaymentConfig

	// Booking saga configuration
	Booking BookingConfig

	// Refund worker configuration
	Refund RefundConfig

	// Security configuration
	Security SecurityConfig

	// Messaging configuration
	Messaging MessagingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string // development, staging, production
	LogLevel        string // debug, info, warn, error
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	RunMigrations      bool
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// IdempotencyConfig controls the lock window and retention of idempotency records
type IdempotencyConfig struct {
	LockWindow    time.Duration // how long an in-flight request owns its key, must outlast a whole saga
	Retention     time.Duration // how long a record is kept for replay
	SweepSchedule string        // cron expression (with seconds) for expired record cleanup
}

// InventoryConfig selects between the in-process ledger and the remote inventory service
type InventoryConfig struct {
	ServiceURL string // empty means the ledger table in this database is used directly
	APIKey     string // sent in X-API-Key to the remote inventory service
	Timeout    time.Duration
}

// PaymentConfig holds payment collaborator settings
type PaymentConfig struct {
	GatewayMode     string // "simulated" or "remote"
	ServiceURL      string
	APIKey          string
	Timeout         time.Duration
	WebhookSecret   string // HMAC-SHA256 key for inbound payment events (SECRET)
	DefaultCurrency string
}

// BookingConfig holds booking saga settings
type BookingConfig struct {
	MaxSeatsPerBooking   int
	ReferencePrefix      string
	ReferenceMaxAttempts int
	CompletionSchedule   string // cron expression (with seconds) for marking departed bookings completed
	CompletionGrace      time.Duration
}

// RefundConfig holds refund worker settings
type RefundConfig struct {
	WorkerInterval time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBackoff   time.Duration
	// a refund left in processing this long (worker crash, lost webhook) is claimed again
	ProcessingTimeout time.Duration
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	InternalAPIKeyHash string // bcrypt hash of the service-to-service API key
	EnableRequestLog   bool
}

// MessagingConfig holds RabbitMQ settings for booking lifecycle events
type MessagingConfig struct {
	RabbitMQURL string // empty disables the broker and events are only logged
	Exchange    string
	RetryCount  int
	RetryDelay  time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 20),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			RunMigrations:      getEnvAsBool("RUN_MIGRATIONS", true),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "Idempotency-Key"}),
		},
		Idempotency: IdempotencyConfig{
			LockWindow:    getEnvAsDuration("IDEMPOTENCY_LOCK_WINDOW", 2*time.Minute),
			Retention:     getEnvAsDuration("IDEMPOTENCY_RETENTION", 48*time.Hour),
			SweepSchedule: getEnv("IDEMPOTENCY_SWEEP_SCHEDULE", "0 */10 * * * *"),
		},
		Inventory: InventoryConfig{
			ServiceURL: getEnv("INVENTORY_SERVICE_URL", ""),
			APIKey:     getEnv("INVENTORY_API_KEY", ""),
			Timeout:    getEnvAsDuration("INVENTORY_TIMEOUT", 10*time.Second),
		},
		Payment: PaymentConfig{
			GatewayMode:     getEnv("PAYMENT_GATEWAY_MODE", "simulated"),
			ServiceURL:      getEnv("PAYMENT_SERVICE_URL", ""),
			APIKey:          getEnv("PAYMENT_SERVICE_API_KEY", ""),
			Timeout:         getEnvAsDuration("PAYMENT_TIMEOUT", 10*time.Second),
			WebhookSecret:   getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			DefaultCurrency: getEnv("DEFAULT_CURRENCY", "INR"),
		},
		Booking: BookingConfig{
			MaxSeatsPerBooking:   getEnvAsInt("MAX_SEATS_PER_BOOKING", 9),
			ReferencePrefix:      getEnv("BOOKING_REFERENCE_PREFIX", "FL"),
			ReferenceMaxAttempts: getEnvAsInt("BOOKING_REFERENCE_MAX_ATTEMPTS", 10),
			CompletionSchedule:   getEnv("BOOKING_COMPLETION_SCHEDULE", "0 0 * * * *"),
			CompletionGrace:      getEnvAsDuration("BOOKING_COMPLETION_GRACE", 6*time.Hour),
		},
		Refund: RefundConfig{
			WorkerInterval: getEnvAsDuration("REFUND_WORKER_INTERVAL", 30*time.Second),
			BatchSize:      getEnvAsInt("REFUND_BATCH_SIZE", 20),
			MaxAttempts:    getEnvAsInt("REFUND_MAX_ATTEMPTS", 5),
			RetryBackoff:   getEnvAsDuration("REFUND_RETRY_BACKOFF", time.Minute),

			ProcessingTimeout: getEnvAsDuration("REFUND_PROCESSING_TIMEOUT", 10*time.Minute),
		},
		Security: SecurityConfig{
			InternalAPIKeyHash: getEnv("INTERNAL_API_KEY_HASH", ""),
			EnableRequestLog:   getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
		Messaging: MessagingConfig{
			RabbitMQURL: getEnv("RABBITMQ_URL", ""),
			Exchange:    getEnv("RABBITMQ_EXCHANGE", "booking.events"),
			RetryCount:  getEnvAsInt("RABBITMQ_RETRY_COUNT", 5),
			RetryDelay:  getEnvAsDuration("RABBITMQ_RETRY_DELAY", 2*time.Second),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Payment.WebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}

	switch c.Payment.GatewayMode {
	case "simulated":
	case "remote":
		if c.Payment.ServiceURL == "" {
			return fmt.Errorf("PAYMENT_SERVICE_URL is required when PAYMENT_GATEWAY_MODE is remote")
		}
	default:
		return fmt.Errorf("invalid PAYMENT_GATEWAY_MODE: %s (must be 'simulated' or 'remote')", c.Payment.GatewayMode)
	}

	if c.Idempotency.LockWindow <= 0 {
		return fmt.Errorf("IDEMPOTENCY_LOCK_WINDOW must be positive")
	}
	if c.Idempotency.Retention <= c.Idempotency.LockWindow {
		return fmt.Errorf("IDEMPOTENCY_RETENTION must be longer than IDEMPOTENCY_LOCK_WINDOW")
	}

	if c.Inventory.Timeout <= 0 || c.Payment.Timeout <= 0 {
		return fmt.Errorf("INVENTORY_TIMEOUT and PAYMENT_TIMEOUT must be positive")
	}
	// a retry must not take over the key while the first saga can still be running
	if c.Idempotency.LockWindow <= c.MaxSagaDuration() {
		return fmt.Errorf("IDEMPOTENCY_LOCK_WINDOW (%s) must exceed the longest booking saga (%s)",
			c.Idempotency.LockWindow, c.MaxSagaDuration())
	}

	if c.Booking.MaxSeatsPerBooking < 1 {
		return fmt.Errorf("MAX_SEATS_PER_BOOKING must be at least 1")
	}
	if c.Booking.ReferenceMaxAttempts < 1 {
		return fmt.Errorf("BOOKING_REFERENCE_MAX_ATTEMPTS must be at least 1")
	}

	if c.Refund.MaxAttempts < 1 {
		return fmt.Errorf("REFUND_MAX_ATTEMPTS must be at least 1")
	}
	if c.Refund.ProcessingTimeout <= c.Payment.Timeout {
		return fmt.Errorf("REFUND_PROCESSING_TIMEOUT must be longer than PAYMENT_TIMEOUT")
	}

	return nil
}

// CompensationTimeout bounds the undo phase of a failed saga: one seat release and
// one payment store round trip
func (c *Config) CompensationTimeout() time.Duration {
	return c.Inventory.Timeout + c.Payment.Timeout
}

// MaxSagaDuration is the longest a booking saga can hold its idempotency key:
// availability check and reservation, the payment call, then compensation.
// A second payment timeout covers the store writes around the gateway call.
func (c *Config) MaxSagaDuration() time.Duration {
	return 2*c.Inventory.Timeout + 2*c.Payment.Timeout + c.CompensationTimeout()
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("30s", "48h")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

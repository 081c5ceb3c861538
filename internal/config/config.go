// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/rupeeflow/walletengine/internal/money"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Settlement gateway
	GatewayURL    string // vendor rail base URL; empty means mock gateway (dev mode)
	GatewayAPIKey string

	// Stripe (card-funded wallet top-ups)
	StripeAPIKey string
	Currency     string // ISO currency code for card charges

	// Loan product
	LoanMinAmount    string
	LoanMaxAmount    string
	LoanTermDays     int
	LoanBounceCharge string
	LenderName       string

	// Reconciliation
	CallbackWindow    time.Duration // how long a PENDING settlement may wait for a callback
	ReconcileInterval time.Duration

	// Security
	AdminSecret  string // shared secret for operator endpoints
	RateLimitPerMin int // per-client request budget per minute

	// Observability
	OTLPEndpoint string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultCurrency          = "inr"
	DefaultLoanMinAmount     = "100.00"
	DefaultLoanMaxAmount     = "5000.00"
	DefaultLoanTermDays      = 15
	DefaultLoanBounceCharge  = "150.00"
	DefaultLenderName        = "RupeeFlow Capital"
	DefaultCallbackWindow    = 10 * time.Minute
	DefaultReconcileInterval = 1 * time.Minute
	DefaultRateLimitPerMin   = 300
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		GatewayURL:        os.Getenv("GATEWAY_URL"),  // Optional, uses mock gateway if not set
		GatewayAPIKey:     os.Getenv("GATEWAY_API_KEY"),
		StripeAPIKey:      os.Getenv("STRIPE_API_KEY"),
		Currency:          getEnv("CURRENCY", DefaultCurrency),
		LoanMinAmount:     getEnv("LOAN_MIN_AMOUNT", DefaultLoanMinAmount),
		LoanMaxAmount:     getEnv("LOAN_MAX_AMOUNT", DefaultLoanMaxAmount),
		LoanTermDays:      int(getEnvInt64("LOAN_TERM_DAYS", DefaultLoanTermDays)),
		LoanBounceCharge:  getEnv("LOAN_BOUNCE_CHARGE", DefaultLoanBounceCharge),
		LenderName:        getEnv("LENDER_NAME", DefaultLenderName),
		CallbackWindow:    getEnvDuration("CALLBACK_WINDOW", DefaultCallbackWindow),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		RateLimitPerMin:   int(getEnvInt64("RATE_LIMIT_PER_MIN", int64(DefaultRateLimitPerMin))),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent
func (c *Config) Validate() error {
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}

	if !money.IsPositive(c.LoanMinAmount) {
		return fmt.Errorf("LOAN_MIN_AMOUNT must be a positive amount")
	}
	if !money.IsPositive(c.LoanMaxAmount) {
		return fmt.Errorf("LOAN_MAX_AMOUNT must be a positive amount")
	}
	if money.Cmp(c.LoanMinAmount, c.LoanMaxAmount) > 0 {
		return fmt.Errorf("LOAN_MIN_AMOUNT must not exceed LOAN_MAX_AMOUNT")
	}
	if _, ok := money.Parse(c.LoanBounceCharge); !ok {
		return fmt.Errorf("LOAN_BOUNCE_CHARGE must be a valid amount")
	}
	if c.LoanTermDays <= 0 {
		return fmt.Errorf("LOAN_TERM_DAYS must be positive")
	}
	if c.CallbackWindow <= 0 {
		return fmt.Errorf("CALLBACK_WINDOW must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Twilio   TwilioConfig
	Services ServicesConfig
	Billing  BillingConfig
	Session  SessionConfig
	Server   ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
}

// TwilioConfig holds credentials and numbers for the telephony provider
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// ServicesConfig holds external service API keys
type ServicesConfig struct {
	OpenAIAPIKey   string
	GoogleAIAPIKey string
}

// BillingConfig holds call pricing settings
type BillingConfig struct {
	PerMinuteRateUSD   float64
	MinimumBillableUSD float64
}

// SessionConfig holds timing settings for verification and media sessions
type SessionConfig struct {
	VerificationWindow    time.Duration // ring confirmation expected within this window of dial
	VerificationRetention time.Duration // age after which verification sessions are swept
	SweepInterval         time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port       int
	PublicHost string // externally reachable host used in TwiML stream URLs
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}

	cfg := &Config{}

	// Database configuration
	var err error
	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}

	// Twilio configuration
	if cfg.Twilio.AccountSID, err = requireEnv("TWILIO_ACCOUNT_SID"); err != nil {
		return nil, err
	}
	if cfg.Twilio.AuthToken, err = requireEnv("TWILIO_AUTH_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.Twilio.FromNumber, err = requireEnv("TWILIO_FROM_NUMBER"); err != nil {
		return nil, err
	}

	// Services configuration
	if cfg.Services.OpenAIAPIKey, err = requireEnv("OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.Services.GoogleAIAPIKey, err = requireEnv("GOOGLE_AI_API_KEY"); err != nil {
		return nil, err
	}

	// Billing configuration
	perMinute := getEnvWithDefault("CALL_RATE_PER_MINUTE_USD", "0.01")
	cfg.Billing.PerMinuteRateUSD, err = strconv.ParseFloat(perMinute, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CALL_RATE_PER_MINUTE_USD: %w", err)
	}
	minBillable := getEnvWithDefault("CALL_MINIMUM_BILLABLE_USD", "0.005")
	cfg.Billing.MinimumBillableUSD, err = strconv.ParseFloat(minBillable, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CALL_MINIMUM_BILLABLE_USD: %w", err)
	}

	// Session timing configuration
	cfg.Session.VerificationWindow, err = parseDurationEnv("VERIFICATION_WINDOW", "30s")
	if err != nil {
		return nil, err
	}
	cfg.Session.VerificationRetention, err = parseDurationEnv("VERIFICATION_RETENTION", "10m")
	if err != nil {
		return nil, err
	}
	cfg.Session.SweepInterval, err = parseDurationEnv("VERIFICATION_SWEEP_INTERVAL", "1m")
	if err != nil {
		return nil, err
	}

	// Server configuration
	serverPort, err := requireEnv("SERVER_PORT")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port, err = strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SERVER_PORT: %w", err)
	}
	if cfg.Server.PublicHost, err = requireEnv("PUBLIC_HOST"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// parseDurationEnv parses a duration environment variable with a default
func parseDurationEnv(key, defaultValue string) (time.Duration, error) {
	raw := getEnvWithDefault(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return d, nil
}

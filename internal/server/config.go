package server

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the billing control plane.
type Config struct {
	DataDir             string
	BindAddress         string
	Port                int
	AdminKey            string
	FrontendURL         string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string
	ResendAPIKey        string
	EmailFrom           string
	EmailLogOnly        bool
	AuditSigningKey     []byte
	LogLevel            string
	LogFormat           string
	StoreTimeout        time.Duration
	WebhookRateLimit    int // requests per minute per source IP
}

// AccountsDir is where the account database lives.
func (c *Config) AccountsDir() string {
	return filepath.Join(c.DataDir, "accounts")
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// ReadConfig parses configuration from the environment without checking the
// settings only the HTTP server needs. A .env file is loaded if present.
func ReadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("BOOKLINE_PORT", 8080)
	if err != nil {
		return nil, err
	}
	rateLimit, err := envOrDefaultInt("BOOKLINE_WEBHOOK_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}
	storeTimeout, err := envOrDefaultDuration("BOOKLINE_STORE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	logOnly, err := envOrDefaultBool("BOOKLINE_EMAIL_LOG_ONLY", false)
	if err != nil {
		return nil, err
	}

	var signingKey []byte
	if v := strings.TrimSpace(os.Getenv("BOOKLINE_AUDIT_SIGNING_KEY")); v != "" {
		signingKey, err = hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("BOOKLINE_AUDIT_SIGNING_KEY must be hex encoded: %w", err)
		}
	}

	return &Config{
		DataDir:             envOrDefault("BOOKLINE_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("BOOKLINE_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("BOOKLINE_ADMIN_KEY")),
		FrontendURL:         strings.TrimSpace(os.Getenv("BOOKLINE_FRONTEND_URL")),
		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripePriceID:       strings.TrimSpace(os.Getenv("STRIPE_PRICE_ID")),
		ResendAPIKey:        strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		EmailFrom:           envOrDefault("BOOKLINE_EMAIL_FROM", "bookings@bookline.app"),
		EmailLogOnly:        logOnly,
		AuditSigningKey:     signingKey,
		LogLevel:            envOrDefault("BOOKLINE_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("BOOKLINE_LOG_FORMAT", "auto"),
		StoreTimeout:        storeTimeout,
		WebhookRateLimit:    rateLimit,
	}, nil
}

// LoadConfig reads and validates the full server configuration.
func LoadConfig() (*Config, error) {
	cfg, err := ReadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "BOOKLINE_ADMIN_KEY")
	}
	if c.FrontendURL == "" {
		missing = append(missing, "BOOKLINE_FRONTEND_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("BOOKLINE_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.WebhookRateLimit <= 0 {
		return fmt.Errorf("BOOKLINE_WEBHOOK_RATE_LIMIT must be greater than 0, got %d", c.WebhookRateLimit)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("BOOKLINE_STORE_TIMEOUT must be greater than 0, got %s", c.StoreTimeout)
	}

	parsed, err := url.Parse(c.FrontendURL)
	if err != nil {
		return fmt.Errorf("BOOKLINE_FRONTEND_URL must be a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("BOOKLINE_FRONTEND_URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("BOOKLINE_FRONTEND_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

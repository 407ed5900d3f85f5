package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// Payment provider webhook settings.
	WebhookSecret    string
	WebhookTolerance time.Duration

	// Ledger posting attribution recorded with every transaction.
	LedgerActor string

	// Push notification gateway used by the worker.
	PushGatewayURL     string
	PushGatewayToken   string
	PushEnabled        bool
	PushRequestTimeout time.Duration

	// Task queue tuning.
	QueueRedisPrefix string
	QueueMaxAttempts int
	QueueRetryBase   time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		WebhookSecret:      k.String("STRIPE_WEBHOOK_SECRET"),
		WebhookTolerance:   parseDuration(k.String("WEBHOOK_TOLERANCE"), "5m"),
		LedgerActor:        valueOrDefault(k.String("LEDGER_ACTOR"), "payment-webhook"),
		PushGatewayURL:     strings.TrimSpace(k.String("PUSH_GATEWAY_URL")),
		PushGatewayToken:   k.String("PUSH_GATEWAY_TOKEN"),
		PushEnabled:        parseBool(valueOrDefault(k.String("PUSH_ENABLED"), "true")),
		PushRequestTimeout: parseDuration(k.String("PUSH_REQUEST_TIMEOUT"), "5s"),
		QueueRedisPrefix:   valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "vecino"),
		QueueMaxAttempts:   int(k.Int64("QUEUE_MAX_ATTEMPTS")),
		QueueRetryBase:     parseDuration(k.String("QUEUE_RETRY_BASE"), "2s"),
	}
	if cfg.QueueMaxAttempts <= 0 {
		cfg.QueueMaxAttempts = 6
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

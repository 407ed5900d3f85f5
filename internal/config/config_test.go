package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vecino-labs/backend-vecino/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":          "postgres://localhost:5432/vecino",
		"REDIS_URL":             "redis://localhost:6379/0",
		"STRIPE_WEBHOOK_SECRET": "whsec_test",
		"APP_ENV":               "",
		"PORT":                  "",
		"WEBHOOK_TOLERANCE":     "",
		"LEDGER_ACTOR":          "",
		"QUEUE_MAX_ATTEMPTS":    "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 5*time.Minute, cfg.WebhookTolerance)
	require.Equal(t, "payment-webhook", cfg.LedgerActor)
	require.Equal(t, 6, cfg.QueueMaxAttempts)
	require.Equal(t, "vecino", cfg.QueueRedisPrefix)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "9090"
	env["WEBHOOK_TOLERANCE"] = "2m"
	env["LEDGER_ACTOR"] = "conciliacion"
	env["QUEUE_MAX_ATTEMPTS"] = "3"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, 2*time.Minute, cfg.WebhookTolerance)
	require.Equal(t, "conciliacion", cfg.LedgerActor)
	require.Equal(t, 3, cfg.QueueMaxAttempts)
}

func TestLoadRequiresWebhookSecret(t *testing.T) {
	env := baseEnv()
	env["STRIPE_WEBHOOK_SECRET"] = ""

	_, err := config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""

	_, err := config.LoadForTests(env)
	require.Error(t, err)
}

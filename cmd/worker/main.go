package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/vecino-labs/backend-vecino/internal/config"
	"github.com/vecino-labs/backend-vecino/internal/notify"
	"github.com/vecino-labs/backend-vecino/internal/obs"
	"github.com/vecino-labs/backend-vecino/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().
		Str("env", cfg.AppEnv).
		Str("component", "push-worker").
		Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "vecino"), nil)

	if !cfg.PushEnabled {
		logger.Info().Msg("push delivery disabled, nothing to do")
		return
	}
	if cfg.PushGatewayURL == "" {
		logger.Fatal().Msg("PUSH_GATEWAY_URL is required when push delivery is enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	sender := notify.NewSender(cfg.PushGatewayURL, cfg.PushGatewayToken, cfg.PushRequestTimeout, logger)

	worker := queue.Worker{
		R:           redisClient,
		Prefix:      cfg.QueueRedisPrefix,
		Kind:        notify.TaskKind,
		Concurrency: 4,
		Handler:     sender.Deliver,
		RetryBase:   cfg.QueueRetryBase,
		RetryJitter: 0.2,
	}

	logger.Info().Str("kind", notify.TaskKind).Msg("worker starting")
	if err := worker.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker exited unexpectedly")
	}
	logger.Info().Msg("worker stopped")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

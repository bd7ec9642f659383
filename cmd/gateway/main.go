// Command gateway runs the deterministic LLM gateway: an HTTP front end
// for OpenAI and Anthropic chat completions behind rate limiting,
// idempotency caching, request coalescing, a circuit breaker per
// provider, and bounded retry with backoff.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/breaker"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/coalesce"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/config"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/httpapi"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/idempotency"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/metrics"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/orchestrator"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/provider"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/provider/anthropic"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/provider/openai"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/ratelimit"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/retry"
	"github.com/maxpetrusenko/deterministic-llm-service/internal/server"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.LogLevel)
	defer logger.Sync()

	collector := metrics.NewCollector()

	openaiProvider := openai.New(openai.Config{
		APIKey:       cfg.OpenAIAPIKey,
		DefaultModel: "gpt-4o-mini",
	}, logger)
	anthropicProvider := anthropic.New(anthropic.Config{
		APIKey:       cfg.AnthropicAPIKey,
		DefaultModel: "claude-3-5-sonnet-20241022",
	}, logger)

	registry := provider.NewRegistry(cfg.DefaultProvider, openaiProvider, anthropicProvider)

	breakerCfg := breaker.Config{
		ErrorThresholdPercentage: cfg.CircuitErrorThreshold,
		MinSamples:               cfg.CircuitMinSamples,
		Timeout:                  cfg.CircuitTimeout(),
		ResetTimeout:             cfg.CircuitResetTimeout(),
		OnStateChange:            collector.BreakerStateObserver(),
	}
	breakers := make(map[string]*breaker.Breaker, len(registry.Names()))
	for _, name := range registry.Names() {
		breakers[name] = breaker.New(name, breakerCfg, logger)
	}

	retryDriver := retry.New(retry.Policy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryInitialDelay(),
		MaxDelay:     cfg.RetryMaxDelay(),
		Factor:       2,
	}, logger)

	coalescer := coalesce.New(cfg.CoalesceWindow())

	orch := orchestrator.New(registry, breakers, retryDriver, coalescer, logger)

	idempotencyCache := idempotency.New(cfg.IdempotencyTTL(), logger)
	rateLimiter := ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow())

	handler := httpapi.New(orch, idempotencyCache, rateLimiter, collector, logger)

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = fmt.Sprintf(":%d", cfg.Port)

	mgr := server.NewManager(handler.Routes(), srvCfg, logger, idempotencyCache, rateLimiter)
	if err := mgr.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	logger.Info("gateway started", zap.String("addr", mgr.Addr()), zap.String("defaultProvider", cfg.DefaultProvider))

	mgr.WaitForShutdown()
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddCaller())
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

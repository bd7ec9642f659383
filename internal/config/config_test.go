package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "DEFAULT_PROVIDER", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW_MS",
		"RETRY_MAX_ATTEMPTS", "RETRY_INITIAL_DELAY_MS", "RETRY_MAX_DELAY_MS",
		"CIRCUIT_TIMEOUT_MS", "CIRCUIT_ERROR_THRESHOLD", "CIRCUIT_RESET_TIMEOUT_MS", "CIRCUIT_MIN_SAMPLES",
		"COALESCE_WINDOW_MS", "IDEMPOTENCY_TTL_MS", "LOG_LEVEL",
	}
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, 60000, cfg.RateLimitWindowMS)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 100, cfg.RetryInitialDelayMS)
	assert.Equal(t, 5000, cfg.RetryMaxDelayMS)
	assert.Equal(t, 30000, cfg.CircuitTimeoutMS)
	assert.Equal(t, float64(50), cfg.CircuitErrorThreshold)
	assert.Equal(t, 60000, cfg.CircuitResetTimeoutMS)
	assert.Equal(t, 3600000, cfg.IdempotencyTTLMS)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("DEFAULT_PROVIDER", "anthropic")
	t.Setenv("RATE_LIMIT_MAX", "25")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "anthropic", cfg.DefaultProvider)
	assert.Equal(t, 25, cfg.RateLimitMax)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFromEnv_InvalidIntRejected(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("PORT", "not-a-number")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.Port = 70000
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.DefaultProvider = "mistral"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	require.Error(t, cfg.Validate())
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	require.NoError(t, Default().Validate())
}

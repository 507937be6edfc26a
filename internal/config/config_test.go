package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 10*time.Second, cfg.Buffer.MinBufferTime.Duration())
	assert.Equal(t, 30*time.Second, cfg.Buffer.Behind.Duration())
	assert.Equal(t, 30*time.Second, cfg.Buffer.Ahead.Duration())

	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay.Duration())
	assert.InDelta(t, 2.0, cfg.Retry.BackoffFactor, 0.0001)

	assert.InDelta(t, 0.8, cfg.ABR.InitialTargetFactor, 0.0001)
	assert.InDelta(t, 1.15, cfg.ABR.UpswitchFactor, 0.0001)
	assert.Equal(t, 5*time.Second, cfg.ABR.UpswitchSustainFor.Duration())
	assert.InDelta(t, 0.8, cfg.ABR.DownswitchFactor, 0.0001)

	assert.Equal(t, 30, cfg.Bandwidth.WindowSize)
	assert.Equal(t, time.Second, cfg.Bandwidth.SamplePeriod.Duration())

	assert.Equal(t, 3*time.Second, cfg.LiveUpdate.MinInterval.Duration())

	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.Timeout.Duration())
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "dashcore.yaml")

	configContent := `
logging:
  level: "debug"
  format: "text"

buffer:
  min_buffer_time: 4s
  behind: 20s
  ahead: 45s

abr:
  upswitch_factor: 1.2
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 4*time.Second, cfg.Buffer.MinBufferTime.Duration())
	assert.Equal(t, 20*time.Second, cfg.Buffer.Behind.Duration())
	assert.Equal(t, 45*time.Second, cfg.Buffer.Ahead.Duration())
	assert.InDelta(t, 1.2, cfg.ABR.UpswitchFactor, 0.0001)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DASHCORE_LOGGING_LEVEL", "warn")
	t.Setenv("DASHCORE_RETRY_ATTEMPTS", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Retry.Attempts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "dashcore.yaml")

	configContent := `
logging:
  level: "debug"
retry:
  attempts: 2
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("DASHCORE_LOGGING_LEVEL", "error")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Retry.Attempts)
}

func validConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Buffer: BufferConfig{
			MinBufferTime: Duration(10 * time.Second),
			Behind:        Duration(30 * time.Second),
			Ahead:         Duration(30 * time.Second),
		},
		Retry: RetryConfig{
			Attempts:      3,
			BaseDelay:     Duration(500 * time.Millisecond),
			BackoffFactor: 2,
		},
		ABR: ABRConfig{
			InitialTargetFactor: 0.8,
			UpswitchFactor:      1.15,
			UpswitchSustainFor:  Duration(5 * time.Second),
			DownswitchFactor:    0.8,
		},
		Bandwidth: BandwidthConfig{
			WindowSize:   30,
			SamplePeriod: Duration(time.Second),
		},
		LiveUpdate: LiveUpdateConfig{MinInterval: Duration(3 * time.Second)},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			Timeout:          Duration(30 * time.Second),
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "invalid"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_NegativeMinBufferTime(t *testing.T) {
	cfg := validConfig()
	cfg.Buffer.MinBufferTime = Duration(-time.Second)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_buffer_time")
}

func TestValidate_ZeroBehindAhead(t *testing.T) {
	cfg := validConfig()
	cfg.Buffer.Behind = 0
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Buffer.Ahead = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_InvalidABRThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.ABR.UpswitchFactor = 1.0
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.ABR.DownswitchFactor = 1.0
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.ABR.DownswitchFactor = 0
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.ABR.InitialTargetFactor = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_InvalidBandwidthWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Bandwidth.WindowSize = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_InvalidLiveUpdateInterval(t *testing.T) {
	cfg := validConfig()
	cfg.LiveUpdate.MinInterval = 0
	require.Error(t, cfg.Validate())
}

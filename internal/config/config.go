// Package config provides configuration management for the streaming core
// using Viper. It supports configuration from files, environment
// variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultMinBufferTime       = 10 * time.Second
	defaultBufferBehind        = 30 * time.Second
	defaultBufferAhead         = 30 * time.Second
	defaultRetryAttempts       = 3
	defaultRetryBaseDelay      = 500 * time.Millisecond
	defaultRetryBackoffFactor  = 2.0
	defaultUpdateTimerFloor    = 3 * time.Second
	defaultUpswitchFactor      = 1.15
	defaultUpswitchSustainFor  = 5 * time.Second
	defaultDownswitchFactor    = 0.8
	defaultInitialTargetFactor = 0.8
	defaultBandwidthWindow     = 30
	defaultBandwidthSamplePer  = time.Second
	defaultCircuitThreshold    = 5
	defaultCircuitTimeout      = 30 * time.Second
	defaultCircuitHalfOpenMax  = 1
)

// Config holds all configuration for the streaming core.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Buffer      BufferConfig      `mapstructure:"buffer"`
	Retry       RetryConfig       `mapstructure:"retry"`
	ABR         ABRConfig         `mapstructure:"abr"`
	Bandwidth   BandwidthConfig   `mapstructure:"bandwidth"`
	LiveUpdate  LiveUpdateConfig  `mapstructure:"live_update"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BufferConfig holds per-Stream backpressure window configuration (spec.md §4.5).
type BufferConfig struct {
	// MinBufferTime is the manifest-declared minimum buffer ahead of the
	// playhead before playback is considered safe to start (spec.md §3, §4.7).
	MinBufferTime Duration `mapstructure:"min_buffer_time"`
	// Behind is how much appended media a Stream retains behind the playhead
	// before evicting it.
	Behind Duration `mapstructure:"behind"`
	// Ahead is how far past the playhead a Stream is allowed to fetch.
	Ahead Duration `mapstructure:"ahead"`
}

// RetryConfig holds the exponential-backoff-with-jitter policy for transient
// segment fetch failures (spec.md §4.5 "Failure").
type RetryConfig struct {
	Attempts      int      `mapstructure:"attempts"`
	BaseDelay     Duration `mapstructure:"base_delay"`
	BackoffFactor float64  `mapstructure:"backoff_factor"`
}

// ABRConfig holds the ABR Manager's switching thresholds (spec.md §4.4).
type ABRConfig struct {
	// InitialTargetFactor: initial pick is the highest bitrate whose bandwidth
	// is <= estimate * InitialTargetFactor, else the lowest representation.
	InitialTargetFactor float64 `mapstructure:"initial_target_factor"`
	// UpswitchFactor: upswitch to a target only once estimate >= target * UpswitchFactor.
	UpswitchFactor float64 `mapstructure:"upswitch_factor"`
	// UpswitchSustainFor: the estimate must clear UpswitchFactor continuously
	// for this long before an upswitch fires.
	UpswitchSustainFor Duration `mapstructure:"upswitch_sustain_for"`
	// DownswitchFactor: downswitch immediately once estimate < current * DownswitchFactor.
	DownswitchFactor float64 `mapstructure:"downswitch_factor"`
}

// BandwidthConfig holds the throughput estimator's sampling window (spec.md C1).
type BandwidthConfig struct {
	WindowSize   int      `mapstructure:"window_size"`
	SamplePeriod Duration `mapstructure:"sample_period"`
}

// LiveUpdateConfig holds the dynamic-manifest refresh loop's floor (spec.md §4.7
// "Live update loop").
type LiveUpdateConfig struct {
	// MinInterval is the floor applied to max(update_period - elapsed, MinInterval).
	MinInterval Duration `mapstructure:"min_interval"`
}

// CircuitBreakerConfig holds the per-representation fetch circuit breaker
// thresholds (SPEC_FULL.md "Circuit breaker around segment fetch").
type CircuitBreakerConfig struct {
	FailureThreshold int      `mapstructure:"failure_threshold"`
	Timeout          Duration `mapstructure:"timeout"`
	HalfOpenMax      int      `mapstructure:"half_open_max"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with DASHCORE_ and use underscores for
// nesting. Example: DASHCORE_BUFFER_MIN_BUFFER_TIME=10s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("dashcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dashcore")
		v.AddConfigPath("$HOME/.dashcore")
	}

	v.SetEnvPrefix("DASHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Buffer defaults
	v.SetDefault("buffer.min_buffer_time", defaultMinBufferTime.String())
	v.SetDefault("buffer.behind", defaultBufferBehind.String())
	v.SetDefault("buffer.ahead", defaultBufferAhead.String())

	// Retry defaults
	v.SetDefault("retry.attempts", defaultRetryAttempts)
	v.SetDefault("retry.base_delay", defaultRetryBaseDelay.String())
	v.SetDefault("retry.backoff_factor", defaultRetryBackoffFactor)

	// ABR defaults
	v.SetDefault("abr.initial_target_factor", defaultInitialTargetFactor)
	v.SetDefault("abr.upswitch_factor", defaultUpswitchFactor)
	v.SetDefault("abr.upswitch_sustain_for", defaultUpswitchSustainFor.String())
	v.SetDefault("abr.downswitch_factor", defaultDownswitchFactor)

	// Bandwidth defaults
	v.SetDefault("bandwidth.window_size", defaultBandwidthWindow)
	v.SetDefault("bandwidth.sample_period", defaultBandwidthSamplePer.String())

	// Live update defaults
	v.SetDefault("live_update.min_interval", defaultUpdateTimerFloor.String())

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.failure_threshold", defaultCircuitThreshold)
	v.SetDefault("circuit_breaker.timeout", defaultCircuitTimeout.String())
	v.SetDefault("circuit_breaker.half_open_max", defaultCircuitHalfOpenMax)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Buffer.MinBufferTime.Duration() < 0 {
		return fmt.Errorf("buffer.min_buffer_time must be >= 0")
	}
	if c.Buffer.Behind.Duration() <= 0 {
		return fmt.Errorf("buffer.behind must be > 0")
	}
	if c.Buffer.Ahead.Duration() <= 0 {
		return fmt.Errorf("buffer.ahead must be > 0")
	}

	if c.Retry.Attempts < 0 {
		return fmt.Errorf("retry.attempts must be >= 0")
	}
	if c.Retry.BackoffFactor <= 1 {
		return fmt.Errorf("retry.backoff_factor must be > 1")
	}

	if c.ABR.UpswitchFactor <= 1 {
		return fmt.Errorf("abr.upswitch_factor must be > 1")
	}
	if c.ABR.DownswitchFactor <= 0 || c.ABR.DownswitchFactor >= 1 {
		return fmt.Errorf("abr.downswitch_factor must be in (0, 1)")
	}
	if c.ABR.InitialTargetFactor <= 0 {
		return fmt.Errorf("abr.initial_target_factor must be > 0")
	}

	if c.Bandwidth.WindowSize <= 0 {
		return fmt.Errorf("bandwidth.window_size must be > 0")
	}

	if c.LiveUpdate.MinInterval.Duration() <= 0 {
		return fmt.Errorf("live_update.min_interval must be > 0")
	}

	return nil
}

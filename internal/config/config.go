// Package config loads process configuration from an optional YAML file
// and ORBITSTREAM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/orbitstream/internal/budget"
)

// ErrConfiguration marks a configuration the process cannot start with.
var ErrConfiguration = errors.New("configuration error")

const envPrefix = "ORBITSTREAM_"

// Merge modes.
const (
	MergeUpsert  = "upsert"
	MergeReplace = "replace"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	AuthOn    bool   `yaml:"auth_enabled"`
	AuthToken string `yaml:"auth_token"`

	// TrustProxy takes the client address from X-Forwarded-For in request logs.
	TrustProxy bool `yaml:"trust_proxy"`

	SpaceTrackURL      string `yaml:"spacetrack_url"`
	SpaceTrackUsername string `yaml:"spacetrack_username"`
	SpaceTrackPassword string `yaml:"spacetrack_password"`

	PollIntervalMinutes  float64 `yaml:"poll_interval_minutes"`
	ConsecutiveFetches   int     `yaml:"consecutive_fetches"`
	MaxRequestsPerMinute int     `yaml:"max_requests_per_minute"`
	ColdLookbackHours    float64 `yaml:"cold_lookback_hours"`
	WarmLookbackHours    float64 `yaml:"warm_lookback_hours"`
	FetchTimeoutSeconds  int     `yaml:"fetch_timeout_seconds"`
	MergeMode            string  `yaml:"merge_mode"`

	MaxBatchSize          int  `yaml:"max_batch_size"`
	FlushIntervalSeconds  int  `yaml:"flush_interval_seconds"`
	OrderedDelivery       bool `yaml:"ordered_delivery"`
	PublishConcurrency    int  `yaml:"publish_concurrency"`
	PublishRetries        int  `yaml:"publish_retries"`
	PublishTimeoutSeconds int  `yaml:"publish_timeout_seconds"`
	RecomputeOnFlush      bool `yaml:"recompute_on_flush"`
	DirtyOnly             bool `yaml:"dirty_only"`

	PropWorkers int `yaml:"prop_workers"`

	TLECacheDir      string `yaml:"tle_cache_dir"`
	TLECacheMaxFiles int    `yaml:"tle_cache_max_files"`

	KafkaBrokers           string `yaml:"kafka_brokers"`
	KafkaTopic             string `yaml:"kafka_topic"`
	KafkaClientID          string `yaml:"kafka_client_id"`
	SchemaRegistryURL      string `yaml:"schema_registry_url"`
	SchemaRegistryUsername string `yaml:"schema_registry_username"`
	SchemaRegistryPassword string `yaml:"schema_registry_password"`
	SchemaPath             string `yaml:"schema_path"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:              ":8080",
		LogLevel:              "info",
		PollIntervalMinutes:   5,
		ConsecutiveFetches:    1,
		MaxRequestsPerMinute:  budget.DefaultMaxRequestsPerMinute,
		ColdLookbackHours:     24,
		WarmLookbackHours:     1,
		FetchTimeoutSeconds:   90,
		MergeMode:             MergeUpsert,
		MaxBatchSize:          1000,
		FlushIntervalSeconds:  12,
		PublishConcurrency:    4,
		PublishRetries:        3,
		PublishTimeoutSeconds: 30,
		RecomputeOnFlush:      true,
		PropWorkers:           runtime.NumCPU(),
		TLECacheDir:           "/tmp/orbitstream/tle",
		TLECacheMaxFiles:      5,
		KafkaClientID:         "orbitstream",
		SchemaPath:            "schemas/tle.avsc",
	}
}

// Load applies the YAML file named by ORBITSTREAM_CONFIG (if any) over the
// defaults, then environment variables, then validates the result.
// Invalid individual values fall back to the previous value with a warning,
// except the request-rate settings, which fail the load.
func Load(logger *slog.Logger) (Config, error) {
	cfg := Default()

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
		logger.Info("loaded config file", "path", path)
	}

	if err := cfg.applyEnv(logger); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	logger.Info("pipeline config",
		"poll_interval_minutes", cfg.PollIntervalMinutes,
		"consecutive_fetches", cfg.ConsecutiveFetches,
		"cold_lookback_hours", cfg.ColdLookbackHours,
		"warm_lookback_hours", cfg.WarmLookbackHours,
		"merge_mode", cfg.MergeMode,
		"max_batch_size", cfg.MaxBatchSize,
		"flush_interval_seconds", cfg.FlushIntervalSeconds,
		"ordered_delivery", cfg.OrderedDelivery,
		"publish_concurrency", cfg.PublishConcurrency,
		"prop_workers", cfg.PropWorkers,
		"kafka_topic", cfg.KafkaTopic,
		"auth_enabled", cfg.AuthOn,
	)
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading config file: %w", ErrConfiguration, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parsing config file %s: %w", ErrConfiguration, path, err)
	}
	return nil
}

func (c *Config) applyEnv(logger *slog.Logger) error {
	envString("HTTP_ADDR", &c.HTTPAddr)
	envString("LOG_LEVEL", &c.LogLevel)
	envBool(logger, "AUTH_ENABLED", &c.AuthOn)
	envString("AUTH_TOKEN", &c.AuthToken)
	envBool(logger, "TRUST_PROXY", &c.TrustProxy)

	envString("SPACETRACK_URL", &c.SpaceTrackURL)
	envString("SPACETRACK_USERNAME", &c.SpaceTrackUsername)
	envString("SPACETRACK_PASSWORD", &c.SpaceTrackPassword)

	// Cadence values that do not parse fail the load instead of falling back.
	// Range checks happen in Validate.
	if err := errors.Join(
		cadenceFloat("POLL_INTERVAL_MINUTES", &c.PollIntervalMinutes),
		cadenceInt("CONSECUTIVE_FETCHES", &c.ConsecutiveFetches),
		cadenceInt("MAX_REQUESTS_PER_MINUTE", &c.MaxRequestsPerMinute),
	); err != nil {
		return err
	}
	envFloat(logger, "COLD_LOOKBACK_HOURS", &c.ColdLookbackHours, true)
	envFloat(logger, "WARM_LOOKBACK_HOURS", &c.WarmLookbackHours, true)
	envInt(logger, "FETCH_TIMEOUT_SECONDS", &c.FetchTimeoutSeconds, 1)
	envString("MERGE_MODE", &c.MergeMode)

	envInt(logger, "MAX_BATCH_SIZE", &c.MaxBatchSize, 1)
	envInt(logger, "FLUSH_INTERVAL_SECONDS", &c.FlushIntervalSeconds, 1)
	envBool(logger, "ORDERED_DELIVERY", &c.OrderedDelivery)
	envInt(logger, "PUBLISH_CONCURRENCY", &c.PublishConcurrency, 1)
	envInt(logger, "PUBLISH_RETRIES", &c.PublishRetries, 0)
	envInt(logger, "PUBLISH_TIMEOUT_SECONDS", &c.PublishTimeoutSeconds, 1)
	envBool(logger, "RECOMPUTE_ON_FLUSH", &c.RecomputeOnFlush)
	envBool(logger, "DIRTY_ONLY", &c.DirtyOnly)

	envInt(logger, "PROP_WORKERS", &c.PropWorkers, 1)

	envString("TLE_CACHE_DIR", &c.TLECacheDir)
	envInt(logger, "TLE_CACHE_MAX_FILES", &c.TLECacheMaxFiles, 1)

	envString("KAFKA_BROKERS", &c.KafkaBrokers)
	envString("KAFKA_TOPIC", &c.KafkaTopic)
	envString("KAFKA_CLIENT_ID", &c.KafkaClientID)
	envString("SCHEMA_REGISTRY_URL", &c.SchemaRegistryURL)
	envString("SCHEMA_REGISTRY_USERNAME", &c.SchemaRegistryUsername)
	envString("SCHEMA_REGISTRY_PASSWORD", &c.SchemaRegistryPassword)
	envString("SCHEMA_PATH", &c.SchemaPath)
	return nil
}

// Validate reports settings the pipeline cannot run with. Every error
// wraps ErrConfiguration.
func (c Config) Validate() error {
	if c.MaxRequestsPerMinute < 1 {
		return fmt.Errorf("%w: max requests per minute must be at least 1", ErrConfiguration)
	}
	if err := budget.Validate(c.PollIntervalMinutes, c.ConsecutiveFetches, c.MaxRequestsPerMinute); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	var missing []string
	for _, req := range []struct{ name, value string }{
		{"KAFKA_BROKERS", c.KafkaBrokers},
		{"KAFKA_TOPIC", c.KafkaTopic},
		{"SCHEMA_REGISTRY_URL", c.SchemaRegistryURL},
		{"SCHEMA_PATH", c.SchemaPath},
		{"SPACETRACK_USERNAME", c.SpaceTrackUsername},
		{"SPACETRACK_PASSWORD", c.SpaceTrackPassword},
	} {
		if strings.TrimSpace(req.value) == "" {
			missing = append(missing, envPrefix+req.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	if c.MergeMode != MergeUpsert && c.MergeMode != MergeReplace {
		return fmt.Errorf("%w: merge mode %q (want %s or %s)", ErrConfiguration, c.MergeMode, MergeUpsert, MergeReplace)
	}
	if c.ColdLookbackHours <= 0 || c.WarmLookbackHours <= 0 {
		return fmt.Errorf("%w: lookback windows must be positive", ErrConfiguration)
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("%w: max batch size must be at least 1", ErrConfiguration)
	}
	if c.FlushIntervalSeconds < 1 {
		return fmt.Errorf("%w: flush interval must be at least 1 second", ErrConfiguration)
	}
	if c.AuthOn && c.AuthToken == "" {
		return fmt.Errorf("%w: %sAUTH_TOKEN is required when auth is enabled", ErrConfiguration, envPrefix)
	}
	return nil
}

// PollInterval is the delay between the end of one fetch and the next.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes * float64(time.Minute))
}

// ColdLookback is the epoch window of the first fetch after start.
func (c Config) ColdLookback() time.Duration {
	return time.Duration(c.ColdLookbackHours * float64(time.Hour))
}

// WarmLookback is the epoch window of every later fetch.
func (c Config) WarmLookback() time.Duration {
	return time.Duration(c.WarmLookbackHours * float64(time.Hour))
}

// FlushInterval is the publish cadence.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

// FetchTimeout bounds one catalog query.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// PublishTimeout bounds one flush.
func (c Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutSeconds) * time.Second
}

// SlogLevel maps LogLevel onto a slog level; unknown names mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(logger *slog.Logger, name string, dst *int, min int) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		logger.Warn("invalid "+envPrefix+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envFloat(logger *slog.Logger, name string, dst *float64, positive bool) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || (positive && f <= 0) {
		logger.Warn("invalid "+envPrefix+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = f
}

func cadenceInt(name string, dst *int) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q is not an integer", ErrConfiguration, envPrefix, name, v)
	}
	*dst = n
	return nil
}

func cadenceFloat(name string, dst *float64) error {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q is not a number", ErrConfiguration, envPrefix, name, v)
	}
	*dst = f
	return nil
}

func envBool(logger *slog.Logger, name string, dst *bool) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+envPrefix+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = b
}

// Package config loads and validates the process configuration tree via
// github.com/spf13/viper, grounded on the teacher's
// internal/config/config.go LoadConfig (viper.SetConfigFile +
// AutomaticEnv + SetEnvKeyReplacer + per-section Validate) reworked onto
// the SPEC_FULL.md §6 configuration surface.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
)

// Config is the full process configuration tree (spec.md §6).
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Sources        []SourceConfig       `mapstructure:"sources"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Log            LogConfig            `mapstructure:"log"`
	Feedback       FeedbackConfig       `mapstructure:"feedback"`
}

// FeedbackConfig points record_resolution_feedback at its backing
// store. Defaults to an embedded sqlite file so the feedback loop works
// out of the box with no external database.
type FeedbackConfig struct {
	Dialect string `mapstructure:"dialect"` // postgres or sqlite
	DSN     string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	LogLevel              string        `mapstructure:"log_level"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	HealthCheckInterval   time.Duration `mapstructure:"health_check_interval"`
}

type CacheStrategy string

const (
	CacheStrategyMemoryOnly      CacheStrategy = "memory_only"
	CacheStrategyDistributedOnly CacheStrategy = "distributed_only"
	CacheStrategyHybrid          CacheStrategy = "hybrid"
)

type CacheConfig struct {
	Enabled      bool                      `mapstructure:"enabled"`
	Strategy     CacheStrategy             `mapstructure:"strategy"`
	Memory       MemoryCacheConfig         `mapstructure:"memory"`
	Distributed  DistributedCacheConfig    `mapstructure:"distributed"`
	ContentTypes map[string]ContentTypeTTL `mapstructure:"content_types"`
}

type MemoryCacheConfig struct {
	MaxKeys     int           `mapstructure:"max_keys"`
	TTL         time.Duration `mapstructure:"ttl"`
	CheckPeriod time.Duration `mapstructure:"check_period"`
}

type DistributedCacheConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	URL                    string        `mapstructure:"url"`
	TTL                    time.Duration `mapstructure:"ttl"`
	KeyPrefix              string        `mapstructure:"key_prefix"`
	ConnectionTimeout      time.Duration `mapstructure:"connection_timeout"`
	RetryAttempts          int           `mapstructure:"retry_attempts"`
	RetryDelay             time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay          time.Duration `mapstructure:"max_retry_delay"`
	BackoffMultiplier      float64       `mapstructure:"backoff_multiplier"`
	ConnectionRetryLimit   int           `mapstructure:"connection_retry_limit"`
}

type ContentTypeTTL struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Warmup bool          `mapstructure:"warmup"`
	// Seed lists literal queries (e.g. critical runbook identifiers) the
	// cache warmer runs through the pipeline, at startup and on each warm
	// cycle, whenever their cache entry is missing, per spec.md §4.2's "seed list supplied by the tool
	// layer". Only consulted when Warmup is true.
	Seed []string `mapstructure:"seed"`
}

// SourceConfig is the declarative source description (spec.md §3).
type SourceConfig struct {
	Name             string            `mapstructure:"name"`
	Kind             string            `mapstructure:"kind"` // file, git_host, wiki, database, web
	Priority         int               `mapstructure:"priority"`
	Enabled          bool              `mapstructure:"enabled"`
	RefreshInterval  time.Duration     `mapstructure:"refresh_interval"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	MaxRetries       int               `mapstructure:"max_retries"`
	CredentialRef    string            `mapstructure:"credential_ref"`
	Settings         map[string]any    `mapstructure:"settings"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	MonitoringWindow time.Duration `mapstructure:"monitoring_window"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configPath (if non-empty) layered under defaults and
// environment overrides, then validates the result. A process-wide
// LOG_LEVEL environment variable overrides the config-level log level,
// per spec.md §6.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("PP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, perrors.Wrap(perrors.CodeConfig, "failed to read config file", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, perrors.Wrap(perrors.CodeConfig, "failed to unmarshal config", err)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
		cfg.Log.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.max_concurrent_requests", 100)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.health_check_interval", 30*time.Second)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.strategy", string(CacheStrategyHybrid))
	v.SetDefault("cache.memory.max_keys", 10000)
	v.SetDefault("cache.memory.ttl", time.Hour)
	v.SetDefault("cache.memory.check_period", time.Minute)
	v.SetDefault("cache.distributed.enabled", false)
	v.SetDefault("cache.distributed.ttl", 30*time.Minute)
	v.SetDefault("cache.distributed.key_prefix", "pp:")
	v.SetDefault("cache.distributed.connection_timeout", 5*time.Second)
	v.SetDefault("cache.distributed.retry_attempts", 3)
	v.SetDefault("cache.distributed.retry_delay", 100*time.Millisecond)
	v.SetDefault("cache.distributed.max_retry_delay", 5*time.Second)
	v.SetDefault("cache.distributed.backoff_multiplier", 2.0)
	v.SetDefault("cache.distributed.connection_retry_limit", 5)

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.recovery_timeout", 60*time.Second)
	v.SetDefault("circuit_breaker.monitoring_window", 300*time.Second)
	v.SetDefault("circuit_breaker.success_threshold", 3)
	v.SetDefault("circuit_breaker.operation_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("feedback.dialect", "sqlite")
	v.SetDefault("feedback.dsn", "file:personalpipeline_feedback.db?_pragma=busy_timeout(5000)")
}

// Validate checks every section's invariants, returning the first
// violation found.
func (c *Config) Validate() error {
	if err := c.Server.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if err := validateSources(c.Sources); err != nil {
		return err
	}
	if err := c.Feedback.validate(); err != nil {
		return err
	}
	return nil
}

func (s ServerConfig) validate() error {
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return perrors.Config(fmt.Sprintf("server.log_level %q is not one of debug/info/warn/error", s.LogLevel))
	}
	if s.Port <= 0 || s.Port > 65535 {
		return perrors.Config(fmt.Sprintf("server.port %d is out of range", s.Port))
	}
	return nil
}

func (c CacheConfig) validate() error {
	switch c.Strategy {
	case CacheStrategyMemoryOnly, CacheStrategyDistributedOnly, CacheStrategyHybrid:
	default:
		return perrors.Config(fmt.Sprintf("cache.strategy %q is not recognized", c.Strategy))
	}
	if (c.Strategy == CacheStrategyDistributedOnly || c.Strategy == CacheStrategyHybrid) && c.Distributed.Enabled && c.Distributed.URL == "" {
		return perrors.Config("cache.distributed.url is required when distributed caching is enabled")
	}
	return nil
}

func (f FeedbackConfig) validate() error {
	switch f.Dialect {
	case "postgres", "sqlite":
	default:
		return perrors.Config(fmt.Sprintf("feedback.dialect %q is not one of postgres/sqlite", f.Dialect))
	}
	return nil
}

func validateSources(sources []SourceConfig) error {
	seen := map[string]bool{}
	for _, s := range sources {
		if s.Name == "" {
			return perrors.Config("source name must not be empty")
		}
		if seen[s.Name] {
			return perrors.Config(fmt.Sprintf("duplicate source name %q", s.Name))
		}
		seen[s.Name] = true
		switch s.Kind {
		case "file", "git_host", "wiki", "database", "web":
		default:
			return perrors.Config(fmt.Sprintf("source %q has unrecognized kind %q", s.Name, s.Kind))
		}
	}
	return nil
}

// ResolveCredential resolves a source's credential_ref; refs of the
// form "env:VAR_NAME" resolve to the named environment variable, per
// spec.md §6's TOKEN_ENV convention.
func ResolveCredential(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	const envPrefix = "env:"
	if strings.HasPrefix(ref, envPrefix) {
		v, ok := os.LookupEnv(strings.TrimPrefix(ref, envPrefix))
		return v, ok
	}
	return ref, true
}

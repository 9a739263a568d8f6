// Package cache implements Personal Pipeline's two-tier cache (C2): an
// in-process L1 (bounded LRU) backed by a distributed L2 (Redis), with
// content-type-aware TTLs and single-flight coalescing of concurrent
// misses for the same key. Adapted from the teacher's
// pkg/history/cache package, generalized from a single alert-history
// response type to the generic []byte payloads the retrieval pipeline
// caches (documents, runbooks, search results).
package cache

import (
	"time"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
)

// Strategy selects which tiers participate in a cache lookup/store.
type Strategy string

const (
	StrategyHybrid         Strategy = "hybrid"
	StrategyL1Only         Strategy = "l1_only"
	StrategyDistributedOnly Strategy = "distributed_only"
	StrategyDisabled       Strategy = "disabled"
)

// ContentType labels the kind of payload being cached, so each gets its
// own TTL per spec.md's content-type TTL policy (runbooks change rarely
// and cache long; search results churn and cache briefly).
type ContentType string

const (
	ContentRunbook      ContentType = "runbook"
	ContentDocument     ContentType = "document"
	ContentSearchResult ContentType = "search_result"
	ContentHealthCheck  ContentType = "health_check"
)

// Config configures the cache manager.
type Config struct {
	Strategy Strategy `mapstructure:"strategy"`

	L1Enabled    bool          `mapstructure:"l1_enabled"`
	L1MaxEntries int           `mapstructure:"l1_max_entries"`
	L1DefaultTTL time.Duration `mapstructure:"l1_default_ttl"`

	L2Enabled      bool   `mapstructure:"l2_enabled"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisPasswordEnv string `mapstructure:"redis_password_env"`
	RedisDB        int    `mapstructure:"redis_db"`
	RedisPoolSize  int    `mapstructure:"redis_pool_size"`
	RedisMinIdle   int    `mapstructure:"redis_min_idle"`
	L2DefaultTTL   time.Duration `mapstructure:"l2_default_ttl"`
	L2Compression  bool          `mapstructure:"l2_compression"`

	// TTLByContentType overrides the default TTL for specific content
	// types; zero value for a type falls back to L1/L2DefaultTTL.
	TTLByContentType map[ContentType]time.Duration `mapstructure:"ttl_by_content_type"`

	WarmOnStart    bool          `mapstructure:"warm_on_start"`
	WarmInterval   time.Duration `mapstructure:"warm_interval"`
}

// DefaultConfig mirrors the spec's recommended content-type TTLs:
// runbooks are stable (1h), documents moderate (30m), search results and
// health checks short-lived (5m and 30s).
func DefaultConfig() *Config {
	return &Config{
		Strategy:      StrategyHybrid,
		L1Enabled:     true,
		L1MaxEntries:  1000,
		L1DefaultTTL:  5 * time.Minute,
		L2Enabled:     true,
		RedisAddr:     "localhost:6379",
		RedisDB:       0,
		RedisPoolSize: 10,
		RedisMinIdle:  2,
		L2DefaultTTL:  30 * time.Minute,
		L2Compression: true,
		TTLByContentType: map[ContentType]time.Duration{
			ContentRunbook:      time.Hour,
			ContentDocument:     30 * time.Minute,
			ContentSearchResult: 5 * time.Minute,
			ContentHealthCheck:  30 * time.Second,
		},
		WarmOnStart:  false,
		WarmInterval: 15 * time.Minute,
	}
}

func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyHybrid, StrategyL1Only, StrategyDistributedOnly, StrategyDisabled:
	default:
		return perrors.Config("cache strategy must be one of hybrid, l1_only, distributed_only, disabled")
	}
	if c.L1Enabled && c.L1MaxEntries <= 0 {
		return perrors.Config("l1_max_entries must be positive when L1 is enabled")
	}
	if c.L2Enabled && c.RedisAddr == "" {
		return perrors.Config("redis_addr is required when L2 is enabled")
	}
	return nil
}

// ttlFor resolves the effective L1/L2 TTL for a content type.
func (c *Config) ttlFor(ct ContentType, tierDefault time.Duration) time.Duration {
	if ttl, ok := c.TTLByContentType[ct]; ok && ttl > 0 {
		return ttl
	}
	return tierDefault
}

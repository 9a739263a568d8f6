package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
)

// l2Tier is the distributed cache tier backed by Redis, adapted from the
// teacher's pkg/history/cache/l2_cache.go: same gzip-over-the-wire
// compression choice, same connection-test-on-construct behavior.
type l2Tier struct {
	client      redis.UniversalClient
	compression bool
	logger      *slog.Logger
}

func newL2Tier(cfg *Config, logger *slog.Logger) (*l2Tier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdle,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, perrors.Wrap(perrors.CodeUnavailable, "failed to connect to redis", err)
	}

	logger.Info("L2 cache (redis) connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "compression", cfg.L2Compression)

	return &l2Tier{client: client, compression: cfg.L2Compression, logger: logger}, nil
}

// newL2TierFromClient wires a pre-built client (used by tests against
// miniredis, and by deployments sharing a redis.UniversalClient across
// components).
func newL2TierFromClient(client redis.UniversalClient, compression bool, logger *slog.Logger) *l2Tier {
	return &l2Tier{client: client, compression: compression, logger: logger}
}

func (t *l2Tier) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := t.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeUnavailable, "redis get failed", err)
	}
	if t.compression {
		data, err = decompress(data)
		if err != nil {
			return nil, perrors.Wrap(perrors.CodeInternal, "cache payload decompression failed", err)
		}
	}
	return data, nil
}

func (t *l2Tier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	payload := value
	if t.compression {
		var err error
		payload, err = compress(value)
		if err != nil {
			return perrors.Wrap(perrors.CodeInternal, "cache payload compression failed", err)
		}
	}
	if err := t.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return perrors.Wrap(perrors.CodeUnavailable, "redis set failed", err)
	}
	return nil
}

func (t *l2Tier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return perrors.Wrap(perrors.CodeUnavailable, "redis delete failed", err)
	}
	return nil
}

func (t *l2Tier) DeletePattern(ctx context.Context, pattern string) error {
	iter := t.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := t.client.Del(ctx, iter.Val()).Err(); err != nil {
			return perrors.Wrap(perrors.CodeUnavailable, "redis pattern delete failed", err)
		}
	}
	return iter.Err()
}

func (t *l2Tier) Close() error {
	if closer, ok := t.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Package cache stores non-streaming completion results in redis so a
// repeated prompt does not respawn the inference process. The cache is
// optional: a nil *Cache is a no-op.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"bitnetgo/internal/config"
	"bitnetgo/internal/llama"
)

// ErrMiss mirrors redis.Nil for callers.
var ErrMiss = redis.Nil

// DefaultTTL bounds how long a cached completion stays valid.
const DefaultTTL = 10 * time.Minute

// Cache wraps a go-redis client keyed by completion parameters.
type Cache struct {
	inner *redis.Client
	ttl   time.Duration
}

// New creates the redis-backed cache from app config. It pings the
// server so a misconfigured address fails at startup, not mid-request.
func New(cfg *config.Config) (*Cache, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	host := cfg.Redis.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Redis.Port
	if port == 0 {
		port = 6379
	}
	ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Cache{inner: client, ttl: ttl}, nil
}

// Key derives a stable cache key from everything that influences the
// completion output.
func Key(p llama.Params) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%g|%d|%g|%d|%d|%d",
		p.Prompt, p.Temperature, p.TopK, p.TopP, p.NPredict, p.Threads, p.CtxSize)))
	return "completion:" + hex.EncodeToString(sum[:])
}

// GetResult fetches a cached result; ErrMiss when absent.
func (c *Cache) GetResult(ctx context.Context, key string) (*llama.Result, error) {
	if c == nil || c.inner == nil {
		return nil, ErrMiss
	}
	raw, err := c.inner.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var res llama.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetResult stores a result under key with the configured TTL.
func (c *Cache) SetResult(ctx context.Context, key string, res *llama.Result) error {
	if c == nil || c.inner == nil || res == nil {
		return nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.inner.Set(ctx, key, raw, c.ttl).Err()
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

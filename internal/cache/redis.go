package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/storage"
)

const keyPrefix = "routerisk:reasoning:"

// RedisStore keeps reasoning results in Redis. Keys carry a native TTL and
// the stored expires_at is checked on read as well, so an entry is never
// served past its expiry even if Redis has not evicted it yet.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) LookupReasoning(ctx context.Context, key string, now time.Time) (contracts.ReasoningResult, bool, error) {
	entry, ok, err := s.get(ctx, key)
	if err != nil || !ok || !entry.Live(now) {
		return contracts.ReasoningResult{}, false, err
	}
	return entry.Response, true, nil
}

// StoreReasoning writes with SET NX. If a live entry already holds the key it
// is returned instead; an expired leftover is overwritten.
func (s *RedisStore) StoreReasoning(ctx context.Context, entry contracts.ReasoningCacheEntry) (contracts.ReasoningResult, error) {
	ttl := entry.ExpiresAt.Sub(entry.CreatedAt)
	if ttl <= 0 {
		return contracts.ReasoningResult{}, fmt.Errorf("reasoning cache entry %s has no ttl", entry.CacheKey)
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return contracts.ReasoningResult{}, fmt.Errorf("marshal cache entry: %w", err)
	}

	set, err := s.client.SetNX(ctx, keyPrefix+entry.CacheKey, body, ttl).Result()
	if err != nil {
		return contracts.ReasoningResult{}, &storage.StorageError{Op: "redis setnx reasoning", Err: err}
	}
	if set {
		return entry.Response, nil
	}

	existing, ok, err := s.get(ctx, entry.CacheKey)
	if err != nil {
		return contracts.ReasoningResult{}, err
	}
	if ok && existing.Live(entry.CreatedAt) {
		return existing.Response, nil
	}

	if err := s.client.Set(ctx, keyPrefix+entry.CacheKey, body, ttl).Err(); err != nil {
		return contracts.ReasoningResult{}, &storage.StorageError{Op: "redis set reasoning", Err: err}
	}
	return entry.Response, nil
}

func (s *RedisStore) get(ctx context.Context, key string) (contracts.ReasoningCacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return contracts.ReasoningCacheEntry{}, false, nil
	}
	if err != nil {
		return contracts.ReasoningCacheEntry{}, false, &storage.StorageError{Op: "redis get reasoning", Err: err}
	}

	var entry contracts.ReasoningCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return contracts.ReasoningCacheEntry{}, false, &storage.StorageError{Op: "decode redis reasoning", Err: err}
	}
	return entry, true, nil
}

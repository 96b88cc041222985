package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

// Cache хранит разрешённые курсы между обращениями к хранилищу.
// Промах возвращается как (nil, nil).
type Cache interface {
	Get(ctx context.Context, pair model.Pair) (*Resolved, error)
	Set(ctx context.Context, pair model.Pair, rate Resolved) error
	Delete(ctx context.Context, pairs ...model.Pair) error
}

type cacheEntry struct {
	value     Resolved
	expiresAt time.Time
}

// MemoryCache хранит курсы в памяти процесса с общим TTL.
type MemoryCache struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[model.Pair]cacheEntry
}

// NewMemoryCache создаёт кэш в памяти. При ttl <= 0 записи не устаревают.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, items: make(map[model.Pair]cacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, pair model.Pair) (*Resolved, error) {
	c.mu.RLock()
	entry, ok := c.items[pair]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.items, pair)
		c.mu.Unlock()
		return nil, nil
	}
	v := entry.value
	return &v, nil
}

func (c *MemoryCache) Set(_ context.Context, pair model.Pair, rate Resolved) error {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.items[pair] = cacheEntry{value: rate, expiresAt: expiresAt}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, pairs ...model.Pair) error {
	c.mu.Lock()
	for _, p := range pairs {
		delete(c.items, p)
	}
	c.mu.Unlock()
	return nil
}

// RedisCache хранит курсы в Redis, общий для всех экземпляров сервиса.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache создаёт кэш поверх готового клиента Redis.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *RedisCache) key(pair model.Pair) string {
	return r.prefix + "rate:" + pair.String()
}

func (r *RedisCache) Get(ctx context.Context, pair model.Pair) (*Resolved, error) {
	val, err := r.client.Get(ctx, r.key(pair)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rate Resolved
	if err := json.Unmarshal([]byte(val), &rate); err != nil {
		r.logger.Warn("drop malformed cached rate", zap.String("pair", pair.String()), zap.Error(err))
		_ = r.client.Del(ctx, r.key(pair)).Err()
		return nil, nil
	}
	rate.Pair = pair
	return &rate, nil
}

func (r *RedisCache) Set(ctx context.Context, pair model.Pair, rate Resolved) error {
	data, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("marshal rate: %w", err)
	}
	if err := r.client.Set(ctx, r.key(pair), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, pairs ...model.Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, r.key(p))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

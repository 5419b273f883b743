package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/branch-transactions/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix        = "branch"
	ratesKey         = "rates"
	preferredPrefix  = "preferred-account"
	preferenceExpiry = 90 * 24 * time.Hour
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache stores JSON values in Redis when available and in process memory otherwise.
// A failing Redis is logged and bypassed; reads fall through to the local map.
type Cache struct {
	redis redis.Cmdable
	clock clockwork.Clock

	mu    sync.Mutex
	local map[string]entry
}

func New(client redis.Cmdable, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{redis: client, clock: clock, local: map[string]entry{}}
}

func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok := c.get(ctx, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v. A zero ttl keeps the value until deleted.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}

	c.mu.Lock()
	e := entry{value: raw}
	if ttl > 0 {
		e.expiresAt = c.clock.Now().Add(ttl)
	}
	c.local[key] = e
	c.mu.Unlock()

	if c.redis != nil {
		if err := c.redis.Set(ctx, redisKey(key), raw, ttl).Err(); err != nil {
			zap.L().Warn("redis cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()

	if c.redis != nil {
		if err := c.redis.Del(ctx, redisKey(key)).Err(); err != nil {
			zap.L().Warn("redis cache delete failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	if c.redis != nil {
		val, err := c.redis.Get(ctx, redisKey(key)).Bytes()
		if err == nil {
			return val, true
		}
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis cache get failed", zap.String("key", key), zap.Error(err))
		} else {
			return nil, false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.local[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		delete(c.local, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) GetRates(ctx context.Context) ([]models.ExchangeRate, bool) {
	var rates []models.ExchangeRate
	ok, err := c.GetJSON(ctx, ratesKey, &rates)
	if err != nil {
		zap.L().Warn("cached exchange rates unreadable", zap.Error(err))
		return nil, false
	}
	return rates, ok
}

func (c *Cache) SetRates(ctx context.Context, rates []models.ExchangeRate, ttl time.Duration) {
	if err := c.SetJSON(ctx, ratesKey, rates, ttl); err != nil {
		zap.L().Warn("cache exchange rates", zap.Error(err))
	}
}

func (c *Cache) GetPreferredAccount(ctx context.Context, phone string) (string, bool, error) {
	var account string
	ok, err := c.GetJSON(ctx, preferredKey(phone), &account)
	return account, ok, err
}

func (c *Cache) SetPreferredAccount(ctx context.Context, phone, accountNumber string) error {
	return c.SetJSON(ctx, preferredKey(phone), accountNumber, preferenceExpiry)
}

func (c *Cache) DeletePreferredAccount(ctx context.Context, phone string) error {
	return c.Delete(ctx, preferredKey(phone))
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

func preferredKey(phone string) string {
	return preferredPrefix + ":" + phone
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, key)
}

package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// tokens are treated as expired this long before their real expiry
	tokenExpirySkew  = 30 * time.Second
	redisTokenPrefix = "oauth_token:"
)

// TokenCache stores bearer tokens keyed by the identity of the strategy that obtained them
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, token string, ttl time.Duration)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// MemoryTokenCache is an in-process TokenCache
type MemoryTokenCache struct {
	mutex  sync.RWMutex
	tokens map[string]cachedToken
	now    func() time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{
		tokens: make(map[string]cachedToken),
		now:    time.Now,
	}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (string, bool) {
	c.mutex.RLock()
	entry, ok := c.tokens[key]
	c.mutex.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (c *MemoryTokenCache) Put(_ context.Context, key, token string, ttl time.Duration) {
	ttl -= tokenExpirySkew
	if token == "" || ttl <= 0 {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.tokens[key] = cachedToken{value: token, expiresAt: c.now().Add(ttl)}
}

// RedisTokenCache shares tokens between processes through redis
type RedisTokenCache struct {
	client *redis.Client
	log    *logrus.Logger
}

func NewRedisTokenCache(client *redis.Client, log *logrus.Logger) *RedisTokenCache {
	return &RedisTokenCache{client: client, log: log}
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	token, err := c.client.Get(ctx, redisTokenPrefix+key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.WithError(err).WithField("key", key).Debug("Failed to read cached token")
	}
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}

func (c *RedisTokenCache) Put(ctx context.Context, key, token string, ttl time.Duration) {
	ttl -= tokenExpirySkew
	if token == "" || ttl <= 0 {
		return
	}
	// a failed write only costs a re-authentication later
	if err := c.client.Set(ctx, redisTokenPrefix+key, token, ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Debug("Failed to cache token")
	}
}

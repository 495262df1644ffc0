package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumenflow/orchestrator/common/config"
	"github.com/lumenflow/orchestrator/common/logger"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = fmt.Errorf("key not found")

// Client wraps redis.Client with common operations and instrumentation
type Client struct {
	redis  *redis.Client
	logger *logger.Logger
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("redis connected", "addr", cfg.Redis.Addr)

	return &Client{redis: rdb, logger: log}, nil
}

// NewFromClient wraps an existing redis.Client (used by tests with miniredis
// style fakes or a shared connection)
func NewFromClient(rdb *redis.Client, log *logger.Logger) *Client {
	return &Client{redis: rdb, logger: log}
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// SetWithExpiry sets a key with expiration
func (c *Client) SetWithExpiry(ctx context.Context, key, value string, expiry time.Duration) error {
	err := c.redis.Set(ctx, key, value, expiry).Err()
	if err != nil {
		c.logger.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	c.logger.Debug("redis SET", "key", key, "expiry", expiry)
	return nil
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("redis GET key not found", "key", key)
		return "", ErrNotFound
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	c.logger.Debug("redis GET", "key", key)
	return val, nil
}

// GetDel atomically reads and deletes a key. Single-use records (OAuth2
// state tokens) rely on this for consume-once semantics.
func (c *Client) GetDel(ctx context.Context, key string) (string, error) {
	val, err := c.redis.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		c.logger.Error("redis GETDEL failed", "key", key, "error", err)
		return "", fmt.Errorf("failed to consume key %s: %w", key, err)
	}
	return val, nil
}

// Delete removes a key
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.logger.Error("redis DEL failed", "key", key, "error", err)
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Publish publishes a message on a pub/sub channel
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	if err := c.redis.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Error("redis PUBLISH failed", "channel", channel, "error", err)
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to a pub/sub channel and returns the subscription
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	c.logger.Debug("redis SUBSCRIBE", "channel", channel)
	return c.redis.Subscribe(ctx, channel)
}

// HSet sets fields on a hash
func (c *Client) HSet(ctx context.Context, key string, values map[string]any) error {
	if err := c.redis.HSet(ctx, key, values).Err(); err != nil {
		c.logger.Error("redis HSET failed", "key", key, "error", err)
		return fmt.Errorf("failed to hset %s: %w", key, err)
	}
	return nil
}

// HGetAll reads all fields of a hash
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := c.redis.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis HGETALL failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to hgetall %s: %w", key, err)
	}
	return vals, nil
}

// RPush appends values to a list
func (c *Client) RPush(ctx context.Context, key string, values ...any) error {
	if err := c.redis.RPush(ctx, key, values...).Err(); err != nil {
		c.logger.Error("redis RPUSH failed", "key", key, "error", err)
		return fmt.Errorf("failed to rpush %s: %w", key, err)
	}
	return nil
}

// LRange reads a slice of a list
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := c.redis.LRange(ctx, key, start, stop).Result()
	if err != nil {
		c.logger.Error("redis LRANGE failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to lrange %s: %w", key, err)
	}
	return vals, nil
}

// Expire sets a TTL on an existing key
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.redis.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to expire %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.redis.Close()
}

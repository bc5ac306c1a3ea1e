package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/config"
)

// Client wraps the Redis client with quote-cache operations. Only the
// price path uses it: cash-only operations (deposits, withdrawals,
// transfers) never need a quote and never touch Redis.
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis client
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func priceKey(symbol string) string {
	return fmt.Sprintf("asset:%s:price", symbol)
}

// SetPrice caches an asset price with TTL. Stored as the decimal's
// string form so no float precision is lost round-tripping.
func (c *Client) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ttl time.Duration) error {
	return c.rdb.Set(ctx, priceKey(symbol), price.String(), ttl).Err()
}

// GetPrice retrieves a cached asset price. The wrapped redis.Nil error
// comes through when the symbol is not cached.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s, err := c.rdb.Get(ctx, priceKey(symbol)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse cached price for %s: %w", symbol, err)
	}
	return price, nil
}

// Delete removes cached keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimIdempotencyKey reserves a request key before the order exists, so
// concurrent requests carrying the same key cannot both create. The claim
// holds a zero placeholder until SetIdempotencyKey records the real order.
// Returns false when another request already holds the key.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), 0, ttl).Result()
}

// SetIdempotencyKey records the order created under a claimed request key
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), orderID, ttl).Err()
}

// ReleaseIdempotencyKey drops a claim whose order creation failed, so the
// client may retry with the same key
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}

// GetIdempotentOrder returns the order id previously stored for a request
// key, or 0 when the key is unknown or still a claim placeholder.
func (c *Client) GetIdempotentOrder(ctx context.Context, key string) (int64, error) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CallbackSeen reports whether a gateway transaction id has already been
// settled. A cache miss here is harmless: the compare-and-set order
// transition is what actually enforces idempotence, this only short-circuits
// gateway retries cheaply.
func (c *Client) CallbackSeen(ctx context.Context, txnID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("callback:%s", txnID)).Result()
	return n > 0, err
}

// MarkCallbackSeen records a gateway transaction id as settled. Written only
// after settlement succeeds, so a failed settlement never blocks the
// gateway's retry of the same transaction.
func (c *Client) MarkCallbackSeen(ctx context.Context, txnID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("callback:%s", txnID), "1", ttl).Result()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

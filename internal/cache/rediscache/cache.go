package rediscache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/statefold/internal/cache"
)

// Cache is a Redis-backed implementation of cache.Cache.
type Cache struct {
	client    *redis.Client
	keyPrefix string
}

// New connects to Redis and verifies the connection with a PING.
func New(cfg Config, opts ...ConfigOption) (*Cache, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Join(cache.ErrConnectionFailed, err)
	}

	return &Cache{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewFromClient creates a cache from an existing Redis client.
func NewFromClient(client *redis.Client, keyPrefix string) *Cache {
	return &Cache{client: client, keyPrefix: keyPrefix}
}

func (c *Cache) prefixKey(key string) string {
	return c.keyPrefix + "cache:" + key
}

func (c *Cache) channel(key string) string {
	return c.keyPrefix + "watch:" + key
}

// Get retrieves a value from the cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	result, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, wrapError(err)
	}
	return result, true, nil
}

// Set stores value and publishes it to observers in one transaction.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return cache.ErrInvalidKey
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.prefixKey(key), value, 0)
		pipe.Publish(ctx, c.channel(key), value)
		return nil
	})
	return wrapError(err)
}

// Observe subscribes to updates of key. The subscription is confirmed before
// the current value is read, so no write is lost in between.
func (c *Cache) Observe(ctx context.Context, key string) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, cache.ErrInvalidKey
	}

	pubsub := c.client.Subscribe(ctx, c.channel(key))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, wrapError(err)
	}

	current, found, err := c.Get(ctx, key)
	if err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan []byte, 1)
	if found {
		out <- current
	}

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				cache.Deliver(out, []byte(msg.Payload))
			}
		}
	}()

	return out, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client returns the underlying Redis client.
func (c *Cache) Client() *redis.Client {
	return c.client
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errors.Join(cache.ErrConnectionFailed, err)
	}
	return err
}

var _ cache.Cache = (*Cache)(nil)

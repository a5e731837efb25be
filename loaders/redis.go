package loaders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ggoodman/litemcp/mcpservice"
	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned when a Redis-backed resource has no value.
var ErrKeyNotFound = errors.New("key not found")

// RedisKey loads a resource from a string key on each read. Values that are
// valid UTF-8 are returned as text, others as blobs.
func RedisKey(client redis.Cmdable, key string) mcpservice.ResourceLoader {
	return mcpservice.ResourceLoaderFunc(func(ctx context.Context) (mcpservice.ResourcePayload, error) {
		b, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return mcpservice.ResourcePayload{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		if err != nil {
			return mcpservice.ResourcePayload{}, fmt.Errorf("redis get %s: %w", key, err)
		}
		return payloadFor(b), nil
	})
}

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return cl, nil
}

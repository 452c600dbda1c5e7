// Package redisx wires up the Redis client shared by C4 and C5's
// cache-aside reads, adapted from the teacher's stock/cache.go connection
// setup (ping-on-connect so a bad address fails at boot, not on first use).
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect dials addr and returns nil with no error if addr is empty: Redis
// is an optional cache-aside layer here, not a hard dependency, so every
// caller that takes a *redis.Client must already fall back to a direct
// recompute when it is nil.
func Connect(addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("redisx: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisx: ping: %w", err)
	}
	return client, nil
}

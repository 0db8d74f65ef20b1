package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

var errNoClient = errors.New("platform/cache: no client")

// Health adapts a Redis client to the health check interface.
type Health struct {
	Client *redis.Client
}

// Ping reports whether Redis answers.
func (h Health) Ping(ctx context.Context) error {
	if h.Client == nil {
		return errNoClient
	}
	return h.Client.Ping(ctx).Err()
}

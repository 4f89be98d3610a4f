package taskqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hitscribe/internal/config"
)

// NewRedisClient builds a go-redis client from configuration.
func NewRedisClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// OptionsFromConfig maps queue settings onto broker options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		KeyPrefix:         cfg.Queue.KeyPrefix,
		VisibilityTimeout: cfg.VisibilityTimeout(),
		MaxDeliveries:     cfg.Queue.MaxDeliveries,
		Block:             time.Duration(cfg.Queue.BlockSeconds) * time.Second,
	}
}

// New returns the configured broker. client may be nil for the memory backend.
func New(ctx context.Context, cfg *config.Config, client *redis.Client) (Broker, error) {
	opts := OptionsFromConfig(cfg)
	switch cfg.Queue.Backend {
	case config.QueueMemory:
		return NewMemoryBroker(opts), nil
	case config.QueueRedis, "":
		if client == nil {
			return nil, fmt.Errorf("redis queue backend requires a redis client")
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisBroker(client, opts), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Queue.Backend)
	}
}

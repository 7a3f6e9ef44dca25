package database

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/davidmoltin/leadflow/pkg/config"
	"github.com/davidmoltin/leadflow/pkg/logger"
)

// RedisClient holds the connection behind the job queue
type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient connects to Redis, retrying while it starts up. The pool
// is sized for the job workers, each holding a blocking pop.
func NewRedisClient(cfg *config.Config, log *logger.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Queue.Workers + 4,
	})

	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	attempts, err := pingWithRetry("redis", ping, log)
	if err != nil {
		client.Close()
		return nil, err
	}

	log.Info("Redis connection established",
		logger.String("addr", cfg.RedisAddr()),
		logger.Int("db", cfg.Redis.DB),
		logger.String("key_prefix", cfg.Redis.KeyPrefix),
		logger.Int("attempts", attempts),
	)

	return &RedisClient{Client: client}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// HealthCheck pings Redis
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

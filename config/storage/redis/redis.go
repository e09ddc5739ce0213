// Package redis provides Redis cache server implimentation logic.
package redis

import (
	"context"
	"time"

	config "github.com/crabzie/workflow-scheduler/config/utils"

	"github.com/gofiber/storage/redis/v3"
	redigo "github.com/redis/go-redis/v9"
)

// Redis holds the run snapshot storage
type Redis struct {
	Client *redis.Storage
}

// clientOptions sizes the client for run snapshots: one write per finished run and
// reads only when a status lookup misses executor memory.
func clientOptions(cfg *config.Redis) *redigo.UniversalOptions {
	addr := cfg.Addr
	if addr == "" {
		addr = cfg.Host + ":" + cfg.Port
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	return &redigo.UniversalOptions{
		Addrs:           []string{addr},
		Password:        cfg.Password,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: time.Second,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		PoolSize:        poolSize,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// New connects to Redis and wraps the client as gofiber storage
func New(ctx context.Context, cfg *config.Redis) (*Redis, error) {
	client := redigo.NewUniversalClient(clientOptions(cfg))
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, err
	}
	return &Redis{redis.NewFromConnection(client)}, nil
}

// Close closes the underlying connection pool
func (r *Redis) Close() error {
	return r.Client.Close()
}

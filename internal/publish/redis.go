package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink publishes on a Redis channel named after the topic and keeps the
// latest payload of each topic under "<topic>:latest", so a dashboard can
// read the current state without subscribing.
type RedisSink struct {
	client    redisClient
	latestTTL time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// LatestTTL expires the :latest keys; zero keeps them forever.
	LatestTTL time.Duration
}

func DialRedis(ctx context.Context, opts RedisOptions) (*RedisSink, error) {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:6379"
	}
	c := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisSink{client: c, latestTTL: opts.LatestTTL}, nil
}

func (s *RedisSink) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := s.client.Set(ctx, topic+":latest", payload, s.latestTTL).Err(); err != nil {
		return err
	}
	return s.client.Publish(ctx, topic, payload).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

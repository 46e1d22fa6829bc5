package message_broaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RezaEskandarii/autopilot/types/config"
	"github.com/redis/go-redis/v9"
)

const (
	redisPollTimeout  = time.Second
	redisRetryBackoff = 500 * time.Millisecond
)

// redisList is the subset of *redis.Client the broker uses.
type redisList interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

// Redis mirrors events onto Redis lists: Publish appends, Consume pops from the head.
type Redis struct {
	client redisList
}

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Publish(queue string, message []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.RPush(ctx, queue, message).Err()
}

func (r *Redis) Consume(ctx context.Context, queue string) (<-chan []byte, error) {
	out := make(chan []byte, 1000)

	go func() {
		defer close(out)

		for ctx.Err() == nil {
			// BLPop returns [key, value].
			res, err := r.client.BLPop(ctx, redisPollTimeout, queue).Result()
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				select {
				case <-time.After(redisRetryBackoff):
				case <-ctx.Done():
					return
				}
				continue
			case len(res) < 2:
				continue
			}

			select {
			case out <- []byte(res[1]):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

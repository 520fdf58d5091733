package store

import (
	"context"

	"codeberg.org/mutker/peripheralpm/internal/config"
	"codeberg.org/mutker/peripheralpm/internal/errors"
	"github.com/go-redis/redis/v8"
)

// hashSetter is the part of a redis pipeline the store writes through.
type hashSetter interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Redis writes one hash per device attribute, keyed
// <prefix>|<device>|<attribute>, in a single pipeline per publish.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the configured server and verifies it answers.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.New().Wrap(ErrStoreInit, err)
	}

	return &Redis{client: client, prefix: cfg.KeyPrefix}, nil
}

func (*Redis) Name() string {
	return string(config.BackendRedis)
}

func (r *Redis) Publish(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		writeHashes(ctx, pipe, r.prefix, records)
		return nil
	})
	if err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return errors.New().Wrap(ErrStoreClose, err)
	}
	return nil
}

func writeHashes(ctx context.Context, h hashSetter, prefix string, records []Record) {
	for _, rec := range records {
		fields := rec.Fields()
		values := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			values[k] = v
		}
		h.HSet(ctx, rec.Key(prefix), values)
	}
}

package synth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/sensei/internal/store/redisstore"
)

// RedisCache adapts redisstore to Cache.
type RedisCache struct {
	Store *redisstore.Store
	TTL   time.Duration
}

func (c RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	q, err := c.Store.GetSynthQuery(ctx, key)
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return q, true, nil
}

func (c RedisCache) Set(ctx context.Context, key, query string) error {
	return c.Store.SetSynthQuery(ctx, key, query, c.TTL)
}

package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const synthPrefix = "sensei:synth:"

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// GetSynthQuery returns redis.Nil on a miss.
func (s *Store) GetSynthQuery(ctx context.Context, key string) (string, error) {
	return s.rdb.Get(ctx, synthPrefix+key).Result()
}

func (s *Store) SetSynthQuery(ctx context.Context, key, query string, ttl time.Duration) error {
	return s.rdb.Set(ctx, synthPrefix+key, query, ttl).Err()
}

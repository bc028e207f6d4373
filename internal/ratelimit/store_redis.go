package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisUpdateRetries = 8

// RedisStore keeps entries as JSON strings with a TTL and updates them with
// optimistic WATCH/MULTI transactions.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisStore(client *redis.Client, log *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		log:    log.Named("ratelimit.redis"),
	}
}

func (s *RedisStore) Load(ctx context.Context, key string) (Entry, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, nil
		}
		return Entry{}, err
	}
	return s.decode(key, raw), nil
}

func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(*Entry)) (Entry, error) {
	var out Entry
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		entry := s.decode(key, raw)
		fn(&entry)

		if entry.IsZero() {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			out = entry
			return err
		}

		payload, err := encodeEntry(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		out = entry
		return err
	}

	for attempt := 0; attempt < redisUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Entry{}, err
	}
	return Entry{}, ErrStoreContention
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) decode(key string, raw []byte) Entry {
	entry, ok := decodeEntry(raw)
	if !ok {
		s.log.Warn("discarding corrupt rate limit entry", zap.String("key", key))
	}
	return entry
}

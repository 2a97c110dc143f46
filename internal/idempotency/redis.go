package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore claims keys with SET NX so concurrent duplicates across
// instances see one winner.
type RedisStore struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "idem:"}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string) (*Record, bool, error) {
	claim := Record{State: StateInFlight, Fingerprint: fingerprint, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(claim)
	if err != nil {
		return nil, false, err
	}

	// The claim may expire between SETNX and GET; one more round settles it.
	for range 2 {
		ok, err := s.rdb.SetNX(ctx, s.key(key), data, InFlightTTL).Result()
		if err != nil {
			return nil, false, fmt.Errorf("claim idempotency key: %w", err)
		}
		if ok {
			return &claim, true, nil
		}

		raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("read idempotency key: %w", err)
		}

		var existing Record
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, false, fmt.Errorf("decode idempotency record: %w", err)
		}
		return &existing, false, nil
	}
	return nil, false, fmt.Errorf("claim idempotency key: key churned")
}

func (s *RedisStore) Complete(ctx context.Context, key string, rec Record) error {
	rec.State = StateCompleted
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetXX(ctx, s.key(key), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	if !ok {
		return ErrNotClaimed
	}
	return nil
}

func (s *RedisStore) Abandon(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

package token

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mirror-media/jwtgraph/cache"
	"github.com/pkg/errors"
)

// RedisStore keeps the token in redis so every process talking to the same domain
// can inspect it.
type RedisStore struct {
	rdb cache.Rediser
	key string
	ttl time.Duration
}

// NewRedisStore stores the token of domain under "jwtgraph.token.<domain>". A zero ttl
// keeps the key until it is overwritten.
func NewRedisStore(rdb cache.Rediser, domain string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		key: fmt.Sprintf("%s.%s.%s", "jwtgraph", "token", domain),
		ttl: ttl,
	}
}

func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Get(ctx context.Context) (string, bool, error) {
	token, err := s.rdb.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.Wrapf(err, "cannot read token from redis(%s)", s.key)
	}
	return token, true, nil
}

func (s *RedisStore) Set(ctx context.Context, token string) error {
	err := s.rdb.Set(ctx, s.key, token, s.ttl).Err()
	return errors.Wrapf(err, "cannot write token to redis(%s)", s.key)
}

// Package cache builds the redis client shared token stores are kept in.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mirror-media/jwtgraph/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Rediser is the subset of the go-redis API the token store relies on. *redis.Client,
// *redis.ClusterClient and the failover client all satisfy it.
type Rediser interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// NewRedis creates the client matching s.Type. No connection is made until the first command.
func NewRedis(s config.RedisService) (Rediser, error) {
	if len(s.Addresses) == 0 {
		return nil, errors.New("there's no redis address provided")
	}
	addrs := make([]string, 0, len(s.Addresses))
	for _, a := range s.Addresses {
		addrs = append(addrs, fmt.Sprintf("%s:%d", a.Addr, a.Port))
	}

	switch s.Type {
	case "cluster":
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: s.Password,
		}), nil
	case "single", "":
		if len(addrs) > 1 {
			logrus.Warnf("single type Redis accepts only the first address, but %d addresses are provided", len(addrs))
		}
		return redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Password: s.Password,
		}), nil
	case "sentinel":
		if s.MasterName == "" {
			return nil, errors.New("sentinel type Redis requires a master name")
		}
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    s.MasterName,
			SentinelAddrs: addrs,
			Password:      s.Password,
		}), nil
	default:
		return nil, errors.Errorf("unsupported redis type(%s)", s.Type)
	}
}

// TTL converts the configured cache TTL in seconds. Zero keeps keys forever.
func TTL(s config.RedisService) time.Duration {
	if s.Cache.TTL <= 0 {
		return 0
	}
	return time.Duration(s.Cache.TTL) * time.Second
}

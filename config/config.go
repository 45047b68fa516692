package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type RedisAddress struct {
	Addr string
	Port int
}

type RedisCache struct {
	TTL int
}

// RedisService represents a object of a redis service. If the type is sentinel, MasterName is required.
type RedisService struct {
	Addresses  []RedisAddress // 1. ip:port, 2. dns:port
	Cache      RedisCache
	MasterName string
	Password   string
	Type       string // 1. single, 2. sentinel, 3. cluster
}

type Conf struct {
	Domain             string
	AccessToken        string
	Scheme             string // https unless overridden
	InsecureSkipVerify bool
	Timeout            int // seconds
	TokenStore         string
	RedisService       RedisService
	TokenSecret        string
	ValidateQuery      bool
	ReplaceNullString  bool
	LogLevel           string
}

// DefaultConf returns the values used when the config file leaves a key out.
func DefaultConf() Conf {
	return Conf{
		Scheme:     "https",
		Timeout:    30,
		TokenStore: StoreMemory,
		LogLevel:   "info",
	}
}

func (c *Conf) Validate() error {
	if c.Domain == "" {
		return errors.New("domain is required")
	}
	if c.AccessToken == "" {
		return errors.New("access token is required")
	}
	switch c.Scheme {
	case "", "http", "https":
	default:
		return fmt.Errorf("unsupported scheme(%s)", c.Scheme)
	}
	switch c.TokenStore {
	case "", StoreMemory:
	case StoreRedis:
		if len(c.RedisService.Addresses) == 0 {
			return errors.New("there's no redis address provided")
		}
	default:
		return fmt.Errorf("unsupported token store(%s)", c.TokenStore)
	}
	return nil
}

func (c *Conf) Valid() bool {
	return c.Validate() == nil
}

// TimeoutDuration is Timeout in seconds, 30 seconds when unset.
func (c *Conf) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

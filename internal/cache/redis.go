package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v7"

	"signoff/internal/common"
)

const (
	DefaultNetworkTimeout     = 5 * time.Second
	DefaultNetworkIdleTimeout = 30 * time.Second
)

// Redis is the cache backend used in multi-replica deployments so
// that event dedupe is shared across router instances
type Redis struct {
	Client      *redis.Client
	ServiceLogs chan<- common.ServiceLog
}

type NewRedisOpts struct {
	Addr     string
	Username string
	Password string

	CheckRwEnabled bool
	ServiceLogs    chan<- common.ServiceLog
}

func NewRedis(opts NewRedisOpts) (*Redis, error) {
	serviceLogs := opts.ServiceLogs
	if serviceLogs == nil {
		serviceLogs = common.GetNoopServiceLog()
	}
	instance := &Redis{
		ServiceLogs: serviceLogs,
	}

	instance.Client = redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           0,
		DialTimeout:  DefaultNetworkTimeout,
		ReadTimeout:  DefaultNetworkTimeout,
		WriteTimeout: DefaultNetworkTimeout,
		IdleTimeout:  DefaultNetworkIdleTimeout,
	})
	if err := instance.Client.Ping().Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at addr[%s]: %v", opts.Addr, err)
	}
	if opts.CheckRwEnabled {
		now := time.Now().Format("20060102150304")
		testKey := "init-test-" + now
		testValue := "test"
		if status := instance.Client.Set(testKey, testValue, 5*time.Second); status.Err() != nil {
			return nil, fmt.Errorf("failed to set a test key[%s]: %s", testKey, status.Err())
		}
		if res := instance.Client.Get(testKey); res.Err() != nil {
			return nil, fmt.Errorf("failed to receive test key[%s]: %s", testKey, res.Err())
		} else if res.Val() != testValue {
			return nil, fmt.Errorf("failed to receive the correct test value, received '%s'", res.String())
		}
		if res := instance.Client.Unlink(testKey); res.Err() != nil {
			return nil, fmt.Errorf("failed to unlink test key[%s]: %s", testKey, res.Err())
		}
	}

	return instance, nil
}

func (r *Redis) Set(key string, value string, ttl time.Duration) error {
	if status := r.Client.Set(key, value, ttl); status.Err() != nil {
		return fmt.Errorf("failed to set key[%s]: %s", key, status.Err())
	}
	return nil
}

func (r *Redis) Get(key string) (string, error) {
	response := r.Client.Get(key)
	if response.Err() != nil {
		return "", fmt.Errorf("failed to get key[%s]: %s", key, response.Err())
	}
	return response.Val(), nil
}

func (r *Redis) Scan(prefix string) ([]string, error) {
	pattern := prefix
	if !strings.HasSuffix(pattern, "*") {
		pattern = pattern + "*"
	}
	response := r.Client.Keys(pattern)
	if response.Err() != nil {
		return nil, fmt.Errorf("failed to list keys[%s]: %s", pattern, response.Err())
	}
	return response.Val(), nil
}

func (r *Redis) Del(key string) error {
	if response := r.Client.Unlink(key); response.Err() != nil {
		return fmt.Errorf("failed to delete key[%s]: %s", key, response.Err())
	}
	return nil
}

func (r *Redis) Ping() error {
	if err := r.Client.Ping().Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %s", err)
	}
	return nil
}

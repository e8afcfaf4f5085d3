package sink

import (
	"fmt"

	"github.com/go-redis/redis"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "netsdr:samples"

// appender is the subset of *redis.Client used by RedisSink.
type appender interface {
	Append(key, value string) *redis.IntCmd
	Close() error
}

// RedisSink appends the two-byte sample layout to a Redis string with APPEND.
type RedisSink struct {
	client appender
	key    string
}

// DialRedis connects to addr and verifies the server with PING.
func DialRedis(addr, key string) (*RedisSink, error) {
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return newRedisSink(client, key), nil
}

func newRedisSink(client appender, key string) *RedisSink {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSink{client: client, key: key}
}

func (r *RedisSink) Append(samples []int32) error {
	if len(samples) == 0 {
		return nil
	}
	if err := r.client.Append(r.key, string(encodeInt16LE(samples))).Err(); err != nil {
		return fmt.Errorf("redis append %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}

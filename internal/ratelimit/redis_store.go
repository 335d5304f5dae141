package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the key and starts its expiry on the first hit of a
// window. It returns the count and the remaining TTL in milliseconds.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore keeps window state in Redis so that several instances share
// one limit. Expired windows are removed by Redis itself.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
}

type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the prefix of the Redis keys (default "ratelimit").
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb redis.Scripter, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error) {
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}

	res, err := hitScript.Run(ctx, s.rdb, []string{s.prefix + ":" + key}, windowMs).Int64Slice()
	if err != nil {
		return Entry{}, err
	}
	if len(res) != 2 {
		return Entry{}, fmt.Errorf("unexpected script reply %v", res)
	}

	return Entry{
		Count:     int(res[0]),
		ResetTime: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

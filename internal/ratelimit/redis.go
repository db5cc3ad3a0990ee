package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Скользящее окно на sorted set: score - время запроса в мс
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
	local count = redis.call('ZCARD', key)

	if count >= limit then
		local retry_after_ms = 0
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if oldest[2] ~= nil then
			retry_after_ms = tonumber(oldest[2]) + window_ms - now_ms
		end
		return { 0, 0, retry_after_ms }
	end

	redis.call('ZADD', key, now_ms, member)
	redis.call('PEXPIRE', key, window_ms)
	return { 1, limit - count - 1, 0 }
`)

// RedisLimiter - общий для всех инстансов лимитер в Redis
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	vals, err := slidingWindowScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key},
		now.UnixMilli(), window.Milliseconds(), limit, member).Result()
	if err != nil {
		return Result{}, fmt.Errorf("run rate limit script: %w", err)
	}

	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return Result{}, fmt.Errorf("unexpected rate limit script result: %#v", vals)
	}

	retryAfter := time.Duration(asInt64(arr[2])) * time.Millisecond
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result{
		Allowed:    asInt64(arr[0]) == 1,
		Remaining:  int(asInt64(arr[1])),
		RetryAfter: retryAfter,
	}, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

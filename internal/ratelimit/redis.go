package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisSlidingWindowScript trims, counts and records atomically.
// KEYS[1] = window key
// ARGV[1] = now (ms), ARGV[2] = window (ms), ARGV[3] = limit, ARGV[4] = member
var redisSlidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)
if count < limit then
    redis.call("ZADD", key, now, ARGV[4])
    redis.call("PEXPIRE", key, window)
    return {1, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local retry = window
if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
end
return {0, retry}
`)

// Redis shares the sliding window across replicas through a sorted set per key.
type Redis struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedis builds a limiter over client (a *redis.Client satisfies Scripter).
func NewRedis(client redis.Scripter, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window, prefix: "norruva:ratelimit:", now: time.Now}
}

// NewRedisClient dials addr with the given password.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

func (r *Redis) Allow(ctx context.Context, key string) error {
	now := r.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()
	res, err := redisSlidingWindowScript.Run(ctx, r.client, []string{r.prefix + key},
		now, r.window.Milliseconds(), r.limit, member).Result()
	if err != nil {
		return fmt.Errorf("redis limiter: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return fmt.Errorf("redis limiter: unexpected script reply %T", res)
	}
	allowed, _ := vals[0].(int64)
	if allowed == 1 {
		return nil
	}
	retryMs, _ := vals[1].(int64)
	if retryMs <= 0 {
		retryMs = 1
	}
	return &Error{Key: key, Limit: r.limit, Window: r.window, RetryAfter: time.Duration(retryMs) * time.Millisecond}
}

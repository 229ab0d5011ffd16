package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "housingworkshop:ratelimit:"

// fixedWindowLua 与 MemoryLimiter 语义一致：窗口按 reset 时间戳重置，超限后可封禁。
// KEYS[1] = key
// ARGV = max, window_ms, block_ms, now_ms
// 返回 {allowed, remaining, reset_at_ms}
const fixedWindowLua = `
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local block = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "count", "reset", "blocked")
local count = tonumber(data[1])
local reset = tonumber(data[2])
local blocked = tonumber(data[3]) or 0

if blocked > now then
  return {0, 0, blocked}
end

if count == nil or reset == nil or now > reset then
  reset = now + window
  redis.call("HSET", key, "count", 1, "reset", reset, "blocked", 0)
  redis.call("PEXPIRE", key, window)
  return {1, max - 1, reset}
end

if count >= max then
  if block > 0 then
    blocked = now + block
    redis.call("HSET", key, "blocked", blocked)
    -- 计数要保留到窗口结束，封禁短于窗口时不能提前过期
    redis.call("PEXPIRE", key, math.max(blocked, reset) - now)
    return {0, 0, blocked}
  end
  return {0, 0, reset}
end

count = redis.call("HINCRBY", key, "count", 1)
return {1, max - count, reset}
`

// RedisLimiter shares counters across API instances through Redis. Each
// check is a single script call, so read-modify-write is atomic per key.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	script *redis.Script
	now    func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		script: redis.NewScript(fixedWindowLua),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	r.now = now
	return r
}

func (r *RedisLimiter) Check(ctx context.Context, key string, rule Rule) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}
	now := r.now().UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{r.prefix + rule.key(key)},
		rule.Max, rule.Window.Milliseconds(), rule.Block.Milliseconds(), now).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 3 {
		return Decision{}, fmt.Errorf("ratelimit invalid result")
	}
	return Decision{
		Allowed:   toInt64(values[0]) == 1,
		Remaining: int(toInt64(values[1])),
		ResetAt:   time.UnixMilli(toInt64(values[2])),
	}, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenScript implements a token bucket in Redis. The bucket state lives
// in a hash with the token count and last-refill timestamp; the script
// refills based on elapsed time and then tries to take one token.
var tokenScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_sec = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = capacity
  ts = now_ms
end

local elapsed = math.max(0, now_ms - ts) / 1000
tokens = math.min(capacity, tokens + elapsed * refill_per_sec)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'ts', now_ms)
redis.call('PEXPIRE', key, ttl)
return allowed
`)

// Limiter is a Redis-backed token bucket shared across API instances.
type Limiter struct {
	client       *redis.Client
	capacity     int
	refillPerSec float64
	ttl          time.Duration
}

// New creates a limiter with the given bucket capacity and refill rate.
func New(client *redis.Client, capacity int, refillPerSec float64) *Limiter {
	return &Limiter{
		client:       client,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		ttl:          time.Minute,
	}
}

// Allow reports whether the caller identified by key may proceed. It
// consumes one token on success.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := tokenScript.Run(ctx, l.client,
		[]string{"ratelimit:" + key},
		l.capacity, l.refillPerSec, time.Now().UnixMilli(), l.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return res == 1, nil
}

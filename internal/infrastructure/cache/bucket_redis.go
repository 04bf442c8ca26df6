package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castmatch/castmatch-server/internal/domain/ratelimit"
)

// KEYS[1]=counter KEYS[2]=block; ARGV[1]=points ARGV[2]=durationMs ARGV[3]=blockMs ARGV[4]=limit
// returns {consumed, ttlMs, blocked}
var luaConsume = redis.NewScript(`
local counter = KEYS[1]
local block = KEYS[2]
local points = tonumber(ARGV[1])
local durationMs = tonumber(ARGV[2])
local blockMs = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])

local blockTtl = redis.call('PTTL', block)
if blockTtl > 0 then
  local current = tonumber(redis.call('GET', counter) or '0')
  return {current, blockTtl, 1}
end

local consumed
if points > 0 then
  consumed = redis.call('INCRBY', counter, points)
  if redis.call('PTTL', counter) < 0 then
    redis.call('PEXPIRE', counter, durationMs)
  end
else
  consumed = tonumber(redis.call('GET', counter) or '0')
end

local ttl = redis.call('PTTL', counter)
if ttl < 0 then
  ttl = 0
end

if points > 0 and consumed > limit and blockMs > 0 then
  redis.call('SET', block, '1', 'PX', blockMs)
  return {consumed, blockMs, 1}
end
return {consumed, ttl, 0}
`)

// RedisBucketStore keeps fixed-window counters in Redis. Each consume is one
// script invocation, so concurrent instances share exact counts.
type RedisBucketStore struct {
	cache *RedisCache
}

func NewRedisBucketStore(cache *RedisCache) *RedisBucketStore {
	return &RedisBucketStore{cache: cache}
}

func (s *RedisBucketStore) keys(key string) []string {
	// hash tag keeps both keys on one cluster slot
	base := s.cache.Key("rl:{" + key + "}")
	return []string{base, base + ":block"}
}

func (s *RedisBucketStore) Consume(ctx context.Context, spec ratelimit.BucketSpec, points int) (ratelimit.BucketState, error) {
	res, err := luaConsume.Run(ctx, s.cache.Client(), s.keys(spec.Key),
		points,
		spec.Budget.Duration.Milliseconds(),
		spec.Budget.BlockDuration.Milliseconds(),
		spec.Budget.Points,
	).Int64Slice()
	if err != nil {
		return ratelimit.BucketState{}, fmt.Errorf("consume %s: %w", spec.Key, err)
	}
	if len(res) != 3 {
		return ratelimit.BucketState{}, fmt.Errorf("consume %s: unexpected script reply %v", spec.Key, res)
	}
	return newBucketState(spec, int(res[0]), time.Duration(res[1])*time.Millisecond, res[2] == 1), nil
}

func (s *RedisBucketStore) Get(ctx context.Context, spec ratelimit.BucketSpec) (ratelimit.BucketState, error) {
	return s.Consume(ctx, spec, 0)
}

func (s *RedisBucketStore) Delete(ctx context.Context, key string) error {
	return s.cache.Client().Unlink(ctx, s.keys(key)...).Err()
}

func newBucketState(spec ratelimit.BucketSpec, consumed int, resetIn time.Duration, blocked bool) ratelimit.BucketState {
	remaining := spec.Budget.Points - consumed
	if remaining < 0 || blocked {
		remaining = 0
	}
	return ratelimit.BucketState{
		Key:       spec.Key,
		Limit:     spec.Budget.Points,
		Consumed:  consumed,
		Remaining: remaining,
		ResetIn:   resetIn,
		Blocked:   blocked,
	}
}

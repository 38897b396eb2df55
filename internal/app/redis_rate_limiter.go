package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var settlementRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisSettlementRateLimiter enforces a distributed fixed-window limit on the
// order lifecycle endpoints. The window is keyed per scope and subject, so each
// lifecycle operation on each order counts against its own budget.
type RedisSettlementRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisSettlementRateLimiter builds a limiter allowing limitPerWindow calls
// per scope/subject pair within window. A non-positive limit disables the
// limiter entirely; windows shorter than one second are widened to one second.
func NewRedisSettlementRateLimiter(client redis.UniversalClient, prefix string, limitPerWindow int, window time.Duration) *RedisSettlementRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "wallet:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	if window < time.Second {
		window = time.Second
	}

	return &RedisSettlementRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limitPerWindow,
		window: window,
	}
}

// Consume records one call for scope/subject and reports whether it is within
// the window's budget. When the budget is exhausted, retryAfterSeconds tells
// the caller how long until the window resets.
func (r *RedisSettlementRateLimiter) Consume(ctx context.Context, scope, subject string) (allowed bool, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || r.limit <= 0 {
		return true, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return true, 0, nil
	}

	windowMs := r.window.Milliseconds()

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := settlementRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	if currentCount <= int64(r.limit) {
		return true, 0, nil
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript keeps one sorted-set entry per accepted request, scored by
// its timestamp in milliseconds. Denied requests are not recorded.
var slidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// SlidingWindow allows Limit requests per caller in any trailing window,
// e.g. 1 per 10 seconds.
type SlidingWindow struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindow(client *redis.Client, limit int, window time.Duration) (*SlidingWindow, error) {
	if err := validate(limit, window); err != nil {
		return nil, err
	}
	return &SlidingWindow{
		client: client,
		prefix: "scribe:rate_limit:sliding:",
		limit:  limit,
		window: window,
		now:    time.Now,
	}, nil
}

func (l *SlidingWindow) Allow(ctx context.Context, id string) (Decision, error) {
	now := l.now().UnixMilli()
	res, err := slidingScript.Run(ctx, l.client,
		[]string{l.prefix + id},
		now, l.window.Milliseconds(), l.limit, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run sliding window: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("run sliding window: unexpected reply %v", res)
	}

	remaining := l.limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   res[0] == 1,
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     time.UnixMilli(res[2]),
	}, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedScript counts one request and makes sure the window key expires. A
// key left without a TTL gets one on its next hit.
var fixedScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// FixedWindow allows Limit requests per caller in each aligned window,
// e.g. 50 per UTC day.
type FixedWindow struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewFixedWindow(client *redis.Client, limit int, window time.Duration) (*FixedWindow, error) {
	if err := validate(limit, window); err != nil {
		return nil, err
	}
	return &FixedWindow{
		client: client,
		prefix: "scribe:rate_limit:fixed:",
		limit:  limit,
		window: window,
		now:    time.Now,
	}, nil
}

func (l *FixedWindow) Allow(ctx context.Context, id string) (Decision, error) {
	now := l.now()
	windowIndex := now.UnixMilli() / l.window.Milliseconds()
	key := fmt.Sprintf("%s%s:%d", l.prefix, id, windowIndex)

	ttl := (l.window + time.Second).Milliseconds()
	count, err := fixedScript.Run(ctx, l.client, []string{key}, ttl).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("count request: %w", err)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     time.UnixMilli((windowIndex + 1) * l.window.Milliseconds()),
	}, nil
}

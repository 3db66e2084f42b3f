// Package ratelimit enforces per-caller request quotas backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	PolicyFixed   = "fixed"
	PolicySliding = "sliding"
)

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter counts one request for id and decides whether it may proceed.
type Limiter interface {
	Allow(ctx context.Context, id string) (Decision, error)
}

// WriteHeaders sets the X-RateLimit-* headers. Reset is unix milliseconds.
func (d Decision) WriteHeaders(h http.Header) {
	if d.Limit < 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.UnixMilli(), 10))
}

// RetryAfter is the whole number of seconds until the quota frees up.
func (d Decision) RetryAfter(now time.Time) int {
	wait := d.Reset.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}

// Unlimited allows everything. Used when no Redis is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true, Limit: -1, Remaining: -1}, nil
}

func validate(limit int, window time.Duration) error {
	if limit < 1 {
		return fmt.Errorf("rate limit must be at least 1, got %d", limit)
	}
	if window < time.Millisecond {
		return fmt.Errorf("rate limit window too short: %s", window)
	}
	return nil
}

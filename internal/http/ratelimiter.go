package httpapi

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter permits limit events per window with bursts up to limit, reading
// time from an injectable clock.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewTokenBucketLimiter constructs a limiter. A non-positive window or limit disables it.
func NewTokenBucketLimiter(window time.Duration, limit int, timeSource func() time.Time) *TokenBucketLimiter {
	if window <= 0 || limit <= 0 {
		return &TokenBucketLimiter{}
	}
	if timeSource == nil {
		timeSource = time.Now
	}
	return &TokenBucketLimiter{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
		now:     timeSource,
	}
}

// Allow reports whether the caller may proceed under the current rate limits.
func (l *TokenBucketLimiter) Allow() bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.AllowN(l.now(), 1)
}

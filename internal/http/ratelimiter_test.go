package httpapi

import (
	"testing"
	"time"
)

func TestTokenBucketLimiter(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewTokenBucketLimiter(time.Minute, 2, func() time.Time { return now })

	if !limiter.Allow() || !limiter.Allow() {
		t.Fatal("expected first two calls to be allowed")
	}
	if limiter.Allow() {
		t.Fatal("expected third call to be denied")
	}

	now = now.Add(15 * time.Second)
	if limiter.Allow() {
		t.Fatal("expected call before refill to still be denied")
	}

	//1.- One token refills every half window.
	now = now.Add(16 * time.Second)
	if !limiter.Allow() {
		t.Fatal("expected limiter to permit call after a token refills")
	}
	if limiter.Allow() {
		t.Fatal("expected only one refilled token")
	}
}

func TestTokenBucketLimiterDisabled(t *testing.T) {
	if !NewTokenBucketLimiter(0, 0, nil).Allow() {
		t.Fatal("limiter with zero configuration should allow")
	}
	var limiter *TokenBucketLimiter
	if !limiter.Allow() {
		t.Fatal("nil limiter should allow")
	}
}

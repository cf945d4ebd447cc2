package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket 按每分钟请求数匀速补充令牌，突发上限为 burst
type TokenBucket struct {
	mu       sync.Mutex
	perSec   float64
	burst    float64
	tokens   float64
	lastFill time.Time
	now      func() time.Time
}

// NewTokenBucket burst <= 0 时取 QPM 的一半（至少 1）
func NewTokenBucket(qpm int, burst int) *TokenBucket {
	if qpm <= 0 {
		qpm = defaultQPM
	}
	if burst <= 0 {
		burst = max(qpm/2, 1)
	}
	tb := &TokenBucket{
		perSec: float64(qpm) / 60,
		burst:  float64(burst),
		tokens: float64(burst),
		now:    time.Now,
	}
	tb.lastFill = tb.now()
	return tb
}

// take 补充令牌后尝试取一个，取不到时返回还需等待的时长
func (tb *TokenBucket) take() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.tokens = min(tb.burst, tb.tokens+now.Sub(tb.lastFill).Seconds()*tb.perSec)
	tb.lastFill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}
	return time.Duration((1 - tb.tokens) / tb.perSec * float64(time.Second)), false
}

// Allow 非阻塞取令牌
func (tb *TokenBucket) Allow() bool {
	_, ok := tb.take()
	return ok
}

// Wait 阻塞直到拿到令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait, ok := tb.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy 指数退避：第 n 次重试前大约等待 InitialWait * 2^(n-1)
type RetryPolicy struct {
	InitialWait time.Duration
	MaxRetries  int
}

var defaultRetryPolicy = RetryPolicy{InitialWait: time.Second, MaxRetries: 3}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	// WithMaxRetries 的 0 表示不限次数
	if p.MaxRetries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialWait
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = p.InitialWait << min(p.MaxRetries, 6)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// Do 每次尝试前先从 bucket 取令牌；不可重试的错误立即返回
func (p RetryPolicy) Do(ctx context.Context, bucket *TokenBucket, notify backoff.Notify, fn func() error) error {
	attempt := func() error {
		if err := bucket.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err != nil && !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(attempt, p.backOff(ctx), notify)
}

// statusCoder 带 HTTP 状态码的上游错误，例如 parser.APIError
type statusCoder interface {
	HTTPStatus() int
}

// 上游没有给出状态码时按错误文本判断
var retryableMarkers = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"EOF",
	"no such host",
	"429",
	"rate limit",
	"rate_limit",
	"Throttling",
	"服务器繁忙",
	"请求超过限额",
	"QPS限制",
}

// IsRetryableError 限流、5xx 和网络抖动可以重试；
// 其余 4xx、响应无法解析、调用方主动取消都直接失败
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() != 0 {
		code := sc.HTTPStatus()
		return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= http.StatusInternalServerError
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

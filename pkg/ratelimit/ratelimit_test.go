package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyModel struct {
	failures int
	err      error
	calls    int
}

func (m *flakyModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, m.err
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (m *flakyModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, nil
}

func (m *flakyModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// statusErr 模拟带状态码的上游错误
type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("upstream status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := NewTokenBucket(60, 2)
	tb.now = func() time.Time { return now }
	tb.lastFill = now

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "容量耗尽后应拒绝")

	now = now.Add(time.Second)
	assert.True(t, tb.Allow(), "60 QPM 每秒补充一个令牌")
	assert.False(t, tb.Allow())

	now = now.Add(time.Hour)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "补充不超过容量")
}

func TestTokenBucket_WaitHonorsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestLimitedModel_RetriesRetryableErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rate limited text", errors.New("429 Too Many Requests")},
		{"status 503", fmt.Errorf("LLM call failed: %w", statusErr(http.StatusServiceUnavailable))},
		{"status 429", statusErr(http.StatusTooManyRequests)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flakyModel{failures: 2, err: tt.err}
			m := NewLimitedModel(inner, 6000, WithRetryPolicy(time.Millisecond, 3))

			msg, err := m.Generate(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, "ok", msg.Content)
			assert.Equal(t, 3, inner.calls)
		})
	}
}

func TestLimitedModel_DoesNotRetryPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid key", errors.New("invalid api key")},
		{"status 400", statusErr(http.StatusBadRequest)},
		{"status 401 mentions rate limit", fmt.Errorf("rate limit plan missing: %w", statusErr(http.StatusUnauthorized))},
		{"malformed response", fmt.Errorf("decode: %w", &json.SyntaxError{Offset: 3})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &flakyModel{failures: 5, err: tt.err}
			m := NewLimitedModel(inner, 6000, WithRetryPolicy(time.Millisecond, 3))

			_, err := m.Generate(context.Background(), nil)
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, inner.calls)
		})
	}
}

func TestLimitedModel_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyModel{failures: 10, err: statusErr(http.StatusBadGateway)}
	m := NewLimitedModel(inner, 6000, WithRetryPolicy(time.Millisecond, 2))

	_, err := m.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls, "首次调用加两次重试")
}

func TestLimitedModel_StopsOnCancel(t *testing.T) {
	inner := &flakyModel{failures: 10, err: statusErr(http.StatusServiceUnavailable)}
	m := NewLimitedModel(inner, 6000, WithRetryPolicy(time.Hour, 3))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Generate(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, inner.calls)
}

func TestLimitedModel_WithToolsSharesBucket(t *testing.T) {
	m := NewLimitedModel(&flakyModel{}, 60)
	bound, err := m.WithTools(nil)
	require.NoError(t, err)
	assert.Same(t, m.bucket, bound.(*LimitedModel).bucket)
}

func TestResolveQPM(t *testing.T) {
	limits := map[string]int{"qwen-plus": 1000}
	assert.Equal(t, 900, ResolveQPM("qwen-plus", limits, 10))
	assert.Equal(t, 10, ResolveQPM("other", limits, 10))
	assert.Equal(t, defaultQPM, ResolveQPM("other", nil, 0))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.True(t, IsRetryableError(errors.New("read: connection reset by peer")))
	assert.False(t, IsRetryableError(errors.New("bad request")))
	assert.True(t, IsRetryableError(statusErr(http.StatusRequestTimeout)))
	assert.True(t, IsRetryableError(statusErr(http.StatusInternalServerError)))
	assert.False(t, IsRetryableError(statusErr(http.StatusNotFound)))
	assert.False(t, IsRetryableError(fmt.Errorf("x: %w", statusErr(0))), "无状态码且无标记")
}

func TestLimitedModel_ZeroRetriesCallsOnce(t *testing.T) {
	inner := &flakyModel{failures: 10, err: statusErr(http.StatusServiceUnavailable)}
	m := NewLimitedModel(inner, 6000, WithRetryPolicy(time.Millisecond, 0))

	_, err := m.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

package ratelimit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

const (
	defaultQPM = 30
	// 配置的模型限额只用 90%，给其他调用方留余量
	modelQPMSafetyRatio = 0.9
)

// LimitedModel 包装 eino 模型：调用前取令牌，可重试的失败按 RetryPolicy 退避重试
type LimitedModel struct {
	inner  model.ToolCallingChatModel
	bucket *TokenBucket
	policy RetryPolicy
	logger zerolog.Logger
}

// Option 配置 LimitedModel
type Option func(*LimitedModel)

// WithRetryPolicy initialWait <= 0 或 maxRetries < 0 时保留默认值
func WithRetryPolicy(initialWait time.Duration, maxRetries int) Option {
	return func(m *LimitedModel) {
		if initialWait > 0 {
			m.policy.InitialWait = initialWait
		}
		if maxRetries >= 0 {
			m.policy.MaxRetries = maxRetries
		}
	}
}

// WithLogger 重试时输出告警日志
func WithLogger(logger zerolog.Logger) Option {
	return func(m *LimitedModel) {
		m.logger = logger
	}
}

// NewLimitedModel 令牌桶容量为 QPM 的一半
func NewLimitedModel(inner model.ToolCallingChatModel, qpm int, opts ...Option) *LimitedModel {
	m := &LimitedModel{
		inner:  inner,
		bucket: NewTokenBucket(qpm, 0),
		policy: defaultRetryPolicy,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap 按模型名从 limits 解析 QPM 后包装
func Wrap(inner model.ToolCallingChatModel, modelName string, limits map[string]int, customQPM int, opts ...Option) model.ToolCallingChatModel {
	return NewLimitedModel(inner, ResolveQPM(modelName, limits, customQPM), opts...)
}

func (m *LimitedModel) onRetry(call string) backoff.Notify {
	return func(err error, wait time.Duration) {
		m.logger.Warn().Err(err).Str("call", call).Dur("wait", wait).Msg("LLM 调用失败，退避后重试")
	}
}

// Generate 非流式调用
func (m *LimitedModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := m.policy.Do(ctx, m.bucket, m.onRetry("generate"), func() error {
		var err error
		out, err = m.inner.Generate(ctx, messages, options...)
		return err
	})
	return out, err
}

// Stream 只对建立流的调用重试，读流过程中的错误由调用方处理
func (m *LimitedModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := m.policy.Do(ctx, m.bucket, m.onRetry("stream"), func() error {
		var err error
		out, err = m.inner.Stream(ctx, messages, options...)
		return err
	})
	return out, err
}

// WithTools 绑定工具后的模型共享同一个令牌桶
func (m *LimitedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := m.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	clone := *m
	clone.inner = bound
	return &clone, nil
}

// ResolveQPM limits 中有该模型时按其限额打九折，否则用 customQPM，都没有时取默认值
func ResolveQPM(modelName string, limits map[string]int, customQPM int) int {
	qpm := customQPM
	if limit, ok := limits[modelName]; ok && modelName != "" && limit > 0 {
		qpm = int(float64(limit) * modelQPMSafetyRatio)
	}
	if qpm <= 0 {
		qpm = defaultQPM
	}
	return qpm
}

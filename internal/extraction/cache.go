// Package extraction 提供以内容哈希为键的结构化提取缓存
package extraction

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/constants"
	"synchire-go/internal/tracing"
	"synchire-go/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("synchire-go/extraction")

const (
	defaultComputeTimeout = 2 * time.Minute
	defaultLockTTL        = 3 * time.Minute
	defaultPeerPoll       = 200 * time.Millisecond
)

// Store 提取记录的持久化接口，found=false 表示不存在
type Store interface {
	GetExtraction(ctx context.Context, kind types.ExtractionKind, hash types.ContentHash) (*types.ExtractionRecord, bool, error)
	SaveExtraction(ctx context.Context, rec *types.ExtractionRecord) error
}

// Locker 跨进程互斥，AcquireLock 返回空字符串表示锁被他人持有
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, value string) (bool, error)
}

// ComputeFunc 缓存未命中时执行的提取逻辑
type ComputeFunc func(ctx context.Context) (types.ExtractedData, error)

// Stats 缓存统计
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Computes int64 `json:"computes"`
	Failures int64 `json:"failures"`
}

// Cache 保证同一哈希在进程内只计算一次；配置 Locker 时跨进程也只计算一次
type Cache struct {
	store          Store
	locker         Locker
	group          singleflight.Group
	logger         zerolog.Logger
	computeTimeout time.Duration
	lockTTL        time.Duration
	peerPoll       time.Duration
	now            func() time.Time

	hits, misses, computes, failures atomic.Int64
}

// CacheOption 缓存选项
type CacheOption func(*Cache)

// WithLocker 启用跨进程锁
func WithLocker(l Locker) CacheOption {
	return func(c *Cache) { c.locker = l }
}

// WithComputeTimeout 单次提取的最长时间
func WithComputeTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.computeTimeout = d
		}
	}
}

// WithLockTTL 分布式锁的过期时间
func WithLockTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.lockTTL = d
		}
	}
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// NewCache 创建提取缓存
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:          store,
		logger:         zerolog.Nop(),
		computeTimeout: defaultComputeTimeout,
		lockTTL:        defaultLockTTL,
		peerPoll:       defaultPeerPoll,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute 命中直接返回存储的记录；未命中时同一哈希只有一个调用者执行 fn，
// 其余调用者等待同一结果，但各自的 ctx 取消时会提前返回。
// fn 失败时返回 EXTRACTION_FAILURE，不写入任何记录，下一次调用会重新计算。
func (c *Cache) GetOrCompute(ctx context.Context, kind types.ExtractionKind, hash types.ContentHash, fn ComputeFunc) (*types.ExtractionRecord, error) {
	ctx, span := tracer.Start(ctx, "ExtractionCache.GetOrCompute",
		trace.WithAttributes(
			attribute.String("extraction.kind", string(kind)),
			attribute.String("extraction.hash", string(hash)),
		))
	defer span.End()

	rec, found, err := c.store.GetExtraction(ctx, kind, hash)
	if err != nil {
		// 读缓存失败不阻断提取
		c.logger.Warn().Err(err).Str("hash", string(hash)).Msg("读取提取记录失败，继续计算")
	} else if found {
		c.hits.Add(1)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return rec, nil
	}
	c.misses.Add(1)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	key := string(kind) + ":" + string(hash)
	// 计算与发起者的取消解耦：发起者离开后等待者仍能拿到结果
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(flightCtx, c.computeTimeout)
		defer cancel()
		return c.populate(fctx, kind, hash, fn)
	})

	select {
	case <-ctx.Done():
		tracing.RecordError(span, ctx.Err(), tracing.ErrorTypeTimeout)
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			tracing.RecordError(span, res.Err, tracing.ErrorTypeExternal)
			return nil, res.Err
		}
		span.SetAttributes(attribute.Bool("cache.shared", res.Shared))
		return res.Val.(*types.ExtractionRecord), nil
	}
}

// populate 在 singleflight 内执行：复查存储 -> 获取分布式锁 -> 计算 -> 保存
func (c *Cache) populate(ctx context.Context, kind types.ExtractionKind, hash types.ContentHash, fn ComputeFunc) (*types.ExtractionRecord, error) {
	if rec, found, err := c.store.GetExtraction(ctx, kind, hash); err == nil && found {
		return rec, nil
	}

	if c.locker != nil {
		lockKey := fmt.Sprintf(constants.KeyExtractionLock, kind, hash)
		lockValue, err := c.locker.AcquireLock(ctx, lockKey, c.lockTTL)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Str("lock_key", lockKey).Msg("获取提取锁失败，退化为进程内去重")
		case lockValue == "":
			// 其他进程正在计算，等待其写入
			if rec, ok := c.waitForPeer(ctx, kind, hash); ok {
				return rec, nil
			}
			c.logger.Warn().Str("hash", string(hash)).Msg("等待其他实例提取超时，本地计算")
		default:
			defer func() {
				if _, rerr := c.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, lockValue); rerr != nil {
					c.logger.Warn().Err(rerr).Str("lock_key", lockKey).Msg("释放提取锁失败")
				}
			}()
		}
	}

	c.computes.Add(1)
	data, err := fn(ctx)
	if err != nil {
		c.failures.Add(1)
		return nil, apperr.NewExtractionError("GetOrCompute", string(hash), err)
	}
	data.Kind = kind

	rec := &types.ExtractionRecord{
		Hash:          hash,
		ExtractedAt:   c.now().UTC(),
		ExtractedData: data,
	}
	if err := c.store.SaveExtraction(ctx, rec); err != nil {
		// 结果仍然有效，只是下次需要重新计算
		c.logger.Error().Err(err).Str("hash", string(hash)).Msg("保存提取记录失败")
	}
	return rec, nil
}

// waitForPeer 轮询存储，直到其他实例写入记录或锁等待超时
func (c *Cache) waitForPeer(ctx context.Context, kind types.ExtractionKind, hash types.ContentHash) (*types.ExtractionRecord, bool) {
	deadline := time.NewTimer(c.lockTTL)
	defer deadline.Stop()
	ticker := time.NewTicker(c.peerPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-deadline.C:
			return nil, false
		case <-ticker.C:
			rec, found, err := c.store.GetExtraction(ctx, kind, hash)
			if err != nil {
				c.logger.Debug().Err(err).Msg("轮询提取记录失败")
				continue
			}
			if found {
				return rec, true
			}
		}
	}
}

// Stats 返回统计快照
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Computes: c.computes.Load(),
		Failures: c.failures.Load(),
	}
}

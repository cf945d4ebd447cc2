package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"synchire-go/internal/config"
	"synchire-go/internal/constants"
	"synchire-go/internal/tracing"
	"synchire-go/internal/types"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when a key is not found in Redis.
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("synchire-go/storage/redis")

// 按key前缀决定额外业务span的采样率，redisotel 的命令级span不受影响
var redisKeySamplingRates = map[string]float64{
	"app:extraction:record:": 0.05,
	"app:extraction:lock:":   0.5,
	"app:application:":       0.25,
	"app:webhook:":           1.0,
}

// releaseLockScript 只有持有者才能删除锁
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			return rand.Float64() < rate
		}
	}
	return rand.Float64() < 0.05
}

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) extractionTTL() time.Duration {
	hours := r.config.ExtractionTTLHours
	if hours <= 0 {
		hours = 168
	}
	return time.Duration(hours) * time.Hour
}

func (r *Redis) dedupTTL() time.Duration {
	hours := r.config.DedupTTLHours
	if hours <= 0 {
		hours = 72
	}
	return time.Duration(hours) * time.Hour
}

func (r *Redis) startSpan(ctx context.Context, name, operation, key string) (context.Context, trace.Span) {
	return redisTracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemRedis,
			attribute.String("db.redis.database", strconv.Itoa(r.config.DB)),
			attribute.String("net.peer.name", r.config.Address),
			attribute.String("db.operation", operation),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		))
}

// GetExtraction 从热缓存读取提取记录
func (r *Redis) GetExtraction(ctx context.Context, kind types.ExtractionKind, hash types.ContentHash) (*types.ExtractionRecord, bool, error) {
	if r.Client == nil {
		return nil, false, fmt.Errorf("redis client is not initialized")
	}
	key := fmt.Sprintf(constants.KeyExtractionRecord, kind, hash)

	var span trace.Span
	if shouldSampleRedisOp(key) {
		ctx, span = r.startSpan(ctx, "Redis.GetExtraction", "GET", key)
		defer span.End()
	}

	val, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		if span != nil {
			span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
			span.SetStatus(codes.Ok, "key not found")
		}
		return nil, false, nil
	}
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, false, err
	}

	var rec types.ExtractionRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		// 损坏的缓存项直接删除，回源到持久层
		_ = r.Client.Del(ctx, key).Err()
		return nil, false, nil
	}
	if span != nil {
		span.SetAttributes(attribute.Bool("db.redis.key_exists", true))
		span.SetStatus(codes.Ok, "")
	}
	return &rec, true, nil
}

// SaveExtraction 写入热缓存，已存在的记录不覆盖
func (r *Redis) SaveExtraction(ctx context.Context, rec *types.ExtractionRecord) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化提取记录失败: %w", err)
	}
	key := fmt.Sprintf(constants.KeyExtractionRecord, rec.Kind, rec.Hash)
	return r.Client.SetNX(ctx, key, data, r.extractionTTL()).Err()
}

// AcquireLock 尝试获取一个分布式锁，成功返回锁值，锁被占用时返回空字符串
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis client is not initialized")
	}
	lockValue := strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + strconv.FormatInt(rand.Int63(), 36)
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return lockValue, nil
	}
	return "", nil
}

// ReleaseLock 释放一个分布式锁，使用Lua脚本保证原子性
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}

	var span trace.Span
	if shouldSampleRedisOp(lockKey) {
		ctx, span = r.startSpan(ctx, "Redis.ReleaseLock", "EVAL", lockKey)
		defer span.End()
	}

	res, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return false, err
	}
	if span != nil {
		span.SetAttributes(attribute.Bool("lock.released", res == 1))
		span.SetStatus(codes.Ok, "")
	}
	return res == 1, nil
}

// MarkEventOnce 在去重账本中登记事件，首次登记返回 true
func (r *Redis) MarkEventOnce(ctx context.Context, scope, eventID string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis client is not initialized")
	}
	key := fmt.Sprintf(constants.KeyWebhookDedup, scope, eventID)
	ctx, span := r.startSpan(ctx, "Redis.MarkEventOnce", "SETNX", key)
	defer span.End()

	first, err := r.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), r.dedupTTL()).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("already_exists", !first))
	span.SetStatus(codes.Ok, "")
	return first, nil
}

// ForgetEvent 处理失败时撤销登记，允许上游重投
func (r *Redis) ForgetEvent(ctx context.Context, scope, eventID string) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Del(ctx, fmt.Sprintf(constants.KeyWebhookDedup, scope, eventID)).Err()
}

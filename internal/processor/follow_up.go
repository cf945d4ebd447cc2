package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/storage/models"
	"synchire-go/internal/types"

	"github.com/rs/zerolog"
)

// FollowUpHandler 处理一条面试完成后续事件
type FollowUpHandler func(ctx context.Context, ev *types.InterviewCompletedEvent) error

const (
	defaultFollowUpWorkers = 2
	defaultFollowUpQueue   = 256
	defaultFollowUpTimeout = 30 * time.Second

	// EventTypeInterviewCompleted 发件箱中的事件类型
	EventTypeInterviewCompleted = "interview.completed"
)

// FollowUpDispatcher 有界队列 + 固定数量 worker，回调请求不等待后续任务
type FollowUpDispatcher struct {
	handler  FollowUpHandler
	queue    chan *types.InterviewCompletedEvent
	workers  int
	timeout  time.Duration
	logger   zerolog.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// FollowUpOption 配置项
type FollowUpOption func(*FollowUpDispatcher)

// WithFollowUpWorkers worker 数量
func WithFollowUpWorkers(n int) FollowUpOption {
	return func(d *FollowUpDispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithFollowUpQueueSize 队列长度
func WithFollowUpQueueSize(n int) FollowUpOption {
	return func(d *FollowUpDispatcher) {
		if n > 0 {
			d.queue = make(chan *types.InterviewCompletedEvent, n)
		}
	}
}

// WithFollowUpTimeout 单个事件的处理超时
func WithFollowUpTimeout(t time.Duration) FollowUpOption {
	return func(d *FollowUpDispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithFollowUpLogger 设置日志
func WithFollowUpLogger(l zerolog.Logger) FollowUpOption {
	return func(d *FollowUpDispatcher) {
		d.logger = l
	}
}

// NewFollowUpDispatcher 创建分发器，需调用 Start 启动 worker
func NewFollowUpDispatcher(handler FollowUpHandler, opts ...FollowUpOption) *FollowUpDispatcher {
	d := &FollowUpDispatcher{
		handler: handler,
		queue:   make(chan *types.InterviewCompletedEvent, defaultFollowUpQueue),
		workers: defaultFollowUpWorkers,
		timeout: defaultFollowUpTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start 启动 worker
func (d *FollowUpDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(i)
	}
	d.logger.Info().Int("workers", d.workers).Int("queue", cap(d.queue)).Msg("后续任务分发器已启动")
}

// Enqueue 非阻塞入队，队列已满或已停止时返回 false
func (d *FollowUpDispatcher) Enqueue(ev *types.InterviewCompletedEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	default:
		return false
	}
}

var errFollowUpQueueFull = errors.New("follow-up queue is full or stopped")

// Submit 与 Enqueue 相同，但以错误返回拒绝，签名与 FollowUpHandler 一致
func (d *FollowUpDispatcher) Submit(_ context.Context, ev *types.InterviewCompletedEvent) error {
	if !d.Enqueue(ev) {
		return errFollowUpQueueFull
	}
	return nil
}

// Stop 停止接收新事件，处理完队列中剩余事件后返回
func (d *FollowUpDispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
		d.logger.Info().Msg("后续任务分发器已停止")
	})
}

func (d *FollowUpDispatcher) run(worker int) {
	defer d.wg.Done()
	for ev := range d.queue {
		d.handle(worker, ev)
	}
}

func (d *FollowUpDispatcher) handle(worker int, ev *types.InterviewCompletedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("call_id", ev.CallID).Msg("后续任务处理崩溃")
		}
	}()

	if err := d.handler(ctx, ev); err != nil {
		if apperr.KindOf(err) == apperr.KindDuplicateEvent {
			d.logger.Debug().Str("event_id", ev.EventID).Str("call_id", ev.CallID).Msg("重复的后续任务，跳过")
			return
		}
		d.logger.Error().Err(err).
			Int("worker", worker).
			Str("event_id", ev.EventID).
			Str("call_id", ev.CallID).
			Msg("后续任务处理失败")
		return
	}
	d.logger.Debug().Str("event_id", ev.EventID).Str("call_id", ev.CallID).Msg("后续任务已处理")
}

// OutboxFollowUpHandler 把事件写入发件箱，由 MessageRelay 投递到 RabbitMQ
func OutboxFollowUpHandler(outbox OutboxWriter, exchange, routingKey string) FollowUpHandler {
	return func(ctx context.Context, ev *types.InterviewCompletedEvent) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("序列化后续事件失败: %w", err)
		}
		return outbox.EnqueueOutbox(ctx, &models.OutboxMessage{
			EventID:          ev.EventID,
			AggregateID:      ev.ApplicationID,
			EventType:        EventTypeInterviewCompleted,
			Payload:          string(payload),
			TargetExchange:   exchange,
			TargetRoutingKey: routingKey,
			Status:           models.OutboxStatusPending,
		})
	}
}

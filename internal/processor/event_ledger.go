package processor

import (
	"context"
	"sync"
	"time"
)

const defaultLedgerTTL = 72 * time.Hour

// MemoryEventLedger 进程内的回调去重账本，未配置 Redis 时使用
type MemoryEventLedger struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryEventLedger 创建进程内账本，记录保留 72 小时
func NewMemoryEventLedger() *MemoryEventLedger {
	return &MemoryEventLedger{
		seen: make(map[string]time.Time),
		ttl:  defaultLedgerTTL,
		now:  time.Now,
	}
}

// MarkEventOnce 第一次标记返回 true
func (l *MemoryEventLedger) MarkEventOnce(_ context.Context, scope, eventID string) (bool, error) {
	key := scope + ":" + eventID
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if at, ok := l.seen[key]; ok && now.Sub(at) < l.ttl {
		return false, nil
	}
	l.seen[key] = now
	if len(l.seen)%1024 == 0 {
		l.evictLocked(now)
	}
	return true, nil
}

// ForgetEvent 撤销标记，处理失败后允许重投
func (l *MemoryEventLedger) ForgetEvent(_ context.Context, scope, eventID string) error {
	l.mu.Lock()
	delete(l.seen, scope+":"+eventID)
	l.mu.Unlock()
	return nil
}

func (l *MemoryEventLedger) evictLocked(now time.Time) {
	for k, at := range l.seen {
		if now.Sub(at) >= l.ttl {
			delete(l.seen, k)
		}
	}
}

package processor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultSweepInterval  = time.Hour
	defaultSweepBatchSize = 200
	// 单次清理最多的批次数，防止失败的申请反复被列出
	maxSweepRounds = 20
)

// Expirer 批量过期
type Expirer interface {
	ExpireInactive(ctx context.Context, before time.Time, batchSize int) (int, error)
}

// ExpirySweeper 定期把长期没有活动的申请置为 EXPIRED
type ExpirySweeper struct {
	expirer   Expirer
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time
	logger    zerolog.Logger
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewExpirySweeper 创建清理器，retention 为保留时长
func NewExpirySweeper(expirer Expirer, interval, retention time.Duration, batchSize int, logger zerolog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &ExpirySweeper{
		expirer:   expirer,
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start 在后台按间隔执行清理
func (s *ExpirySweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				if _, err := s.SweepOnce(ctx); err != nil {
					s.logger.Error().Err(err).Msg("过期清理失败")
				}
				cancel()
			}
		}
	}()
	s.logger.Info().Dur("interval", s.interval).Dur("retention", s.retention).Msg("过期清理器已启动")
}

// Stop 停止后台清理
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// SweepOnce 执行一次清理，返回过期的申请数
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	before := s.now().Add(-s.retention)
	total := 0
	for round := 0; round < maxSweepRounds; round++ {
		n, err := s.expirer.ExpireInactive(ctx, before, s.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batchSize {
			break
		}
	}
	if total > 0 {
		s.logger.Info().Int("expired", total).Time("before", before).Msg("已过期不活跃的申请")
	}
	return total, nil
}

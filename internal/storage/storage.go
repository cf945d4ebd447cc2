package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"synchire-go/internal/config"

	"github.com/rs/zerolog"
)

// Storage 存储管理器，聚合所有存储相关依赖。
// 未配置或初始化失败的组件为 nil，调用方据此降级。
type Storage struct {
	MinIO    *MinIO
	RabbitMQ *RabbitMQ
	MySQL    *MySQL
	Redis    *Redis

	memory *MemoryStore
	logger zerolog.Logger
}

// NewStorage 创建存储管理器，只有配置了的组件才会初始化
func NewStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	s := &Storage{logger: logger}
	var err error
	var initErrors []string
	configured := 0

	if cfg.MinIO.Endpoint != "" {
		configured++
		s.MinIO, err = NewMinIO(&cfg.MinIO, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MinIO失败")
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		configured++
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err == nil {
			err = s.RabbitMQ.SetupTopology()
		}
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
			if s.RabbitMQ != nil {
				_ = s.RabbitMQ.Close()
				s.RabbitMQ = nil
			}
		}
	}

	if cfg.MySQL.Host != "" {
		configured++
		s.MySQL, err = NewMySQL(&cfg.MySQL)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MySQL失败")
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		} else {
			logger.Info().Str("database", cfg.MySQL.Database).Msg("成功连接到MySQL并完成表结构迁移")
		}
	}

	if cfg.Redis.Address != "" {
		configured++
		s.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	}

	if configured > 0 && len(initErrors) == configured {
		return nil, fmt.Errorf("所有存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	if len(initErrors) > 0 {
		logger.Warn().Str("failed", strings.Join(initErrors, "; ")).Msg("部分存储组件初始化失败")
	}
	if s.MySQL == nil {
		logger.Warn().Msg("未启用MySQL，业务数据保存在进程内存中")
		s.memory = NewMemoryStore()
	}
	return s, nil
}

// Repository 返回业务数据存储，没有 MySQL 时使用内存实现
func (s *Storage) Repository() Repository {
	if s.MySQL != nil {
		return s.MySQL
	}
	if s.memory == nil {
		s.memory = NewMemoryStore()
	}
	return s.memory
}

// ExtractionStore 返回提取记录存储，配置了 Redis 时在持久层前加热缓存
func (s *Storage) ExtractionStore() ExtractionTier {
	durable := s.Repository()
	if s.Redis == nil {
		return durable
	}
	return NewTieredExtractionStore(s.Redis, durable, s.logger)
}

// 健康检查结果
const (
	HealthOK       = "ok"
	HealthDown     = "down"
	HealthDisabled = "disabled"
)

// HealthCheck 逐个检查已启用的存储组件，每个组件最多等待 2 秒
func (s *Storage) HealthCheck(ctx context.Context) map[string]string {
	status := map[string]string{
		"mysql":    HealthDisabled,
		"redis":    HealthDisabled,
		"rabbitmq": HealthDisabled,
		"minio":    HealthDisabled,
	}
	check := func(name string, ping func(context.Context) error) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ping(pingCtx); err != nil {
			s.logger.Warn().Err(err).Str("component", name).Msg("存储组件健康检查失败")
			status[name] = HealthDown
			return
		}
		status[name] = HealthOK
	}

	if s.MySQL != nil {
		check("mysql", s.MySQL.Ping)
	}
	if s.Redis != nil {
		check("redis", s.Redis.Ping)
	}
	if s.MinIO != nil {
		check("minio", s.MinIO.Ping)
	}
	if s.RabbitMQ != nil {
		status["rabbitmq"] = HealthDown
		if s.RabbitMQ.Healthy() {
			status["rabbitmq"] = HealthOK
		}
	}
	return status
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			s.logger.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			s.logger.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
}

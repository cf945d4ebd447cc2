package storage

import (
	"context"

	"synchire-go/internal/types"

	"github.com/rs/zerolog"
)

// ExtractionTier 一层提取记录存储
type ExtractionTier interface {
	GetExtraction(ctx context.Context, kind types.ExtractionKind, hash types.ContentHash) (*types.ExtractionRecord, bool, error)
	SaveExtraction(ctx context.Context, rec *types.ExtractionRecord) error
}

// TieredExtractionStore Redis 热缓存在前、持久层在后。
// 热层读写失败只记录日志，结果以持久层为准。
type TieredExtractionStore struct {
	hot     ExtractionTier
	durable ExtractionTier
	logger  zerolog.Logger
}

// NewTieredExtractionStore hot 可以为 nil
func NewTieredExtractionStore(hot, durable ExtractionTier, logger zerolog.Logger) *TieredExtractionStore {
	return &TieredExtractionStore{hot: hot, durable: durable, logger: logger}
}

// GetExtraction 先查热层，未命中再查持久层并回填
func (t *TieredExtractionStore) GetExtraction(ctx context.Context, kind types.ExtractionKind, hash types.ContentHash) (*types.ExtractionRecord, bool, error) {
	if t.hot != nil {
		rec, ok, err := t.hot.GetExtraction(ctx, kind, hash)
		switch {
		case err != nil:
			t.logger.Warn().Err(err).Str("kind", string(kind)).Str("hash", hash.String()).Msg("读取提取热缓存失败，回源持久层")
		case ok:
			return rec, true, nil
		}
	}

	rec, ok, err := t.durable.GetExtraction(ctx, kind, hash)
	if err != nil || !ok {
		return nil, false, err
	}
	if t.hot != nil {
		if err := t.hot.SaveExtraction(ctx, rec); err != nil {
			t.logger.Warn().Err(err).Str("hash", hash.String()).Msg("回填提取热缓存失败")
		}
	}
	return rec, true, nil
}

// SaveExtraction 先写持久层，成功后写热层
func (t *TieredExtractionStore) SaveExtraction(ctx context.Context, rec *types.ExtractionRecord) error {
	if err := t.durable.SaveExtraction(ctx, rec); err != nil {
		return err
	}
	if t.hot != nil {
		if err := t.hot.SaveExtraction(ctx, rec); err != nil {
			t.logger.Warn().Err(err).Str("hash", rec.Hash.String()).Msg("写入提取热缓存失败")
		}
	}
	return nil
}

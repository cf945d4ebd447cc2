package extraction

import (
	"context"
	"strings"
	"unicode/utf8"

	"synchire-go/internal/apperr"
	"synchire-go/internal/fingerprint"
	"synchire-go/internal/types"
)

// Extractor 把原始文本转换为结构化字段的外部协作方（通常是LLM）
type Extractor interface {
	ExtractProfile(ctx context.Context, text string) (*types.StructuredProfile, error)
	ExtractJob(ctx context.Context, text string) (*types.StructuredJob, error)
}

// Service 对外提供简历/岗位的结构化提取，结果按内容哈希缓存
type Service struct {
	cache     *Cache
	extractor Extractor
	maxChars  int
}

// NewService 创建提取服务，maxChars <= 0 表示不限制长度
func NewService(cache *Cache, extractor Extractor, maxChars int) *Service {
	return &Service{cache: cache, extractor: extractor, maxChars: maxChars}
}

// ExtractCV 提取简历结构化数据
func (s *Service) ExtractCV(ctx context.Context, text string) (*types.ExtractionRecord, error) {
	if err := s.validate("ExtractCV", text); err != nil {
		return nil, err
	}
	hash := fingerprint.Hash(text)
	return s.cache.GetOrCompute(ctx, types.ExtractionKindCV, hash, func(ctx context.Context) (types.ExtractedData, error) {
		profile, err := s.extractor.ExtractProfile(ctx, text)
		if err != nil {
			return types.ExtractedData{}, err
		}
		return types.ExtractedData{Kind: types.ExtractionKindCV, Profile: profile}, nil
	})
}

// ExtractJob 提取岗位描述结构化数据
func (s *Service) ExtractJob(ctx context.Context, text string) (*types.ExtractionRecord, error) {
	if err := s.validate("ExtractJob", text); err != nil {
		return nil, err
	}
	hash := fingerprint.Hash(text)
	return s.cache.GetOrCompute(ctx, types.ExtractionKindJob, hash, func(ctx context.Context) (types.ExtractedData, error) {
		job, err := s.extractor.ExtractJob(ctx, text)
		if err != nil {
			return types.ExtractedData{}, err
		}
		return types.ExtractedData{Kind: types.ExtractionKindJob, Job: job}, nil
	})
}

// Stats 缓存统计
func (s *Service) Stats() Stats {
	return s.cache.Stats()
}

func (s *Service) validate(op, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperr.NewValidationError(op, "text is empty")
	}
	if s.maxChars > 0 && utf8.RuneCountInString(text) > s.maxChars {
		return apperr.NewValidationError(op, "text exceeds maximum length")
	}
	return nil
}

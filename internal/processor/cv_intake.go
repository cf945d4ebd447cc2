package processor

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/types"

	"github.com/rs/zerolog"
)

// CVSubmission 简历提交
type CVSubmission struct {
	Name     string
	Email    string
	Text     string // 纯文本简历，与 File 二选一
	File     []byte // PDF 原件
	FileName string
}

// CVIntakeResult 简历入库结果
type CVIntakeResult struct {
	CVID        types.ContentHash        `json:"cv_id"`
	Name        string                   `json:"name"`
	Email       string                   `json:"email"`
	Profile     *types.StructuredProfile `json:"profile"`
	ExtractedAt time.Time                `json:"extracted_at"`
	OriginalKey string                   `json:"original_key,omitempty"`
}

// CVIntake 简历入库：PDF 转文本 -> 提取（按内容哈希缓存）-> 保存候选人 -> 归档原件
type CVIntake struct {
	extractor  Extractor
	candidates CandidateStore
	pdf        PDFTextExtractor
	originals  OriginalStore
	now        func() time.Time
	logger     zerolog.Logger
}

// NewCVIntake pdf 与 originals 可以为空，为空时分别不支持 PDF 上传、不归档原件
func NewCVIntake(extractor Extractor, candidates CandidateStore, pdf PDFTextExtractor, originals OriginalStore, logger zerolog.Logger) *CVIntake {
	return &CVIntake{
		extractor:  extractor,
		candidates: candidates,
		pdf:        pdf,
		originals:  originals,
		now:        time.Now,
		logger:     logger,
	}
}

// Submit 处理一份简历
func (s *CVIntake) Submit(ctx context.Context, sub CVSubmission) (*CVIntakeResult, error) {
	const op = "SubmitCV"
	text := sub.Text
	if len(sub.File) > 0 {
		if s.pdf == nil {
			return nil, apperr.NewValidationError(op, "pdf upload is not supported")
		}
		extracted, err := s.pdf.ExtractText(ctx, sub.File, sub.FileName)
		if err != nil {
			return nil, apperr.NewValidationError(op, "unable to read pdf: "+err.Error())
		}
		text = extracted
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.NewValidationError(op, "cv text is empty")
	}

	rec, err := s.extractor.ExtractCV(ctx, text)
	if err != nil {
		return nil, err
	}

	candidate := &types.Candidate{
		CVID:      rec.Hash,
		Name:      strings.TrimSpace(sub.Name),
		Email:     strings.TrimSpace(sub.Email),
		CreatedAt: s.now().UTC(),
	}
	if err := s.candidates.SaveCandidate(ctx, candidate); err != nil {
		return nil, apperr.NewInternalError(op, rec.Hash.String(), err)
	}

	result := &CVIntakeResult{
		CVID:        rec.Hash,
		Name:        candidate.Name,
		Email:       candidate.Email,
		Profile:     rec.Profile,
		ExtractedAt: rec.ExtractedAt,
	}

	if len(sub.File) > 0 && s.originals != nil {
		ext := filepath.Ext(sub.FileName)
		if ext == "" {
			ext = ".pdf"
		}
		key, err := s.originals.PutCVOriginal(ctx, rec.Hash.String(), ext, sub.File)
		if err != nil {
			// 原件归档失败不影响入库
			s.logger.Warn().Err(err).Str("cv_id", rec.Hash.String()).Msg("简历原件归档失败")
		} else {
			result.OriginalKey = key
		}
	}

	s.logger.Info().Str("cv_id", rec.Hash.String()).Int("skills", skillCount(rec.Profile)).Msg("简历已入库")
	return result, nil
}

func skillCount(p *types.StructuredProfile) int {
	if p == nil {
		return 0
	}
	return len(p.Skills)
}

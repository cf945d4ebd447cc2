package processor

import (
	"context"
	"time"

	"synchire-go/internal/lifecycle"
	"synchire-go/internal/storage/models"
	"synchire-go/internal/types"
)

// JobStore 岗位读写
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	SaveJob(ctx context.Context, job *types.Job) error
}

// MatchStore 批量匹配需要的存储能力
type MatchStore interface {
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	GetApplicationsForJob(ctx context.Context, jobID string) ([]*types.Application, error)
	ListCandidateProfiles(ctx context.Context) ([]types.CandidateProfile, error)
}

// SessionStore 面试会话（call_id -> 申请）的读写
type SessionStore interface {
	GetInterviewSession(ctx context.Context, callID string) (*types.InterviewSession, error)
	SaveInterviewSession(ctx context.Context, s *types.InterviewSession) error
}

// CandidateStore 候选人身份与简历提取结果
type CandidateStore interface {
	SaveCandidate(ctx context.Context, c *types.Candidate) error
	GetMostRecentCVExtraction(ctx context.Context, cvID types.ContentHash) (*types.ExtractionRecord, error)
}

// OutboxWriter 写入发件箱
type OutboxWriter interface {
	EnqueueOutbox(ctx context.Context, msg *models.OutboxMessage) error
}

// Scorer 候选人与岗位的打分
type Scorer interface {
	Score(profile *types.StructuredProfile, job *types.StructuredJob) types.MatchResult
}

// Extractor 经过缓存的结构化提取
type Extractor interface {
	ExtractCV(ctx context.Context, text string) (*types.ExtractionRecord, error)
	ExtractJob(ctx context.Context, text string) (*types.ExtractionRecord, error)
}

// PDFTextExtractor 从 PDF 字节中提取纯文本
type PDFTextExtractor interface {
	ExtractText(ctx context.Context, data []byte, uri string) (string, error)
}

// OriginalStore 保存简历原件
type OriginalStore interface {
	PutCVOriginal(ctx context.Context, cvID, fileExt string, data []byte) (string, error)
}

// TranscriptStore 归档面试记录
type TranscriptStore interface {
	PutTranscript(ctx context.Context, callID string, data []byte) (string, error)
}

// Lifecycle 申请状态机，由 lifecycle.Manager 实现
type Lifecycle interface {
	Create(ctx context.Context, jobID string, who lifecycle.Identity, source types.ApplicationSource) (*types.Application, bool, error)
	RecordMatch(ctx context.Context, jobID string, who lifecycle.Identity, result types.MatchResult, qualification types.Qualification, source types.ApplicationSource) (*types.Application, bool, error)
	ScheduleInterview(ctx context.Context, applicationID, sessionID string, questionsHash types.ContentHash) (*types.Application, error)
	StartInterview(ctx context.Context, applicationID string) (*types.Application, bool, error)
	CompleteInterview(ctx context.Context, applicationID string, opts ...lifecycle.CompleteOption) (*types.Application, bool, error)
	AttachEvaluation(ctx context.Context, applicationID, evaluationID string) (*types.Application, error)
	ExpireInactive(ctx context.Context, before time.Time, batchSize int) (int, error)
	Get(ctx context.Context, applicationID string) (*types.Application, error)
}

// EventLedger 回调事件去重账本，MarkEventOnce 第一次返回 true
type EventLedger interface {
	MarkEventOnce(ctx context.Context, scope, eventID string) (bool, error)
	ForgetEvent(ctx context.Context, scope, eventID string) error
}

var _ Lifecycle = (*lifecycle.Manager)(nil)

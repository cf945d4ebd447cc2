package handler

import (
	"context"

	"synchire-go/internal/processor"
	"synchire-go/internal/types"
)

// JobService 岗位创建、查询与状态变更
type JobService interface {
	CreateJob(ctx context.Context, draft processor.JobDraft) (*types.Job, error)
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, update processor.JobUpdate) (*types.Job, error)
}

// Matcher 批量匹配
type Matcher interface {
	MatchCandidates(ctx context.Context, jobID string) (*types.MatchSummary, error)
}

// ApplicationService 申请与面试相关用例
type ApplicationService interface {
	Apply(ctx context.Context, jobID string, req processor.ApplyRequest) (*types.Application, bool, error)
	ListApplications(ctx context.Context, jobID string) ([]*types.Application, error)
	ScheduleInterview(ctx context.Context, applicationID string, req processor.ScheduleRequest) (*types.Application, *types.InterviewSession, error)
	AttachEvaluation(ctx context.Context, applicationID, evaluationID string) (*types.Application, error)
	GetApplication(ctx context.Context, applicationID string) (*types.Application, error)
	ActiveInterviews(ctx context.Context) ([]processor.ActiveInterview, error)
}

// CVIntake 简历入库
type CVIntake interface {
	Submit(ctx context.Context, sub processor.CVSubmission) (*processor.CVIntakeResult, error)
}

// WebhookProcessor 面试回调
type WebhookProcessor interface {
	ParseEvent(body []byte, defaultStatus types.InterviewEventStatus) (*types.InterviewEvent, error)
	OnInterviewComplete(ctx context.Context, ev *types.InterviewEvent) (*types.WebhookAck, error)
	OnInterviewStarted(ctx context.Context, ev *types.InterviewEvent) (*types.WebhookAck, error)
}

var (
	_ JobService         = (*processor.JobService)(nil)
	_ Matcher            = (*processor.MatchOrchestrator)(nil)
	_ ApplicationService = (*processor.ApplicationService)(nil)
	_ CVIntake           = (*processor.CVIntake)(nil)
	_ WebhookProcessor   = (*processor.InterviewWebhookProcessor)(nil)
)

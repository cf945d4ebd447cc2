package storage

import (
	"context"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/storage/models"
	"synchire-go/internal/types"
)

// errSessionExists call_id 已映射到某个申请
func errSessionExists(callID string) error {
	return apperr.NewValidationError("CreateInterviewSession", "call_id "+callID+" is already mapped to an application")
}

// Repository 业务数据的持久化接口，MySQL 与 MemoryStore 各有一份实现
type Repository interface {
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	SaveJob(ctx context.Context, job *types.Job) error

	GetApplication(ctx context.Context, applicationID string) (*types.Application, error)
	FindApplication(ctx context.Context, jobID string, cvID types.ContentHash) (*types.Application, error)
	SaveApplication(ctx context.Context, app *types.Application) error
	GetApplicationsForJob(ctx context.Context, jobID string) ([]*types.Application, error)
	ListInactiveApplications(ctx context.Context, before time.Time, limit int) ([]*types.Application, error)

	GetExtraction(ctx context.Context, kind types.ExtractionKind, hash types.ContentHash) (*types.ExtractionRecord, bool, error)
	SaveExtraction(ctx context.Context, rec *types.ExtractionRecord) error
	GetMostRecentCVExtraction(ctx context.Context, cvID types.ContentHash) (*types.ExtractionRecord, error)

	SaveCandidate(ctx context.Context, c *types.Candidate) error
	ListCandidateProfiles(ctx context.Context) ([]types.CandidateProfile, error)

	SaveInterviewSession(ctx context.Context, s *types.InterviewSession) error
	CreateInterviewSession(ctx context.Context, s *types.InterviewSession) error
	DeleteInterviewSession(ctx context.Context, callID string) error
	GetInterviewSession(ctx context.Context, callID string) (*types.InterviewSession, error)
	ListActiveSessions(ctx context.Context) ([]*types.InterviewSession, error)

	EnqueueOutbox(ctx context.Context, msg *models.OutboxMessage) error
}

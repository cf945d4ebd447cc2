package processor

import (
	"context"
	"strings"
	"sync"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/types"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
)

// JobDraft 创建岗位的输入
type JobDraft struct {
	Title               string               `json:"title" validate:"required,max=255"`
	Description         string               `json:"description" validate:"required"`
	Requirements        *types.StructuredJob `json:"requirements,omitempty"`
	Status              types.JobStatus      `json:"status" validate:"omitempty,oneof=DRAFT ACTIVE CLOSED"`
	AIMatchingEnabled   *bool                `json:"ai_matching_enabled,omitempty"`
	AIMatchingThreshold int                  `json:"ai_matching_threshold" validate:"gte=0,lte=100"`
}

// JobUpdate 岗位状态变更的输入
type JobUpdate struct {
	Status types.JobStatus `json:"status" validate:"required,oneof=DRAFT ACTIVE CLOSED"`
}

// jobTransitions 岗位允许的状态变更，CLOSED 为终态
var jobTransitions = map[types.JobStatus][]types.JobStatus{
	types.JobStatusDraft:  {types.JobStatusActive, types.JobStatusClosed},
	types.JobStatusActive: {types.JobStatusClosed},
}

// JobService 岗位创建与查询；未提供结构化要求时通过提取缓存从描述中抽取
type JobService struct {
	mu        sync.Mutex
	store     JobStore
	extractor Extractor
	validate  *validator.Validate
	now       func() time.Time
	logger    zerolog.Logger
}

// NewJobService 创建岗位服务
func NewJobService(store JobStore, extractor Extractor, logger zerolog.Logger) *JobService {
	return &JobService{
		store:     store,
		extractor: extractor,
		validate:  validator.New(),
		now:       time.Now,
		logger:    logger,
	}
}

// CreateJob 创建岗位，默认 ACTIVE 且开启 AI 匹配
func (s *JobService) CreateJob(ctx context.Context, draft JobDraft) (*types.Job, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	if err := s.validate.Struct(draft); err != nil {
		return nil, apperr.NewValidationError("CreateJob", err.Error())
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.NewInternalError("CreateJob", "", err)
	}
	now := s.now().UTC()
	job := &types.Job{
		ID:                  id.String(),
		Title:               draft.Title,
		Description:         draft.Description,
		Status:              types.JobStatusActive,
		AIMatchingEnabled:   true,
		AIMatchingThreshold: draft.AIMatchingThreshold,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if draft.Status != "" {
		job.Status = draft.Status
	}
	if draft.AIMatchingEnabled != nil {
		job.AIMatchingEnabled = *draft.AIMatchingEnabled
	}

	if draft.Requirements != nil {
		job.Requirements = *draft.Requirements
	} else {
		rec, err := s.extractor.ExtractJob(ctx, draft.Description)
		if err != nil {
			return nil, err
		}
		job.DescriptionHash = rec.Hash
		if rec.Job != nil {
			job.Requirements = *rec.Job
		}
	}

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, apperr.NewInternalError("CreateJob", job.ID, err)
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Int("required_skills", len(job.Requirements.RequiredSkills)).
		Msg("岗位已创建")
	return job, nil
}

// GetJob 查询岗位
func (s *JobService) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// UpdateJobStatus 变更岗位状态；与当前状态相同时原样返回
func (s *JobService) UpdateJobStatus(ctx context.Context, jobID string, update JobUpdate) (*types.Job, error) {
	if err := s.validate.Struct(update); err != nil {
		return nil, apperr.NewValidationError("UpdateJobStatus", err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == update.Status {
		return job, nil
	}
	if !jobStatusAllowed(job.Status, update.Status) {
		return nil, apperr.NewJobStatusError(jobID, job.Status, update.Status)
	}

	previous := job.Status
	job.Status = update.Status
	job.UpdatedAt = s.now().UTC()
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, apperr.NewInternalError("UpdateJobStatus", jobID, err)
	}
	s.logger.Info().
		Str("job_id", jobID).
		Str("from", string(previous)).
		Str("to", string(job.Status)).
		Msg("岗位状态已变更")
	return job, nil
}

func jobStatusAllowed(from, to types.JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package processor

import (
	"context"
	"sort"
	"strings"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/fingerprint"
	"synchire-go/internal/lifecycle"
	"synchire-go/internal/types"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ApplicationStore 申请服务需要的存储能力
type ApplicationStore interface {
	JobStore
	SessionStore
	CandidateStore
	GetApplicationsForJob(ctx context.Context, jobID string) ([]*types.Application, error)
	ListActiveSessions(ctx context.Context) ([]*types.InterviewSession, error)
	// CreateInterviewSession 只插入，call_id 已存在时返回 VALIDATION
	CreateInterviewSession(ctx context.Context, s *types.InterviewSession) error
	DeleteInterviewSession(ctx context.Context, callID string) error
}

// ApplyRequest 候选人主动投递
type ApplyRequest struct {
	CVID  types.ContentHash `json:"cv_id" validate:"required,len=64,hexadecimal"`
	Name  string            `json:"name" validate:"max=255"`
	Email string            `json:"email" validate:"omitempty,email"`
}

// ScheduleRequest 安排面试
type ScheduleRequest struct {
	CallID    string                    `json:"call_id" validate:"omitempty,max=128"`
	Questions []types.InterviewQuestion `json:"questions" validate:"required,min=1,dive"`
}

// ActiveInterview 进行中的面试
type ActiveInterview struct {
	Session       *types.InterviewSession `json:"session"`
	JobID         string                  `json:"job_id"`
	CandidateName string                  `json:"candidate_name"`
	Status        types.ApplicationStatus `json:"status"`
}

// ApplicationService 申请相关的用例：投递、安排面试、挂接评估、查询
type ApplicationService struct {
	store     ApplicationStore
	lifecycle Lifecycle
	scorer    Scorer
	validate  *validator.Validate
	now       func() time.Time
	logger    zerolog.Logger
}

// NewApplicationService 创建申请服务
func NewApplicationService(store ApplicationStore, lc Lifecycle, scorer Scorer, logger zerolog.Logger) *ApplicationService {
	return &ApplicationService{
		store:     store,
		lifecycle: lc,
		scorer:    scorer,
		validate:  validator.New(),
		now:       time.Now,
		logger:    logger,
	}
}

// Apply 候选人主动投递：创建申请并立即打分
func (s *ApplicationService) Apply(ctx context.Context, jobID string, req ApplyRequest) (*types.Application, bool, error) {
	const op = "Apply"
	req.CVID = types.ContentHash(strings.ToLower(strings.TrimSpace(string(req.CVID))))
	if err := s.validate.Struct(req); err != nil {
		return nil, false, apperr.NewValidationError(op, err.Error())
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.Status != types.JobStatusActive {
		return nil, false, apperr.NewNotFoundError(op, jobID, "job is not active")
	}
	rec, err := s.store.GetMostRecentCVExtraction(ctx, req.CVID)
	if err != nil {
		return nil, false, err
	}

	who := lifecycle.Identity{CVID: req.CVID, Name: req.Name, Email: req.Email}
	app, created, err := s.lifecycle.Create(ctx, jobID, who, types.SourceCandidateInitiated)
	if err != nil {
		return nil, false, err
	}
	if app.Status != types.StatusCreated && app.Status != types.StatusMatched {
		return app, created, nil
	}

	result := s.scorer.Score(rec.Profile, &job.Requirements)
	qualification := types.QualificationQualified
	if result.Score < job.AIMatchingThreshold {
		qualification = types.QualificationBelowThreshold
	}
	scored, _, err := s.lifecycle.RecordMatch(ctx, jobID, who, result, qualification, types.SourceCandidateInitiated)
	if err != nil {
		return nil, created, err
	}
	return scored, created, nil
}

// ListApplications 岗位下的申请，按分数降序
func (s *ApplicationService) ListApplications(ctx context.Context, jobID string) ([]*types.Application, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	apps, err := s.store.GetApplicationsForJob(ctx, jobID)
	if err != nil {
		return nil, apperr.NewInternalError("ListApplications", jobID, err)
	}
	sort.SliceStable(apps, func(i, j int) bool {
		return apps[i].MatchScore > apps[j].MatchScore
	})
	return apps, nil
}

// ScheduleInterview 为 MATCHED 的申请安排面试，记录 call_id 映射和问题集哈希。
// 先写会话映射再做状态转换，转换失败时删除本次新建的映射；
// call_id 已映射到其他申请时拒绝。
func (s *ApplicationService) ScheduleInterview(ctx context.Context, applicationID string, req ScheduleRequest) (*types.Application, *types.InterviewSession, error) {
	const op = "ScheduleInterview"
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, apperr.NewValidationError(op, err.Error())
	}
	callID := strings.TrimSpace(req.CallID)
	if callID == "" {
		callID = uuid.NewString()
	}

	texts := make([]string, len(req.Questions))
	for i, q := range req.Questions {
		texts[i] = q.Text
	}
	questionsHash := fingerprint.HashLines(texts)

	session := &types.InterviewSession{
		CallID:        callID,
		ApplicationID: applicationID,
		QuestionsHash: questionsHash,
		QuestionCount: len(req.Questions),
		ScheduledAt:   s.now().UTC(),
	}

	created := false
	existing, err := s.store.GetInterviewSession(ctx, callID)
	switch {
	case err == nil:
		if existing.ApplicationID != applicationID {
			s.logger.Warn().
				Str("call_id", callID).
				Str("application_id", applicationID).
				Str("mapped_application_id", existing.ApplicationID).
				Msg("call_id 已被其他申请占用")
			return nil, nil, apperr.NewValidationError(op, "call_id "+callID+" is already mapped to another application")
		}
		// 上次安排在状态转换前中断，沿用已有映射
	case apperr.KindOf(err) == apperr.KindNotFound:
		if err := s.store.CreateInterviewSession(ctx, session); err != nil {
			if apperr.KindOf(err) == apperr.KindValidation {
				return nil, nil, err
			}
			return nil, nil, apperr.NewInternalError(op, applicationID, err)
		}
		created = true
	default:
		return nil, nil, apperr.NewInternalError(op, applicationID, err)
	}

	app, err := s.lifecycle.ScheduleInterview(ctx, applicationID, callID, questionsHash)
	if err != nil {
		if created {
			if derr := s.store.DeleteInterviewSession(ctx, callID); derr != nil {
				s.logger.Error().Err(derr).Str("call_id", callID).Msg("回滚面试会话映射失败")
			}
		}
		return nil, nil, err
	}
	if !created {
		// 转换成功说明旧映射是未生效的残留，用本次的问题集覆盖
		if err := s.store.SaveInterviewSession(ctx, session); err != nil {
			s.logger.Warn().Err(err).Str("call_id", callID).Msg("更新面试会话失败")
		}
	}

	s.logger.Info().
		Str("application_id", app.ID).
		Str("call_id", callID).
		Int("questions", len(req.Questions)).
		Msg("面试已安排")
	return app, session, nil
}

// AttachEvaluation 面试评估结果回写
func (s *ApplicationService) AttachEvaluation(ctx context.Context, applicationID, evaluationID string) (*types.Application, error) {
	return s.lifecycle.AttachEvaluation(ctx, applicationID, strings.TrimSpace(evaluationID))
}

// GetApplication 查询申请
func (s *ApplicationService) GetApplication(ctx context.Context, applicationID string) (*types.Application, error) {
	return s.lifecycle.Get(ctx, applicationID)
}

// ActiveInterviews 尚未完成的面试会话
func (s *ApplicationService) ActiveInterviews(ctx context.Context) ([]ActiveInterview, error) {
	sessions, err := s.store.ListActiveSessions(ctx)
	if err != nil {
		return nil, apperr.NewInternalError("ActiveInterviews", "", err)
	}
	out := make([]ActiveInterview, 0, len(sessions))
	for _, sess := range sessions {
		item := ActiveInterview{Session: sess}
		if app, err := s.lifecycle.Get(ctx, sess.ApplicationID); err == nil {
			item.JobID = app.JobID
			item.CandidateName = app.CandidateName
			item.Status = app.Status
		} else {
			s.logger.Warn().Err(err).Str("call_id", sess.CallID).Msg("面试会话对应的申请不存在")
		}
		out = append(out, item)
	}
	return out, nil
}

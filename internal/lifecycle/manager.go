// Package lifecycle 管理申请从创建到面试完成、评分的状态机
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/constants"
	"synchire-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
)

const (
	defaultLockTTL   = 30 * time.Second
	defaultLockRetry = 50 * time.Millisecond
	defaultLockWait  = 10 * time.Second
)

// Store 申请存储
type Store interface {
	GetApplication(ctx context.Context, id string) (*types.Application, error)
	FindApplication(ctx context.Context, jobID string, cvID types.ContentHash) (*types.Application, error)
	SaveApplication(ctx context.Context, app *types.Application) error
	ListInactiveApplications(ctx context.Context, before time.Time, limit int) ([]*types.Application, error)
}

// Locker 跨进程锁，AcquireLock 返回空字符串表示锁被占用
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, value string) (bool, error)
}

// Identity 候选人身份
type Identity struct {
	CVID  types.ContentHash
	Name  string
	Email string
}

// Manager 状态迁移按申请ID串行执行，迁移在副本上完成，保存成功后才生效
type Manager struct {
	store   Store
	locks   *KeyedMutex
	locker  Locker
	logger  zerolog.Logger
	now     func() time.Time
	lockTTL time.Duration
}

// Option 管理器选项
type Option func(*Manager)

// WithDistributedLock 启用 Redis 分布式锁
func WithDistributedLock(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 创建生命周期管理器
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   NewKeyedMutex(),
		logger:  zerolog.Nop(),
		now:     time.Now,
		lockTTL: defaultLockTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create 创建 CREATED 状态的申请；同一 (jobID, cvID) 已存在时返回已有申请，created=false
func (m *Manager) Create(ctx context.Context, jobID string, who Identity, source types.ApplicationSource) (*types.Application, bool, error) {
	if jobID == "" || who.CVID == "" {
		return nil, false, apperr.NewValidationError("Create", "job id and cv id are required")
	}
	unlock := m.locks.Lock(pairKey(jobID, who.CVID))
	defer unlock()

	existing, err := m.find(ctx, jobID, who.CVID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	app, err := m.newApplication(jobID, who, source)
	if err != nil {
		return nil, false, err
	}
	if err := m.store.SaveApplication(ctx, app); err != nil {
		return nil, false, apperr.NewInternalError("Create", app.ID, err)
	}
	m.logger.Info().Str("application_id", app.ID).Str("job_id", jobID).Str("source", string(source)).Msg("申请已创建")
	return app, true, nil
}

// RecordMatch 记录匹配结果：不存在时创建并进入 MATCHED，CREATED 进入 MATCHED，MATCHED 刷新分数。
// 其他状态返回 StateTransitionError。
func (m *Manager) RecordMatch(ctx context.Context, jobID string, who Identity, result types.MatchResult, qualification types.Qualification, source types.ApplicationSource) (*types.Application, bool, error) {
	if jobID == "" || who.CVID == "" {
		return nil, false, apperr.NewValidationError("RecordMatch", "job id and cv id are required")
	}
	unlockPair := m.locks.Lock(pairKey(jobID, who.CVID))
	defer unlockPair()

	existing, err := m.find(ctx, jobID, who.CVID)
	if err != nil {
		return nil, false, err
	}

	apply := func(app *types.Application) {
		app.MatchScore = result.Score
		app.MatchReasons = append([]string{}, result.Reasons...)
		app.SkillGaps = append([]string{}, result.Gaps...)
		app.Qualification = qualification
		if who.Name != "" {
			app.CandidateName = who.Name
		}
		if who.Email != "" {
			app.CandidateEmail = who.Email
		}
	}

	if existing == nil {
		app, err := m.newApplication(jobID, who, source)
		if err != nil {
			return nil, false, err
		}
		apply(app)
		app.Status = types.StatusMatched
		if err := m.store.SaveApplication(ctx, app); err != nil {
			return nil, false, apperr.NewInternalError("RecordMatch", app.ID, err)
		}
		return app, true, nil
	}

	app, err := m.transition(ctx, "RecordMatch", existing.ID, types.StatusMatched, func(app *types.Application) error {
		apply(app)
		return nil
	})
	return app, false, err
}

// ScheduleInterview MATCHED -> INTERVIEW_SCHEDULED
func (m *Manager) ScheduleInterview(ctx context.Context, applicationID, sessionID string, questionsHash types.ContentHash) (*types.Application, error) {
	if sessionID == "" {
		return nil, apperr.NewValidationError("ScheduleInterview", "session id is required")
	}
	return m.transition(ctx, "ScheduleInterview", applicationID, types.StatusInterviewScheduled, func(app *types.Application) error {
		app.InterviewSessionID = sessionID
		app.QuestionsHash = questionsHash
		return nil
	})
}

// StartInterview INTERVIEW_SCHEDULED -> INTERVIEW_IN_PROGRESS，已在进行中时为空操作（changed=false）
func (m *Manager) StartInterview(ctx context.Context, applicationID string) (*types.Application, bool, error) {
	var changed bool
	app, err := m.withLock(ctx, applicationID, func(cur *types.Application) (*types.Application, error) {
		if cur.Status == types.StatusInterviewInProgress {
			return cur, nil
		}
		next, err := m.apply(ctx, "StartInterview", cur, types.StatusInterviewInProgress, nil)
		if err == nil {
			changed = true
		}
		return next, err
	})
	return app, changed, err
}

// CompleteOption 完成面试时的选项
type CompleteOption func(*completeOptions)

type completeOptions struct {
	impliedStart bool
}

// WithImpliedStart 申请仍处于 INTERVIEW_SCHEDULED 时先补上 IN_PROGRESS 步骤
func WithImpliedStart() CompleteOption {
	return func(o *completeOptions) { o.impliedStart = true }
}

// CompleteInterview INTERVIEW_IN_PROGRESS -> INTERVIEW_COMPLETED。
// 已完成（或已评分）时为空操作，changed=false。
func (m *Manager) CompleteInterview(ctx context.Context, applicationID string, opts ...CompleteOption) (*types.Application, bool, error) {
	var o completeOptions
	for _, opt := range opts {
		opt(&o)
	}
	var changed bool
	app, err := m.withLock(ctx, applicationID, func(cur *types.Application) (*types.Application, error) {
		if cur.Status == types.StatusInterviewCompleted || cur.Status == types.StatusScored {
			return cur, nil
		}
		if cur.Status == types.StatusInterviewScheduled && o.impliedStart {
			// 两步在同一个副本上完成，一次保存
			next := cur.Clone()
			next.Status = types.StatusInterviewInProgress
			saved, err := m.apply(ctx, "CompleteInterview", next, types.StatusInterviewCompleted, nil)
			if err == nil {
				changed = true
			}
			return saved, err
		}
		next, err := m.apply(ctx, "CompleteInterview", cur, types.StatusInterviewCompleted, nil)
		if err == nil {
			changed = true
		}
		return next, err
	})
	return app, changed, err
}

// AttachEvaluation INTERVIEW_COMPLETED -> SCORED
func (m *Manager) AttachEvaluation(ctx context.Context, applicationID, evaluationID string) (*types.Application, error) {
	if evaluationID == "" {
		return nil, apperr.NewValidationError("AttachEvaluation", "evaluation id is required")
	}
	return m.transition(ctx, "AttachEvaluation", applicationID, types.StatusScored, func(app *types.Application) error {
		app.EvaluationID = evaluationID
		return nil
	})
}

// Expire 任意非 EXPIRED 状态 -> EXPIRED，已过期时为空操作
func (m *Manager) Expire(ctx context.Context, applicationID string) (*types.Application, bool, error) {
	var changed bool
	app, err := m.withLock(ctx, applicationID, func(cur *types.Application) (*types.Application, error) {
		if cur.Status == types.StatusExpired {
			return cur, nil
		}
		next, err := m.apply(ctx, "Expire", cur, types.StatusExpired, nil)
		if err == nil {
			changed = true
		}
		return next, err
	})
	return app, changed, err
}

// ExpireInactive 把 before 之前没有更新过的申请批量置为 EXPIRED，返回过期数量。
// 单个申请失败不会中断整批。
func (m *Manager) ExpireInactive(ctx context.Context, before time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	apps, err := m.store.ListInactiveApplications(ctx, before, batchSize)
	if err != nil {
		return 0, apperr.NewInternalError("ExpireInactive", "", err)
	}
	expired := 0
	for _, a := range apps {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		_, changed, err := m.Expire(ctx, a.ID)
		if err != nil {
			m.logger.Warn().Err(err).Str("application_id", a.ID).Msg("过期申请失败")
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

// Get 读取申请
func (m *Manager) Get(ctx context.Context, applicationID string) (*types.Application, error) {
	return m.load(ctx, "Get", applicationID)
}

// transition 加锁 -> 读取 -> 校验 -> 在副本上修改 -> 保存
func (m *Manager) transition(ctx context.Context, op, applicationID string, to types.ApplicationStatus, mutate func(*types.Application) error) (*types.Application, error) {
	return m.withLock(ctx, applicationID, func(cur *types.Application) (*types.Application, error) {
		return m.apply(ctx, op, cur, to, mutate)
	})
}

func (m *Manager) apply(ctx context.Context, op string, cur *types.Application, to types.ApplicationStatus, mutate func(*types.Application) error) (*types.Application, error) {
	if !CanTransition(cur.Status, to) {
		return nil, apperr.NewStateTransitionError(cur.ID, cur.Status, to)
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	from := next.Status
	next.Status = to
	next.UpdatedAt = m.now().UTC()
	if err := m.store.SaveApplication(ctx, next); err != nil {
		return nil, apperr.NewInternalError(op, cur.ID, err)
	}
	m.logger.Info().
		Str("application_id", next.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("申请状态迁移")
	return next, nil
}

// withLock 进程内按ID串行，配置了分布式锁时再获取跨进程锁
func (m *Manager) withLock(ctx context.Context, applicationID string, fn func(cur *types.Application) (*types.Application, error)) (*types.Application, error) {
	if applicationID == "" {
		return nil, apperr.NewValidationError("transition", "application id is required")
	}
	unlock := m.locks.Lock(applicationID)
	defer unlock()

	if m.locker != nil {
		release, err := m.acquireDistributed(ctx, applicationID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	cur, err := m.load(ctx, "transition", applicationID)
	if err != nil {
		return nil, err
	}
	return fn(cur)
}

func (m *Manager) acquireDistributed(ctx context.Context, applicationID string) (func(), error) {
	key := fmt.Sprintf(constants.KeyApplicationLock, applicationID)
	waitCtx, cancel := context.WithTimeout(ctx, defaultLockWait)
	defer cancel()
	for {
		value, err := m.locker.AcquireLock(waitCtx, key, m.lockTTL)
		if err != nil {
			return nil, apperr.NewInternalError("acquireLock", applicationID, err)
		}
		if value != "" {
			return func() {
				if _, err := m.locker.ReleaseLock(context.WithoutCancel(ctx), key, value); err != nil {
					m.logger.Warn().Err(err).Str("lock_key", key).Msg("释放申请锁失败")
				}
			}, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, apperr.NewInternalError("acquireLock", applicationID, waitCtx.Err())
		case <-time.After(defaultLockRetry):
		}
	}
}

func (m *Manager) load(ctx context.Context, op, applicationID string) (*types.Application, error) {
	app, err := m.store.GetApplication(ctx, applicationID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, err
		}
		return nil, apperr.NewInternalError(op, applicationID, err)
	}
	if app == nil {
		return nil, apperr.NewNotFoundError(op, applicationID, "application not found")
	}
	return app, nil
}

// find 按 (jobID, cvID) 查找，不存在返回 nil, nil
func (m *Manager) find(ctx context.Context, jobID string, cvID types.ContentHash) (*types.Application, error) {
	app, err := m.store.FindApplication(ctx, jobID, cvID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil
		}
		return nil, apperr.NewInternalError("FindApplication", jobID, err)
	}
	return app, nil
}

func (m *Manager) newApplication(jobID string, who Identity, source types.ApplicationSource) (*types.Application, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.NewInternalError("newApplication", jobID, err)
	}
	if source == "" {
		source = types.SourceAIMatched
	}
	now := m.now().UTC()
	return &types.Application{
		ID:             id.String(),
		JobID:          jobID,
		CVID:           who.CVID,
		CandidateName:  strings.TrimSpace(who.Name),
		CandidateEmail: strings.TrimSpace(who.Email),
		MatchReasons:   []string{},
		SkillGaps:      []string{},
		Status:         types.StatusCreated,
		Source:         source,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func pairKey(jobID string, cvID types.ContentHash) string {
	return "pair:" + jobID + ":" + string(cvID)
}

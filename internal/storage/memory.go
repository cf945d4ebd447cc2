package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/storage/models"
	"synchire-go/internal/types"
)

var _ Repository = (*MemoryStore)(nil)

var errDuplicatePair = errors.New("application for (job_id, cv_id) already exists")

// MemoryStore 进程内实现，用于未配置 MySQL 的本地运行和单元测试。
// 读写都做拷贝，调用方拿到的对象与存储内容互不影响。
type MemoryStore struct {
	mu           sync.RWMutex
	jobs         map[string]types.Job
	applications map[string]*types.Application
	byPair       map[string]string
	extractions  map[string]types.ExtractionRecord
	candidates   map[types.ContentHash]types.Candidate
	sessions     map[string]types.InterviewSession
	outbox       []models.OutboxMessage
	outboxIDs    map[string]struct{}
	seq          uint64
}

// NewMemoryStore 创建空的内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:         make(map[string]types.Job),
		applications: make(map[string]*types.Application),
		byPair:       make(map[string]string),
		extractions:  make(map[string]types.ExtractionRecord),
		candidates:   make(map[types.ContentHash]types.Candidate),
		sessions:     make(map[string]types.InterviewSession),
		outboxIDs:    make(map[string]struct{}),
	}
}

func extractionKey(kind types.ExtractionKind, hash types.ContentHash) string {
	return string(kind) + ":" + string(hash)
}

func pairIndexKey(jobID string, cvID types.ContentHash) string {
	return jobID + "|" + string(cvID)
}

func cloneJob(j types.Job) *types.Job {
	c := j
	c.Requirements.RequiredSkills = append([]types.SkillRequirement(nil), j.Requirements.RequiredSkills...)
	c.Requirements.Responsibilities = append([]string(nil), j.Requirements.Responsibilities...)
	return &c
}

func cloneProfile(p *types.StructuredProfile) *types.StructuredProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Skills = append([]string(nil), p.Skills...)
	c.Experience = append([]types.ExperienceEntry(nil), p.Experience...)
	return &c
}

func cloneStructuredJob(j *types.StructuredJob) *types.StructuredJob {
	if j == nil {
		return nil
	}
	c := *j
	c.RequiredSkills = append([]types.SkillRequirement(nil), j.RequiredSkills...)
	c.Responsibilities = append([]string(nil), j.Responsibilities...)
	return &c
}

func cloneExtraction(r types.ExtractionRecord) *types.ExtractionRecord {
	c := r
	c.Profile = cloneProfile(r.Profile)
	c.Job = cloneStructuredJob(r.Job)
	return &c
}

func cloneSession(s types.InterviewSession) *types.InterviewSession {
	c := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// GetJob 按ID读取岗位
func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, apperr.NewNotFoundError("GetJob", jobID, "job not found")
	}
	return cloneJob(j), nil
}

// SaveJob 新建或覆盖岗位
func (s *MemoryStore) SaveJob(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *cloneJob(*job)
	return nil
}

// GetApplication 按ID读取申请
func (s *MemoryStore) GetApplication(_ context.Context, applicationID string) (*types.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.applications[applicationID]
	if !ok {
		return nil, apperr.NewNotFoundError("GetApplication", applicationID, "application not found")
	}
	return app.Clone(), nil
}

// FindApplication 按 (job_id, cv_id) 查找，不存在时返回 nil, nil
func (s *MemoryStore) FindApplication(_ context.Context, jobID string, cvID types.ContentHash) (*types.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pairIndexKey(jobID, cvID)]
	if !ok {
		return nil, nil
	}
	return s.applications[id].Clone(), nil
}

// SaveApplication 写入申请，(job_id, cv_id) 冲突时返回错误
func (s *MemoryStore) SaveApplication(_ context.Context, app *types.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairIndexKey(app.JobID, app.CVID)
	if existing, ok := s.byPair[key]; ok && existing != app.ID {
		return apperr.NewInternalError("SaveApplication", app.ID, errDuplicatePair)
	}
	s.applications[app.ID] = app.Clone()
	s.byPair[key] = app.ID
	return nil
}

// GetApplicationsForJob 返回岗位下所有申请，按创建时间排序
func (s *MemoryStore) GetApplicationsForJob(_ context.Context, jobID string) ([]*types.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Application, 0)
	for _, app := range s.applications {
		if app.JobID == jobID {
			out = append(out, app.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListInactiveApplications 返回 updated_at 早于 before 且未到终态的申请
func (s *MemoryStore) ListInactiveApplications(_ context.Context, before time.Time, limit int) ([]*types.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Application, 0)
	for _, app := range s.applications {
		if app.Status.IsTerminal() || !app.UpdatedAt.Before(before) {
			continue
		}
		out = append(out, app.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetExtraction 读取提取记录
func (s *MemoryStore) GetExtraction(_ context.Context, kind types.ExtractionKind, hash types.ContentHash) (*types.ExtractionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.extractions[extractionKey(kind, hash)]
	if !ok {
		return nil, false, nil
	}
	return cloneExtraction(rec), true, nil
}

// SaveExtraction 写入提取记录，已存在时保留原值
func (s *MemoryStore) SaveExtraction(_ context.Context, rec *types.ExtractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := extractionKey(rec.Kind, rec.Hash)
	if _, ok := s.extractions[key]; ok {
		return nil
	}
	s.extractions[key] = *cloneExtraction(*rec)
	return nil
}

// GetMostRecentCVExtraction 读取候选人简历的提取结果
func (s *MemoryStore) GetMostRecentCVExtraction(_ context.Context, cvID types.ContentHash) (*types.ExtractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.extractions[extractionKey(types.ExtractionKindCV, cvID)]
	if !ok {
		return nil, apperr.NewNotFoundError("GetMostRecentCVExtraction", cvID.String(), "cv extraction not found")
	}
	return cloneExtraction(rec), nil
}

// SaveCandidate 登记候选人，保留首次登记时间
func (s *MemoryStore) SaveCandidate(_ context.Context, c *types.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *c
	if existing, ok := s.candidates[c.CVID]; ok {
		next.CreatedAt = existing.CreatedAt
	}
	s.candidates[c.CVID] = next
	return nil
}

// ListCandidateProfiles 候选人池，按登记时间排序，没有简历提取结果的候选人不返回
func (s *MemoryStore) ListCandidateProfiles(_ context.Context) ([]types.CandidateProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cands := make([]types.Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].CreatedAt.Equal(cands[j].CreatedAt) {
			return cands[i].CVID < cands[j].CVID
		}
		return cands[i].CreatedAt.Before(cands[j].CreatedAt)
	})
	out := make([]types.CandidateProfile, 0, len(cands))
	for _, c := range cands {
		rec, ok := s.extractions[extractionKey(types.ExtractionKindCV, c.CVID)]
		if !ok || rec.Profile == nil {
			continue
		}
		out = append(out, types.CandidateProfile{
			CVID:    c.CVID,
			Name:    c.Name,
			Email:   c.Email,
			Profile: cloneProfile(rec.Profile),
		})
	}
	return out, nil
}

// SaveInterviewSession 写入面试会话
func (s *MemoryStore) SaveInterviewSession(_ context.Context, sess *types.InterviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.CallID] = *cloneSession(*sess)
	return nil
}

// CreateInterviewSession 只插入新会话，call_id 已存在时返回校验错误
func (s *MemoryStore) CreateInterviewSession(_ context.Context, sess *types.InterviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.CallID]; ok {
		return errSessionExists(sess.CallID)
	}
	s.sessions[sess.CallID] = *cloneSession(*sess)
	return nil
}

// DeleteInterviewSession 删除面试会话，不存在时不报错
func (s *MemoryStore) DeleteInterviewSession(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callID)
	return nil
}

// GetInterviewSession 按 call_id 读取面试会话
func (s *MemoryStore) GetInterviewSession(_ context.Context, callID string) (*types.InterviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[callID]
	if !ok {
		return nil, apperr.NewNotFoundError("GetInterviewSession", callID, "interview session not found")
	}
	return cloneSession(sess), nil
}

// ListActiveSessions 返回尚未完成的面试会话
func (s *MemoryStore) ListActiveSessions(_ context.Context) ([]*types.InterviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.InterviewSession, 0)
	for _, sess := range s.sessions {
		if sess.CompletedAt == nil {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

// EnqueueOutbox 追加一条待发布事件，同一 event_id 只保留一条
func (s *MemoryStore) EnqueueOutbox(_ context.Context, msg *models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outboxIDs[msg.EventID]; ok {
		return nil
	}
	s.seq++
	c := *msg
	c.ID = s.seq
	if c.Status == "" {
		c.Status = models.OutboxStatusPending
	}
	s.outbox = append(s.outbox, c)
	s.outboxIDs[msg.EventID] = struct{}{}
	return nil
}

// OutboxMessages 返回已入队事件的副本
func (s *MemoryStore) OutboxMessages() []models.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.OutboxMessage(nil), s.outbox...)
}

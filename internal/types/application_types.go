package types

import "time"

// ApplicationStatus 申请生命周期状态
type ApplicationStatus string

const (
	StatusCreated             ApplicationStatus = "CREATED"
	StatusMatched             ApplicationStatus = "MATCHED"
	StatusInterviewScheduled  ApplicationStatus = "INTERVIEW_SCHEDULED"
	StatusInterviewInProgress ApplicationStatus = "INTERVIEW_IN_PROGRESS"
	StatusInterviewCompleted  ApplicationStatus = "INTERVIEW_COMPLETED"
	StatusScored              ApplicationStatus = "SCORED"
	StatusExpired             ApplicationStatus = "EXPIRED"
)

// IsTerminal 终态不会再发生任何迁移
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusScored || s == StatusExpired
}

// IsInterviewPhase 面试流程进行中的状态，批量匹配不会覆盖
func (s ApplicationStatus) IsInterviewPhase() bool {
	switch s {
	case StatusInterviewScheduled, StatusInterviewInProgress, StatusInterviewCompleted:
		return true
	}
	return false
}

// ApplicationSource 申请来源
type ApplicationSource string

const (
	SourceAIMatched          ApplicationSource = "ai-matched"
	SourceCandidateInitiated ApplicationSource = "candidate-initiated"
)

// Qualification 相对岗位阈值的达标情况
type Qualification string

const (
	QualificationUnscored       Qualification = ""
	QualificationQualified      Qualification = "QUALIFIED"
	QualificationBelowThreshold Qualification = "BELOW_THRESHOLD"
)

// Application 候选人针对某个岗位的申请，(JobID, CVID) 唯一
type Application struct {
	ID                 string            `json:"id"`
	JobID              string            `json:"job_id"`
	CVID               ContentHash       `json:"cv_id"`
	CandidateName      string            `json:"candidate_name"`
	CandidateEmail     string            `json:"candidate_email"`
	MatchScore         int               `json:"match_score"`
	MatchReasons       []string          `json:"match_reasons"`
	SkillGaps          []string          `json:"skill_gaps"`
	Status             ApplicationStatus `json:"status"`
	Qualification      Qualification     `json:"qualification,omitempty"`
	QuestionsHash      ContentHash       `json:"questions_hash,omitempty"`
	Source             ApplicationSource `json:"source"`
	InterviewSessionID string            `json:"interview_session_id,omitempty"`
	EvaluationID       string            `json:"evaluation_id,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Clone 返回深拷贝，状态迁移在副本上进行，保存成功后才替换
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	c := *a
	c.MatchReasons = append([]string(nil), a.MatchReasons...)
	c.SkillGaps = append([]string(nil), a.SkillGaps...)
	return &c
}

// JobStatus 岗位状态
type JobStatus string

const (
	JobStatusDraft  JobStatus = "DRAFT"
	JobStatusActive JobStatus = "ACTIVE"
	JobStatusClosed JobStatus = "CLOSED"
)

// Job 岗位
type Job struct {
	ID                  string        `json:"id"`
	Title               string        `json:"title"`
	Description         string        `json:"description"`
	DescriptionHash     ContentHash   `json:"description_hash,omitempty"`
	Requirements        StructuredJob `json:"requirements"`
	Status              JobStatus     `json:"status"`
	AIMatchingEnabled   bool          `json:"ai_matching_enabled"`
	AIMatchingThreshold int           `json:"ai_matching_threshold"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Candidate 与简历哈希绑定的候选人身份
type Candidate struct {
	CVID      ContentHash `json:"cv_id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	CreatedAt time.Time   `json:"created_at"`
}

// InterviewSession 视频面试会话，负责 call_id 到申请的映射
type InterviewSession struct {
	CallID              string      `json:"call_id"`
	ApplicationID       string      `json:"application_id"`
	QuestionsHash       ContentHash `json:"questions_hash"`
	QuestionCount       int         `json:"question_count"`
	ScheduledAt         time.Time   `json:"scheduled_at"`
	StartedAt           *time.Time  `json:"started_at,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
	DurationMinutes     float64     `json:"duration_minutes,omitempty"`
	TranscriptObjectKey string      `json:"transcript_object_key,omitempty"`
}

// ApplicationSummary 匹配结果中返回的申请摘要
type ApplicationSummary struct {
	ApplicationID string            `json:"application_id"`
	CVID          ContentHash       `json:"cv_id"`
	CandidateName string            `json:"candidate_name"`
	MatchScore    int               `json:"match_score"`
	Status        ApplicationStatus `json:"status"`
	Qualification Qualification     `json:"qualification"`
	Created       bool              `json:"created"`
}

// CandidateFailure 单个候选人的匹配失败记录
type CandidateFailure struct {
	CVID    ContentHash `json:"cv_id"`
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
}

// MatchSummary 一次批量匹配的统计结果
type MatchSummary struct {
	JobID        string               `json:"job_id"`
	MatchedCount int                  `json:"matched_count"`
	Total        int                  `json:"total"`
	Processed    int                  `json:"processed"`
	Skipped      int                  `json:"skipped"`
	Suppressed   int                  `json:"suppressed"`
	Partial      bool                 `json:"partial"`
	Failures     []CandidateFailure   `json:"failures,omitempty"`
	Applications []ApplicationSummary `json:"applications"`
}

// InterviewQuestion 面试问题，questionsHash 由问题文本按顺序计算
type InterviewQuestion struct {
	ID       string `json:"id"`
	Text     string `json:"text" validate:"required"`
	Type     string `json:"type,omitempty"`
	Duration int    `json:"duration,omitempty"` // 建议作答时长（秒）
}

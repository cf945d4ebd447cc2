package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job 岗位信息表
type Job struct {
	JobID                      string         `gorm:"type:char(36);primaryKey"`
	JobTitle                   string         `gorm:"type:varchar(255);not null"`
	JobDescriptionText         string         `gorm:"type:text;not null"`
	DescriptionHash            string         `gorm:"type:char(64);index:idx_jobs_description_hash"`
	StructuredRequirementsJSON datatypes.JSON `gorm:"type:json"`
	Status                     string         `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jobs_status"`
	AIMatchingEnabled          bool           `gorm:"not null;default:true"`
	AIMatchingThreshold        int            `gorm:"not null;default:0"`
	CreatedAt                  time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt                  time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// Candidate 候选人表，以简历内容哈希为主键
type Candidate struct {
	CVID      string    `gorm:"column:cv_id;type:char(64);primaryKey"`
	Name      string    `gorm:"type:varchar(255)"`
	Email     string    `gorm:"type:varchar(255);index:idx_candidates_email"`
	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// Application 申请表，(job_id, cv_id) 唯一
type Application struct {
	ApplicationID      string         `gorm:"type:char(36);primaryKey"`
	JobID              string         `gorm:"type:char(36);not null;uniqueIndex:idx_app_job_cv,priority:1"`
	CVID               string         `gorm:"column:cv_id;type:char(64);not null;uniqueIndex:idx_app_job_cv,priority:2"`
	CandidateName      string         `gorm:"type:varchar(255)"`
	CandidateEmail     string         `gorm:"type:varchar(255)"`
	MatchScore         int            `gorm:"not null;default:0"`
	MatchReasonsJSON   datatypes.JSON `gorm:"type:json"`
	SkillGapsJSON      datatypes.JSON `gorm:"type:json"`
	Status             string         `gorm:"type:varchar(50);not null;index:idx_app_status_updated,priority:1"`
	Qualification      string         `gorm:"type:varchar(30)"`
	QuestionsHash      string         `gorm:"type:char(64)"`
	Source             string         `gorm:"type:varchar(30);not null"`
	InterviewSessionID string         `gorm:"type:varchar(128);index:idx_app_session"`
	EvaluationID       string         `gorm:"type:varchar(128)"`
	CreatedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt          time.Time      `gorm:"type:datetime(6);index:idx_app_status_updated,priority:2"`
}

func (Application) TableName() string {
	return "applications"
}

// ExtractionRecord 结构化提取记录，(content_hash, kind) 唯一且写入后不再修改
type ExtractionRecord struct {
	ContentHash string         `gorm:"type:char(64);primaryKey"`
	Kind        string         `gorm:"type:varchar(10);primaryKey"`
	DataJSON    datatypes.JSON `gorm:"type:json;not null"`
	ExtractedAt time.Time      `gorm:"type:datetime(6);not null;index:idx_extraction_kind_time"`
}

func (ExtractionRecord) TableName() string {
	return "extraction_records"
}

// InterviewSession 面试会话表，call_id 映射到申请
type InterviewSession struct {
	CallID              string     `gorm:"type:varchar(128);primaryKey"`
	ApplicationID       string     `gorm:"type:char(36);not null;index:idx_session_application"`
	QuestionsHash       string     `gorm:"type:char(64)"`
	QuestionCount       int        `gorm:"not null;default:0"`
	ScheduledAt         time.Time  `gorm:"type:datetime(6);not null"`
	StartedAt           *time.Time `gorm:"type:datetime(6);null"`
	CompletedAt         *time.Time `gorm:"type:datetime(6);null;index:idx_session_completed"`
	DurationMinutes     float64    `gorm:"type:decimal(10,2);default:0"`
	TranscriptObjectKey string     `gorm:"type:varchar(1024)"`
}

func (InterviewSession) TableName() string {
	return "interview_sessions"
}

package types

import (
	"encoding/json"
	"time"
)

// InterviewEventStatus webhook 中的状态字段
type InterviewEventStatus string

const (
	InterviewEventStarted   InterviewEventStatus = "started"
	InterviewEventCompleted InterviewEventStatus = "completed"
)

// InterviewEvent 经过边界校验后的面试回调事件
type InterviewEvent struct {
	CallID          string               `json:"call_id" validate:"required,max=128"`
	CandidateName   string               `json:"candidate_name" validate:"max=255"`
	JobTitle        string               `json:"job_title" validate:"max=255"`
	DurationMinutes float64              `json:"duration_minutes" validate:"gte=0"`
	CompletedAt     time.Time            `json:"completed_at"`
	Status          InterviewEventStatus `json:"status" validate:"required,oneof=started completed"`
	Transcript      json.RawMessage      `json:"transcript,omitempty"`
}

// WebhookAckStatus 回调确认结果
type WebhookAckStatus string

const (
	AckProcessed WebhookAckStatus = "processed"
	AckDuplicate WebhookAckStatus = "duplicate"
	AckIgnored   WebhookAckStatus = "ignored"
)

// WebhookAck 返回给回调方的确认
type WebhookAck struct {
	Status        WebhookAckStatus  `json:"status"`
	CallID        string            `json:"call_id"`
	ApplicationID string            `json:"application_id,omitempty"`
	State         ApplicationStatus `json:"state,omitempty"`
}

// InterviewCompletedEvent 面试完成后异步分发的后续事件
type InterviewCompletedEvent struct {
	EventID         string          `json:"event_id"`
	CallID          string          `json:"call_id"`
	ApplicationID   string          `json:"application_id"`
	JobID           string          `json:"job_id"`
	CandidateName   string          `json:"candidate_name"`
	JobTitle        string          `json:"job_title"`
	DurationMinutes float64         `json:"duration_minutes"`
	CompletedAt     time.Time       `json:"completed_at"`
	Transcript      json.RawMessage `json:"transcript,omitempty"`
}

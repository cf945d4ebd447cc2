package models

import (
	"encoding/json"
	"fmt"

	"synchire-go/internal/types"
	"synchire-go/pkg/utils"

	"gorm.io/datatypes"
)

// ApplicationFromDomain 领域对象 -> 表记录
func ApplicationFromDomain(a *types.Application) *Application {
	return &Application{
		ApplicationID:      a.ID,
		JobID:              a.JobID,
		CVID:               string(a.CVID),
		CandidateName:      a.CandidateName,
		CandidateEmail:     a.CandidateEmail,
		MatchScore:         a.MatchScore,
		MatchReasonsJSON:   utils.ConvertArrayToJSON(a.MatchReasons),
		SkillGapsJSON:      utils.ConvertArrayToJSON(a.SkillGaps),
		Status:             string(a.Status),
		Qualification:      string(a.Qualification),
		QuestionsHash:      string(a.QuestionsHash),
		Source:             string(a.Source),
		InterviewSessionID: a.InterviewSessionID,
		EvaluationID:       a.EvaluationID,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

// ToDomain 表记录 -> 领域对象
func (m *Application) ToDomain() *types.Application {
	return &types.Application{
		ID:                 m.ApplicationID,
		JobID:              m.JobID,
		CVID:               types.ContentHash(m.CVID),
		CandidateName:      m.CandidateName,
		CandidateEmail:     m.CandidateEmail,
		MatchScore:         m.MatchScore,
		MatchReasons:       utils.ParseJSONArray(m.MatchReasonsJSON),
		SkillGaps:          utils.ParseJSONArray(m.SkillGapsJSON),
		Status:             types.ApplicationStatus(m.Status),
		Qualification:      types.Qualification(m.Qualification),
		QuestionsHash:      types.ContentHash(m.QuestionsHash),
		Source:             types.ApplicationSource(m.Source),
		InterviewSessionID: m.InterviewSessionID,
		EvaluationID:       m.EvaluationID,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// JobFromDomain 领域对象 -> 表记录
func JobFromDomain(j *types.Job) (*Job, error) {
	req, err := json.Marshal(j.Requirements)
	if err != nil {
		return nil, fmt.Errorf("序列化岗位要求失败: %w", err)
	}
	return &Job{
		JobID:                      j.ID,
		JobTitle:                   j.Title,
		JobDescriptionText:         j.Description,
		DescriptionHash:            string(j.DescriptionHash),
		StructuredRequirementsJSON: datatypes.JSON(req),
		Status:                     string(j.Status),
		AIMatchingEnabled:          j.AIMatchingEnabled,
		AIMatchingThreshold:        j.AIMatchingThreshold,
		CreatedAt:                  j.CreatedAt,
		UpdatedAt:                  j.UpdatedAt,
	}, nil
}

// ToDomain 表记录 -> 领域对象
func (m *Job) ToDomain() (*types.Job, error) {
	j := &types.Job{
		ID:                  m.JobID,
		Title:               m.JobTitle,
		Description:         m.JobDescriptionText,
		DescriptionHash:     types.ContentHash(m.DescriptionHash),
		Status:              types.JobStatus(m.Status),
		AIMatchingEnabled:   m.AIMatchingEnabled,
		AIMatchingThreshold: m.AIMatchingThreshold,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if len(m.StructuredRequirementsJSON) > 0 {
		if err := json.Unmarshal(m.StructuredRequirementsJSON, &j.Requirements); err != nil {
			return nil, fmt.Errorf("解析岗位要求失败: %w", err)
		}
	}
	return j, nil
}

// ExtractionFromDomain 领域对象 -> 表记录
func ExtractionFromDomain(rec *types.ExtractionRecord) (*ExtractionRecord, error) {
	data, err := json.Marshal(rec.ExtractedData)
	if err != nil {
		return nil, fmt.Errorf("序列化提取结果失败: %w", err)
	}
	return &ExtractionRecord{
		ContentHash: string(rec.Hash),
		Kind:        string(rec.Kind),
		DataJSON:    datatypes.JSON(data),
		ExtractedAt: rec.ExtractedAt,
	}, nil
}

// ToDomain 表记录 -> 领域对象
func (m *ExtractionRecord) ToDomain() (*types.ExtractionRecord, error) {
	rec := &types.ExtractionRecord{
		Hash:        types.ContentHash(m.ContentHash),
		ExtractedAt: m.ExtractedAt,
	}
	if err := json.Unmarshal(m.DataJSON, &rec.ExtractedData); err != nil {
		return nil, fmt.Errorf("解析提取结果失败: %w", err)
	}
	rec.Kind = types.ExtractionKind(m.Kind)
	return rec, nil
}

// InterviewSessionFromDomain 领域对象 -> 表记录
func InterviewSessionFromDomain(s *types.InterviewSession) *InterviewSession {
	return &InterviewSession{
		CallID:              s.CallID,
		ApplicationID:       s.ApplicationID,
		QuestionsHash:       string(s.QuestionsHash),
		QuestionCount:       s.QuestionCount,
		ScheduledAt:         s.ScheduledAt,
		StartedAt:           s.StartedAt,
		CompletedAt:         s.CompletedAt,
		DurationMinutes:     s.DurationMinutes,
		TranscriptObjectKey: s.TranscriptObjectKey,
	}
}

// ToDomain 表记录 -> 领域对象
func (m *InterviewSession) ToDomain() *types.InterviewSession {
	return &types.InterviewSession{
		CallID:              m.CallID,
		ApplicationID:       m.ApplicationID,
		QuestionsHash:       types.ContentHash(m.QuestionsHash),
		QuestionCount:       m.QuestionCount,
		ScheduledAt:         m.ScheduledAt,
		StartedAt:           m.StartedAt,
		CompletedAt:         m.CompletedAt,
		DurationMinutes:     m.DurationMinutes,
		TranscriptObjectKey: m.TranscriptObjectKey,
	}
}

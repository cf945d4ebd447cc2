package processor

import (
	"context"
	"testing"
	"time"

	"synchire-go/internal/fingerprint"
	"synchire-go/internal/lifecycle"
	"synchire-go/internal/storage"
	"synchire-go/internal/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// backendJob 需要 Python/SQL 的高级后端岗位
func backendJob(id string) *types.Job {
	return &types.Job{
		ID:          id,
		Title:       "Senior Backend Engineer",
		Description: "Python and SQL, senior level",
		Requirements: types.StructuredJob{
			RequiredSkills: []types.SkillRequirement{
				{Name: "Python", Weight: 1},
				{Name: "SQL", Weight: 1},
			},
			Seniority: "senior",
		},
		Status:              types.JobStatusActive,
		AIMatchingEnabled:   true,
		AIMatchingThreshold: 50,
		CreatedAt:           fixedNow,
		UpdatedAt:           fixedNow,
	}
}

// seedCandidate 写入候选人与其简历提取结果，返回 cv_id
func seedCandidate(t *testing.T, store *storage.MemoryStore, name string, seniority string, skills ...string) types.ContentHash {
	t.Helper()
	ctx := context.Background()
	cvID := fingerprint.Hash("cv of " + name)
	require.NoError(t, store.SaveExtraction(ctx, &types.ExtractionRecord{
		Hash:        cvID,
		ExtractedAt: fixedNow,
		ExtractedData: types.ExtractedData{
			Kind:    types.ExtractionKindCV,
			Profile: &types.StructuredProfile{Skills: skills, Seniority: seniority},
		},
	}))
	require.NoError(t, store.SaveCandidate(ctx, &types.Candidate{
		CVID:      cvID,
		Name:      name,
		Email:     name + "@example.com",
		CreatedAt: fixedNow,
	}))
	return cvID
}

// scheduledApplication 构造一个已安排面试的申请及其 call_id 映射
func scheduledApplication(t *testing.T, store *storage.MemoryStore, lc *lifecycle.Manager, jobID string, cvID types.ContentHash, callID string) *types.Application {
	t.Helper()
	ctx := context.Background()
	who := lifecycle.Identity{CVID: cvID, Name: "Alice"}
	_, _, err := lc.RecordMatch(ctx, jobID, who, types.MatchResult{Score: 80}, types.QualificationQualified, types.SourceAIMatched)
	require.NoError(t, err)
	existing, err := store.FindApplication(ctx, jobID, cvID)
	require.NoError(t, err)
	app, err := lc.ScheduleInterview(ctx, existing.ID, callID, fingerprint.HashLines([]string{"Tell me about yourself"}))
	require.NoError(t, err)
	require.NoError(t, store.SaveInterviewSession(ctx, &types.InterviewSession{
		CallID:        callID,
		ApplicationID: app.ID,
		QuestionCount: 1,
		ScheduledAt:   fixedNow,
	}))
	return app
}

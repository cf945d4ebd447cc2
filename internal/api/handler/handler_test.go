package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"sync"
	"testing"
	"time"

	"synchire-go/internal/api/handler"
	"synchire-go/internal/apperr"
	"synchire-go/internal/fingerprint"
	"synchire-go/internal/lifecycle"
	"synchire-go/internal/processor"
	"synchire-go/internal/storage"
	"synchire-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	jobs map[string]*types.Job
}

func (f *fakeJobs) CreateJob(_ context.Context, draft processor.JobDraft) (*types.Job, error) {
	if draft.Title == "" {
		return nil, apperr.NewValidationError("CreateJob", "title is required")
	}
	job := &types.Job{ID: "job-1", Title: draft.Title, Description: draft.Description, Status: types.JobStatusActive}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) GetJob(_ context.Context, jobID string) (*types.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, apperr.NewNotFoundError("GetJob", jobID, "job not found")
	}
	return job, nil
}

func (f *fakeJobs) UpdateJobStatus(_ context.Context, jobID string, update processor.JobUpdate) (*types.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, apperr.NewNotFoundError("GetJob", jobID, "job not found")
	}
	if update.Status == "" {
		return nil, apperr.NewValidationError("UpdateJobStatus", "status is required")
	}
	if job.Status == types.JobStatusClosed && update.Status != types.JobStatusClosed {
		return nil, apperr.NewJobStatusError(jobID, job.Status, update.Status)
	}
	job.Status = update.Status
	return job, nil
}

type fakeMatcher struct {
	gotDeadline bool
	err         error
}

func (f *fakeMatcher) MatchCandidates(ctx context.Context, jobID string) (*types.MatchSummary, error) {
	_, f.gotDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return &types.MatchSummary{JobID: jobID, MatchedCount: 1, Total: 1, Processed: 1}, nil
}

type fakeApplications struct {
	mu      sync.Mutex
	byPair  map[string]*types.Application
	byID    map[string]*types.Application
	session *types.InterviewSession
}

func newFakeApplications() *fakeApplications {
	return &fakeApplications{byPair: map[string]*types.Application{}, byID: map[string]*types.Application{}}
}

func (f *fakeApplications) Apply(_ context.Context, jobID string, req processor.ApplyRequest) (*types.Application, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.CVID == "" {
		return nil, false, apperr.NewValidationError("Apply", "cv_id is required")
	}
	key := jobID + "|" + string(req.CVID)
	if existing, ok := f.byPair[key]; ok {
		return existing, false, nil
	}
	application := &types.Application{
		ID:     "app-" + jobID,
		JobID:  jobID,
		CVID:   req.CVID,
		Status: types.StatusCreated,
		Source: types.SourceCandidateInitiated,
	}
	f.byPair[key] = application
	f.byID[application.ID] = application
	return application, true, nil
}

func (f *fakeApplications) ListApplications(_ context.Context, jobID string) ([]*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Application
	for _, a := range f.byID {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeApplications) ScheduleInterview(_ context.Context, applicationID string, req processor.ScheduleRequest) (*types.Application, *types.InterviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	application, ok := f.byID[applicationID]
	if !ok {
		return nil, nil, apperr.NewNotFoundError("ScheduleInterview", applicationID, "application not found")
	}
	if application.Status != types.StatusMatched {
		return nil, nil, apperr.NewStateTransitionError(applicationID, application.Status, types.StatusInterviewScheduled)
	}
	application.Status = types.StatusInterviewScheduled
	application.InterviewSessionID = req.CallID
	f.session = &types.InterviewSession{CallID: req.CallID, ApplicationID: applicationID, QuestionCount: len(req.Questions)}
	return application, f.session, nil
}

func (f *fakeApplications) AttachEvaluation(_ context.Context, applicationID, evaluationID string) (*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	application, ok := f.byID[applicationID]
	if !ok {
		return nil, apperr.NewNotFoundError("AttachEvaluation", applicationID, "application not found")
	}
	application.EvaluationID = evaluationID
	application.Status = types.StatusScored
	return application, nil
}

func (f *fakeApplications) GetApplication(_ context.Context, applicationID string) (*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	application, ok := f.byID[applicationID]
	if !ok {
		return nil, apperr.NewNotFoundError("GetApplication", applicationID, "application not found")
	}
	return application, nil
}

func (f *fakeApplications) ActiveInterviews(context.Context) ([]processor.ActiveInterview, error) {
	if f.session == nil {
		return nil, nil
	}
	return []processor.ActiveInterview{{Session: f.session, Status: types.StatusInterviewScheduled}}, nil
}

type fakeIntake struct {
	got processor.CVSubmission
	err error
}

func (f *fakeIntake) Submit(_ context.Context, sub processor.CVSubmission) (*processor.CVIntakeResult, error) {
	f.got = sub
	if f.err != nil {
		return nil, f.err
	}
	text := sub.Text
	if len(sub.File) > 0 {
		text = string(sub.File)
	}
	return &processor.CVIntakeResult{CVID: fingerprint.Hash(text), Name: sub.Name, Email: sub.Email}, nil
}

type testEnv struct {
	h            *server.Hertz
	jobs         *fakeJobs
	matcher      *fakeMatcher
	applications *fakeApplications
	intake       *fakeIntake
	store        *storage.MemoryStore
	lc           *lifecycle.Manager
}

const testSecret = "s3cret"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:         &fakeJobs{jobs: map[string]*types.Job{}},
		matcher:      &fakeMatcher{},
		applications: newFakeApplications(),
		intake:       &fakeIntake{},
		store:        storage.NewMemoryStore(),
	}
	env.lc = lifecycle.NewManager(env.store)
	webhooks := processor.NewInterviewWebhookProcessor(env.store, env.lc)

	jobHandler := handler.NewJobHandler(env.jobs, env.matcher, env.applications, time.Minute)
	appHandler := handler.NewApplicationHandler(env.applications)
	cvHandler := handler.NewCVHandler(env.intake, 1024)
	webhookHandler := handler.NewWebhookHandler(webhooks, testSecret, time.Second)

	env.h = server.New(server.WithHostPorts("127.0.0.1:0"))
	api := env.h.Group("/api/v1")
	api.POST("/jobs", jobHandler.CreateJob)
	api.GET("/jobs/:job_id", jobHandler.GetJob)
	api.POST("/jobs/:job_id/match", jobHandler.MatchCandidates)
	api.GET("/jobs/:job_id/applications", jobHandler.ListApplications)
	api.POST("/jobs/:job_id/applications", jobHandler.Apply)
	api.POST("/cvs", cvHandler.SubmitCV)
	api.GET("/applications/:application_id", appHandler.GetApplication)
	api.POST("/applications/:application_id/interview", appHandler.ScheduleInterview)
	api.POST("/applications/:application_id/evaluation", appHandler.AttachEvaluation)
	api.GET("/interviews/active", appHandler.ActiveInterviews)
	api.POST("/webhooks/interview-complete", webhookHandler.InterviewComplete)
	api.POST("/webhooks/interview-started", webhookHandler.InterviewStarted)
	return env
}

func (e *testEnv) do(method, path string, body []byte, headers ...ut.Header) *ut.ResponseRecorder {
	var b *ut.Body
	if body != nil {
		b = &ut.Body{Body: bytes.NewReader(body), Len: len(body)}
	}
	headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	return ut.PerformRequest(e.h.Engine, method, path, b, headers...)
}

func decodeError(t *testing.T, resp *ut.ResponseRecorder) handler.ErrorBody {
	t.Helper()
	var body handler.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Error
}

func TestJobHandler_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/jobs", []byte(`{"title":"Backend","description":"Python and SQL"}`))
	require.Equal(t, http.StatusCreated, resp.Code)
	var job types.Job
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &job))
	assert.Equal(t, "job-1", job.ID)

	resp = env.do(http.MethodGet, "/api/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(http.MethodGet, "/api/v1/jobs/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	errBody := decodeError(t, resp)
	assert.Equal(t, string(apperr.KindNotFound), errBody.Kind)
	assert.Equal(t, "job not found", errBody.Message)
}

func TestJobHandler_UpdateJobStatus(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.jobs["job-1"] = &types.Job{ID: "job-1", Title: "Backend", Status: types.JobStatusDraft}

	resp := env.do(http.MethodPatch, "/api/v1/jobs/job-1", []byte(`{"status":"ACTIVE"}`))
	require.Equal(t, http.StatusOK, resp.Code)
	var job types.Job
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &job))
	assert.Equal(t, types.JobStatusActive, job.Status)

	resp = env.do(http.MethodPatch, "/api/v1/jobs/job-1", []byte(`{"status":"CLOSED"}`))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(http.MethodPatch, "/api/v1/jobs/job-1", []byte(`{"status":"ACTIVE"}`))
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(apperr.KindStateTransition), decodeError(t, resp).Kind)

	resp = env.do(http.MethodPatch, "/api/v1/jobs/job-1", []byte(`{"status":`))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(http.MethodPatch, "/api/v1/jobs/missing", []byte(`{"status":"CLOSED"}`))
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestJobHandler_CreateJobValidation(t *testing.T) {
	env := newTestEnv(t)

	for name, body := range map[string][]byte{
		"empty":     {},
		"malformed": []byte(`{"title":`),
		"no title":  []byte(`{"description":"x"}`),
	} {
		t.Run(name, func(t *testing.T) {
			resp := env.do(http.MethodPost, "/api/v1/jobs", body)
			require.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, string(apperr.KindValidation), decodeError(t, resp).Kind)
		})
	}
}

func TestJobHandler_MatchCandidates(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/jobs/job-1/match", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, env.matcher.gotDeadline, "匹配请求应带超时")

	var summary types.MatchSummary
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &summary))
	assert.Equal(t, "job-1", summary.JobID)
	assert.Equal(t, 1, summary.MatchedCount)

	env.matcher.err = apperr.NewInternalError("MatchCandidates", "job-1", assert.AnError)
	resp = env.do(http.MethodPost, "/api/v1/jobs/job-1/match", nil)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "internal error", decodeError(t, resp).Message, "内部错误不应泄露细节")
}

func TestJobHandler_ApplyIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	cvID := fingerprint.Hash("cv")
	body, err := json.Marshal(processor.ApplyRequest{CVID: cvID, Name: "Alice"})
	require.NoError(t, err)

	resp := env.do(http.MethodPost, "/api/v1/jobs/job-1/applications", body)
	require.Equal(t, http.StatusCreated, resp.Code)
	resp = env.do(http.MethodPost, "/api/v1/jobs/job-1/applications", body)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(http.MethodGet, "/api/v1/jobs/job-1/applications", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list handler.ApplicationList
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Equal(t, "job-1", list.JobID)
	assert.Equal(t, 1, list.Total)
}

func TestApplicationHandler_InterviewFlow(t *testing.T) {
	env := newTestEnv(t)
	env.applications.byID["app-1"] = &types.Application{ID: "app-1", JobID: "job-1", Status: types.StatusMatched}

	body := []byte(`{"call_id":"call-1","questions":[{"id":"q1","text":"Tell me about yourself","type":"behavioral","duration":2}]}`)
	resp := env.do(http.MethodPost, "/api/v1/applications/app-1/interview", body)
	require.Equal(t, http.StatusCreated, resp.Code)
	var scheduled handler.ScheduleResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &scheduled))
	assert.Equal(t, types.StatusInterviewScheduled, scheduled.Application.Status)
	assert.Equal(t, 1, scheduled.Session.QuestionCount)

	// 再次安排是非法迁移
	resp = env.do(http.MethodPost, "/api/v1/applications/app-1/interview", body)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(apperr.KindStateTransition), decodeError(t, resp).Kind)

	resp = env.do(http.MethodGet, "/api/v1/interviews/active", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var active struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &active))
	assert.Equal(t, 1, active.Count)

	resp = env.do(http.MethodPost, "/api/v1/applications/app-1/evaluation", []byte(`{"evaluation_id":"eval-9"}`))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(http.MethodGet, "/api/v1/applications/app-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var application types.Application
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &application))
	assert.Equal(t, "eval-9", application.EvaluationID)

	resp = env.do(http.MethodGet, "/api/v1/applications/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCVHandler_JSONText(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/cvs", []byte(`{"name":"Alice","email":"alice@example.com","text":"Python, SQL"}`))
	require.Equal(t, http.StatusCreated, resp.Code)
	var result processor.CVIntakeResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	assert.Equal(t, fingerprint.Hash("Python, SQL"), result.CVID)
	assert.Equal(t, "Alice", env.intake.got.Name)
}

func TestCVHandler_MultipartUpload(t *testing.T) {
	env := newTestEnv(t)

	build := func(content []byte) (*bytes.Buffer, string) {
		body := &bytes.Buffer{}
		w := multipart.NewWriter(body)
		require.NoError(t, w.WriteField("name", "Bob"))
		require.NoError(t, w.WriteField("email", "bob@example.com"))
		part, err := w.CreateFormFile("file", "bob.pdf")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return body, w.FormDataContentType()
	}

	body, contentType := build([]byte("%PDF-1.4 fake"))
	resp := ut.PerformRequest(env.h.Engine, http.MethodPost, "/api/v1/cvs",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "Bob", env.intake.got.Name)
	assert.Equal(t, "bob.pdf", env.intake.got.FileName)
	assert.Equal(t, []byte("%PDF-1.4 fake"), env.intake.got.File)

	// 超过 1024 字节上限
	body, contentType = build(bytes.Repeat([]byte("x"), 2048))
	resp = ut.PerformRequest(env.h.Engine, http.MethodPost, "/api/v1/cvs",
		&ut.Body{Body: body, Len: body.Len()},
		ut.Header{Key: "Content-Type", Value: contentType},
	)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(apperr.KindValidation), decodeError(t, resp).Kind)
}

func TestCVHandler_ExtractionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.intake.err = apperr.NewExtractionError("SubmitCV", "abc", assert.AnError)

	resp := env.do(http.MethodPost, "/api/v1/cvs", []byte(`{"name":"Alice","text":"Python"}`))
	require.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Equal(t, string(apperr.KindExtractionFailure), decodeError(t, resp).Kind)
}

// scheduleCall 在内存存储中准备一个已安排面试的申请
func scheduleCall(t *testing.T, env *testEnv, callID string) *types.Application {
	t.Helper()
	ctx := context.Background()
	cvID := fingerprint.Hash("cv of " + callID)
	application, _, err := env.lc.RecordMatch(ctx, "job-1", lifecycle.Identity{CVID: cvID, Name: "Alice"},
		types.MatchResult{Score: 80}, types.QualificationQualified, types.SourceAIMatched)
	require.NoError(t, err)
	application, err = env.lc.ScheduleInterview(ctx, application.ID, callID, fingerprint.HashLines([]string{"q"}))
	require.NoError(t, err)
	require.NoError(t, env.store.SaveInterviewSession(ctx, &types.InterviewSession{
		CallID:        callID,
		ApplicationID: application.ID,
		QuestionCount: 1,
		ScheduledAt:   time.Now(),
	}))
	return application
}

func TestWebhookHandler_RequiresSecret(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"call_id":"abc123","status":"completed"}`)

	resp := env.do(http.MethodPost, "/api/v1/webhooks/interview-complete", body)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, handler.KindUnauthorized, decodeError(t, resp).Kind)

	resp = env.do(http.MethodPost, "/api/v1/webhooks/interview-complete", body,
		ut.Header{Key: handler.WebhookSecretHeader, Value: "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestWebhookHandler_CompleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	application := scheduleCall(t, env, "abc123")
	secret := ut.Header{Key: handler.WebhookSecretHeader, Value: testSecret}
	body := []byte(`{"callId":"abc123","candidateName":"Alice","durationMinutes":12.346,"completedAt":"2026-03-01T10:00:00Z"}`)

	resp := env.do(http.MethodPost, "/api/v1/webhooks/interview-complete", body, secret)
	require.Equal(t, http.StatusOK, resp.Code)
	var ack types.WebhookAck
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ack))
	assert.Equal(t, types.AckProcessed, ack.Status)
	assert.Equal(t, application.ID, ack.ApplicationID)
	assert.Equal(t, types.StatusInterviewCompleted, ack.State)

	resp = env.do(http.MethodPost, "/api/v1/webhooks/interview-complete", body, secret)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ack))
	assert.Equal(t, types.AckDuplicate, ack.Status)

	stored, err := env.store.GetApplication(context.Background(), application.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInterviewCompleted, stored.Status)
}

func TestWebhookHandler_StartedThenUnknown(t *testing.T) {
	env := newTestEnv(t)
	application := scheduleCall(t, env, "call-7")
	secret := ut.Header{Key: handler.WebhookSecretHeader, Value: testSecret}

	resp := env.do(http.MethodPost, "/api/v1/webhooks/interview-started", []byte(`{"call_id":"call-7"}`), secret)
	require.Equal(t, http.StatusOK, resp.Code)
	stored, err := env.store.GetApplication(context.Background(), application.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInterviewInProgress, stored.Status)

	resp = env.do(http.MethodPost, "/api/v1/webhooks/interview-complete", []byte(`{"call_id":"nobody"}`), secret)
	require.Equal(t, http.StatusOK, resp.Code)
	var ack types.WebhookAck
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ack))
	assert.Equal(t, types.AckIgnored, ack.Status)

	resp = env.do(http.MethodPost, "/api/v1/webhooks/interview-complete", []byte(`{"status":"completed"}`), secret)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

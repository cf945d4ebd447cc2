package handler

import (
	"context"
	"time"

	"synchire-go/internal/processor"
	"synchire-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const defaultMatchTimeout = 2 * time.Minute

// JobHandler 岗位、批量匹配和投递接口
type JobHandler struct {
	jobs         JobService
	matcher      Matcher
	applications ApplicationService
	matchTimeout time.Duration
}

// NewJobHandler matchTimeout <= 0 时使用默认 2 分钟
func NewJobHandler(jobs JobService, matcher Matcher, applications ApplicationService, matchTimeout time.Duration) *JobHandler {
	if matchTimeout <= 0 {
		matchTimeout = defaultMatchTimeout
	}
	return &JobHandler{
		jobs:         jobs,
		matcher:      matcher,
		applications: applications,
		matchTimeout: matchTimeout,
	}
}

// CreateJob POST /api/v1/jobs
func (h *JobHandler) CreateJob(ctx context.Context, c *app.RequestContext) {
	var draft processor.JobDraft
	if err := decodeJSON(c, "CreateJob", &draft); err != nil {
		WriteError(ctx, c, err)
		return
	}
	job, err := h.jobs.CreateJob(ctx, draft)
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, job)
}

// GetJob GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(ctx context.Context, c *app.RequestContext) {
	job, err := h.jobs.GetJob(ctx, c.Param("job_id"))
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, job)
}

// UpdateJob PATCH /api/v1/jobs/:job_id
func (h *JobHandler) UpdateJob(ctx context.Context, c *app.RequestContext) {
	var update processor.JobUpdate
	if err := decodeJSON(c, "UpdateJob", &update); err != nil {
		WriteError(ctx, c, err)
		return
	}
	job, err := h.jobs.UpdateJobStatus(ctx, c.Param("job_id"), update)
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, job)
}

// MatchCandidates POST /api/v1/jobs/:job_id/match
// 超时后返回已完成的部分结果，partial=true
func (h *JobHandler) MatchCandidates(ctx context.Context, c *app.RequestContext) {
	ctx, cancel := context.WithTimeout(ctx, h.matchTimeout)
	defer cancel()

	summary, err := h.matcher.MatchCandidates(ctx, c.Param("job_id"))
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, summary)
}

// ListApplications GET /api/v1/jobs/:job_id/applications
func (h *JobHandler) ListApplications(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")
	apps, err := h.applications.ListApplications(ctx, jobID)
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, ApplicationList{JobID: jobID, Total: len(apps), Applications: apps})
}

// Apply POST /api/v1/jobs/:job_id/applications
// 新建返回 201，已存在返回 200
func (h *JobHandler) Apply(ctx context.Context, c *app.RequestContext) {
	var req processor.ApplyRequest
	if err := decodeJSON(c, "Apply", &req); err != nil {
		WriteError(ctx, c, err)
		return
	}
	application, created, err := h.applications.Apply(ctx, c.Param("job_id"), req)
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	status := consts.StatusOK
	if created {
		status = consts.StatusCreated
	}
	c.JSON(status, application)
}

// ApplicationList 岗位申请列表
type ApplicationList struct {
	JobID        string               `json:"job_id"`
	Total        int                  `json:"total"`
	Applications []*types.Application `json:"applications"`
}

package handler

import (
	"context"

	"synchire-go/internal/processor"
	"synchire-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// ApplicationHandler 申请查询、面试安排与评估回写
type ApplicationHandler struct {
	applications ApplicationService
}

// NewApplicationHandler 创建处理器
func NewApplicationHandler(applications ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{applications: applications}
}

// ScheduleResponse 安排面试的响应
type ScheduleResponse struct {
	Application *types.Application      `json:"application"`
	Session     *types.InterviewSession `json:"session"`
}

// EvaluationRequest 评估回写请求
type EvaluationRequest struct {
	EvaluationID string `json:"evaluation_id"`
}

// GetApplication GET /api/v1/applications/:application_id
func (h *ApplicationHandler) GetApplication(ctx context.Context, c *app.RequestContext) {
	application, err := h.applications.GetApplication(ctx, c.Param("application_id"))
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, application)
}

// ScheduleInterview POST /api/v1/applications/:application_id/interview
func (h *ApplicationHandler) ScheduleInterview(ctx context.Context, c *app.RequestContext) {
	var req processor.ScheduleRequest
	if err := decodeJSON(c, "ScheduleInterview", &req); err != nil {
		WriteError(ctx, c, err)
		return
	}
	application, session, err := h.applications.ScheduleInterview(ctx, c.Param("application_id"), req)
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, ScheduleResponse{Application: application, Session: session})
}

// AttachEvaluation POST /api/v1/applications/:application_id/evaluation
func (h *ApplicationHandler) AttachEvaluation(ctx context.Context, c *app.RequestContext) {
	var req EvaluationRequest
	if err := decodeJSON(c, "AttachEvaluation", &req); err != nil {
		WriteError(ctx, c, err)
		return
	}
	application, err := h.applications.AttachEvaluation(ctx, c.Param("application_id"), req.EvaluationID)
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, application)
}

// ActiveInterviews GET /api/v1/interviews/active
func (h *ApplicationHandler) ActiveInterviews(ctx context.Context, c *app.RequestContext) {
	active, err := h.applications.ActiveInterviews(ctx)
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]interface{}{
		"count":      len(active),
		"interviews": active,
	})
}

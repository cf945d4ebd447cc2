package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"synchire-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// APIKeyHeader API key 请求头
const APIKeyHeader = "X-API-Key"

var errInvalidAPIKey = errors.New("invalid API key")

// Handlers 路由依赖的处理器
type Handlers struct {
	Jobs         *handler.JobHandler
	Applications *handler.ApplicationHandler
	CVs          *handler.CVHandler
	Webhooks     *handler.WebhookHandler
	// Health 返回各依赖组件状态，为 nil 时只报告进程存活
	Health func(ctx context.Context) map[string]string
}

// RegisterRoutes 注册 API 路由
// apiKeys 非空时 /api/v1 下除健康检查和回调外的接口需要 X-API-Key
func RegisterRoutes(h *server.Hertz, hs Handlers, apiKeys []string) {
	api := h.Group("/api/v1")
	if len(apiKeys) > 0 {
		api.Use(apiKeyAuth(apiKeys))
	}

	api.GET("/health", healthHandler(hs.Health))

	jobs := api.Group("/jobs")
	jobs.POST("", hs.Jobs.CreateJob)
	jobs.GET("/:job_id", hs.Jobs.GetJob)
	jobs.PATCH("/:job_id", hs.Jobs.UpdateJob)
	jobs.POST("/:job_id/match", hs.Jobs.MatchCandidates)
	jobs.GET("/:job_id/applications", hs.Jobs.ListApplications)
	jobs.POST("/:job_id/applications", hs.Jobs.Apply)

	api.POST("/cvs", hs.CVs.SubmitCV)

	applications := api.Group("/applications")
	applications.GET("/:application_id", hs.Applications.GetApplication)
	applications.POST("/:application_id/interview", hs.Applications.ScheduleInterview)
	applications.POST("/:application_id/evaluation", hs.Applications.AttachEvaluation)

	api.GET("/interviews/active", hs.Applications.ActiveInterviews)

	// 回调使用共享密钥，不走 API key
	api.POST("/webhooks/interview-complete", hs.Webhooks.InterviewComplete)
	api.POST("/webhooks/interview-started", hs.Webhooks.InterviewStarted)

	// 面试服务旧版回调地址
	h.POST("/api/webhooks/interview-complete", hs.Webhooks.InterviewComplete)
}

// apiKeyAuth 基于 keyauth 的 API key 校验
func apiKeyAuth(apiKeys []string) app.HandlerFunc {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+APIKeyHeader, ""),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(key), k) == 1 {
					return true, nil
				}
			}
			return false, errInvalidAPIKey
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			handler.WriteUnauthorized(c, "missing or invalid API key")
		}),
		keyauth.WithFilter(func(ctx context.Context, c *app.RequestContext) bool {
			path := string(c.Path())
			return path == "/api/v1/health" || strings.HasPrefix(path, "/api/v1/webhooks/")
		}),
	)
}

// healthHandler 任一已启用组件不可用时返回 503
func healthHandler(check func(ctx context.Context) map[string]string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if check == nil {
			c.JSON(consts.StatusOK, utils.H{"status": "ok"})
			return
		}
		components := check(ctx)
		for _, state := range components {
			if state == "down" {
				c.JSON(consts.StatusServiceUnavailable, utils.H{"status": "degraded", "components": components})
				return
			}
		}
		c.JSON(consts.StatusOK, utils.H{"status": "ok", "components": components})
	}
}

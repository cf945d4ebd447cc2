package handler

import (
	"context"
	"crypto/subtle"
	"time"

	"synchire-go/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// WebhookSecretHeader 回调共享密钥请求头
const WebhookSecretHeader = "X-Webhook-Secret"

const defaultWebhookTimeout = 10 * time.Second

// WebhookHandler 视频面试服务的回调入口
type WebhookHandler struct {
	processor WebhookProcessor
	secret    string
	timeout   time.Duration
}

// NewWebhookHandler secret 为空时不校验请求头
func NewWebhookHandler(processor WebhookProcessor, secret string, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookHandler{processor: processor, secret: secret, timeout: timeout}
}

// InterviewComplete POST /api/v1/webhooks/interview-complete
// 请求体中 status=started 时按开始事件处理
func (h *WebhookHandler) InterviewComplete(ctx context.Context, c *app.RequestContext) {
	h.handle(ctx, c, types.InterviewEventCompleted)
}

// InterviewStarted POST /api/v1/webhooks/interview-started
func (h *WebhookHandler) InterviewStarted(ctx context.Context, c *app.RequestContext) {
	h.handle(ctx, c, types.InterviewEventStarted)
}

func (h *WebhookHandler) handle(ctx context.Context, c *app.RequestContext, defaultStatus types.InterviewEventStatus) {
	if !h.authorized(c) {
		WriteUnauthorized(c, "invalid webhook secret")
		return
	}

	ev, err := h.processor.ParseEvent(c.Request.Body(), defaultStatus)
	if err != nil {
		WriteError(ctx, c, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var ack *types.WebhookAck
	if ev.Status == types.InterviewEventStarted {
		ack, err = h.processor.OnInterviewStarted(ctx, ev)
	} else {
		ack, err = h.processor.OnInterviewComplete(ctx, ev)
	}
	if err != nil {
		WriteError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, ack)
}

func (h *WebhookHandler) authorized(c *app.RequestContext) bool {
	if h.secret == "" {
		return true
	}
	got := c.Request.Header.Peek(WebhookSecretHeader)
	return subtle.ConstantTimeCompare(got, []byte(h.secret)) == 1
}

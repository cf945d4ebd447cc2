package handler

import (
	"context"
	"encoding/json"
	"errors"

	"synchire-go/internal/apperr"
	"synchire-go/internal/logger"
	"synchire-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.opentelemetry.io/otel/trace"
)

// ErrorBody 统一的错误结构
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse 所有接口出错时的响应体 {"error": {"kind", "message"}}
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// KindUnauthorized 鉴权失败，不属于业务错误分类
const KindUnauthorized = "UNAUTHORIZED"

// WriteError 把错误映射为 HTTP 状态码和统一错误体
func WriteError(ctx context.Context, c *app.RequestContext, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, status)

	message := err.Error()
	var ae *apperr.Error
	if kind == apperr.KindInternal {
		logger.Error().Err(err).Str("path", string(c.Path())).Msg("请求处理失败")
		message = "internal error"
	} else if errors.As(err, &ae) && ae.Detail != "" {
		message = ae.Detail
	}
	c.JSON(status, ErrorResponse{Error: ErrorBody{Kind: string(kind), Message: message}})
}

// WriteUnauthorized 401
func WriteUnauthorized(c *app.RequestContext, message string) {
	c.AbortWithStatusJSON(consts.StatusUnauthorized, ErrorResponse{Error: ErrorBody{Kind: KindUnauthorized, Message: message}})
}

// decodeJSON 解析请求体，失败时返回 VALIDATION 错误
func decodeJSON(c *app.RequestContext, op string, v any) error {
	body := c.Request.Body()
	if len(body) == 0 {
		return apperr.NewValidationError(op, "request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.NewValidationError(op, "malformed JSON: "+err.Error())
	}
	return nil
}

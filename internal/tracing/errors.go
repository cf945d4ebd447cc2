package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType 写入 span 的 error.type，用于按来源过滤
type ErrorType string

const (
	ErrorTypeHTTP            ErrorType = "http"
	ErrorTypeDB              ErrorType = "db"
	ErrorTypeRedis           ErrorType = "redis"
	ErrorTypeRabbitMQ        ErrorType = "rabbitmq"
	ErrorTypeLLM             ErrorType = "llm"
	ErrorTypeObjectStorage   ErrorType = "object_storage"
	ErrorTypeStateTransition ErrorType = "state_transition"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeExternal        ErrorType = "external_system"
	ErrorTypeTimeout         ErrorType = "timeout"
)

// RecordError 在 span 上记录错误并置为 Error 状态，span 或 err 为 nil 时什么都不做
func RecordError(span trace.Span, err error, errorType ErrorType, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", TruncateString(err.Error(), MaxErrorMessageLength)),
	)
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, err.Error())
}

// RecordHTTPError 记录接口返回的错误。
// 4xx 是调用方的问题，只记录事件不把 span 置为 Error；5xx 和 502 提取失败才算服务端错误。
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	if span == nil || err == nil {
		return
	}
	category := "server_error"
	if statusCode >= 400 && statusCode < 500 {
		category = "client_error"
	}
	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", category),
	}
	if category == "client_error" {
		span.AddEvent("client_error", trace.WithAttributes(append(attrs,
			attribute.String("error.message", TruncateString(err.Error(), MaxErrorMessageLength)))...))
		return
	}
	RecordError(span, err, ErrorTypeHTTP, attrs...)
}

// RecordRabbitMQNack 消费失败、消息重新入队
func RecordRabbitMQNack(span trace.Span, messageID string, reason string) {
	if span == nil {
		return
	}
	if reason == "" {
		reason = "message requeued by consumer"
	}
	span.SetAttributes(
		attribute.String("error.type", string(ErrorTypeRabbitMQ)),
		attribute.String("error.message", TruncateString(reason, MaxErrorMessageLength)),
		attribute.String("messaging.message_id", messageID),
		attribute.String("messaging.operation", "nack"),
		attribute.Bool("messaging.requeue", true),
	)
	span.SetStatus(codes.Error, reason)
}

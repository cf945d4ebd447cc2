package processor

import (
	"context"
	"encoding/json"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/tracing"
	"synchire-go/internal/types"
	"synchire-go/pkg/utils"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// EvaluationTrigger 消费面试完成事件：归档面试记录到对象存储，并在会话上记下对象键
type EvaluationTrigger struct {
	transcripts TranscriptStore
	sessions    SessionStore
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewEvaluationTrigger transcripts 为空时只更新会话
func NewEvaluationTrigger(transcripts TranscriptStore, sessions SessionStore, logger zerolog.Logger) *EvaluationTrigger {
	return &EvaluationTrigger{
		transcripts: transcripts,
		sessions:    sessions,
		timeout:     defaultFollowUpTimeout,
		logger:      logger,
	}
}

// Handle 处理一条事件，可直接作为 FollowUpHandler 使用
func (t *EvaluationTrigger) Handle(ctx context.Context, ev *types.InterviewCompletedEvent) error {
	ctx, span := tracer.Start(ctx, "EvaluationTrigger.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", ev.CallID),
		attribute.String("application.id", ev.ApplicationID),
	)

	session, err := t.sessions.GetInterviewSession(ctx, ev.CallID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}

	if len(ev.Transcript) > 0 && session.TranscriptObjectKey != "" {
		return apperr.NewDuplicateEventError("EvaluationTrigger.Handle", ev.CallID)
	}
	if len(ev.Transcript) > 0 && t.transcripts != nil {
		key, err := t.transcripts.PutTranscript(ctx, ev.CallID, ev.Transcript)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeObjectStorage)
			return err
		}
		session.TranscriptObjectKey = key
	}
	if session.CompletedAt == nil {
		session.CompletedAt = utils.TimePtr(ev.CompletedAt)
	}
	if session.DurationMinutes == 0 {
		session.DurationMinutes = ev.DurationMinutes
	}
	if err := t.sessions.SaveInterviewSession(ctx, session); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}

	t.logger.Info().
		Str("call_id", ev.CallID).
		Str("application_id", ev.ApplicationID).
		Str("transcript_key", session.TranscriptObjectKey).
		Msg("面试记录已归档，等待评估")
	return nil
}

// HandleDelivery RabbitMQ 消费回调，返回 false 时消息重新入队
func (t *EvaluationTrigger) HandleDelivery(body []byte) bool {
	var ev types.InterviewCompletedEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.CallID == "" {
		// 无法解析的消息重投也不会成功
		t.logger.Error().Err(err).Str("body", tracing.TruncateString(string(body), 200)).Msg("丢弃无法解析的面试完成事件")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	err := t.Handle(ctx, &ev)
	switch apperr.KindOf(err) {
	case "":
		return true
	case apperr.KindDuplicateEvent:
		t.logger.Info().Str("call_id", ev.CallID).Str("event_id", ev.EventID).Msg("面试记录已归档，确认重复事件")
		return true
	case apperr.KindNotFound:
		t.logger.Warn().Str("call_id", ev.CallID).Msg("面试会话不存在，丢弃事件")
		return true
	}
	_, span := tracer.Start(ctx, "EvaluationTrigger.Nack")
	tracing.RecordRabbitMQNack(span, ev.EventID, err.Error())
	span.End()
	t.logger.Warn().Err(err).Str("event_id", ev.EventID).Msg("处理面试完成事件失败，重新入队")
	return false
}

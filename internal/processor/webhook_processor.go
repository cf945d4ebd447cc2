package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/lifecycle"
	"synchire-go/internal/tracing"
	"synchire-go/internal/types"
	"synchire-go/pkg/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	ledgerScopeCompleted = "interview-completed"
	ledgerScopeStarted   = "interview-started"
)

// webhookPayload 同时接受 snake_case 与 camelCase 两种字段命名
type webhookPayload struct {
	CallID          string          `json:"call_id"`
	InterviewID     string          `json:"interviewId"`
	CallIDCamel     string          `json:"callId"`
	CandidateName   string          `json:"candidate_name"`
	CandidateNameC  string          `json:"candidateName"`
	JobTitle        string          `json:"job_title"`
	JobTitleC       string          `json:"jobTitle"`
	DurationMinutes *float64        `json:"duration_minutes"`
	DurationC       *float64        `json:"durationMinutes"`
	CompletedAt     string          `json:"completed_at"`
	CompletedAtC    string          `json:"completedAt"`
	Status          string          `json:"status"`
	Transcript      json.RawMessage `json:"transcript"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// InterviewWebhookProcessor 处理视频面试服务的开始/完成回调
type InterviewWebhookProcessor struct {
	sessions  SessionStore
	lifecycle Lifecycle
	ledger    EventLedger
	followUp  FollowUpHandler
	validate  *validator.Validate
	now       func() time.Time
	logger    zerolog.Logger
}

// WebhookOption 回调处理器配置项
type WebhookOption func(*InterviewWebhookProcessor)

// WithEventLedger 使用外部去重账本（如 Redis），默认使用进程内账本
func WithEventLedger(l EventLedger) WebhookOption {
	return func(p *InterviewWebhookProcessor) {
		if l != nil {
			p.ledger = l
		}
	}
}

// WithFollowUpDispatcher 面试完成后异步分发后续任务，队列满时回调返回错误让发送方重投
func WithFollowUpDispatcher(d *FollowUpDispatcher) WebhookOption {
	return func(p *InterviewWebhookProcessor) {
		if d != nil {
			p.followUp = d.Submit
		}
	}
}

// WithFollowUpHandler 在回调请求内同步执行后续任务，例如写发件箱
func WithFollowUpHandler(h FollowUpHandler) WebhookOption {
	return func(p *InterviewWebhookProcessor) {
		p.followUp = h
	}
}

// WithWebhookLogger 设置日志
func WithWebhookLogger(l zerolog.Logger) WebhookOption {
	return func(p *InterviewWebhookProcessor) {
		p.logger = l
	}
}

// WithWebhookClock 替换时钟
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(p *InterviewWebhookProcessor) {
		p.now = now
	}
}

// NewInterviewWebhookProcessor 创建回调处理器
func NewInterviewWebhookProcessor(sessions SessionStore, lc Lifecycle, opts ...WebhookOption) *InterviewWebhookProcessor {
	p := &InterviewWebhookProcessor{
		sessions:  sessions,
		lifecycle: lc,
		ledger:    NewMemoryEventLedger(),
		validate:  validator.New(),
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseEvent 把回调请求体解析为经过校验的事件；defaultStatus 用于请求体没有 status 字段的情况
func (p *InterviewWebhookProcessor) ParseEvent(body []byte, defaultStatus types.InterviewEventStatus) (*types.InterviewEvent, error) {
	const op = "ParseInterviewEvent"
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apperr.NewValidationError(op, "request body is empty")
	}
	var raw webhookPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return nil, apperr.NewValidationError(op, fmt.Sprintf("malformed JSON: %v", err))
	}

	ev := &types.InterviewEvent{
		CallID:        firstNonEmpty(raw.CallID, raw.InterviewID, raw.CallIDCamel),
		CandidateName: firstNonEmpty(raw.CandidateName, raw.CandidateNameC),
		JobTitle:      firstNonEmpty(raw.JobTitle, raw.JobTitleC),
		Status:        types.InterviewEventStatus(strings.ToLower(firstNonEmpty(raw.Status, string(defaultStatus)))),
	}
	if raw.DurationMinutes != nil {
		ev.DurationMinutes = utils.Round2(*raw.DurationMinutes)
	} else if raw.DurationC != nil {
		ev.DurationMinutes = utils.Round2(*raw.DurationC)
	}
	if ts := firstNonEmpty(raw.CompletedAt, raw.CompletedAtC); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, apperr.NewValidationError(op, "completed_at must be RFC3339")
		}
		ev.CompletedAt = t.UTC()
	}
	if len(raw.Transcript) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Transcript), []byte("null")) {
		if !json.Valid(raw.Transcript) {
			return nil, apperr.NewValidationError(op, "transcript is not valid JSON")
		}
		ev.Transcript = raw.Transcript
	}

	if err := p.validate.Struct(ev); err != nil {
		return nil, apperr.NewValidationError(op, err.Error())
	}
	return ev, nil
}

// OnInterviewComplete 处理面试完成回调。
// 未知 call_id 返回 ignored；重复投递返回 duplicate 且不改变状态。
func (p *InterviewWebhookProcessor) OnInterviewComplete(ctx context.Context, ev *types.InterviewEvent) (*types.WebhookAck, error) {
	ctx, span := tracer.Start(ctx, "InterviewWebhook.OnInterviewComplete")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.id", ev.CallID),
		attribute.String("candidate.name", tracing.SafeAttributeValue("candidate_name", ev.CandidateName, tracing.DefaultMaxLength)),
		attribute.Float64("interview.duration_minutes", ev.DurationMinutes),
	)

	log := p.logger.With().Str("call_id", ev.CallID).Logger()

	session, ack, err := p.resolveSession(ctx, "OnInterviewComplete", ev.CallID)
	if err != nil || ack != nil {
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
		}
		return ack, err
	}

	first, err := p.ledger.MarkEventOnce(ctx, ledgerScopeCompleted, ev.CallID)
	ledgerOK := err == nil
	if err != nil {
		// 账本不可用时退回到状态机自身的幂等判断
		log.Warn().Err(err).Msg("去重账本不可用")
		first = true
	}
	if !first {
		log.Info().Msg("重复的面试完成回调")
		return p.duplicateAck(ctx, ev.CallID, session.ApplicationID), nil
	}

	app, changed, err := p.lifecycle.CompleteInterview(ctx, session.ApplicationID, lifecycle.WithImpliedStart())
	if err != nil {
		if ferr := p.ledger.ForgetEvent(ctx, ledgerScopeCompleted, ev.CallID); ferr != nil {
			log.Warn().Err(ferr).Msg("回滚去重标记失败")
		}
		tracing.RecordError(span, err, tracing.ErrorTypeStateTransition)
		return nil, err
	}
	if !changed {
		// 状态已完成而去重标记是新的：上一次投递在后续任务交付前失败，补发一次
		if ledgerOK && app.Status == types.StatusInterviewCompleted {
			completedAt := p.now().UTC()
			if session.CompletedAt != nil {
				completedAt = *session.CompletedAt
			}
			if err := p.dispatchFollowUp(ctx, app, ev, completedAt); err != nil {
				return nil, p.followUpFailed(ctx, span, ev.CallID, err)
			}
		}
		return &types.WebhookAck{Status: types.AckDuplicate, CallID: ev.CallID, ApplicationID: app.ID, State: app.Status}, nil
	}

	completedAt := ev.CompletedAt
	if completedAt.IsZero() {
		completedAt = p.now().UTC()
	}
	if session.StartedAt == nil {
		session.StartedAt = utils.TimePtr(completedAt)
	}
	session.CompletedAt = utils.TimePtr(completedAt)
	session.DurationMinutes = ev.DurationMinutes
	if err := p.sessions.SaveInterviewSession(ctx, session); err != nil {
		log.Warn().Err(err).Msg("更新面试会话失败")
	}

	if err := p.dispatchFollowUp(ctx, app, ev, completedAt); err != nil {
		return nil, p.followUpFailed(ctx, span, ev.CallID, err)
	}

	log.Info().Str("application_id", app.ID).Float64("duration_minutes", ev.DurationMinutes).Msg("面试已完成")
	return &types.WebhookAck{Status: types.AckProcessed, CallID: ev.CallID, ApplicationID: app.ID, State: app.Status}, nil
}

// OnInterviewStarted 处理面试开始回调
func (p *InterviewWebhookProcessor) OnInterviewStarted(ctx context.Context, ev *types.InterviewEvent) (*types.WebhookAck, error) {
	ctx, span := tracer.Start(ctx, "InterviewWebhook.OnInterviewStarted")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", ev.CallID))

	session, ack, err := p.resolveSession(ctx, "OnInterviewStarted", ev.CallID)
	if err != nil || ack != nil {
		return ack, err
	}

	first, err := p.ledger.MarkEventOnce(ctx, ledgerScopeStarted, ev.CallID)
	if err != nil {
		p.logger.Warn().Err(err).Str("call_id", ev.CallID).Msg("去重账本不可用")
		first = true
	}
	if !first {
		return p.duplicateAck(ctx, ev.CallID, session.ApplicationID), nil
	}

	app, changed, err := p.lifecycle.StartInterview(ctx, session.ApplicationID)
	if err != nil {
		_ = p.ledger.ForgetEvent(ctx, ledgerScopeStarted, ev.CallID)
		tracing.RecordError(span, err, tracing.ErrorTypeStateTransition)
		return nil, err
	}
	if !changed {
		return &types.WebhookAck{Status: types.AckDuplicate, CallID: ev.CallID, ApplicationID: app.ID, State: app.Status}, nil
	}

	if session.StartedAt == nil {
		session.StartedAt = utils.TimePtr(p.now().UTC())
		if err := p.sessions.SaveInterviewSession(ctx, session); err != nil {
			p.logger.Warn().Err(err).Str("call_id", ev.CallID).Msg("更新面试会话失败")
		}
	}
	return &types.WebhookAck{Status: types.AckProcessed, CallID: ev.CallID, ApplicationID: app.ID, State: app.Status}, nil
}

// resolveSession 未知 call_id 返回 ignored 确认
func (p *InterviewWebhookProcessor) resolveSession(ctx context.Context, op, callID string) (*types.InterviewSession, *types.WebhookAck, error) {
	session, err := p.sessions.GetInterviewSession(ctx, callID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			p.logger.Warn().Str("call_id", callID).Str("op", op).Msg("未知的面试 call_id，忽略回调")
			return nil, &types.WebhookAck{Status: types.AckIgnored, CallID: callID}, nil
		}
		return nil, nil, apperr.NewInternalError(op, callID, err)
	}
	return session, nil, nil
}

func (p *InterviewWebhookProcessor) duplicateAck(ctx context.Context, callID, applicationID string) *types.WebhookAck {
	ack := &types.WebhookAck{Status: types.AckDuplicate, CallID: callID, ApplicationID: applicationID}
	if app, err := p.lifecycle.Get(ctx, applicationID); err == nil {
		ack.State = app.Status
	}
	return ack
}

// followUpEventID 同一通面试的后续事件 ID 固定，发件箱按 event_id 去重
func followUpEventID(callID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("synchire:interview-completed:"+callID)).String()
}

func (p *InterviewWebhookProcessor) dispatchFollowUp(ctx context.Context, app *types.Application, ev *types.InterviewEvent, completedAt time.Time) error {
	if p.followUp == nil {
		return nil
	}
	followUp := &types.InterviewCompletedEvent{
		EventID:         followUpEventID(ev.CallID),
		CallID:          ev.CallID,
		ApplicationID:   app.ID,
		JobID:           app.JobID,
		CandidateName:   firstNonEmpty(ev.CandidateName, app.CandidateName),
		JobTitle:        ev.JobTitle,
		DurationMinutes: ev.DurationMinutes,
		CompletedAt:     completedAt,
		Transcript:      ev.Transcript,
	}
	return p.followUp(ctx, followUp)
}

// followUpFailed 后续任务没有交付：释放去重标记并返回错误，发送方重投时补发
func (p *InterviewWebhookProcessor) followUpFailed(ctx context.Context, span trace.Span, callID string, err error) error {
	if ferr := p.ledger.ForgetEvent(ctx, ledgerScopeCompleted, callID); ferr != nil {
		p.logger.Warn().Err(ferr).Str("call_id", callID).Msg("回滚去重标记失败")
	}
	p.logger.Error().Err(err).Str("call_id", callID).Msg("后续任务交付失败，等待重投")
	tracing.RecordError(span, err, tracing.ErrorTypeExternal)
	return apperr.NewInternalError("OnInterviewComplete", callID, err)
}

package processor

import (
	"context"
	"errors"
	"sort"
	"sync"

	"synchire-go/internal/apperr"
	"synchire-go/internal/lifecycle"
	"synchire-go/internal/tracing"
	"synchire-go/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("synchire-go/processor")

// ThresholdPolicy 低于岗位阈值的候选人如何处理
type ThresholdPolicy string

const (
	// ThresholdFlag 照常记录，标记 BELOW_THRESHOLD
	ThresholdFlag ThresholdPolicy = "flag"
	// ThresholdSuppress 不为低于阈值的候选人新建申请，已有申请照常刷新
	ThresholdSuppress ThresholdPolicy = "suppress"
)

const defaultMatchWorkers = 8

// MatchOrchestrator 对一个岗位批量匹配整个候选人池
type MatchOrchestrator struct {
	store     MatchStore
	scorer    Scorer
	lifecycle Lifecycle
	policy    ThresholdPolicy
	workers   int
	logger    zerolog.Logger
}

// MatchOption 批量匹配配置项
type MatchOption func(*MatchOrchestrator)

// WithThresholdPolicy 设置阈值策略，未知值按 flag 处理
func WithThresholdPolicy(p ThresholdPolicy) MatchOption {
	return func(o *MatchOrchestrator) {
		if p == ThresholdSuppress {
			o.policy = ThresholdSuppress
		} else {
			o.policy = ThresholdFlag
		}
	}
}

// WithMatchWorkers 并发打分的 worker 数
func WithMatchWorkers(n int) MatchOption {
	return func(o *MatchOrchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMatchLogger 设置日志
func WithMatchLogger(l zerolog.Logger) MatchOption {
	return func(o *MatchOrchestrator) {
		o.logger = l
	}
}

// NewMatchOrchestrator 创建批量匹配器
func NewMatchOrchestrator(store MatchStore, scorer Scorer, lc Lifecycle, opts ...MatchOption) *MatchOrchestrator {
	o := &MatchOrchestrator{
		store:     store,
		scorer:    scorer,
		lifecycle: lc,
		policy:    ThresholdFlag,
		workers:   defaultMatchWorkers,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// matchOutcome 单个候选人的处理结果
type matchOutcome int

const (
	outcomeRecorded matchOutcome = iota
	outcomeSkipped
	outcomeSuppressed
	outcomeFailed
	outcomeAborted
)

// matchTally 并发汇总，worker 通过 add 写入
type matchTally struct {
	mu      sync.Mutex
	summary *types.MatchSummary
}

func (t *matchTally) add(outcome matchOutcome, app *types.ApplicationSummary, failure *types.CandidateFailure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch outcome {
	case outcomeAborted:
		return
	case outcomeRecorded:
		t.summary.Applications = append(t.summary.Applications, *app)
	case outcomeSkipped:
		t.summary.Skipped++
	case outcomeSuppressed:
		t.summary.Suppressed++
	case outcomeFailed:
		t.summary.Failures = append(t.summary.Failures, *failure)
	}
	t.summary.Processed++
}

// MatchCandidates 对岗位打分所有候选人并写入申请。
// 单个候选人失败不影响其他人；ctx 到期时停止调度，已写入的结果保留，Partial=true。
func (o *MatchOrchestrator) MatchCandidates(ctx context.Context, jobID string) (*types.MatchSummary, error) {
	ctx, span := tracer.Start(ctx, "MatchOrchestrator.MatchCandidates")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	job, err := o.loadJob(ctx, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	existing, err := o.store.GetApplicationsForJob(ctx, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, apperr.NewInternalError("MatchCandidates", jobID, err)
	}
	statusByCV := make(map[types.ContentHash]types.ApplicationStatus, len(existing))
	for _, a := range existing {
		statusByCV[a.CVID] = a.Status
	}

	pool, err := o.store.ListCandidateProfiles(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, apperr.NewInternalError("MatchCandidates", jobID, err)
	}

	tally := &matchTally{summary: &types.MatchSummary{
		JobID:        jobID,
		Total:        len(pool),
		Applications: []types.ApplicationSummary{},
	}}

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i := range pool {
		if ctx.Err() != nil {
			break
		}
		candidate := pool[i]
		status, known := statusByCV[candidate.CVID]
		g.Go(func() error {
			outcome, app, failure := o.matchOne(ctx, job, candidate, status, known)
			tally.add(outcome, app, failure)
			return nil
		})
	}
	_ = g.Wait()

	summary := tally.summary
	summary.MatchedCount = len(summary.Applications)
	summary.Partial = summary.Processed < summary.Total
	sort.SliceStable(summary.Applications, func(i, j int) bool {
		a, b := summary.Applications[i], summary.Applications[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		return a.CVID < b.CVID
	})
	sort.SliceStable(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].CVID < summary.Failures[j].CVID
	})

	span.SetAttributes(
		attribute.Int("match.total", summary.Total),
		attribute.Int("match.processed", summary.Processed),
		attribute.Int("match.matched", summary.MatchedCount),
		attribute.Bool("match.partial", summary.Partial),
	)
	o.logger.Info().
		Str("job_id", jobID).
		Int("total", summary.Total).
		Int("matched", summary.MatchedCount).
		Int("skipped", summary.Skipped).
		Int("suppressed", summary.Suppressed).
		Int("failed", len(summary.Failures)).
		Bool("partial", summary.Partial).
		Msg("批量匹配完成")
	return summary, nil
}

func (o *MatchOrchestrator) loadJob(ctx context.Context, jobID string) (*types.Job, error) {
	if jobID == "" {
		return nil, apperr.NewValidationError("MatchCandidates", "job id is required")
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, err
		}
		return nil, apperr.NewInternalError("MatchCandidates", jobID, err)
	}
	if job.Status != types.JobStatusActive {
		return nil, apperr.NewNotFoundError("MatchCandidates", jobID, "job is not active")
	}
	if !job.AIMatchingEnabled {
		return nil, apperr.NewValidationError("MatchCandidates", "ai matching is disabled for this job")
	}
	return job, nil
}

func (o *MatchOrchestrator) matchOne(ctx context.Context, job *types.Job, c types.CandidateProfile, status types.ApplicationStatus, known bool) (matchOutcome, *types.ApplicationSummary, *types.CandidateFailure) {
	if ctx.Err() != nil {
		return outcomeAborted, nil, nil
	}
	if known && (status.IsTerminal() || status.IsInterviewPhase()) {
		return outcomeSkipped, nil, nil
	}

	result := o.scorer.Score(c.Profile, &job.Requirements)
	qualification := types.QualificationQualified
	if result.Score < job.AIMatchingThreshold {
		qualification = types.QualificationBelowThreshold
		if o.policy == ThresholdSuppress && !known {
			return outcomeSuppressed, nil, nil
		}
	}

	who := lifecycle.Identity{CVID: c.CVID, Name: c.Name, Email: c.Email}
	app, created, err := o.lifecycle.RecordMatch(ctx, job.ID, who, result, qualification, types.SourceAIMatched)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeAborted, nil, nil
		}
		// 读取状态之后申请被并发推进到了面试阶段
		var ste *apperr.StateTransitionError
		if errors.As(err, &ste) {
			return outcomeSkipped, nil, nil
		}
		o.logger.Warn().Err(err).Str("job_id", job.ID).Str("cv_id", c.CVID.String()).Msg("候选人匹配失败")
		return outcomeFailed, nil, &types.CandidateFailure{
			CVID:    c.CVID,
			Kind:    string(apperr.KindOf(err)),
			Message: err.Error(),
		}
	}

	return outcomeRecorded, &types.ApplicationSummary{
		ApplicationID: app.ID,
		CVID:          app.CVID,
		CandidateName: app.CandidateName,
		MatchScore:    app.MatchScore,
		Status:        app.Status,
		Qualification: app.Qualification,
		Created:       created,
	}, nil
}

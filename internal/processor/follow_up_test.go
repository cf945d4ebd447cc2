package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/storage"
	"synchire-go/internal/storage/models"
	"synchire-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryEventLedger()
	now := fixedNow
	l.now = func() time.Time { return now }

	first, err := l.MarkEventOnce(ctx, "scope", "e1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := l.MarkEventOnce(ctx, "scope", "e1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := l.MarkEventOnce(ctx, "other", "e1")
	require.NoError(t, err)
	assert.True(t, other, "不同 scope 互不影响")

	require.NoError(t, l.ForgetEvent(ctx, "scope", "e1"))
	afterForget, _ := l.MarkEventOnce(ctx, "scope", "e1")
	assert.True(t, afterForget)

	now = now.Add(defaultLedgerTTL + time.Minute)
	expired, _ := l.MarkEventOnce(ctx, "scope", "e1")
	assert.True(t, expired, "过期后允许再次处理")
}

func TestFollowUpDispatcher_ProcessesAndDrainsOnStop(t *testing.T) {
	var handled atomic.Int32
	d := NewFollowUpDispatcher(func(context.Context, *types.InterviewCompletedEvent) error {
		handled.Add(1)
		return nil
	}, WithFollowUpWorkers(2), WithFollowUpQueueSize(16))
	d.Start()

	for i := 0; i < 10; i++ {
		require.True(t, d.Enqueue(&types.InterviewCompletedEvent{CallID: "c"}))
	}
	d.Stop()

	assert.Equal(t, int32(10), handled.Load())
	assert.False(t, d.Enqueue(&types.InterviewCompletedEvent{CallID: "late"}), "停止后拒绝入队")
	d.Stop()
}

func TestFollowUpDispatcher_FullQueueRejects(t *testing.T) {
	d := NewFollowUpDispatcher(func(context.Context, *types.InterviewCompletedEvent) error { return nil },
		WithFollowUpQueueSize(1))

	assert.True(t, d.Enqueue(&types.InterviewCompletedEvent{CallID: "a"}))
	assert.False(t, d.Enqueue(&types.InterviewCompletedEvent{CallID: "b"}))
	assert.Error(t, d.Submit(context.Background(), &types.InterviewCompletedEvent{CallID: "b"}))
}

func TestFollowUpDispatcher_SurvivesHandlerFailures(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	d := NewFollowUpDispatcher(func(_ context.Context, ev *types.InterviewCompletedEvent) error {
		mu.Lock()
		seen = append(seen, ev.CallID)
		mu.Unlock()
		switch ev.CallID {
		case "panic":
			panic("boom")
		case "error":
			return errors.New("downstream unavailable")
		}
		return nil
	}, WithFollowUpWorkers(1))
	d.Start()

	d.Enqueue(&types.InterviewCompletedEvent{CallID: "panic"})
	d.Enqueue(&types.InterviewCompletedEvent{CallID: "error"})
	d.Enqueue(&types.InterviewCompletedEvent{CallID: "ok"})
	d.Stop()

	assert.Equal(t, []string{"panic", "error", "ok"}, seen)
}

func TestOutboxFollowUpHandler(t *testing.T) {
	store := storage.NewMemoryStore()
	handler := OutboxFollowUpHandler(store, "interview.events", "interview.completed")

	ev := &types.InterviewCompletedEvent{
		EventID:       "evt-1",
		CallID:        "abc123",
		ApplicationID: "app-1",
		CompletedAt:   fixedNow,
	}
	require.NoError(t, handler(context.Background(), ev))

	msgs := store.OutboxMessages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "evt-1", msg.EventID)
	assert.Equal(t, "app-1", msg.AggregateID)
	assert.Equal(t, EventTypeInterviewCompleted, msg.EventType)
	assert.Equal(t, "interview.events", msg.TargetExchange)
	assert.Equal(t, "interview.completed", msg.TargetRoutingKey)
	assert.Equal(t, models.OutboxStatusPending, msg.Status)

	var decoded types.InterviewCompletedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	assert.Equal(t, "abc123", decoded.CallID)
}

// fakeTranscripts 记录归档调用
type fakeTranscripts struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeTranscripts) PutTranscript(_ context.Context, callID string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "transcripts/" + callID + ".json", nil
}

func TestEvaluationTrigger_ArchivesTranscriptOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveInterviewSession(ctx, &types.InterviewSession{CallID: "abc123", ApplicationID: "app-1"}))
	transcripts := &fakeTranscripts{}
	trigger := NewEvaluationTrigger(transcripts, store, testLogger())

	ev := &types.InterviewCompletedEvent{
		CallID:          "abc123",
		ApplicationID:   "app-1",
		DurationMinutes: 18,
		CompletedAt:     fixedNow,
		Transcript:      json.RawMessage(`[{"speaker":"ai","text":"hello"}]`),
	}
	require.NoError(t, trigger.Handle(ctx, ev))
	err := trigger.Handle(ctx, ev)
	require.Error(t, err)
	assert.Equal(t, apperr.KindDuplicateEvent, apperr.KindOf(err))
	assert.Equal(t, 1, transcripts.calls)

	sess, err := store.GetInterviewSession(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "transcripts/abc123.json", sess.TranscriptObjectKey)
	require.NotNil(t, sess.CompletedAt)
	assert.Equal(t, fixedNow, *sess.CompletedAt)
	assert.Equal(t, float64(18), sess.DurationMinutes)
}

func TestEvaluationTrigger_HandleDelivery(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveInterviewSession(ctx, &types.InterviewSession{CallID: "abc123", ApplicationID: "app-1"}))
	transcripts := &fakeTranscripts{}
	trigger := NewEvaluationTrigger(transcripts, store, testLogger())

	assert.True(t, trigger.HandleDelivery([]byte(`not json`)), "无法解析的消息直接确认")
	assert.True(t, trigger.HandleDelivery([]byte(`{"call_id":"unknown"}`)), "未知会话直接确认")

	transcripts.err = errors.New("minio unavailable")
	assert.False(t, trigger.HandleDelivery([]byte(`{"event_id":"e1","call_id":"abc123","transcript":[]}`)), "临时错误重新入队")

	transcripts.err = nil
	assert.True(t, trigger.HandleDelivery([]byte(`{"event_id":"e1","call_id":"abc123","transcript":[]}`)))
	assert.True(t, trigger.HandleDelivery([]byte(`{"event_id":"e1","call_id":"abc123","transcript":[]}`)), "重复投递直接确认")
	assert.Equal(t, 2, transcripts.calls)
}

// countingExpirer 每轮返回预设数量
type countingExpirer struct {
	returns []int
	calls   int
	before  time.Time
}

func (c *countingExpirer) ExpireInactive(_ context.Context, before time.Time, _ int) (int, error) {
	c.before = before
	n := 0
	if c.calls < len(c.returns) {
		n = c.returns[c.calls]
	}
	c.calls++
	return n, nil
}

func TestExpirySweeper_SweepOnce(t *testing.T) {
	exp := &countingExpirer{returns: []int{2, 2, 1}}
	s := NewExpirySweeper(exp, time.Hour, 90*24*time.Hour, 2, testLogger())
	s.now = func() time.Time { return fixedNow }

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, exp.calls, "不满一批时停止")
	assert.Equal(t, fixedNow.Add(-90*24*time.Hour), exp.before)
}

func TestExpirySweeper_StartStop(t *testing.T) {
	s := NewExpirySweeper(&countingExpirer{}, time.Millisecond, time.Hour, 10, testLogger())
	s.Start()
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	s.Stop()
}

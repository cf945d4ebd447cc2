package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"synchire-go/internal/apperr"
	"synchire-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore 测试用申请存储
type fakeStore struct {
	mu      sync.Mutex
	apps    map[string]*types.Application
	saveErr error
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{apps: make(map[string]*types.Application)}
}

func (f *fakeStore) GetApplication(_ context.Context, id string) (*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, apperr.NewNotFoundError("GetApplication", id, "")
	}
	return a.Clone(), nil
}

func (f *fakeStore) FindApplication(_ context.Context, jobID string, cvID types.ContentHash) (*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.apps {
		if a.JobID == jobID && a.CVID == cvID {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SaveApplication(_ context.Context, app *types.Application) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.apps[app.ID] = app.Clone()
	return nil
}

func (f *fakeStore) ListInactiveApplications(_ context.Context, before time.Time, limit int) ([]*types.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Application
	for _, a := range f.apps {
		if a.Status != types.StatusExpired && a.UpdatedAt.Before(before) {
			out = append(out, a.Clone())
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) status(id string) types.ApplicationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[id].Status
}

var who = Identity{CVID: "cv-hash-1", Name: "Ada", Email: "ada@example.com"}

func matched(t *testing.T, m *Manager) *types.Application {
	t.Helper()
	app, created, err := m.RecordMatch(context.Background(), "job-1", who,
		types.MatchResult{Score: 88, Reasons: []string{"Go"}, Gaps: []string{}},
		types.QualificationQualified, types.SourceAIMatched)
	require.NoError(t, err)
	require.True(t, created)
	return app
}

func TestManager_HappyPath(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	ctx := context.Background()

	app := matched(t, m)
	assert.Equal(t, types.StatusMatched, app.Status)
	assert.Equal(t, 88, app.MatchScore)
	assert.NotEmpty(t, app.ID)

	app, err := m.ScheduleInterview(ctx, app.ID, "call-1", "qhash")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInterviewScheduled, app.Status)
	assert.Equal(t, "call-1", app.InterviewSessionID)

	app, changed, err := m.StartInterview(ctx, app.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, types.StatusInterviewInProgress, app.Status)

	app, changed, err = m.CompleteInterview(ctx, app.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, types.StatusInterviewCompleted, app.Status)

	app, err = m.AttachEvaluation(ctx, app.ID, "eval-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusScored, app.Status)
	assert.Equal(t, "eval-1", app.EvaluationID)
}

func TestManager_InvalidTransitions(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	ctx := context.Background()

	app, _, err := m.Create(ctx, "job-1", who, types.SourceCandidateInitiated)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreated, app.Status)

	_, err = m.ScheduleInterview(ctx, app.ID, "call-1", "q")
	var ste *apperr.StateTransitionError
	require.True(t, errors.As(err, &ste))
	assert.Equal(t, app.ID, ste.ApplicationID)
	assert.Equal(t, types.StatusCreated, ste.Current)
	assert.Equal(t, types.StatusInterviewScheduled, ste.Attempted)

	_, _, err = m.CompleteInterview(ctx, app.ID)
	assert.Equal(t, apperr.KindStateTransition, apperr.KindOf(err))
	_, err = m.AttachEvaluation(ctx, app.ID, "e")
	assert.Equal(t, apperr.KindStateTransition, apperr.KindOf(err))

	// 失败的迁移不改变申请
	assert.Equal(t, types.StatusCreated, store.status(app.ID))
}

func TestManager_EveryNonAdjacentTransitionFails(t *testing.T) {
	all := []types.ApplicationStatus{
		types.StatusCreated, types.StatusMatched, types.StatusInterviewScheduled,
		types.StatusInterviewInProgress, types.StatusInterviewCompleted, types.StatusScored, types.StatusExpired,
	}
	for _, from := range all {
		for _, to := range all {
			legal := CanTransition(from, to)
			switch {
			case to == types.StatusExpired:
				assert.Equal(t, from != types.StatusExpired, legal, "%s -> %s", from, to)
			case from == types.StatusMatched && to == types.StatusMatched:
				assert.True(t, legal)
			}
			if from.IsTerminal() && to != types.StatusExpired {
				assert.False(t, legal, "%s -> %s", from, to)
			}
		}
	}
	assert.False(t, CanTransition(types.StatusCreated, types.StatusInterviewInProgress))
	assert.False(t, CanTransition(types.StatusInterviewScheduled, types.StatusInterviewCompleted))
	assert.False(t, CanTransition(types.StatusInterviewCompleted, types.StatusMatched))
}

func TestManager_RecordMatchIsUpsert(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	ctx := context.Background()

	first := matched(t, m)
	again, created, err := m.RecordMatch(ctx, "job-1", who,
		types.MatchResult{Score: 91, Reasons: []string{"Go", "SQL"}},
		types.QualificationQualified, types.SourceAIMatched)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 91, again.MatchScore)
	assert.Len(t, store.apps, 1)

	// CREATED -> MATCHED
	app, _, err := m.Create(ctx, "job-2", who, types.SourceCandidateInitiated)
	require.NoError(t, err)
	app, created, err = m.RecordMatch(ctx, "job-2", who, types.MatchResult{Score: 40}, types.QualificationBelowThreshold, types.SourceAIMatched)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, types.StatusMatched, app.Status)
	assert.Equal(t, types.SourceCandidateInitiated, app.Source, "来源不会被覆盖")
	assert.Equal(t, types.QualificationBelowThreshold, app.Qualification)
}

func TestManager_RecordMatchRejectsProtectedState(t *testing.T) {
	m := NewManager(newFakeStore())
	ctx := context.Background()
	app := matched(t, m)
	_, err := m.ScheduleInterview(ctx, app.ID, "call-1", "q")
	require.NoError(t, err)

	_, _, err = m.RecordMatch(ctx, "job-1", who, types.MatchResult{Score: 10}, types.QualificationBelowThreshold, types.SourceAIMatched)
	assert.Equal(t, apperr.KindStateTransition, apperr.KindOf(err))
}

func TestManager_CompleteIsIdempotent(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	ctx := context.Background()
	app := matched(t, m)
	_, err := m.ScheduleInterview(ctx, app.ID, "call-1", "q")
	require.NoError(t, err)

	// 仍处于 SCHEDULED，带隐式开始直接完成
	_, changed, err := m.CompleteInterview(ctx, app.ID, WithImpliedStart())
	require.NoError(t, err)
	assert.True(t, changed)
	saves := store.saves

	got, changed, err := m.CompleteInterview(ctx, app.ID, WithImpliedStart())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, types.StatusInterviewCompleted, got.Status)
	assert.Equal(t, saves, store.saves, "重复完成不写存储")
}

func TestManager_CompleteFromScheduledWithoutImpliedStart(t *testing.T) {
	m := NewManager(newFakeStore())
	ctx := context.Background()
	app := matched(t, m)
	_, err := m.ScheduleInterview(ctx, app.ID, "call-1", "q")
	require.NoError(t, err)
	_, _, err = m.CompleteInterview(ctx, app.ID)
	assert.Equal(t, apperr.KindStateTransition, apperr.KindOf(err))
}

func TestManager_ConcurrentCompletion(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	ctx := context.Background()
	app := matched(t, m)
	_, err := m.ScheduleInterview(ctx, app.ID, "abc123", "q")
	require.NoError(t, err)
	_, _, err = m.StartInterview(ctx, app.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	changes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := m.CompleteInterview(ctx, app.ID)
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, changes)
	assert.Equal(t, types.StatusInterviewCompleted, store.status(app.ID))
	assert.Zero(t, m.locks.Len())
}

func TestManager_SaveFailureLeavesApplicationUnchanged(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)
	ctx := context.Background()
	app := matched(t, m)

	store.saveErr = errors.New("disk full")
	_, err := m.ScheduleInterview(ctx, app.ID, "call-1", "q")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, types.StatusMatched, store.status(app.ID))
}

func TestManager_Expire(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	m := NewManager(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	app := matched(t, m)
	_, changed, err := m.Expire(ctx, app.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = m.Expire(ctx, app.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = m.ScheduleInterview(ctx, app.ID, "c", "q")
	assert.Equal(t, apperr.KindStateTransition, apperr.KindOf(err))
}

func TestManager_ExpireInactive(t *testing.T) {
	store := newFakeStore()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := old
	m := NewManager(store, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	stale, _, err := m.Create(ctx, "job-1", Identity{CVID: "a"}, types.SourceAIMatched)
	require.NoError(t, err)
	clock = old.AddDate(0, 3, 0)
	fresh, _, err := m.Create(ctx, "job-1", Identity{CVID: "b"}, types.SourceAIMatched)
	require.NoError(t, err)

	n, err := m.ExpireInactive(ctx, old.AddDate(0, 1, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.StatusExpired, store.status(stale.ID))
	assert.Equal(t, types.StatusCreated, store.status(fresh.ID))
}

func TestManager_NotFound(t *testing.T) {
	m := NewManager(newFakeStore())
	_, err := m.ScheduleInterview(context.Background(), "missing", "c", "q")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestManager_CreateValidation(t *testing.T) {
	m := NewManager(newFakeStore())
	_, _, err := m.Create(context.Background(), "", who, types.SourceAIMatched)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

// fakeRedisLocker 记录锁的获取与释放
type fakeRedisLocker struct {
	mu       sync.Mutex
	held     map[string]string
	acquires int
}

func (f *fakeRedisLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return "", nil
	}
	f.acquires++
	f.held[key] = "v"
	return "v", nil
}

func (f *fakeRedisLocker) ReleaseLock(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] != value {
		return false, nil
	}
	delete(f.held, key)
	return true, nil
}

func TestManager_DistributedLock(t *testing.T) {
	locker := &fakeRedisLocker{held: map[string]string{}}
	m := NewManager(newFakeStore(), WithDistributedLock(locker))
	app := matched(t, m)
	_, err := m.ScheduleInterview(context.Background(), app.ID, "c", "q")
	require.NoError(t, err)
	assert.Equal(t, 1, locker.acquires)
	assert.Empty(t, locker.held)
}

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
)

type fakeTimeoutStore struct {
	expired   []entity.TimeoutRecord
	onList    func()
	processed []uuid.UUID
}

func (s *fakeTimeoutStore) ListExpired(ctx context.Context, now time.Time) ([]entity.TimeoutRecord, error) {
	if s.onList != nil {
		s.onList()
	}
	return s.expired, nil
}

func (s *fakeTimeoutStore) MarkProcessed(ctx context.Context, runID uuid.UUID) error {
	s.processed = append(s.processed, runID)
	return nil
}

// fakeReaperRuns mirrors the guarded update: the fail only lands while
// the run is still non-terminal.
type fakeReaperRuns struct {
	mu     sync.Mutex
	status map[uuid.UUID]entity.RunStatus
	failed map[uuid.UUID]string
}

func newFakeReaperRuns(runs map[uuid.UUID]entity.RunStatus) *fakeReaperRuns {
	return &fakeReaperRuns{status: runs, failed: make(map[uuid.UUID]string)}
}

func (s *fakeReaperRuns) FailIfActive(ctx context.Context, id uuid.UUID, errText string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[id]
	if !ok || st.Terminal() {
		return false, nil
	}
	s.status[id] = entity.StatusFailed
	s.failed[id] = errText
	return true, nil
}

func (s *fakeReaperRuns) complete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = entity.StatusCompleted
}

func (s *fakeReaperRuns) statusOf(id uuid.UUID) entity.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

func TestReaperFailsOverdueActiveRuns(t *testing.T) {
	overdue := time.Now().Add(-time.Minute)

	stuck := uuid.New()
	pending := uuid.New()
	done := uuid.New()

	timeouts := &fakeTimeoutStore{expired: []entity.TimeoutRecord{
		{RunID: stuck, TimeoutAt: overdue},
		{RunID: pending, TimeoutAt: overdue},
		{RunID: done, TimeoutAt: overdue},
	}}
	runs := newFakeReaperRuns(map[uuid.UUID]entity.RunStatus{
		stuck:   entity.StatusRunning,
		pending: entity.StatusPending,
		done:    entity.StatusCompleted,
	})

	reaper := NewReaper(timeouts, runs, time.Second, zap.NewNop())
	failed, err := reaper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, failed)
	assert.Contains(t, runs.failed, stuck)
	assert.Contains(t, runs.failed, pending)
	assert.NotContains(t, runs.failed, done, "terminal runs are left alone")

	// every record retires, fired or not
	assert.Len(t, timeouts.processed, 3)
}

func TestReaperRetiresRecordForMissingRun(t *testing.T) {
	ghost := uuid.New()
	timeouts := &fakeTimeoutStore{expired: []entity.TimeoutRecord{
		{RunID: ghost, TimeoutAt: time.Now().Add(-time.Hour)},
	}}
	runs := newFakeReaperRuns(map[uuid.UUID]entity.RunStatus{})

	reaper := NewReaper(timeouts, runs, time.Second, zap.NewNop())
	failed, err := reaper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, failed)
	assert.Equal(t, []uuid.UUID{ghost}, timeouts.processed)
}

func TestReaperNeverOverwritesConcurrentCompletion(t *testing.T) {
	id := uuid.New()
	runs := newFakeReaperRuns(map[uuid.UUID]entity.RunStatus{
		id: entity.StatusProcessing,
	})
	// the run finishes after the sweep reads the expired records but
	// before the fail write lands
	timeouts := &fakeTimeoutStore{
		expired: []entity.TimeoutRecord{{RunID: id, TimeoutAt: time.Now().Add(-time.Minute)}},
		onList:  func() { runs.complete(id) },
	}

	reaper := NewReaper(timeouts, runs, time.Second, zap.NewNop())
	failed, err := reaper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, failed)
	assert.Equal(t, entity.StatusCompleted, runs.statusOf(id), "completed work must not be reported as failed")
	assert.Len(t, timeouts.processed, 1, "the deadline still retires")
}

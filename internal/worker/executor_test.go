package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
)

type fakeResults struct {
	completedID uuid.UUID
	processed   int
	failedID    uuid.UUID
	failedMsg   string
	flushed     []entity.LogEntry
}

func (r *fakeResults) SetCompleted(ctx context.Context, id uuid.UUID, processed, created, updated int) error {
	r.completedID = id
	r.processed = processed
	return nil
}

func (r *fakeResults) SetFailed(ctx context.Context, id uuid.UUID, errText string) error {
	r.failedID = id
	r.failedMsg = errText
	return nil
}

func (r *fakeResults) FlushLogs(ctx context.Context, id uuid.UUID, entries []entity.LogEntry) error {
	r.flushed = entries
	return nil
}

type fakeTargetResolver struct {
	target *entity.Target
	err    error
}

func (f *fakeTargetResolver) GetByID(ctx context.Context, id uuid.UUID) (*entity.Target, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.target, nil
}

type fakeEngine struct {
	batches [][]entity.ExtractedRecord
	err     error
}

func (e *fakeEngine) Run(ctx context.Context, script string, kind entity.ScriptKind, sink func(context.Context, []entity.ExtractedRecord) error, progress func(string)) (int, error) {
	total := 0
	for _, b := range e.batches {
		if err := sink(ctx, b); err != nil {
			return total, err
		}
		total += len(b)
	}
	if e.err != nil {
		return total, e.err
	}
	return total, nil
}

type fakeClient struct {
	records []entity.ExtractedRecord
	err     error
	testRun bool
}

func (c *fakeClient) FetchRecords(ctx context.Context, target *entity.Target, testRun bool) ([]entity.ExtractedRecord, error) {
	c.testRun = testRun
	return c.records, c.err
}

func scriptTarget() *entity.Target {
	return &entity.Target{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Kind:          entity.KindScript,
		ScriptContent: "def scrape(): pass",
		ScriptKind:    entity.ScriptPython,
		Active:        true,
	}
}

func TestScriptExecutorCompletes(t *testing.T) {
	results := &fakeResults{}
	engine := &fakeEngine{batches: [][]entity.ExtractedRecord{manyRecords(60), manyRecords(40)}}
	exec := NewScriptExecutor(
		&fakeTargetResolver{target: scriptTarget()},
		results, engine,
		fastIngestor(&fakeStaging{}, nil),
		nil, zap.NewNop())

	run := testRun()
	require.NoError(t, exec.Execute(context.Background(), run))

	assert.Equal(t, run.ID, results.completedID)
	assert.Equal(t, 100, results.processed)
	assert.NotEmpty(t, results.flushed, "run logs must be flushed")
}

func TestScriptExecutorFailsOnEngineError(t *testing.T) {
	results := &fakeResults{}
	engine := &fakeEngine{
		batches: [][]entity.ExtractedRecord{manyRecords(10)},
		err:     errors.New("script exited with code 2"),
	}
	exec := NewScriptExecutor(
		&fakeTargetResolver{target: scriptTarget()},
		results, engine,
		fastIngestor(&fakeStaging{}, nil),
		nil, zap.NewNop())

	run := testRun()
	err := exec.Execute(context.Background(), run)
	require.Error(t, err)

	assert.Equal(t, run.ID, results.failedID)
	assert.Contains(t, results.failedMsg, "exited with code 2")
	assert.Equal(t, uuid.Nil, results.completedID)
}

func TestScriptExecutorFailsOnMissingTarget(t *testing.T) {
	results := &fakeResults{}
	exec := NewScriptExecutor(
		&fakeTargetResolver{err: errors.New("not found")},
		results, &fakeEngine{},
		fastIngestor(&fakeStaging{}, nil),
		nil, zap.NewNop())

	run := testRun()
	require.Error(t, exec.Execute(context.Background(), run))
	assert.Equal(t, run.ID, results.failedID)
}

func TestSyncExecutorCompletes(t *testing.T) {
	results := &fakeResults{}
	client := &fakeClient{records: manyRecords(30)}
	target := scriptTarget()
	target.Kind = entity.KindPlatformSync
	target.Platform = "shopify"

	exec := NewSyncExecutor(
		&fakeTargetResolver{target: target},
		results, client,
		fastIngestor(&fakeStaging{}, nil),
		nil, zap.NewNop())

	run := testRun()
	run.IsTestRun = true
	require.NoError(t, exec.Execute(context.Background(), run))

	assert.True(t, client.testRun, "test-run flag must reach the platform client")
	assert.Equal(t, 30, results.processed)
}

func TestSyncExecutorFailsOnFetchError(t *testing.T) {
	results := &fakeResults{}
	client := &fakeClient{err: errors.New("api unreachable")}
	target := scriptTarget()
	target.Kind = entity.KindPlatformSync
	target.Platform = "shopify"

	exec := NewSyncExecutor(
		&fakeTargetResolver{target: target},
		results, client,
		fastIngestor(&fakeStaging{}, nil),
		nil, zap.NewNop())

	run := testRun()
	err := exec.Execute(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, results.failedMsg, "shopify")
}

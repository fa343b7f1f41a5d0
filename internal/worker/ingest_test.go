package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
	"scraper-worker-service/internal/repository/postgresql"
	"scraper-worker-service/internal/retry"
)

type fakeStaging struct {
	mu         sync.Mutex
	batchSizes []int
	failChunk  int // 1-based chunk index that always fails, 0 = never
	attempts   map[int]int
}

func (s *fakeStaging) InsertBatch(ctx context.Context, records []entity.StagedRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts == nil {
		s.attempts = make(map[int]int)
	}
	chunk := len(s.batchSizes) + 1
	s.attempts[chunk]++
	if s.failChunk == chunk {
		return 0, errors.New("connection reset")
	}
	s.batchSizes = append(s.batchSizes, len(records))
	return len(records), nil
}

type fakeMatcher struct {
	byEAN      map[string]uuid.UUID
	bySKUBrand map[string]uuid.UUID
}

func (m *fakeMatcher) FindProductByEAN(ctx context.Context, ownerID uuid.UUID, ean string) (uuid.UUID, error) {
	if id, ok := m.byEAN[ean]; ok {
		return id, nil
	}
	return uuid.Nil, postgresql.ErrNotFound
}

func (m *fakeMatcher) FindProductBySKUBrand(ctx context.Context, ownerID uuid.UUID, sku, brand string) (uuid.UUID, error) {
	if id, ok := m.bySKUBrand[sku+"|"+brand]; ok {
		return id, nil
	}
	return uuid.Nil, postgresql.ErrNotFound
}

type nopProgress struct{}

func (nopProgress) UpdateProgress(ctx context.Context, id uuid.UUID, processed, currentBatch int, totalBatches *int) error {
	return nil
}

func testRun() *entity.Run {
	return &entity.Run{ID: uuid.New(), TargetID: uuid.New(), OwnerID: uuid.New()}
}

func manyRecords(n int) []entity.ExtractedRecord {
	out := make([]entity.ExtractedRecord, n)
	for i := range out {
		out[i] = entity.ExtractedRecord{Name: "item", Price: 9.99}
	}
	return out
}

func fastIngestor(staging *fakeStaging, matcher *fakeMatcher) *Ingestor {
	if matcher == nil {
		matcher = &fakeMatcher{}
	}
	ing := NewIngestor(staging, matcher, nopProgress{}, zap.NewNop())
	ing.policy = retry.Fixed(ingestAttempts, time.Millisecond)
	return ing
}

func TestIngestChunkSplitting(t *testing.T) {
	staging := &fakeStaging{}
	ing := fastIngestor(staging, nil)

	n, err := ing.Ingest(context.Background(), testRun(), manyRecords(1250))
	require.NoError(t, err)

	assert.Equal(t, 1250, n)
	assert.Equal(t, []int{500, 500, 250}, staging.batchSizes, "ceil(1250/500) chunks, sizes summing to the input")
}

func TestIngestSingleShortChunk(t *testing.T) {
	staging := &fakeStaging{}
	ing := fastIngestor(staging, nil)

	n, err := ing.Ingest(context.Background(), testRun(), manyRecords(7))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, []int{7}, staging.batchSizes)
}

func TestIngestEmptyInput(t *testing.T) {
	staging := &fakeStaging{}
	ing := fastIngestor(staging, nil)

	n, err := ing.Ingest(context.Background(), testRun(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, staging.batchSizes)
}

func TestIngestAbortsAfterExhaustedChunk(t *testing.T) {
	staging := &fakeStaging{failChunk: 2}
	ing := fastIngestor(staging, nil)

	n, err := ing.Ingest(context.Background(), testRun(), manyRecords(1100))
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrMaxAttemptsExceeded)

	// chunk 1 stays in place, chunk 2 burned all attempts, chunk 3 never ran
	assert.Equal(t, 500, n)
	assert.Equal(t, []int{500}, staging.batchSizes)
	assert.Equal(t, ingestAttempts, staging.attempts[2])
}

func TestIngestMatchingPrecedence(t *testing.T) {
	eanID := uuid.New()
	pairID := uuid.New()
	matcher := &fakeMatcher{
		byEAN:      map[string]uuid.UUID{"4006381333931": eanID},
		bySKUBrand: map[string]uuid.UUID{"SKU-1|Acme": pairID},
	}
	staging := &fakeStaging{}
	ing := fastIngestor(staging, matcher)
	run := testRun()

	// EAN match wins even when the pair would also match
	s := ing.stage(context.Background(), run, entity.ExtractedRecord{
		Name: "a", EAN: "4006381333931", SKU: "SKU-1", Brand: "Acme",
	})
	require.NotNil(t, s.ProductID)
	assert.Equal(t, eanID, *s.ProductID)

	// no EAN: fall back to the (sku, brand) pair
	s = ing.stage(context.Background(), run, entity.ExtractedRecord{
		Name: "b", SKU: "SKU-1", Brand: "Acme",
	})
	require.NotNil(t, s.ProductID)
	assert.Equal(t, pairID, *s.ProductID)

	// nothing matches: product id stays nil for downstream creation
	s = ing.stage(context.Background(), run, entity.ExtractedRecord{Name: "c", SKU: "unknown"})
	assert.Nil(t, s.ProductID)
	assert.Equal(t, entity.StagedPending, s.Status)
}

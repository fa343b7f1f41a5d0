package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scraper-worker-service/internal/entity"
	"scraper-worker-service/internal/repository/postgresql"
	"scraper-worker-service/internal/retry"
)

const (
	ingestChunkSize  = 500
	ingestAttempts   = 3
	ingestRetryDelay = time.Second
)

type StagingStore interface {
	InsertBatch(ctx context.Context, records []entity.StagedRecord) (int, error)
}

type ProductMatcher interface {
	FindProductByEAN(ctx context.Context, ownerID uuid.UUID, ean string) (uuid.UUID, error)
	FindProductBySKUBrand(ctx context.Context, ownerID uuid.UUID, sku, brand string) (uuid.UUID, error)
}

type ProgressStore interface {
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, currentBatch int, totalBatches *int) error
}

// Ingestor moves extracted records into the staging table in chunks.
// Each chunk is retried on its own; when a chunk exhausts its attempts
// the whole ingest aborts and earlier chunks stay in place. Staged rows
// are keyed by identity downstream, so a re-run cannot double-count.
type Ingestor struct {
	staging StagingStore
	matcher ProductMatcher
	runs    ProgressStore
	log     *zap.Logger

	chunkSize int
	policy    retry.Config
}

func NewIngestor(staging StagingStore, matcher ProductMatcher, runs ProgressStore, log *zap.Logger) *Ingestor {
	return &Ingestor{
		staging:   staging,
		matcher:   matcher,
		runs:      runs,
		log:       log,
		chunkSize: ingestChunkSize,
		policy:    retry.Fixed(ingestAttempts, ingestRetryDelay),
	}
}

// Ingest stages all records for the run and returns how many were
// inserted. On a chunk failure the count covers the chunks that made it
// in before the abort.
func (ing *Ingestor) Ingest(ctx context.Context, run *entity.Run, records []entity.ExtractedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	staged := make([]entity.StagedRecord, 0, len(records))
	for _, rec := range records {
		staged = append(staged, ing.stage(ctx, run, rec))
	}

	totalChunks := (len(staged) + ing.chunkSize - 1) / ing.chunkSize
	inserted := 0

	for i := 0; i < totalChunks; i++ {
		lo := i * ing.chunkSize
		hi := lo + ing.chunkSize
		if hi > len(staged) {
			hi = len(staged)
		}
		chunk := staged[lo:hi]

		err := retry.Do(ctx, ing.policy, func(ctx context.Context) error {
			_, err := ing.staging.InsertBatch(ctx, chunk)
			return err
		})
		if err != nil {
			return inserted, fmt.Errorf("insert chunk %d/%d (%d records): %w", i+1, totalChunks, len(chunk), err)
		}
		inserted += len(chunk)

		ing.log.Info("chunk staged",
			zap.String("run_id", run.ID.String()),
			zap.Int("chunk", i+1),
			zap.Int("total_chunks", totalChunks),
			zap.Int("inserted", inserted))

		// Progress is cosmetic; never abort an ingest over it.
		if err := ing.runs.UpdateProgress(ctx, run.ID, run.RecordsProcessed+inserted, i+1, &totalChunks); err != nil {
			ing.log.Warn("progress update failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
	}

	return inserted, nil
}

// stage resolves a record against the owner's product catalog: exact
// EAN first, then the (sku, brand) pair. Unmatched records keep a nil
// product id and the downstream consumer creates the product.
func (ing *Ingestor) stage(ctx context.Context, run *entity.Run, rec entity.ExtractedRecord) entity.StagedRecord {
	s := entity.StagedRecord{
		RunID:    run.ID,
		TargetID: run.TargetID,
		OwnerID:  run.OwnerID,
		Name:     rec.Name,
		Price:    rec.Price,
		Currency: rec.Currency,
		SKU:      optional(rec.SKU),
		EAN:      optional(rec.EAN),
		Brand:    optional(rec.Brand),
		URL:      optional(rec.URL),
		ImageURL: optional(rec.ImageURL),
		Status:   entity.StagedPending,
	}

	if rec.EAN != "" {
		if id, err := ing.matcher.FindProductByEAN(ctx, run.OwnerID, rec.EAN); err == nil {
			s.ProductID = &id
			return s
		} else if !errors.Is(err, postgresql.ErrNotFound) {
			ing.log.Warn("ean lookup failed", zap.String("ean", rec.EAN), zap.Error(err))
		}
	}

	if rec.SKU != "" && rec.Brand != "" {
		if id, err := ing.matcher.FindProductBySKUBrand(ctx, run.OwnerID, rec.SKU, rec.Brand); err == nil {
			s.ProductID = &id
		} else if !errors.Is(err, postgresql.ErrNotFound) {
			ing.log.Warn("sku/brand lookup failed", zap.String("sku", rec.SKU), zap.Error(err))
		}
	}

	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package postgresql

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scraper-worker-service/internal/entity"
)

type StagingRepository struct {
	pool *pgxpool.Pool
}

func NewStagingRepository(pool *pgxpool.Pool) *StagingRepository {
	return &StagingRepository{pool: pool}
}

// InsertBatch bulk-inserts one chunk of staged records. Staged rows are
// append-only from this side; the downstream consumer keys on row
// identity, so re-ingesting after a crash cannot double-materialize.
func (r *StagingRepository) InsertBatch(ctx context.Context, records []entity.StagedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []any{
			rec.RunID, rec.TargetID, rec.OwnerID, rec.ProductID,
			rec.Name, rec.Price, rec.Currency,
			rec.SKU, rec.EAN, rec.Brand, rec.URL, rec.ImageURL,
			string(rec.Status),
		})
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"staged_records"},
		[]string{
			"run_id", "target_id", "owner_id", "product_id",
			"name", "price", "currency",
			"sku", "ean", "brand", "url", "image_url",
			"status",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

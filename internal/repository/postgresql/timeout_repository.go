package postgresql

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"scraper-worker-service/internal/entity"
)

type TimeoutRepository struct {
	pool *pgxpool.Pool
}

func NewTimeoutRepository(pool *pgxpool.Pool) *TimeoutRepository {
	return &TimeoutRepository{pool: pool}
}

// Register records the deadline for a run. At most one timeout record
// exists per run; a second registration is a no-op and the original
// deadline stands.
func (r *TimeoutRepository) Register(ctx context.Context, runID uuid.UUID, timeoutAt time.Time) error {
	const q = `
INSERT INTO run_timeouts (run_id, timeout_at, processed)
VALUES ($1, $2, false)
ON CONFLICT (run_id) DO NOTHING;
`
	_, err := r.pool.Exec(ctx, q, runID, timeoutAt)
	return err
}

// ListExpired returns unprocessed records whose deadline has passed.
func (r *TimeoutRepository) ListExpired(ctx context.Context, now time.Time) ([]entity.TimeoutRecord, error) {
	const q = `
SELECT run_id, timeout_at, processed
FROM run_timeouts
WHERE processed = false AND timeout_at < $1
ORDER BY timeout_at ASC;
`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.TimeoutRecord
	for rows.Next() {
		var rec entity.TimeoutRecord
		if err := rows.Scan(&rec.RunID, &rec.TimeoutAt, &rec.Processed); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *TimeoutRepository) MarkProcessed(ctx context.Context, runID uuid.UUID) error {
	const q = `UPDATE run_timeouts SET processed = true WHERE run_id = $1;`

	tag, err := r.pool.Exec(ctx, q, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

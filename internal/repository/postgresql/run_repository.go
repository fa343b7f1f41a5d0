package postgresql

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scraper-worker-service/internal/entity"
)

var ErrNotFound = errors.New("not found")

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) Create(ctx context.Context, targetID, ownerID uuid.UUID, kind entity.RunKind, isTestRun bool) (uuid.UUID, error) {
	const q = `
INSERT INTO scraper_runs (target_id, owner_id, kind, status, is_test_run, started_at)
VALUES ($1, $2, $3, 'pending', $4, now())
RETURNING id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, targetID, ownerID, string(kind), isTestRun).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Run, error) {
	const q = `
SELECT id, target_id, owner_id, kind, status, is_test_run,
       started_at, completed_at, last_progress_at, error_message,
       records_processed, records_created, records_updated,
       current_batch, total_batches, log_details
FROM scraper_runs
WHERE id = $1;
`
	var (
		run        entity.Run
		kindText   string
		statusText string
		logBytes   []byte
	)

	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&run.ID,
		&run.TargetID,
		&run.OwnerID,
		&kindText,
		&statusText,
		&run.IsTestRun,
		&run.StartedAt,
		&run.CompletedAt,    // NULL => nil
		&run.LastProgressAt, // NULL => nil
		&run.ErrorMessage,   // NULL => nil
		&run.RecordsProcessed,
		&run.RecordsCreated,
		&run.RecordsUpdated,
		&run.CurrentBatch,
		&run.TotalBatches, // NULL => nil
		&logBytes,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	run.Kind = entity.RunKind(kindText)
	run.Status = entity.RunStatus(statusText)
	if len(logBytes) > 0 {
		if err := json.Unmarshal(logBytes, &run.LogDetails); err != nil {
			return nil, err
		}
	}

	return &run, nil
}

// OldestPending returns the oldest claimable run of the given kind, or
// ErrNotFound when the queue is empty. Runs already bumped to
// initializing have waited longest, so they go first. The caller must
// still win the claim via ClaimPending before executing it.
func (r *RunRepository) OldestPending(ctx context.Context, kind entity.RunKind) (*entity.Run, error) {
	const q = `
SELECT id
FROM scraper_runs
WHERE status IN ('pending', 'initializing') AND kind = $1
ORDER BY CASE WHEN status = 'initializing' THEN 0 ELSE 1 END, started_at ASC
LIMIT 1;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, string(kind)).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// ClaimPending transitions a specific unclaimed run to running. The
// guard in the WHERE clause makes the claim atomic: when two workers
// race, exactly one sees an affected row. A false return means another
// worker won; that is not an error.
func (r *RunRepository) ClaimPending(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `
UPDATE scraper_runs
SET status = 'running', started_at = now()
WHERE id = $1 AND status IN ('pending', 'initializing');
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimNext selects and claims the oldest unclaimed run of the given
// kind in a single statement. SKIP LOCKED keeps concurrent claimers
// from blocking on each other; each claimable row goes to at most one
// caller. Returns ErrNotFound when nothing is waiting.
func (r *RunRepository) ClaimNext(ctx context.Context, kind entity.RunKind) (*entity.Run, error) {
	const q = `
UPDATE scraper_runs
SET status = 'processing', started_at = now()
FROM (
    SELECT id
    FROM scraper_runs
    WHERE status IN ('pending', 'initializing') AND kind = $1
    ORDER BY CASE WHEN status = 'initializing' THEN 0 ELSE 1 END, started_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
) next
WHERE scraper_runs.id = next.id
RETURNING scraper_runs.id;
`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, string(kind)).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// CASStatus transitions the run from one status to another only if it
// is still in the expected status. Returns whether the transition took
// effect.
func (r *RunRepository) CASStatus(ctx context.Context, id uuid.UUID, from, to entity.RunStatus) (bool, error) {
	const q = `UPDATE scraper_runs SET status = $3 WHERE id = $1 AND status = $2;`

	tag, err := r.pool.Exec(ctx, q, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RunRepository) SetCompleted(ctx context.Context, id uuid.UUID, processed, created, updated int) error {
	const q = `
UPDATE scraper_runs
SET status = 'completed', completed_at = now(), error_message = NULL,
    records_processed = $2, records_created = $3, records_updated = $4
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, q, id, processed, created, updated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RunRepository) SetFailed(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `
UPDATE scraper_runs
SET status = 'failed', completed_at = now(), error_message = $2
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, q, id, errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailIfActive marks the run failed only while it is still non-terminal.
// The guard keeps a concurrent completion from being overwritten: a run
// that finished between the caller's decision and this write reports
// false and keeps its status.
func (r *RunRepository) FailIfActive(ctx context.Context, id uuid.UUID, errText string) (bool, error) {
	const q = `
UPDATE scraper_runs
SET status = 'failed', completed_at = now(), error_message = $2
WHERE id = $1 AND status NOT IN ('completed', 'failed');
`
	tag, err := r.pool.Exec(ctx, q, id, errText)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetErrorMessage writes a diagnostic message without touching status.
func (r *RunRepository) SetErrorMessage(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `UPDATE scraper_runs SET error_message = $2 WHERE id = $1;`

	tag, err := r.pool.Exec(ctx, q, id, errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Heartbeat stamps last_progress_at. It touches no other column, so it
// never races with status or counter writes from the executor.
func (r *RunRepository) Heartbeat(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE scraper_runs SET last_progress_at = now() WHERE id = $1;`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RunRepository) UpdateProgress(ctx context.Context, id uuid.UUID, processed, currentBatch int, totalBatches *int) error {
	const q = `
UPDATE scraper_runs
SET records_processed = $2, current_batch = $3, total_batches = $4
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, q, id, processed, currentBatch, totalBatches)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FlushLogs replaces log_details wholesale with the given entries. The
// executing component owns the in-memory slice for the run's lifetime,
// so a full rewrite is safe and avoids JSON merge machinery in SQL.
func (r *RunRepository) FlushLogs(ctx context.Context, id uuid.UUID, entries []entity.LogEntry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	const q = `UPDATE scraper_runs SET log_details = $2 WHERE id = $1;`

	tag, err := r.pool.Exec(ctx, q, id, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

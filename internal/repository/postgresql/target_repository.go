package postgresql

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scraper-worker-service/internal/entity"
)

type TargetRepository struct {
	pool *pgxpool.Pool
}

func NewTargetRepository(pool *pgxpool.Pool) *TargetRepository {
	return &TargetRepository{pool: pool}
}

func (r *TargetRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Target, error) {
	const q = `
SELECT id, owner_id, kind, name,
       COALESCE(script_content, ''), COALESCE(script_kind, ''),
       COALESCE(platform, ''), COALESCE(api_url, ''), COALESCE(api_key, ''),
       active, created_at
FROM scrape_targets
WHERE id = $1;
`
	var (
		t          entity.Target
		kindText   string
		scriptKind string
	)

	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&t.ID,
		&t.OwnerID,
		&kindText,
		&t.Name,
		&t.ScriptContent,
		&scriptKind,
		&t.Platform,
		&t.APIURL,
		&t.APIKey,
		&t.Active,
		&t.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	t.Kind = entity.RunKind(kindText)
	t.ScriptKind = entity.ScriptKind(scriptKind)
	return &t, nil
}

// FindProductByEAN looks up an owner's product by exact EAN. Returns
// ErrNotFound when there is no match.
func (r *TargetRepository) FindProductByEAN(ctx context.Context, ownerID uuid.UUID, ean string) (uuid.UUID, error) {
	const q = `SELECT id FROM products WHERE owner_id = $1 AND ean = $2 LIMIT 1;`

	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, ownerID, ean).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// FindProductBySKUBrand is the fallback match on the (sku, brand) pair.
func (r *TargetRepository) FindProductBySKUBrand(ctx context.Context, ownerID uuid.UUID, sku, brand string) (uuid.UUID, error) {
	const q = `SELECT id FROM products WHERE owner_id = $1 AND sku = $2 AND brand = $3 LIMIT 1;`

	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, q, ownerID, sku, brand).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

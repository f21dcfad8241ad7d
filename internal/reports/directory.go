package reports

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/consolidation"
)

// Directory resolves entity records from the entities table.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory constructs a Postgres-backed entity directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

var _ consolidation.EntityDirectory = (*Directory)(nil)

// GetEntity returns the entity or (nil, nil) when it does not exist.
func (d *Directory) GetEntity(ctx context.Context, id int64) (*consolidation.Entity, error) {
	var entity consolidation.Entity
	err := d.pool.QueryRow(ctx, `
SELECT id, name, COALESCE(fiscal_year_start, '01-01'), COALESCE(currency, 'USD')
FROM entities WHERE id = $1`, id).
		Scan(&entity.ID, &entity.Name, &entity.FiscalYearStart, &entity.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

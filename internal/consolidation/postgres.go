package consolidation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/platform/db"
)

// PostgresStore persists groups in the consolidation_groups table with
// membership held in the consolidation_group_entities join relation. The
// join relation is the canonical membership representation; member lists
// are derived reads ordered by insertion position.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const groupSelect = `
SELECT g.id, g.name, g.description, g.owner_id, COALESCE(g.primary_entity_id, 0),
       g.start_date, g.end_date, g.period_type, g.currency, g.is_active,
       g.last_run, g.created_at, g.updated_at,
       COALESCE((SELECT array_agg(m.entity_id ORDER BY m.position)
                 FROM consolidation_group_entities m
                 WHERE m.group_id = g.id), '{}')
FROM consolidation_groups g`

func scanGroup(row pgx.Row) (*Group, error) {
	var g Group
	var startDate, endDate pgtype.Date
	var lastRun, createdAt, updatedAt pgtype.Timestamptz
	var entityIDs []int64
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.OwnerID, &g.PrimaryEntityID,
		&startDate, &endDate, &g.PeriodType, &g.Currency, &g.IsActive,
		&lastRun, &createdAt, &updatedAt, &entityIDs)
	if err != nil {
		return nil, err
	}
	if startDate.Valid {
		t := startDate.Time
		g.StartDate = &t
	}
	if endDate.Valid {
		t := endDate.Time
		g.EndDate = &t
	}
	if lastRun.Valid {
		t := lastRun.Time
		g.LastRun = &t
	}
	if createdAt.Valid {
		g.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		g.UpdatedAt = updatedAt.Time
	}
	g.EntityIDs = entityIDs
	return &g, nil
}

// Get returns the group or (nil, nil) when it does not exist.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Group, error) {
	group, err := scanGroup(s.pool.QueryRow(ctx, groupSelect+` WHERE g.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (s *PostgresStore) listGroups(ctx context.Context, query string, args ...any) ([]Group, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]Group, 0)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *group)
	}
	return groups, rows.Err()
}

// ListByOwner returns all groups owned by the given user.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID int64) ([]Group, error) {
	return s.listGroups(ctx, groupSelect+` WHERE g.owner_id = $1 ORDER BY g.id`, ownerID)
}

// ListByEntity returns all groups whose member set contains entityID.
func (s *PostgresStore) ListByEntity(ctx context.Context, entityID int64) ([]Group, error) {
	return s.listGroups(ctx, groupSelect+` WHERE EXISTS (
    SELECT 1 FROM consolidation_group_entities m
    WHERE m.group_id = g.id AND m.entity_id = $1) ORDER BY g.id`, entityID)
}

// Create stores the group row and its initial membership in one
// transaction, so a failed member insert rolls the group back too.
func (s *PostgresStore) Create(ctx context.Context, spec GroupSpec) (*Group, error) {
	currency := spec.Currency
	if currency == "" {
		currency = "USD"
	}
	periodType := spec.PeriodType
	if periodType == "" {
		periodType = "monthly"
	}
	isActive := true
	if spec.IsActive != nil {
		isActive = *spec.IsActive
	}
	now := s.now().UTC()

	var id int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
INSERT INTO consolidation_groups
  (name, description, owner_id, primary_entity_id, start_date, end_date,
   period_type, currency, is_active, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, $8, $9, $10, $10)
RETURNING id`,
			spec.Name, spec.Description, spec.OwnerID, spec.PrimaryEntityID,
			dateArg(spec.StartDate), dateArg(spec.EndDate),
			periodType, currency, isActive,
			pgtype.Timestamptz{Time: now, Valid: true}).Scan(&id)
		if err != nil {
			return err
		}
		return insertMembers(ctx, tx, id, spec.EntityIDs, 0)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Update applies a partial update inside one transaction; a non-nil
// EntityIDs wholesale-replaces the membership set. Returns (nil, nil)
// when the group does not exist.
func (s *PostgresStore) Update(ctx context.Context, id int64, update GroupUpdate) (*Group, error) {
	found := false
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		group, err := scanGroup(tx.QueryRow(ctx, groupSelect+` WHERE g.id = $1 FOR UPDATE OF g`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		applyUpdate(group, update)
		now := s.now().UTC()
		if _, err := tx.Exec(ctx, `
UPDATE consolidation_groups
SET name = $2, description = $3, primary_entity_id = NULLIF($4, 0),
    start_date = $5, end_date = $6, period_type = $7, currency = $8,
    is_active = $9, updated_at = $10
WHERE id = $1`,
			id, group.Name, group.Description, group.PrimaryEntityID,
			dateArg(group.StartDate), dateArg(group.EndDate),
			group.PeriodType, group.Currency, group.IsActive,
			pgtype.Timestamptz{Time: now, Valid: true}); err != nil {
			return err
		}

		if update.EntityIDs != nil {
			if _, err := tx.Exec(ctx, `DELETE FROM consolidation_group_entities WHERE group_id = $1`, id); err != nil {
				return err
			}
			if err := insertMembers(ctx, tx, id, *update.EntityIDs, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return s.Get(ctx, id)
}

// Delete removes membership links and the group row atomically.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM consolidation_group_entities WHERE group_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM consolidation_groups WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrGroupNotFound
		}
		return nil
	})
}

// AddEntity appends the entity to the member set. Unlike the in-memory
// store, this variant also verifies the entity row exists.
func (s *PostgresStore) AddEntity(ctx context.Context, groupID, entityID int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockGroup(ctx, tx, groupID); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1)`, entityID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrEntityNotFound
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO consolidation_group_entities (group_id, entity_id, position)
SELECT $1, $2, COALESCE(MAX(position), 0) + 1
FROM consolidation_group_entities WHERE group_id = $1
ON CONFLICT (group_id, entity_id) DO NOTHING`, groupID, entityID); err != nil {
			return err
		}
		return s.touchUpdatedAt(ctx, tx, groupID)
	})
}

// RemoveEntity removes the entity from the member set; removing a
// non-member is a no-op.
func (s *PostgresStore) RemoveEntity(ctx context.Context, groupID, entityID int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockGroup(ctx, tx, groupID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
DELETE FROM consolidation_group_entities WHERE group_id = $1 AND entity_id = $2`, groupID, entityID); err != nil {
			return err
		}
		return s.touchUpdatedAt(ctx, tx, groupID)
	})
}

// TouchLastRun records a successful report generation.
func (s *PostgresStore) TouchLastRun(ctx context.Context, groupID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE consolidation_groups SET last_run = $2, updated_at = $2 WHERE id = $1`,
		groupID, pgtype.Timestamptz{Time: at.UTC(), Valid: true})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// ListActiveGroupIDs returns the ids of all active groups.
func (s *PostgresStore) ListActiveGroupIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM consolidation_groups WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) touchUpdatedAt(ctx context.Context, tx pgx.Tx, groupID int64) error {
	_, err := tx.Exec(ctx, `UPDATE consolidation_groups SET updated_at = $2 WHERE id = $1`,
		groupID, pgtype.Timestamptz{Time: s.now().UTC(), Valid: true})
	return err
}

func lockGroup(ctx context.Context, tx pgx.Tx, groupID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM consolidation_groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrGroupNotFound
	}
	return err
}

func insertMembers(ctx context.Context, tx pgx.Tx, groupID int64, entityIDs []int64, startPos int) error {
	seen := make(map[int64]struct{}, len(entityIDs))
	position := startPos
	for _, entityID := range entityIDs {
		if _, ok := seen[entityID]; ok {
			continue
		}
		seen[entityID] = struct{}{}
		position++
		if _, err := tx.Exec(ctx, `
INSERT INTO consolidation_group_entities (group_id, entity_id, position)
VALUES ($1, $2, $3)`, groupID, entityID, position); err != nil {
			return err
		}
	}
	return nil
}

func dateArg(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func applyUpdate(group *Group, update GroupUpdate) {
	if update.Name != nil {
		group.Name = *update.Name
	}
	if update.Description != nil {
		group.Description = *update.Description
	}
	if update.PrimaryEntityID != nil {
		group.PrimaryEntityID = *update.PrimaryEntityID
	}
	if update.StartDate != nil {
		group.StartDate = update.StartDate
	}
	if update.EndDate != nil {
		group.EndDate = update.EndDate
	}
	if update.PeriodType != nil {
		group.PeriodType = *update.PeriodType
	}
	if update.Currency != nil {
		group.Currency = *update.Currency
	}
	if update.IsActive != nil {
		group.IsActive = *update.IsActive
	}
}

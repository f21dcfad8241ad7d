package consolidation

import (
	"context"
	"time"
)

// Store persists consolidation groups and their membership relation.
//
// Two lookup contracts coexist on purpose, mirroring the behaviour callers
// already depend on: Get and Update return (nil, nil) for a missing group,
// while Delete, AddEntity, RemoveEntity and TouchLastRun return
// ErrGroupNotFound.
type Store interface {
	// Get returns the group or (nil, nil) when it does not exist.
	Get(ctx context.Context, id int64) (*Group, error)
	// ListByOwner returns all groups owned by the given user.
	ListByOwner(ctx context.Context, ownerID int64) ([]Group, error)
	// ListByEntity returns all groups whose member set contains entityID.
	ListByEntity(ctx context.Context, entityID int64) ([]Group, error)
	// Create stores a new group together with its initial membership in
	// one atomic write, applying defaults for unset spec fields.
	Create(ctx context.Context, spec GroupSpec) (*Group, error)
	// Update applies a partial update. A non-nil EntityIDs replaces the
	// full membership set transactionally. Returns (nil, nil) when the
	// group does not exist.
	Update(ctx context.Context, id int64, update GroupUpdate) (*Group, error)
	// Delete removes the group and all membership links atomically.
	Delete(ctx context.Context, id int64) error
	// AddEntity appends an entity to the member set. Adding an existing
	// member is a no-op; both paths touch the group's updated_at.
	AddEntity(ctx context.Context, groupID, entityID int64) error
	// RemoveEntity removes an entity from the member set. Removing a
	// non-member is a no-op.
	RemoveEntity(ctx context.Context, groupID, entityID int64) error
	// TouchLastRun records a successful consolidated report generation.
	TouchLastRun(ctx context.Context, groupID int64, at time.Time) error
	// ListActiveGroupIDs returns the ids of all active groups.
	ListActiveGroupIDs(ctx context.Context) ([]int64, error)
}

// EntityDirectory looks up entity records maintained elsewhere.
type EntityDirectory interface {
	// GetEntity returns (nil, nil) when the entity does not exist.
	GetEntity(ctx context.Context, id int64) (*Entity, error)
}

// ReportSource produces per-entity financial reports. Implementations are
// external to this package; consolidation only reads their output.
type ReportSource interface {
	BalanceSheet(ctx context.Context, entityID int64, asOf time.Time) (*BalanceSheet, error)
	IncomeStatement(ctx context.Context, entityID int64, start, end time.Time) (*IncomeStatement, error)
	CashFlow(ctx context.Context, entityID int64, start, end time.Time) (*CashFlow, error)
	TrialBalance(ctx context.Context, entityID int64, start, end time.Time) (*TrialBalance, error)
}

package consolidation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and single-process
// setups. It keeps the same contracts as the Postgres variant with one
// documented exception: AddEntity does not verify the entity exists, since
// this store holds no entity records.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	groups map[int64]*Group
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		groups: make(map[int64]*Group),
		now:    time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *MemoryStore) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func cloneGroup(g *Group) *Group {
	clone := *g
	clone.EntityIDs = append([]int64(nil), g.EntityIDs...)
	if g.StartDate != nil {
		t := *g.StartDate
		clone.StartDate = &t
	}
	if g.EndDate != nil {
		t := *g.EndDate
		clone.EndDate = &t
	}
	if g.LastRun != nil {
		t := *g.LastRun
		clone.LastRun = &t
	}
	return &clone
}

// Get returns the group or (nil, nil) when it does not exist.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	return cloneGroup(group), nil
}

// ListByOwner returns all groups owned by the given user.
func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID int64) ([]Group, error) {
	return s.list(func(g *Group) bool { return g.OwnerID == ownerID })
}

// ListByEntity returns all groups whose member set contains entityID.
func (s *MemoryStore) ListByEntity(ctx context.Context, entityID int64) ([]Group, error) {
	return s.list(func(g *Group) bool {
		for _, id := range g.EntityIDs {
			if id == entityID {
				return true
			}
		}
		return false
	})
}

func (s *MemoryStore) list(match func(*Group) bool) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make([]Group, 0)
	for id := int64(1); id < s.nextID; id++ {
		if group, ok := s.groups[id]; ok && match(group) {
			groups = append(groups, *cloneGroup(group))
		}
	}
	return groups, nil
}

// Create stores a new group, applying defaults for unset spec fields.
func (s *MemoryStore) Create(ctx context.Context, spec GroupSpec) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	group := &Group{
		ID:              s.nextID,
		Name:            spec.Name,
		Description:     spec.Description,
		OwnerID:         spec.OwnerID,
		PrimaryEntityID: spec.PrimaryEntityID,
		EntityIDs:       dedupe(spec.EntityIDs),
		StartDate:       spec.StartDate,
		EndDate:         spec.EndDate,
		PeriodType:      spec.PeriodType,
		Currency:        spec.Currency,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if group.Currency == "" {
		group.Currency = "USD"
	}
	if group.PeriodType == "" {
		group.PeriodType = "monthly"
	}
	if spec.IsActive != nil {
		group.IsActive = *spec.IsActive
	}
	s.groups[group.ID] = group
	s.nextID++
	return cloneGroup(group), nil
}

// Update applies a partial update. Returns (nil, nil) when the group does
// not exist; a non-nil EntityIDs replaces the whole membership set.
func (s *MemoryStore) Update(ctx context.Context, id int64, update GroupUpdate) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	applyUpdate(group, update)
	if update.EntityIDs != nil {
		group.EntityIDs = dedupe(*update.EntityIDs)
	}
	group.UpdatedAt = s.now().UTC()
	return cloneGroup(group), nil
}

// Delete removes the group and its membership.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return ErrGroupNotFound
	}
	delete(s.groups, id)
	return nil
}

// AddEntity appends an entity to the member set; adding an existing member
// is a no-op. Entity existence is not checked here.
func (s *MemoryStore) AddEntity(ctx context.Context, groupID, entityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	for _, id := range group.EntityIDs {
		if id == entityID {
			group.UpdatedAt = s.now().UTC()
			return nil
		}
	}
	group.EntityIDs = append(group.EntityIDs, entityID)
	group.UpdatedAt = s.now().UTC()
	return nil
}

// RemoveEntity removes an entity from the member set; removing a
// non-member is a no-op.
func (s *MemoryStore) RemoveEntity(ctx context.Context, groupID, entityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	members := group.EntityIDs[:0]
	for _, id := range group.EntityIDs {
		if id != entityID {
			members = append(members, id)
		}
	}
	group.EntityIDs = members
	group.UpdatedAt = s.now().UTC()
	return nil
}

// TouchLastRun records a successful report generation.
func (s *MemoryStore) TouchLastRun(ctx context.Context, groupID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	t := at.UTC()
	group.LastRun = &t
	group.UpdatedAt = t
	return nil
}

// ListActiveGroupIDs returns the ids of all active groups.
func (s *MemoryStore) ListActiveGroupIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0)
	for id := int64(1); id < s.nextID; id++ {
		if group, ok := s.groups[id]; ok && group.IsActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package consolidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// entityReport is the tagged payload produced by one per-entity generator
// call; exactly one field is set, matching the requested report type.
type entityReport struct {
	bs *BalanceSheet
	is *IncomeStatement
	cf *CashFlow
	tb *TrialBalance
}

// reportKind binds one report type to its generator call and its merge
// routine. Dispatch on the report type happens exactly once, at table
// lookup, instead of being re-switched at every stage.
type reportKind struct {
	generate func(ctx context.Context, src ReportSource, entityID int64, start, end time.Time) (entityReport, error)
	merge    func(parts []entityReport, out *ConsolidatedReport)
}

var reportKinds = map[ReportType]reportKind{
	ReportBalanceSheet: {
		generate: func(ctx context.Context, src ReportSource, entityID int64, _, end time.Time) (entityReport, error) {
			bs, err := src.BalanceSheet(ctx, entityID, end)
			return entityReport{bs: bs}, err
		},
		merge: func(parts []entityReport, out *ConsolidatedReport) {
			reports := make([]*BalanceSheet, len(parts))
			for i, part := range parts {
				reports[i] = part.bs
			}
			out.BalanceSheet = ConsolidateBalanceSheets(reports)
		},
	},
	ReportIncomeStatement: {
		generate: func(ctx context.Context, src ReportSource, entityID int64, start, end time.Time) (entityReport, error) {
			is, err := src.IncomeStatement(ctx, entityID, start, end)
			return entityReport{is: is}, err
		},
		merge: func(parts []entityReport, out *ConsolidatedReport) {
			reports := make([]*IncomeStatement, len(parts))
			for i, part := range parts {
				reports[i] = part.is
			}
			out.IncomeStatement = ConsolidateIncomeStatements(reports)
		},
	},
	ReportCashFlow: {
		generate: func(ctx context.Context, src ReportSource, entityID int64, start, end time.Time) (entityReport, error) {
			cf, err := src.CashFlow(ctx, entityID, start, end)
			return entityReport{cf: cf}, err
		},
		merge: func(parts []entityReport, out *ConsolidatedReport) {
			reports := make([]*CashFlow, len(parts))
			for i, part := range parts {
				reports[i] = part.cf
			}
			out.CashFlow = ConsolidateCashFlows(reports)
		},
	},
	ReportTrialBalance: {
		generate: func(ctx context.Context, src ReportSource, entityID int64, start, end time.Time) (entityReport, error) {
			tb, err := src.TrialBalance(ctx, entityID, start, end)
			return entityReport{tb: tb}, err
		},
		merge: func(parts []entityReport, out *ConsolidatedReport) {
			reports := make([]*TrialBalance, len(parts))
			for i, part := range parts {
				reports[i] = part.tb
			}
			out.TrialBalance = ConsolidateTrialBalances(reports)
		},
	},
}

// Service orchestrates group management and consolidated report generation.
type Service struct {
	store    Store
	entities EntityDirectory
	source   ReportSource
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a consolidation service instance.
func NewService(store Store, entities EntityDirectory, source ReportSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		entities: entities,
		source:   source,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Generate produces a consolidated report for the group. Per-entity
// generation fans out concurrently; merge order still follows the member
// list so output is deterministic. Any per-entity failure aborts the whole
// run, fail-fast with no partial result and no retries.
func (s *Service) Generate(ctx context.Context, groupID int64, reportType ReportType, start, end *time.Time) (*ConsolidatedReport, error) {
	kind, ok := reportKinds[reportType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedReportType, reportType)
	}

	group, err := s.store.Get(ctx, groupID)
	if err != nil {
		return nil, s.storageError("get group", err)
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	if len(group.EntityIDs) == 0 {
		return nil, ErrEmptyGroup
	}

	effectiveStart, effectiveEnd, err := s.resolveRange(ctx, group, start, end)
	if err != nil {
		return nil, err
	}

	parts := make([]entityReport, len(group.EntityIDs))
	eg, gctx := errgroup.WithContext(ctx)
	for i, entityID := range group.EntityIDs {
		i, entityID := i, entityID
		eg.Go(func() error {
			part, err := kind.generate(gctx, s.source, entityID, effectiveStart, effectiveEnd)
			if err != nil {
				return fmt.Errorf("generate %s for entity %d: %w", reportType, entityID, err)
			}
			parts[i] = part
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	now := s.now()
	report := &ConsolidatedReport{
		ID:          uuid.New(),
		GroupID:     group.ID,
		GroupName:   group.Name,
		ReportType:  reportType,
		Entities:    append([]int64(nil), group.EntityIDs...),
		StartDate:   effectiveStart,
		EndDate:     effectiveEnd,
		GeneratedAt: now,
	}
	kind.merge(parts, report)

	if err := s.store.TouchLastRun(ctx, group.ID, now); err != nil {
		return nil, s.storageError("touch last run", err)
	}

	s.logger.Info("consolidated report generated",
		slog.Int64("group_id", group.ID),
		slog.String("report_type", string(reportType)),
		slog.Int("entities", len(report.Entities)))
	return report, nil
}

// resolveRange looks up the primary entity's fiscal year settings and
// applies the default date-range rules.
func (s *Service) resolveRange(ctx context.Context, group *Group, start, end *time.Time) (time.Time, time.Time, error) {
	fiscalYearStart := ""
	if primaryID, ok := group.PrimaryEntity(); ok && s.entities != nil {
		entity, err := s.entities.GetEntity(ctx, primaryID)
		if err != nil {
			return time.Time{}, time.Time{}, s.storageError("get primary entity", err)
		}
		if entity != nil {
			fiscalYearStart = entity.FiscalYearStart
			if fiscalYearStart == "" {
				fiscalYearStart = "01-01"
			}
		}
	}
	effectiveStart, effectiveEnd := ResolveDateRange(group, fiscalYearStart, start, end, s.now())
	return effectiveStart, effectiveEnd, nil
}

// Get returns a group, or nil without error when it does not exist.
func (s *Service) Get(ctx context.Context, id int64) (*Group, error) {
	group, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storageError("get group", err)
	}
	return group, nil
}

// ListByOwner returns the groups owned by a user.
func (s *Service) ListByOwner(ctx context.Context, ownerID int64) ([]Group, error) {
	groups, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, s.storageError("list groups by owner", err)
	}
	return groups, nil
}

// ListByEntity returns the groups containing the given entity.
func (s *Service) ListByEntity(ctx context.Context, entityID int64) ([]Group, error) {
	groups, err := s.store.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, s.storageError("list groups by entity", err)
	}
	return groups, nil
}

// Create stores a new group with its initial members.
func (s *Service) Create(ctx context.Context, spec GroupSpec) (*Group, error) {
	if spec.Name == "" {
		return nil, errors.New("consolidation: group name is required")
	}
	group, err := s.store.Create(ctx, spec)
	if err != nil {
		return nil, s.storageError("create group", err)
	}
	return group, nil
}

// Update applies a partial update, returning nil without error when the
// group does not exist.
func (s *Service) Update(ctx context.Context, id int64, update GroupUpdate) (*Group, error) {
	group, err := s.store.Update(ctx, id, update)
	if err != nil {
		return nil, s.storageError("update group", err)
	}
	return group, nil
}

// Delete removes a group and its membership links.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return s.storageError("delete group", err)
	}
	return nil
}

// AddEntity adds a member to the group, idempotently.
func (s *Service) AddEntity(ctx context.Context, groupID, entityID int64) error {
	if err := s.store.AddEntity(ctx, groupID, entityID); err != nil {
		return s.storageError("add entity", err)
	}
	return nil
}

// RemoveEntity removes a member from the group, idempotently.
func (s *Service) RemoveEntity(ctx context.Context, groupID, entityID int64) error {
	if err := s.store.RemoveEntity(ctx, groupID, entityID); err != nil {
		return s.storageError("remove entity", err)
	}
	return nil
}

// storageError lets domain errors pass unchanged and wraps anything else
// into ErrInternal so storage internals never leak to callers.
func (s *Service) storageError(op string, err error) error {
	if errors.Is(err, ErrGroupNotFound) || errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrEmptyGroup) || errors.Is(err, ErrUnsupportedReportType) {
		return err
	}
	s.logger.Error("storage failure", slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%w: %s", ErrInternal, op)
}

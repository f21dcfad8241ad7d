package consolidation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubSource serves canned per-entity reports keyed by entity id and
// records which entities were asked for.
type stubSource struct {
	mu       sync.Mutex
	requests []int64

	balanceSheets map[int64]*BalanceSheet
	trialBalances map[int64]*TrialBalance
	incomes       map[int64]*IncomeStatement
	cashFlows     map[int64]*CashFlow
	err           error
	failEntity    int64
}

func (s *stubSource) record(entityID int64) error {
	s.mu.Lock()
	s.requests = append(s.requests, entityID)
	s.mu.Unlock()
	if s.err != nil && (s.failEntity == 0 || s.failEntity == entityID) {
		return s.err
	}
	return nil
}

func (s *stubSource) BalanceSheet(_ context.Context, entityID int64, _ time.Time) (*BalanceSheet, error) {
	if err := s.record(entityID); err != nil {
		return nil, err
	}
	if bs, ok := s.balanceSheets[entityID]; ok {
		return bs, nil
	}
	return &BalanceSheet{}, nil
}

func (s *stubSource) IncomeStatement(_ context.Context, entityID int64, _, _ time.Time) (*IncomeStatement, error) {
	if err := s.record(entityID); err != nil {
		return nil, err
	}
	if is, ok := s.incomes[entityID]; ok {
		return is, nil
	}
	return &IncomeStatement{}, nil
}

func (s *stubSource) CashFlow(_ context.Context, entityID int64, _, _ time.Time) (*CashFlow, error) {
	if err := s.record(entityID); err != nil {
		return nil, err
	}
	if cf, ok := s.cashFlows[entityID]; ok {
		return cf, nil
	}
	return &CashFlow{}, nil
}

func (s *stubSource) TrialBalance(_ context.Context, entityID int64, _, _ time.Time) (*TrialBalance, error) {
	if err := s.record(entityID); err != nil {
		return nil, err
	}
	if tb, ok := s.trialBalances[entityID]; ok {
		return tb, nil
	}
	return &TrialBalance{}, nil
}

type stubDirectory struct {
	entities map[int64]*Entity
	err      error
}

func (d *stubDirectory) GetEntity(_ context.Context, id int64) (*Entity, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.entities[id], nil
}

func newTestService(t *testing.T, store Store, source ReportSource, directory EntityDirectory) *Service {
	t.Helper()
	svc := NewService(store, directory, source, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	svc.WithClock(func() time.Time { return date(2025, time.June, 15) })
	return svc
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func seedGroup(t *testing.T, store Store, entityIDs ...int64) *Group {
	t.Helper()
	group, err := store.Create(context.Background(), GroupSpec{
		Name:      "Nordic Holdings",
		OwnerID:   7,
		EntityIDs: entityIDs,
	})
	require.NoError(t, err)
	return group
}

func TestServiceGenerateTrialBalance(t *testing.T) {
	store := NewMemoryStore()
	group := seedGroup(t, store, 101, 102)
	source := &stubSource{trialBalances: map[int64]*TrialBalance{
		101: {Items: []TrialBalanceLine{{AccountCode: "1000", AccountName: "Cash", Debit: 500}}, TotalDebits: 500},
		102: {Items: []TrialBalanceLine{{AccountCode: "1000", AccountName: "Cash", Debit: 300, Credit: 50}}, TotalDebits: 300, TotalCredits: 50},
	}}
	svc := newTestService(t, store, source, &stubDirectory{})

	report, err := svc.Generate(context.Background(), group.ID, ReportTrialBalance, nil, nil)
	require.NoError(t, err)
	require.Equal(t, group.ID, report.GroupID)
	require.Equal(t, ReportTrialBalance, report.ReportType)
	require.Equal(t, []int64{101, 102}, report.Entities)
	require.NotNil(t, report.TrialBalance)
	require.Nil(t, report.BalanceSheet)
	require.Len(t, report.TrialBalance.Items, 1)
	require.Equal(t, 750.0, report.TrialBalance.Items[0].Balance)

	stored, err := store.Get(context.Background(), group.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRun)
	require.Equal(t, date(2025, time.June, 15), *stored.LastRun)
}

func TestServiceGenerateBalanceSheetMergeOrder(t *testing.T) {
	store := NewMemoryStore()
	group := seedGroup(t, store, 2, 1)
	source := &stubSource{balanceSheets: map[int64]*BalanceSheet{
		1: {Assets: []ReportLine{line("1100", "Receivables", 30)}},
		2: {Assets: []ReportLine{line("1000", "Cash", 70)}},
	}}
	svc := newTestService(t, store, source, &stubDirectory{})

	report, err := svc.Generate(context.Background(), group.ID, ReportBalanceSheet, nil, nil)
	require.NoError(t, err)
	// Merge order follows the member list regardless of which entity's
	// report arrived first.
	require.Equal(t, "1000", report.BalanceSheet.Assets[0].AccountCode)
	require.Equal(t, "1100", report.BalanceSheet.Assets[1].AccountCode)
}

func TestServiceGenerateEmptyGroup(t *testing.T) {
	store := NewMemoryStore()
	group := seedGroup(t, store)
	svc := newTestService(t, store, &stubSource{}, &stubDirectory{})

	for _, reportType := range []ReportType{ReportBalanceSheet, ReportIncomeStatement, ReportCashFlow, ReportTrialBalance} {
		_, err := svc.Generate(context.Background(), group.ID, reportType, nil, nil)
		require.ErrorIs(t, err, ErrEmptyGroup, "report type %s", reportType)
	}
}

func TestServiceGenerateMissingGroup(t *testing.T) {
	svc := newTestService(t, NewMemoryStore(), &stubSource{}, &stubDirectory{})

	_, err := svc.Generate(context.Background(), 999, ReportTrialBalance, nil, nil)
	require.ErrorIs(t, err, ErrGroupNotFound)
}

func TestServiceGenerateUnsupportedType(t *testing.T) {
	store := NewMemoryStore()
	group := seedGroup(t, store, 1)
	svc := newTestService(t, store, &stubSource{}, &stubDirectory{})

	_, err := svc.Generate(context.Background(), group.ID, ReportType("ledger"), nil, nil)
	require.ErrorIs(t, err, ErrUnsupportedReportType)
}

func TestServiceGenerateFailFast(t *testing.T) {
	store := NewMemoryStore()
	group := seedGroup(t, store, 1, 2, 3)
	boom := errors.New("ledger offline")
	source := &stubSource{err: boom, failEntity: 2}
	svc := newTestService(t, store, source, &stubDirectory{})

	report, err := svc.Generate(context.Background(), group.ID, ReportIncomeStatement, nil, nil)
	require.ErrorIs(t, err, boom)
	require.Nil(t, report)

	// A failed run must not count as a generation.
	stored, err := store.Get(context.Background(), group.ID)
	require.NoError(t, err)
	require.Nil(t, stored.LastRun)
}

func TestServiceGenerateFiscalYearDefaults(t *testing.T) {
	store := NewMemoryStore()
	group := seedGroup(t, store, 42, 43)
	directory := &stubDirectory{entities: map[int64]*Entity{
		42: {ID: 42, Name: "Aurora Oy", FiscalYearStart: "04-01"},
	}}
	svc := newTestService(t, store, &stubSource{}, directory)

	report, err := svc.Generate(context.Background(), group.ID, ReportTrialBalance, nil, nil)
	require.NoError(t, err)
	// Clock is 2025-06-15; the primary entity's April 1st lies before it,
	// so the fiscal start stays in the same year.
	require.Equal(t, date(2025, time.April, 1), report.StartDate)
	require.Equal(t, date(2025, time.June, 15), report.EndDate)
}

func TestServiceGenerateUnknownPrimaryEntityFallsBack(t *testing.T) {
	store := NewMemoryStore()
	group := seedGroup(t, store, 42)
	svc := newTestService(t, store, &stubSource{}, &stubDirectory{})

	report, err := svc.Generate(context.Background(), group.ID, ReportTrialBalance, nil, nil)
	require.NoError(t, err)
	require.Equal(t, report.EndDate.AddDate(-1, 0, 0), report.StartDate)
}

func TestServiceGenerateExplicitRange(t *testing.T) {
	store := NewMemoryStore()
	group := seedGroup(t, store, 1)
	svc := newTestService(t, store, &stubSource{}, &stubDirectory{})

	start := date(2024, time.January, 1)
	end := date(2024, time.March, 31)
	report, err := svc.Generate(context.Background(), group.ID, ReportCashFlow, &start, &end)
	require.NoError(t, err)
	require.Equal(t, start, report.StartDate)
	require.Equal(t, end, report.EndDate)
	require.NotNil(t, report.CashFlow)
}

func TestServiceCreateRequiresName(t *testing.T) {
	svc := newTestService(t, NewMemoryStore(), &stubSource{}, &stubDirectory{})

	_, err := svc.Create(context.Background(), GroupSpec{OwnerID: 1})
	require.Error(t, err)
}

func TestServiceWrapsStorageFailures(t *testing.T) {
	store := &failingStore{err: errors.New("connection reset")}
	svc := newTestService(t, store, &stubSource{}, &stubDirectory{})

	_, err := svc.Get(context.Background(), 1)
	require.ErrorIs(t, err, ErrInternal)
	require.NotContains(t, err.Error(), "connection reset")
}

func TestServiceDeleteMissingGroup(t *testing.T) {
	svc := newTestService(t, NewMemoryStore(), &stubSource{}, &stubDirectory{})

	err := svc.Delete(context.Background(), 404)
	require.ErrorIs(t, err, ErrGroupNotFound)
}

// failingStore fails every operation with the same error.
type failingStore struct{ err error }

func (f *failingStore) Get(context.Context, int64) (*Group, error)             { return nil, f.err }
func (f *failingStore) ListByOwner(context.Context, int64) ([]Group, error)    { return nil, f.err }
func (f *failingStore) ListByEntity(context.Context, int64) ([]Group, error)   { return nil, f.err }
func (f *failingStore) Create(context.Context, GroupSpec) (*Group, error)      { return nil, f.err }
func (f *failingStore) Update(context.Context, int64, GroupUpdate) (*Group, error) {
	return nil, f.err
}
func (f *failingStore) Delete(context.Context, int64) error              { return f.err }
func (f *failingStore) AddEntity(context.Context, int64, int64) error    { return f.err }
func (f *failingStore) RemoveEntity(context.Context, int64, int64) error { return f.err }
func (f *failingStore) TouchLastRun(context.Context, int64, time.Time) error {
	return f.err
}
func (f *failingStore) ListActiveGroupIDs(context.Context) ([]int64, error) { return nil, f.err }

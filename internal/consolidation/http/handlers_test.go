package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/consolidation"
	"github.com/ledgerline/ledgerline/internal/observability"
)

type fixedSource struct {
	mu            sync.Mutex
	trialBalances map[int64]*consolidation.TrialBalance
	balanceSheets map[int64]*consolidation.BalanceSheet
	calls         int
}

func (s *fixedSource) generated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fixedSource) BalanceSheet(_ context.Context, entityID int64, _ time.Time) (*consolidation.BalanceSheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if bs, ok := s.balanceSheets[entityID]; ok {
		return bs, nil
	}
	return &consolidation.BalanceSheet{}, nil
}

func (s *fixedSource) IncomeStatement(context.Context, int64, time.Time, time.Time) (*consolidation.IncomeStatement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &consolidation.IncomeStatement{}, nil
}

func (s *fixedSource) CashFlow(context.Context, int64, time.Time, time.Time) (*consolidation.CashFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &consolidation.CashFlow{}, nil
}

func (s *fixedSource) TrialBalance(_ context.Context, entityID int64, _, _ time.Time) (*consolidation.TrialBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if tb, ok := s.trialBalances[entityID]; ok {
		return tb, nil
	}
	return &consolidation.TrialBalance{}, nil
}

type fixedDirectory struct{}

func (fixedDirectory) GetEntity(context.Context, int64) (*consolidation.Entity, error) {
	return nil, nil
}

type testEnv struct {
	router  chi.Router
	store   *consolidation.MemoryStore
	source  *fixedSource
	service *consolidation.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := consolidation.NewMemoryStore()
	source := &fixedSource{
		trialBalances: map[int64]*consolidation.TrialBalance{},
		balanceSheets: map[int64]*consolidation.BalanceSheet{},
	}
	service := consolidation.NewService(store, fixedDirectory{}, source, logger)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := consolidation.NewViewCache(client, time.Minute)

	handler := NewHandler(logger, service, cache, observability.NewMetrics())
	router := chi.NewRouter()
	handler.MountRoutes(router)
	return &testEnv{router: router, store: store, source: source, service: service}
}

func (env *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) createGroup(t *testing.T, entityIDs ...int64) consolidation.Group {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/consolidation/groups", map[string]any{
		"name":       "Holdings",
		"owner_id":   1,
		"entity_ids": entityIDs,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var group consolidation.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &group))
	return group
}

func TestCreateGroup(t *testing.T) {
	env := newTestEnv(t)

	group := env.createGroup(t, 1, 2)
	require.Equal(t, "Holdings", group.Name)
	require.Equal(t, []int64{1, 2}, group.EntityIDs)
	require.Equal(t, "USD", group.Currency)
	require.True(t, group.IsActive)
}

func TestCreateGroupValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"owner_id": 1}},
		{"missing owner", map[string]any{"name": "G"}},
		{"bad currency", map[string]any{"name": "G", "owner_id": 1, "currency": "EURO"}},
		{"bad period type", map[string]any{"name": "G", "owner_id": 1, "period_type": "weekly"}},
		{"bad date layout", map[string]any{"name": "G", "owner_id": 1, "start_date": "31-12-2025"}},
		{"non-positive member", map[string]any{"name": "G", "owner_id": 1, "entity_ids": []int64{0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/consolidation/groups", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestGetGroupNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups/42", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestGetGroupBadID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups/abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateGroup(t *testing.T) {
	env := newTestEnv(t)
	group := env.createGroup(t, 1, 2)

	rec := env.do(t, http.MethodPut, "/api/consolidation/groups/1", map[string]any{
		"name":       "Renamed",
		"entity_ids": []int64{3, 4},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated consolidation.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, group.ID, updated.ID)
	require.Equal(t, "Renamed", updated.Name)
	require.Equal(t, []int64{3, 4}, updated.EntityIDs)
}

func TestUpdateGroupNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/consolidation/groups/7", map[string]any{"name": "X"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteGroup(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t)

	rec := env.do(t, http.MethodDelete, "/api/consolidation/groups/1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/consolidation/groups/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntityMembershipEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, 1)

	rec := env.do(t, http.MethodPost, "/api/consolidation/groups/1/entities/2", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/entities/2/consolidation-groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var groups []consolidation.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	require.Equal(t, []int64{1, 2}, groups[0].EntityIDs)

	rec = env.do(t, http.MethodDelete, "/api/consolidation/groups/1/entities/2", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/entities/2/consolidation-groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Empty(t, groups)
}

func TestAddEntityMissingGroup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/consolidation/groups/9/entities/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListByOwner(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, 1)

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups?owner=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var groups []consolidation.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)

	rec = env.do(t, http.MethodGet, "/api/consolidation/groups", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "owner parameter is required")
}

func TestReportEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, 1, 2)
	env.source.trialBalances[1] = &consolidation.TrialBalance{
		Items:       []consolidation.TrialBalanceLine{{AccountCode: "1000", AccountName: "Cash", Debit: 500}},
		TotalDebits: 500,
	}
	env.source.trialBalances[2] = &consolidation.TrialBalance{
		Items:        []consolidation.TrialBalanceLine{{AccountCode: "1000", AccountName: "Cash", Debit: 300, Credit: 50}},
		TotalDebits:  300,
		TotalCredits: 50,
	}

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups/1/reports/trial_balance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report consolidation.ConsolidatedReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, []int64{1, 2}, report.Entities)
	require.NotNil(t, report.TrialBalance)
	require.Equal(t, 750.0, report.TrialBalance.Items[0].Balance)

	// Served from the view cache on repeat.
	generated := env.source.generated()
	rec = env.do(t, http.MethodGet, "/api/consolidation/groups/1/reports/trial_balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, generated, env.source.generated())
}

func TestReportEndpointEmptyGroup(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t)

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups/1/reports/balance_sheet", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestReportEndpointUnsupportedType(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, 1)

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups/1/reports/general_ledger", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportEndpointBadDate(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, 1)

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups/1/reports/trial_balance?start=2025-13-01", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportEndpointMissingGroup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups/5/reports/trial_balance", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMutationInvalidatesReportCache(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, 1)

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups/1/reports/trial_balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	generated := env.source.generated()

	rec = env.do(t, http.MethodPost, "/api/consolidation/groups/1/entities/2", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/consolidation/groups/1/reports/trial_balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Greater(t, env.source.generated(), generated, "membership change must bust the cache")
}

func TestReportCSVExport(t *testing.T) {
	env := newTestEnv(t)
	env.createGroup(t, 1)
	env.source.trialBalances[1] = &consolidation.TrialBalance{
		Items:        []consolidation.TrialBalanceLine{{AccountCode: "1000", AccountName: "Cash", Debit: 1234.5, Credit: 34.5}},
		TotalDebits:  1234.5,
		TotalCredits: 34.5,
	}

	rec := env.do(t, http.MethodGet, "/api/consolidation/groups/1/reports/trial_balance/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "consolidated_trial_balance.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Contains(t, lines[0], "Account Code,Account Name,Debit,Credit,Balance")
	require.Contains(t, lines[1], `1000,Cash,"1,234.50",34.50,"1,200.00"`)
	require.Contains(t, lines[2], "Totals")
}

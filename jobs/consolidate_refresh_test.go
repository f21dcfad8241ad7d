package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/consolidation"
)

type fakeGenerator struct {
	generated []int64
	errs      map[int64]error
}

func (g *fakeGenerator) Generate(_ context.Context, groupID int64, reportType consolidation.ReportType, start, end *time.Time) (*consolidation.ConsolidatedReport, error) {
	g.generated = append(g.generated, groupID)
	if err := g.errs[groupID]; err != nil {
		return nil, err
	}
	return &consolidation.ConsolidatedReport{GroupID: groupID, ReportType: reportType}, nil
}

type fakeLister struct {
	ids []int64
	err error
}

func (l *fakeLister) ListActiveGroupIDs(context.Context) ([]int64, error) {
	return l.ids, l.err
}

type fakeBuster struct{ bumps int }

func (b *fakeBuster) Bump(context.Context) error {
	b.bumps++
	return nil
}

func newRefreshJob(generator *fakeGenerator, lister *fakeLister, buster *fakeBuster) *ConsolidateRefreshJob {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewConsolidateRefreshJob(generator, lister, buster, logger, nil)
}

func refreshTask(t *testing.T, groupID string) *asynq.Task {
	t.Helper()
	task, err := NewConsolidateRefreshTask(groupID)
	require.NoError(t, err)
	return task
}

func TestConsolidateRefreshAllGroups(t *testing.T) {
	generator := &fakeGenerator{}
	lister := &fakeLister{ids: []int64{1, 2, 3}}
	buster := &fakeBuster{}
	job := newRefreshJob(generator, lister, buster)

	err := job.Handle(context.Background(), refreshTask(t, "all"))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, generator.generated)
	require.Equal(t, 1, buster.bumps)
}

func TestConsolidateRefreshSingleGroup(t *testing.T) {
	generator := &fakeGenerator{}
	lister := &fakeLister{ids: []int64{1, 2, 3}}
	job := newRefreshJob(generator, lister, &fakeBuster{})

	err := job.Handle(context.Background(), refreshTask(t, "2"))
	require.NoError(t, err)
	require.Equal(t, []int64{2}, generator.generated)
}

func TestConsolidateRefreshSkipsEmptyGroups(t *testing.T) {
	generator := &fakeGenerator{errs: map[int64]error{
		2: consolidation.ErrEmptyGroup,
	}}
	lister := &fakeLister{ids: []int64{1, 2, 3}}
	buster := &fakeBuster{}
	job := newRefreshJob(generator, lister, buster)

	err := job.Handle(context.Background(), refreshTask(t, "all"))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, generator.generated)
	require.Equal(t, 1, buster.bumps)
}

func TestConsolidateRefreshAbortsOnFailure(t *testing.T) {
	boom := errors.New("report source down")
	generator := &fakeGenerator{errs: map[int64]error{2: boom}}
	lister := &fakeLister{ids: []int64{1, 2, 3}}
	buster := &fakeBuster{}
	job := newRefreshJob(generator, lister, buster)

	err := job.Handle(context.Background(), refreshTask(t, "all"))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int64{1, 2}, generator.generated, "remaining groups stay untouched")
	require.Zero(t, buster.bumps, "failed runs must not invalidate the cache")
}

func TestConsolidateRefreshInvalidScope(t *testing.T) {
	job := newRefreshJob(&fakeGenerator{}, &fakeLister{}, &fakeBuster{})

	err := job.Handle(context.Background(), refreshTask(t, "not-a-number"))
	require.Error(t, err)
}

func TestConsolidateRefreshBadPayload(t *testing.T) {
	job := newRefreshJob(&fakeGenerator{}, &fakeLister{}, &fakeBuster{})

	task := asynq.NewTask(TaskConsolidateRefresh, []byte("{not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestConsolidateRefreshDefaultsToAll(t *testing.T) {
	generator := &fakeGenerator{}
	lister := &fakeLister{ids: []int64{9}}
	job := newRefreshJob(generator, lister, &fakeBuster{})

	err := job.Handle(context.Background(), refreshTask(t, ""))
	require.NoError(t, err)
	require.Equal(t, []int64{9}, generator.generated)
}

func TestConsolidateRefreshNoGroups(t *testing.T) {
	generator := &fakeGenerator{}
	job := newRefreshJob(generator, &fakeLister{}, &fakeBuster{})

	err := job.Handle(context.Background(), refreshTask(t, "all"))
	require.NoError(t, err)
	require.Empty(t, generator.generated)
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerline/ledgerline/internal/consolidation"
	jobmetrics "github.com/ledgerline/ledgerline/internal/jobs"
)

const (
	// TaskConsolidateRefresh schedules the consolidation refresh routine.
	TaskConsolidateRefresh = "consol:refresh"
)

// ConsolidateRefreshPayload configures the scope of the refresh job.
// GroupID is a numeric id or "all".
type ConsolidateRefreshPayload struct {
	GroupID string `json:"group_id"`
}

// ReportGenerator regenerates a consolidated report, touching last_run.
type ReportGenerator interface {
	Generate(ctx context.Context, groupID int64, reportType consolidation.ReportType, start, end *time.Time) (*consolidation.ConsolidatedReport, error)
}

// GroupLister enumerates the groups eligible for a refresh.
type GroupLister interface {
	ListActiveGroupIDs(ctx context.Context) ([]int64, error)
}

// CacheBuster invalidates cached consolidated views after a refresh.
type CacheBuster interface {
	Bump(ctx context.Context) error
}

// ConsolidateRefreshJob coordinates the refresh workflow: it re-runs the
// trial-balance consolidation for each target group so last_run stays
// current and cached views never outlive a refresh cycle.
type ConsolidateRefreshJob struct {
	Generator ReportGenerator
	Groups    GroupLister
	Cache     CacheBuster
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewConsolidateRefreshJob constructs the job handler.
func NewConsolidateRefreshJob(generator ReportGenerator, groups GroupLister, cache CacheBuster, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsolidateRefreshJob {
	return &ConsolidateRefreshJob{
		Generator: generator,
		Groups:    groups,
		Cache:     cache,
		Logger:    logger,
		Metrics:   metrics,
	}
}

// NewConsolidateRefreshTask creates an Asynq task for refreshing
// consolidated reports.
func NewConsolidateRefreshTask(groupID string) (*asynq.Task, error) {
	if groupID == "" {
		groupID = "all"
	}
	body, err := json.Marshal(ConsolidateRefreshPayload{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolidateRefresh, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the consolidate refresh job.
func (j *ConsolidateRefreshJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Generator == nil || j.Groups == nil {
		return errors.New("consolidate refresh: dependencies not configured")
	}
	var payload ConsolidateRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.GroupID == "" {
		payload.GroupID = "all"
	}

	tracker := j.metrics().Track(TaskConsolidateRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	groupIDs, err := j.resolveGroups(ctx, payload.GroupID)
	if err != nil {
		resultErr = err
		j.log().Error("resolve groups", slog.String("group", payload.GroupID), slog.Any("error", err))
		return resultErr
	}
	if len(groupIDs) == 0 {
		j.log().Info("no consolidation groups discovered")
		return resultErr
	}

	start := time.Now()
	refreshed := 0
	for _, groupID := range groupIDs {
		_, err := j.Generator.Generate(ctx, groupID, consolidation.ReportTrialBalance, nil, nil)
		if err != nil {
			// Groups without members are skippable, not failures.
			if errors.Is(err, consolidation.ErrEmptyGroup) {
				j.log().Info("skipping empty group", slog.Int64("group_id", groupID))
				continue
			}
			resultErr = err
			j.log().Error("refresh consolidation", slog.Int64("group_id", groupID), slog.Any("error", err))
			return resultErr
		}
		refreshed++
	}

	if j.Cache != nil {
		if err := j.Cache.Bump(ctx); err != nil {
			j.log().Warn("bust consolidation view cache", slog.Any("error", err))
		}
	}

	j.log().Info("refreshed consolidated reports",
		slog.Int("groups", refreshed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *ConsolidateRefreshJob) resolveGroups(ctx context.Context, scope string) ([]int64, error) {
	if scope != "all" {
		id, err := strconv.ParseInt(scope, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New("consolidate refresh: invalid group scope")
		}
		return []int64{id}, nil
	}
	return j.Groups.ListActiveGroupIDs(ctx)
}

func (j *ConsolidateRefreshJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *ConsolidateRefreshJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

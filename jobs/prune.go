package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/northwind-digital/agency/internal/jobs"
)

// UnconfirmedPruner deletes accounts left unverified.
type UnconfirmedPruner interface {
	DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error)
}

// PruneJob handles TaskPruneUnconfirmed.
type PruneJob struct {
	repo    UnconfirmedPruner
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewPruneJob constructs the handler.
func NewPruneJob(repo UnconfirmedPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *PruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneJob{repo: repo, logger: logger, metrics: metrics, now: time.Now}
}

// Handle removes unconfirmed accounts older than the payload threshold.
func (j *PruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskPruneUnconfirmed)
	var payload PrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.OlderThanHours <= 0 {
		return tracker.End(fmt.Errorf("jobs: malformed prune payload: %w", asynq.SkipRetry))
	}
	before := j.now().Add(-time.Duration(payload.OlderThanHours) * time.Hour)
	n, err := j.repo.DeleteUnconfirmedBefore(ctx, before)
	if err != nil {
		return tracker.End(err)
	}
	j.metrics.AddItems(TaskPruneUnconfirmed, n)
	if n > 0 {
		j.logger.Info("pruned unconfirmed accounts", slog.Int64("count", n))
	}
	return tracker.End(nil)
}

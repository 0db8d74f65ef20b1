package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Bumper invalidates cached grants and notifies every server instance.
type Bumper interface {
	Bump(ctx context.Context, companyID int64) error
}

// InvalidateJob handles TaskAccessInvalidate.
type InvalidateJob struct {
	Bumper  Bumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewInvalidateJob wires dependencies for the invalidation handler.
func NewInvalidateJob(bumper Bumper, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvalidateJob {
	return &InvalidateJob{Bumper: bumper, Logger: logger, Metrics: metrics}
}

// Handle processes access invalidation tasks.
func (j *InvalidateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Bumper == nil {
		return errors.New("access invalidate: handler not configured")
	}
	var payload AccessInvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.CompanyID < 0 {
		j.logger().Warn("discarding malformed task", slog.String("payload", string(t.Payload())))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAccessInvalidate)
	err := j.Bumper.Bump(ctx, payload.CompanyID)
	if err != nil {
		j.logger().Error("bump access cache",
			slog.Int64("company_id", payload.CompanyID),
			slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddInvalidation(payload.CompanyID)
	j.logger().Info("access cache invalidated",
		slog.Int64("company_id", payload.CompanyID),
		slog.String("reason", payload.Reason))
	return tracker.End(nil)
}

func (j *InvalidateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAccessInvalidate))
	}
	return slog.Default().With(slog.String("job", TaskAccessInvalidate))
}

func (j *InvalidateJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

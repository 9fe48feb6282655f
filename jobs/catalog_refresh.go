package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/purchasing/internal/catalog"
	jobmetrics "github.com/odyssey-erp/purchasing/internal/jobs"
)

// CatalogRefresher is the catalog store seen by the refresh job.
type CatalogRefresher interface {
	Invalidate(ctx context.Context) error
	Refresh(ctx context.Context) (catalog.Snapshot, error)
}

// CatalogRefreshJob drops the shared catalog cache and reloads it from the
// backend so stock levels changed by completed purchases become visible.
type CatalogRefreshJob struct {
	Catalog CatalogRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCatalogRefreshJob wires dependencies for the refresh handler.
func NewCatalogRefreshJob(store CatalogRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogRefreshJob {
	return &CatalogRefreshJob{Catalog: store, Logger: logger, Metrics: metrics}
}

// Handle processes catalog refresh tasks.
func (j *CatalogRefreshJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Catalog == nil {
		return errors.New("catalog refresh: handler not configured")
	}
	var payload CatalogRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskCatalogRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("reason", payload.Reason))
	if err := j.Catalog.Invalidate(ctx); err != nil {
		// the reload below still replaces the local copy
		logger.Warn("invalidate catalog cache", slog.Any("error", err))
	}
	snap, err := j.Catalog.Refresh(ctx)
	if err != nil {
		logger.Error("refresh catalog", slog.Any("error", err))
		return err
	}
	products, suppliers := snap.Counts()
	j.Metrics.SetCatalogSize(products, suppliers)
	logger.Info("catalog refreshed", slog.Int("products", products), slog.Int("suppliers", suppliers))
	return nil
}

func (j *CatalogRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

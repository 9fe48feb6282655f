package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/purchasing/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := newTask(name)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
}

func newTask(name string) (*asynq.Task, error) {
	switch name {
	case jobs.TaskCatalogRefresh:
		return jobs.NewCatalogRefreshTask("manual")
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}
